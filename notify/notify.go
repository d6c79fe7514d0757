// Package notify is the contract between workflow services and the
// notification fan-out. Services describe what happened; the fan-out decides
// how it is stored and delivered.
package notify

import (
	"context"

	"estateflow/role"
)

// Purpose tags why a notification exists.
type Purpose string

const (
	PurposeUserRegistered        Purpose = "user_registered"
	PurposeRoleRequest           Purpose = "role_request"
	PurposeAgentApproved         Purpose = "agent_approved"
	PurposeAgentRejected         Purpose = "agent_rejected"
	PurposePropertyCreated       Purpose = "property_created"
	PurposePropertyUpdated       Purpose = "property_updated"
	PurposePropertyDeleted       Purpose = "property_deleted"
	PurposePropertyStatusChanged Purpose = "property_status_changed"
	PurposePropertyApproved      Purpose = "property_approved"
	PurposePropertySold          Purpose = "property_sold"
	PurposePropertyListed        Purpose = "property_listed"
	PurposeDealRequest           Purpose = "deal_request"
)

var purposes = map[Purpose]struct{}{
	PurposeUserRegistered:        {},
	PurposeRoleRequest:           {},
	PurposeAgentApproved:         {},
	PurposeAgentRejected:         {},
	PurposePropertyCreated:       {},
	PurposePropertyUpdated:       {},
	PurposePropertyDeleted:       {},
	PurposePropertyStatusChanged: {},
	PurposePropertyApproved:      {},
	PurposePropertySold:          {},
	PurposePropertyListed:        {},
	PurposeDealRequest:           {},
}

func (p Purpose) Valid() bool {
	_, ok := purposes[p]
	return ok
}

// Channel selects the delivery medium.
type Channel string

const (
	ChannelInApp Channel = "in-app"
	ChannelEmail Channel = "email"
)

func (c Channel) Valid() bool {
	return c == ChannelInApp || c == ChannelEmail
}

// Related model names used on notifications.
const (
	ModelUser     = "User"
	ModelAgent    = "Agent"
	ModelProperty = "Property"
)

// Request describes one notification to persist and deliver.
type Request struct {
	UserID       string
	Message      string
	Channel      Channel
	AllowedRoles role.Set
	Purpose      Purpose
	RelatedID    string
	RelatedModel string
}

// Sender persists a notification and schedules its delivery.
type Sender interface {
	Notify(ctx context.Context, req Request) error
}

// Discard is a Sender that drops every request.
type Discard struct{}

func (Discard) Notify(context.Context, Request) error { return nil }

package notification

import (
	"context"
	"time"

	"estateflow/notify"
	"estateflow/role"
)

// Recipient is the display identity of the addressed user, copied at send
// time. Later profile edits do not change stored notifications.
type Recipient struct {
	FirstName     string
	LastName      string
	Roles         role.Set
	ProfilePhotos []string
}

type Notification struct {
	ID           string
	UserID       string
	Message      string
	Channel      notify.Channel
	AllowedRoles role.Set
	Purpose      notify.Purpose
	RelatedID    string
	RelatedModel string
	Recipient    Recipient
	CreatedAt    time.Time
}

// Query selects notifications addressed to UserID. CallerRoles and
// RelatedModel narrow the result when set.
type Query struct {
	UserID       string
	CallerRoles  role.Set
	RelatedModel string
	Page         int
	PageSize     int
}

type ListResult struct {
	Items []Notification
	Total int
}

// Delivery is what a sink receives. Email is resolved at send time and is
// not persisted with the notification.
type Delivery struct {
	Notification Notification
	Email        string
}

// Deliverer hands a persisted notification to a push medium.
type Deliverer interface {
	Deliver(ctx context.Context, d Delivery) error
}

package property

import (
	"strings"
	"time"
)

// ListingType is what the owner offers. It decides the proposal cap.
type ListingType string

const (
	TypeSale ListingType = "sale"
	TypeRent ListingType = "rent"
	TypeSold ListingType = "sold"
)

func (t ListingType) Valid() bool {
	return t == TypeSale || t == TypeRent || t == TypeSold
}

// Status is the moderation state. Only admins change it.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusInactive, StatusSuspended:
		return true
	}
	return false
}

type DealStatus string

const (
	DealPending  DealStatus = "pending"
	DealAccepted DealStatus = "accepted"
	DealRejected DealStatus = "rejected"
)

const (
	MaxImages   = 12
	RentDealCap = 2
	DealCap     = 4
)

// ProposalCap is the number of outstanding proposals a listing accepts.
func ProposalCap(t ListingType) int {
	if t == TypeRent {
		return RentDealCap
	}
	return DealCap
}

// Deal is one agent proposal. The contact fields are copied from the agent's
// directory entry when the proposal is sent and are not refreshed.
type Deal struct {
	AgentID        string     `json:"agentId"`
	CommissionRate float64    `json:"commissionRate"`
	Terms          string     `json:"terms,omitempty"`
	Status         DealStatus `json:"status"`
	FirstName      string     `json:"firstName,omitempty"`
	LastName       string     `json:"lastName,omitempty"`
	Phone          string     `json:"phone,omitempty"`
	ProfilePhotos  []string   `json:"profilePhotos"`
	RequestedAt    time.Time  `json:"requestedAt"`
}

// outstanding reports whether the proposal counts against the cap.
func (d Deal) outstanding() bool {
	return d.Status != DealRejected
}

// Details is the owner-editable part of a listing.
type Details struct {
	Title         string
	Description   string
	Price         float64
	Currency      string
	Area          float64
	Bedrooms      int
	Bathrooms     int
	ParkingSpaces int
	FloorNumber   int
	IsFurnished   bool
	Type          ListingType
	PropertyType  string
	RentPeriod    string
	Address       string
	City          string
	State         string
	Country       string
	Amenities     []string
	ContactName   string
	ContactEmail  string
	ContactNumber string
}

type Property struct {
	ID        string
	OwnerID   string
	Details   Details
	Status    Status
	Images    []string
	Deals     []Deal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OutstandingDeals counts proposals that are not rejected.
func (p Property) OutstandingDeals() int {
	n := 0
	for _, d := range p.Deals {
		if d.outstanding() {
			n++
		}
	}
	return n
}

// DealRequest is what an agent submits.
type DealRequest struct {
	CommissionRate float64
	Terms          string
}

// Filters narrows Search. Zero values mean "any".
type Filters struct {
	OwnerID      string
	Type         ListingType
	Status       Status
	PropertyType string
	City         string
	MinPrice     float64
	MaxPrice     float64
	MinArea      float64
	MaxArea      float64
	MinBedrooms  int
	MinBathrooms int
	Page         int
	PageSize     int
	SortKey      string
	SortOrder    string
}

type ListResult struct {
	Items []Property
	Total int
}

func normalizeFilters(f Filters) Filters {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 100 {
		f.PageSize = 20
	}
	return f
}

func sortOrder(order string) string {
	if strings.EqualFold(order, "asc") {
		return "ASC"
	}
	return "DESC"
}

func mapSortKey(key string) string {
	switch key {
	case "price":
		return "price"
	case "area":
		return "area"
	case "updatedAt":
		return "updated_at"
	case "createdAt":
		fallthrough
	default:
		return "created_at"
	}
}

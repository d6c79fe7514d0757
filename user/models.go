package user

import (
	"strings"
	"time"

	"estateflow/role"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusBanned   Status = "banned"
)

// User is the domain representation of a directory entry. It mirrors the
// users table and carries no JSON annotations so presentation layers can
// shape it as they need.
type User struct {
	ID            string
	Email         string
	PasswordHash  string
	FirstName     string
	LastName      string
	Phone         string
	ProfilePhotos []string
	Roles         role.Set
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FullName joins first and last name, skipping empty parts.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Actor returns the caller identity for u.
func (u User) Actor() role.Actor {
	return role.Actor{UserID: u.ID, Roles: u.Roles}
}

// RegisterRequest contains self-service sign-up data.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Filters struct {
	Role  role.Role
	Email string
	Name  string
	// CreatedAfter keeps users created at or after this instant when set.
	CreatedAfter time.Time
	Page      int
	PageSize  int
	SortKey   string
	SortOrder string
}

// ProfileUpdate carries the self-editable profile fields. Nil fields keep
// their stored value; a non-nil empty ProfilePhotos clears the photos.
type ProfileUpdate struct {
	FirstName     *string  `json:"firstName,omitempty"`
	LastName      *string  `json:"lastName,omitempty"`
	Phone         *string  `json:"phone,omitempty"`
	ProfilePhotos []string `json:"profilePhotos,omitempty"`
}

func (p ProfileUpdate) empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Phone == nil && p.ProfilePhotos == nil
}

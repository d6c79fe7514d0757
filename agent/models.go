package agent

import (
	"fmt"
	"time"

	"estateflow/apperr"
	"estateflow/user"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

type Specialization string

const (
	SpecLuxuryHomes          Specialization = "Luxury Homes"
	SpecNewConstructions     Specialization = "New Constructions"
	SpecInvestmentProperties Specialization = "Investment Properties"
	SpecVacationRentals      Specialization = "Vacation/Short-term Rentals"
	SpecSeniorCommunities    Specialization = "Senior Communities"
	SpecLotLand              Specialization = "Lot/Land"
)

var specializations = map[Specialization]struct{}{
	SpecLuxuryHomes:          {},
	SpecNewConstructions:     {},
	SpecInvestmentProperties: {},
	SpecVacationRentals:      {},
	SpecSeniorCommunities:    {},
	SpecLotLand:              {},
}

// Employees is the size tier an agent works in.
type Employees string

const (
	EmployeesSelf   Employees = "self"
	EmployeesTeam   Employees = "team"
	EmployeesAgency Employees = "agency"
)

type Badge string

const (
	BadgeTopRated Badge = "Top Rated"
	BadgePro      Badge = "Pro"
	BadgeVerified Badge = "Verified"
)

var ErrInvalidDetails = apperr.New(apperr.KindBadRequest, "agent: invalid details")

// Details is the self-described profile submitted with a request.
type Details struct {
	Specializations []Specialization
	Employees       Employees
	Badges          []Badge
	Bio             string
}

// Validate checks every enum field and fills the employees default.
func (d *Details) Validate() error {
	for _, s := range d.Specializations {
		if _, ok := specializations[s]; !ok {
			return fmt.Errorf("%w: specialization %q", ErrInvalidDetails, s)
		}
	}
	switch d.Employees {
	case "":
		d.Employees = EmployeesSelf
	case EmployeesSelf, EmployeesTeam, EmployeesAgency:
	default:
		return fmt.Errorf("%w: employees %q", ErrInvalidDetails, d.Employees)
	}
	for _, b := range d.Badges {
		switch b {
		case BadgeTopRated, BadgePro, BadgeVerified:
		default:
			return fmt.Errorf("%w: badge %q", ErrInvalidDetails, b)
		}
	}
	return nil
}

// Agent is one onboarding record. License is empty until approval.
type Agent struct {
	ID        string
	UserID    string
	Status    Status
	License   string
	Balance   float64
	Details   Details
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WithUser pairs an approved agent with its directory entry.
type WithUser struct {
	Agent Agent
	User  user.User
}

type ListResult struct {
	Items []Agent
	Total int
}

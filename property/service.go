package property

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"estateflow/apperr"
	"estateflow/logger"
	"estateflow/metrics"
	"estateflow/notify"
	"estateflow/role"
	"estateflow/storage"
	"estateflow/user"
)

var (
	ErrSellerOnly     = apperr.New(apperr.KindForbidden, "property: seller or admin role required")
	ErrNotOwner       = apperr.New(apperr.KindForbidden, "property: only the owner or an admin may modify this listing")
	ErrAdminOnly      = apperr.New(apperr.KindForbidden, "property: admin role required")
	ErrInvalidDetails = apperr.New(apperr.KindBadRequest, "property: invalid details")
)

// Directory resolves directory entries for proposal snapshots.
type Directory interface {
	GetByID(ctx context.Context, userID string) (user.User, error)
}

// Service runs the listing lifecycle and deal negotiation. Committed
// transitions are reported to the notifier; a notifier failure comes back
// alongside the committed record.
type Service struct {
	repo        Repository
	uploader    storage.Uploader
	users       Directory
	notifier    notify.Sender
	log         logger.Logger
	idGenerator func() string
}

func NewService(repo Repository, uploader storage.Uploader, users Directory, notifier notify.Sender, log logger.Logger) *Service {
	return &Service{
		repo:        repo,
		uploader:    uploader,
		users:       users,
		notifier:    notifier,
		log:         log,
		idGenerator: uuid.NewString,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// Create lists a new property in moderation-pending state.
func (s *Service) Create(ctx context.Context, actor role.Actor, d Details) (Property, error) {
	if !actor.Roles.Has(role.Seller) && !actor.IsAdmin() {
		return Property{}, ErrSellerOnly
	}
	if err := validateDetails(&d); err != nil {
		return Property{}, err
	}

	p, err := s.repo.Create(ctx, Property{
		ID:      s.idGenerator(),
		OwnerID: actor.UserID,
		Details: d,
		Status:  StatusPending,
	})
	if err != nil {
		return Property{}, err
	}
	metrics.Transition("property", "created")

	return p, s.notify(ctx, p, notify.Request{
		UserID:       actor.UserID,
		Message:      fmt.Sprintf("Your property %q has been created and is awaiting review.", p.Details.Title),
		AllowedRoles: role.Set{role.Admin, role.Seller},
		Purpose:      notify.PurposePropertyCreated,
	})
}

// Update applies an owner patch. Keys outside the editable whitelist are
// rejected.
func (s *Service) Update(ctx context.Context, actor role.Actor, id string, patch map[string]interface{}) (Property, error) {
	if _, err := s.loadManaged(ctx, actor, id); err != nil {
		return Property{}, err
	}
	cols, err := compilePatch(patch)
	if err != nil {
		return Property{}, err
	}

	p, err := s.repo.Patch(ctx, id, cols)
	if err != nil {
		return Property{}, err
	}
	metrics.Transition("property", "updated")

	return p, s.notify(ctx, p, notify.Request{
		UserID:       p.OwnerID,
		Message:      fmt.Sprintf("Your property %q has been updated.", p.Details.Title),
		AllowedRoles: role.Set{},
		Purpose:      notify.PurposePropertyUpdated,
	})
}

// Delete removes the listing and then drops its stored images best-effort.
func (s *Service) Delete(ctx context.Context, actor role.Actor, id string) error {
	p, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	metrics.Transition("property", "deleted")
	s.discardFiles(ctx, p.ID, p.Images)

	return s.notify(ctx, p, notify.Request{
		UserID:       p.OwnerID,
		Message:      fmt.Sprintf("Property %q has been deleted.", p.Details.Title),
		AllowedRoles: role.Set{role.Admin},
		Purpose:      notify.PurposePropertyDeleted,
	})
}

func (s *Service) GetByID(ctx context.Context, id string) (Property, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Search(ctx context.Context, f Filters) (ListResult, error) {
	if f.Type != "" && !f.Type.Valid() {
		return ListResult{}, fmt.Errorf("%w: type %q", ErrInvalidDetails, f.Type)
	}
	if f.Status != "" && !f.Status.Valid() {
		return ListResult{}, fmt.Errorf("%w: %q", ErrInvalidStatus, f.Status)
	}
	items, total, err := s.repo.Search(ctx, f)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

// ListApproved is Search restricted to listings that passed moderation.
func (s *Service) ListApproved(ctx context.Context, f Filters) (ListResult, error) {
	f.Status = StatusActive
	return s.Search(ctx, f)
}

func (s *Service) ListByOwner(ctx context.Context, ownerID string, page, pageSize int) (ListResult, error) {
	return s.Search(ctx, Filters{OwnerID: ownerID, Page: page, PageSize: pageSize})
}

// loadManaged fetches the listing and checks the caller may modify it.
func (s *Service) loadManaged(ctx context.Context, actor role.Actor, id string) (Property, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Property{}, err
	}
	if p.OwnerID != actor.UserID && !actor.IsAdmin() {
		return Property{}, ErrNotOwner
	}
	return p, nil
}

func (s *Service) notify(ctx context.Context, p Property, req notify.Request) error {
	req.Channel = notify.ChannelInApp
	req.RelatedID = p.ID
	req.RelatedModel = notify.ModelProperty
	if err := s.notifier.Notify(ctx, req); err != nil {
		s.log.WithError(err).Error("property notification failed", map[string]interface{}{
			"property_id": p.ID,
			"purpose":     string(req.Purpose),
		})
		return fmt.Errorf("property: notify %s: %w", req.Purpose, err)
	}
	return nil
}

// discardFiles deletes stored files; failures are logged only.
func (s *Service) discardFiles(ctx context.Context, propertyID string, uris []string) {
	for _, uri := range uris {
		if err := s.uploader.Delete(ctx, uri); err != nil {
			s.log.WithError(err).Warn("stored image not deleted", map[string]interface{}{
				"property_id": propertyID,
				"uri":         uri,
			})
		}
	}
}

func validateDetails(d *Details) error {
	d.Title = strings.TrimSpace(d.Title)
	if d.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidDetails)
	}
	if d.Price < 0 || d.Area < 0 {
		return fmt.Errorf("%w: price and area must not be negative", ErrInvalidDetails)
	}
	if d.Price > maxPrice || d.Area > maxArea {
		return fmt.Errorf("%w: price or area out of range", ErrInvalidDetails)
	}
	for _, n := range []int{d.Bedrooms, d.Bathrooms, d.ParkingSpaces, d.FloorNumber} {
		if n < math.MinInt32 || n > math.MaxInt32 {
			return fmt.Errorf("%w: counts must fit a 32-bit integer", ErrInvalidDetails)
		}
	}
	if !d.Type.Valid() {
		return fmt.Errorf("%w: type %q", ErrInvalidDetails, d.Type)
	}
	if d.Currency == "" {
		d.Currency = "USD"
	}
	return nil
}

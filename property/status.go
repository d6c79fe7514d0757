package property

import (
	"context"
	"fmt"

	"estateflow/apperr"
	"estateflow/db"
	"estateflow/metrics"
	"estateflow/notify"
	"estateflow/role"
)

var (
	ErrInvalidStatus     = apperr.New(apperr.KindBadRequest, "property: unknown status")
	ErrNoOpTransition    = apperr.New(apperr.KindBadRequest, "property: status is already set to that value")
	ErrInvalidTransition = apperr.New(apperr.KindBadRequest, "property: status transition not allowed")
	// ErrStatusChanged signals that another admin moved the listing between
	// the read and the write.
	ErrStatusChanged = apperr.New(apperr.KindConflict, "property: status changed concurrently")
)

// transitions lists the moderation moves an admin may make. Pending is only
// ever left, never re-entered.
var transitions = map[Status][]Status{
	StatusPending:   {StatusActive},
	StatusActive:    {StatusInactive, StatusSuspended},
	StatusInactive:  {StatusActive, StatusSuspended},
	StatusSuspended: {StatusActive, StatusInactive},
}

func canTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// UpdateStatus is the admin moderation action.
func (s *Service) UpdateStatus(ctx context.Context, actor role.Actor, id string, next Status) (Property, error) {
	if !actor.IsAdmin() {
		return Property{}, ErrAdminOnly
	}
	if !next.Valid() {
		return Property{}, fmt.Errorf("%w: %q", ErrInvalidStatus, next)
	}
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Property{}, err
	}
	if current.Status == next {
		return Property{}, fmt.Errorf("%w: %s", ErrNoOpTransition, next)
	}
	if !canTransition(current.Status, next) {
		return Property{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next)
	}

	updated, err := s.repo.CompareAndSetStatus(ctx, id, current.Status, next)
	if err != nil {
		return Property{}, err
	}
	metrics.Transition("property", string(current.Status)+"_to_"+string(next))
	s.log.Info("property status changed", map[string]interface{}{
		"property_id": id,
		"from":        string(current.Status),
		"to":          string(next),
		"admin_id":    actor.UserID,
	})

	return updated, s.notify(ctx, updated, notify.Request{
		UserID:       updated.OwnerID,
		Message:      fmt.Sprintf("The status of %q changed from %s to %s.", updated.Details.Title, current.Status, next),
		AllowedRoles: role.Set{role.Admin},
		Purpose:      notify.PurposePropertyStatusChanged,
	})
}

// CompareAndSetStatus moves the listing to next only while it is still in
// expected.
func (r *PGRepository) CompareAndSetStatus(ctx context.Context, id string, expected, next Status) (Property, error) {
	const updateSQL = `
		UPDATE properties SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING ` + propertyColumns

	p, err := scanProperty(r.pool.QueryRow(ctx, updateSQL, id, string(expected), string(next)))
	if err == nil {
		return p, nil
	}
	if !db.IsNoRows(err) {
		return Property{}, fmt.Errorf("property: set status: %w", err)
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return Property{}, err
	}
	return Property{}, ErrStatusChanged
}

package property

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"estateflow/apperr"
	"estateflow/db"
	"estateflow/metrics"
	"estateflow/notify"
	"estateflow/role"
)

var (
	ErrAgentOnly         = apperr.New(apperr.KindForbidden, "property: agent role required")
	ErrOwnerOnly         = apperr.New(apperr.KindForbidden, "property: only the owner may accept a deal")
	ErrDealCapReached    = apperr.New(apperr.KindBadRequest, "property: proposal limit reached")
	ErrDuplicateProposal = apperr.New(apperr.KindConflict, "property: agent already has an outstanding proposal")
	ErrDealNotFound      = apperr.New(apperr.KindNotFound, "property: no proposal from that agent")
	ErrInvalidCommission = apperr.New(apperr.KindBadRequest, "property: commission rate must be between 0 and 100")
)

// SendDealRequest appends a pending proposal from the calling agent. The
// agent's contact fields are copied into the proposal now.
func (s *Service) SendDealRequest(ctx context.Context, actor role.Actor, id string, req DealRequest) (Property, error) {
	if !actor.Roles.Has(role.Agent) {
		return Property{}, ErrAgentOnly
	}
	if req.CommissionRate < 0 || req.CommissionRate > 100 || math.IsNaN(req.CommissionRate) {
		return Property{}, ErrInvalidCommission
	}
	agent, err := s.users.GetByID(ctx, actor.UserID)
	if err != nil {
		return Property{}, err
	}

	p, err := s.repo.AppendDeal(ctx, id, Deal{
		AgentID:        agent.ID,
		CommissionRate: req.CommissionRate,
		Terms:          req.Terms,
		Status:         DealPending,
		FirstName:      agent.FirstName,
		LastName:       agent.LastName,
		Phone:          agent.Phone,
		ProfilePhotos:  append([]string{}, agent.ProfilePhotos...),
		RequestedAt:    time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, ErrDealCapReached) {
			metrics.CapRejected("deals")
		}
		return Property{}, err
	}
	metrics.Transition("deal", "requested")

	return p, s.notify(ctx, p, notify.Request{
		UserID:       p.OwnerID,
		Message:      fmt.Sprintf("New deal request for %q from agent %s.", p.Details.Title, agent.FullName()),
		AllowedRoles: role.Set{},
		Purpose:      notify.PurposeDealRequest,
	})
}

// AcceptDeal marks the agent's proposal accepted. Other proposals keep their
// status.
func (s *Service) AcceptDeal(ctx context.Context, actor role.Actor, id, agentID string) (Property, error) {
	changed := false
	p, err := s.repo.UpdateDeals(ctx, id, func(p *Property) error {
		if p.OwnerID != actor.UserID {
			return ErrOwnerOnly
		}
		for i := range p.Deals {
			d := &p.Deals[i]
			if d.AgentID != agentID || d.Status == DealRejected {
				continue
			}
			if d.Status != DealAccepted {
				d.Status = DealAccepted
				changed = true
			}
			return nil
		}
		return ErrDealNotFound
	})
	if err != nil {
		return Property{}, err
	}
	if changed {
		metrics.Transition("deal", "accepted")
		s.log.Info("deal accepted", map[string]interface{}{
			"property_id": id,
			"agent_id":    agentID,
		})
	}
	return p, nil
}

// AppendDeal adds d while the listing has room under its proposal cap and
// the agent has no outstanding proposal. The cap follows the listing type
// as stored, read in the same statement.
func (r *PGRepository) AppendDeal(ctx context.Context, id string, d Deal) (Property, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return Property{}, fmt.Errorf("property: encode deal: %w", err)
	}

	const updateSQL = `
		UPDATE properties
		SET deals = deals || jsonb_build_array($2::jsonb), updated_at = now()
		WHERE id = $1
		  AND (SELECT count(*) FROM jsonb_array_elements(deals) e WHERE e->>'status' <> 'rejected')
		      < CASE WHEN type = 'rent' THEN $4::int ELSE $5::int END
		  AND NOT EXISTS (
		      SELECT 1 FROM jsonb_array_elements(deals) e
		      WHERE e->>'agentId' = $3 AND e->>'status' <> 'rejected')
		RETURNING ` + propertyColumns

	p, err := scanProperty(r.pool.QueryRow(ctx, updateSQL, id, string(payload), d.AgentID, RentDealCap, DealCap))
	if err == nil {
		return p, nil
	}
	if !db.IsNoRows(err) {
		return Property{}, fmt.Errorf("property: append deal: %w", err)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return Property{}, err
	}
	for _, existing := range current.Deals {
		if existing.AgentID == d.AgentID && existing.outstanding() {
			return Property{}, ErrDuplicateProposal
		}
	}
	return Property{}, fmt.Errorf("%w: %d of %d", ErrDealCapReached, current.OutstandingDeals(), ProposalCap(current.Details.Type))
}

// UpdateDeals locks the listing, lets fn edit its proposals and writes them
// back in the same transaction. Nothing is written when fn fails.
func (r *PGRepository) UpdateDeals(ctx context.Context, id string, fn func(p *Property) error) (Property, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Property{}, fmt.Errorf("property: begin deal update: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := scanProperty(tx.QueryRow(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return Property{}, ErrPropertyNotFound
		}
		return Property{}, fmt.Errorf("property: lock for deal update: %w", err)
	}
	if err := fn(&p); err != nil {
		return Property{}, err
	}

	payload, err := json.Marshal(p.Deals)
	if err != nil {
		return Property{}, fmt.Errorf("property: encode deals: %w", err)
	}
	updated, err := scanProperty(tx.QueryRow(ctx,
		`UPDATE properties SET deals = $2::jsonb, updated_at = now() WHERE id = $1 RETURNING `+propertyColumns,
		id, string(payload)))
	if err != nil {
		return Property{}, fmt.Errorf("property: write deals: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Property{}, fmt.Errorf("property: commit deal update: %w", err)
	}
	return updated, nil
}

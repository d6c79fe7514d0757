package agent

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
	"estateflow/user"
)

var (
	ErrAdminOnly     = apperr.New(apperr.KindForbidden, "agent: admin role required")
	ErrInvalidAmount = apperr.New(apperr.KindBadRequest, "agent: commission amount must be a positive number")
)

// Directory resolves the user behind a request.
type Directory interface {
	GetByID(ctx context.Context, userID string) (user.User, error)
}

// Service drives agent onboarding. Every committed transition is reported to
// the notifier; a notifier failure is returned alongside the committed record.
type Service struct {
	repo        Repository
	users       Directory
	notifier    notify.Sender
	log         logger.Logger
	idGenerator func() string
	newLicense  func() string
}

func NewService(repo Repository, users Directory, notifier notify.Sender, log logger.Logger) *Service {
	return &Service{
		repo:        repo,
		users:       users,
		notifier:    notifier,
		log:         log,
		idGenerator: uuid.NewString,
		newLicense:  newLicense,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithLicenseGenerator(gen func() string) *Service {
	s.newLicense = gen
	return s
}

// newLicense returns 32 hex characters.
func newLicense() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// RequestAgent files a pending request for the calling user.
func (s *Service) RequestAgent(ctx context.Context, userID string, details Details) (Agent, error) {
	if err := details.Validate(); err != nil {
		return Agent{}, err
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return Agent{}, err
	}

	a, err := s.repo.Create(ctx, Agent{ID: s.idGenerator(), UserID: u.ID, Details: details})
	if err != nil {
		return Agent{}, err
	}
	metrics.Transition("agent", "requested")
	s.log.Info("agent requested", map[string]interface{}{
		"agent_id": a.ID,
		"user_id":  u.ID,
	})
	return a, nil
}

// ApproveAgent issues a license and grants the agent role.
func (s *Service) ApproveAgent(ctx context.Context, actor role.Actor, id string) (Agent, error) {
	if !actor.IsAdmin() {
		return Agent{}, ErrAdminOnly
	}
	a, err := s.repo.Approve(ctx, id, s.newLicense())
	if err != nil {
		return Agent{}, err
	}
	metrics.Transition("agent", "approved")
	s.log.Info("agent approved", map[string]interface{}{
		"agent_id": a.ID,
		"user_id":  a.UserID,
		"admin_id": actor.UserID,
	})

	return a, s.notify(ctx, a, notify.Request{
		UserID:       a.UserID,
		Message:      "Your agent request has been approved. License: " + a.License,
		AllowedRoles: role.Set{role.Agent},
		Purpose:      notify.PurposeAgentApproved,
	})
}

func (s *Service) RejectAgent(ctx context.Context, actor role.Actor, id string) (Agent, error) {
	if !actor.IsAdmin() {
		return Agent{}, ErrAdminOnly
	}
	a, err := s.repo.Reject(ctx, id)
	if err != nil {
		return Agent{}, err
	}
	metrics.Transition("agent", "rejected")

	return a, s.notify(ctx, a, notify.Request{
		UserID:       a.UserID,
		Message:      "Your agent request has been rejected.",
		AllowedRoles: role.Set{role.User},
		Purpose:      notify.PurposeAgentRejected,
	})
}

// CreateAgent lets an admin onboard a user directly, skipping the request.
func (s *Service) CreateAgent(ctx context.Context, actor role.Actor, userID string, details Details) (Agent, error) {
	if !actor.IsAdmin() {
		return Agent{}, ErrAdminOnly
	}
	if err := details.Validate(); err != nil {
		return Agent{}, err
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return Agent{}, err
	}

	a, err := s.repo.CreateApproved(ctx, Agent{
		ID:      s.idGenerator(),
		UserID:  userID,
		License: s.newLicense(),
		Details: details,
	})
	if err != nil {
		return Agent{}, err
	}
	metrics.Transition("agent", "created")
	return a, nil
}

// CreditCommission adds amount to the agent's balance.
func (s *Service) CreditCommission(ctx context.Context, id string, amount float64) (Agent, error) {
	if amount <= 0 || math.IsInf(amount, 0) || math.IsNaN(amount) {
		return Agent{}, ErrInvalidAmount
	}
	return s.repo.Credit(ctx, id, amount)
}

func (s *Service) GetByID(ctx context.Context, id string) (Agent, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByUserID(ctx context.Context, userID string) (Agent, error) {
	return s.repo.GetByUserID(ctx, userID)
}

func (s *Service) ListPending(ctx context.Context, page, pageSize int) (ListResult, error) {
	items, total, err := s.repo.ListByStatus(ctx, StatusPending, page, pageSize)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

func (s *Service) ListApprovedWithUsers(ctx context.Context, page, pageSize int) ([]WithUser, int, error) {
	return s.repo.ListApprovedWithUsers(ctx, page, pageSize)
}

// Update replaces the profile details. Owners edit their own record; admins
// edit any.
func (s *Service) Update(ctx context.Context, actor role.Actor, id string, details Details) (Agent, error) {
	if err := details.Validate(); err != nil {
		return Agent{}, err
	}
	if !actor.IsAdmin() {
		current, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return Agent{}, err
		}
		if current.UserID != actor.UserID {
			return Agent{}, apperr.New(apperr.KindForbidden, "agent: only the owner or an admin may update")
		}
	}
	return s.repo.UpdateDetails(ctx, id, details)
}

func (s *Service) Remove(ctx context.Context, actor role.Actor, id string) error {
	if !actor.IsAdmin() {
		return ErrAdminOnly
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	metrics.Transition("agent", "removed")
	return nil
}

func (s *Service) notify(ctx context.Context, a Agent, req notify.Request) error {
	req.Channel = notify.ChannelInApp
	req.RelatedID = a.ID
	req.RelatedModel = notify.ModelAgent
	if err := s.notifier.Notify(ctx, req); err != nil {
		s.log.WithError(err).Error("agent notification failed", map[string]interface{}{
			"agent_id": a.ID,
			"purpose":  string(req.Purpose),
		})
		return fmt.Errorf("agent: notify %s: %w", req.Purpose, err)
	}
	return nil
}

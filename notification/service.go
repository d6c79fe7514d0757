package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"estateflow/apperr"
	"estateflow/logger"
	"estateflow/metrics"
	"estateflow/notify"
	"estateflow/role"
	"estateflow/user"
)

var (
	ErrRecipientNotFound = apperr.New(apperr.KindBadRequest, "notification: recipient does not exist")
	ErrInvalidPurpose    = apperr.New(apperr.KindBadRequest, "notification: unknown purpose")
	ErrInvalidChannel    = apperr.New(apperr.KindBadRequest, "notification: unknown channel")
	ErrInvalidRole       = apperr.New(apperr.KindBadRequest, "notification: unknown role in audience")
	ErrEmptyMessage      = apperr.New(apperr.KindBadRequest, "notification: message is required")
	ErrAdminOnly         = apperr.New(apperr.KindForbidden, "notification: admin role required")
)

// Directory resolves recipients.
type Directory interface {
	GetByID(ctx context.Context, userID string) (user.User, error)
}

// Service persists notifications and pushes them to the configured sinks.
// Persistence is synchronous; delivery runs detached and never fails Send.
type Service struct {
	repo            Repository
	users           Directory
	deliverer       Deliverer
	log             logger.Logger
	idGenerator     func() string
	deliveryTimeout time.Duration
	inflight        sync.WaitGroup
}

func NewService(repo Repository, users Directory, deliverer Deliverer, log logger.Logger) *Service {
	return &Service{
		repo:            repo,
		users:           users,
		deliverer:       deliverer,
		log:             log,
		idGenerator:     uuid.NewString,
		deliveryTimeout: 5 * time.Second,
	}
}

func (s *Service) WithDeliveryTimeout(d time.Duration) *Service {
	if d > 0 {
		s.deliveryTimeout = d
	}
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// Send snapshots the recipient's display identity, stores one notification
// and schedules delivery.
func (s *Service) Send(ctx context.Context, req notify.Request) (Notification, error) {
	if req.Channel == "" {
		req.Channel = notify.ChannelInApp
	}
	if err := validate(req); err != nil {
		return Notification{}, err
	}

	recipient, err := s.users.GetByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return Notification{}, fmt.Errorf("%w: %s", ErrRecipientNotFound, req.UserID)
		}
		return Notification{}, fmt.Errorf("notification: resolve recipient: %w", err)
	}

	allowed := req.AllowedRoles
	if allowed == nil {
		allowed = role.Set{}
	}
	created, err := s.repo.Create(ctx, Notification{
		ID:           s.idGenerator(),
		UserID:       recipient.ID,
		Message:      req.Message,
		Channel:      req.Channel,
		AllowedRoles: allowed,
		Purpose:      req.Purpose,
		RelatedID:    req.RelatedID,
		RelatedModel: req.RelatedModel,
		Recipient: Recipient{
			FirstName:     recipient.FirstName,
			LastName:      recipient.LastName,
			Roles:         append(role.Set{}, recipient.Roles...),
			ProfilePhotos: append([]string{}, recipient.ProfilePhotos...),
		},
	})
	if err != nil {
		return Notification{}, err
	}
	metrics.NotificationsSent.WithLabelValues(string(created.Purpose)).Inc()

	s.dispatch(ctx, Delivery{Notification: created, Email: recipient.Email})
	return created, nil
}

// Notify satisfies notify.Sender.
func (s *Service) Notify(ctx context.Context, req notify.Request) error {
	_, err := s.Send(ctx, req)
	return err
}

func (s *Service) dispatch(ctx context.Context, d Delivery) {
	if s.deliverer == nil {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deliveryTimeout)
		defer cancel()

		if err := s.deliverer.Deliver(dctx, d); err != nil {
			s.log.WithError(err).Warn("notification delivery failed", map[string]interface{}{
				"notification_id": d.Notification.ID,
				"user_id":         d.Notification.UserID,
				"purpose":         string(d.Notification.Purpose),
			})
		}
	}()
}

// Wait blocks until scheduled deliveries have finished.
func (s *Service) Wait() {
	s.inflight.Wait()
}

func (s *Service) GetByID(ctx context.Context, id string) (Notification, error) {
	return s.repo.GetByID(ctx, id)
}

// ListForUser returns notifications addressed to the user, newest first.
func (s *Service) ListForUser(ctx context.Context, q Query) (ListResult, error) {
	if q.UserID == "" {
		return ListResult{}, apperr.New(apperr.KindBadRequest, "notification: user id is required")
	}
	items, total, err := s.repo.List(ctx, q)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

// Feed returns notifications addressed to the caller or to any of the
// caller's roles.
func (s *Service) Feed(ctx context.Context, actor role.Actor, page, pageSize int) (ListResult, error) {
	items, total, err := s.repo.Feed(ctx, actor.UserID, actor.Roles, page, pageSize)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

// UpdateAllowedRoles replaces the audience of a notification.
func (s *Service) UpdateAllowedRoles(ctx context.Context, actor role.Actor, id string, roles role.Set) (Notification, error) {
	if !actor.IsAdmin() {
		return Notification{}, ErrAdminOnly
	}
	if bad, ok := roles.Validate(); !ok {
		return Notification{}, fmt.Errorf("%w: %q", ErrInvalidRole, bad)
	}
	if roles == nil {
		roles = role.Set{}
	}
	return s.repo.UpdateAllowedRoles(ctx, id, roles)
}

func (s *Service) Delete(ctx context.Context, actor role.Actor, id string) error {
	if !actor.IsAdmin() {
		return ErrAdminOnly
	}
	return s.repo.Delete(ctx, id)
}

func validate(req notify.Request) error {
	if strings.TrimSpace(req.Message) == "" {
		return ErrEmptyMessage
	}
	if !req.Purpose.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPurpose, req.Purpose)
	}
	if !req.Channel.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, req.Channel)
	}
	if bad, ok := req.AllowedRoles.Validate(); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidRole, bad)
	}
	return nil
}

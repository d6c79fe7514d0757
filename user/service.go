package user

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"estateflow/apperr"
	"estateflow/logger"
	"estateflow/metrics"
	"estateflow/notify"
	"estateflow/role"
)

var (
	// ErrUnknownRoleKeyword signals a role keyword outside the closed mapping.
	ErrUnknownRoleKeyword = apperr.New(apperr.KindBadRequest, "user: unknown role keyword")
	// ErrAdminOnly signals that the caller lacks the admin role.
	ErrAdminOnly = apperr.New(apperr.KindForbidden, "user: admin role required")
	// ErrInvalidProfile signals an empty profile update or a blank first name.
	ErrInvalidProfile = apperr.New(apperr.KindBadRequest, "user: invalid profile update")
)

// Service owns the user directory: sign-up, login and role-set changes.
type Service struct {
	repo        Repository
	notifier    notify.Sender
	log         logger.Logger
	jwtSecret   []byte
	tokenTTL    time.Duration
	now         func() time.Time
	idGenerator func() string
}

// ListResult is a page of users plus the unpaged total.
type ListResult struct {
	Items []User
	Total int
}

// NewService creates the directory service.
func NewService(repo Repository, notifier notify.Sender, log logger.Logger, jwtSecret string) *Service {
	return &Service{
		repo:        repo,
		notifier:    notifier,
		log:         log,
		jwtSecret:   []byte(jwtSecret),
		tokenTTL:    24 * time.Hour,
		now:         time.Now,
		idGenerator: uuid.NewString,
	}
}

func (s *Service) WithTokenTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.tokenTTL = ttl
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// GetByID retrieves a user.
func (s *Service) GetByID(ctx context.Context, userID string) (User, error) {
	return s.repo.GetUserByID(ctx, userID)
}

func (s *Service) List(ctx context.Context, filters Filters) (ListResult, error) {
	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

// RequestRole records a pending request for the role named by keyword and
// tells the admins about it.
func (s *Service) RequestRole(ctx context.Context, userID, keyword string) (User, error) {
	pending, target, ok := role.PendingTag(keyword)
	if !ok {
		return User{}, fmt.Errorf("%w: %q", ErrUnknownRoleKeyword, keyword)
	}

	u, err := s.repo.AddPendingRole(ctx, userID, pending, []role.Role{target, pending})
	if err != nil {
		return User{}, err
	}
	metrics.Transition("user", "role_requested")

	err = s.notifier.Notify(ctx, notify.Request{
		UserID:       u.ID,
		Message:      fmt.Sprintf("%s requested the %s role.", displayName(u), target),
		Channel:      notify.ChannelInApp,
		AllowedRoles: role.Set{role.Admin},
		Purpose:      notify.PurposeRoleRequest,
		RelatedID:    u.ID,
		RelatedModel: notify.ModelUser,
	})
	if err != nil {
		return u, fmt.Errorf("user: notify role request: %w", err)
	}
	return u, nil
}

// UpgradeRole is the admin decision on a role request. Approval grants the
// role and clears its pending tag; denial removes both.
func (s *Service) UpgradeRole(ctx context.Context, actor role.Actor, userID, keyword string, approve bool) (User, error) {
	if !actor.IsAdmin() {
		return User{}, ErrAdminOnly
	}
	target, pending, ok := role.Grantable(keyword)
	if !ok {
		return User{}, fmt.Errorf("%w: %q", ErrUnknownRoleKeyword, keyword)
	}

	var (
		u   User
		err error
	)
	if approve {
		var cleared []role.Role
		if pending != "" {
			cleared = append(cleared, pending)
		}
		u, err = s.repo.GrantRole(ctx, userID, target, cleared...)
	} else {
		revoked := []role.Role{target}
		if pending != "" {
			revoked = append(revoked, pending)
		}
		u, err = s.repo.RevokeRoles(ctx, userID, revoked...)
	}
	if err != nil {
		return User{}, err
	}

	transition := "role_denied"
	if approve {
		transition = "role_granted"
	}
	metrics.Transition("user", transition)
	s.log.Info("role decision recorded", map[string]interface{}{
		"user_id":  userID,
		"role":     string(target),
		"approved": approve,
		"admin_id": actor.UserID,
	})
	return u, nil
}

// UpdateProfile edits the caller's own display identity. Notifications and
// deal proposals keep the copy taken when they were written.
func (s *Service) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (User, error) {
	if update.empty() {
		return User{}, fmt.Errorf("%w: nothing to change", ErrInvalidProfile)
	}
	if update.FirstName != nil {
		name := strings.TrimSpace(*update.FirstName)
		if name == "" {
			return User{}, fmt.Errorf("%w: first name is required", ErrInvalidProfile)
		}
		update.FirstName = &name
	}
	if update.LastName != nil {
		name := strings.TrimSpace(*update.LastName)
		update.LastName = &name
	}
	if update.ProfilePhotos != nil {
		update.ProfilePhotos = append([]string{}, update.ProfilePhotos...)
	}

	u, err := s.repo.UpdateProfile(ctx, userID, update)
	if err != nil {
		return User{}, err
	}
	metrics.Transition("user", "profile_updated")
	return u, nil
}

// DeleteUser removes a non-admin account.
func (s *Service) DeleteUser(ctx context.Context, actor role.Actor, userID string) error {
	if !actor.IsAdmin() {
		return ErrAdminOnly
	}
	if err := s.repo.DeleteUser(ctx, userID); err != nil {
		return err
	}
	metrics.Transition("user", "deleted")
	return nil
}

func displayName(u User) string {
	if name := u.FullName(); name != "" {
		return name
	}
	return u.Email
}

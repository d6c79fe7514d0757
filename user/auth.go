package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"estateflow/apperr"
	"estateflow/metrics"
	"estateflow/notify"
	"estateflow/role"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = apperr.New(apperr.KindForbidden, "user: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = apperr.New(apperr.KindBadRequest, "user: password must be at least 8 characters")
	// ErrMissingFields signals an incomplete registration.
	ErrMissingFields = apperr.New(apperr.KindBadRequest, "user: email and firstName are required")
	// ErrInvalidToken signals a token that fails signature or claim checks.
	ErrInvalidToken = apperr.New(apperr.KindForbidden, "user: invalid token")
)

// LoginResult bundles the token and domain user returned after a successful login.
type LoginResult struct {
	Token string
	User  User
}

// Register creates a new account holding only the base role.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (User, error) {
	if len(req.Password) < 8 {
		return User{}, ErrWeakPassword
	}
	email := strings.TrimSpace(req.Email)
	firstName := strings.TrimSpace(req.FirstName)
	if email == "" || firstName == "" {
		return User{}, ErrMissingFields
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("user: hash password: %w", err)
	}

	u, err := s.repo.CreateUser(ctx, CreateUserParams{
		ID:           s.idGenerator(),
		Email:        email,
		PasswordHash: string(passwordHash),
		FirstName:    firstName,
		LastName:     strings.TrimSpace(req.LastName),
		Phone:        strings.TrimSpace(req.Phone),
	})
	if err != nil {
		return User{}, err
	}
	metrics.Transition("user", "registered")

	err = s.notifier.Notify(ctx, notify.Request{
		UserID:       u.ID,
		Message:      fmt.Sprintf("New user registered: %s (%s).", displayName(u), u.Email),
		Channel:      notify.ChannelInApp,
		AllowedRoles: role.Set{role.Admin},
		Purpose:      notify.PurposeUserRegistered,
		RelatedID:    u.ID,
		RelatedModel: notify.ModelUser,
	})
	if err != nil {
		return u, fmt.Errorf("user: notify registration: %w", err)
	}
	return u, nil
}

// Login authenticates a user and returns a signed token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	u, err := s.repo.GetUserByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}
	if u.Status != StatusActive {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(u.ID, u.Roles)
	if err != nil {
		return LoginResult{}, fmt.Errorf("user: generate token: %w", err)
	}
	return LoginResult{Token: token, User: u}, nil
}

// VerifyToken validates a token and returns the caller it was issued to.
// Roles are read from the token, so a role change takes effect on next login.
func (s *Service) VerifyToken(tokenString string) (role.Actor, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return role.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return role.Actor{}, ErrInvalidToken
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return role.Actor{}, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	rawRoles, ok := claims["roles"].([]interface{})
	if !ok {
		return role.Actor{}, fmt.Errorf("%w: missing roles", ErrInvalidToken)
	}

	roles := make(role.Set, 0, len(rawRoles))
	for _, raw := range rawRoles {
		str, _ := raw.(string)
		r, valid := role.Parse(str)
		if !valid {
			return role.Actor{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, str)
		}
		roles = append(roles, r)
	}
	return role.Actor{UserID: userID, Roles: roles}, nil
}

func (s *Service) generateToken(userID string, roles role.Set) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"roles":   roles.Strings(),
		"exp":     now.Add(s.tokenTTL).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

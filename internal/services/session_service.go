package services

import (
	"context"
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/isdelr/gatekeeper-be/internal/auth"
	"github.com/isdelr/gatekeeper-be/internal/models"
	"github.com/rs/zerolog/log"
)

// TokenType is the scheme clients must use when presenting a token.
const TokenType = "Bearer"

// TokenResponse is returned by register, login and refresh.
type TokenResponse struct {
	Message     string      `json:"message,omitempty"`
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	User        models.User `json:"user"`
	ExpiresIn   int64       `json:"expires_in"`
}

// Notifier pushes messages to the live connections of a user.
type Notifier interface {
	NotifyUser(userID string, message []byte)
	// DisconnectToken closes connections opened with tokenID; an empty
	// tokenID closes all of the user's connections.
	DisconnectToken(userID, tokenID string)
}

// RevocationMessage builds the payload pushed when a token is revoked.
type RevocationMessage func(jti, reason string) []byte

// SessionServiceProvider defines the interface for the token guard.
type SessionServiceProvider interface {
	auth.PrincipalResolver
	Register(ctx context.Context, in RegisterInput) (TokenResponse, error)
	Login(ctx context.Context, in LoginInput) (TokenResponse, error)
	Logout(ctx context.Context, claims *auth.Claims) error
	Refresh(ctx context.Context, user models.User, claims *auth.Claims) (TokenResponse, error)
}

// SessionOptions tunes the SessionService.
type SessionOptions struct {
	// SingleSession invalidates earlier tokens of a user on every login.
	SingleSession bool
	Notifier      Notifier
	Revoked       RevocationMessage
}

// SessionService issues, resolves and revokes tokens.
type SessionService struct {
	users     UserServiceProvider
	tokens    *auth.TokenManager
	blacklist Blacklist
	events    EventServiceProvider
	opts      SessionOptions
}

// NewSessionService creates a new SessionService.
func NewSessionService(users UserServiceProvider, tokens *auth.TokenManager, blacklist Blacklist, events EventServiceProvider, opts SessionOptions) *SessionService {
	return &SessionService{
		users:     users,
		tokens:    tokens,
		blacklist: blacklist,
		events:    events,
		opts:      opts,
	}
}

// Register creates the account and logs it in.
func (s *SessionService) Register(ctx context.Context, in RegisterInput) (TokenResponse, error) {
	user, err := s.users.CreateUser(ctx, in)
	if err != nil {
		return TokenResponse{}, err
	}
	s.record(ctx, EventRegister, "info", "User registered", &user.ID)

	resp, err := s.respondWithToken(user)
	if err != nil {
		return TokenResponse{}, err
	}
	resp.Message = "User successfully registered."
	return resp, nil
}

// Login verifies the credentials and issues a token.
func (s *SessionService) Login(ctx context.Context, in LoginInput) (TokenResponse, error) {
	in.Email = NormalizeEmail(in.Email)
	if err := in.Validate(); err != nil {
		return TokenResponse{}, err
	}

	user, err := s.users.AuthenticateUser(ctx, in.Email, in.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			s.record(ctx, EventLoginFail, "warn", "Failed login attempt", nil)
		}
		return TokenResponse{}, err
	}

	if s.opts.SingleSession {
		if user, err = s.users.IncrementTokenVersion(ctx, user.ID); err != nil {
			return TokenResponse{}, err
		}
		s.notify(user.ID, "", "login")
	}

	s.record(ctx, EventLogin, "info", "User logged in", &user.ID)
	return s.respondWithToken(user)
}

// Logout blacklists the presented token.
func (s *SessionService) Logout(ctx context.Context, claims *auth.Claims) error {
	if err := s.revoke(ctx, claims); err != nil {
		return err
	}
	userID := claims.UserID()
	s.record(ctx, EventLogout, "info", "User logged out", &userID)
	s.notify(userID, claims.ID, "logout")
	return nil
}

// Refresh blacklists the presented token and issues a new one.
func (s *SessionService) Refresh(ctx context.Context, user models.User, claims *auth.Claims) (TokenResponse, error) {
	if err := s.revoke(ctx, claims); err != nil {
		return TokenResponse{}, err
	}
	s.record(ctx, EventRefresh, "info", "Token refreshed", &user.ID)
	s.notify(user.ID, claims.ID, "refresh")
	return s.respondWithToken(user)
}

// Resolve maps a raw token to its user. Expired, revoked and orphaned tokens
// are rejected.
func (s *SessionService) Resolve(ctx context.Context, token string) (*models.User, *auth.Claims, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, nil, err
	}

	revoked, err := s.blacklist.Contains(ctx, claims.ID)
	if err != nil {
		return nil, nil, err
	}
	if revoked {
		return nil, nil, auth.ErrTokenRevoked
	}

	user, err := s.users.GetUserByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil, auth.ErrInvalidToken
		}
		return nil, nil, err
	}
	if user.TokenVersion != claims.Version {
		return nil, nil, auth.ErrTokenRevoked
	}
	return &user, claims, nil
}

func (s *SessionService) revoke(ctx context.Context, claims *auth.Claims) error {
	if claims == nil || claims.ExpiresAt == nil {
		return auth.ErrInvalidToken
	}
	return s.blacklist.Add(ctx, claims.ID, claims.UserID(), claims.ExpiresAt.Time)
}

func (s *SessionService) respondWithToken(user models.User) (TokenResponse, error) {
	issued, err := s.tokens.Issue(user)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("failed to issue token: %w", err)
	}
	user.PasswordHash = ""
	return TokenResponse{
		AccessToken: issued.Token,
		TokenType:   TokenType,
		User:        user,
		ExpiresIn:   int64(s.tokens.TTL().Seconds()),
	}, nil
}

// record stores an audit event. Failures are logged, never surfaced.
func (s *SessionService) record(ctx context.Context, eventType, level, message string, userID *string) {
	if s.events == nil {
		return
	}
	if err := s.events.CreateEvent(ctx, eventType, level, message, userID); err != nil {
		log.Error().Err(err).Str("type", eventType).Msg("Failed to record event")
	}
}

func (s *SessionService) notify(userID, jti, reason string) {
	if s.opts.Notifier == nil || s.opts.Revoked == nil {
		return
	}
	s.opts.Notifier.NotifyUser(userID, s.opts.Revoked(jti, reason))
	s.opts.Notifier.DisconnectToken(userID, jti)
}

// IsValidationError reports whether err carries field-level messages.
func IsValidationError(err error) (validation.Errors, bool) {
	var errs validation.Errors
	if errors.As(err, &errs) {
		return errs, true
	}
	return nil, false
}

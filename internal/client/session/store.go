package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/isdelr/gatekeeper-be/internal/models"
)

const (
	TokenCookie = "auth_token"
	UserCookie  = "auth_user"

	// DefaultExpiry is how long the session cookies are kept.
	DefaultExpiry = 7 * 24 * time.Hour
)

// Options configures a Store.
type Options struct {
	// Secure marks cookies for secure transport only; set it in production.
	Secure bool
	Expiry time.Duration
	Now    func() time.Time
}

// Store holds the current user and token. The in-memory fields and the
// storage cookies are changed together on every mutation.
type Store struct {
	mu      sync.RWMutex
	storage Storage
	opts    Options

	user  *models.User
	token string
}

// NewStore creates an empty Store. Call Rehydrate to restore a persisted session.
func NewStore(storage Storage, opts Options) *Store {
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultExpiry
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{storage: storage, opts: opts}
}

// IsAuthenticated reports whether a token is held.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}

// Token returns the current token, or "" when logged out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns the current user.
func (s *Store) User() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return models.User{}, false
	}
	return *s.user, true
}

// Login stores the user and token and persists both cookies. If persisting
// fails, neither the memory state nor the cookies are left half-written.
func (s *Store) Login(user models.User, token string) error {
	if token == "" {
		return errors.New("empty token")
	}
	encoded, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expires := s.opts.Now().Add(s.opts.Expiry)
	if err := s.storage.Set(Cookie{Name: UserCookie, Value: string(encoded), Expires: expires, Secure: s.opts.Secure}); err != nil {
		return s.rollback(err)
	}
	if err := s.storage.Set(Cookie{Name: TokenCookie, Value: token, Expires: expires, Secure: s.opts.Secure}); err != nil {
		return s.rollback(err)
	}

	s.user = &user
	s.token = token
	return nil
}

// rollback restores the cookies to match the in-memory state. Must hold s.mu.
func (s *Store) rollback(cause error) error {
	errs := []error{fmt.Errorf("failed to persist session: %w", cause)}
	if s.token == "" {
		errs = append(errs, s.removeCookies())
	} else if s.user != nil {
		encoded, _ := json.Marshal(s.user)
		expires := s.opts.Now().Add(s.opts.Expiry)
		errs = append(errs,
			s.storage.Set(Cookie{Name: UserCookie, Value: string(encoded), Expires: expires, Secure: s.opts.Secure}),
			s.storage.Set(Cookie{Name: TokenCookie, Value: s.token, Expires: expires, Secure: s.opts.Secure}),
		)
	}
	return errors.Join(errs...)
}

// Logout clears the user and token and removes both cookies.
func (s *Store) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.user = nil
	s.token = ""
	return s.removeCookies()
}

func (s *Store) removeCookies() error {
	return errors.Join(s.storage.Remove(UserCookie), s.storage.Remove(TokenCookie))
}

// Rehydrate restores the session from storage. A token without a user (or
// the reverse) is discarded entirely.
func (s *Store) Rehydrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, hasToken, err := s.storage.Get(TokenCookie)
	if err != nil {
		return err
	}
	rawUser, hasUser, err := s.storage.Get(UserCookie)
	if err != nil {
		return err
	}

	s.user = nil
	s.token = ""

	if !hasToken || !hasUser || token == "" {
		if hasToken || hasUser {
			return s.removeCookies()
		}
		return nil
	}

	var user models.User
	if err := json.Unmarshal([]byte(rawUser), &user); err != nil {
		return errors.Join(fmt.Errorf("corrupt %s cookie: %w", UserCookie, err), s.removeCookies())
	}

	s.user = &user
	s.token = token
	return nil
}

package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ikimina/circles/internal/apperrors"
)

// CurrentUser is the signed-in identity as seen by the client.
type CurrentUser struct {
	ID    string
	Email string
}

// Identity answers who is signed in. Mutating operations resolve it first.
type Identity interface {
	// CurrentUser returns nil when nobody is signed in.
	CurrentUser(ctx context.Context) (*CurrentUser, error)
	// SignOut ends the session. It fails with an AuthError when there is none.
	SignOut(ctx context.Context) error
}

// Session is a client-side Identity backed by a bearer token.
type Session struct {
	mu     sync.RWMutex
	token  string
	claims *Claims

	// revoke tells the server the token is being discarded. May be nil.
	revoke func(ctx context.Context, token string) error
	now    func() time.Time
}

// Ensure Session implements Identity
var _ Identity = (*Session)(nil)

// NewSession creates an empty session. revoke, when set, is called by SignOut.
func NewSession(revoke func(ctx context.Context, token string) error) *Session {
	return &Session{revoke: revoke, now: time.Now}
}

// SignIn stores a token obtained from Login or Register.
func (s *Session) SignIn(token string) error {
	claims, err := readClaims(token)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.claims = claims
	return nil
}

// Token returns the bearer token, or "" when signed out or expired.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.activeLocked() {
		return ""
	}
	return s.token
}

func (s *Session) CurrentUser(ctx context.Context) (*CurrentUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.activeLocked() {
		return nil, nil
	}
	return &CurrentUser{ID: s.claims.UserID, Email: s.claims.Email}, nil
}

func (s *Session) SignOut(ctx context.Context) error {
	s.mu.Lock()
	token := s.token
	active := s.activeLocked()
	s.token = ""
	s.claims = nil
	s.mu.Unlock()

	if !active {
		return apperrors.Unauthorized("no active session")
	}
	if s.revoke != nil {
		if err := s.revoke(ctx, token); err != nil {
			return fmt.Errorf("failed to sign out: %w", err)
		}
	}
	return nil
}

func (s *Session) activeLocked() bool {
	if s.claims == nil {
		return false
	}
	if exp := s.claims.ExpiresAt; exp != nil && !s.now().Before(exp.Time) {
		return false
	}
	return true
}

// RequireUser resolves the signed-in user or fails with an AuthError.
func RequireUser(ctx context.Context, id Identity) (*CurrentUser, error) {
	if id == nil {
		return nil, apperrors.Unauthorized("no identity provider")
	}
	user, err := id.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve current user: %w", err)
	}
	if user == nil || user.ID == "" {
		return nil, apperrors.Unauthorized("sign in required")
	}
	return user, nil
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/ikimina/circles/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrEmailExists        = errors.New("email already registered")
	ErrUnknownUser        = errors.New("user not found")
)

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 8

// UserStorage defines the interface for account persistence.
// Lookups return nil, nil when no account matches.
type UserStorage interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// PasswordAuthenticator implements password accounts using bcrypt.
type PasswordAuthenticator struct {
	storage UserStorage
	cost    int
}

// Ensure PasswordAuthenticator implements Authenticator
var _ Authenticator = (*PasswordAuthenticator)(nil)

// NewPasswordAuthenticator creates a password authenticator at bcrypt.DefaultCost.
func NewPasswordAuthenticator(storage UserStorage) *PasswordAuthenticator {
	return NewPasswordAuthenticatorWithCost(storage, bcrypt.DefaultCost)
}

// NewPasswordAuthenticatorWithCost lets tests trade hash strength for speed.
func NewPasswordAuthenticatorWithCost(storage UserStorage, cost int) *PasswordAuthenticator {
	return &PasswordAuthenticator{storage: storage, cost: cost}
}

// ValidateCredential checks the password length.
func (a *PasswordAuthenticator) ValidateCredential(credential string) error {
	if len(credential) < MinPasswordLength {
		return ErrWeakPassword
	}
	return nil
}

// Register creates an account with a hashed password. Emails are compared
// case-insensitively.
func (a *PasswordAuthenticator) Register(ctx context.Context, email, displayName, credential string) (*models.User, error) {
	if err := a.ValidateCredential(credential); err != nil {
		return nil, err
	}
	email = normalizeEmail(email)

	existing, err := a.storage.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailExists
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(credential), a.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := models.NewUser(email, strings.TrimSpace(displayName), string(hashed))
	if err := a.storage.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// Authenticate verifies the email and password. Unknown emails and wrong
// passwords fail the same way.
func (a *PasswordAuthenticator) Authenticate(ctx context.Context, email, credential string) (*models.User, error) {
	user, err := a.storage.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil || user == nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(credential)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// Lookup returns the account with the given ID, or ErrUnknownUser.
func (a *PasswordAuthenticator) Lookup(ctx context.Context, userID string) (*models.User, error) {
	user, err := a.storage.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUnknownUser
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

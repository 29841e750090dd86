package auth

import (
	"context"

	"github.com/ikimina/circles/internal/models"
)

// Authenticator defines the interface for server-side account checks.
// Password accounts are the only implementation; the service layer only
// sees this interface.
type Authenticator interface {
	// Register creates a new account with the given email and credential.
	Register(ctx context.Context, email, displayName, credential string) (*models.User, error)

	// Authenticate verifies the credential and returns the account.
	Authenticate(ctx context.Context, email, credential string) (*models.User, error)

	// Lookup returns the account with the given ID.
	Lookup(ctx context.Context, userID string) (*models.User, error)

	// ValidateCredential checks if the credential meets the implementation's requirements.
	ValidateCredential(credential string) error
}

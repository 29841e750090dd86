package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User represents a registered account held by the identity provider.
// Display data lives on the user's Profile.
type User struct {
	// ID is the unique identifier for the user (UUID format).
	ID string

	// Email is the user's email address (unique). Used for login.
	Email string

	DisplayName string

	// PasswordHash is the bcrypt hash of the user's password.
	PasswordHash string

	// CreatedAt and UpdatedAt are Unix seconds.
	CreatedAt int64
	UpdatedAt int64
}

// NewUser creates a user with a fresh ID and timestamps.
func NewUser(email, displayName, passwordHash string) *User {
	now := time.Now().Unix()
	return &User{
		ID:           uuid.New().String(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Profile is the display data attached to records by user ID.
type Profile struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`

	// Photo is the public URL of the avatar, if uploaded.
	Photo string `json:"photo,omitempty"`
	Phone string `json:"phone,omitempty"`

	TotalSavings decimal.Decimal `json:"total_savings"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at,omitempty"`
}

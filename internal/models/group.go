package models

import "github.com/shopspring/decimal"

// Category classifies who a savings group is for.
type Category string

const (
	CategoryWomen  Category = "women"
	CategoryYouth  Category = "youth"
	CategoryFamily Category = "family"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryWomen, CategoryYouth, CategoryFamily:
		return true
	}
	return false
}

// Group represents a savings circle with bounded membership and a shared balance.
type Group struct {
	// ID is the unique identifier for the group (UUID format).
	ID string `json:"id"`

	// Name is the display name of the group.
	Name string `json:"name"`

	Description string   `json:"description"`
	Location    string   `json:"location"`
	Category    Category `json:"category"`

	// Size is the maximum number of members.
	Size int `json:"size"`

	// MemberCount is the number of memberships. It is only changed through
	// atomic adjustments so concurrent approvals and removals do not race.
	MemberCount int `json:"member_count"`

	// CurrentBalance is the pooled savings of the group.
	CurrentBalance decimal.Decimal `json:"current_balance"`

	// CreatedBy is the user ID of the group admin.
	CreatedBy string `json:"created_by"`

	// NextSavingDate is the next contribution date (YYYY-MM-DD), if scheduled.
	NextSavingDate string `json:"next_saving_date,omitempty"`

	Thumbnail string `json:"thumbnail,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at,omitempty"`
}

// Full reports whether the group has reached its size limit.
// A group without a limit is never full.
func (g *Group) Full() bool {
	return g.Size > 0 && g.MemberCount >= g.Size
}

// Membership pairs a user with a group they have joined.
type Membership struct {
	ID      string `json:"id"`
	GroupID string `json:"group_id"`
	UserID  string `json:"user_id"`

	// CurrentBalance is this member's running savings in the group.
	CurrentBalance decimal.Decimal `json:"current_balance"`

	JoinedAt int64 `json:"joined_at"`
}

// RequestStatus is the lifecycle state of a join request.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

// Decision reports whether s is a terminal decision (approved or rejected).
func (s RequestStatus) Decision() bool {
	return s == StatusApproved || s == StatusRejected
}

// JoinRequest is an application to join a group, subject to admin approval.
// It moves pending -> approved or pending -> rejected exactly once.
type JoinRequest struct {
	ID        string        `json:"id"`
	GroupID   string        `json:"group_id"`
	UserID    string        `json:"user_id"`
	Status    RequestStatus `json:"status"`
	CreatedAt int64         `json:"created_at"`
}

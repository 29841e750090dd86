package models

import "github.com/shopspring/decimal"

// TransactionType classifies money movement within a group.
type TransactionType string

const (
	TxSaving     TransactionType = "saving"
	TxLoan       TransactionType = "loan"
	TxRepayment  TransactionType = "repayment"
	TxInterest   TransactionType = "interest"
	TxWithdrawal TransactionType = "withdrawal"
)

// Outflow reports whether the transaction takes money out of the member's savings.
func (t TransactionType) Outflow() bool {
	return t == TxLoan || t == TxWithdrawal
}

// TransactionStatus is the settlement state of a transaction.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
)

// Transaction records a contribution, loan, repayment or payout in a group.
type Transaction struct {
	// ID is the unique identifier for the transaction (UUID format).
	ID string `json:"id"`

	// GroupID is the group this transaction belongs to.
	GroupID string `json:"group_id"`

	// UserID is the member the transaction is for.
	UserID string `json:"user_id"`

	Type   TransactionType   `json:"type"`
	Amount decimal.Decimal   `json:"amount"`
	Status TransactionStatus `json:"status"`

	// Description is an optional note.
	Description string `json:"description,omitempty"`

	// CreatedAt is the Unix millisecond timestamp when the transaction was recorded.
	CreatedAt int64 `json:"created_at"`
}

// Notification is a message addressed to one user.
type Notification struct {
	ID     string `json:"id,omitempty"`
	UserID string `json:"user_id"`
	Type   string `json:"type"`
	Title  string `json:"title"`

	// Message is the notification body.
	Message string `json:"message"`

	// RelatedID points at the record the notification is about (e.g. a group).
	RelatedID string `json:"related_id,omitempty"`

	Read      bool  `json:"read"`
	CreatedAt int64 `json:"created_at,omitempty"`
}

// Package storage provides abstractions for persistent collection storage.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when an update or adjust matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("record conflicts with an existing record")
	// ErrUnknownCollection is returned for collection names outside the schema.
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrUnknownField is returned for filter, order or write fields outside the schema.
	ErrUnknownField = errors.New("unknown field")
	// ErrInvalidValue is returned when a value cannot be stored in its column.
	ErrInvalidValue = errors.New("invalid value")
)

// Record is one row of a collection, keyed by column name.
type Record map[string]any

// String returns the value of a text field, or "" when absent.
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// Op is a filter comparison operator.
type Op string

const (
	// OpEq matches rows whose field equals Value.
	OpEq Op = "eq"
	// OpIn matches rows whose field is one of Value ([]any or []string).
	OpIn Op = "in"
)

// Filter restricts a query or delete to matching rows.
type Filter struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

// Eq builds an equality filter.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}

// In builds a membership filter.
func In(field string, values []string) Filter {
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return Filter{Field: field, Op: OpIn, Value: vs}
}

// Query describes a filtered, ordered range read of one collection.
type Query struct {
	Collection string   `json:"collection"`
	Filters    []Filter `json:"filters,omitempty"`
	OrderBy    string   `json:"order_by,omitempty"`
	Descending bool     `json:"descending,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

// Store defines the interface for collection storage operations.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL)
// without changing the service layer.
type Store interface {
	// Find returns the rows matching q in the requested order.
	Find(ctx context.Context, q Query) ([]Record, error)

	// Insert persists a new row and returns it as stored.
	// The id and creation timestamp are populated by the store when missing.
	Insert(ctx context.Context, collection string, rec Record) (Record, error)

	// Update applies patch to the row with the given id and returns the updated row.
	// Returns ErrNotFound if no row has that id.
	Update(ctx context.Context, collection, id string, patch Record) (Record, error)

	// Delete removes every row matching all filters and returns the removed rows.
	// Matching nothing is not an error.
	Delete(ctx context.Context, collection string, filters []Filter) ([]Record, error)

	// Adjust atomically adds delta to an integer field and returns the updated row.
	Adjust(ctx context.Context, collection, id, field string, delta int64) (Record, error)

	// TopicOf returns the change-feed topic a row of the collection belongs to.
	TopicOf(collection string, rec Record) string

	// Close releases any resources held by the store.
	Close() error
}

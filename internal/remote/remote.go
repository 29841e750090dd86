// Package remote is the client's view of the collection store: filtered,
// ordered reads and single-record writes against named collections.
//
// Every failure is reported as an *apperrors.RemoteError. Nothing retries;
// callers decide what to do with a failed call.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/ikimina/circles/internal/storage"
)

// Aliases so callers need not import the storage package.
type (
	Record = storage.Record
	Query  = storage.Query
	Filter = storage.Filter
)

// Eq and In build filters.
var (
	Eq = storage.Eq
	In = storage.In
)

// Client issues reads and writes against remote collections.
type Client interface {
	// Query returns matching records in the requested order.
	Query(ctx context.Context, q Query) ([]Record, error)

	// Insert stores rec and returns it as stored, with id and timestamps filled in.
	Insert(ctx context.Context, collection string, rec Record) (Record, error)

	// Update patches the record with the given id. A missing record is a
	// RemoteError of kind not_found.
	Update(ctx context.Context, collection, id string, patch Record) error

	// Delete removes every record matching all filters and reports how many
	// went. Zero is not an error.
	Delete(ctx context.Context, collection string, match []Filter) (int64, error)

	// Adjust atomically adds delta to an integer field and returns the new value.
	Adjust(ctx context.Context, collection, id, field string, delta int64) (int64, error)
}

// Encode converts a model into a Record through its JSON tags.
func Encode(v any) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return rec, nil
}

// Decode converts a Record into a model through its JSON tags.
func Decode[T any](rec Record) (T, error) {
	var out T
	data, err := json.Marshal(rec)
	if err != nil {
		return out, fmt.Errorf("failed to decode record: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode record: %w", err)
	}
	return out, nil
}

// DecodeAll decodes every record, stopping at the first failure.
func DecodeAll[T any](recs []Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		v, err := Decode[T](rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// intValue reads an integer field from a record.
func intValue(rec Record, field string) (int64, error) {
	switch n := rec[field].(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("field %s is %T, not an integer", field, n)
	}
}

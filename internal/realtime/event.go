// Package realtime implements the change feed: events describing writes to
// remote collections, delivered to subscribers of a topic (usually a group ID).
package realtime

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ikimina/circles/internal/storage"
)

// Kind is the type of write an event describes.
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Event describes one write to a collection. Record holds the row after the
// write, or the removed row for deletes.
type Event struct {
	// ID is a ULID, so event IDs sort in publish order.
	ID         string         `json:"id"`
	Kind       Kind           `json:"kind"`
	Collection string         `json:"collection"`
	Topic      string         `json:"topic"`
	Record     storage.Record `json:"record"`
	At         int64          `json:"at"`
}

// NewEvent stamps a new event with an ID and time.
func NewEvent(kind Kind, collection, topic string, rec storage.Record) Event {
	return Event{
		ID:         ulid.Make().String(),
		Kind:       kind,
		Collection: collection,
		Topic:      topic,
		Record:     rec,
		At:         time.Now().UnixMilli(),
	}
}

// EventFilter selects the events a subscription receives.
type EventFilter struct {
	Collection string
	// Kinds restricts event kinds; empty means all kinds.
	Kinds []Kind
	// Match requires record fields to equal the given values.
	Match map[string]string
}

// InsertsOnly returns a filter for insert events on one collection.
func InsertsOnly(collection string) EventFilter {
	return EventFilter{Collection: collection, Kinds: []Kind{KindInsert}}
}

// Matches reports whether e passes the filter.
func (f EventFilter) Matches(e Event) bool {
	if f.Collection != "" && f.Collection != e.Collection {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, e.Kind) {
		return false
	}
	for field, want := range f.Match {
		if e.Record.String(field) != want {
			return false
		}
	}
	return true
}

// ParseKinds parses a comma-separated kind list. Unknown kinds are dropped.
func ParseKinds(s string) []Kind {
	var kinds []Kind
	for _, part := range strings.Split(s, ",") {
		switch k := Kind(strings.TrimSpace(part)); k {
		case KindInsert, KindUpdate, KindDelete:
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// FormatKinds is the inverse of ParseKinds.
func FormatKinds(kinds []Kind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ",")
}

// EventHandler receives events for one subscription. Calls for one
// subscription never overlap.
type EventHandler func(ctx context.Context, e Event)

// Handle is an open subscription. Its lifetime must match the lifetime of
// the view it feeds.
type Handle interface {
	// Close stops delivery. It does not wait for an in-flight handler call.
	Close() error
	// Done is closed once the subscription has stopped for any reason.
	Done() <-chan struct{}
	// Err reports why a stopped subscription ended. It is nil after Close.
	Err() error
}

// Subscriber opens subscriptions on a topic.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, filter EventFilter, handler EventHandler) (Handle, error)
}

// Publisher accepts events produced by writes.
type Publisher interface {
	Publish(e Event)
}

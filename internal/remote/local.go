package remote

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ikimina/circles/internal/apperrors"
	"github.com/ikimina/circles/internal/realtime"
	"github.com/ikimina/circles/internal/storage"
)

// Local serves collections from a storage.Store in the same process and
// publishes a change event for every successful write.
type Local struct {
	store  storage.Store
	feed   realtime.Publisher
	logger *slog.Logger
}

// Ensure Local implements Client
var _ Client = (*Local)(nil)

// NewLocal creates a Local client. feed may be nil when no change feed is needed.
func NewLocal(store storage.Store, feed realtime.Publisher, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{store: store, feed: feed, logger: logger}
}

func (l *Local) Query(ctx context.Context, q Query) ([]Record, error) {
	recs, err := l.store.Find(ctx, q)
	if err != nil {
		return nil, storeError("query "+q.Collection, err)
	}
	return recs, nil
}

func (l *Local) Insert(ctx context.Context, collection string, rec Record) (Record, error) {
	stored, err := l.store.Insert(ctx, collection, rec)
	if err != nil {
		return nil, storeError("insert "+collection, err)
	}
	l.publish(realtime.KindInsert, collection, stored)
	return stored, nil
}

func (l *Local) Update(ctx context.Context, collection, id string, patch Record) error {
	stored, err := l.store.Update(ctx, collection, id, patch)
	if err != nil {
		return storeError("update "+collection, err)
	}
	l.publish(realtime.KindUpdate, collection, stored)
	return nil
}

func (l *Local) Delete(ctx context.Context, collection string, match []Filter) (int64, error) {
	removed, err := l.store.Delete(ctx, collection, match)
	if err != nil {
		return 0, storeError("delete "+collection, err)
	}
	for _, rec := range removed {
		l.publish(realtime.KindDelete, collection, rec)
	}
	return int64(len(removed)), nil
}

func (l *Local) Adjust(ctx context.Context, collection, id, field string, delta int64) (int64, error) {
	stored, err := l.store.Adjust(ctx, collection, id, field, delta)
	if err != nil {
		return 0, storeError("adjust "+collection, err)
	}
	l.publish(realtime.KindUpdate, collection, stored)
	return intValue(stored, field)
}

func (l *Local) publish(kind realtime.Kind, collection string, rec Record) {
	if l.feed == nil {
		return
	}
	topic := l.store.TopicOf(collection, rec)
	if topic == "" {
		return
	}
	l.feed.Publish(realtime.NewEvent(kind, collection, topic, rec))
}

// storeError classifies a storage failure. Anything unrecognized is treated
// as the store being unreachable.
func storeError(op string, err error) error {
	var re *apperrors.RemoteError
	if errors.As(err, &re) {
		return err
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.Remote(apperrors.KindNotFound, op, err)
	case errors.Is(err, storage.ErrConflict):
		return apperrors.Remote(apperrors.KindConflict, op, err)
	case errors.Is(err, storage.ErrUnknownCollection), errors.Is(err, storage.ErrUnknownField),
		errors.Is(err, storage.ErrInvalidValue):
		return apperrors.Remote(apperrors.KindDenied, op, err)
	default:
		return apperrors.Remote(apperrors.KindNetwork, op, err)
	}
}

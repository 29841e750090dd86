// Package content reads the public, read-only collections shown to every
// visitor: FAQs, tips, testimonials, blog posts and upcoming events.
package content

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/ikimina/circles/internal/models"
	"github.com/ikimina/circles/internal/remote"
)

// Default list sizes.
const (
	LatestPosts    = 3
	UpcomingEvents = 5
)

// Reader lists published content. It needs no signed-in user.
type Reader struct {
	client remote.Client
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Reader.
func New(client remote.Client, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{client: client, logger: logger, now: time.Now}
}

// FAQs returns the active questions by display order.
func (r *Reader) FAQs(ctx context.Context) ([]models.FAQ, error) {
	return listActive[models.FAQ](ctx, r.client, models.CollectionFAQs)
}

// Tips returns the active tips by display order.
func (r *Reader) Tips(ctx context.Context) ([]models.Tip, error) {
	return listActive[models.Tip](ctx, r.client, models.CollectionTips)
}

// Testimonials returns the active testimonials by display order.
func (r *Reader) Testimonials(ctx context.Context) ([]models.Testimonial, error) {
	return listActive[models.Testimonial](ctx, r.client, models.CollectionTestimonials)
}

// Posts returns up to limit published posts, newest first. A limit of zero
// returns them all.
func (r *Reader) Posts(ctx context.Context, limit int) ([]models.BlogPost, error) {
	recs, err := r.client.Query(ctx, remote.Query{
		Collection: models.CollectionBlogPosts,
		Filters:    []remote.Filter{remote.Eq("published", true)},
		OrderBy:    "created_at",
		Descending: true,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}
	return remote.DecodeAll[models.BlogPost](recs)
}

// Upcoming returns up to limit events dated today or later, soonest first.
// A limit of zero returns them all.
func (r *Reader) Upcoming(ctx context.Context, limit int) ([]models.Event, error) {
	recs, err := r.client.Query(ctx, remote.Query{
		Collection: models.CollectionEvents,
		OrderBy:    "event_date",
	})
	if err != nil {
		return nil, err
	}
	events, err := remote.DecodeAll[models.Event](recs)
	if err != nil {
		return nil, err
	}

	// ISO dates compare as strings.
	today := r.now().UTC().Format(time.DateOnly)
	upcoming := make([]models.Event, 0, len(events))
	for _, e := range events {
		if len(e.EventDate) < len(time.DateOnly) {
			r.logger.Warn("Skipping event with invalid date", "event_id", e.ID, "event_date", e.EventDate)
			continue
		}
		if e.EventDate[:len(time.DateOnly)] >= today {
			upcoming = append(upcoming, e)
		}
	}
	sort.SliceStable(upcoming, func(i, j int) bool {
		return upcoming[i].EventDate < upcoming[j].EventDate
	})
	if limit > 0 && len(upcoming) > limit {
		upcoming = upcoming[:limit]
	}
	return upcoming, nil
}

func listActive[T any](ctx context.Context, client remote.Client, collection string) ([]T, error) {
	recs, err := client.Query(ctx, remote.Query{
		Collection: collection,
		Filters:    []remote.Filter{remote.Eq("active", true)},
		OrderBy:    "display_order",
	})
	if err != nil {
		return nil, err
	}
	return remote.DecodeAll[T](recs)
}

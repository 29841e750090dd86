package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ikimina/circles/internal/metrics"
)

// DefaultBuffer is the number of undelivered events a subscription may hold
// before it is dropped as too slow.
const DefaultBuffer = 256

// ErrSlowSubscriber is reported by Err when a subscription was dropped
// because its handler fell too far behind.
var ErrSlowSubscriber = errors.New("subscriber fell behind and was dropped")

// Hub maintains the set of active subscriptions, organized by topic, and
// fans published events out to them.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscription]struct{}

	buffer  int
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Ensure Hub implements both sides of the feed
var (
	_ Subscriber = (*Hub)(nil)
	_ Publisher  = (*Hub)(nil)
)

// NewHub creates a Hub. m may be nil.
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:    make(map[string]map[*subscription]struct{}),
		buffer:  DefaultBuffer,
		logger:  logger,
		metrics: m,
	}
}

// subscription delivers events for one topic through a buffered channel
// drained by a single goroutine, so handler calls never overlap.
type subscription struct {
	hub     *Hub
	topic   string
	filter  EventFilter
	handler EventHandler

	events chan Event
	done   chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

// Subscribe registers handler for events on topic that pass filter.
// The subscription lives until Close is called or ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context, topic string, filter EventFilter, handler EventHandler) (Handle, error) {
	s := &subscription{
		hub:     h,
		topic:   topic,
		filter:  filter,
		handler: handler,
		events:  make(chan Event, h.buffer),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	if _, ok := h.subs[topic]; !ok {
		h.subs[topic] = make(map[*subscription]struct{})
	}
	h.subs[topic][s] = struct{}{}
	count := len(h.subs[topic])
	h.mu.Unlock()

	h.metrics.SubscriberOpened()
	h.logger.Debug("Subscription opened",
		"topic", topic,
		"collection", filter.Collection,
		"topic_subscribers", count,
	)

	go s.run(ctx)
	return s, nil
}

// Publish delivers e to every matching subscription on e.Topic.
// It never blocks: a subscription whose buffer is full is dropped.
func (h *Hub) Publish(e Event) {
	h.metrics.EventPublished(e.Collection, string(e.Kind))

	h.mu.RLock()
	var slow []*subscription
	delivered := 0
	for s := range h.subs[e.Topic] {
		if !s.filter.Matches(e) {
			continue
		}
		select {
		case s.events <- e:
			delivered++
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.metrics.EventDropped()
		h.logger.Warn("Dropping slow subscriber", "topic", s.topic, "collection", s.filter.Collection)
		s.stop(ErrSlowSubscriber)
	}

	h.logger.Debug("Event published",
		"event_id", e.ID,
		"kind", e.Kind,
		"collection", e.Collection,
		"topic", e.Topic,
		"delivered", delivered,
	)
}

// Subscribers returns the number of open subscriptions on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

func (h *Hub) remove(s *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subs[s.topic]
	if !ok {
		return
	}
	if _, ok := subs[s]; !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.subs, s.topic)
	}
	h.metrics.SubscriberClosed()
}

func (s *subscription) run(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			s.stop(ctx.Err())
			return
		case e := <-s.events:
			// Close may have raced with a buffered event.
			select {
			case <-s.done:
				return
			default:
			}
			s.handler(ctx, e)
		}
	}
}

func (s *subscription) stop(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.hub.remove(s)
		close(s.done)
		s.hub.logger.Debug("Subscription closed", "topic", s.topic, "reason", err)
	})
}

// Close stops delivery.
func (s *subscription) Close() error {
	s.stop(nil)
	return nil
}

func (s *subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns why the subscription stopped, or nil if it was closed normally
// or is still open.
func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

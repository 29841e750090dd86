package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ikimina/circles/internal/models"
	"github.com/ikimina/circles/internal/realtime"
	"github.com/ikimina/circles/internal/remote"
)

// Item is a record with its author's display data attached.
type Item[T any] struct {
	Value     T
	UserName  string
	UserPhoto string
	UserPhone string
}

// Source describes which collection a view mirrors and how to read its records.
type Source[T any] struct {
	Collection string
	// OrderBy is the creation-time field the bulk read sorts on, ascending.
	OrderBy string
	// Filters narrow the bulk read beyond the group filter.
	Filters []remote.Filter
	// Keep reports whether a record belongs in the view. Records that stop
	// matching after an update are removed. Nil keeps everything.
	Keep func(T) bool
	// ID and Actor return the record's ID and its author's user ID.
	ID    func(T) string
	Actor func(T) string
}

// Deps are the collaborators shared by all views.
type Deps struct {
	Client   remote.Client
	Feed     realtime.Subscriber
	Enricher *Enricher
	Logger   *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Enricher == nil {
		d.Enricher = NewEnricher(d.Client, 0, d.Logger)
	}
	return d
}

// View is the local, ordered, enriched copy of one collection for one group.
// It is safe for concurrent use; remote calls never run under its lock.
type View[T any] struct {
	deps   Deps
	source Source[T]
	logger *slog.Logger

	mu       sync.Mutex
	gen      uint64
	state    State
	groupID  string
	items    []Item[T]
	index    map[string]int
	err      error
	sub      realtime.Handle
	onChange func()
}

// NewView creates an idle view over source.
func NewView[T any](deps Deps, source Source[T]) *View[T] {
	deps = deps.withDefaults()
	if source.OrderBy == "" {
		source.OrderBy = "created_at"
	}
	return &View[T]{
		deps:   deps,
		source: source,
		logger: deps.Logger.With("collection", source.Collection),
		index:  make(map[string]int),
	}
}

// OnChange registers fn to be called, without the view's lock held, after
// every change to the state or the sequence.
func (v *View[T]) OnChange(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onChange = fn
}

// Activate loads the view for groupID and starts following its change feed.
// Any previous activation is abandoned. A failed read leaves the view Failed
// with an empty sequence.
func (v *View[T]) Activate(ctx context.Context, groupID string) error {
	v.mu.Lock()
	v.gen++
	gen := v.gen
	old := v.detachSubLocked()
	v.state = Loading
	v.groupID = groupID
	v.items = nil
	v.index = make(map[string]int)
	v.err = nil
	v.mu.Unlock()
	closeSub(old)
	v.changed()

	v.logger.Debug("Activating view", "group_id", groupID, "generation", gen)

	items, err := v.load(ctx, groupID)

	v.mu.Lock()
	if v.gen != gen {
		v.mu.Unlock()
		v.logger.Debug("Discarding stale read", "group_id", groupID, "generation", gen)
		return ErrStale
	}
	if err != nil {
		v.state = Failed
		v.err = err
		v.mu.Unlock()
		v.changed()
		v.logger.Warn("View failed to load", "group_id", groupID, "error", err)
		return err
	}
	v.items = items
	for i, it := range items {
		v.index[v.source.ID(it.Value)] = i
	}
	v.state = Ready
	v.mu.Unlock()
	v.changed()

	filter := realtime.EventFilter{
		Collection: v.source.Collection,
		Match:      map[string]string{"group_id": groupID},
	}
	// The subscription outlives the activating call; only Deactivate or the
	// next Activate ends it.
	sub, err := v.deps.Feed.Subscribe(context.WithoutCancel(ctx), groupID, filter, v.handler(gen))
	if err != nil {
		v.mu.Lock()
		if v.gen == gen {
			v.state = Failed
			v.err = err
		}
		v.mu.Unlock()
		v.changed()
		v.logger.Warn("View failed to subscribe", "group_id", groupID, "error", err)
		return fmt.Errorf("failed to subscribe to %s: %w", groupID, err)
	}

	v.mu.Lock()
	if v.gen != gen {
		v.mu.Unlock()
		sub.Close()
		return ErrStale
	}
	v.sub = sub
	v.mu.Unlock()
	go v.watch(gen, groupID, sub)

	v.logger.Info("View ready", "group_id", groupID, "records", len(items))
	return nil
}

// watch moves the view to Failed if its subscription ends on its own, for
// example when the feed drops it for falling behind. The sequence is kept
// but no longer follows the store until Refresh.
func (v *View[T]) watch(gen uint64, groupID string, sub realtime.Handle) {
	<-sub.Done()
	err := sub.Err()
	if err == nil {
		return
	}

	v.mu.Lock()
	if v.gen != gen || v.sub != sub {
		v.mu.Unlock()
		return
	}
	v.sub = nil
	v.state = Failed
	v.err = fmt.Errorf("change feed for %s ended: %w", groupID, err)
	v.mu.Unlock()
	v.changed()
	v.logger.Warn("View lost its change feed", "group_id", groupID, "error", err)
}

// Refresh reloads the active group.
func (v *View[T]) Refresh(ctx context.Context) error {
	groupID := v.GroupID()
	if groupID == "" {
		return ErrInactive
	}
	return v.Activate(ctx, groupID)
}

// Deactivate closes the subscription and returns the view to Idle. Reads
// still in flight are discarded when they finish.
func (v *View[T]) Deactivate() {
	v.mu.Lock()
	v.gen++
	old := v.detachSubLocked()
	v.state = Idle
	v.groupID = ""
	v.items = nil
	v.index = make(map[string]int)
	v.err = nil
	v.mu.Unlock()
	closeSub(old)
	v.changed()
}

// State returns the current lifecycle stage.
func (v *View[T]) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Err returns the failure that put the view in Failed, if any.
func (v *View[T]) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// GroupID returns the active group, or "" when idle.
func (v *View[T]) GroupID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.groupID
}

// Items returns a copy of the sequence.
func (v *View[T]) Items() []Item[T] {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Item[T], len(v.items))
	copy(out, v.items)
	return out
}

// Len returns the number of records in the sequence.
func (v *View[T]) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.items)
}

// Get returns the record with the given ID.
func (v *View[T]) Get(id string) (Item[T], bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	i, ok := v.index[id]
	if !ok {
		return Item[T]{}, false
	}
	return v.items[i], true
}

// load performs the bulk read and the batched profile read.
func (v *View[T]) load(ctx context.Context, groupID string) ([]Item[T], error) {
	filters := append([]remote.Filter{remote.Eq("group_id", groupID)}, v.source.Filters...)
	recs, err := v.deps.Client.Query(ctx, remote.Query{
		Collection: v.source.Collection,
		Filters:    filters,
		OrderBy:    v.source.OrderBy,
	})
	if err != nil {
		return nil, err
	}
	values, err := remote.DecodeAll[T](recs)
	if err != nil {
		return nil, err
	}

	actors := make([]string, 0, len(values))
	for _, val := range values {
		actors = append(actors, v.source.Actor(val))
	}
	profiles, err := v.deps.Enricher.Batch(ctx, actors)
	if err != nil {
		// Records are still shown, under the fallback name
		v.logger.Warn("Profile lookup failed", "group_id", groupID, "error", err)
	}

	items := make([]Item[T], 0, len(values))
	for _, val := range values {
		if v.source.Keep != nil && !v.source.Keep(val) {
			continue
		}
		p, ok := profiles[v.source.Actor(val)]
		items = append(items, enriched(val, p, ok))
	}
	return items, nil
}

// handler applies change events for one generation of the view.
func (v *View[T]) handler(gen uint64) realtime.EventHandler {
	return func(ctx context.Context, e realtime.Event) {
		if !v.current(gen) {
			return
		}
		val, err := remote.Decode[T](e.Record)
		if err != nil {
			v.logger.Error("Failed to decode event", "event_id", e.ID, "error", err)
			return
		}

		switch e.Kind {
		case realtime.KindInsert:
			v.insert(ctx, gen, val)
		case realtime.KindUpdate:
			v.update(gen, val)
		case realtime.KindDelete:
			v.remove(gen, v.source.ID(val))
		}
	}
}

// insert appends a newly created record at the tail, unless it is already
// present.
func (v *View[T]) insert(ctx context.Context, gen uint64, val T) {
	id := v.source.ID(val)
	if v.source.Keep != nil && !v.source.Keep(val) {
		return
	}
	if v.has(gen, id) {
		v.logger.Debug("Ignoring duplicate insert", "id", id)
		return
	}

	actor := v.source.Actor(val)
	p, ok, err := v.deps.Enricher.One(ctx, actor)
	if err != nil {
		v.logger.Warn("Profile lookup failed", "user_id", actor, "error", err)
	}

	v.mu.Lock()
	if v.gen != gen || v.state != Ready {
		v.mu.Unlock()
		return
	}
	if _, dup := v.index[id]; dup {
		v.mu.Unlock()
		return
	}
	v.index[id] = len(v.items)
	v.items = append(v.items, enriched(val, p, ok))
	v.mu.Unlock()
	v.changed()
}

// update replaces a record in place, keeping its position and author data,
// or removes it when it no longer belongs in the view.
func (v *View[T]) update(gen uint64, val T) {
	id := v.source.ID(val)
	if v.source.Keep != nil && !v.source.Keep(val) {
		v.remove(gen, id)
		return
	}

	v.mu.Lock()
	i, ok := v.index[id]
	if v.gen != gen || !ok {
		v.mu.Unlock()
		return
	}
	v.items[i].Value = val
	v.mu.Unlock()
	v.changed()
}

func (v *View[T]) remove(gen uint64, id string) {
	v.mu.Lock()
	if v.gen != gen {
		v.mu.Unlock()
		return
	}
	if !v.removeLocked(id) {
		v.mu.Unlock()
		return
	}
	v.mu.Unlock()
	v.changed()
}

// removeLocal drops a record after a successful remote delete, without
// waiting for the change event.
func (v *View[T]) removeLocal(id string) {
	v.mu.Lock()
	removed := v.removeLocked(id)
	v.mu.Unlock()
	if removed {
		v.changed()
	}
}

func (v *View[T]) removeLocked(id string) bool {
	i, ok := v.index[id]
	if !ok {
		return false
	}
	v.items = append(v.items[:i], v.items[i+1:]...)
	delete(v.index, id)
	for j := i; j < len(v.items); j++ {
		v.index[v.source.ID(v.items[j].Value)] = j
	}
	return true
}

func (v *View[T]) has(gen uint64, id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.index[id]
	return v.gen == gen && ok
}

func (v *View[T]) current(gen uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.gen == gen && v.state == Ready
}

// detachSubLocked clears the subscription so the caller can close it after
// releasing v.mu; handlers take v.mu.
func (v *View[T]) detachSubLocked() realtime.Handle {
	sub := v.sub
	v.sub = nil
	return sub
}

func closeSub(sub realtime.Handle) {
	if sub != nil {
		sub.Close()
	}
}

func (v *View[T]) changed() {
	v.mu.Lock()
	fn := v.onChange
	v.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func enriched[T any](val T, p models.Profile, found bool) Item[T] {
	it := Item[T]{Value: val, UserName: UnknownUser}
	if found {
		if p.Name != "" {
			it.UserName = p.Name
		}
		it.UserPhoto = p.Photo
		it.UserPhone = p.Phone
	}
	return it
}

package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ikimina/circles/internal/models"
	"github.com/ikimina/circles/internal/remote"
)

// Enricher reads profiles for record authors. With a TTL it remembers
// profiles for that long, so event bursts from the same authors cost one
// read. A zero TTL reads on every call.
type Enricher struct {
	client remote.Client
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]cachedProfile
}

type cachedProfile struct {
	profile models.Profile
	found   bool
	expires time.Time
}

// NewEnricher creates an Enricher. ttl of zero disables caching.
func NewEnricher(client remote.Client, ttl time.Duration, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		client: client,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
		cache:  make(map[string]cachedProfile),
	}
}

// Batch returns the profiles of the given users, keyed by user ID, in one
// read. Users without a profile are absent from the map.
func (e *Enricher) Batch(ctx context.Context, userIDs []string) (map[string]models.Profile, error) {
	out := make(map[string]models.Profile, len(userIDs))
	missing := e.fromCache(userIDs, out)
	if len(missing) == 0 {
		return out, nil
	}

	recs, err := e.client.Query(ctx, remote.Query{
		Collection: models.CollectionProfiles,
		Filters:    []remote.Filter{remote.In("user_id", missing)},
	})
	if err != nil {
		return out, err
	}
	profiles, err := remote.DecodeAll[models.Profile](recs)
	if err != nil {
		return out, err
	}

	found := make(map[string]models.Profile, len(profiles))
	for _, p := range profiles {
		found[p.UserID] = p
		out[p.UserID] = p
	}
	e.store(missing, found)

	e.logger.Debug("Profiles loaded", "requested", len(missing), "found", len(profiles))
	return out, nil
}

// One returns the profile of a single user. The bool is false when the
// user has no profile.
func (e *Enricher) One(ctx context.Context, userID string) (models.Profile, bool, error) {
	if p, ok, hit := e.cached(userID); hit {
		return p, ok, nil
	}

	recs, err := e.client.Query(ctx, remote.Query{
		Collection: models.CollectionProfiles,
		Filters:    []remote.Filter{remote.Eq("user_id", userID)},
		Limit:      1,
	})
	if err != nil {
		return models.Profile{}, false, err
	}

	byUser := map[string]models.Profile{}
	if len(recs) > 0 {
		p, err := remote.Decode[models.Profile](recs[0])
		if err != nil {
			return models.Profile{}, false, err
		}
		byUser[userID] = p
	}
	e.store([]string{userID}, byUser)

	p, ok := byUser[userID]
	return p, ok, nil
}

// Forget drops a cached profile, e.g. after the user edits it.
func (e *Enricher) Forget(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cache, userID)
}

// fromCache copies cached profiles into out and returns the IDs that still
// need a read, without duplicates.
func (e *Enricher) fromCache(userIDs []string, out map[string]models.Profile) []string {
	seen := make(map[string]bool, len(userIDs))
	var missing []string
	for _, id := range userIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		p, ok, hit := e.cached(id)
		if !hit {
			missing = append(missing, id)
			continue
		}
		if ok {
			out[id] = p
		}
	}
	return missing
}

func (e *Enricher) cached(userID string) (models.Profile, bool, bool) {
	if e.ttl <= 0 {
		return models.Profile{}, false, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c, hit := e.cache[userID]
	if !hit || !e.now().Before(c.expires) {
		return models.Profile{}, false, false
	}
	return c.profile, c.found, true
}

func (e *Enricher) store(userIDs []string, found map[string]models.Profile) {
	if e.ttl <= 0 {
		return
	}
	expires := e.now().Add(e.ttl)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range userIDs {
		p, ok := found[id]
		e.cache[id] = cachedProfile{profile: p, found: ok, expires: expires}
	}
}

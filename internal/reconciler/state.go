// Package reconciler keeps local, in-memory views of group collections in
// step with the remote store.
//
// A view is activated for one group: it bulk-reads the collection ordered by
// creation time, attaches profile data for every author, and then follows the
// group's change feed. Inserts are appended at the tail, duplicates are
// ignored, updates patch in place and deletes remove. Each activation bumps a
// generation counter; reads and events that belong to an older generation are
// dropped when they arrive. A view whose subscription is ended by the feed
// moves to Failed and keeps its sequence until it is refreshed.
//
// Mutations (send, delete, approve, reject, remove) write to the remote store
// only. The local sequence changes when the corresponding event comes back.
package reconciler

import "errors"

// State is the lifecycle stage of a view.
type State int

const (
	Idle State = iota
	Loading
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return "unknown"
}

var (
	// ErrStale is returned by Activate when the view was reactivated or
	// deactivated before the activation finished. Its results were discarded.
	ErrStale = errors.New("view changed before the read completed")

	// ErrInactive is returned by mutations on a view with no active group.
	ErrInactive = errors.New("view is not active")

	// ErrGroupFull is wrapped in the conflict returned when approving a
	// request for a group at its size limit.
	ErrGroupFull = errors.New("group is full")

	// ErrAlreadyDecided is wrapped in the conflict returned when deciding a
	// request that is no longer pending.
	ErrAlreadyDecided = errors.New("join request already decided")
)

// UnknownUser is the display name used when an author has no profile.
const UnknownUser = "Unknown User"

// Package notify delivers notifications to users by writing them to the
// notifications collection, where the recipient's change feed picks them up.
package notify

import (
	"context"
	"errors"

	"github.com/ikimina/circles/internal/apperrors"
	"github.com/ikimina/circles/internal/models"
	"github.com/ikimina/circles/internal/remote"
)

// Notification types.
const (
	TypeJoinApproved = "join_request_approved"
	TypeJoinRejected = "join_request_rejected"
)

// Dispatcher sends a notification. Failures are *apperrors.DispatchError.
type Dispatcher interface {
	Notify(ctx context.Context, n models.Notification) error
}

// StoreDispatcher stores notifications through a remote.Client.
type StoreDispatcher struct {
	client remote.Client
}

// Ensure StoreDispatcher implements Dispatcher
var _ Dispatcher = (*StoreDispatcher)(nil)

func NewStoreDispatcher(client remote.Client) *StoreDispatcher {
	return &StoreDispatcher{client: client}
}

func (d *StoreDispatcher) Notify(ctx context.Context, n models.Notification) error {
	if n.UserID == "" {
		return &apperrors.DispatchError{Err: errors.New("notification has no recipient")}
	}
	n.Read = false
	rec, err := remote.Encode(n)
	if err != nil {
		return &apperrors.DispatchError{Err: err}
	}
	delete(rec, "id")
	delete(rec, "created_at")
	if _, err := d.client.Insert(ctx, models.CollectionNotifications, rec); err != nil {
		return &apperrors.DispatchError{Err: err}
	}
	return nil
}

// JoinDecision builds the notification sent when a join request is decided.
// groupName may be empty when the group could not be read.
func JoinDecision(userID, groupID, groupName string, approved bool) models.Notification {
	if groupName == "" {
		groupName = "the group"
	}
	n := models.Notification{UserID: userID, RelatedID: groupID}
	if approved {
		n.Type = TypeJoinApproved
		n.Title = "Join Request Approved!"
		n.Message = "Your request to join " + groupName + " has been approved."
	} else {
		n.Type = TypeJoinRejected
		n.Title = "Join Request Declined"
		n.Message = "Your request to join " + groupName + " has been declined."
	}
	return n
}

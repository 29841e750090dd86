package reconciler

import (
	"context"

	"github.com/ikimina/circles/internal/apperrors"
	"github.com/ikimina/circles/internal/models"
	"github.com/ikimina/circles/internal/remote"
)

// Members lists the memberships of a group.
type Members struct {
	*View[models.Membership]
	client remote.Client
}

// NewMembers creates an idle member list.
func NewMembers(deps Deps) *Members {
	deps = deps.withDefaults()
	return &Members{
		View: NewView(deps, Source[models.Membership]{
			Collection: models.CollectionMembers,
			OrderBy:    "joined_at",
			ID:         func(m models.Membership) string { return m.ID },
			Actor:      func(m models.Membership) string { return m.UserID },
		}),
		client: deps.Client,
	}
}

// Remove deletes a membership and decrements the group's member_count on the
// server. Only group admins may remove members.
func (m *Members) Remove(ctx context.Context, membershipID, groupID string, requesterIsAdmin bool) error {
	if !requesterIsAdmin {
		return apperrors.Unauthorized("only the group admin can remove members")
	}
	logger := m.View.logger.With("membership_id", membershipID, "group_id", groupID)

	n, err := m.client.Delete(ctx, models.CollectionMembers, []remote.Filter{
		remote.Eq("id", membershipID),
		remote.Eq("group_id", groupID),
	})
	if err != nil {
		logger.Warn("Failed to remove member", "error", err)
		return err
	}
	if n == 0 {
		// Already gone; the count was adjusted by whoever removed it
		logger.Debug("Membership already removed")
		return nil
	}

	count, err := m.client.Adjust(ctx, models.CollectionGroups, groupID, "member_count", -1)
	if err != nil {
		logger.Error("Member removed but member_count not updated", "error", err)
		return &apperrors.PartialFailureError{
			Operation: "remove member",
			Step:      2,
			Completed: "membership deleted",
			Err:       err,
		}
	}

	m.removeLocal(membershipID)
	logger.Info("Member removed", "member_count", count)
	return nil
}

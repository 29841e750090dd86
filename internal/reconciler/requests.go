package reconciler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ikimina/circles/internal/apperrors"
	"github.com/ikimina/circles/internal/models"
	"github.com/ikimina/circles/internal/notify"
	"github.com/ikimina/circles/internal/remote"
)

// JoinRequests is the admin's list of pending join requests for a group.
type JoinRequests struct {
	*View[models.JoinRequest]
	client   remote.Client
	notifier notify.Dispatcher
}

// NewJoinRequests creates an idle join request view. notifier may be nil,
// in which case decisions are not announced.
func NewJoinRequests(deps Deps, notifier notify.Dispatcher) *JoinRequests {
	deps = deps.withDefaults()
	return &JoinRequests{
		View: NewView(deps, Source[models.JoinRequest]{
			Collection: models.CollectionJoinRequests,
			OrderBy:    "created_at",
			Filters:    []remote.Filter{remote.Eq("status", string(models.StatusPending))},
			Keep:       func(r models.JoinRequest) bool { return r.Status == models.StatusPending },
			ID:         func(r models.JoinRequest) string { return r.ID },
			Actor:      func(r models.JoinRequest) string { return r.UserID },
		}),
		client:   deps.Client,
		notifier: notifier,
	}
}

// Decide approves or rejects a join request.
//
// The request and the group are read first. Only a pending request belonging
// to groupID and userID can be decided; deciding it again is a conflict.
// Approving into a full group is a conflict and writes nothing. Then, in order: the request status is set; on approval the
// membership is created and member_count is incremented atomically; the
// applicant is notified; and the pending list is reloaded. Nothing is rolled
// back: a failure after the status write returns *apperrors.PartialFailureError.
// A failed notification is logged and otherwise ignored.
func (j *JoinRequests) Decide(ctx context.Context, requestID, groupID, userID string, decision models.RequestStatus) error {
	if !decision.Decision() {
		return apperrors.Invalid("decision", "must be approved or rejected")
	}
	if requestID == "" || groupID == "" || userID == "" {
		return apperrors.Invalid("request", "is incomplete")
	}
	approved := decision == models.StatusApproved
	logger := j.View.logger.With("request_id", requestID, "group_id", groupID, "user_id", userID, "decision", decision)

	req, err := readRequest(ctx, j.client, requestID)
	if err != nil {
		logger.Warn("Join decision failed", "step", "read request", "error", err)
		return err
	}
	if req.GroupID != groupID || req.UserID != userID {
		return apperrors.Invalid("request", "does not belong to this group and user")
	}
	if req.Status != models.StatusPending {
		logger.Warn("Join decision refused", "status", req.Status)
		return apperrors.Remote(apperrors.KindConflict, "decide join request",
			fmt.Errorf("%w: %s", ErrAlreadyDecided, req.Status))
	}

	group, err := readGroup(ctx, j.client, groupID)
	if err != nil {
		logger.Warn("Join decision failed", "step", "read group", "error", err)
		return err
	}
	if approved && group.Full() {
		logger.Warn("Join decision refused", "member_count", group.MemberCount, "size", group.Size)
		return apperrors.Remote(apperrors.KindConflict, "approve join request", ErrGroupFull)
	}

	// 1. status
	if err := j.client.Update(ctx, models.CollectionJoinRequests, requestID, remote.Record{
		"status": string(decision),
	}); err != nil {
		logger.Warn("Join decision failed", "step", 1, "error", err)
		return err
	}

	// 2. membership and counter
	if approved {
		if _, err := j.client.Insert(ctx, models.CollectionMembers, remote.Record{
			"group_id":        groupID,
			"user_id":         userID,
			"current_balance": "0",
		}); err != nil {
			return partialDecision(logger, 2, "request status set to approved", err)
		}
		count, err := j.client.Adjust(ctx, models.CollectionGroups, groupID, "member_count", 1)
		if err != nil {
			return partialDecision(logger, 2, "request approved and membership created", err)
		}
		logger = logger.With("member_count", count)
	}

	// 3. notification
	if j.notifier != nil {
		if err := j.notifier.Notify(ctx, notify.JoinDecision(userID, groupID, group.Name, approved)); err != nil {
			logger.Warn("Join decision notification failed", "error", err)
		}
	}

	logger.Info("Join request decided")

	// 4. reload pending requests
	if j.GroupID() == groupID {
		if err := j.Refresh(ctx); err != nil {
			logger.Warn("Failed to reload join requests", "error", err)
		}
	}
	return nil
}

func partialDecision(logger *slog.Logger, step int, completed string, err error) error {
	logger.Error("Join decision partially applied", "step", step, "completed", completed, "error", err)
	return &apperrors.PartialFailureError{
		Operation: "decide join request",
		Step:      step,
		Completed: completed,
		Err:       err,
	}
}

func readGroup(ctx context.Context, client remote.Client, groupID string) (models.Group, error) {
	recs, err := client.Query(ctx, remote.Query{
		Collection: models.CollectionGroups,
		Filters:    []remote.Filter{remote.Eq("id", groupID)},
		Limit:      1,
	})
	if err != nil {
		return models.Group{}, err
	}
	if len(recs) == 0 {
		return models.Group{}, apperrors.Remote(apperrors.KindNotFound, "query groups",
			fmt.Errorf("group %s does not exist", groupID))
	}
	return remote.Decode[models.Group](recs[0])
}

func readRequest(ctx context.Context, client remote.Client, requestID string) (models.JoinRequest, error) {
	recs, err := client.Query(ctx, remote.Query{
		Collection: models.CollectionJoinRequests,
		Filters:    []remote.Filter{remote.Eq("id", requestID)},
		Limit:      1,
	})
	if err != nil {
		return models.JoinRequest{}, err
	}
	if len(recs) == 0 {
		return models.JoinRequest{}, apperrors.Remote(apperrors.KindNotFound, "query join requests",
			fmt.Errorf("join request %s does not exist", requestID))
	}
	return remote.Decode[models.JoinRequest](recs[0])
}

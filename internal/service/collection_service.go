package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/ikimina/circles/internal/apperrors"
	"github.com/ikimina/circles/internal/middleware"
	"github.com/ikimina/circles/internal/models"
	"github.com/ikimina/circles/internal/remote"
	"github.com/ikimina/circles/internal/storage"
	"github.com/ikimina/circles/pkg/api"
	"github.com/ikimina/circles/pkg/api/apiconnect"
)

var (
	errSignInRequired = errors.New("sign in required")
	errReadOnly       = errors.New("collection is read-only")
	errNotOwner       = errors.New("record belongs to another user")
	errNotAdmin       = errors.New("only the group admin can do this")
)

// readOnly collections are published content; anyone may read them and
// nobody writes them through the API.
var readOnly = map[string]bool{
	models.CollectionEvents:       true,
	models.CollectionFAQs:         true,
	models.CollectionTips:         true,
	models.CollectionTestimonials: true,
	models.CollectionBlogPosts:    true,
}

// owners names the column that must hold the caller's ID when a record of
// the collection is created or deleted.
var owners = map[string]string{
	models.CollectionGroups:       "created_by",
	models.CollectionMessages:     "user_id",
	models.CollectionDiscussion:   "user_id",
	models.CollectionJoinRequests: "user_id",
	models.CollectionProfiles:     "user_id",
}

// editors lists the collections whose records only their owner may patch.
// Join requests are excluded: the group admin decides them.
var editors = map[string]bool{
	models.CollectionGroups:     true,
	models.CollectionMessages:   true,
	models.CollectionDiscussion: true,
	models.CollectionProfiles:   true,
}

// groupScoped collections hold records that the group's creator administers.
// Their group_id cannot be patched.
var groupScoped = map[string]bool{
	models.CollectionMembers:      true,
	models.CollectionJoinRequests: true,
}

// CollectionService implements the Connect CollectionService on top of a
// remote.Client, normally a remote.Local so writes reach the change feed.
type CollectionService struct {
	backend remote.Client
	logger  *slog.Logger
}

// Ensure CollectionService implements the handler interface
var _ apiconnect.CollectionServiceHandler = (*CollectionService)(nil)

// NewCollectionService creates a CollectionService.
func NewCollectionService(backend remote.Client, logger *slog.Logger) *CollectionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollectionService{backend: backend, logger: logger}
}

// Query reads a collection. Published content is readable anonymously.
func (s *CollectionService) Query(ctx context.Context, req *connect.Request[api.QueryRequest]) (*connect.Response[api.QueryResponse], error) {
	q := req.Msg.Query
	s.logger.Debug("Query request received",
		"collection", q.Collection,
		"filters", len(q.Filters),
		"order_by", q.OrderBy,
	)

	if !readOnly[q.Collection] && middleware.GetUserID(ctx) == "" {
		return nil, connect.NewError(connect.CodeUnauthenticated, errSignInRequired)
	}

	recs, err := s.backend.Query(ctx, q)
	if err != nil {
		return nil, connectError(err)
	}

	return connect.NewResponse(&api.QueryResponse{Records: recs}), nil
}

// Insert creates a record. The owner column, if the collection has one, is
// filled with the caller's ID and may not name anyone else.
func (s *CollectionService) Insert(ctx context.Context, req *connect.Request[api.InsertRequest]) (*connect.Response[api.InsertResponse], error) {
	collection := req.Msg.Collection
	userID, err := s.authorizeWrite(ctx, collection)
	if err != nil {
		return nil, err
	}

	rec := req.Msg.Record
	if rec == nil {
		rec = remote.Record{}
	}
	if field, ok := owners[collection]; ok {
		switch owner := rec.String(field); owner {
		case "":
			rec[field] = userID
		case userID:
		default:
			s.logger.Warn("Insert denied", "collection", collection, "user_id", userID, "owner", owner)
			return nil, connect.NewError(connect.CodePermissionDenied, errNotOwner)
		}
	}
	// Memberships are created by the admin, on group creation or approval.
	if collection == models.CollectionMembers {
		if err := s.requireAdmin(ctx, rec.String("group_id"), userID); err != nil {
			return nil, err
		}
	}

	stored, err := s.backend.Insert(ctx, collection, rec)
	if err != nil {
		return nil, connectError(err)
	}

	s.logger.Info("Record inserted", "collection", collection, "id", stored.String("id"), "user_id", userID)
	return connect.NewResponse(&api.InsertResponse{Record: stored}), nil
}

// Update patches a record. Ownership columns cannot be reassigned, and
// memberships and join requests are patched only by the group admin.
func (s *CollectionService) Update(ctx context.Context, req *connect.Request[api.UpdateRequest]) (*connect.Response[api.UpdateResponse], error) {
	collection := req.Msg.Collection
	userID, err := s.authorizeWrite(ctx, collection)
	if err != nil {
		return nil, err
	}
	if field, ok := owners[collection]; ok {
		if _, ok := req.Msg.Patch[field]; ok {
			return nil, connect.NewError(connect.CodePermissionDenied, fmt.Errorf("%s cannot be changed", field))
		}
		if editors[collection] {
			if err := s.checkOwner(ctx, collection, req.Msg.ID, field, userID); err != nil {
				return nil, err
			}
		}
	}
	if groupScoped[collection] {
		if _, ok := req.Msg.Patch["group_id"]; ok {
			return nil, connect.NewError(connect.CodePermissionDenied, errors.New("group_id cannot be changed"))
		}
		rec, err := s.read(ctx, collection, req.Msg.ID)
		if err != nil {
			return nil, err
		}
		if err := s.requireAdmin(ctx, rec.String("group_id"), userID); err != nil {
			return nil, err
		}
	}

	if err := s.backend.Update(ctx, collection, req.Msg.ID, req.Msg.Patch); err != nil {
		return nil, connectError(err)
	}

	s.logger.Info("Record updated", "collection", collection, "id", req.Msg.ID, "user_id", userID)
	return connect.NewResponse(&api.UpdateResponse{}), nil
}

// Delete removes matching records. For owned collections the filters must
// pin the owner column to the caller, so a mismatch deletes nothing.
// Memberships may be deleted by the admin of the group named in the filters;
// anyone else only deletes their own.
func (s *CollectionService) Delete(ctx context.Context, req *connect.Request[api.DeleteRequest]) (*connect.Response[api.DeleteResponse], error) {
	collection := req.Msg.Collection
	userID, err := s.authorizeWrite(ctx, collection)
	if err != nil {
		return nil, err
	}

	filters := req.Msg.Filters
	if field, ok := owners[collection]; ok {
		filters = append(filters, remote.Eq(field, userID))
	}
	if collection == models.CollectionMembers {
		admin, err := s.isAdmin(ctx, eqValue(filters, "group_id"), userID)
		if err != nil {
			return nil, err
		}
		if !admin {
			filters = append(filters, remote.Eq("user_id", userID))
		}
	}

	n, err := s.backend.Delete(ctx, collection, filters)
	if err != nil {
		return nil, connectError(err)
	}

	s.logger.Info("Records deleted", "collection", collection, "deleted", n, "user_id", userID)
	return connect.NewResponse(&api.DeleteResponse{Deleted: n}), nil
}

// Adjust applies an atomic counter change. Group counters belong to the
// group admin and other owned records to their owner.
func (s *CollectionService) Adjust(ctx context.Context, req *connect.Request[api.AdjustRequest]) (*connect.Response[api.AdjustResponse], error) {
	msg := req.Msg
	userID, err := s.authorizeWrite(ctx, msg.Collection)
	if err != nil {
		return nil, err
	}
	switch field, owned := owners[msg.Collection]; {
	case msg.Collection == models.CollectionGroups:
		if err := s.requireAdmin(ctx, msg.ID, userID); err != nil {
			return nil, err
		}
	case owned:
		if err := s.checkOwner(ctx, msg.Collection, msg.ID, field, userID); err != nil {
			return nil, err
		}
	}

	value, err := s.backend.Adjust(ctx, msg.Collection, msg.ID, msg.Field, msg.Delta)
	if err != nil {
		return nil, connectError(err)
	}

	s.logger.Info("Counter adjusted",
		"collection", msg.Collection,
		"id", msg.ID,
		"field", msg.Field,
		"delta", msg.Delta,
		"value", value,
		"user_id", userID,
	)
	return connect.NewResponse(&api.AdjustResponse{Value: value}), nil
}

func (s *CollectionService) read(ctx context.Context, collection, id string) (remote.Record, error) {
	recs, err := s.backend.Query(ctx, remote.Query{
		Collection: collection,
		Filters:    []remote.Filter{remote.Eq("id", id)},
		Limit:      1,
	})
	if err != nil {
		return nil, connectError(err)
	}
	if len(recs) == 0 {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("%s %s not found", collection, id))
	}
	return recs[0], nil
}

func (s *CollectionService) checkOwner(ctx context.Context, collection, id, field, userID string) error {
	rec, err := s.read(ctx, collection, id)
	if err != nil {
		return err
	}
	if rec.String(field) != userID {
		s.logger.Warn("Update denied", "collection", collection, "id", id, "user_id", userID)
		return connect.NewError(connect.CodePermissionDenied, errNotOwner)
	}
	return nil
}

func (s *CollectionService) isAdmin(ctx context.Context, groupID, userID string) (bool, error) {
	if groupID == "" {
		return false, nil
	}
	recs, err := s.backend.Query(ctx, remote.Query{
		Collection: models.CollectionGroups,
		Filters:    []remote.Filter{remote.Eq("id", groupID)},
		Limit:      1,
	})
	if err != nil {
		return false, connectError(err)
	}
	return len(recs) == 1 && recs[0].String("created_by") == userID, nil
}

func (s *CollectionService) requireAdmin(ctx context.Context, groupID, userID string) error {
	if groupID == "" {
		return connect.NewError(connect.CodeInvalidArgument, errors.New("group_id is required"))
	}
	group, err := s.read(ctx, models.CollectionGroups, groupID)
	if err != nil {
		return err
	}
	if group.String("created_by") != userID {
		s.logger.Warn("Admin write denied", "group_id", groupID, "user_id", userID)
		return connect.NewError(connect.CodePermissionDenied, errNotAdmin)
	}
	return nil
}

// eqValue returns the value an equality filter pins field to, or "".
func eqValue(filters []remote.Filter, field string) string {
	for _, f := range filters {
		if f.Field == field && f.Op == storage.OpEq {
			if v, ok := f.Value.(string); ok {
				return v
			}
		}
	}
	return ""
}

func (s *CollectionService) authorizeWrite(ctx context.Context, collection string) (string, error) {
	userID := middleware.GetUserID(ctx)
	if userID == "" {
		return "", connect.NewError(connect.CodeUnauthenticated, errSignInRequired)
	}
	if readOnly[collection] {
		return "", connect.NewError(connect.CodePermissionDenied, errReadOnly)
	}
	return userID, nil
}

// connectError maps the client error taxonomy onto Connect codes.
func connectError(err error) error {
	var re *apperrors.RemoteError
	if errors.As(err, &re) {
		switch re.Kind {
		case apperrors.KindNotFound:
			return connect.NewError(connect.CodeNotFound, err)
		case apperrors.KindConflict:
			return connect.NewError(connect.CodeAlreadyExists, err)
		case apperrors.KindDenied:
			return connect.NewError(connect.CodePermissionDenied, err)
		}
		return connect.NewError(connect.CodeUnavailable, err)
	}
	var ve *apperrors.ValidationError
	if errors.As(err, &ve) {
		return connect.NewError(connect.CodeInvalidArgument, err)
	}
	var ae *apperrors.AuthError
	if errors.As(err, &ae) {
		return connect.NewError(connect.CodePermissionDenied, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

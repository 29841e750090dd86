// Package groups creates, configures, finds and joins savings groups.
package groups

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ikimina/circles/internal/apperrors"
	"github.com/ikimina/circles/internal/auth"
	"github.com/ikimina/circles/internal/models"
	"github.com/ikimina/circles/internal/remote"
)

var (
	// ErrAlreadyMember is returned when the caller asks to join a group they belong to.
	ErrAlreadyMember = errors.New("already a member of this group")
	// ErrAlreadyRequested is returned when the caller already has a request for the group.
	ErrAlreadyRequested = errors.New("already requested to join this group")
)

// Any matches every category or location in Criteria.
const Any = "all"

// Settings are the admin-editable attributes of a group.
type Settings struct {
	Name        string
	Description string
	Location    string
	Category    models.Category
	Size        int
}

// Validate checks the settings before anything is written.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return apperrors.Invalid("name", "is required")
	}
	if strings.TrimSpace(s.Location) == "" {
		return apperrors.Invalid("location", "is required")
	}
	if !s.Category.Valid() {
		return apperrors.Invalid("category", "must be women, youth or family")
	}
	if s.Size <= 0 {
		return apperrors.Invalid("size", "must be greater than zero")
	}
	return nil
}

func (s Settings) record() remote.Record {
	return remote.Record{
		"name":        strings.TrimSpace(s.Name),
		"description": strings.TrimSpace(s.Description),
		"location":    strings.TrimSpace(s.Location),
		"category":    string(s.Category),
		"size":        s.Size,
	}
}

// Criteria narrows Find. Empty fields and Any match everything.
type Criteria struct {
	// Search matches a case-insensitive substring of the group name.
	Search   string
	Category string
	Location string
}

func (c Criteria) matches(g models.Group) bool {
	if c.Search != "" && !strings.Contains(strings.ToLower(g.Name), strings.ToLower(strings.TrimSpace(c.Search))) {
		return false
	}
	if c.Category != "" && c.Category != Any && string(g.Category) != c.Category {
		return false
	}
	if c.Location != "" && c.Location != Any && g.Location != c.Location {
		return false
	}
	return true
}

// Membership is one of the caller's groups together with their place in it.
type Membership struct {
	models.Membership
	Group models.Group
}

// Service runs group operations as the signed-in user.
type Service struct {
	client   remote.Client
	identity auth.Identity
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Service.
func New(client remote.Client, identity auth.Identity, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{client: client, identity: identity, logger: logger, now: time.Now}
}

// Create makes a new group administered by the caller and adds the caller
// as its first member.
func (s *Service) Create(ctx context.Context, settings Settings) (models.Group, error) {
	user, err := auth.RequireUser(ctx, s.identity)
	if err != nil {
		return models.Group{}, err
	}
	if err := settings.Validate(); err != nil {
		return models.Group{}, err
	}

	rec := settings.record()
	rec["member_count"] = 1
	rec["current_balance"] = "0"
	rec["created_by"] = user.ID

	stored, err := s.client.Insert(ctx, models.CollectionGroups, rec)
	if err != nil {
		s.logger.Error("Failed to create group", "user_id", user.ID, "error", err)
		return models.Group{}, err
	}
	group, err := remote.Decode[models.Group](stored)
	if err != nil {
		return models.Group{}, err
	}

	if _, err := s.client.Insert(ctx, models.CollectionMembers, remote.Record{
		"group_id":        group.ID,
		"user_id":         user.ID,
		"current_balance": "0",
	}); err != nil {
		s.logger.Error("Group created without admin membership", "group_id", group.ID, "error", err)
		return group, &apperrors.PartialFailureError{
			Operation: "create group",
			Step:      2,
			Completed: "group created",
			Err:       err,
		}
	}

	s.logger.Info("Group created", "group_id", group.ID, "name", group.Name, "user_id", user.ID)
	return group, nil
}

// Get reads one group.
func (s *Service) Get(ctx context.Context, groupID string) (models.Group, error) {
	recs, err := s.client.Query(ctx, remote.Query{
		Collection: models.CollectionGroups,
		Filters:    []remote.Filter{remote.Eq("id", groupID)},
		Limit:      1,
	})
	if err != nil {
		return models.Group{}, err
	}
	if len(recs) == 0 {
		return models.Group{}, apperrors.Remote(apperrors.KindNotFound, "query groups",
			errors.New("group "+groupID+" does not exist"))
	}
	return remote.Decode[models.Group](recs[0])
}

// IsAdmin reports whether the caller created the group.
func (s *Service) IsAdmin(ctx context.Context, groupID string) (bool, error) {
	user, err := auth.RequireUser(ctx, s.identity)
	if err != nil {
		return false, err
	}
	group, err := s.Get(ctx, groupID)
	if err != nil {
		return false, err
	}
	return group.CreatedBy == user.ID, nil
}

// UpdateSettings changes a group's attributes. Only the admin may do this,
// and the size cannot drop below the current member count.
func (s *Service) UpdateSettings(ctx context.Context, groupID string, settings Settings) error {
	user, err := auth.RequireUser(ctx, s.identity)
	if err != nil {
		return err
	}
	group, err := s.Get(ctx, groupID)
	if err != nil {
		return err
	}
	if group.CreatedBy != user.ID {
		s.logger.Warn("Group settings change refused", "group_id", groupID, "user_id", user.ID)
		return apperrors.Unauthorized("only admins can modify group settings")
	}
	if err := settings.Validate(); err != nil {
		return err
	}
	if settings.Size < group.MemberCount {
		return apperrors.Invalid("size", "is below the current member count")
	}

	patch := settings.record()
	patch["updated_at"] = s.now().UnixMilli()
	if err := s.client.Update(ctx, models.CollectionGroups, groupID, patch); err != nil {
		s.logger.Error("Failed to update group settings", "group_id", groupID, "error", err)
		return err
	}

	s.logger.Info("Group settings updated", "group_id", groupID, "user_id", user.ID)
	return nil
}

// RequestToJoin files a pending join request for the caller.
func (s *Service) RequestToJoin(ctx context.Context, groupID string) error {
	user, err := auth.RequireUser(ctx, s.identity)
	if err != nil {
		return err
	}
	mine := []remote.Filter{remote.Eq("group_id", groupID), remote.Eq("user_id", user.ID)}

	members, err := s.client.Query(ctx, remote.Query{Collection: models.CollectionMembers, Filters: mine, Limit: 1})
	if err != nil {
		return err
	}
	if len(members) > 0 {
		return ErrAlreadyMember
	}

	requests, err := s.client.Query(ctx, remote.Query{Collection: models.CollectionJoinRequests, Filters: mine, Limit: 1})
	if err != nil {
		return err
	}
	if len(requests) > 0 {
		return ErrAlreadyRequested
	}

	rec, err := s.client.Insert(ctx, models.CollectionJoinRequests, remote.Record{
		"group_id": groupID,
		"user_id":  user.ID,
		"status":   string(models.StatusPending),
	})
	if err != nil {
		return err
	}

	s.logger.Info("Join request sent", "group_id", groupID, "request_id", rec.String("id"), "user_id", user.ID)
	return nil
}

// Find lists groups newest first, narrowed by c.
func (s *Service) Find(ctx context.Context, c Criteria) ([]models.Group, error) {
	recs, err := s.client.Query(ctx, remote.Query{
		Collection: models.CollectionGroups,
		OrderBy:    "created_at",
		Descending: true,
	})
	if err != nil {
		return nil, err
	}
	all, err := remote.DecodeAll[models.Group](recs)
	if err != nil {
		return nil, err
	}

	out := make([]models.Group, 0, len(all))
	for _, g := range all {
		if c.matches(g) {
			out = append(out, g)
		}
	}
	return out, nil
}

// MyGroups returns the caller's memberships with their groups, most
// recently joined first. Memberships whose group is gone are skipped.
func (s *Service) MyGroups(ctx context.Context) ([]Membership, error) {
	user, err := auth.RequireUser(ctx, s.identity)
	if err != nil {
		return nil, err
	}

	recs, err := s.client.Query(ctx, remote.Query{
		Collection: models.CollectionMembers,
		Filters:    []remote.Filter{remote.Eq("user_id", user.ID)},
		OrderBy:    "joined_at",
		Descending: true,
	})
	if err != nil {
		return nil, err
	}
	memberships, err := remote.DecodeAll[models.Membership](recs)
	if err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		return []Membership{}, nil
	}

	ids := make([]string, len(memberships))
	for i, m := range memberships {
		ids[i] = m.GroupID
	}
	groups, err := s.byID(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]Membership, 0, len(memberships))
	for _, m := range memberships {
		g, ok := groups[m.GroupID]
		if !ok {
			continue
		}
		out = append(out, Membership{Membership: m, Group: g})
	}
	return out, nil
}

func (s *Service) byID(ctx context.Context, ids []string) (map[string]models.Group, error) {
	recs, err := s.client.Query(ctx, remote.Query{
		Collection: models.CollectionGroups,
		Filters:    []remote.Filter{remote.In("id", ids)},
	})
	if err != nil {
		return nil, err
	}
	groups, err := remote.DecodeAll[models.Group](recs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.Group, len(groups))
	for _, g := range groups {
		out[g.ID] = g
	}
	return out, nil
}

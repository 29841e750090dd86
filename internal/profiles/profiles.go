// Package profiles reads and edits the signed-in user's profile, including
// the avatar photo.
package profiles

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/ikimina/circles/internal/apperrors"
	"github.com/ikimina/circles/internal/auth"
	"github.com/ikimina/circles/internal/models"
	"github.com/ikimina/circles/internal/objectstore"
	"github.com/ikimina/circles/internal/remote"
)

// MaxPhotoSize is the largest accepted avatar in bytes.
const MaxPhotoSize = 5 << 20

var photoTypes = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true,
}

// Changes are the editable profile fields.
type Changes struct {
	Name  string
	Phone string
}

// Forgetter drops cached copies of a user's profile.
type Forgetter interface {
	Forget(userID string)
}

// Service edits profiles as the signed-in user.
type Service struct {
	client   remote.Client
	identity auth.Identity
	objects  objectstore.Store
	cache    Forgetter
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Service. cache may be nil.
func New(client remote.Client, identity auth.Identity, objects objectstore.Store, cache Forgetter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		client:   client,
		identity: identity,
		objects:  objects,
		cache:    cache,
		logger:   logger,
		now:      time.Now,
	}
}

// Mine returns the caller's profile.
func (s *Service) Mine(ctx context.Context) (models.Profile, error) {
	user, err := auth.RequireUser(ctx, s.identity)
	if err != nil {
		return models.Profile{}, err
	}
	return s.byUser(ctx, user.ID)
}

// Update changes the caller's name and phone.
func (s *Service) Update(ctx context.Context, c Changes) (models.Profile, error) {
	user, err := auth.RequireUser(ctx, s.identity)
	if err != nil {
		return models.Profile{}, err
	}
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return models.Profile{}, apperrors.Invalid("name", "is required")
	}

	profile, err := s.byUser(ctx, user.ID)
	if err != nil {
		return models.Profile{}, err
	}

	profile.Name = name
	profile.Phone = strings.TrimSpace(c.Phone)
	profile.UpdatedAt = s.now().UnixMilli()
	err = s.client.Update(ctx, models.CollectionProfiles, profile.ID, remote.Record{
		"name":       profile.Name,
		"phone":      profile.Phone,
		"updated_at": profile.UpdatedAt,
	})
	if err != nil {
		s.logger.Error("Failed to update profile", "user_id", user.ID, "error", err)
		return models.Profile{}, err
	}
	s.forget(user.ID)

	s.logger.Info("Profile updated", "user_id", user.ID)
	return profile, nil
}

// UpdatePhoto replaces the caller's avatar. The old object is removed first,
// the new one is stored as <userID>/avatar.<ext> and its URL is saved on the
// profile. The new URL is returned.
func (s *Service) UpdatePhoto(ctx context.Context, filename string, data []byte) (string, error) {
	user, err := auth.RequireUser(ctx, s.identity)
	if err != nil {
		return "", err
	}

	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if !photoTypes[ext] {
		return "", apperrors.Invalid("photo", "must be a jpg, png, gif or webp image")
	}
	if len(data) == 0 {
		return "", apperrors.Invalid("photo", "is empty")
	}
	if len(data) > MaxPhotoSize {
		return "", apperrors.Invalid("photo", "is larger than 5 MB")
	}

	profile, err := s.byUser(ctx, user.ID)
	if err != nil {
		return "", err
	}

	if profile.Photo != "" {
		if old, ok := s.objects.PathOf(profile.Photo); ok {
			if err := s.objects.Remove(ctx, old); err != nil {
				// A stale object is harmless
				s.logger.Warn("Failed to remove old photo", "user_id", user.ID, "path", old, "error", err)
			}
		}
	}

	url, err := s.objects.Upload(ctx, user.ID+"/avatar."+ext, data)
	if err != nil {
		s.logger.Error("Failed to upload photo", "user_id", user.ID, "error", err)
		return "", err
	}

	err = s.client.Update(ctx, models.CollectionProfiles, profile.ID, remote.Record{
		"photo":      url,
		"updated_at": s.now().UnixMilli(),
	})
	if err != nil {
		return "", &apperrors.PartialFailureError{
			Operation: "update photo",
			Step:      2,
			Completed: "photo uploaded",
			Err:       err,
		}
	}
	s.forget(user.ID)

	s.logger.Info("Profile photo updated", "user_id", user.ID, "size", len(data))
	return url, nil
}

func (s *Service) byUser(ctx context.Context, userID string) (models.Profile, error) {
	recs, err := s.client.Query(ctx, remote.Query{
		Collection: models.CollectionProfiles,
		Filters:    []remote.Filter{remote.Eq("user_id", userID)},
		Limit:      1,
	})
	if err != nil {
		return models.Profile{}, err
	}
	if len(recs) == 0 {
		return models.Profile{}, apperrors.Remote(apperrors.KindNotFound, "query profiles",
			errors.New("no profile for user "+userID))
	}
	return remote.Decode[models.Profile](recs[0])
}

func (s *Service) forget(userID string) {
	if s.cache != nil {
		s.cache.Forget(userID)
	}
}

package profiles

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ikimina/circles/internal/apperrors"
	"github.com/ikimina/circles/internal/auth"
	"github.com/ikimina/circles/internal/models"
	"github.com/ikimina/circles/internal/objectstore"
	"github.com/ikimina/circles/internal/reconciler"
	"github.com/ikimina/circles/internal/remote"
	"github.com/ikimina/circles/internal/storage/sqlstore"
)

type fixedUser string

func (u fixedUser) CurrentUser(context.Context) (*auth.CurrentUser, error) {
	if u == "" {
		return nil, nil
	}
	return &auth.CurrentUser{ID: string(u)}, nil
}

func (u fixedUser) SignOut(context.Context) error { return nil }

// Author profiles cached by views are dropped on edit.
var _ Forgetter = (*reconciler.Enricher)(nil)

type forgetRecorder struct {
	forgotten []string
}

func (f *forgetRecorder) Forget(userID string) {
	f.forgotten = append(f.forgotten, userID)
}

// failingUploads wraps a store and fails every upload.
type failingUploads struct {
	objectstore.Store
}

func (failingUploads) Upload(context.Context, string, []byte) (string, error) {
	return "", errors.New("disk full")
}

type fixture struct {
	client  *remote.Local
	objects *objectstore.Local
	dir     string
	cache   *forgetRecorder
	quiet   *slog.Logger
}

func setupProfiles(t *testing.T) *fixture {
	t.Helper()
	tmp := t.TempDir()
	store, err := sqlstore.New(filepath.Join(tmp, "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := filepath.Join(tmp, "avatars")
	objects, err := objectstore.NewLocal(dir, "http://localhost:8080/avatars", quiet)
	if err != nil {
		t.Fatalf("failed to create object store: %v", err)
	}

	client := remote.NewLocal(store, nil, quiet)
	if _, err := client.Insert(context.Background(), models.CollectionProfiles, remote.Record{
		"user_id": "amina", "name": "Amina",
	}); err != nil {
		t.Fatalf("failed to seed profile: %v", err)
	}

	return &fixture{client: client, objects: objects, dir: dir, cache: &forgetRecorder{}, quiet: quiet}
}

func (f *fixture) as(userID string) *Service {
	return New(f.client, fixedUser(userID), f.objects, f.cache, f.quiet)
}

func TestMine(t *testing.T) {
	f := setupProfiles(t)
	ctx := context.Background()

	p, err := f.as("amina").Mine(ctx)
	if err != nil {
		t.Fatalf("Mine failed: %v", err)
	}
	if p.Name != "Amina" || p.UserID != "amina" {
		t.Errorf("unexpected profile: %+v", p)
	}

	if _, err := f.as("nobody").Mine(ctx); !apperrors.IsRemote(err, apperrors.KindNotFound) {
		t.Errorf("missing profile: expected not_found, got %v", err)
	}

	var ae *apperrors.AuthError
	if _, err := f.as("").Mine(ctx); !errors.As(err, &ae) {
		t.Errorf("signed out: expected AuthError, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	f := setupProfiles(t)
	ctx := context.Background()

	var ve *apperrors.ValidationError
	if _, err := f.as("amina").Update(ctx, Changes{Name: "  "}); !errors.As(err, &ve) {
		t.Fatalf("blank name: expected ValidationError, got %v", err)
	}

	p, err := f.as("amina").Update(ctx, Changes{Name: " Amina U. ", Phone: "+250 788 000 000"})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if p.Name != "Amina U." {
		t.Errorf("name: expected trimmed, got %q", p.Name)
	}

	stored, _ := f.as("amina").Mine(ctx)
	if stored.Name != "Amina U." || stored.Phone != "+250 788 000 000" || stored.UpdatedAt == 0 {
		t.Errorf("update not stored: %+v", stored)
	}
	if len(f.cache.forgotten) != 1 || f.cache.forgotten[0] != "amina" {
		t.Errorf("expected cached profile to be dropped, got %v", f.cache.forgotten)
	}
}

func TestUpdatePhoto(t *testing.T) {
	f := setupProfiles(t)
	ctx := context.Background()
	svc := f.as("amina")

	url, err := svc.UpdatePhoto(ctx, "Me.PNG", []byte("png-bytes"))
	if err != nil {
		t.Fatalf("UpdatePhoto failed: %v", err)
	}
	if url != "http://localhost:8080/avatars/amina/avatar.png" {
		t.Errorf("unexpected url: %s", url)
	}
	p, _ := svc.Mine(ctx)
	if p.Photo != url {
		t.Errorf("photo not saved on profile: %q", p.Photo)
	}

	// A new format replaces the old object.
	url2, err := svc.UpdatePhoto(ctx, "me.jpg", []byte("jpg-bytes"))
	if err != nil {
		t.Fatalf("UpdatePhoto failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.dir, "amina", "avatar.png")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected old avatar removed, stat err: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(f.dir, "amina", "avatar.jpg"))
	if err != nil || string(data) != "jpg-bytes" {
		t.Errorf("new avatar not stored: %q %v", data, err)
	}
	p, _ = svc.Mine(ctx)
	if p.Photo != url2 {
		t.Errorf("photo: expected %s, got %s", url2, p.Photo)
	}
	if len(f.cache.forgotten) != 2 {
		t.Errorf("expected two cache drops, got %v", f.cache.forgotten)
	}
}

func TestUpdatePhotoForeignURL(t *testing.T) {
	f := setupProfiles(t)
	ctx := context.Background()

	p, _ := f.as("amina").Mine(ctx)
	if err := f.client.Update(ctx, models.CollectionProfiles, p.ID, remote.Record{
		"photo": "https://cdn.example.com/old.png",
	}); err != nil {
		t.Fatalf("seed photo failed: %v", err)
	}

	if _, err := f.as("amina").UpdatePhoto(ctx, "new.webp", []byte("x")); err != nil {
		t.Fatalf("UpdatePhoto failed: %v", err)
	}
}

func TestUpdatePhotoValidation(t *testing.T) {
	f := setupProfiles(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		filename string
		data     []byte
	}{
		{"no extension", "avatar", []byte("x")},
		{"not an image", "avatar.exe", []byte("x")},
		{"empty", "avatar.png", nil},
		{"too large", "avatar.png", make([]byte, MaxPhotoSize+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ve *apperrors.ValidationError
			if _, err := f.as("amina").UpdatePhoto(ctx, tt.filename, tt.data); !errors.As(err, &ve) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}

	entries, _ := os.ReadDir(f.dir)
	if len(entries) != 0 {
		t.Errorf("expected nothing uploaded, found %d entries", len(entries))
	}
}

func TestUpdatePhotoUploadFailure(t *testing.T) {
	f := setupProfiles(t)
	ctx := context.Background()

	svc := New(f.client, fixedUser("amina"), failingUploads{f.objects}, f.cache, f.quiet)
	if _, err := svc.UpdatePhoto(ctx, "a.png", []byte("x")); err == nil {
		t.Fatal("expected upload error")
	}

	p, _ := svc.Mine(ctx)
	if p.Photo != "" {
		t.Errorf("expected profile untouched, got photo %q", p.Photo)
	}
	if len(f.cache.forgotten) != 0 {
		t.Errorf("expected no cache drops, got %v", f.cache.forgotten)
	}
}

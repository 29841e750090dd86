package objectstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-playground/assert/v2"
)

func setupStore(t *testing.T) (*Local, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "avatars")
	store, err := NewLocal(dir, "http://localhost:8080/avatars/", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	return store, dir
}

func TestUploadAndRemove(t *testing.T) {
	store, dir := setupStore(t)
	ctx := context.Background()

	url, err := store.Upload(ctx, "user-1/avatar.png", []byte("first"))
	assert.Equal(t, err, nil)
	assert.Equal(t, url, "http://localhost:8080/avatars/user-1/avatar.png")

	data, err := os.ReadFile(filepath.Join(dir, "user-1", "avatar.png"))
	assert.Equal(t, err, nil)
	assert.Equal(t, string(data), "first")

	// Upload replaces.
	_, err = store.Upload(ctx, "user-1/avatar.png", []byte("second"))
	assert.Equal(t, err, nil)
	data, _ = os.ReadFile(filepath.Join(dir, "user-1", "avatar.png"))
	assert.Equal(t, string(data), "second")

	entries, _ := os.ReadDir(filepath.Join(dir, "user-1"))
	assert.Equal(t, len(entries), 1)

	assert.Equal(t, store.Remove(ctx, "user-1/avatar.png"), nil)
	_, err = os.Stat(filepath.Join(dir, "user-1", "avatar.png"))
	assert.Equal(t, errors.Is(err, os.ErrNotExist), true)

	// Removing again is fine.
	assert.Equal(t, store.Remove(ctx, "user-1/avatar.png"), nil)
}

func TestInvalidPaths(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	for _, p := range []string{"", "/", "../escape.png", "a/../../b.png", "a//b.png", `a\b.png`, "a/./b.png"} {
		_, err := store.Upload(ctx, p, []byte("x"))
		if !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Upload(%q): expected ErrInvalidPath, got %v", p, err)
		}
		if err := store.Remove(ctx, p); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Remove(%q): expected ErrInvalidPath, got %v", p, err)
		}
	}
}

func TestUploadCancelled(t *testing.T) {
	store, dir := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Upload(ctx, "u/avatar.png", []byte("x"))
	assert.Equal(t, errors.Is(err, context.Canceled), true)

	_, err = os.Stat(filepath.Join(dir, "u"))
	assert.Equal(t, errors.Is(err, os.ErrNotExist), true)
}

func TestPathOf(t *testing.T) {
	store, _ := setupStore(t)

	p, ok := store.PathOf("http://localhost:8080/avatars/user-1/avatar.jpg")
	assert.Equal(t, ok, true)
	assert.Equal(t, p, "user-1/avatar.jpg")

	_, ok = store.PathOf("https://elsewhere.example.com/user-1/avatar.jpg")
	assert.Equal(t, ok, false)

	_, ok = store.PathOf("http://localhost:8080/avatars/")
	assert.Equal(t, ok, false)
}

func TestHandlerServesObjects(t *testing.T) {
	store, _ := setupStore(t)
	_, err := store.Upload(context.Background(), "u/avatar.txt", []byte("hello"))
	assert.Equal(t, err, nil)

	srv := httptest.NewServer(http.StripPrefix("/avatars/", store.Handler()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/avatars/u/avatar.txt")
	assert.Equal(t, err, nil)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, resp.StatusCode, http.StatusOK)
	assert.Equal(t, string(body), "hello")

	missing, err := http.Get(srv.URL + "/avatars/u/none.txt")
	assert.Equal(t, err, nil)
	missing.Body.Close()
	assert.Equal(t, missing.StatusCode, http.StatusNotFound)
}

func setupServer(t *testing.T) (*Local, *httptest.Server) {
	t.Helper()
	store, _ := setupStore(t)
	authorize := func(token string) (string, error) {
		if token == "amina-token" {
			return "amina", nil
		}
		return "", errors.New("bad token")
	}
	mux := http.NewServeMux()
	mux.Handle("/avatars/", http.StripPrefix("/avatars/", NewServer(store, authorize, nil)))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return store, srv
}

func TestHTTPStore(t *testing.T) {
	_, srv := setupServer(t)
	ctx := context.Background()
	client := NewHTTP(srv.Client(), srv.URL+"/avatars", func() string { return "amina-token" })

	url, err := client.Upload(ctx, "amina/avatar.png", []byte("remote"))
	assert.Equal(t, err, nil)
	// URLs come from the server's configured base.
	assert.Equal(t, url, "http://localhost:8080/avatars/amina/avatar.png")

	resp, err := http.Get(srv.URL + "/avatars/amina/avatar.png")
	assert.Equal(t, err, nil)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, string(body), "remote")

	p, ok := client.PathOf(srv.URL + "/avatars/amina/avatar.png")
	assert.Equal(t, ok, true)
	assert.Equal(t, p, "amina/avatar.png")

	assert.Equal(t, client.Remove(ctx, "amina/avatar.png"), nil)
	assert.Equal(t, client.Remove(ctx, "amina/avatar.png"), nil)
}

func TestServerRefusesForeignWrites(t *testing.T) {
	_, srv := setupServer(t)
	ctx := context.Background()

	client := NewHTTP(srv.Client(), srv.URL+"/avatars", func() string { return "amina-token" })
	_, err := client.Upload(ctx, "jean/avatar.png", []byte("x"))
	assert.Equal(t, IsForbidden(err), true)

	anonymous := NewHTTP(srv.Client(), srv.URL+"/avatars", nil)
	_, err = anonymous.Upload(ctx, "amina/avatar.png", []byte("x"))
	var se *StatusError
	assert.Equal(t, errors.As(err, &se), true)
	assert.Equal(t, se.Code, http.StatusUnauthorized)

	forged := NewHTTP(srv.Client(), srv.URL+"/avatars", func() string { return "forged" })
	err = forged.Remove(ctx, "amina/avatar.png")
	assert.Equal(t, errors.As(err, &se), true)
	assert.Equal(t, se.Code, http.StatusUnauthorized)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/avatars/amina/avatar.png", nil)
	resp, err := http.DefaultClient.Do(req)
	assert.Equal(t, err, nil)
	resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusMethodNotAllowed)
}

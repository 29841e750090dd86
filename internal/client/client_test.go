package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/crypto/bcrypt"

	"github.com/ikimina/circles/internal/apperrors"
	"github.com/ikimina/circles/internal/auth"
	"github.com/ikimina/circles/internal/config"
	"github.com/ikimina/circles/internal/groups"
	"github.com/ikimina/circles/internal/middleware"
	"github.com/ikimina/circles/internal/models"
	"github.com/ikimina/circles/internal/objectstore"
	"github.com/ikimina/circles/internal/realtime"
	"github.com/ikimina/circles/internal/reconciler"
	"github.com/ikimina/circles/internal/remote"
	"github.com/ikimina/circles/internal/service"
	"github.com/ikimina/circles/internal/storage/sqlstore"
	"github.com/ikimina/circles/pkg/api/apiconnect"
)

type testServer struct {
	url string
	hub *realtime.Hub
}

// setupServer wires the same handlers as cmd/server on an httptest server.
func setupServer(t *testing.T) *testServer {
	t.Helper()
	tmp := t.TempDir()
	store, err := sqlstore.New(filepath.Join(tmp, "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := realtime.NewHub(logger, nil)
	local := remote.NewLocal(store, hub, logger)
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	authenticator := auth.NewPasswordAuthenticatorWithCost(store, bcrypt.MinCost)
	interceptors := connect.WithInterceptors(
		middleware.OptionalAuth(jwtManager),
		middleware.LoggingInterceptor(logger),
	)

	mux := http.NewServeMux()
	collectionPath, collectionHandler := apiconnect.NewCollectionServiceHandler(service.NewCollectionService(local, logger), interceptors)
	mux.Handle(collectionPath, collectionHandler)
	authPath, authHandler := apiconnect.NewAuthServiceHandler(service.NewAuthService(authenticator, jwtManager, local, logger), interceptors)
	mux.Handle(authPath, authHandler)
	mux.Handle("/realtime", realtime.NewHandler(hub, jwtManager.UserID, logger))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	// Avatar URLs need the server's address, known only once it is listening.
	avatars, err := objectstore.NewLocal(filepath.Join(tmp, "avatars"), srv.URL+config.AvatarPath, logger)
	if err != nil {
		t.Fatalf("failed to create avatar store: %v", err)
	}
	mux.Handle(config.AvatarPath+"/", http.StripPrefix(config.AvatarPath+"/",
		objectstore.NewServer(avatars, jwtManager.UserID, logger)))

	return &testServer{url: srv.URL, hub: hub}
}

func newClient(ts *testServer) *Client {
	return New(Options{
		ServerURL: ts.url,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOptionsFrom(t *testing.T) {
	cfg := config.Default()
	cfg.Server.PublicURL = "https://circles.example.com"
	cfg.Client.ProfileCacheTTL = time.Minute

	opts := OptionsFrom(cfg)
	if opts.ServerURL != "https://circles.example.com" || opts.ProfileCacheTTL != time.Minute {
		t.Errorf("unexpected options: %+v", opts)
	}
}

func TestRegisterLoginLogout(t *testing.T) {
	ts := setupServer(t)
	ctx := context.Background()
	c := newClient(ts)

	user, err := c.Register(ctx, "amina@example.com", "Amina", "correct horse")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	current, err := c.Session.CurrentUser(ctx)
	if err != nil || current == nil || current.ID != user.ID {
		t.Fatalf("expected session for %s, got %+v %v", user.ID, current, err)
	}

	profile, err := c.Profiles.Mine(ctx)
	if err != nil {
		t.Fatalf("Mine failed: %v", err)
	}
	if profile.Name != "Amina" {
		t.Errorf("profile name: got %q", profile.Name)
	}

	if err := c.Session.SignOut(ctx); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	var ae *apperrors.AuthError
	if _, err := c.Profiles.Mine(ctx); !errors.As(err, &ae) {
		t.Errorf("signed out: expected AuthError, got %v", err)
	}

	if _, err := c.Login(ctx, "amina@example.com", "wrong"); !errors.As(err, &ae) {
		t.Errorf("bad password: expected AuthError, got %v", err)
	}
	if _, err := c.Login(ctx, "amina@example.com", "correct horse"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	other := newClient(ts)
	if _, err := other.Register(ctx, "amina@example.com", "Imposter", "password123"); !apperrors.IsRemote(err, apperrors.KindConflict) {
		t.Errorf("duplicate email: expected conflict, got %v", err)
	}
}

func TestChatOverNetwork(t *testing.T) {
	ts := setupServer(t)
	ctx := context.Background()

	alice := newClient(ts)
	user, err := alice.Register(ctx, "alice@example.com", "Alice", "password123")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	group, err := alice.Groups.Create(ctx, groups.Settings{
		Name: "Twiteze Imbere", Location: "Huye", Category: models.CategoryYouth, Size: 10,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	chat := alice.Chat()
	if err := chat.Activate(ctx, group.ID); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	defer chat.Deactivate()
	waitFor(t, "feed subscription", func() bool { return ts.hub.Subscribers(group.ID) > 0 })

	if err := chat.Send(ctx, "Muraho!", user.ID); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	waitFor(t, "message echo", func() bool { return chat.Len() == 1 })

	item := chat.Items()[0]
	if item.Value.Message != "Muraho!" || item.UserName != "Alice" {
		t.Errorf("unexpected item: %+v", item)
	}
	if chat.State() != reconciler.Ready {
		t.Errorf("state: expected Ready, got %v", chat.State())
	}
}

func TestAvatarOverNetwork(t *testing.T) {
	ts := setupServer(t)
	ctx := context.Background()

	c := newClient(ts)
	if _, err := c.Register(ctx, "grace@example.com", "Grace", "password123"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	url, err := c.Profiles.UpdatePhoto(ctx, "grace.png", []byte("png"))
	if err != nil {
		t.Fatalf("UpdatePhoto failed: %v", err)
	}

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET avatar failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "png" {
		t.Errorf("avatar not served: %d %q", resp.StatusCode, body)
	}

	// Anonymous content reads need no session.
	anonymous := newClient(ts)
	if _, err := anonymous.Content.FAQs(ctx); err != nil {
		t.Errorf("anonymous FAQs failed: %v", err)
	}
}

package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/crypto/bcrypt"

	"github.com/ikimina/circles/internal/apperrors"
	"github.com/ikimina/circles/internal/auth"
	"github.com/ikimina/circles/internal/metrics"
	"github.com/ikimina/circles/internal/middleware"
	"github.com/ikimina/circles/internal/models"
	"github.com/ikimina/circles/internal/realtime"
	"github.com/ikimina/circles/internal/remote"
	"github.com/ikimina/circles/internal/storage/sqlstore"
	"github.com/ikimina/circles/pkg/api"
	"github.com/ikimina/circles/pkg/api/apiconnect"
)

type testServer struct {
	url   string
	auth  apiconnect.AuthServiceClient
	local *remote.Local
	hub   *realtime.Hub
}

// client returns a collection client authenticated with token.
func (s *testServer) client(token string) *remote.HTTP {
	return remote.NewHTTP(http.DefaultClient, s.url, func() string { return token })
}

// setupTestServer creates a test server with CollectionService and AuthService
func setupTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()

	// Create temp database
	tmpFile, err := os.CreateTemp("", "test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpFile.Close()

	store, err := sqlstore.New(tmpFile.Name())
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("failed to create store: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := realtime.NewHub(logger, nil)
	local := remote.NewLocal(store, hub, logger)
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	authenticator := auth.NewPasswordAuthenticatorWithCost(store, bcrypt.MinCost)

	interceptors := connect.WithInterceptors(
		middleware.OptionalAuth(jwtManager),
		middleware.LoggingInterceptor(logger),
		middleware.MetricsInterceptor(metrics.New()),
	)

	collectionPath, collectionHandler := apiconnect.NewCollectionServiceHandler(NewCollectionService(local, logger), interceptors)
	authPath, authHandler := apiconnect.NewAuthServiceHandler(NewAuthService(authenticator, jwtManager, local, logger), interceptors)

	mux := http.NewServeMux()
	mux.Handle(collectionPath, collectionHandler)
	mux.Handle(authPath, authHandler)

	server := httptest.NewServer(mux)

	ts := &testServer{
		url:   server.URL,
		auth:  apiconnect.NewAuthServiceClient(http.DefaultClient, server.URL),
		local: local,
		hub:   hub,
	}

	cleanup := func() {
		server.Close()
		store.Close()
		os.Remove(tmpFile.Name())
	}

	return ts, cleanup
}

func register(t *testing.T, ts *testServer, email, name string) (*api.User, string) {
	t.Helper()
	resp, err := ts.auth.Register(context.Background(), connect.NewRequest(&api.RegisterRequest{
		Email:       email,
		DisplayName: name,
		Password:    "correct horse",
		Phone:       "+250788000000",
	}))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return resp.Msg.User, resp.Msg.Token
}

func TestRegisterCreatesProfile(t *testing.T) {
	ts, cleanup := setupTestServer(t)
	defer cleanup()

	user, token := register(t, ts, "Amina@Example.com", "Amina")

	if user.ID == "" {
		t.Error("expected non-empty user ID")
	}
	if user.Email != "amina@example.com" {
		t.Errorf("email: expected normalized address, got '%s'", user.Email)
	}
	if token == "" {
		t.Fatal("expected token in response")
	}

	recs, err := ts.client(token).Query(context.Background(), remote.Query{
		Collection: models.CollectionProfiles,
		Filters:    []remote.Filter{remote.Eq("user_id", user.ID)},
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected one profile, got %d", len(recs))
	}
	if recs[0].String("name") != "Amina" || recs[0].String("phone") != "+250788000000" {
		t.Errorf("unexpected profile: %v", recs[0])
	}
}

func TestRegisterValidation(t *testing.T) {
	ts, cleanup := setupTestServer(t)
	defer cleanup()

	_, err := ts.auth.Register(context.Background(), connect.NewRequest(&api.RegisterRequest{
		Email: "short@example.com", DisplayName: "Short", Password: "abc",
	}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("weak password: expected InvalidArgument, got %v", err)
	}

	register(t, ts, "dup@example.com", "Dup")
	_, err = ts.auth.Register(context.Background(), connect.NewRequest(&api.RegisterRequest{
		Email: "DUP@example.com", DisplayName: "Dup", Password: "correct horse",
	}))
	if connect.CodeOf(err) != connect.CodeAlreadyExists {
		t.Errorf("duplicate email: expected AlreadyExists, got %v", err)
	}
}

func TestLoginAndCurrentUser(t *testing.T) {
	ts, cleanup := setupTestServer(t)
	defer cleanup()
	ctx := context.Background()

	user, _ := register(t, ts, "jean@example.com", "Jean")

	_, err := ts.auth.Login(ctx, connect.NewRequest(&api.LoginRequest{Email: "jean@example.com", Password: "wrong password"}))
	if connect.CodeOf(err) != connect.CodeUnauthenticated {
		t.Errorf("wrong password: expected Unauthenticated, got %v", err)
	}

	resp, err := ts.auth.Login(ctx, connect.NewRequest(&api.LoginRequest{Email: "jean@example.com", Password: "correct horse"}))
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	req := connect.NewRequest(&api.GetCurrentUserRequest{})
	req.Header().Set("Authorization", "Bearer "+resp.Msg.Token)
	me, err := ts.auth.GetCurrentUser(ctx, req)
	if err != nil {
		t.Fatalf("GetCurrentUser failed: %v", err)
	}
	if me.Msg.User.ID != user.ID {
		t.Errorf("expected %s, got %s", user.ID, me.Msg.User.ID)
	}

	_, err = ts.auth.GetCurrentUser(ctx, connect.NewRequest(&api.GetCurrentUserRequest{}))
	if connect.CodeOf(err) != connect.CodeUnauthenticated {
		t.Errorf("anonymous: expected Unauthenticated, got %v", err)
	}
}

func TestAnonymousAccess(t *testing.T) {
	ts, cleanup := setupTestServer(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := ts.local.Insert(ctx, models.CollectionFAQs, remote.Record{"question": "What is a circle?", "answer": "A savings group."}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	anon := ts.client("")
	faqs, err := anon.Query(ctx, remote.Query{Collection: models.CollectionFAQs})
	if err != nil {
		t.Fatalf("anonymous content read failed: %v", err)
	}
	if len(faqs) != 1 {
		t.Errorf("expected 1 faq, got %d", len(faqs))
	}

	_, err = anon.Query(ctx, remote.Query{Collection: models.CollectionMessages})
	if !apperrors.IsRemote(err, apperrors.KindDenied) {
		t.Errorf("anonymous chat read: expected denied, got %v", err)
	}

	// An invalid token is treated as anonymous.
	_, err = ts.client("not-a-token").Insert(ctx, models.CollectionMessages, remote.Record{"group_id": "g", "message": "hi"})
	if !apperrors.IsRemote(err, apperrors.KindDenied) {
		t.Errorf("bad token insert: expected denied, got %v", err)
	}
}

func TestContentIsReadOnly(t *testing.T) {
	ts, cleanup := setupTestServer(t)
	defer cleanup()

	_, token := register(t, ts, "writer@example.com", "Writer")
	_, err := ts.client(token).Insert(context.Background(), models.CollectionBlogPosts, remote.Record{"title": "Spam"})
	if !apperrors.IsRemote(err, apperrors.KindDenied) {
		t.Errorf("expected denied, got %v", err)
	}
}

func TestInsertFillsOwner(t *testing.T) {
	ts, cleanup := setupTestServer(t)
	defer cleanup()
	ctx := context.Background()

	user, token := register(t, ts, "owner@example.com", "Owner")
	client := ts.client(token)

	group, err := client.Insert(ctx, models.CollectionGroups, remote.Record{"name": "Twiteze Imbere", "size": 10})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if group.String("created_by") != user.ID {
		t.Errorf("created_by: expected %s, got %s", user.ID, group.String("created_by"))
	}

	_, err = client.Insert(ctx, models.CollectionMessages, remote.Record{
		"group_id": group.String("id"), "user_id": "someone-else", "message": "forged",
	})
	if !apperrors.IsRemote(err, apperrors.KindDenied) {
		t.Errorf("forged author: expected denied, got %v", err)
	}
}

func TestDeleteOnlyOwnMessages(t *testing.T) {
	ts, cleanup := setupTestServer(t)
	defer cleanup()
	ctx := context.Background()

	_, aliceToken := register(t, ts, "alice@example.com", "Alice")
	_, bobToken := register(t, ts, "bob@example.com", "Bob")
	alice := ts.client(aliceToken)
	bob := ts.client(bobToken)

	msg, err := alice.Insert(ctx, models.CollectionMessages, remote.Record{"group_id": "g1", "message": "Muraho"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	match := []remote.Filter{remote.Eq("id", msg.String("id"))}

	n, err := bob.Delete(ctx, models.CollectionMessages, match)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if n != 0 {
		t.Errorf("non-author delete: expected 0 rows, got %d", n)
	}

	n, err = alice.Delete(ctx, models.CollectionMessages, match)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if n != 1 {
		t.Errorf("author delete: expected 1 row, got %d", n)
	}
}

func TestUpdateRules(t *testing.T) {
	ts, cleanup := setupTestServer(t)
	defer cleanup()
	ctx := context.Background()

	_, aliceToken := register(t, ts, "alice@example.com", "Alice")
	_, bobToken := register(t, ts, "bob@example.com", "Bob")
	alice := ts.client(aliceToken)

	group, err := alice.Insert(ctx, models.CollectionGroups, remote.Record{"name": "Abahizi", "size": 10})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	id := group.String("id")

	if err := alice.Update(ctx, models.CollectionGroups, id, remote.Record{"description": "Weekly"}); err != nil {
		t.Errorf("owner update failed: %v", err)
	}

	err = ts.client(bobToken).Update(ctx, models.CollectionGroups, id, remote.Record{"description": "Mine now"})
	if !apperrors.IsRemote(err, apperrors.KindDenied) {
		t.Errorf("non-owner update: expected denied, got %v", err)
	}

	err = alice.Update(ctx, models.CollectionGroups, id, remote.Record{"created_by": "bob"})
	if !apperrors.IsRemote(err, apperrors.KindDenied) {
		t.Errorf("owner reassignment: expected denied, got %v", err)
	}

	err = alice.Update(ctx, models.CollectionGroups, "missing", remote.Record{"description": "x"})
	if !apperrors.IsRemote(err, apperrors.KindNotFound) {
		t.Errorf("missing record: expected not_found, got %v", err)
	}

	err = alice.Update(ctx, models.CollectionJoinRequests, "missing", remote.Record{"status": "approved"})
	if !apperrors.IsRemote(err, apperrors.KindNotFound) {
		t.Errorf("missing join request: expected not_found, got %v", err)
	}
}

func TestAdjustThroughAPI(t *testing.T) {
	ts, cleanup := setupTestServer(t)
	defer cleanup()
	ctx := context.Background()

	_, token := register(t, ts, "admin@example.com", "Admin")
	client := ts.client(token)

	group, err := client.Insert(ctx, models.CollectionGroups, remote.Record{"name": "Counter", "size": 3, "member_count": 1})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	value, err := client.Adjust(ctx, models.CollectionGroups, group.String("id"), "member_count", 1)
	if err != nil {
		t.Fatalf("Adjust failed: %v", err)
	}
	if value != 2 {
		t.Errorf("expected 2, got %d", value)
	}

	_, err = client.Adjust(ctx, models.CollectionGroups, group.String("id"), "name", 1)
	if !apperrors.IsRemote(err, apperrors.KindDenied) {
		t.Errorf("non-counter field: expected denied, got %v", err)
	}
}

func TestGroupAdminRules(t *testing.T) {
	ts, cleanup := setupTestServer(t)
	defer cleanup()
	ctx := context.Background()

	admin, adminToken := register(t, ts, "admin@example.com", "Admin")
	_, malToken := register(t, ts, "mal@example.com", "Mal")
	bob, bobToken := register(t, ts, "bob@example.com", "Bob")
	a := ts.client(adminToken)
	mal := ts.client(malToken)

	group, err := a.Insert(ctx, models.CollectionGroups, remote.Record{"name": "Abishyizehamwe", "size": 10, "member_count": 1})
	if err != nil {
		t.Fatalf("Insert group failed: %v", err)
	}
	groupID := group.String("id")
	adminMembership, err := a.Insert(ctx, models.CollectionMembers, remote.Record{"group_id": groupID, "user_id": admin.ID})
	if err != nil {
		t.Fatalf("admin membership insert failed: %v", err)
	}

	// Joining without approval.
	_, err = mal.Insert(ctx, models.CollectionMembers, remote.Record{"group_id": groupID, "user_id": "mal"})
	if !apperrors.IsRemote(err, apperrors.KindDenied) {
		t.Errorf("self-insert membership: expected denied, got %v", err)
	}

	// Removing someone else.
	n, err := mal.Delete(ctx, models.CollectionMembers, []remote.Filter{remote.Eq("id", adminMembership.String("id"))})
	if err != nil || n != 0 {
		t.Errorf("foreign membership delete: expected 0 rows, got %d %v", n, err)
	}
	n, err = mal.Delete(ctx, models.CollectionMembers, []remote.Filter{
		remote.Eq("id", adminMembership.String("id")), remote.Eq("group_id", groupID),
	})
	if err != nil || n != 0 {
		t.Errorf("foreign membership delete with group: expected 0 rows, got %d %v", n, err)
	}

	// Counters.
	if _, err := mal.Adjust(ctx, models.CollectionGroups, groupID, "member_count", 100); !apperrors.IsRemote(err, apperrors.KindDenied) {
		t.Errorf("adjust: expected denied, got %v", err)
	}

	// Deciding a join request.
	req, err := ts.client(bobToken).Insert(ctx, models.CollectionJoinRequests, remote.Record{"group_id": groupID})
	if err != nil {
		t.Fatalf("join request insert failed: %v", err)
	}
	err = mal.Update(ctx, models.CollectionJoinRequests, req.String("id"), remote.Record{"status": "approved"})
	if !apperrors.IsRemote(err, apperrors.KindDenied) {
		t.Errorf("foreign decision: expected denied, got %v", err)
	}
	err = a.Update(ctx, models.CollectionJoinRequests, req.String("id"), remote.Record{"group_id": "elsewhere"})
	if !apperrors.IsRemote(err, apperrors.KindDenied) {
		t.Errorf("moving a request: expected denied, got %v", err)
	}

	// The admin may do all of it.
	if err := a.Update(ctx, models.CollectionJoinRequests, req.String("id"), remote.Record{"status": "approved"}); err != nil {
		t.Fatalf("admin decision failed: %v", err)
	}
	bobMembership, err := a.Insert(ctx, models.CollectionMembers, remote.Record{"group_id": groupID, "user_id": bob.ID})
	if err != nil {
		t.Fatalf("admin membership insert failed: %v", err)
	}
	count, err := a.Adjust(ctx, models.CollectionGroups, groupID, "member_count", 1)
	if err != nil || count != 2 {
		t.Fatalf("admin adjust: expected 2, got %d %v", count, err)
	}
	n, err = a.Delete(ctx, models.CollectionMembers, []remote.Filter{
		remote.Eq("id", bobMembership.String("id")), remote.Eq("group_id", groupID),
	})
	if err != nil || n != 1 {
		t.Errorf("admin removal: expected 1 row, got %d %v", n, err)
	}

	recs, _ := ts.local.Query(ctx, remote.Query{Collection: models.CollectionGroups, Filters: []remote.Filter{remote.Eq("id", groupID)}})
	g, err := remote.Decode[models.Group](recs[0])
	if err != nil || g.MemberCount != 2 {
		t.Errorf("member_count: expected 2, got %d %v", g.MemberCount, err)
	}
}

func TestMemberMayLeave(t *testing.T) {
	ts, cleanup := setupTestServer(t)
	defer cleanup()
	ctx := context.Background()

	_, adminToken := register(t, ts, "admin@example.com", "Admin")
	bob, bobToken := register(t, ts, "bob@example.com", "Bob")
	a := ts.client(adminToken)

	group, err := a.Insert(ctx, models.CollectionGroups, remote.Record{"name": "Twiteze Imbere", "size": 10})
	if err != nil {
		t.Fatalf("Insert group failed: %v", err)
	}
	m, err := a.Insert(ctx, models.CollectionMembers, remote.Record{"group_id": group.String("id"), "user_id": bob.ID})
	if err != nil {
		t.Fatalf("membership insert failed: %v", err)
	}

	n, err := ts.client(bobToken).Delete(ctx, models.CollectionMembers, []remote.Filter{
		remote.Eq("id", m.String("id")), remote.Eq("group_id", group.String("id")),
	})
	if err != nil || n != 1 {
		t.Errorf("leaving: expected 1 row, got %d %v", n, err)
	}
}

func TestWritesReachFeed(t *testing.T) {
	ts, cleanup := setupTestServer(t)
	defer cleanup()
	ctx := context.Background()

	_, token := register(t, ts, "feed@example.com", "Feed")

	got := make(chan realtime.Event, 1)
	sub, err := ts.hub.Subscribe(ctx, "g-feed", realtime.InsertsOnly(models.CollectionMessages), func(_ context.Context, e realtime.Event) {
		got <- e
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	if _, err := ts.client(token).Insert(ctx, models.CollectionMessages, remote.Record{"group_id": "g-feed", "message": "live"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	select {
	case e := <-got:
		if e.Record.String("message") != "live" {
			t.Errorf("unexpected event record: %v", e.Record)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for insert event")
	}
}

func TestConnectError(t *testing.T) {
	tests := []struct {
		err  error
		code connect.Code
	}{
		{apperrors.Remote(apperrors.KindNotFound, "op", errors.New("x")), connect.CodeNotFound},
		{apperrors.Remote(apperrors.KindConflict, "op", errors.New("x")), connect.CodeAlreadyExists},
		{apperrors.Remote(apperrors.KindDenied, "op", errors.New("x")), connect.CodePermissionDenied},
		{apperrors.Remote(apperrors.KindNetwork, "op", errors.New("x")), connect.CodeUnavailable},
		{apperrors.Invalid("name", "is required"), connect.CodeInvalidArgument},
		{errors.New("unexpected"), connect.CodeInternal},
	}
	for _, tt := range tests {
		if got := connect.CodeOf(connectError(tt.err)); got != tt.code {
			t.Errorf("%v: expected %s, got %s", tt.err, tt.code, got)
		}
	}
}

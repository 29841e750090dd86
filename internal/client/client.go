// Package client assembles the client layer against a remote server: the
// collection client, the websocket change feed, profile enrichment, avatar
// storage and the feature services, all sharing one signed-in session.
package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"

	"github.com/ikimina/circles/internal/apperrors"
	"github.com/ikimina/circles/internal/auth"
	"github.com/ikimina/circles/internal/config"
	"github.com/ikimina/circles/internal/content"
	"github.com/ikimina/circles/internal/groups"
	"github.com/ikimina/circles/internal/ledger"
	"github.com/ikimina/circles/internal/notify"
	"github.com/ikimina/circles/internal/objectstore"
	"github.com/ikimina/circles/internal/profiles"
	"github.com/ikimina/circles/internal/realtime"
	"github.com/ikimina/circles/internal/reconciler"
	"github.com/ikimina/circles/internal/remote"
	"github.com/ikimina/circles/pkg/api"
	"github.com/ikimina/circles/pkg/api/apiconnect"
)

// Options configure a Client.
type Options struct {
	// ServerURL is the server's base URL, e.g. https://circles.example.com.
	ServerURL string
	// ProfileCacheTTL is passed to the Enricher. Zero reads a profile per event.
	ProfileCacheTTL time.Duration
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// OptionsFrom derives client options from a server configuration.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		ServerURL:       cfg.Server.PublicURL,
		ProfileCacheTTL: cfg.Client.ProfileCacheTTL,
	}
}

// Client is a signed-in (or anonymous) connection to a server.
type Client struct {
	Session  *auth.Session
	Remote   *remote.HTTP
	Feed     *realtime.Dialer
	Enricher *reconciler.Enricher
	Avatars  *objectstore.HTTP

	Groups   *groups.Service
	Ledger   *ledger.Ledger
	Profiles *profiles.Service
	Content  *content.Reader

	auth   apiconnect.AuthServiceClient
	logger *slog.Logger
}

// New builds a Client. Nobody is signed in until Login or Register succeeds.
func New(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	base := strings.TrimRight(opts.ServerURL, "/")

	c := &Client{
		auth:   apiconnect.NewAuthServiceClient(opts.HTTPClient, base),
		logger: opts.Logger,
	}
	c.Session = auth.NewSession(c.revoke)
	token := c.Session.Token

	c.Remote = remote.NewHTTP(opts.HTTPClient, base, token)
	c.Feed = realtime.NewDialer(base, token, opts.Logger)
	c.Enricher = reconciler.NewEnricher(c.Remote, opts.ProfileCacheTTL, opts.Logger)
	c.Avatars = objectstore.NewHTTP(opts.HTTPClient, base+config.AvatarPath, token)

	c.Groups = groups.New(c.Remote, c.Session, opts.Logger)
	c.Ledger = ledger.New(c.Remote, c.Session, opts.Logger)
	c.Profiles = profiles.New(c.Remote, c.Session, c.Avatars, c.Enricher, opts.Logger)
	c.Content = content.New(c.Remote, opts.Logger)
	return c
}

// Deps returns the collaborators for building views.
func (c *Client) Deps() reconciler.Deps {
	return reconciler.Deps{
		Client:   c.Remote,
		Feed:     c.Feed,
		Enricher: c.Enricher,
		Logger:   c.logger,
	}
}

// Chat builds a group chat view.
func (c *Client) Chat() *reconciler.Chat {
	return reconciler.NewChat(c.Deps())
}

// Discussion builds a discussion board view.
func (c *Client) Discussion() *reconciler.Discussion {
	return reconciler.NewDiscussion(c.Deps())
}

// JoinRequests builds the pending join request view. Decisions notify the
// applicant through the notifications collection.
func (c *Client) JoinRequests() *reconciler.JoinRequests {
	return reconciler.NewJoinRequests(c.Deps(), notify.NewStoreDispatcher(c.Remote))
}

// Members builds a group member view.
func (c *Client) Members() *reconciler.Members {
	return reconciler.NewMembers(c.Deps())
}

// Register creates an account and signs in as it.
func (c *Client) Register(ctx context.Context, email, displayName, password string) (*api.User, error) {
	resp, err := c.auth.Register(ctx, connect.NewRequest(&api.RegisterRequest{
		Email:       email,
		DisplayName: displayName,
		Password:    password,
	}))
	if err != nil {
		return nil, authError("register", err)
	}
	if err := c.Session.SignIn(resp.Msg.Token); err != nil {
		return nil, err
	}
	c.logger.Info("Registered", "user_id", resp.Msg.User.ID)
	return resp.Msg.User, nil
}

// Login signs in with email and password.
func (c *Client) Login(ctx context.Context, email, password string) (*api.User, error) {
	resp, err := c.auth.Login(ctx, connect.NewRequest(&api.LoginRequest{Email: email, Password: password}))
	if err != nil {
		return nil, authError("login", err)
	}
	if err := c.Session.SignIn(resp.Msg.Token); err != nil {
		return nil, err
	}
	c.logger.Info("Signed in", "user_id", resp.Msg.User.ID)
	return resp.Msg.User, nil
}

func (c *Client) revoke(ctx context.Context, token string) error {
	req := connect.NewRequest(&api.LogoutRequest{})
	req.Header().Set("Authorization", "Bearer "+token)
	if _, err := c.auth.Logout(ctx, req); err != nil {
		return authError("logout", err)
	}
	return nil
}

func authError(op string, err error) error {
	var ce *connect.Error
	if !errors.As(err, &ce) {
		return apperrors.Remote(apperrors.KindNetwork, op, err)
	}
	switch ce.Code() {
	case connect.CodeUnauthenticated, connect.CodePermissionDenied:
		return apperrors.Unauthorized(ce.Message())
	case connect.CodeInvalidArgument:
		return apperrors.Invalid("", ce.Message())
	case connect.CodeAlreadyExists:
		return apperrors.Remote(apperrors.KindConflict, op, err)
	default:
		return apperrors.Remote(apperrors.KindNetwork, op, err)
	}
}

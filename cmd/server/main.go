package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/docopt/docopt-go"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/ikimina/circles/internal/auth"
	"github.com/ikimina/circles/internal/config"
	"github.com/ikimina/circles/internal/metrics"
	"github.com/ikimina/circles/internal/middleware"
	"github.com/ikimina/circles/internal/objectstore"
	"github.com/ikimina/circles/internal/realtime"
	"github.com/ikimina/circles/internal/remote"
	"github.com/ikimina/circles/internal/service"
	"github.com/ikimina/circles/internal/storage/sqlstore"
	"github.com/ikimina/circles/pkg/api/apiconnect"
	"github.com/ikimina/circles/pkg/logging"
)

const version = "0.1.0"

const usage = `Savings circles collection server.

Usage:
    server [--config=<path>] [--addr=<addr>]
    server -h | --help
    server --version

Options:
    -h --help          Show this screen.
    --version          Show version.
    --config=<path>    YAML configuration file [default: ./circles.yaml].
    --addr=<addr>      Listen address, overrides the configuration.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	configPath, _ := opts.String("--config")

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if addr, _ := opts.String("--addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	logger := logging.Setup(cfg.Logging.Level)
	if err := run(cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	store, err := sqlstore.Open(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()
	logger.Info("Storage initialized", "driver", cfg.Database.Driver)

	m := metrics.New()
	hub := realtime.NewHub(logger, m)
	local := remote.NewLocal(store, hub, logger)
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TTL)
	authenticator := auth.NewPasswordAuthenticator(store)

	avatars, err := objectstore.NewLocal(cfg.Avatars.Dir, cfg.AvatarURL(), logger)
	if err != nil {
		return err
	}

	interceptors := connect.WithInterceptors(
		middleware.OptionalAuth(jwtManager),
		middleware.LoggingInterceptor(logger),
		middleware.MetricsInterceptor(m),
	)

	mux := http.NewServeMux()

	collectionPath, collectionHandler := apiconnect.NewCollectionServiceHandler(
		service.NewCollectionService(local, logger), interceptors)
	mux.Handle(collectionPath, collectionHandler)

	authPath, authHandler := apiconnect.NewAuthServiceHandler(
		service.NewAuthService(authenticator, jwtManager, local, logger), interceptors)
	mux.Handle(authPath, authHandler)

	mux.Handle("/realtime", realtime.NewHandler(hub, jwtManager.UserID, logger))
	mux.Handle(config.AvatarPath+"/", http.StripPrefix(config.AvatarPath+"/",
		objectstore.NewServer(avatars, jwtManager.UserID, logger)))
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// h2c serves HTTP/2 without TLS, which Connect clients use
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(corsMiddleware(mux), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("Connect server starting", "address", cfg.Server.Addr, "url", cfg.Server.PublicURL)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// corsMiddleware adds CORS headers for browser access
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Connect-Protocol-Version, Connect-Timeout-Ms")
		w.Header().Set("Access-Control-Expose-Headers", "Connect-Protocol-Version, Connect-Timeout-Ms")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

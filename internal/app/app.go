package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"keygate/internal/config"
	"keygate/internal/infrastructure"
	"keygate/internal/middleware"
	"keygate/internal/services"
	"keygate/internal/store"
	handlers "keygate/internal/transport/http"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

const serviceName = "keygate"

// Application is the assembled server.
type Application struct {
	Config  *config.Config
	Logger  *slog.Logger
	Router  *chi.Mux
	Server  *http.Server
	Store   store.Store
	Service services.LicenseService

	metrics *infrastructure.MetricsProvider
}

// NewApplication loads configuration and wires every component.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	metrics, err := infrastructure.InitializeMetrics(serviceName, Version)
	if err != nil {
		return nil, fmt.Errorf("initialize metrics: %w", err)
	}

	st, err := openStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	app := &Application{
		Config:  cfg,
		Logger:  logger,
		Store:   st,
		Service: services.NewLicenseService(st, logger),
		metrics: metrics,
	}
	app.setupRouter()
	app.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      app.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	logger.Info("application wired",
		slog.String("version", Version),
		slog.String("store_backend", cfg.Store.Backend),
		slog.Int("port", cfg.Server.Port))
	return app, nil
}

// openStore selects the store backend from configuration.
func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "memory":
		return store.NewMemStoreWithLockWait(cfg.LockWait), nil
	case "sqlite":
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store directory: %w", err)
			}
		}
		return store.OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.StructuredLogger(a.Logger))
	r.Use(middleware.Recoverer(a.Logger))
	r.Use(middleware.SecurityHeaders)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Group(func(r chi.Router) {
			if a.Config.Security.RateLimit.Enabled {
				r.Use(middleware.NewRateLimiter(
					a.Config.Security.RateLimit.RPS,
					a.Config.Security.RateLimit.Burst,
					a.Logger,
				).Handler)
			}
			r.Mount("/license", handlers.NewLicenseHandler(a.Service, a.Logger).Routes())
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminAuth(a.Config.Security.AdminAPIKey, a.Logger))
			r.Mount("/admin", handlers.NewAdminHandler(a.Service, a.Logger).Routes())
		})
	})

	// Operational endpoints sit outside the /api middleware stack.
	r.Get("/healthz", handlers.NewHealthHandler(Version).Healthz)
	r.Handle("/metrics", a.metrics.Handler())

	a.Router = r
}

// Run starts the HTTP server and blocks until an interrupt or a server
// error, then shuts down gracefully.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		return a.shutdown()
	})

	return g.Wait()
}

func (a *Application) shutdown() error {
	a.Logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	var firstErr error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		firstErr = fmt.Errorf("server shutdown: %w", err)
	}
	if err := a.Store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("store close: %w", err)
	}
	if err := a.metrics.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("metrics shutdown", slog.String("error", err.Error()))
	}
	if err := infrastructure.CloseLogger(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close logger: %w", err)
	}

	if firstErr == nil {
		a.Logger.Info("shutdown complete")
	}
	return firstErr
}

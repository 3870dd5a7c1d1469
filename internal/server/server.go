// Package server is the composition root of the identity API: it opens the
// database, builds the services and handlers, and mounts the routes.
//
//	config.Config → sqlite.DB → AccountService → AccountHandler → chi routes
//
// Keeping the wiring out of main lets tests mount the exact same router
// on an httptest.Server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/course-session/internal/api"
	"github.com/sakif/course-session/internal/auth"
	"github.com/sakif/course-session/internal/config"
	"github.com/sakif/course-session/internal/handler"
	"github.com/sakif/course-session/internal/middleware"
	sqliterepo "github.com/sakif/course-session/internal/repository/sqlite"
	"github.com/sakif/course-session/internal/service"
)

// purgeInterval is how often expired revocations are dropped.
const purgeInterval = time.Hour

// Server owns the router and the database, which it closes on shutdown.
type Server struct {
	router   *chi.Mux
	cfg      config.Config
	logger   *slog.Logger
	db       *sqliterepo.DB
	accounts *service.AccountService
	registry *prometheus.Registry
}

// New opens cfg.DBPath and wires every route. The passwords service is
// a parameter so tests can pass a cheap bcrypt cost.
func New(cfg config.Config, passwords *auth.PasswordService, logger *slog.Logger) (*Server, error) {
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("server: creating database directory: %w", err)
		}
	}
	db, err := sqliterepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("server: opening database: %w", err)
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("server: creating token service: %w", err)
	}

	s := &Server{
		router:   chi.NewRouter(),
		cfg:      cfg,
		logger:   logger,
		db:       db,
		accounts: service.NewAccountService(db, db, tokens, passwords, logger),
		registry: prometheus.NewRegistry(),
	}
	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("server: setting up routes: %w", err)
	}
	return s, nil
}

// setupRoutes mounts:
//
//	GET   /health
//	GET   /metrics
//	POST  /api/auth/register, /api/auth/login
//	POST  /api/auth/logout          (bearer)
//	GET   /api/users/me             (bearer)
//	PATCH /api/users/me             (bearer)
//
// RequestID runs first so Logger can attach the id; Recoverer runs last so
// a panic still gets logged and counted as a 500.
func (s *Server) setupRoutes() error {
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := middleware.NewMetrics(s.registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(metrics.Handler)
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
	})
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	accounts := handler.NewAccountHandler(s.accounts, s.logger)
	requireAuth := auth.RequireAuth(s.accounts)

	s.router.Post(api.PathRegister, accounts.HandleRegister)
	s.router.Post(api.PathLogin, accounts.HandleLogin)
	s.router.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Post(api.PathLogout, accounts.HandleLogout)
		r.Get(api.PathMe, accounts.HandleMe)
		r.Patch(api.PathMe, accounts.HandleUpdateMe)
	})
	return nil
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database.
func (s *Server) Close() error {
	return s.db.Close()
}

// Start serves until SIGINT or SIGTERM, then drains in-flight requests
// for up to 30 seconds and closes the database.
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	purgeCtx, stopPurge := context.WithCancel(context.Background())
	defer stopPurge()
	go s.purgeRevocations(purgeCtx)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("identity API starting",
			slog.Int("port", s.cfg.HTTPPort),
			slog.String("database", s.cfg.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}

func (s *Server) purgeRevocations(ctx context.Context) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := s.db.PurgeExpired(ctx, now)
			if err != nil {
				s.logger.Warn("purging revoked tokens", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				s.logger.Debug("purged revoked tokens", slog.Int64("count", n))
			}
		}
	}
}

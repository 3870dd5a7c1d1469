// Command identityd runs the identity API: register, login, logout and
// profile updates over HTTP, backed by SQLite.
//
// Settings come from ./app.env and the environment (see internal/config).
// JWT_SECRET is required:
//
//	JWT_SECRET=$(openssl rand -hex 32) identityd
package main

import (
	"log/slog"
	"os"

	"github.com/sakif/course-session/internal/auth"
	"github.com/sakif/course-session/internal/config"
	"github.com/sakif/course-session/internal/server"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		slog.Error("loading config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	if err := cfg.ValidateServer(); err != nil {
		logger.Error("invalid config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srv, err := server.New(cfg, auth.NewPasswordService(), logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT or SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

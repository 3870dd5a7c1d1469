package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/sakif/course-session/internal/app"
	"github.com/sakif/course-session/internal/config"
	"github.com/sakif/course-session/internal/remote"
	redisrepo "github.com/sakif/course-session/internal/repository/redis"
	sqliterepo "github.com/sakif/course-session/internal/repository/sqlite"
	"github.com/sakif/course-session/internal/storage"
	"github.com/sakif/course-session/internal/tabsync"
)

// redisKeyPrefix namespaces the durable store inside a shared Redis.
const redisKeyPrefix = "course-session:"

var tabName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// tabFlags are accepted by every subcommand.
type tabFlags struct {
	configDir string
	tab       string
}

func addTabFlags(fs *pflag.FlagSet) *tabFlags {
	f := &tabFlags{}
	fs.StringVar(&f.configDir, "config", ".", "directory holding app.env")
	fs.StringVar(&f.tab, "tab", "", "name of a tab whose own store persists between runs")
	return f
}

// session is an open tab plus everything that must be closed after it.
type session struct {
	*app.Tab
	logger  *slog.Logger
	closers []func() error
}

func (s *session) Close() {
	if s.Tab != nil {
		_ = s.Tab.Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

// openTab loads config, opens the stores and the sync channel, and
// bootstraps a tab over them.
func openTab(ctx context.Context, f *tabFlags) (*session, error) {
	cfg, err := config.Load(f.configDir)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}
	if f.tab != "" && !tabName.MatchString(f.tab) {
		return nil, fmt.Errorf("--tab %q: use letters, digits, '-' or '_'", f.tab)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	s := &session{logger: logger}

	client, err := remote.New(cfg.APIBaseURL, logger, remote.WithTimeout(cfg.RequestTimeout))
	if err != nil {
		return nil, err
	}

	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		rdb, err = redisrepo.Connect(ctx, redisrepo.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, rdb.Close)
	}

	durable, err := openDurable(cfg, rdb, s)
	if err != nil {
		s.Close()
		return nil, err
	}
	volatile, err := openVolatile(cfg, f.tab, s)
	if err != nil {
		s.Close()
		return nil, err
	}

	var channel tabsync.Channel
	if rdb != nil {
		channel = tabsync.NewRedisChannel(rdb, cfg.SyncChannel, logger)
	} else {
		logger.Debug("REDIS_ADDR not set; tab sync is limited to this process")
		channel = tabsync.NewBroker()
	}
	s.closers = append(s.closers, channel.Close)

	s.Tab, err = app.Open(ctx, app.Options{
		Durable:  durable,
		Volatile: volatile,
		Channel:  channel,
		Remote:   client,
		Logger:   logger,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func openDurable(cfg config.Config, rdb *goredis.Client, s *session) (storage.Store, error) {
	switch cfg.DurableBackend {
	case config.BackendRedis:
		if rdb == nil {
			return nil, errors.New("redis backend selected but no client is connected")
		}
		return redisrepo.NewStore(rdb, redisKeyPrefix), nil
	default:
		return openSQLite(cfg.DurablePath, s)
	}
}

// openVolatile returns the tab's own store: a file next to the durable
// store for a named tab, memory otherwise.
func openVolatile(cfg config.Config, tab string, s *session) (storage.Store, error) {
	if tab == "" {
		return storage.NewMemory(), nil
	}
	dir := "data"
	if cfg.DurableBackend == config.BackendSQLite {
		dir = filepath.Dir(cfg.DurablePath)
	}
	return openSQLite(filepath.Join(dir, "tab-"+tab+".db"), s)
}

func openSQLite(path string, s *session) (storage.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	db, err := sqliterepo.New(path)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, db.Close)
	return db, nil
}

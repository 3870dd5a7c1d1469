// Package redis provides a durable storage.Store on top of Redis, for
// deployments where the tabs of one profile run on different hosts and
// cannot share a SQLite file.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sakif/course-session/internal/storage"
)

// Options configures the connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Store is a storage.Store backed by plain Redis strings.
type Store struct {
	client  *goredis.Client
	prefix  string
	timeout time.Duration
}

var _ storage.Store = (*Store)(nil)

// Connect dials Redis and verifies the connection with a PING.
func Connect(ctx context.Context, opts Options) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}
	return client, nil
}

// NewStore wraps an existing client. The caller owns the client.
func NewStore(client *goredis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix, timeout: time.Second}
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis: get %q: %w", key, err)
	}
	return v, true, nil
}

// Set stores value with no expiry; sessions have no client-side TTL.
func (s *Store) Set(ctx context.Context, key, value string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %q: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis: del %q: %w", key, err)
	}
	return nil
}

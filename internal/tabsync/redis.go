package tabsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	goredis "github.com/redis/go-redis/v9"
)

// RedisChannel is a Channel over Redis pub/sub, for tabs running in
// different processes or on different hosts.
//
// Events are JSON-encoded. Each Subscribe opens its own PubSub connection
// and delivers on a dedicated goroutine, so handlers of one subscription
// run in order but concurrently with other subscriptions.
type RedisChannel struct {
	client *goredis.Client
	name   string
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[*goredis.PubSub]struct{}
	closed bool
}

var _ Channel = (*RedisChannel)(nil)

// NewRedisChannel publishes and subscribes on the Redis channel called name.
// The caller owns client.
func NewRedisChannel(client *goredis.Client, name string, logger *slog.Logger) *RedisChannel {
	return &RedisChannel{
		client: client,
		name:   name,
		logger: logger,
		subs:   make(map[*goredis.PubSub]struct{}),
	}
}

func (c *RedisChannel) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("tabsync: encoding event: %w", err)
	}
	if err := c.client.Publish(ctx, c.name, data).Err(); err != nil {
		return fmt.Errorf("tabsync: publishing to %s: %w", c.name, err)
	}
	return nil
}

// Subscribe blocks until Redis confirms the subscription, so an event
// published after Subscribe returns is never missed.
func (c *RedisChannel) Subscribe(ctx context.Context, fn func(Event)) (func(), error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.mu.Unlock()

	ps := c.client.Subscribe(ctx, c.name)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("tabsync: subscribing to %s: %w", c.name, err)
	}

	c.mu.Lock()
	c.subs[ps] = struct{}{}
	c.mu.Unlock()

	go func() {
		for msg := range ps.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				c.logger.Warn("dropping malformed sync event",
					slog.String("channel", c.name),
					slog.String("error", err.Error()),
				)
				continue
			}
			fn(ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, ps)
			c.mu.Unlock()
			_ = ps.Close()
		})
	}, nil
}

// Close ends every subscription opened through c. The Redis client itself
// stays open.
func (c *RedisChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for ps := range c.subs {
		_ = ps.Close()
	}
	clear(c.subs)
	return nil
}

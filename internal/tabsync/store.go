package tabsync

import (
	"context"
	"log/slog"

	"github.com/sakif/course-session/internal/storage"
)

// Notifier is told about every successful write to a shared store.
type Notifier interface {
	StorageChanged(ctx context.Context, key string) error
}

// NotifyingStore wraps the shared durable store and announces every Set and
// Delete, the way a browser fires storage events for localStorage writes.
//
// A failed announcement is logged, not returned: the write itself succeeded
// and other tabs catch up on their next read.
type NotifyingStore struct {
	storage.Store
	notifier Notifier
	logger   *slog.Logger
}

var _ storage.Store = (*NotifyingStore)(nil)

// NewNotifyingStore wraps inner.
func NewNotifyingStore(inner storage.Store, notifier Notifier, logger *slog.Logger) *NotifyingStore {
	return &NotifyingStore{Store: inner, notifier: notifier, logger: logger}
}

func (n *NotifyingStore) Set(ctx context.Context, key, value string) error {
	if err := n.Store.Set(ctx, key, value); err != nil {
		return err
	}
	n.notify(ctx, key)
	return nil
}

func (n *NotifyingStore) Delete(ctx context.Context, key string) error {
	if err := n.Store.Delete(ctx, key); err != nil {
		return err
	}
	n.notify(ctx, key)
	return nil
}

func (n *NotifyingStore) notify(ctx context.Context, key string) {
	if err := n.notifier.StorageChanged(ctx, key); err != nil {
		n.logger.Warn("could not announce storage change",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

package tabsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sync is the per-tab end of cross-tab synchronisation.
//
// Local listeners register with OnChange and are told about both signals:
// profile updates made by this tab, and storage changes made by any other
// tab. Storage changes made by this tab are never echoed back.
type Sync struct {
	id      string
	bus     *Bus
	channel Channel
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	unsub func()
}

// New creates a Sync with a fresh random tab id. Call Start to begin
// receiving other tabs' events.
func New(channel Channel, logger *slog.Logger) *Sync {
	return &Sync{
		id:      uuid.NewString(),
		bus:     NewBus(),
		channel: channel,
		logger:  logger,
		now:     time.Now,
	}
}

// ID returns this tab's origin id.
func (s *Sync) ID() string { return s.id }

// Start subscribes to the channel. Calling it twice is a no-op.
func (s *Sync) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsub != nil {
		return nil
	}

	unsub, err := s.channel.Subscribe(ctx, s.receive)
	if err != nil {
		return fmt.Errorf("tabsync: starting: %w", err)
	}
	s.unsub = unsub
	s.logger.Debug("tab sync started", slog.String("tab", s.id))
	return nil
}

func (s *Sync) receive(ev Event) {
	if ev.Origin == s.id {
		return
	}
	s.logger.Debug("storage changed in another tab",
		slog.String("tab", s.id),
		slog.String("origin", ev.Origin),
		slog.String("key", ev.Key),
	)
	s.bus.Publish(ev)
}

// ProfileUpdated fires the in-page signal. It reaches only this tab's
// listeners; other tabs learn about the change through StorageChanged.
func (s *Sync) ProfileUpdated() {
	s.bus.Publish(Event{Kind: KindProfileUpdated, Origin: s.id, At: s.now()})
}

// StorageChanged tells every other tab that key was written in the shared
// durable store.
func (s *Sync) StorageChanged(ctx context.Context, key string) error {
	ev := Event{Kind: KindStorageChanged, Origin: s.id, Key: key, At: s.now()}
	if err := s.channel.Publish(ctx, ev); err != nil {
		return fmt.Errorf("tabsync: announcing change to %q: %w", key, err)
	}
	return nil
}

// OnChange registers fn for both signals and returns its unsubscribe func.
func (s *Sync) OnChange(fn func(Event)) (unsubscribe func()) {
	return s.bus.Subscribe(fn)
}

// Close stops receiving other tabs' events. The channel itself is shared
// between tabs and is not closed.
func (s *Sync) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	return nil
}

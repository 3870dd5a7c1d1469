// Package app wires the session core together for one tab.
//
// A Tab is what a single browser tab holds: its own volatile store, a view
// of the durable store it shares with its sibling tabs, and one instance of
// every service. Any sync signal, local or from another tab, makes the Tab
// re-read the session and then tell its observers, which re-run their gate
// checks against the fresh state.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/course-session/internal/enrollment"
	"github.com/sakif/course-session/internal/gate"
	"github.com/sakif/course-session/internal/identity"
	"github.com/sakif/course-session/internal/model"
	"github.com/sakif/course-session/internal/progress"
	"github.com/sakif/course-session/internal/session"
	"github.com/sakif/course-session/internal/storage"
	"github.com/sakif/course-session/internal/tabsync"
)

// Options configures a Tab. Durable, Channel and Remote are required.
type Options struct {
	// Durable is the store shared by every tab of the profile.
	Durable storage.Store
	// Volatile is this tab's own store. Defaults to a fresh storage.Memory.
	Volatile storage.Store
	// Channel connects this tab to its siblings.
	Channel tabsync.Channel
	Remote  identity.Remote
	// Routes defaults to gate.DefaultRoutes.
	Routes *gate.Routes
	Logger *slog.Logger
}

// Tab is one client instance.
type Tab struct {
	Sync     *tabsync.Sync
	Session  *session.Store
	Identity *identity.Service
	Ledger   *enrollment.Ledger
	Progress *progress.Tracker
	Gate     *gate.Gate

	observers *tabsync.Bus
	unsub     func()
	logger    *slog.Logger
}

// Open builds a Tab, joins the sync channel and reads the persisted session.
func Open(ctx context.Context, opts Options) (*Tab, error) {
	if opts.Durable == nil || opts.Channel == nil || opts.Remote == nil {
		return nil, errors.New("app: Durable, Channel and Remote are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	volatile := opts.Volatile
	if volatile == nil {
		volatile = storage.NewMemory()
	}
	routes := gate.DefaultRoutes()
	if opts.Routes != nil {
		routes = *opts.Routes
	}

	syncer := tabsync.New(opts.Channel, logger)
	logger = logger.With(slog.String("tab", syncer.ID()))
	durable := tabsync.NewNotifyingStore(opts.Durable, syncer, logger)

	sess := session.New(durable, volatile, logger)
	ident := identity.New(opts.Remote, sess, syncer, logger)

	t := &Tab{
		Sync:      syncer,
		Session:   sess,
		Identity:  ident,
		Ledger:    enrollment.NewLedger(sess, syncer, logger),
		Progress:  progress.NewTracker(durable, ident, logger),
		Gate:      gate.New(ident, routes),
		observers: tabsync.NewBus(),
		logger:    logger,
	}
	t.unsub = syncer.OnChange(t.refresh)

	if err := syncer.Start(ctx); err != nil {
		t.unsub()
		return nil, fmt.Errorf("app: joining tab sync: %w", err)
	}
	if err := ident.Bootstrap(ctx); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("app: %w", err)
	}
	return t, nil
}

// refresh is the single callback both sync signals funnel into.
func (t *Tab) refresh(ev tabsync.Event) {
	if err := t.Identity.Reload(context.Background()); err != nil {
		t.logger.Error("reloading session after sync event",
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}
	t.observers.Publish(ev)
}

// Observe registers fn to run after the Tab has re-read the session in
// response to a sync event. Observers should re-query, not trust ev.
func (t *Tab) Observe(fn func(ev tabsync.Event)) (unsubscribe func()) {
	return t.observers.Subscribe(fn)
}

// Current is shorthand for t.Identity.Current.
func (t *Tab) Current() (*model.UserRecord, bool) {
	return t.Identity.Current()
}

// Enroll enrolls the signed-in user in courseID.
func (t *Tab) Enroll(ctx context.Context, courseID string) (*model.UserRecord, bool, error) {
	rec, _ := t.Identity.Current()
	return t.Ledger.Enroll(ctx, rec, courseID)
}

// Close leaves the sync channel. The channel and stores are left open.
func (t *Tab) Close() error {
	if t.unsub != nil {
		t.unsub()
		t.unsub = nil
	}
	return t.Sync.Close()
}

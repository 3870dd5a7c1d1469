package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/course-session/internal/api"
	"github.com/sakif/course-session/internal/gate"
	"github.com/sakif/course-session/internal/identity"
	"github.com/sakif/course-session/internal/repository/sqlite"
	"github.com/sakif/course-session/internal/storage"
	"github.com/sakif/course-session/internal/tabsync"
)

// fakeRemote accepts every login for one fixed user.
type fakeRemote struct{}

func (fakeRemote) Register(_ context.Context, req api.RegisterRequest) (*api.AuthResponse, error) {
	return &api.AuthResponse{UserID: "u1", Name: req.Name, Email: req.Email, Token: "tok"}, nil
}

func (fakeRemote) Login(_ context.Context, req api.LoginRequest) (*api.AuthResponse, error) {
	return &api.AuthResponse{UserID: "u1", Name: "Ada", Email: req.Email, Token: "tok"}, nil
}

func (fakeRemote) Logout(context.Context, string) error { return nil }

func (fakeRemote) UpdateProfile(_ context.Context, _ string, req api.ProfileUpdateRequest) (*api.ProfileResponse, error) {
	resp := &api.ProfileResponse{Name: "Ada", Email: "ada@example.com"}
	if req.Name != nil {
		resp.Name = *req.Name
	}
	return resp, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// openTabs opens n tabs sharing one durable store and one broker. Call
// broker.Wait before asserting on what another tab has seen.
func openTabs(t *testing.T, durable storage.Store, n int) ([]*Tab, *tabsync.Broker) {
	t.Helper()
	broker := tabsync.NewBroker()
	tabs := make([]*Tab, n)
	for i := range tabs {
		tab, err := Open(context.Background(), Options{
			Durable: durable,
			Channel: broker,
			Remote:  fakeRemote{},
			Logger:  testLogger(),
		})
		require.NoError(t, err)
		t.Cleanup(func() { tab.Close() })
		tabs[i] = tab
	}
	return tabs, broker
}

func login(t *testing.T, tab *Tab, remember bool) {
	t.Helper()
	_, err := tab.Identity.Login(context.Background(), identity.Credentials{
		Email: "ada@example.com", Password: "pw", RememberMe: remember,
	})
	require.NoError(t, err)
}

// TestLogoutPropagatesToOtherTab: tab 1 logs out and tab 2, without any
// manual reload, moves from Authorized to Unauthenticated.
func TestLogoutPropagatesToOtherTab(t *testing.T) {
	tabs, broker := openTabs(t, storage.NewMemory(), 2)
	tab1, tab2 := tabs[0], tabs[1]

	login(t, tab1, true)
	broker.Wait()
	require.Equal(t, gate.Authorized, tab2.Gate.Check(gate.Private(), "/my-courses").State,
		"tab 2 should see the remembered login")

	var (
		mu        sync.Mutex
		decisions []gate.Decision
	)
	tab2.Observe(func(tabsync.Event) {
		mu.Lock()
		defer mu.Unlock()
		decisions = append(decisions, tab2.Gate.Check(gate.Private(), "/my-courses"))
	})

	require.NoError(t, tab1.Identity.Logout(context.Background()))
	broker.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, decisions, "tab 2 was not notified")
	last := decisions[len(decisions)-1]
	assert.Equal(t, gate.Unauthenticated, last.State)
	require.NotNil(t, last.Redirect)
	assert.Equal(t, "/login", last.Redirect.TargetPath)
	assert.Equal(t, "/my-courses", last.Redirect.PreservedFrom)
}

func TestVolatileLoginStaysInItsTab(t *testing.T) {
	tabs, broker := openTabs(t, storage.NewMemory(), 2)
	tab1, tab2 := tabs[0], tabs[1]

	login(t, tab1, false)
	broker.Wait()

	assert.Equal(t, gate.Authorized, tab1.Gate.Check(gate.Private(), "/profile").State)
	assert.Equal(t, gate.Unauthenticated, tab2.Gate.Check(gate.Private(), "/profile").State)
}

func TestOwnChangesNotifyObserversOnce(t *testing.T) {
	tabs, broker := openTabs(t, storage.NewMemory(), 1)
	tab := tabs[0]

	var kinds []tabsync.Kind
	tab.Observe(func(ev tabsync.Event) { kinds = append(kinds, ev.Kind) })

	login(t, tab, true)
	broker.Wait()

	// the in-page signal only; the tab's own storage writes are not echoed
	assert.Equal(t, []tabsync.Kind{tabsync.KindProfileUpdated}, kinds)
}

func TestEnrollmentVisibleInOtherTab(t *testing.T) {
	tabs, broker := openTabs(t, storage.NewMemory(), 2)
	tab1, tab2 := tabs[0], tabs[1]
	login(t, tab1, true)
	broker.Wait()

	assert.Equal(t, gate.Unauthorized, tab2.Gate.Check(gate.CourseContent("c1"), "/courses/c1/learn").State)

	_, added, err := tab1.Enroll(context.Background(), "c1")
	require.NoError(t, err)
	require.True(t, added)
	broker.Wait()

	assert.Equal(t, gate.Authorized, tab1.Gate.Check(gate.CourseContent("c1"), "/courses/c1/learn").State)
	assert.Equal(t, gate.Authorized, tab2.Gate.Check(gate.CourseContent("c1"), "/courses/c1/learn").State)
}

// TestObserverWritesDuringSyncEvent: tab 2 enrolls as soon as it sees the
// login that tab 1 is still writing. The write from inside the sync event
// must reach tab 1 without blocking on tab 1's session lock.
func TestObserverWritesDuringSyncEvent(t *testing.T) {
	tabs, broker := openTabs(t, storage.NewMemory(), 2)
	tab1, tab2 := tabs[0], tabs[1]

	tab2.Observe(func(tabsync.Event) {
		if rec, _ := tab2.Current(); rec != nil {
			_, _, err := tab2.Enroll(context.Background(), "c1")
			assert.NoError(t, err)
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := tab1.Identity.Login(context.Background(), identity.Credentials{
			Email: "ada@example.com", Password: "pw", RememberMe: true,
		})
		assert.NoError(t, err)
		broker.Wait()
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("login deadlocked while tab 2 wrote from its observer")
	}

	assert.Equal(t, gate.Authorized, tab1.Gate.Check(gate.CourseContent("c1"), "/courses/c1/learn").State)
	assert.Equal(t, gate.Authorized, tab2.Gate.Check(gate.CourseContent("c1"), "/courses/c1/learn").State)
}

func TestProgressSharedAcrossTabs(t *testing.T) {
	tabs, broker := openTabs(t, storage.NewMemory(), 2)
	tab1, tab2 := tabs[0], tabs[1]
	login(t, tab1, true)
	broker.Wait()
	ctx := context.Background()

	_, err := tab1.Progress.Toggle(ctx, "c1", "L1")
	require.NoError(t, err)

	pct, err := tab2.Progress.CompletionPercentage(ctx, "c1", 4)
	require.NoError(t, err)
	assert.Equal(t, 25, pct)
}

func TestEnrollWithoutSession(t *testing.T) {
	tabs, broker := openTabs(t, storage.NewMemory(), 1)

	_, _, err := tabs[0].Enroll(context.Background(), "c1")
	broker.Wait()
	assert.Error(t, err)
}

// TestRememberedSessionSurvivesRestart uses a SQLite file as the durable
// store, closes the tab, and opens a new one on the same file.
func TestRememberedSessionSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "browser.db")

	db, err := sqlite.New(path)
	require.NoError(t, err)
	tabs, _ := openTabs(t, db, 1)
	tab := tabs[0]
	login(t, tab, true)
	require.NoError(t, tab.Close())
	require.NoError(t, db.Close())

	db, err = sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	tabs, _ = openTabs(t, db, 1)
	restarted := tabs[0]

	rec, resolved := restarted.Current()
	require.True(t, resolved)
	require.NotNil(t, rec)
	assert.Equal(t, "u1", rec.ID)
}

func TestOpen_RequiresDependencies(t *testing.T) {
	_, err := Open(context.Background(), Options{Durable: storage.NewMemory()})
	assert.Error(t, err)
}

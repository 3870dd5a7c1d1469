package enrollment

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/sakif/course-session/internal/apperror"
	"github.com/sakif/course-session/internal/model"
	"github.com/sakif/course-session/internal/session"
	"github.com/sakif/course-session/internal/storage"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

type countingBroadcaster struct{ calls int }

func (c *countingBroadcaster) ProfileUpdated() { c.calls++ }

type failingPersister struct{ err error }

func (f failingPersister) Replace(context.Context, *model.UserRecord) error { return f.err }

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// newTestLedger returns a ledger over a real session store that already
// holds rec in its volatile store.
func newTestLedger(t *testing.T, rec *model.UserRecord) (*Ledger, *session.Store, *countingBroadcaster) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store := session.New(storage.NewMemory(), storage.NewMemory(), logger)
	if rec != nil {
		if err := store.Write(context.Background(), rec, false); err != nil {
			t.Fatalf("seeding session: %v", err)
		}
	}
	b := &countingBroadcaster{}
	l := NewLedger(store, b, logger)
	l.now = func() time.Time { return fixedNow }
	return l, store, b
}

// =========================================================================
// ENROLL TESTS
// =========================================================================

func TestEnroll_FirstTime(t *testing.T) {
	rec := &model.UserRecord{ID: "u1", EnrolledCourses: []string{"c1"}}
	l, store, b := newTestLedger(t, rec)

	got, added, err := l.Enroll(context.Background(), rec, "c2")
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	if !added {
		t.Error("Enroll() added = false, want true for a first enrollment")
	}
	if !slices.Equal(got.EnrolledCourses, []string{"c1", "c2"}) {
		t.Errorf("EnrolledCourses = %v", got.EnrolledCourses)
	}
	if at, ok := EnrolledAt(got, "c2"); !ok || !at.Equal(fixedNow) {
		t.Errorf("EnrolledAt() = %v, %v; want %v", at, ok, fixedNow)
	}
	if b.calls != 1 {
		t.Errorf("ProfileUpdated called %d times, want 1", b.calls)
	}
	if rec.HasCourse("c2") {
		t.Error("Enroll() mutated its input record")
	}

	stored, _ := store.Read(context.Background())
	if !stored.HasCourse("c2") {
		t.Error("enrollment was not persisted")
	}
	if loc, _ := store.Location(context.Background()); loc != session.LocationVolatile {
		t.Errorf("session moved to %v", loc)
	}
}

func TestEnroll_Idempotent(t *testing.T) {
	rec := &model.UserRecord{ID: "u1"}
	l, store, b := newTestLedger(t, rec)
	ctx := context.Background()

	once, _, err := l.Enroll(ctx, rec, "c1")
	if err != nil {
		t.Fatalf("first Enroll() error = %v", err)
	}
	twice, added, err := l.Enroll(ctx, once, "c1")
	if err != nil {
		t.Fatalf("second Enroll() error = %v", err)
	}

	if added {
		t.Error("second Enroll() added = true")
	}
	if !slices.Equal(once.EnrolledCourses, twice.EnrolledCourses) {
		t.Errorf("sets differ: %v vs %v", once.EnrolledCourses, twice.EnrolledCourses)
	}
	if b.calls != 1 {
		t.Errorf("ProfileUpdated called %d times, want 1", b.calls)
	}
	stored, _ := store.Read(ctx)
	if len(stored.EnrolledCourses) != 1 {
		t.Errorf("stored EnrolledCourses = %v, want one entry", stored.EnrolledCourses)
	}
}

func TestEnroll_NoSession(t *testing.T) {
	l, store, b := newTestLedger(t, nil)

	got, added, err := l.Enroll(context.Background(), nil, "c1")
	if !errors.Is(err, apperror.ErrNoActiveSession) {
		t.Fatalf("Enroll() error = %v, want ErrNoActiveSession", err)
	}
	if got != nil || added {
		t.Errorf("Enroll() = %v, %v; want nil, false", got, added)
	}
	if rec, _ := store.Read(context.Background()); rec != nil {
		t.Error("Enroll() created a session")
	}
	if b.calls != 0 {
		t.Error("ProfileUpdated fired on failure")
	}
}

func TestEnroll_RecordWithoutStoredSession(t *testing.T) {
	// The caller holds a record but storage was cleared, e.g. by a logout
	// in another tab.
	l, _, _ := newTestLedger(t, nil)

	_, _, err := l.Enroll(context.Background(), &model.UserRecord{ID: "u1"}, "c1")
	if !errors.Is(err, apperror.ErrNoActiveSession) {
		t.Errorf("Enroll() error = %v, want ErrNoActiveSession", err)
	}
}

func TestEnroll_EmptyCourseID(t *testing.T) {
	rec := &model.UserRecord{ID: "u1"}
	l, _, _ := newTestLedger(t, rec)

	_, _, err := l.Enroll(context.Background(), rec, "  ")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("Enroll() error = %v, want ErrValidation", err)
	}
}

func TestEnroll_PersistFailure(t *testing.T) {
	boom := errors.New("storage full")
	b := &countingBroadcaster{}
	l := NewLedger(failingPersister{err: boom}, b, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))

	_, added, err := l.Enroll(context.Background(), &model.UserRecord{ID: "u1"}, "c1")
	if !errors.Is(err, boom) {
		t.Fatalf("Enroll() error = %v, want %v", err, boom)
	}
	if added || b.calls != 0 {
		t.Errorf("added = %v, broadcasts = %d after a failed write", added, b.calls)
	}
}

// =========================================================================
// QUERY TESTS
// =========================================================================

func TestIsEnrolled(t *testing.T) {
	rec := &model.UserRecord{ID: "u1", EnrolledCourses: []string{"c1"}}

	if !IsEnrolled(rec, "c1") {
		t.Error("IsEnrolled(c1) = false")
	}
	if IsEnrolled(rec, "c2") {
		t.Error("IsEnrolled(c2) = true")
	}
	if IsEnrolled(nil, "c1") {
		t.Error("IsEnrolled(nil) = true")
	}
	if _, ok := EnrolledAt(rec, "c1"); ok {
		t.Error("EnrolledAt() ok for an enrollment with no recorded date")
	}
}

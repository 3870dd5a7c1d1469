// Package progress tracks which lessons of a course a user has completed.
//
// Each (user, course) pair has its own key in the durable store:
//
//	progress:<userId>:<courseId> → ["L1","L3"]
//
// Both ids are query-escaped, so a ':' inside either one cannot make two
// pairs share a key. Keys carry the user id so two accounts signing in on the same profile
// never see each other's progress. Progress is created lazily on the first
// toggle and never deleted.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"sync"

	"github.com/sakif/course-session/internal/apperror"
	"github.com/sakif/course-session/internal/model"
	"github.com/sakif/course-session/internal/storage"
)

// UserSource reports the signed-in user. *identity.Service satisfies it.
type UserSource interface {
	Current() (*model.UserRecord, bool)
}

// Key returns the storage key of one user's progress in one course.
func Key(userID, courseID string) string {
	return "progress:" + url.QueryEscape(userID) + ":" + url.QueryEscape(courseID)
}

// Tracker reads and toggles lesson completion for the current user.
type Tracker struct {
	mu     sync.Mutex
	store  storage.Store
	users  UserSource
	logger *slog.Logger
}

// NewTracker creates a Tracker persisting to store.
func NewTracker(store storage.Store, users UserSource, logger *slog.Logger) *Tracker {
	return &Tracker{store: store, users: users, logger: logger}
}

// CompletedLessons returns the completed lessons of courseID. With nobody
// signed in it returns an empty set.
func (t *Tracker) CompletedLessons(ctx context.Context, courseID string) (model.LessonSet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, _ := t.users.Current()
	if rec == nil {
		return model.NewLessonSet(), nil
	}
	return t.load(ctx, Key(rec.ID, courseID))
}

// Toggle flips lessonID between complete and incomplete and returns the new
// set. The whole set is written back, never a delta.
//
// Two tabs toggling the same course at once race; the last write wins.
func (t *Tracker) Toggle(ctx context.Context, courseID, lessonID string) (model.LessonSet, error) {
	if lessonID == "" {
		return nil, apperror.ValidationFailed("lessonId", "lesson id is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, _ := t.users.Current()
	if rec == nil {
		return nil, apperror.NoActiveSession("tracking lesson progress")
	}
	key := Key(rec.ID, courseID)

	current, err := t.load(ctx, key)
	if err != nil {
		return nil, err
	}
	next := current.Toggle(lessonID)

	data, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("progress: encoding %s: %w", key, err)
	}
	if err := t.store.Set(ctx, key, string(data)); err != nil {
		return nil, fmt.Errorf("progress: saving %s: %w", key, err)
	}

	t.logger.Debug("lesson toggled",
		slog.String("user_id", rec.ID),
		slog.String("course_id", courseID),
		slog.String("lesson_id", lessonID),
		slog.Bool("complete", next.Has(lessonID)),
	)
	return next, nil
}

// CompletionPercentage returns how much of courseID is complete, out of
// totalLessons, as a whole percent.
func (t *Tracker) CompletionPercentage(ctx context.Context, courseID string, totalLessons int) (int, error) {
	done, err := t.CompletedLessons(ctx, courseID)
	if err != nil {
		return 0, err
	}
	return Percentage(done.Len(), totalLessons), nil
}

// Percentage is completed/total as a whole percent, rounded half away from
// zero and clamped to [0, 100]. A total of zero or less yields 0.
func Percentage(completed, total int) int {
	if total <= 0 || completed <= 0 {
		return 0
	}
	if completed >= total {
		return 100
	}
	return int(math.Round(float64(completed) * 100 / float64(total)))
}

// load reads the set under key. A malformed value is logged and treated as
// no progress; it is overwritten by the next toggle.
func (t *Tracker) load(ctx context.Context, key string) (model.LessonSet, error) {
	raw, ok, err := t.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("progress: reading %s: %w", key, err)
	}
	if !ok || raw == "" {
		return model.NewLessonSet(), nil
	}

	var set model.LessonSet
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		t.logger.Warn("ignoring malformed progress",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return model.NewLessonSet(), nil
	}
	return set, nil
}

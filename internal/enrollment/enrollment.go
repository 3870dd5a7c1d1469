// Package enrollment records which courses a user has individually joined.
//
// Enrollments live inside the persisted UserRecord, next to the identity
// fields, so enrolling is a session update: the ledger rewrites the record
// in place through the session store and fires the in-page signal.
package enrollment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/course-session/internal/apperror"
	"github.com/sakif/course-session/internal/model"
)

// Persister writes an updated record back to wherever the session lives.
// *session.Store satisfies it.
type Persister interface {
	Replace(ctx context.Context, rec *model.UserRecord) error
}

// Broadcaster fires the in-page profile-updated signal.
// *tabsync.Sync satisfies it.
type Broadcaster interface {
	ProfileUpdated()
}

// Ledger enrolls users in courses.
type Ledger struct {
	session     Persister
	broadcaster Broadcaster
	logger      *slog.Logger
	now         func() time.Time
}

// NewLedger creates a Ledger.
func NewLedger(session Persister, broadcaster Broadcaster, logger *slog.Logger) *Ledger {
	return &Ledger{
		session:     session,
		broadcaster: broadcaster,
		logger:      logger,
		now:         time.Now,
	}
}

// IsEnrolled reports whether rec is enrolled in courseID. A nil record is
// enrolled in nothing.
func IsEnrolled(rec *model.UserRecord, courseID string) bool {
	return rec != nil && rec.HasCourse(courseID)
}

// EnrolledAt returns when rec enrolled in courseID.
func EnrolledAt(rec *model.UserRecord, courseID string) (time.Time, bool) {
	if !IsEnrolled(rec, courseID) {
		return time.Time{}, false
	}
	at, ok := rec.EnrollmentDates[courseID]
	return at, ok
}

// Enroll adds courseID to rec's enrolled set and persists the result.
//
// The returned bool is true only for a first enrollment. Enrolling again in
// the same course returns rec unchanged with false and writes nothing. A nil
// rec fails with apperror.ErrNoActiveSession; Enroll never creates a session.
//
// rec itself is not modified.
func (l *Ledger) Enroll(ctx context.Context, rec *model.UserRecord, courseID string) (*model.UserRecord, bool, error) {
	if rec == nil {
		return nil, false, apperror.NoActiveSession("enrolling in a course")
	}
	courseID = strings.TrimSpace(courseID)
	if courseID == "" {
		return nil, false, apperror.ValidationFailed("courseId", "course id is required")
	}
	if rec.HasCourse(courseID) {
		return rec, false, nil
	}

	next := rec.Clone()
	next.Normalize()
	next.EnrolledCourses = append(next.EnrolledCourses, courseID)
	next.EnrollmentDates[courseID] = l.now().UTC()

	if err := l.session.Replace(ctx, next); err != nil {
		return nil, false, fmt.Errorf("enrollment: saving enrollment in %s: %w", courseID, err)
	}

	l.logger.Info("enrolled in course",
		slog.String("user_id", next.ID),
		slog.String("course_id", courseID),
		slog.Int("enrolled_courses", len(next.EnrolledCourses)),
	)
	l.broadcaster.ProfileUpdated()
	return next, true, nil
}

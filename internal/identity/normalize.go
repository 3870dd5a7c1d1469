package identity

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/sakif/course-session/internal/api"
	"github.com/sakif/course-session/internal/apperror"
	"github.com/sakif/course-session/internal/model"
)

// Normalize turns an auth response into a session record.
//
// When prev belongs to the same user, its enrollments are kept and the
// server's list is merged in after them. A record of a different user is
// ignored entirely.
func Normalize(resp *api.AuthResponse, prev *model.UserRecord) *model.UserRecord {
	rec := &model.UserRecord{
		ID:              resp.UserID,
		FullName:        strings.TrimSpace(resp.Name),
		Email:           strings.TrimSpace(resp.Email),
		Token:           resp.Token,
		Role:            resp.Role,
		IsAdmin:         resp.IsAdmin,
		EnrollmentDates: make(map[string]time.Time),
	}
	if resp.Subscription != nil {
		sub := *resp.Subscription
		rec.Subscription = &sub
	}

	if prev != nil && prev.ID == resp.UserID {
		rec.EnrolledCourses = append(rec.EnrolledCourses, prev.EnrolledCourses...)
		for id, at := range prev.EnrollmentDates {
			rec.EnrollmentDates[id] = at
		}
		if prev.LastUpdated != nil {
			t := *prev.LastUpdated
			rec.LastUpdated = &t
		}
	}
	rec.EnrolledCourses = append(rec.EnrolledCourses, resp.EnrolledCourses...)
	rec.Normalize()
	return rec
}

// ProfileUpdate is the whitelist of fields a user may change. Nil means
// "leave as is".
type ProfileUpdate struct {
	FullName *string
	Email    *string
}

// Empty reports whether upd changes nothing.
func (upd ProfileUpdate) Empty() bool {
	return upd.FullName == nil && upd.Email == nil
}

// Merge returns a copy of rec with upd applied and LastUpdated set to at.
// Fields outside the whitelist are never touched.
func Merge(rec *model.UserRecord, upd ProfileUpdate, at time.Time) *model.UserRecord {
	next := rec.Clone()
	if upd.FullName != nil {
		next.FullName = *upd.FullName
	}
	if upd.Email != nil {
		next.Email = *upd.Email
	}
	next.LastUpdated = &at
	return next
}

// ParseProfileUpdate decodes a JSON partial update.
//
// Only "fullName" (or its older spelling "name") and "email" are accepted;
// any other key is rejected rather than silently merged into the record.
func ParseProfileUpdate(data []byte) (ProfileUpdate, error) {
	var raw struct {
		FullName *string `json:"fullName"`
		Name     *string `json:"name"`
		Email    *string `json:"email"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return ProfileUpdate{}, apperror.ValidationFailed("", "invalid profile update: "+err.Error())
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return ProfileUpdate{}, apperror.ValidationFailed("", "invalid profile update: trailing data")
	}

	upd := ProfileUpdate{FullName: raw.FullName, Email: raw.Email}
	if upd.FullName == nil {
		upd.FullName = raw.Name
	}

	if upd.FullName != nil {
		name := strings.TrimSpace(*upd.FullName)
		if name == "" {
			return ProfileUpdate{}, apperror.ValidationFailed("fullName", "name cannot be empty")
		}
		upd.FullName = &name
	}
	if upd.Email != nil {
		email := strings.TrimSpace(*upd.Email)
		if !looksLikeEmail(email) {
			return ProfileUpdate{}, apperror.ValidationFailed("email", "a valid email is required")
		}
		upd.Email = &email
	}
	if upd.Empty() {
		return ProfileUpdate{}, apperror.ValidationFailed("", "nothing to update")
	}
	return upd, nil
}

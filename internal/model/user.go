// Package model defines the data structures used throughout the application.
package model

import (
	"encoding/json"
	"slices"
	"time"
)

// Role is the account role reported by the identity API.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
)

// Subscription is the plan sub-record embedded in a UserRecord.
//
// IsActive is the only field entitlement decisions look at. The dates are
// carried for display and for the Entitlement sum type's expiry.
type Subscription struct {
	Title      string    `json:"title"`
	StartDate  time.Time `json:"startDate"`
	ExpiryDate time.Time `json:"expiryDate"`
	IsActive   bool      `json:"isActive"`
}

// UserRecord is the single persisted identity record of a client.
//
// A UserRecord exists if and only if the visitor is authenticated. It is
// serialized as JSON into exactly one of the two session stores.
//
// WHY A SLICE FOR EnrolledCourses?
// JSON has no set type. The slice is kept duplicate-free by Enroll (the only
// way EnrollmentLedger adds to it) and by Normalize, which runs on every
// record coming from the network or from storage.
type UserRecord struct {
	ID              string               `json:"id"`
	FullName        string               `json:"fullName"`
	Email           string               `json:"email"`
	Token           string               `json:"token"`
	Role            Role                 `json:"role,omitempty"`
	IsAdmin         bool                 `json:"isAdmin,omitempty"`
	Subscription    *Subscription        `json:"subscription,omitempty"`
	EnrolledCourses []string             `json:"enrolledCourses"`
	EnrollmentDates map[string]time.Time `json:"enrollmentDates"`
	LastUpdated     *time.Time           `json:"lastUpdated,omitempty"`
}

// UnmarshalJSON accepts records written with "name" instead of "fullName".
// Older clients stored the display name under that key.
func (u *UserRecord) UnmarshalJSON(data []byte) error {
	type plain UserRecord
	aux := struct {
		*plain
		Name string `json:"name"`
	}{plain: (*plain)(u)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if u.FullName == "" {
		u.FullName = aux.Name
	}
	return nil
}

// Normalize removes duplicate course ids and guarantees non-nil collections.
// It keeps the first occurrence of each id so enrollment order is preserved.
func (u *UserRecord) Normalize() {
	seen := make(map[string]struct{}, len(u.EnrolledCourses))
	courses := make([]string, 0, len(u.EnrolledCourses))
	for _, id := range u.EnrolledCourses {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		courses = append(courses, id)
	}
	u.EnrolledCourses = courses

	if u.EnrollmentDates == nil {
		u.EnrollmentDates = make(map[string]time.Time)
	}
}

// HasCourse reports whether courseID is in the enrolled set.
func (u *UserRecord) HasCourse(courseID string) bool {
	return slices.Contains(u.EnrolledCourses, courseID)
}

// Clone returns a deep copy. Services hand out clones so callers can never
// mutate the cached session behind the store's back.
func (u *UserRecord) Clone() *UserRecord {
	if u == nil {
		return nil
	}
	c := *u
	c.EnrolledCourses = slices.Clone(u.EnrolledCourses)
	if u.EnrollmentDates != nil {
		c.EnrollmentDates = make(map[string]time.Time, len(u.EnrollmentDates))
		for k, v := range u.EnrollmentDates {
			c.EnrollmentDates[k] = v
		}
	}
	if u.Subscription != nil {
		sub := *u.Subscription
		c.Subscription = &sub
	}
	if u.LastUpdated != nil {
		t := *u.LastUpdated
		c.LastUpdated = &t
	}
	return &c
}

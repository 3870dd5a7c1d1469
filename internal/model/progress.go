package model

import (
	"encoding/json"
	"slices"
)

// LessonSet is the set of completed lesson ids of one course.
//
// It is persisted as a sorted JSON array. The full set is always written,
// never a delta, so two rapid toggles cannot lose each other's update.
type LessonSet map[string]struct{}

// NewLessonSet builds a set from ids, ignoring empty strings.
func NewLessonSet(ids ...string) LessonSet {
	s := make(LessonSet, len(ids))
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

// Has reports whether lessonID is complete.
func (s LessonSet) Has(lessonID string) bool {
	_, ok := s[lessonID]
	return ok
}

// Len returns the number of completed lessons.
func (s LessonSet) Len() int { return len(s) }

// IDs returns the lesson ids in sorted order.
func (s LessonSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Toggle returns a new set with lessonID flipped: complete becomes
// incomplete and vice versa. The receiver is left untouched.
func (s LessonSet) Toggle(lessonID string) LessonSet {
	next := make(LessonSet, len(s)+1)
	for id := range s {
		next[id] = struct{}{}
	}
	if next.Has(lessonID) {
		delete(next, lessonID)
	} else {
		next[lessonID] = struct{}{}
	}
	return next
}

// MarshalJSON encodes the set as a sorted array.
func (s LessonSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.IDs())
}

// UnmarshalJSON decodes an array of ids.
func (s *LessonSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewLessonSet(ids...)
	return nil
}

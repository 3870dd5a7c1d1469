// Package session persists the current identity record.
//
// The record lives in exactly one of two stores:
//
//	durable  → "remember me"; survives restarts, shared by every tab of a profile
//	volatile → scoped to one tab; gone when the tab closes
//
// Store enforces that invariant on every write: committing to one store
// deletes the key from the other. Nothing here talks to the network.
//
// WHY RECOVER FROM BAD DATA INSTEAD OF RETURNING AN ERROR?
// A record that fails to parse can only have come from an older client or
// from someone editing storage by hand. Either way the right outcome for the
// visitor is "signed out", so Read discards the value, logs it, and reports
// absence. Storage I/O errors, on the other hand, are returned.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sakif/course-session/internal/apperror"
	"github.com/sakif/course-session/internal/model"
	"github.com/sakif/course-session/internal/storage"
)

// UserKey is the storage key of the identity record in both stores.
const UserKey = "user"

// Location says which store currently holds the record.
type Location int

const (
	LocationNone Location = iota
	LocationDurable
	LocationVolatile
)

func (l Location) String() string {
	switch l {
	case LocationDurable:
		return "durable"
	case LocationVolatile:
		return "volatile"
	default:
		return "none"
	}
}

// Store reads and writes the identity record.
//
// The mutex serialises the read-modify-write sequences of one tab. Two tabs
// writing the shared durable store concurrently still race, and the last
// write wins.
type Store struct {
	mu       sync.Mutex
	durable  storage.Store
	volatile storage.Store
	logger   *slog.Logger
}

// New creates a Store over the two backing stores.
func New(durable, volatile storage.Store, logger *slog.Logger) *Store {
	return &Store{
		durable:  durable,
		volatile: volatile,
		logger:   logger,
	}
}

// Read returns the current record, checking the durable store first.
// It returns (nil, nil) when no valid record exists.
func (s *Store) Read(ctx context.Context) (*model.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, _, err := s.read(ctx)
	return rec, err
}

// Write commits rec to the durable store when durable is true, otherwise to
// the volatile store, and removes it from the other one.
func (s *Store) Write(ctx context.Context, rec *model.UserRecord, durable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.write(ctx, rec, durable)
}

// Clear removes the record from both stores.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.durable.Delete(ctx, UserKey); err != nil {
		return fmt.Errorf("session: clearing durable store: %w", err)
	}
	if err := s.volatile.Delete(ctx, UserKey); err != nil {
		return fmt.Errorf("session: clearing volatile store: %w", err)
	}
	return nil
}

// Location reports where the current record is stored.
func (s *Store) Location(ctx context.Context) (Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, loc, err := s.read(ctx)
	return loc, err
}

// Replace overwrites the record in whichever store already holds it, so an
// update never moves a session between durable and volatile storage.
func (s *Store) Replace(ctx context.Context, rec *model.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, loc, err := s.read(ctx)
	if err != nil {
		return err
	}
	if loc == LocationNone {
		return apperror.NoActiveSession("updating the session")
	}
	return s.write(ctx, rec, loc == LocationDurable)
}

func (s *Store) read(ctx context.Context) (*model.UserRecord, Location, error) {
	rec, err := s.readFrom(ctx, s.durable, "durable")
	if err != nil || rec != nil {
		return rec, LocationDurable, err
	}
	rec, err = s.readFrom(ctx, s.volatile, "volatile")
	if err != nil || rec != nil {
		return rec, LocationVolatile, err
	}
	return nil, LocationNone, nil
}

// readFrom decodes the record held by st. A value that does not decode, or
// decodes to a record with no id, is deleted and treated as absent.
func (s *Store) readFrom(ctx context.Context, st storage.Store, name string) (*model.UserRecord, error) {
	raw, ok, err := st.Get(ctx, UserKey)
	if err != nil {
		return nil, fmt.Errorf("session: reading %s store: %w", name, err)
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var rec model.UserRecord
	decodeErr := json.Unmarshal([]byte(raw), &rec)
	if decodeErr == nil && rec.ID == "" {
		decodeErr = errors.New("record has no id")
	}
	if decodeErr != nil {
		s.logger.Warn("discarding corrupt session record",
			slog.String("store", name),
			slog.Any("error", apperror.SessionCorrupt(UserKey, decodeErr)),
		)
		if err := st.Delete(ctx, UserKey); err != nil {
			return nil, fmt.Errorf("session: deleting corrupt record from %s store: %w", name, err)
		}
		return nil, nil
	}

	rec.Normalize()
	return &rec, nil
}

func (s *Store) write(ctx context.Context, rec *model.UserRecord, durable bool) error {
	if rec == nil || rec.ID == "" {
		return apperror.ValidationFailed("id", "session record must have an id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: encoding record: %w", err)
	}

	target, other := s.volatile, s.durable
	if durable {
		target, other = s.durable, s.volatile
	}

	// Delete first so a failed Set never leaves the record in both stores.
	if err := other.Delete(ctx, UserKey); err != nil {
		return fmt.Errorf("session: clearing previous location: %w", err)
	}
	if err := target.Set(ctx, UserKey, string(data)); err != nil {
		return fmt.Errorf("session: writing record: %w", err)
	}
	return nil
}

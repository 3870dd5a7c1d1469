// Package identity signs users in and out and keeps the persisted session
// in step with the identity API.
//
// Every mutating call follows the same three phases:
//
//  1. mark the service busy so the UI can show a spinner
//  2. call the identity API
//  3. on success, normalize the response into a UserRecord, commit it to
//     the session store and fire the in-page signal; on failure, leave the
//     session exactly as it was and return the API's message
//
// KNOWN RACE:
// Calls are not serialized against each other. A Logout issued while a
// Login is still waiting on the network can be undone when the Login's
// response arrives and commits a new session. Treat Logout as final only
// when Busy reports false.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sakif/course-session/internal/api"
	"github.com/sakif/course-session/internal/apperror"
	"github.com/sakif/course-session/internal/model"
)

// Remote is the identity API. *remote.Client satisfies it.
type Remote interface {
	Register(ctx context.Context, req api.RegisterRequest) (*api.AuthResponse, error)
	Login(ctx context.Context, req api.LoginRequest) (*api.AuthResponse, error)
	Logout(ctx context.Context, token string) error
	UpdateProfile(ctx context.Context, token string, req api.ProfileUpdateRequest) (*api.ProfileResponse, error)
}

// SessionStore persists the record. *session.Store satisfies it.
type SessionStore interface {
	Read(ctx context.Context) (*model.UserRecord, error)
	Write(ctx context.Context, rec *model.UserRecord, durable bool) error
	Replace(ctx context.Context, rec *model.UserRecord) error
	Clear(ctx context.Context) error
}

// Broadcaster fires the in-page profile-updated signal.
type Broadcaster interface {
	ProfileUpdated()
}

// RegisterInput is the sign-up form.
type RegisterInput struct {
	Name       string
	Email      string
	Password   string
	RememberMe bool
}

// Credentials is the sign-in form.
type Credentials struct {
	Email      string
	Password   string
	RememberMe bool
}

// Service owns the current identity of one tab.
//
// The cached record is what Current serves. It is refreshed from storage by
// Reload, which tab sync calls on every signal, and replaced directly after
// each successful mutation.
type Service struct {
	remote      Remote
	session     SessionStore
	broadcaster Broadcaster
	logger      *slog.Logger
	now         func() time.Time

	inFlight atomic.Int32

	mu       sync.RWMutex
	current  *model.UserRecord
	resolved bool
}

// New creates a Service. Call Bootstrap before serving the first navigation.
func New(remote Remote, session SessionStore, broadcaster Broadcaster, logger *slog.Logger) *Service {
	return &Service{
		remote:      remote,
		session:     session,
		broadcaster: broadcaster,
		logger:      logger,
		now:         time.Now,
	}
}

// Bootstrap reads the persisted session for the first time. Until it
// returns, Current reports resolved=false.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.Reload(ctx); err != nil {
		return fmt.Errorf("identity: bootstrap: %w", err)
	}
	rec, _ := s.Current()
	if rec != nil {
		s.logger.Info("session restored", slog.String("user_id", rec.ID))
	}
	return nil
}

// Reload re-reads the persisted session. On a storage error the cached
// record is kept and the error returned.
func (s *Service) Reload(ctx context.Context) error {
	rec, err := s.session.Read(ctx)
	if err != nil {
		return fmt.Errorf("identity: reading session: %w", err)
	}
	s.set(rec)
	return nil
}

// Current returns a copy of the signed-in user, or nil, and whether the
// session has been read from storage at least once.
func (s *Service) Current() (*model.UserRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone(), s.resolved
}

// Busy reports whether a call to the identity API is outstanding.
func (s *Service) Busy() bool {
	return s.inFlight.Load() > 0
}

// Register creates an account and signs it in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.UserRecord, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.TrimSpace(in.Email)
	switch {
	case name == "":
		return nil, apperror.ValidationFailed("name", "name is required")
	case !looksLikeEmail(email):
		return nil, apperror.ValidationFailed("email", "a valid email is required")
	case in.Password == "":
		return nil, apperror.ValidationFailed("password", "password is required")
	}

	done := s.begin()
	defer done()

	resp, err := s.remote.Register(ctx, api.RegisterRequest{Name: name, Email: email, Password: in.Password})
	if err != nil {
		return nil, err
	}
	return s.signIn(ctx, resp, in.RememberMe)
}

// Login signs in with email and password.
func (s *Service) Login(ctx context.Context, c Credentials) (*model.UserRecord, error) {
	email := strings.TrimSpace(c.Email)
	if email == "" || c.Password == "" {
		return nil, apperror.ValidationFailed("email", "email and password are required")
	}

	done := s.begin()
	defer done()

	resp, err := s.remote.Login(ctx, api.LoginRequest{Email: email, Password: c.Password})
	if err != nil {
		return nil, err
	}
	return s.signIn(ctx, resp, c.RememberMe)
}

// Logout ends the session. The server is told first, but its answer does
// not matter: the local session is cleared either way.
func (s *Service) Logout(ctx context.Context) error {
	done := s.begin()
	defer done()

	rec, _ := s.Current()
	if rec != nil && rec.Token != "" {
		if err := s.remote.Logout(ctx, rec.Token); err != nil {
			s.logger.Warn("logging out locally without server acknowledgement",
				slog.String("user_id", rec.ID),
				slog.Any("error", apperror.LogoutBestEffort(err)),
			)
		}
	}

	if err := s.session.Clear(ctx); err != nil {
		return fmt.Errorf("identity: clearing session: %w", err)
	}
	s.set(nil)

	if rec != nil {
		s.logger.Info("logged out", slog.String("user_id", rec.ID))
	}
	s.broadcaster.ProfileUpdated()
	return nil
}

// UpdateProfile sends upd to the identity API and merges the server's
// answer into the session record.
func (s *Service) UpdateProfile(ctx context.Context, upd ProfileUpdate) (*model.UserRecord, error) {
	if upd.Empty() {
		return nil, apperror.ValidationFailed("", "nothing to update")
	}
	rec, _ := s.Current()
	if rec == nil {
		return nil, apperror.NoActiveSession("updating the profile")
	}

	done := s.begin()
	defer done()

	resp, err := s.remote.UpdateProfile(ctx, rec.Token, api.ProfileUpdateRequest{Name: upd.FullName, Email: upd.Email})
	if err != nil {
		return nil, err
	}

	// The server's values win over what was sent.
	applied := ProfileUpdate{}
	if resp.Name != "" {
		applied.FullName = &resp.Name
	}
	if resp.Email != "" {
		applied.Email = &resp.Email
	}
	next := Merge(rec, applied, s.now().UTC())

	if err := s.session.Replace(ctx, next); err != nil {
		return nil, fmt.Errorf("identity: saving profile: %w", err)
	}
	s.set(next)

	s.logger.Info("profile updated", slog.String("user_id", next.ID))
	s.broadcaster.ProfileUpdated()
	return next.Clone(), nil
}

// signIn is phase three of Register and Login.
func (s *Service) signIn(ctx context.Context, resp *api.AuthResponse, rememberMe bool) (*model.UserRecord, error) {
	if resp == nil || resp.UserID == "" || resp.Token == "" {
		return nil, apperror.RemoteAuthFailure("")
	}

	prev, err := s.session.Read(ctx)
	if err != nil {
		s.logger.Warn("could not read previous session before sign-in",
			slog.String("error", err.Error()),
		)
		prev = nil
	}
	rec := Normalize(resp, prev)

	if err := s.session.Write(ctx, rec, rememberMe); err != nil {
		return nil, fmt.Errorf("identity: saving session: %w", err)
	}
	s.set(rec)

	s.logger.Info("signed in",
		slog.String("user_id", rec.ID),
		slog.Bool("remember_me", rememberMe),
	)
	s.broadcaster.ProfileUpdated()
	return rec.Clone(), nil
}

func (s *Service) set(rec *model.UserRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = rec.Clone()
	s.resolved = true
}

// begin marks a call in flight and returns the func that ends it.
func (s *Service) begin() func() {
	s.inFlight.Add(1)
	return func() { s.inFlight.Add(-1) }
}

// looksLikeEmail is a sanity check, not validation; the API decides.
func looksLikeEmail(s string) bool {
	at := strings.IndexByte(s, '@')
	return at > 0 && at < len(s)-1
}

package identity

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/sakif/course-session/internal/api"
	"github.com/sakif/course-session/internal/apperror"
	"github.com/sakif/course-session/internal/model"
	"github.com/sakif/course-session/internal/session"
	"github.com/sakif/course-session/internal/storage"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeRemote is a scriptable identity API. busyDuringCall records what the
// service reported from Busy while a call was in progress.
type fakeRemote struct {
	svc *Service

	authResp   *api.AuthResponse
	authErr    error
	logoutErr  error
	profileErr error

	logoutTokens   []string
	profileReqs    []api.ProfileUpdateRequest
	busyDuringCall bool
}

func (f *fakeRemote) Register(_ context.Context, req api.RegisterRequest) (*api.AuthResponse, error) {
	f.busyDuringCall = f.svc.Busy()
	if f.authErr != nil {
		return nil, f.authErr
	}
	return f.authResp, nil
}

func (f *fakeRemote) Login(_ context.Context, req api.LoginRequest) (*api.AuthResponse, error) {
	f.busyDuringCall = f.svc.Busy()
	if f.authErr != nil {
		return nil, f.authErr
	}
	return f.authResp, nil
}

func (f *fakeRemote) Logout(_ context.Context, token string) error {
	f.logoutTokens = append(f.logoutTokens, token)
	return f.logoutErr
}

func (f *fakeRemote) UpdateProfile(_ context.Context, _ string, req api.ProfileUpdateRequest) (*api.ProfileResponse, error) {
	f.profileReqs = append(f.profileReqs, req)
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	resp := &api.ProfileResponse{Name: "Ada Lovelace", Email: "ada@example.com"}
	if req.Name != nil {
		resp.Name = *req.Name
	}
	if req.Email != nil {
		resp.Email = *req.Email
	}
	return resp, nil
}

type countingBroadcaster struct{ calls int }

func (c *countingBroadcaster) ProfileUpdated() { c.calls++ }

type fixture struct {
	svc      *Service
	remote   *fakeRemote
	bc       *countingBroadcaster
	session  *session.Store
	durable  *storage.Memory
	volatile *storage.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	durable, volatile := storage.NewMemory(), storage.NewMemory()
	store := session.New(durable, volatile, logger)
	remote := &fakeRemote{authResp: &api.AuthResponse{
		UserID: "u1", Name: "Ada Lovelace", Email: "ada@example.com", Token: "tok-1",
	}}
	bc := &countingBroadcaster{}
	svc := New(remote, store, bc, logger)
	svc.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	remote.svc = svc
	return &fixture{svc: svc, remote: remote, bc: bc, session: store, durable: durable, volatile: volatile}
}

// =========================================================================
// BOOTSTRAP TESTS
// =========================================================================

func TestBootstrap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, resolved := f.svc.Current(); resolved {
		t.Fatal("Current() resolved before Bootstrap()")
	}
	_ = f.session.Write(ctx, &model.UserRecord{ID: "u1", Token: "tok"}, true)

	if err := f.svc.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	rec, resolved := f.svc.Current()
	if !resolved || rec == nil || rec.ID != "u1" {
		t.Errorf("Current() = %+v, %v", rec, resolved)
	}
}

func TestBootstrap_EmptyStorageResolvesAnonymous(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	rec, resolved := f.svc.Current()
	if !resolved || rec != nil {
		t.Errorf("Current() = %+v, %v; want nil, true", rec, resolved)
	}
}

func TestCurrent_ReturnsCopy(t *testing.T) {
	f := newFixture(t)
	_, _ = f.svc.Login(context.Background(), Credentials{Email: "ada@example.com", Password: "pw"})

	rec, _ := f.svc.Current()
	rec.FullName = "Mallory"
	rec.EnrolledCourses = append(rec.EnrolledCourses, "stolen")

	again, _ := f.svc.Current()
	if again.FullName != "Ada Lovelace" || again.HasCourse("stolen") {
		t.Errorf("cached record was mutated through Current(): %+v", again)
	}
}

// =========================================================================
// LOGIN / REGISTER TESTS
// =========================================================================

func TestLogin_RememberMeChoosesStore(t *testing.T) {
	tests := []struct {
		name       string
		rememberMe bool
		want       session.Location
	}{
		{"remember me", true, session.LocationDurable},
		{"this tab only", false, session.LocationVolatile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			rec, err := f.svc.Login(ctx, Credentials{Email: "ada@example.com", Password: "pw", RememberMe: tt.rememberMe})
			if err != nil {
				t.Fatalf("Login() error = %v", err)
			}
			if rec.ID != "u1" || rec.Token != "tok-1" || rec.FullName != "Ada Lovelace" {
				t.Errorf("Login() = %+v", rec)
			}
			if loc, _ := f.session.Location(ctx); loc != tt.want {
				t.Errorf("Location() = %v, want %v", loc, tt.want)
			}
			if !f.remote.busyDuringCall {
				t.Error("Busy() was false while the API call was in flight")
			}
			if f.svc.Busy() {
				t.Error("Busy() still true after Login() returned")
			}
			if f.bc.calls != 1 {
				t.Errorf("ProfileUpdated fired %d times, want 1", f.bc.calls)
			}
		})
	}
}

func TestLogin_RemoteFailureLeavesSessionUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	existing := &model.UserRecord{ID: "u0", Token: "old"}
	_ = f.session.Write(ctx, existing, true)
	_ = f.svc.Bootstrap(ctx)

	f.remote.authErr = apperror.RemoteAuthFailure("Invalid email or password")
	_, err := f.svc.Login(ctx, Credentials{Email: "ada@example.com", Password: "wrong"})

	if !errors.Is(err, apperror.ErrRemoteAuth) {
		t.Fatalf("Login() error = %v, want ErrRemoteAuth", err)
	}
	if got := apperror.Message(err); got != "Invalid email or password" {
		t.Errorf("Message() = %q", got)
	}
	stored, _ := f.session.Read(ctx)
	if stored == nil || stored.ID != "u0" {
		t.Errorf("stored session = %+v, want untouched u0", stored)
	}
	if rec, _ := f.svc.Current(); rec.ID != "u0" {
		t.Errorf("Current() = %+v, want u0", rec)
	}
	if f.bc.calls != 0 {
		t.Error("ProfileUpdated fired on a failed login")
	}
	if f.svc.Busy() {
		t.Error("Busy() still true after failed Login()")
	}
}

func TestLogin_IncompleteResponseIsRejected(t *testing.T) {
	f := newFixture(t)
	f.remote.authResp = &api.AuthResponse{UserID: "u1"} // no token

	_, err := f.svc.Login(context.Background(), Credentials{Email: "ada@example.com", Password: "pw"})
	if !errors.Is(err, apperror.ErrRemoteAuth) {
		t.Fatalf("Login() error = %v, want ErrRemoteAuth", err)
	}
	if f.durable.Len()+f.volatile.Len() != 0 {
		t.Error("partial session committed")
	}
}

func TestLogin_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Login(context.Background(), Credentials{Email: " ", Password: "pw"})
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("Login() error = %v, want ErrValidation", err)
	}
}

func TestRegister(t *testing.T) {
	f := newFixture(t)

	rec, err := f.svc.Register(context.Background(), RegisterInput{Name: "Ada", Email: "ada@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if rec.ID != "u1" {
		t.Errorf("Register() = %+v", rec)
	}
	if f.volatile.Len() != 1 || f.durable.Len() != 0 {
		t.Error("registration without remember-me must use the volatile store")
	}
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name  string
		in    RegisterInput
		field string
	}{
		{"no name", RegisterInput{Email: "a@b.c", Password: "pw"}, "name"},
		{"bad email", RegisterInput{Name: "A", Email: "nope", Password: "pw"}, "email"},
		{"no password", RegisterInput{Name: "A", Email: "a@b.c"}, "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Register(context.Background(), tt.in)

			var appErr *apperror.AppError
			if !errors.As(err, &appErr) || !errors.Is(err, apperror.ErrValidation) {
				t.Fatalf("Register() error = %v, want validation error", err)
			}
			if appErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", appErr.Field, tt.field)
			}
		})
	}
}

func TestLogin_SameUserKeepsLocalEnrollments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	enrolledAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	_ = f.session.Write(ctx, &model.UserRecord{
		ID:              "u1",
		Token:           "stale",
		EnrolledCourses: []string{"c1"},
		EnrollmentDates: map[string]time.Time{"c1": enrolledAt},
	}, true)
	f.remote.authResp.EnrolledCourses = []string{"c2", "c1"}

	rec, err := f.svc.Login(ctx, Credentials{Email: "ada@example.com", Password: "pw", RememberMe: true})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !slices.Equal(rec.EnrolledCourses, []string{"c1", "c2"}) {
		t.Errorf("EnrolledCourses = %v, want [c1 c2]", rec.EnrolledCourses)
	}
	if !rec.EnrollmentDates["c1"].Equal(enrolledAt) {
		t.Errorf("enrollment date lost: %v", rec.EnrollmentDates)
	}
	if rec.Token != "tok-1" {
		t.Errorf("Token = %q, want the fresh token", rec.Token)
	}
}

func TestLogin_DifferentUserStartsClean(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.session.Write(ctx, &model.UserRecord{ID: "someone-else", EnrolledCourses: []string{"c9"}}, true)

	rec, err := f.svc.Login(ctx, Credentials{Email: "ada@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if rec.HasCourse("c9") {
		t.Error("enrollments leaked from another account")
	}
	if f.durable.Len() != 0 {
		t.Error("previous durable session survived a volatile login")
	}
}

// =========================================================================
// LOGOUT TESTS
// =========================================================================

func TestLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.svc.Login(ctx, Credentials{Email: "ada@example.com", Password: "pw", RememberMe: true})

	if err := f.svc.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if !slices.Equal(f.remote.logoutTokens, []string{"tok-1"}) {
		t.Errorf("remote logout tokens = %v", f.remote.logoutTokens)
	}
	if rec, resolved := f.svc.Current(); rec != nil || !resolved {
		t.Errorf("Current() = %+v, %v after logout", rec, resolved)
	}
	if f.durable.Len()+f.volatile.Len() != 0 {
		t.Error("session still stored after logout")
	}
	if f.bc.calls != 2 {
		t.Errorf("ProfileUpdated fired %d times, want 2 (login + logout)", f.bc.calls)
	}
}

func TestLogout_RemoteFailureStillClears(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.svc.Login(ctx, Credentials{Email: "ada@example.com", Password: "pw"})
	f.remote.logoutErr = errors.New("connection reset")

	if err := f.svc.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v, want nil (best effort)", err)
	}
	if rec, _ := f.svc.Current(); rec != nil {
		t.Errorf("Current() = %+v, want nil", rec)
	}
	if stored, _ := f.session.Read(ctx); stored != nil {
		t.Error("session still stored after failed remote logout")
	}
}

func TestLogout_WithoutSession(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.Logout(context.Background()); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if len(f.remote.logoutTokens) != 0 {
		t.Error("remote logout called without a token")
	}
}

// =========================================================================
// UPDATE PROFILE TESTS
// =========================================================================

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.svc.Login(ctx, Credentials{Email: "ada@example.com", Password: "pw"})

	upd, err := ParseProfileUpdate([]byte(`{"fullName":"  Countess Ada  "}`))
	if err != nil {
		t.Fatalf("ParseProfileUpdate() error = %v", err)
	}
	rec, err := f.svc.UpdateProfile(ctx, upd)
	if err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}

	if rec.FullName != "Countess Ada" || rec.Email != "ada@example.com" {
		t.Errorf("UpdateProfile() = %+v", rec)
	}
	if rec.LastUpdated == nil || !rec.LastUpdated.Equal(f.svc.now()) {
		t.Errorf("LastUpdated = %v", rec.LastUpdated)
	}
	if rec.Token != "tok-1" {
		t.Error("token lost in merge")
	}
	stored, _ := f.session.Read(ctx)
	if stored.FullName != "Countess Ada" {
		t.Errorf("stored FullName = %q", stored.FullName)
	}
	if loc, _ := f.session.Location(ctx); loc != session.LocationVolatile {
		t.Errorf("profile update moved session to %v", loc)
	}
	if f.remote.profileReqs[0].Email != nil {
		t.Error("email sent although not part of the update")
	}
}

func TestUpdateProfile_NoSession(t *testing.T) {
	f := newFixture(t)
	name := "X"

	_, err := f.svc.UpdateProfile(context.Background(), ProfileUpdate{FullName: &name})
	if !errors.Is(err, apperror.ErrNoActiveSession) {
		t.Errorf("UpdateProfile() error = %v, want ErrNoActiveSession", err)
	}
}

func TestUpdateProfile_RemoteFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.svc.Login(ctx, Credentials{Email: "ada@example.com", Password: "pw"})
	f.remote.profileErr = apperror.RemoteAuthFailure("Email already in use")
	email := "taken@example.com"

	_, err := f.svc.UpdateProfile(ctx, ProfileUpdate{Email: &email})
	if apperror.Message(err) != "Email already in use" {
		t.Errorf("UpdateProfile() error = %v", err)
	}
	if rec, _ := f.svc.Current(); rec.Email != "ada@example.com" {
		t.Errorf("Email = %q, want unchanged", rec.Email)
	}
}

// =========================================================================
// PARSE / MERGE TESTS
// =========================================================================

func TestParseProfileUpdate(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantErr   bool
		wantName  string
		wantEmail string
	}{
		{name: "fullName", input: `{"fullName":"Ada"}`, wantName: "Ada"},
		{name: "legacy name key", input: `{"name":"Ada"}`, wantName: "Ada"},
		{name: "fullName wins over name", input: `{"name":"Old","fullName":"New"}`, wantName: "New"},
		{name: "email only", input: `{"email":"ada@example.com"}`, wantEmail: "ada@example.com"},
		{name: "unknown key", input: `{"fullName":"Ada","isAdmin":true}`, wantErr: true},
		{name: "token injection", input: `{"token":"forged"}`, wantErr: true},
		{name: "empty object", input: `{}`, wantErr: true},
		{name: "blank name", input: `{"fullName":"   "}`, wantErr: true},
		{name: "bad email", input: `{"email":"nope"}`, wantErr: true},
		{name: "not json", input: `fullName=Ada`, wantErr: true},
		{name: "trailing data", input: `{"fullName":"Ada"}{"email":"x@y.z"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upd, err := ParseProfileUpdate([]byte(tt.input))
			if tt.wantErr {
				if !errors.Is(err, apperror.ErrValidation) {
					t.Fatalf("ParseProfileUpdate() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseProfileUpdate() error = %v", err)
			}
			if tt.wantName != "" && (upd.FullName == nil || *upd.FullName != tt.wantName) {
				t.Errorf("FullName = %v, want %q", upd.FullName, tt.wantName)
			}
			if tt.wantEmail != "" && (upd.Email == nil || *upd.Email != tt.wantEmail) {
				t.Errorf("Email = %v, want %q", upd.Email, tt.wantEmail)
			}
		})
	}
}

func TestMerge_TouchesOnlyWhitelistedFields(t *testing.T) {
	rec := &model.UserRecord{
		ID:              "u1",
		FullName:        "Ada",
		Email:           "ada@example.com",
		Token:           "tok",
		IsAdmin:         false,
		Subscription:    &model.Subscription{IsActive: true},
		EnrolledCourses: []string{"c1"},
	}
	email := "countess@example.com"
	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	next := Merge(rec, ProfileUpdate{Email: &email}, at)

	if next.Email != email || next.FullName != "Ada" {
		t.Errorf("Merge() = %+v", next)
	}
	if next.Token != "tok" || next.IsAdmin || !next.Subscription.IsActive || !next.HasCourse("c1") {
		t.Errorf("Merge() changed a field outside the whitelist: %+v", next)
	}
	if rec.Email != "ada@example.com" || rec.LastUpdated != nil {
		t.Error("Merge() mutated its input")
	}
	if !next.LastUpdated.Equal(at) {
		t.Errorf("LastUpdated = %v, want %v", next.LastUpdated, at)
	}
}

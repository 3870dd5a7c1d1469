// Package gate decides whether a navigation may proceed.
//
// Every guard shares one shape: look at the current session, then either
// authorize, redirect, or wait. The gate never caches a decision; role and
// entitlement can change between two navigations of the same session.
//
//	bootstrap pending           → Loading (no redirect)
//	no user                     → Unauthenticated → login, remembering the path
//	user fails the guard        → Unauthorized    → home, or the course page
//	user passes                 → Authorized
package gate

import (
	"net/url"

	"github.com/sakif/course-session/internal/entitlement"
	"github.com/sakif/course-session/internal/model"
)

// State is the outcome of one guard evaluation.
type State int

const (
	Loading State = iota
	Unauthenticated
	Unauthorized
	Authorized
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Unauthenticated:
		return "unauthenticated"
	case Unauthorized:
		return "unauthorized"
	case Authorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Redirect tells the router where to go instead. PreservedFrom is the path
// the visitor asked for, so login can send them back; it is empty for
// role redirects.
type Redirect struct {
	TargetPath    string `json:"targetPath"`
	PreservedFrom string `json:"preservedFrom,omitempty"`
}

// Decision is the result of Check. Redirect is nil unless State is
// Unauthenticated or Unauthorized.
type Decision struct {
	State    State     `json:"state"`
	Redirect *Redirect `json:"redirect,omitempty"`
}

// Allowed reports whether the guarded content may render.
func (d Decision) Allowed() bool { return d.State == Authorized }

// Source reports the current user and whether the session has been read
// from storage yet. *identity.Service satisfies it.
type Source interface {
	Current() (rec *model.UserRecord, resolved bool)
}

// Routes are the paths the gate redirects to.
type Routes struct {
	Login        string
	Home         string
	CourseDetail func(courseID string) string
}

// DefaultRoutes returns the marketplace's standard paths.
func DefaultRoutes() Routes {
	return Routes{
		Login: "/login",
		Home:  "/",
		CourseDetail: func(courseID string) string {
			return "/courses/" + url.PathEscape(courseID)
		},
	}
}

// Guard is one guard variant. Allow is only consulted for a signed-in user;
// Denied picks where a signed-in user who fails Allow is sent.
type Guard struct {
	Name   string
	Allow  func(rec *model.UserRecord) bool
	Denied func(r Routes) string
}

func toHome(r Routes) string { return r.Home }

// Private admits any signed-in user.
func Private() Guard {
	return Guard{
		Name:   "private",
		Allow:  func(*model.UserRecord) bool { return true },
		Denied: toHome,
	}
}

// Instructor admits users with the instructor role.
func Instructor() Guard {
	return Guard{
		Name:   "instructor",
		Allow:  func(rec *model.UserRecord) bool { return rec.Role == model.RoleInstructor },
		Denied: toHome,
	}
}

// Admin admits administrators.
func Admin() Guard {
	return Guard{
		Name:   "admin",
		Allow:  func(rec *model.UserRecord) bool { return rec.IsAdmin },
		Denied: toHome,
	}
}

// Subscriber admits users holding an active subscription.
func Subscriber() Guard {
	return Guard{
		Name:   "subscriber",
		Allow:  entitlement.HasActiveSubscription,
		Denied: toHome,
	}
}

// CourseContent admits users who can open courseID, by subscription or by
// enrollment. Everyone else is sent to the course's detail page.
func CourseContent(courseID string) Guard {
	return Guard{
		Name: "course:" + courseID,
		Allow: func(rec *model.UserRecord) bool {
			return entitlement.CanAccessCourse(rec, courseID)
		},
		Denied: func(r Routes) string { return r.CourseDetail(courseID) },
	}
}

// Gate evaluates guards against the live session.
type Gate struct {
	source Source
	routes Routes
}

// New creates a Gate.
func New(source Source, routes Routes) *Gate {
	return &Gate{source: source, routes: routes}
}

// Check evaluates g for a navigation to path.
func (gt *Gate) Check(g Guard, path string) Decision {
	rec, resolved := gt.source.Current()
	return Evaluate(g, gt.routes, rec, resolved, path)
}

// Evaluate is Check without a Source.
func Evaluate(g Guard, routes Routes, rec *model.UserRecord, resolved bool, path string) Decision {
	switch {
	case !resolved:
		return Decision{State: Loading}
	case rec == nil:
		return Decision{
			State:    Unauthenticated,
			Redirect: &Redirect{TargetPath: routes.Login, PreservedFrom: path},
		}
	case !g.Allow(rec):
		return Decision{
			State:    Unauthorized,
			Redirect: &Redirect{TargetPath: g.Denied(routes)},
		}
	default:
		return Decision{State: Authorized}
	}
}

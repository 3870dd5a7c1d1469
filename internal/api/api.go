// Package api holds the JSON shapes exchanged with the identity API.
//
// Both sides import it: the remote client encodes requests and decodes
// responses with these types, and the identity API stand-in does the
// reverse. Keeping one definition stops the two from drifting apart.
package api

import "github.com/sakif/course-session/internal/model"

// Paths served by the identity API.
const (
	PathRegister = "/api/auth/register"
	PathLogin    = "/api/auth/login"
	PathLogout   = "/api/auth/logout"
	PathMe       = "/api/users/me"
)

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by register and login.
//
// UserID, Name, Email and Token are always present. The rest is passed
// through to the session record when the server sends it.
type AuthResponse struct {
	UserID          string              `json:"userId"`
	Name            string              `json:"name"`
	Email           string              `json:"email"`
	Token           string              `json:"token"`
	Role            model.Role          `json:"role,omitempty"`
	IsAdmin         bool                `json:"isAdmin,omitempty"`
	Subscription    *model.Subscription `json:"subscription,omitempty"`
	EnrolledCourses []string            `json:"enrolledCourses,omitempty"`
}

// ProfileUpdateRequest is a partial update; nil fields are left alone.
type ProfileUpdateRequest struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

type ProfileResponse struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// MessageResponse is a bare acknowledgement, e.g. for logout.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`   // machine-readable, e.g. "conflict"
	Message string `json:"message"` // shown to the user
}

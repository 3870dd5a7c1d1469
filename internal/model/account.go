package model

import "time"

// Account is a registered user as stored by the identity API.
//
// It is the server-side counterpart of UserRecord: the API never sees the
// client's enrollment set or progress, and the client never sees the
// password hash.
type Account struct {
	ID           string        `json:"id"           db:"id"`
	Email        string        `json:"email"        db:"email"`
	FullName     string        `json:"name"         db:"full_name"`
	PasswordHash string        `json:"-"            db:"password_hash"`
	Role         Role          `json:"role"         db:"role"`
	IsAdmin      bool          `json:"isAdmin"      db:"is_admin"`
	Subscription *Subscription `json:"subscription" db:"-"`
	CreatedAt    time.Time     `json:"createdAt"    db:"created_at"`
	UpdatedAt    time.Time     `json:"updatedAt"    db:"updated_at"`
}

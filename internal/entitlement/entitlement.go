// Package entitlement derives what a user may access from their record.
//
// Everything here is a pure function of a *model.UserRecord. Callers must
// resolve again on every navigation: a background renewal or cancellation
// can flip a subscription mid-session.
package entitlement

import (
	"time"

	"github.com/sakif/course-session/internal/model"
)

// Kind classifies a user's subscription state.
type Kind int

const (
	NoSubscription Kind = iota
	ActiveSubscription
	ExpiredSubscription
)

func (k Kind) String() string {
	switch k {
	case ActiveSubscription:
		return "active"
	case ExpiredSubscription:
		return "expired"
	default:
		return "none"
	}
}

// Entitlement is the resolved subscription state. Title and Expiry are zero
// for NoSubscription.
type Entitlement struct {
	Kind   Kind
	Title  string
	Expiry time.Time
}

// Active reports whether the entitlement grants subscription-gated access.
func (e Entitlement) Active() bool { return e.Kind == ActiveSubscription }

// Resolve classifies rec's subscription.
//
// Only IsActive decides between active and expired. The expiry date is
// carried for display; a record whose date has passed but whose flag is
// still set counts as active until the identity API says otherwise.
func Resolve(rec *model.UserRecord) Entitlement {
	if rec == nil || rec.Subscription == nil {
		return Entitlement{Kind: NoSubscription}
	}
	sub := rec.Subscription
	e := Entitlement{Kind: ExpiredSubscription, Title: sub.Title, Expiry: sub.ExpiryDate}
	if sub.IsActive {
		e.Kind = ActiveSubscription
	}
	return e
}

// HasActiveSubscription reports whether rec holds an active subscription.
func HasActiveSubscription(rec *model.UserRecord) bool {
	return Resolve(rec).Active()
}

// CanAccessCourse reports whether rec may open courseID's content, either
// through an active subscription or an individual enrollment.
func CanAccessCourse(rec *model.UserRecord, courseID string) bool {
	if rec == nil {
		return false
	}
	return HasActiveSubscription(rec) || rec.HasCourse(courseID)
}

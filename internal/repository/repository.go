// Package repository defines the persistence interfaces of the identity API.
package repository

import (
	"context"
	"time"

	"github.com/sakif/course-session/internal/model"
)

// AccountRepository persists identity API accounts.
//
// Create returns apperror.ErrConflict for a duplicate email; the getters
// return apperror.ErrNotFound for a missing account.
type AccountRepository interface {
	Create(ctx context.Context, account *model.Account) error
	GetByID(ctx context.Context, id string) (*model.Account, error)
	GetByEmail(ctx context.Context, email string) (*model.Account, error)
	UpdateProfile(ctx context.Context, account *model.Account) error
	SetSubscription(ctx context.Context, id string, sub *model.Subscription) error
}

// RevocationRepository remembers tokens ended by logout until they would
// have expired anyway.
type RevocationRepository interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	// PurgeExpired drops entries whose token has expired by now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

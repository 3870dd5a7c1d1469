package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/course-session/internal/apperror"
	"github.com/sakif/course-session/internal/model"
	"github.com/sakif/course-session/internal/repository"
)

// compile-time check that *DB implements repository.AccountRepository
var _ repository.AccountRepository = (*DB)(nil)

const accountColumns = `id, email, full_name, password_hash, role, is_admin,
	subscription_title, subscription_start, subscription_expiry, subscription_active,
	created_at, updated_at`

// Create inserts a new account, generating its ID and timestamps.
// Emails are stored lower-cased so lookups are case-insensitive.
func (db *DB) Create(ctx context.Context, account *model.Account) error {
	now := time.Now()
	account.ID = xid.New().String()
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	account.CreatedAt = now
	account.UpdatedAt = now
	if account.Role == "" {
		account.Role = model.RoleStudent
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO accounts (id, email, full_name, password_hash, role, is_admin, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.Email,
		account.FullName,
		account.PasswordHash,
		string(account.Role),
		account.IsAdmin,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("account", account.Email)
		}
		return fmt.Errorf("sqlite: inserting account (%s): %w", account.Email, err)
	}

	return nil
}

// GetByID retrieves an account by its internal ID.
func (db *DB) GetByID(ctx context.Context, id string) (*model.Account, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)

	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account", id)
		}
		return nil, fmt.Errorf("sqlite: getting account %s: %w", id, err)
	}
	return a, nil
}

// GetByEmail retrieves an account by email, case-insensitively.
func (db *DB) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email)

	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account", email)
		}
		return nil, fmt.Errorf("sqlite: getting account by email: %w", err)
	}
	return a, nil
}

// UpdateProfile saves the name and email of an existing account.
func (db *DB) UpdateProfile(ctx context.Context, account *model.Account) error {
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	account.UpdatedAt = time.Now()

	res, err := db.conn.ExecContext(ctx,
		`UPDATE accounts SET full_name = ?, email = ?, updated_at = ? WHERE id = ?`,
		account.FullName,
		account.Email,
		account.UpdatedAt,
		account.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("account", account.Email)
		}
		return fmt.Errorf("sqlite: updating account %s: %w", account.ID, err)
	}
	return requireOneRow(res, account.ID)
}

// SetSubscription replaces the account's subscription. A nil sub clears it.
func (db *DB) SetSubscription(ctx context.Context, id string, sub *model.Subscription) error {
	var (
		title         sql.NullString
		start, expiry sql.NullTime
		active        bool
	)
	if sub != nil {
		title = sql.NullString{String: sub.Title, Valid: true}
		start = sql.NullTime{Time: sub.StartDate, Valid: !sub.StartDate.IsZero()}
		expiry = sql.NullTime{Time: sub.ExpiryDate, Valid: !sub.ExpiryDate.IsZero()}
		active = sub.IsActive
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE accounts SET subscription_title = ?, subscription_start = ?, subscription_expiry = ?,
		 subscription_active = ?, updated_at = ? WHERE id = ?`,
		title, start, expiry, active, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting subscription for %s: %w", id, err)
	}
	return requireOneRow(res, id)
}

func scanAccount(row *sql.Row) (*model.Account, error) {
	var (
		a             model.Account
		role          string
		title         sql.NullString
		start, expiry sql.NullTime
		active        bool
	)
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.FullName,
		&a.PasswordHash,
		&role,
		&a.IsAdmin,
		&title,
		&start,
		&expiry,
		&active,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Role = model.Role(role)
	if title.Valid {
		a.Subscription = &model.Subscription{
			Title:      title.String,
			StartDate:  start.Time,
			ExpiryDate: expiry.Time,
			IsActive:   active,
		}
	}
	return &a, nil
}

func requireOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("account", id)
	}
	return nil
}

// isUniqueViolation matches SQLite's constraint error text.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

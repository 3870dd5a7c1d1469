package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/course-session/internal/repository"
)

var _ repository.RevocationRepository = (*DB)(nil)

// Revoke records tokenID. Revoking the same token twice is a no-op.
func (db *DB) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO revoked_tokens (token_id, expires_at) VALUES (?, ?)
		 ON CONFLICT(token_id) DO NOTHING`,
		tokenID, expiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: revoking token %s: %w", tokenID, err)
	}
	return nil
}

func (db *DB) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var one int
	err := db.conn.QueryRowContext(ctx,
		`SELECT 1 FROM revoked_tokens WHERE token_id = ?`, tokenID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: checking token %s: %w", tokenID, err)
	}
	return true, nil
}

func (db *DB) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM revoked_tokens WHERE expires_at < ?`, now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: purging revoked tokens: %w", err)
	}
	return res.RowsAffected()
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Mutter0815/tenantcast/pkg/model"
)

// CreateCode invalidates every unverified code for the same address and
// purpose, then stores c.
func (s *Store) CreateCode(ctx context.Context, c *model.OneTimeCode) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE otps SET invalidated = TRUE
			 WHERE address = $1 AND purpose = $2 AND NOT verified AND NOT invalidated
		`, c.Address, c.Purpose); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `
			INSERT INTO otps (address, purpose, code, created_at, expires_at, max_attempts)
			VALUES ($1,$2,$3,$4,$5,$6) RETURNING id
		`, c.Address, c.Purpose, c.Code, c.CreatedAt, c.ExpiresAt, c.MaxAttempts).Scan(&c.ID)
	})
}

// LatestCode returns the newest code still in play for address and purpose.
func (s *Store) LatestCode(ctx context.Context, address string, purpose model.OTPPurpose) (model.OneTimeCode, error) {
	var c model.OneTimeCode
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, address, purpose, code, created_at, expires_at, verified, verified_at,
		       invalidated, attempts, max_attempts
		FROM otps
		WHERE address = $1 AND purpose = $2 AND NOT invalidated
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, address, purpose).Scan(&c.ID, &c.Address, &c.Purpose, &c.Code, &c.CreatedAt, &c.ExpiresAt,
		&c.Verified, &c.VerifiedAt, &c.Invalidated, &c.Attempts, &c.MaxAttempts)
	if err != nil {
		return c, notFound(err)
	}
	return c, nil
}

// RecordFailedAttempt bumps the attempt counter while it is below the
// maximum. ok is false once the code is exhausted.
func (s *Store) RecordFailedAttempt(ctx context.Context, id int64) (attempts int, ok bool, err error) {
	err = s.DB.QueryRowContext(ctx, `
		UPDATE otps SET attempts = attempts + 1
		 WHERE id = $1 AND attempts < max_attempts
		RETURNING attempts
	`, id).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return attempts, true, nil
}

// MarkCodeVerified succeeds for exactly one caller of a live code.
func (s *Store) MarkCodeVerified(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE otps SET verified = TRUE, verified_at = $1
		 WHERE id = $2 AND NOT verified AND NOT invalidated
		   AND attempts < max_attempts AND expires_at > $1
	`, at, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

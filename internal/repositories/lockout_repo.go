package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/BradenHooton/parlourguard/internal/database"
	"github.com/BradenHooton/parlourguard/internal/models"
)

// LockoutRepository keeps per-identity failure counters in postgres.
// Read-modify-write cycles run under SELECT ... FOR UPDATE so concurrent failures for one
// identity are applied one at a time across every instance.
type LockoutRepository struct {
	db *database.DB
}

func NewLockoutRepository(db *database.DB) *LockoutRepository {
	return &LockoutRepository{db: db}
}

func scanLockoutRow(scanner rowScanner) (*models.AccountLockout, error) {
	var l models.AccountLockout

	err := scanner.Scan(&l.Email, &l.FailedAttempts, &l.IsLocked, &l.LockedUntil, &l.LastFailedAttempt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &l, nil
}

// RecordFailure applies one failed attempt and reports whether it engaged the lock
func (r *LockoutRepository) RecordFailure(ctx context.Context, email string, now time.Time, policy models.LockoutPolicy) (*models.AccountLockout, bool, error) {
	var (
		row     *models.AccountLockout
		engaged bool
	)

	err := database.WithRetry(ctx, func() error {
		return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx,
				`INSERT INTO account_lockouts (email) VALUES ($1) ON CONFLICT (email) DO NOTHING`, email); err != nil {
				return database.MapPostgresError(err)
			}

			var err error
			row, err = scanLockoutRow(tx.QueryRow(ctx, `
				SELECT email, failed_attempts, is_locked, locked_until, last_failed_attempt
				FROM account_lockouts WHERE email = $1 FOR UPDATE`, email))
			if err != nil {
				return err
			}

			engaged = row.ApplyFailure(now, policy)

			_, err = tx.Exec(ctx, `
				UPDATE account_lockouts
				SET failed_attempts = $1, is_locked = $2, locked_until = $3, last_failed_attempt = $4
				WHERE email = $5`,
				row.FailedAttempts, row.IsLocked, row.LockedUntil, row.LastFailedAttempt, email)
			return database.MapPostgresError(err)
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to record failed login: %w", err)
	}

	return row, engaged, nil
}

// Get returns the identity's row, or models.ErrNotFound when it has never failed
func (r *LockoutRepository) Get(ctx context.Context, email string) (*models.AccountLockout, error) {
	query := `
		SELECT email, failed_attempts, is_locked, locked_until, last_failed_attempt
		FROM account_lockouts WHERE email = $1
	`

	var row *models.AccountLockout
	err := database.WithRetry(ctx, func() error {
		var err error
		row, err = scanLockoutRow(r.db.Pool.QueryRow(ctx, query, email))
		return err
	})
	return row, err
}

func (r *LockoutRepository) Reset(ctx context.Context, email string) error {
	query := `
		UPDATE account_lockouts SET failed_attempts = 0, is_locked = FALSE, locked_until = NULL
		WHERE email = $1
	`

	if _, err := r.db.Pool.Exec(ctx, query, email); err != nil {
		return fmt.Errorf("failed to reset lockout: %w", database.MapPostgresError(err))
	}
	return nil
}

// ClearExpired resets every lock whose deadline has passed
func (r *LockoutRepository) ClearExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE account_lockouts SET failed_attempts = 0, is_locked = FALSE, locked_until = NULL
		WHERE is_locked AND locked_until <= $1
	`

	result, err := r.db.Pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired lockouts: %w", database.MapPostgresError(err))
	}
	return result.RowsAffected(), nil
}

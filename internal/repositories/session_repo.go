package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/BradenHooton/parlourguard/internal/database"
	"github.com/BradenHooton/parlourguard/internal/models"
)

// SessionRepository persists the session registry
type SessionRepository struct {
	db *database.DB
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `session_id::text, email, role, ip_address, user_agent, created_at,
	last_activity, expires_at, is_active, revocation_reason, revoked_at`

func scanSessionRow(scanner rowScanner) (*models.Session, error) {
	var s models.Session

	err := scanner.Scan(
		&s.SessionID, &s.Email, &s.Role, &s.IPAddress, &s.UserAgent, &s.CreatedAt,
		&s.LastActivity, &s.ExpiresAt, &s.IsActive, &s.RevocationReason, &s.RevokedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

// CreateWithCap inserts the session and deactivates the oldest active sessions of the same
// identity beyond maxActive. The whole step holds a transaction-scoped advisory lock on the
// identity, so concurrent logins cannot both slip under the cap.
func (r *SessionRepository) CreateWithCap(ctx context.Context, s *models.Session, maxActive int, now time.Time) ([]*models.Session, error) {
	var evicted []*models.Session

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.Email); err != nil {
			return database.MapPostgresError(err)
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO sessions (session_id, email, role, ip_address, user_agent, created_at,
				last_activity, expires_at, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)`,
			s.SessionID, s.Email, s.Role, s.IPAddress, s.UserAgent, s.CreatedAt, s.LastActivity, s.ExpiresAt)
		if err != nil {
			return database.MapPostgresError(err)
		}

		rows, err := tx.Query(ctx, `
			SELECT `+sessionColumns+`
			FROM sessions WHERE email = $1 AND is_active AND session_id <> $2::uuid
			ORDER BY created_at ASC, session_id ASC`, s.Email, s.SessionID)
		if err != nil {
			return database.MapPostgresError(err)
		}
		active, err := collectRows(rows, scanSessionRow)
		if err != nil {
			return err
		}

		// The new session always survives; the oldest others make room for it
		excess := len(active) + 1 - maxActive
		if excess <= 0 {
			return nil
		}

		ids := make([]string, 0, excess)
		for _, old := range active[:excess] {
			ids = append(ids, old.SessionID)
			reason := models.RevocationReasonMaxSessions
			revokedAt := now
			old.IsActive = false
			old.RevocationReason = &reason
			old.RevokedAt = &revokedAt
			evicted = append(evicted, old)
		}

		_, err = tx.Exec(ctx, `
			UPDATE sessions SET is_active = FALSE, revocation_reason = $1, revoked_at = $2
			WHERE session_id = ANY($3::uuid[])`,
			models.RevocationReasonMaxSessions, now, pq.Array(ids))
		return database.MapPostgresError(err)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return evicted, nil
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*models.Session, error) {
	key, err := rowID(sessionID)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = $1::uuid`

	var s *models.Session
	err = database.WithRetry(ctx, func() error {
		var err error
		s, err = scanSessionRow(r.db.Pool.QueryRow(ctx, query, key))
		return err
	})
	return s, err
}

// Revoke deactivates an active session; false means it was already inactive or unknown
func (r *SessionRepository) Revoke(ctx context.Context, sessionID, reason string, now time.Time) (bool, error) {
	key, err := rowID(sessionID)
	if err != nil {
		return false, nil
	}
	query := `
		UPDATE sessions SET is_active = FALSE, revocation_reason = $1, revoked_at = $2
		WHERE session_id = $3::uuid AND is_active
	`

	result, err := r.db.Pool.Exec(ctx, query, reason, now, key)
	if err != nil {
		return false, fmt.Errorf("failed to revoke session: %w", database.MapPostgresError(err))
	}
	return result.RowsAffected() == 1, nil
}

// RevokeAllForEmail returns the ids of the sessions it deactivated
func (r *SessionRepository) RevokeAllForEmail(ctx context.Context, email, reason string, now time.Time) ([]string, error) {
	query := `
		UPDATE sessions SET is_active = FALSE, revocation_reason = $1, revoked_at = $2
		WHERE email = $3 AND is_active
		RETURNING session_id::text
	`

	rows, err := r.db.Pool.Query(ctx, query, reason, now, email)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke sessions: %w", database.MapPostgresError(err))
	}
	return collectIDs(rows)
}

// Touch refreshes lastActivity on an active session only
func (r *SessionRepository) Touch(ctx context.Context, sessionID string, now time.Time) error {
	key, err := rowID(sessionID)
	if err != nil {
		return nil
	}
	query := `UPDATE sessions SET last_activity = $1 WHERE session_id = $2::uuid AND is_active`

	if _, err := r.db.Pool.Exec(ctx, query, now, key); err != nil {
		return fmt.Errorf("failed to touch session: %w", database.MapPostgresError(err))
	}
	return nil
}

func (r *SessionRepository) ListActive(ctx context.Context, email string) ([]*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions WHERE email = $1 AND is_active
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, email)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", database.MapPostgresError(err))
	}
	return collectRows(rows, scanSessionRow)
}

// SweepExpired deactivates sessions idle since idleBefore or past their expiry
func (r *SessionRepository) SweepExpired(ctx context.Context, idleBefore, now time.Time) ([]string, error) {
	query := `
		UPDATE sessions SET is_active = FALSE, revocation_reason = $1, revoked_at = $2
		WHERE is_active AND (last_activity < $3 OR expires_at <= $2)
		RETURNING session_id::text
	`

	rows, err := r.db.Pool.Query(ctx, query, models.RevocationReasonExpired, now, idleBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep sessions: %w", database.MapPostgresError(err))
	}
	return collectIDs(rows)
}

func collectIDs(rows pgx.Rows) ([]string, error) {
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BradenHooton/parlourguard/internal/database"
	"github.com/BradenHooton/parlourguard/internal/models"
)

// ChallengeRepository persists challenges. State transitions are compare-and-swap updates so
// that concurrent verifies for one challenge serialise on the row.
type ChallengeRepository struct {
	pool *pgxpool.Pool
}

func NewChallengeRepository(db *database.DB) *ChallengeRepository {
	return &ChallengeRepository{pool: db.Pool}
}

// rowID canonicalises a caller-supplied id for a UUID key column. Text that is not a UUID
// names no row and yields models.ErrNotFound.
func rowID(id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", models.ErrNotFound
	}
	return parsed.String(), nil
}

const challengeColumns = `
	id, email, challenge_type, purpose, state, token_hash, otp_secret,
	attempt_count, max_attempts, risk_score, device_fingerprint, geolocation,
	ip_address, user_agent, created_at, expires_at, completed_at`

// challengeSelectColumns reads the uuid back as text
var challengeSelectColumns = strings.Replace(challengeColumns, "id,", "id::text,", 1)

func scanChallengeRow(scanner rowScanner) (*models.Challenge, error) {
	var c models.Challenge

	err := scanner.Scan(
		&c.ID, &c.Email, &c.ChallengeType, &c.Purpose, &c.State, &c.TokenHash, &c.OTPSecret,
		&c.AttemptCount, &c.MaxAttempts, &c.RiskScore, &c.DeviceFingerprint, &c.Geolocation,
		&c.IPAddress, &c.UserAgent, &c.CreatedAt, &c.ExpiresAt, &c.CompletedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &c, nil
}

// Create inserts a PENDING challenge. A second PENDING row for the same identity violates the
// partial unique index and maps to models.ErrConflict.
func (r *ChallengeRepository) Create(ctx context.Context, c *models.Challenge) error {
	query := `
		INSERT INTO challenges (` + challengeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := r.pool.Exec(ctx, query,
		c.ID, c.Email, c.ChallengeType, c.Purpose, c.State, c.TokenHash, c.OTPSecret,
		c.AttemptCount, c.MaxAttempts, c.RiskScore, c.DeviceFingerprint, c.Geolocation,
		c.IPAddress, c.UserAgent, c.CreatedAt, c.ExpiresAt, c.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create challenge: %w", database.MapPostgresError(err))
	}
	return nil
}

func (r *ChallengeRepository) GetByID(ctx context.Context, id string) (*models.Challenge, error) {
	key, err := rowID(id)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + challengeSelectColumns + ` FROM challenges WHERE id = $1::uuid`

	var c *models.Challenge
	err = database.WithRetry(ctx, func() error {
		var err error
		c, err = scanChallengeRow(r.pool.QueryRow(ctx, query, key))
		return err
	})
	return c, err
}

// GetPendingByEmail returns the identity's PENDING challenge, expired or not
func (r *ChallengeRepository) GetPendingByEmail(ctx context.Context, email string) (*models.Challenge, error) {
	query := `SELECT ` + challengeSelectColumns + ` FROM challenges WHERE email = $1 AND state = 'PENDING'`

	return scanChallengeRow(r.pool.QueryRow(ctx, query, email))
}

// CompareAndSwap writes the challenge's state, attempt count and completion time only if the
// stored row is still PENDING with expectedAttempts. A lost race yields models.ErrConflict.
func (r *ChallengeRepository) CompareAndSwap(ctx context.Context, c *models.Challenge, expectedAttempts int) error {
	key, err := rowID(c.ID)
	if err != nil {
		return err
	}
	query := `
		UPDATE challenges
		SET state = $1, attempt_count = $2, completed_at = $3
		WHERE id = $4::uuid AND state = 'PENDING' AND attempt_count = $5
	`

	result, err := r.pool.Exec(ctx, query, c.State, c.AttemptCount, c.CompletedAt, key, expectedAttempts)
	if err != nil {
		return fmt.Errorf("failed to update challenge: %w", database.MapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return models.ErrConflict
	}
	return nil
}

// ExpireOverdue marks every PENDING challenge past its deadline EXPIRED and returns them
func (r *ChallengeRepository) ExpireOverdue(ctx context.Context, now time.Time) ([]*models.Challenge, error) {
	query := `
		UPDATE challenges SET state = 'EXPIRED'
		WHERE state = 'PENDING' AND expires_at < $1
		RETURNING ` + challengeSelectColumns

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire challenges: %w", database.MapPostgresError(err))
	}

	return collectRows(rows, scanChallengeRow)
}

// CreateApproval records an administrator approval; a second approval is models.ErrConflict
func (r *ChallengeRepository) CreateApproval(ctx context.Context, a *models.ChallengeApproval) error {
	query := `INSERT INTO challenge_approvals (challenge_id, approved_by, approved_at) VALUES ($1, $2, $3)`

	if _, err := r.pool.Exec(ctx, query, a.ChallengeID, a.ApprovedBy, a.ApprovedAt); err != nil {
		return fmt.Errorf("failed to record approval: %w", database.MapPostgresError(err))
	}
	return nil
}

func (r *ChallengeRepository) GetApproval(ctx context.Context, challengeID string) (*models.ChallengeApproval, error) {
	key, err := rowID(challengeID)
	if err != nil {
		return nil, err
	}
	query := `SELECT challenge_id::text, approved_by, approved_at FROM challenge_approvals WHERE challenge_id = $1::uuid`

	var a models.ChallengeApproval
	err = r.pool.QueryRow(ctx, query, key).Scan(&a.ChallengeID, &a.ApprovedBy, &a.ApprovedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &a, nil
}

package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BradenHooton/parlourguard/internal/database"
	"github.com/BradenHooton/parlourguard/internal/models"
)

// RiskProfileRepository is the durable side of the risk profile store
type RiskProfileRepository struct {
	pool *pgxpool.Pool
}

func NewRiskProfileRepository(db *database.DB) *RiskProfileRepository {
	return &RiskProfileRepository{pool: db.Pool}
}

func scanRiskProfileRow(scanner rowScanner) (*models.RiskProfile, error) {
	var (
		p         models.RiskProfile
		devices   []byte
		locations []byte
	)

	err := scanner.Scan(
		&p.Email, &p.BaseRiskScore, &p.ConsecutiveFailures, &p.LastFailureTime, &p.LastAttemptTime,
		&devices, &locations, &p.SuccessCount, &p.FailureCount, &p.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if err := json.Unmarshal(devices, &p.KnownDevices); err != nil {
		return nil, fmt.Errorf("failed to decode known devices: %w", err)
	}
	if err := json.Unmarshal(locations, &p.KnownLocations); err != nil {
		return nil, fmt.Errorf("failed to decode known locations: %w", err)
	}
	return &p, nil
}

// Load returns models.ErrNotFound for identities that have no stored profile
func (r *RiskProfileRepository) Load(ctx context.Context, email string) (*models.RiskProfile, error) {
	query := `
		SELECT email, base_risk_score, consecutive_failures, last_failure_time, last_attempt_time,
			known_devices, known_locations, success_count, failure_count, updated_at
		FROM risk_profiles WHERE email = $1
	`

	var p *models.RiskProfile
	err := database.WithRetry(ctx, func() error {
		var err error
		p, err = scanRiskProfileRow(r.pool.QueryRow(ctx, query, email))
		return err
	})
	return p, err
}

// Save upserts the full profile
func (r *RiskProfileRepository) Save(ctx context.Context, p *models.RiskProfile) error {
	devices, err := json.Marshal(p.KnownDevices)
	if err != nil {
		return fmt.Errorf("failed to encode known devices: %w", err)
	}
	locations, err := json.Marshal(p.KnownLocations)
	if err != nil {
		return fmt.Errorf("failed to encode known locations: %w", err)
	}

	query := `
		INSERT INTO risk_profiles (email, base_risk_score, consecutive_failures, last_failure_time,
			last_attempt_time, known_devices, known_locations, success_count, failure_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (email) DO UPDATE SET
			base_risk_score = EXCLUDED.base_risk_score,
			consecutive_failures = EXCLUDED.consecutive_failures,
			last_failure_time = EXCLUDED.last_failure_time,
			last_attempt_time = EXCLUDED.last_attempt_time,
			known_devices = EXCLUDED.known_devices,
			known_locations = EXCLUDED.known_locations,
			success_count = EXCLUDED.success_count,
			failure_count = EXCLUDED.failure_count,
			updated_at = EXCLUDED.updated_at
	`

	err = database.WithRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx, query,
			p.Email, p.BaseRiskScore, p.ConsecutiveFailures, p.LastFailureTime, p.LastAttemptTime,
			devices, locations, p.SuccessCount, p.FailureCount, p.UpdatedAt,
		)
		return database.MapPostgresError(err)
	})
	if err != nil {
		return fmt.Errorf("failed to save risk profile: %w", err)
	}
	return nil
}

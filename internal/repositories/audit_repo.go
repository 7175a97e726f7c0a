package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BradenHooton/parlourguard/internal/database"
	"github.com/BradenHooton/parlourguard/internal/models"
)

// AuditRepository is append-only: rows are inserted and read, never updated or deleted
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{pool: db.Pool}
}

func scanAuditRow(scanner rowScanner) (*models.AuditRecord, error) {
	var rec models.AuditRecord

	err := scanner.Scan(
		&rec.ID, &rec.Email, &rec.EventType, &rec.Severity, &rec.Status, &rec.Action,
		&rec.IPAddress, &rec.UserAgent, &rec.ResourceType, &rec.ResourceID, &rec.Details,
		&rec.Metadata, &rec.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &rec, nil
}

func (r *AuditRepository) Create(ctx context.Context, rec *models.AuditRecord) error {
	query := `
		INSERT INTO audit_records (id, email, event_type, severity, status, action, ip_address,
			user_agent, resource_type, resource_id, details, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	err := database.WithRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx, query,
			rec.ID, rec.Email, rec.EventType, rec.Severity, rec.Status, rec.Action, rec.IPAddress,
			rec.UserAgent, rec.ResourceType, rec.ResourceID, rec.Details, rec.Metadata, rec.CreatedAt,
		)
		return database.MapPostgresError(err)
	})
	if err != nil {
		return fmt.Errorf("failed to create audit record: %w", err)
	}
	return nil
}

// ListRange returns records with start <= createdAt < end in chronological order
func (r *AuditRepository) ListRange(ctx context.Context, start, end time.Time) ([]*models.AuditRecord, error) {
	query := `
		SELECT id::text, email, event_type, severity, status, action, ip_address, user_agent,
			resource_type, resource_id, details, metadata, created_at
		FROM audit_records
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", database.MapPostgresError(err))
	}
	return collectRows(rows, scanAuditRow)
}

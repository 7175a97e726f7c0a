package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BradenHooton/parlourguard/internal/database"
	"github.com/BradenHooton/parlourguard/internal/models"
)

// CredentialRepository reads primary credentials owned by the identity service
type CredentialRepository struct {
	pool *pgxpool.Pool
}

func NewCredentialRepository(db *database.DB) *CredentialRepository {
	return &CredentialRepository{pool: db.Pool}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// collectRows iterates through rows and scans each with scan
func collectRows[T any](rows pgx.Rows, scan func(rowScanner) (*T, error)) ([]*T, error) {
	defer rows.Close()

	out := make([]*T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return out, nil
}

func scanCredentialRow(scanner rowScanner) (*models.Credential, error) {
	var c models.Credential

	err := scanner.Scan(&c.Email, &c.PasswordHash, &c.Role, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &c, nil
}

func (r *CredentialRepository) GetByEmail(ctx context.Context, email string) (*models.Credential, error) {
	query := `
		SELECT email, password_hash, role, status, created_at, updated_at
		FROM credentials WHERE email = $1
	`

	var c *models.Credential
	err := database.WithRetry(ctx, func() error {
		var err error
		c, err = scanCredentialRow(r.pool.QueryRow(ctx, query, email))
		return err
	})
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Upsert creates or replaces a credential
func (r *CredentialRepository) Upsert(ctx context.Context, c *models.Credential) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	query := `
		INSERT INTO credentials (email, password_hash, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email) DO UPDATE
		SET password_hash = EXCLUDED.password_hash, role = EXCLUDED.role,
		    status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
	`

	_, err := r.pool.Exec(ctx, query, c.Email, c.PasswordHash, c.Role, c.Status, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", database.MapPostgresError(err))
	}
	return nil
}

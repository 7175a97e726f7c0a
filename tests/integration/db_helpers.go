//go:build integration

package integration

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/BradenHooton/parlourguard/internal/database"
	"github.com/BradenHooton/parlourguard/internal/models"
	"github.com/BradenHooton/parlourguard/internal/repositories"
	"github.com/BradenHooton/parlourguard/pkg/auth"
)

// TestDB manages PostgreSQL testcontainer and database operations
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs migrations, returns TestDB
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("parlourguard"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Suppress goose logs
	goose.SetLogger(log.New(io.Discard, "", 0))

	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         database.New(pool, slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates mutable tables for test isolation.
// audit_records is append-only; tests read it through time windows instead.
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"challenge_approvals",
		"challenges",
		"account_lockouts",
		"sessions",
		"risk_profiles",
		"credentials",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// Repositories bundles every postgres repository over one database
type Repositories struct {
	Credentials  *repositories.CredentialRepository
	Challenges   *repositories.ChallengeRepository
	Lockouts     *repositories.LockoutRepository
	Sessions     *repositories.SessionRepository
	Audit        *repositories.AuditRepository
	RiskProfiles *repositories.RiskProfileRepository
}

// InitializeRepositories creates all repository instances from database wrapper
func InitializeRepositories(db *database.DB) *Repositories {
	return &Repositories{
		Credentials:  repositories.NewCredentialRepository(db),
		Challenges:   repositories.NewChallengeRepository(db),
		Lockouts:     repositories.NewLockoutRepository(db),
		Sessions:     repositories.NewSessionRepository(db),
		Audit:        repositories.NewAuditRepository(db),
		RiskProfiles: repositories.NewRiskProfileRepository(db),
	}
}

// SeedCredential inserts an active credential with a hashed password
func SeedCredential(ctx context.Context, repo *repositories.CredentialRepository, email, password, role string) (*models.Credential, error) {
	hash, err := auth.HashPasswordWithCost(password, 4)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	c := &models.Credential{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Status:       models.CredentialStatusActive,
	}
	if err := repo.Upsert(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

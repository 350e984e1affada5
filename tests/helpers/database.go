package helpers

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/auth"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/orchestration"
)

// GetTestDatabasePool creates a database connection pool for testing
func GetTestDatabasePool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// databaseURL prefers DATABASE_URL and falls back to the POSTGRES_* variables.
// It returns "" when neither is set.
func databaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	port := getenv("POSTGRES_PORT", "5432")
	user := getenv("POSTGRES_USER", "postgres")
	password := getenv("POSTGRES_PASSWORD", "postgres")
	dbname := getenv("POSTGRES_DB", "mcp_config_builder")

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=prefer",
		user, password, host, port, dbname)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// TestDatabase provides database utilities for testing
type TestDatabase struct {
	Pool *pgxpool.Pool
	ctx  context.Context
}

// NewTestDatabase connects to the test database and applies the schema. The
// test is skipped when no database is configured.
func NewTestDatabase(t *testing.T) *TestDatabase {
	t.Helper()
	url := databaseURL()
	if url == "" {
		t.Skip("DATABASE_URL or POSTGRES_HOST not set")
	}

	ctx := context.Background()
	pool, err := GetTestDatabasePool(ctx, url)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	if err := orchestration.Migrate(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	db := &TestDatabase{Pool: pool, ctx: ctx}
	t.Cleanup(db.Close)
	return db
}

// Close closes the database connection
func (db *TestDatabase) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// CreateTestUser inserts a user through the repository and removes it when
// the test finishes.
func (db *TestDatabase) CreateTestUser(t *testing.T, name, email, password string) string {
	t.Helper()
	userID, err := auth.NewPostgresUserRepository(db.Pool).Create(db.ctx, name, email, password)
	if err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	t.Cleanup(func() {
		if _, err := db.Pool.Exec(db.ctx, "DELETE FROM users WHERE id = $1", userID); err != nil {
			t.Logf("Warning: Failed to delete test user %s: %v", userID, err)
		}
	})
	return userID
}

// DeleteRunsForUser removes runs created by userID when the test finishes.
func (db *TestDatabase) DeleteRunsForUser(t *testing.T, userID string) {
	t.Cleanup(func() {
		if _, err := db.Pool.Exec(db.ctx, "DELETE FROM conversion_runs WHERE user_id = $1", userID); err != nil {
			t.Logf("Warning: Failed to delete runs for %s: %v", userID, err)
		}
	})
}

// GetRunCount returns the number of runs recorded for userID
func (db *TestDatabase) GetRunCount(t *testing.T, userID string) int {
	t.Helper()
	var count int
	err := db.Pool.QueryRow(db.ctx, "SELECT COUNT(*) FROM conversion_runs WHERE user_id = $1", userID).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to get run count: %v", err)
	}
	return count
}

package orchestration

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/refinement"
)

//go:embed schema.sql
var schemaSQL string

// Migrate creates the tables used by PostgresRunStore and the user repository.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// PostgresRunStore persists runs in PostgreSQL.
type PostgresRunStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRunStore creates a store on pool.
func NewPostgresRunStore(pool *pgxpool.Pool) *PostgresRunStore {
	return &PostgresRunStore{pool: pool}
}

// CreateRun implements RunStore.
func (s *PostgresRunStore) CreateRun(ctx context.Context, rec *RunRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.Status = RunStatusRunning

	var userID *string
	if rec.UserID != "" {
		userID = &rec.UserID
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO conversion_runs (id, user_id, source_hash, origin, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		rec.ID, userID, rec.SourceHash, rec.Origin, string(rec.Status),
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// CompleteRun implements RunStore.
func (s *PostgresRunStore) CompleteRun(ctx context.Context, id uuid.UUID, result *refinement.Result) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	return s.transition(ctx, id, RunStatusAccepted, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE conversion_runs
			SET status = $1, iterations = $2, score = $3, result = $4::jsonb, completed_at = NOW()
			WHERE id = $5
		`, string(RunStatusAccepted), result.Iterations, result.Score, string(resultJSON), id)
		return err
	})
}

// FailRun implements RunStore.
func (s *PostgresRunStore) FailRun(ctx context.Context, id uuid.UUID, failure RunFailure) error {
	return s.transition(ctx, id, RunStatusFailed, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE conversion_runs
			SET status = $1, iterations = $2, score = $3, error_kind = $4, error_message = $5, completed_at = NOW()
			WHERE id = $6
		`, string(RunStatusFailed), failure.Iterations, failure.Score, failure.Kind, failure.Message, id)
		return err
	})
}

func (s *PostgresRunStore) transition(ctx context.Context, id uuid.UUID, to RunStatus, update func(pgx.Tx) error) error {
	// Start transaction for locking
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	currentStatus, err := lockRunForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := validateRunTransition(currentStatus, to); err != nil {
		return err
	}
	if err := update(tx); err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// lockRunForUpdate locks a run row to serialize status changes
func lockRunForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (RunStatus, error) {
	var status string
	err := tx.QueryRow(ctx, `
		SELECT status FROM conversion_runs
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrRunNotFound
		}
		return "", fmt.Errorf("failed to lock run: %w", err)
	}
	return RunStatus(status), nil
}

// GetRun implements RunStore.
func (s *PostgresRunStore) GetRun(ctx context.Context, id uuid.UUID) (*RunRecord, error) {
	var (
		rec        RunRecord
		userID     *string
		status     string
		resultJSON []byte
	)

	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, source_hash, origin, status, iterations, score, result,
		       error_kind, error_message, created_at, completed_at
		FROM conversion_runs
		WHERE id = $1
	`, id).Scan(
		&rec.ID,
		&userID,
		&rec.SourceHash,
		&rec.Origin,
		&status,
		&rec.Iterations,
		&rec.Score,
		&resultJSON,
		&rec.ErrorKind,
		&rec.ErrorMessage,
		&rec.CreatedAt,
		&rec.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rec.Status = RunStatus(status)
	if userID != nil {
		rec.UserID = *userID
	}
	if len(resultJSON) > 0 {
		var result refinement.Result
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return nil, fmt.Errorf("failed to decode run result: %w", err)
		}
		rec.Result = &result
	}
	return &rec, nil
}

package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/refinement"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

// RunStatus is the persisted lifecycle state of a conversion run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusAccepted RunStatus = "accepted"
	RunStatusFailed   RunStatus = "failed"
)

// RunRecord is a persisted conversion run.
type RunRecord struct {
	ID           uuid.UUID          `json:"id"`
	UserID       string             `json:"user_id,omitempty"`
	SourceHash   string             `json:"source_hash"`
	Origin       string             `json:"origin"`
	Status       RunStatus          `json:"status"`
	Iterations   int                `json:"iterations"`
	Score        *int               `json:"score,omitempty"`
	Result       *refinement.Result `json:"result,omitempty"`
	ErrorKind    string             `json:"error_kind,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
}

// RunFailure describes how a run ended without an accepted configuration.
type RunFailure struct {
	Kind       string
	Message    string
	Iterations int
	Score      *int
}

// RunStore persists conversion runs.
type RunStore interface {
	CreateRun(ctx context.Context, rec *RunRecord) error
	CompleteRun(ctx context.Context, id uuid.UUID, result *refinement.Result) error
	FailRun(ctx context.Context, id uuid.UUID, failure RunFailure) error
	GetRun(ctx context.Context, id uuid.UUID) (*RunRecord, error)
}

// validateRunTransition validates if a status transition is allowed
func validateRunTransition(currentStatus, newStatus RunStatus) error {
	validTransitions := map[RunStatus][]RunStatus{
		RunStatusRunning:  {RunStatusAccepted, RunStatusFailed},
		RunStatusAccepted: {}, // Terminal state
		RunStatusFailed:   {}, // Terminal state
	}

	allowedNext, exists := validTransitions[currentStatus]
	if !exists {
		return fmt.Errorf("invalid current status: %s", currentStatus)
	}

	for _, allowed := range allowedNext {
		if allowed == newStatus {
			return nil
		}
	}

	return fmt.Errorf("invalid status transition from %s to %s", currentStatus, newStatus)
}

// MemoryRunStore keeps runs in process memory. Used when no database is
// configured and in tests.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]RunRecord
}

// NewMemoryRunStore creates an empty store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[uuid.UUID]RunRecord)}
}

// CreateRun implements RunStore.
func (s *MemoryRunStore) CreateRun(_ context.Context, rec *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if _, exists := s.runs[rec.ID]; exists {
		return fmt.Errorf("run %s already exists", rec.ID)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Status = RunStatusRunning
	s.runs[rec.ID] = *rec
	return nil
}

// CompleteRun implements RunStore.
func (s *MemoryRunStore) CompleteRun(_ context.Context, id uuid.UUID, result *refinement.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	if err := validateRunTransition(rec.Status, RunStatusAccepted); err != nil {
		return err
	}

	now := time.Now().UTC()
	score := result.Score
	resultCopy := *result
	rec.Status = RunStatusAccepted
	rec.Iterations = result.Iterations
	rec.Score = &score
	rec.Result = &resultCopy
	rec.CompletedAt = &now
	s.runs[id] = rec
	return nil
}

// FailRun implements RunStore.
func (s *MemoryRunStore) FailRun(_ context.Context, id uuid.UUID, failure RunFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	if err := validateRunTransition(rec.Status, RunStatusFailed); err != nil {
		return err
	}

	now := time.Now().UTC()
	rec.Status = RunStatusFailed
	rec.Iterations = failure.Iterations
	rec.Score = failure.Score
	rec.ErrorKind = failure.Kind
	rec.ErrorMessage = failure.Message
	rec.CompletedAt = &now
	s.runs[id] = rec
	return nil
}

// GetRun implements RunStore.
func (s *MemoryRunStore) GetRun(_ context.Context, id uuid.UUID) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return &rec, nil
}

package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/metrics"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/refinement"
)

const petstore = `openapi: 3.0.0
info:
  title: Pets
  version: "1.0"
paths:
  /pets:
    get:
      operationId: listPets
      responses:
        "200":
          description: ok
`

type stubRunner struct {
	mu     sync.Mutex
	calls  int
	result *refinement.Result
	err    error
	block  chan struct{}
}

func (r *stubRunner) Run(ctx context.Context, sourceSpec string, observers ...refinement.Observer) (*refinement.Result, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, &refinement.RunError{Phase: refinement.PhaseGenerating, Iteration: 1,
				Err: fmt.Errorf("%w: %w", refinement.ErrCancelled, ctx.Err())}
		}
	}
	for _, observe := range observers {
		observe(refinement.Event{Phase: refinement.PhaseGenerating, Iteration: 1})
		observe(refinement.Event{Phase: refinement.PhaseValidating, Iteration: 1})
	}
	if r.err != nil {
		return nil, r.err
	}
	res := *r.result
	return &res, nil
}

func (r *stubRunner) Options() refinement.Options {
	return refinement.DefaultOptions()
}

func (r *stubRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func acceptedResult() *refinement.Result {
	return &refinement.Result{
		Configuration: `{"tools":{"list_pets":{}}}`,
		Analysis:      "one operation",
		Accepted:      true,
		Score:         93,
		Iterations:    1,
	}
}

func newTestService(t *testing.T, runner Runner, cache ResultCache, cfg ServiceConfig) (*Service, *MemoryRunStore) {
	t.Helper()
	runMetrics, err := metrics.NewRunMetrics()
	require.NoError(t, err)
	store := NewMemoryRunStore()
	return NewService(runner, store, cache, runMetrics, cfg, zap.NewNop()), store
}

func TestService_Convert_Accepted(t *testing.T) {
	runner := &stubRunner{result: acceptedResult()}
	svc, store := newTestService(t, runner, nil, ServiceConfig{PromptVersion: "v1"})

	var phases []refinement.Phase
	conv, err := svc.Convert(context.Background(), ConvertInput{SourceSpec: petstore, UserID: "user-1", Origin: metrics.OriginAPI},
		func(ev refinement.Event) { phases = append(phases, ev.Phase) })
	require.NoError(t, err)

	assert.False(t, conv.Cached)
	assert.Equal(t, 93, conv.Result.Score)
	require.NotNil(t, conv.Source)
	assert.Equal(t, "Pets", conv.Source.Title)
	assert.Len(t, conv.Source.Operations, 1)
	assert.Equal(t, []refinement.Phase{refinement.PhaseGenerating, refinement.PhaseValidating}, phases)

	rec, err := store.GetRun(context.Background(), conv.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusAccepted, rec.Status)
	assert.Equal(t, "user-1", rec.UserID)
	assert.Equal(t, SourceHash(petstore), rec.SourceHash)
}

func TestService_Convert_Failed(t *testing.T) {
	score := 35
	runErr := &refinement.RunError{
		Phase:     refinement.PhaseValidating,
		Iteration: 5,
		Score:     &score,
		Critique:  "still missing",
		Err:       fmt.Errorf("%w: no configuration accepted after 5 iterations", refinement.ErrMaxIterationsExceeded),
	}
	svc, store := newTestService(t, &stubRunner{err: runErr}, nil, ServiceConfig{})

	_, err := svc.Convert(context.Background(), ConvertInput{SourceSpec: petstore, Origin: metrics.OriginCLI})
	require.Error(t, err)
	assert.ErrorIs(t, err, refinement.ErrMaxIterationsExceeded)

	var convErr *ConversionError
	require.True(t, errors.As(err, &convErr))

	rec, err := store.GetRun(context.Background(), convErr.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, rec.Status)
	assert.Equal(t, refinement.KindMaxIterationsExceeded, rec.ErrorKind)
	assert.Equal(t, 5, rec.Iterations)
	assert.Equal(t, 35, *rec.Score)
}

func TestService_Convert_InvalidInput(t *testing.T) {
	runner := &stubRunner{result: acceptedResult()}
	svc, _ := newTestService(t, runner, nil, ServiceConfig{})

	_, err := svc.Convert(context.Background(), ConvertInput{SourceSpec: "  "})
	assert.ErrorIs(t, err, refinement.ErrInvalidInput)
	assert.Equal(t, 0, runner.callCount())
}

func TestService_Convert_NonOpenAPISourceStillRuns(t *testing.T) {
	runner := &stubRunner{result: acceptedResult()}
	svc, _ := newTestService(t, runner, nil, ServiceConfig{})

	conv, err := svc.Convert(context.Background(), ConvertInput{SourceSpec: "GET /pets returns a list of pets"})
	require.NoError(t, err)
	assert.Nil(t, conv.Source)
	assert.Equal(t, 1, runner.callCount())
}

func TestService_Convert_Cache(t *testing.T) {
	_, client := setupTestRedis(t)
	cache := NewRedisResultCache(client, time.Hour, nil)
	runner := &stubRunner{result: acceptedResult()}
	svc, store := newTestService(t, runner, cache, ServiceConfig{PromptVersion: "v1"})

	first, err := svc.Convert(context.Background(), ConvertInput{SourceSpec: petstore})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := svc.Convert(context.Background(), ConvertInput{SourceSpec: petstore})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Result, second.Result)
	assert.Equal(t, 1, runner.callCount())

	rec, err := store.GetRun(context.Background(), second.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusAccepted, rec.Status)
}

func TestService_Convert_CacheIsPerModel(t *testing.T) {
	_, client := setupTestRedis(t)
	cache := NewRedisResultCache(client, time.Hour, nil)
	runner := &stubRunner{result: acceptedResult()}

	before, _ := newTestService(t, runner, cache, ServiceConfig{PromptVersion: "v1", Models: "openai/o3-mini/gpt-4o"})
	_, err := before.Convert(context.Background(), ConvertInput{SourceSpec: petstore})
	require.NoError(t, err)

	after, _ := newTestService(t, runner, cache, ServiceConfig{PromptVersion: "v1", Models: "openai/gpt-4.1/gpt-4o"})
	conv, err := after.Convert(context.Background(), ConvertInput{SourceSpec: petstore})
	require.NoError(t, err)
	assert.False(t, conv.Cached)
	assert.Equal(t, 2, runner.callCount())
}

func TestService_Convert_Busy(t *testing.T) {
	runner := &stubRunner{result: acceptedResult(), block: make(chan struct{})}
	svc, _ := newTestService(t, runner, nil, ServiceConfig{MaxConcurrentRuns: 1})

	done := make(chan error, 1)
	go func() {
		_, err := svc.Convert(context.Background(), ConvertInput{SourceSpec: petstore})
		done <- err
	}()

	require.Eventually(t, func() bool { return runner.callCount() == 1 }, time.Second, 5*time.Millisecond)

	_, err := svc.Convert(context.Background(), ConvertInput{SourceSpec: petstore})
	assert.ErrorIs(t, err, ErrBusy)

	close(runner.block)
	require.NoError(t, <-done)
}

func TestService_Convert_RunTimeout(t *testing.T) {
	runner := &stubRunner{result: acceptedResult(), block: make(chan struct{})}
	svc, store := newTestService(t, runner, nil, ServiceConfig{RunTimeout: 20 * time.Millisecond})

	_, err := svc.Convert(context.Background(), ConvertInput{SourceSpec: petstore})
	require.Error(t, err)
	assert.ErrorIs(t, err, refinement.ErrCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var convErr *ConversionError
	require.True(t, errors.As(err, &convErr))
	rec, err := store.GetRun(context.Background(), convErr.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, rec.Status)
	assert.Equal(t, refinement.KindCancelled, rec.ErrorKind)
}

package refinement

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const minimalSpec = `openapi: 3.0.0
info:
  title: Users
  version: "1.0"
paths:
  /users:
    get:
      operationId: listUsers
      responses:
        "200":
          description: ok
`

type generateCall struct {
	SourceSpec         string
	PriorCritique      string
	PriorConfiguration string
}

type stubGenerator struct {
	results []*GenerationResult
	errs    []error
	calls   []generateCall
	onCall  func(n int)
}

func (s *stubGenerator) Generate(_ context.Context, sourceSpec, priorCritique, priorConfiguration string) (*GenerationResult, error) {
	n := len(s.calls)
	s.calls = append(s.calls, generateCall{sourceSpec, priorCritique, priorConfiguration})
	if s.onCall != nil {
		s.onCall(n)
	}
	if n < len(s.errs) && s.errs[n] != nil {
		return nil, s.errs[n]
	}
	if n < len(s.results) {
		return s.results[n], nil
	}
	return s.results[len(s.results)-1], nil
}

type validateCall struct {
	SourceSpec    string
	Configuration string
	Documentation string
}

type stubValidator struct {
	results []*ValidationResult
	errs    []error
	calls   []validateCall
	onCall  func(n int)
}

func (s *stubValidator) Validate(_ context.Context, sourceSpec, configuration, documentation string) (*ValidationResult, error) {
	n := len(s.calls)
	s.calls = append(s.calls, validateCall{sourceSpec, configuration, documentation})
	if s.onCall != nil {
		s.onCall(n)
	}
	if n < len(s.errs) && s.errs[n] != nil {
		return nil, s.errs[n]
	}
	if n < len(s.results) {
		return s.results[n], nil
	}
	return s.results[len(s.results)-1], nil
}

func rejected(score int, critique string) *ValidationResult {
	return &ValidationResult{Accepted: false, Score: score, Critique: critique}
}

func newTestController(t *testing.T, g Generator, v Validator, opts Options) *Controller {
	t.Helper()
	c, err := NewController(g, v, opts, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestController_AcceptOnFirstTry(t *testing.T) {
	gen := &stubGenerator{results: []*GenerationResult{{Configuration: `{"tools":{}}`, Analysis: "ok"}}}
	val := &stubValidator{results: []*ValidationResult{{Accepted: true, Score: 95}}}

	res, err := newTestController(t, gen, val, DefaultOptions()).Run(context.Background(), minimalSpec)
	require.NoError(t, err)

	assert.True(t, res.Accepted)
	assert.Equal(t, 95, res.Score)
	assert.Equal(t, `{"tools":{}}`, res.Configuration)
	assert.Equal(t, "ok", res.Analysis)
	assert.Equal(t, 1, res.Iterations)
	assert.Len(t, gen.calls, 1)
	assert.Len(t, val.calls, 1)
	assert.Equal(t, generateCall{SourceSpec: minimalSpec}, gen.calls[0])
}

func TestController_OneRetryThenAccept(t *testing.T) {
	gen := &stubGenerator{results: []*GenerationResult{
		{Configuration: `{"tools":{"list_users":{}}}`, Analysis: "first"},
		{Configuration: `{"tools":{"list_users":{},"create_user":{}}}`, Analysis: "second"},
	}}
	val := &stubValidator{results: []*ValidationResult{
		rejected(40, "missing POST /users"),
		{Accepted: true, Score: 90},
	}}

	res, err := newTestController(t, gen, val, DefaultOptions()).Run(context.Background(), minimalSpec)
	require.NoError(t, err)

	assert.True(t, res.Accepted)
	assert.Equal(t, 90, res.Score)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, "second", res.Analysis)
	require.Len(t, gen.calls, 2)
	require.Len(t, val.calls, 2)

	assert.Equal(t, "missing POST /users", gen.calls[1].PriorCritique)
	assert.Equal(t, `{"tools":{"list_users":{}}}`, gen.calls[1].PriorConfiguration)
	assert.Equal(t, `{"tools":{"list_users":{},"create_user":{}}}`, val.calls[1].Configuration)
}

func TestController_EmptySourceSpec(t *testing.T) {
	for _, spec := range []string{"", "   \n\t"} {
		gen := &stubGenerator{results: []*GenerationResult{{Configuration: "{}"}}}
		val := &stubValidator{results: []*ValidationResult{{Accepted: true}}}

		_, err := newTestController(t, gen, val, DefaultOptions()).Run(context.Background(), spec)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, KindInvalidInput, Kind(err))
		assert.Empty(t, gen.calls)
		assert.Empty(t, val.calls)
	}
}

func TestController_CritiqueIsNotAccumulated(t *testing.T) {
	gen := &stubGenerator{results: []*GenerationResult{{Configuration: "{}"}}}
	val := &stubValidator{results: []*ValidationResult{
		rejected(10, "critique one"),
		rejected(20, "critique two"),
		rejected(30, "critique three"),
		{Accepted: true, Score: 99},
	}}

	_, err := newTestController(t, gen, val, DefaultOptions()).Run(context.Background(), minimalSpec)
	require.NoError(t, err)

	require.Len(t, gen.calls, 4)
	assert.Equal(t, "", gen.calls[0].PriorCritique)
	assert.Equal(t, "critique one", gen.calls[1].PriorCritique)
	assert.Equal(t, "critique two", gen.calls[2].PriorCritique)
	assert.Equal(t, "critique three", gen.calls[3].PriorCritique)
}

func TestController_SourceSpecIsPassedUnchanged(t *testing.T) {
	spec := minimalSpec + "  \né\r\n"
	gen := &stubGenerator{results: []*GenerationResult{{Configuration: "{}"}}}
	val := &stubValidator{results: []*ValidationResult{rejected(1, "again"), rejected(2, "again"), {Accepted: true}}}

	_, err := newTestController(t, gen, val, DefaultOptions()).Run(context.Background(), spec)
	require.NoError(t, err)

	for _, c := range gen.calls {
		assert.Equal(t, spec, c.SourceSpec)
	}
	for _, c := range val.calls {
		assert.Equal(t, spec, c.SourceSpec)
	}
}

func TestController_FailFast(t *testing.T) {
	t.Run("generation error on second iteration", func(t *testing.T) {
		gen := &stubGenerator{
			results: []*GenerationResult{{Configuration: "{}"}},
			errs:    []error{nil, fmt.Errorf("%w: upstream timeout", ErrGenerationService)},
		}
		val := &stubValidator{results: []*ValidationResult{rejected(30, "incomplete")}}

		var phases []Phase
		_, err := newTestController(t, gen, val, DefaultOptions()).Run(context.Background(), minimalSpec,
			func(ev Event) { phases = append(phases, ev.Phase) })
		require.Error(t, err)

		assert.ErrorIs(t, err, ErrGenerationService)
		assert.Len(t, gen.calls, 2)
		assert.Len(t, val.calls, 1)

		runErr, ok := IsRunError(err)
		require.True(t, ok)
		assert.Equal(t, PhaseGenerating, runErr.Phase)
		assert.Equal(t, 2, runErr.Iteration)
		require.NotNil(t, runErr.Score)
		assert.Equal(t, 30, *runErr.Score)
		assert.Equal(t, "incomplete", runErr.Critique)

		assert.Equal(t, []Phase{PhaseGenerating, PhaseValidating, PhaseGenerating, PhaseFailed}, phases)
	})

	t.Run("untyped generation error takes the service kind", func(t *testing.T) {
		gen := &stubGenerator{errs: []error{errors.New("connection refused")}}
		val := &stubValidator{results: []*ValidationResult{{Accepted: true}}}

		_, err := newTestController(t, gen, val, DefaultOptions()).Run(context.Background(), minimalSpec)
		assert.ErrorIs(t, err, ErrGenerationService)
		assert.Empty(t, val.calls)
	})

	t.Run("validation error", func(t *testing.T) {
		gen := &stubGenerator{results: []*GenerationResult{{Configuration: "{}"}}}
		val := &stubValidator{errs: []error{errors.New("malformed verdict")}}

		_, err := newTestController(t, gen, val, DefaultOptions()).Run(context.Background(), minimalSpec)
		assert.ErrorIs(t, err, ErrValidationService)
		assert.Equal(t, KindValidationService, Kind(err))
		assert.Len(t, gen.calls, 1)

		runErr, ok := IsRunError(err)
		require.True(t, ok)
		assert.Equal(t, PhaseValidating, runErr.Phase)
		assert.Nil(t, runErr.Score)
	})
}

func TestController_MaxIterations(t *testing.T) {
	gen := &stubGenerator{results: []*GenerationResult{{Configuration: "{}"}}}
	val := &stubValidator{results: []*ValidationResult{rejected(55, "still wrong")}}

	opts := DefaultOptions()
	opts.MaxIterations = 3
	_, err := newTestController(t, gen, val, opts).Run(context.Background(), minimalSpec)
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrMaxIterationsExceeded)
	assert.Equal(t, KindMaxIterationsExceeded, Kind(err))
	assert.Len(t, gen.calls, 3)
	assert.Len(t, val.calls, 3)

	runErr, ok := IsRunError(err)
	require.True(t, ok)
	assert.Equal(t, 3, runErr.Iteration)
	assert.Equal(t, "still wrong", runErr.Critique)
	require.NotNil(t, runErr.Score)
	assert.Equal(t, 55, *runErr.Score)
}

func TestController_Cancellation(t *testing.T) {
	t.Run("before first call", func(t *testing.T) {
		gen := &stubGenerator{results: []*GenerationResult{{Configuration: "{}"}}}
		val := &stubValidator{results: []*ValidationResult{{Accepted: true}}}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := newTestController(t, gen, val, DefaultOptions()).Run(ctx, minimalSpec)
		assert.ErrorIs(t, err, ErrCancelled)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, gen.calls)
	})

	t.Run("between generation and validation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		gen := &stubGenerator{
			results: []*GenerationResult{{Configuration: "{}"}},
			onCall:  func(int) { cancel() },
		}
		val := &stubValidator{results: []*ValidationResult{{Accepted: true}}}

		_, err := newTestController(t, gen, val, DefaultOptions()).Run(ctx, minimalSpec)
		assert.ErrorIs(t, err, ErrCancelled)
		assert.Len(t, gen.calls, 1)
		assert.Empty(t, val.calls)
	})

	t.Run("step interrupted by cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		gen := &stubGenerator{results: []*GenerationResult{{Configuration: "{}"}}}
		val := &stubValidator{
			errs:   []error{errors.New("request aborted")},
			onCall: func(int) { cancel() },
		}

		_, err := newTestController(t, gen, val, DefaultOptions()).Run(ctx, minimalSpec)
		assert.ErrorIs(t, err, ErrCancelled)
	})
}

func TestController_CapabilityFlags(t *testing.T) {
	newStubs := func() (*stubGenerator, *stubValidator) {
		gen := &stubGenerator{results: []*GenerationResult{{
			Configuration: `{"tools":{}}`,
			Documentation: "docs",
			Requirements:  "API_KEY",
		}}}
		val := &stubValidator{results: []*ValidationResult{rejected(50, "fix it"), {Accepted: true, Score: 80}}}
		return gen, val
	}

	t.Run("all capabilities", func(t *testing.T) {
		gen, val := newStubs()
		res, err := newTestController(t, gen, val, DefaultOptions()).Run(context.Background(), minimalSpec)
		require.NoError(t, err)

		assert.Equal(t, `{"tools":{}}`, gen.calls[1].PriorConfiguration)
		assert.Equal(t, "docs", val.calls[0].Documentation)
		assert.Equal(t, "docs", res.Documentation)
		assert.Equal(t, "API_KEY", res.Requirements)
	})

	t.Run("minimal loop", func(t *testing.T) {
		gen, val := newStubs()
		opts := Options{MaxIterations: 5}
		res, err := newTestController(t, gen, val, opts).Run(context.Background(), minimalSpec)
		require.NoError(t, err)

		assert.Equal(t, "fix it", gen.calls[1].PriorCritique)
		assert.Empty(t, gen.calls[1].PriorConfiguration)
		assert.Empty(t, val.calls[0].Documentation)
		assert.Empty(t, res.Documentation)
		assert.Empty(t, res.Requirements)
	})
}

func TestController_Events(t *testing.T) {
	gen := &stubGenerator{results: []*GenerationResult{{Configuration: "{}"}}}
	val := &stubValidator{results: []*ValidationResult{rejected(40, "missing POST /users"), {Accepted: true, Score: 90}}}

	var events []Event
	_, err := newTestController(t, gen, val, DefaultOptions()).Run(context.Background(), minimalSpec,
		func(ev Event) { events = append(events, ev) })
	require.NoError(t, err)

	require.Len(t, events, 5)
	assert.Equal(t, PhaseGenerating, events[0].Phase)
	assert.Nil(t, events[0].Accepted)
	assert.Equal(t, PhaseValidating, events[1].Phase)

	retry := events[2]
	assert.Equal(t, PhaseGenerating, retry.Phase)
	assert.Equal(t, 2, retry.Iteration)
	require.NotNil(t, retry.Accepted)
	assert.False(t, *retry.Accepted)
	assert.Equal(t, 40, *retry.Score)
	assert.Equal(t, "missing POST /users", retry.Critique)

	done := events[4]
	assert.Equal(t, PhaseAccepted, done.Phase)
	assert.True(t, *done.Accepted)
	assert.Equal(t, 90, *done.Score)
}

func TestNewController_Options(t *testing.T) {
	gen := &stubGenerator{}
	val := &stubValidator{}

	c, err := NewController(gen, val, Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxIterations, c.Options().MaxIterations)

	_, err = NewController(gen, val, Options{MaxIterations: -1}, nil)
	assert.Error(t, err)

	_, err = NewController(nil, val, DefaultOptions(), nil)
	assert.Error(t, err)
}

func TestController_ConcurrentRunsAreIndependent(t *testing.T) {
	c := newTestController(t, echoGenerator{}, acceptingValidator{}, DefaultOptions())

	specs := []string{"spec-a", "spec-b", "spec-c", "spec-d"}
	results := make(chan *Result, len(specs))
	errs := make(chan error, len(specs))
	for _, spec := range specs {
		go func(spec string) {
			res, err := c.Run(context.Background(), spec)
			results <- res
			errs <- err
		}(spec)
	}

	seen := map[string]bool{}
	for range specs {
		require.NoError(t, <-errs)
		seen[(<-results).Configuration] = true
	}
	for _, spec := range specs {
		assert.True(t, seen[`{"source":"`+spec+`"}`])
	}
}

type echoGenerator struct{}

func (echoGenerator) Generate(_ context.Context, sourceSpec, _, _ string) (*GenerationResult, error) {
	return &GenerationResult{Configuration: `{"source":"` + sourceSpec + `"}`}, nil
}

type acceptingValidator struct{}

func (acceptingValidator) Validate(context.Context, string, string, string) (*ValidationResult, error) {
	return &ValidationResult{Accepted: true, Score: 100}, nil
}

// Package refinement implements the generate/validate loop that turns an API
// description into an accepted tool configuration.
//
// A run alternates between a Generator and an independent Validator until the
// validator accepts the configuration, a step fails, the iteration cap is
// reached, or the context is cancelled:
//
//	start -> generating -> validating -> accepted
//	              ^             |
//	              +-------------+  (rejected, critique fed back)
//
// Every state change is checked against the phase transition table and
// reported to the run's observers.
package refinement

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultMaxIterations bounds a run when Options.MaxIterations is zero.
const DefaultMaxIterations = 5

// Options select the loop's capabilities.
type Options struct {
	// MaxIterations is the maximum number of generate/validate rounds.
	MaxIterations int
	// PassPriorConfiguration feeds the rejected configuration back into the
	// next generation call alongside the critique.
	PassPriorConfiguration bool
	// TrackDocumentation keeps documentation and requirements in the run state
	// and passes documentation to the validator.
	TrackDocumentation bool
}

// DefaultOptions returns the full-featured loop configuration.
func DefaultOptions() Options {
	return Options{
		MaxIterations:          DefaultMaxIterations,
		PassPriorConfiguration: true,
		TrackDocumentation:     true,
	}
}

// Controller sequences generation and validation. It holds no per-run state
// and is safe for concurrent use; each Run owns its own IterationState.
type Controller struct {
	generator Generator
	validator Validator
	opts      Options
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewController creates a controller. A zero MaxIterations selects
// DefaultMaxIterations.
func NewController(generator Generator, validator Validator, opts Options, logger *zap.Logger) (*Controller, error) {
	if generator == nil || validator == nil {
		return nil, fmt.Errorf("generator and validator are required")
	}
	if opts.MaxIterations < 0 {
		return nil, fmt.Errorf("max iterations must be positive, got %d", opts.MaxIterations)
	}
	if opts.MaxIterations == 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		generator: generator,
		validator: validator,
		opts:      opts,
		tracer:    otel.Tracer("refinement-controller"),
		logger:    logger,
	}, nil
}

// Options returns the effective options.
func (c *Controller) Options() Options {
	return c.opts
}

// run is the per-invocation execution context.
type run struct {
	state     IterationState
	observers []Observer
	logger    *zap.Logger
}

// Run executes one run for sourceSpec and blocks until it terminates. On
// success it returns the accepted snapshot; otherwise the error is a
// *RunError wrapping one of the package's error kinds.
func (c *Controller) Run(ctx context.Context, sourceSpec string, observers ...Observer) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "refinement.run")
	defer span.End()

	r := &run{
		state:     IterationState{SourceSpec: sourceSpec, Phase: PhaseStart},
		observers: observers,
		logger:    c.logger,
	}

	res, err := c.loop(ctx, r)
	span.SetAttributes(
		attribute.Int("iterations", r.state.Iteration),
		attribute.String("phase", string(r.state.Phase)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Kind(err))
		return nil, err
	}
	return res, nil
}

func (c *Controller) loop(ctx context.Context, r *run) (*Result, error) {
	if err := ValidateSource(r.state.SourceSpec); err != nil {
		return nil, r.fail(err)
	}
	r.logger.Info("run started",
		zap.Int("source_length", len(r.state.SourceSpec)),
		zap.Int("max_iterations", c.opts.MaxIterations),
	)

	for {
		if r.state.Iteration >= c.opts.MaxIterations {
			return nil, r.fail(fmt.Errorf("%w: no configuration accepted after %d iterations",
				ErrMaxIterationsExceeded, c.opts.MaxIterations))
		}
		r.state.Iteration++

		if err := checkContext(ctx); err != nil {
			return nil, r.fail(err)
		}
		if err := r.transition(PhaseGenerating); err != nil {
			return nil, r.fail(err)
		}

		priorCritique, priorConfiguration := c.generationInputs(&r.state)
		gen, err := c.generator.Generate(ctx, r.state.SourceSpec, priorCritique, priorConfiguration)
		if err != nil {
			return nil, r.fail(stepError(ctx, err, ErrGenerationService))
		}
		r.state.applyGeneration(gen, c.opts.TrackDocumentation)
		r.logger.Debug("configuration generated",
			zap.Int("iteration", r.state.Iteration),
			zap.Bool("prior_critique", priorCritique != ""),
			zap.Bool("prior_configuration", priorConfiguration != ""),
			zap.Int("configuration_length", len(gen.Configuration)),
		)

		if err := checkContext(ctx); err != nil {
			return nil, r.fail(err)
		}
		if err := r.transition(PhaseValidating); err != nil {
			return nil, r.fail(err)
		}

		verdict, err := c.validator.Validate(ctx, r.state.SourceSpec, *r.state.Configuration, r.state.Documentation)
		if err != nil {
			return nil, r.fail(stepError(ctx, err, ErrValidationService))
		}
		r.state.applyValidation(verdict)

		r.logger.Info("configuration validated",
			zap.Int("iteration", r.state.Iteration),
			zap.Bool("accepted", verdict.Accepted),
			zap.Int("score", verdict.Score),
			zap.String("critique", truncate(verdict.Critique, critiqueLogLen)),
		)

		if verdict.Accepted {
			if err := r.transition(PhaseAccepted); err != nil {
				return nil, r.fail(err)
			}
			r.logger.Info("configuration accepted",
				zap.Int("iterations", r.state.Iteration),
				zap.Int("score", verdict.Score),
			)
			return r.state.snapshot(), nil
		}
	}
}

const critiqueLogLen = 200

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// generationInputs returns the critique and configuration of the previous
// iteration only. Both are empty on the first iteration.
func (c *Controller) generationInputs(s *IterationState) (string, string) {
	if s.Accepted == nil {
		return "", ""
	}
	var priorConfiguration string
	if c.opts.PassPriorConfiguration && s.Configuration != nil {
		priorConfiguration = *s.Configuration
	}
	return s.Critique, priorConfiguration
}

func (r *run) transition(to Phase) error {
	if err := validatePhaseTransition(r.state.Phase, to); err != nil {
		return err
	}
	r.state.Phase = to
	r.emit(Event{Phase: to, Iteration: r.state.Iteration})
	return nil
}

// fail moves the run to PhaseFailed and wraps err with the run's position.
func (r *run) fail(err error) error {
	runErr := &RunError{
		Phase:     r.state.Phase,
		Iteration: r.state.Iteration,
		Score:     r.state.Score,
		Critique:  r.state.Critique,
		Err:       err,
	}

	if terr := validatePhaseTransition(r.state.Phase, PhaseFailed); terr != nil {
		r.logger.Error("unexpected failure transition", zap.Error(terr))
	}
	r.state.Phase = PhaseFailed
	r.emit(Event{Phase: PhaseFailed, Iteration: r.state.Iteration, Err: runErr})

	r.logger.Warn("run failed",
		zap.String("kind", Kind(err)),
		zap.String("failed_while", string(runErr.Phase)),
		zap.Int("iteration", runErr.Iteration),
		zap.Error(err),
	)
	return runErr
}

func (r *run) emit(ev Event) {
	if ev.Phase == PhaseAccepted || (ev.Phase == PhaseGenerating && r.state.Accepted != nil) {
		ev.Accepted = r.state.Accepted
		ev.Score = r.state.Score
		ev.Critique = r.state.Critique
	}
	for _, observe := range r.observers {
		observe(ev)
	}
}

func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}

// stepError classifies a step failure. A step interrupted by the run's own
// context is a cancellation; an error without a kind takes the step's
// service kind.
func stepError(ctx context.Context, err, serviceKind error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	if Kind(err) == KindInternal {
		return fmt.Errorf("%w: %w", serviceKind, err)
	}
	return err
}

// IsRunError reports whether err came from a run and returns it.
func IsRunError(err error) (*RunError, bool) {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr, true
	}
	return nil, false
}

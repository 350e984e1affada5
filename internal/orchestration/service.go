package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/metrics"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/refinement"
	"github.com/bizmatters/agent-builder/mcp-config-builder/internal/specsource"
)

// ErrBusy is returned when the concurrent run limit is reached.
var ErrBusy = errors.New("too many conversions in progress")

// Runner executes one refinement run.
type Runner interface {
	Run(ctx context.Context, sourceSpec string, observers ...refinement.Observer) (*refinement.Result, error)
	Options() refinement.Options
}

// ServiceConfig tunes the orchestration service.
type ServiceConfig struct {
	MaxConcurrentRuns int
	RunTimeout        time.Duration
	PromptVersion     string
	// Models identifies the LLM provider and models in cache keys.
	Models string
}

// ConvertInput is one conversion request.
type ConvertInput struct {
	SourceSpec string
	UserID     string
	Origin     string
}

// Conversion is the outcome of an accepted conversion.
type Conversion struct {
	RunID  uuid.UUID
	Result *refinement.Result
	Cached bool
	// Source is nil when the document could not be parsed as OpenAPI.
	Source *specsource.Summary
}

// ConversionError is a failed conversion with the run it was recorded under.
type ConversionError struct {
	RunID uuid.UUID
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion %s failed: %v", e.RunID, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// Service runs conversions, records them and serves repeat requests from cache
type Service struct {
	runner        Runner
	store         RunStore
	cache         ResultCache
	metrics       *metrics.RunMetrics
	sem           *semaphore.Weighted
	runTimeout    time.Duration
	promptVersion string
	models        string
	tracer        trace.Tracer
	logger        *zap.Logger
}

// NewService creates a new orchestration service. cache and runMetrics may be nil.
func NewService(runner Runner, store RunStore, cache ResultCache, runMetrics *metrics.RunMetrics, cfg ServiceConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxRuns := cfg.MaxConcurrentRuns
	if maxRuns <= 0 {
		maxRuns = 4
	}
	return &Service{
		runner:        runner,
		store:         store,
		cache:         cache,
		metrics:       runMetrics,
		sem:           semaphore.NewWeighted(int64(maxRuns)),
		runTimeout:    cfg.RunTimeout,
		promptVersion: cfg.PromptVersion,
		models:        cfg.Models,
		tracer:        otel.Tracer("orchestration-service"),
		logger:        logger,
	}
}

// Convert runs one conversion. Errors from the run are returned as a
// *ConversionError wrapping the run's error kind; input and capacity errors
// are returned before any run is recorded.
func (s *Service) Convert(ctx context.Context, in ConvertInput, observers ...refinement.Observer) (*Conversion, error) {
	ctx, span := s.tracer.Start(ctx, "orchestration.convert")
	defer span.End()

	if err := refinement.ValidateSource(in.SourceSpec); err != nil {
		return nil, err
	}
	if !s.sem.TryAcquire(1) {
		span.SetAttributes(attribute.Bool("busy", true))
		return nil, ErrBusy
	}
	defer s.sem.Release(1)

	sourceHash := SourceHash(in.SourceSpec)
	span.SetAttributes(
		attribute.String("origin", in.Origin),
		attribute.String("source.hash", sourceHash),
	)

	var source *specsource.Summary
	if summary, err := specsource.Inspect(in.SourceSpec); err != nil {
		s.logger.Warn("source is not a parseable OpenAPI document", zap.Error(err))
	} else {
		source = summary
		span.SetAttributes(attribute.Int("source.operations", len(summary.Operations)))
	}

	rec := &RunRecord{
		UserID:     in.UserID,
		SourceHash: sourceHash,
		Origin:     in.Origin,
	}
	if err := s.store.CreateRun(ctx, rec); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	span.SetAttributes(attribute.String("run.id", rec.ID.String()))
	logger := s.logger.With(zap.String("run_id", rec.ID.String()), zap.String("origin", in.Origin))

	// Persist outcomes even if the caller has gone away.
	persistCtx := context.WithoutCancel(ctx)
	cacheKey := CacheKey(sourceHash, s.promptVersion, s.models, s.runner.Options())

	if cached := s.lookupCache(ctx, cacheKey, logger); cached != nil {
		if err := s.store.CompleteRun(persistCtx, rec.ID, cached); err != nil {
			logger.Error("failed to record cached run", zap.Error(err))
		}
		if s.metrics != nil {
			s.metrics.RecordCacheHit(ctx, in.Origin)
		}
		logger.Info("conversion served from cache", zap.Int("score", cached.Score))
		return &Conversion{RunID: rec.ID, Result: cached, Cached: true, Source: source}, nil
	}

	if s.metrics != nil {
		s.metrics.RecordRunStarted(ctx, in.Origin)
	}

	runCtx := ctx
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	start := time.Now()
	observers = append([]refinement.Observer{s.stepTimer(ctx)}, observers...)
	result, runErr := s.runner.Run(runCtx, in.SourceSpec, observers...)
	duration := time.Since(start)

	if runErr != nil {
		span.RecordError(runErr)
		failure := RunFailure{Kind: refinement.Kind(runErr), Message: runErr.Error()}
		if re, ok := refinement.IsRunError(runErr); ok {
			failure.Iterations = re.Iteration
			failure.Score = re.Score
		}
		if err := s.store.FailRun(persistCtx, rec.ID, failure); err != nil {
			logger.Error("failed to record run failure", zap.Error(err))
		}
		if s.metrics != nil {
			s.metrics.RecordRunFailed(ctx, in.Origin, failure.Kind, failure.Iterations, duration)
		}
		logger.Warn("conversion failed",
			zap.String("kind", failure.Kind),
			zap.Int("iterations", failure.Iterations),
			zap.Duration("duration", duration),
			zap.Error(runErr),
		)
		return nil, &ConversionError{RunID: rec.ID, Err: runErr}
	}

	if err := s.store.CompleteRun(persistCtx, rec.ID, result); err != nil {
		logger.Error("failed to record accepted run", zap.Error(err))
	}
	if s.cache != nil {
		if err := s.cache.Set(persistCtx, cacheKey, result); err != nil {
			logger.Warn("failed to cache result", zap.Error(err))
		}
	}
	if s.metrics != nil {
		s.metrics.RecordRunAccepted(ctx, in.Origin, result.Iterations, duration)
	}

	logger.Info("conversion accepted",
		zap.Int("iterations", result.Iterations),
		zap.Int("score", result.Score),
		zap.Duration("duration", duration),
	)
	return &Conversion{RunID: rec.ID, Result: result, Source: source}, nil
}

// GetRun returns a recorded run.
func (s *Service) GetRun(ctx context.Context, id uuid.UUID) (*RunRecord, error) {
	return s.store.GetRun(ctx, id)
}

func (s *Service) lookupCache(ctx context.Context, key string, logger *zap.Logger) *refinement.Result {
	if s.cache == nil {
		return nil
	}
	result, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("result cache unavailable", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	return result
}

// stepTimer records the time spent in each phase of the run.
func (s *Service) stepTimer(ctx context.Context) refinement.Observer {
	var (
		phase refinement.Phase
		since time.Time
	)
	return func(ev refinement.Event) {
		now := time.Now()
		if s.metrics != nil && phase != "" {
			s.metrics.RecordStep(ctx, string(phase), now.Sub(since))
		}
		phase, since = ev.Phase, now
	}
}

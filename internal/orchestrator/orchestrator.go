// Package orchestrator coordinates scrape runs: it fans out over the
// registered sources under a concurrency cap, gates every source through its
// circuit breaker, and streams extracted candidates into the ingestion
// pipeline worker pool.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/grantwell/scholarship-ingest/internal/adapters"
	"github.com/grantwell/scholarship-ingest/internal/audit"
	"github.com/grantwell/scholarship-ingest/internal/breaker"
	"github.com/grantwell/scholarship-ingest/internal/metrics"
	"github.com/grantwell/scholarship-ingest/internal/ratelimit"
	"github.com/grantwell/scholarship-ingest/internal/scholar"
)

// ErrRunInProgress is returned when a run is requested while one is active.
var ErrRunInProgress = errors.New("scrape run already in progress")

// Ingestor processes one candidate end to end. The pipeline satisfies this.
type Ingestor interface {
	Process(ctx context.Context, runID string, candidate scholar.Candidate) (*scholar.Scholarship, error)
}

// Config controls run concurrency and budgets.
type Config struct {
	// MaxConcurrentSources caps sources scraped in parallel (default 4).
	MaxConcurrentSources int
	// IngestWorkers is the candidate pipeline pool size (default 8).
	IngestWorkers int
	// SourceTimeout bounds one source's scrape (default 5m).
	SourceTimeout time.Duration
	// CandidateBuffer sizes the channel between sources and workers (default 256).
	CandidateBuffer int
}

const (
	defaultMaxConcurrentSources = 4
	defaultIngestWorkers        = 8
	defaultSourceTimeout        = 5 * time.Minute
	defaultCandidateBuffer      = 256
)

// Orchestrator runs the scrape-and-ingest cycle over all registered sources.
type Orchestrator struct {
	cfg      Config
	registry *adapters.Registry
	breakers *breaker.Manager
	limiter  *ratelimit.Limiter
	ingestor Ingestor
	emitter  audit.Emitter
	clock    scholar.Clock
	ids      scholar.IDGenerator
	logger   *zap.Logger

	running atomic.Bool

	mu      sync.Mutex
	lastRun *scholar.ScrapeRun
}

// New builds an Orchestrator. Registry, breakers, ingestor, clock, and ID
// generator are required; limiter and emitter may be nil.
func New(
	cfg Config,
	registry *adapters.Registry,
	breakers *breaker.Manager,
	limiter *ratelimit.Limiter,
	ingestor Ingestor,
	emitter audit.Emitter,
	clock scholar.Clock,
	ids scholar.IDGenerator,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if breakers == nil {
		return nil, fmt.Errorf("breaker manager is required")
	}
	if ingestor == nil {
		return nil, fmt.Errorf("ingestor is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if cfg.MaxConcurrentSources <= 0 {
		cfg.MaxConcurrentSources = defaultMaxConcurrentSources
	}
	if cfg.IngestWorkers <= 0 {
		cfg.IngestWorkers = defaultIngestWorkers
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = defaultSourceTimeout
	}
	if cfg.CandidateBuffer <= 0 {
		cfg.CandidateBuffer = defaultCandidateBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		breakers: breakers,
		limiter:  limiter,
		ingestor: ingestor,
		emitter:  emitter,
		clock:    clock,
		ids:      ids,
		logger:   logger.Named("orchestrator"),
	}, nil
}

// RunAll executes one full scrape run across every callable source. Individual
// source failures are absorbed by their breakers; the only fatal outcome is
// having no callable sources at all.
func (o *Orchestrator) RunAll(ctx context.Context) (*scholar.ScrapeRun, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer o.running.Store(false)

	runID, err := o.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	run := &scholar.ScrapeRun{ID: runID, StartedAt: o.clock.Now().UTC()}
	o.emit(audit.Event{RunID: runID, TS: run.StartedAt, Kind: audit.KindRunStart})

	sources := o.registry.All()
	if len(sources) == 0 {
		o.finishRun(ctx, run, scholar.ErrNoCallableSources)
		return run, scholar.ErrNoCallableSources
	}

	var (
		produced atomic.Int64
		accepted atomic.Int64
		rejected atomic.Int64
	)
	candidates := make(chan scholar.Candidate, o.cfg.CandidateBuffer)

	var workers sync.WaitGroup
	for i := 0; i < o.cfg.IngestWorkers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for candidate := range candidates {
				metrics.IncActiveWorkers()
				_, err := o.ingestor.Process(ctx, runID, candidate)
				metrics.DecActiveWorkers()
				if err != nil {
					rejected.Add(1)
					continue
				}
				accepted.Add(1)
			}
		}()
	}

	sem := semaphore.NewWeighted(int64(o.cfg.MaxConcurrentSources))
	var (
		scatter   sync.WaitGroup
		succeeded atomic.Int64
		blocked   atomic.Int64
	)
	for _, source := range sources {
		decision := o.breakers.BeforeCall(source.Name())
		if !decision.Allowed {
			blocked.Add(1)
			o.logger.Info("source blocked by breaker",
				zap.String("source", source.Name()),
				zap.Time("retry_at", decision.RetryAt))
			o.emit(audit.Event{
				RunID:  runID,
				TS:     o.clock.Now().UTC(),
				Kind:   audit.KindSourceBlocked,
				Source: source.Name(),
			})
			continue
		}
		run.SourcesAttempted++

		// Acquire only fails when the run context dies. That says nothing
		// about the source's health, so the breaker stays untouched.
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		scatter.Add(1)
		go func(source scholar.SourceAdapter, trial bool) {
			defer scatter.Done()
			defer sem.Release(1)
			n, err := o.scrapeSource(ctx, source, candidates)
			produced.Add(n)
			if err != nil {
				o.breakers.RecordFailure(source.Name(), err)
				o.logger.Warn("source scrape failed",
					zap.String("source", source.Name()),
					zap.Bool("trial", trial),
					zap.Error(err))
				return
			}
			o.breakers.RecordSuccess(source.Name())
			succeeded.Add(1)
		}(source, decision.Trial)
	}
	scatter.Wait()
	close(candidates)
	workers.Wait()

	run.SourcesSucceeded = int(succeeded.Load())
	run.SourcesBlocked = int(blocked.Load())
	run.CandidatesProduced = int(produced.Load())
	run.CandidatesAccepted = int(accepted.Load())
	run.CandidatesRejected = int(rejected.Load())

	if run.SourcesAttempted == 0 {
		o.finishRun(ctx, run, scholar.ErrNoCallableSources)
		return run, scholar.ErrNoCallableSources
	}
	o.finishRun(ctx, run, ctx.Err())
	return run, ctx.Err()
}

// scrapeSource paces, produces, and forwards one source's candidates. The
// returned count feeds the run summary even when the source ultimately fails.
func (o *Orchestrator) scrapeSource(ctx context.Context, source scholar.SourceAdapter, out chan<- scholar.Candidate) (int64, error) {
	srcCtx, cancel := context.WithTimeout(ctx, o.cfg.SourceTimeout)
	defer cancel()

	if o.limiter != nil {
		if err := o.limiter.WaitDomain(srcCtx, source.Name()); err != nil {
			return 0, err
		}
	}

	ch, err := source.Produce(srcCtx)
	if err != nil {
		return 0, err
	}
	var n int64
	for candidate := range ch {
		select {
		case out <- candidate:
			n++
		case <-srcCtx.Done():
			return n, srcCtx.Err()
		}
	}
	return n, srcCtx.Err()
}

func (o *Orchestrator) finishRun(_ context.Context, run *scholar.ScrapeRun, runErr error) {
	run.FinishedAt = o.clock.Now().UTC()
	status := "success"
	kind := audit.KindRunDone
	if runErr != nil {
		status = "failed"
		kind = audit.KindRunError
	}
	metrics.ObserveRun(status)
	for _, snap := range o.breakers.SnapshotAll() {
		metrics.SetBreakerState(snap.Source, snap.State)
	}
	o.emit(audit.Event{
		RunID: run.ID,
		TS:    run.FinishedAt,
		Kind:  kind,
		Dur:   run.FinishedAt.Sub(run.StartedAt),
	})
	o.logger.Info("scrape run finished",
		zap.String("run_id", run.ID),
		zap.String("status", status),
		zap.Int("sources_attempted", run.SourcesAttempted),
		zap.Int("sources_succeeded", run.SourcesSucceeded),
		zap.Int("sources_blocked", run.SourcesBlocked),
		zap.Int("candidates_produced", run.CandidatesProduced),
		zap.Int("candidates_accepted", run.CandidatesAccepted),
		zap.Int("candidates_rejected", run.CandidatesRejected),
	)

	o.mu.Lock()
	o.lastRun = run
	o.mu.Unlock()
}

// LastRun returns a copy of the most recent run summary, if any.
func (o *Orchestrator) LastRun() (scholar.ScrapeRun, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastRun == nil {
		return scholar.ScrapeRun{}, false
	}
	return *o.lastRun, true
}

// Running reports whether a scrape run is currently active.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

func (o *Orchestrator) emit(evt audit.Event) {
	if o.emitter == nil {
		return
	}
	o.emitter.Emit(evt)
}

// Package pipeline runs analysis jobs through the five-stage pipeline.
//
// The Orchestrator owns job lifecycles: it creates jobs in the registry,
// starts exactly one supervised goroutine per job, bands stage progress into
// overall job progress, and decides each job's terminal state. Every event
// goes through the Publisher, which writes it to the registry before any
// subscriber sees it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/research-analysis-service/internal/domain"
	"github.com/helixir/research-analysis-service/internal/observability"
)

// Service defaults applied to zero-valued job options.
const (
	DefaultTimeout        = 30 * time.Minute
	DefaultMaxPapers      = 50
	DefaultDedupThreshold = 0.92
	MaxQueryLength        = 2000
)

// JobStore is the job registry as seen by the orchestrator.
type JobStore interface {
	Create(id, query string, opts domain.JobOptions) (domain.Job, error)
	Get(id string) (domain.Job, error)
	Delete(id string) error
	List() []domain.Job
}

// Publisher delivers progress events. Publish must apply the event to the
// job registry before returning.
type Publisher interface {
	Publish(ev domain.ProgressEvent)
	Forget(jobID string)
}

// ReportStore persists final reports.
type ReportStore interface {
	Save(ctx context.Context, report *domain.Report) error
	Get(ctx context.Context, id string) (*domain.Report, error)
}

// ReportArchive keeps an additional copy of a report and returns its URI.
type ReportArchive interface {
	Archive(ctx context.Context, report *domain.Report) (string, error)
}

// Config holds orchestrator settings.
type Config struct {
	// DefaultTimeout is the job budget when the submitter sets none.
	DefaultTimeout time.Duration

	// MaxTimeout caps caller-supplied timeouts. Zero means no cap.
	MaxTimeout time.Duration

	// DefaultMaxPapers is used when the submitter sets no max_papers.
	DefaultMaxPapers int

	// DefaultDedupThreshold is used when the submitter sets no threshold.
	DefaultDedupThreshold float64

	// Sources lists the enabled source names. When non-empty, jobs may only
	// select sources from this list.
	Sources []string
}

// DefaultConfig returns the service defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:        DefaultTimeout,
		DefaultMaxPapers:      DefaultMaxPapers,
		DefaultDedupThreshold: DefaultDedupThreshold,
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithArchive sets an archive that receives a copy of every stored report.
func WithArchive(archive ReportArchive) Option {
	return func(o *Orchestrator) {
		o.archive = archive
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// execution tracks the goroutine running one job.
type execution struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Orchestrator sequences the pipeline stages for every submitted job.
type Orchestrator struct {
	cfg       Config
	stages    Stages
	jobs      JobStore
	publisher Publisher
	reports   ReportStore
	archive   ReportArchive
	logger    zerolog.Logger
	metrics   *observability.Metrics
	now       func() time.Time

	mu       sync.Mutex
	running  map[string]*execution
	stopping bool
	wg       sync.WaitGroup
}

// New creates an Orchestrator.
func New(cfg Config, stages Stages, jobs JobStore, publisher Publisher, reports ReportStore, logger zerolog.Logger, opts ...Option) *Orchestrator {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.DefaultMaxPapers <= 0 {
		cfg.DefaultMaxPapers = DefaultMaxPapers
	}
	if cfg.DefaultDedupThreshold <= 0 || cfg.DefaultDedupThreshold > 1 {
		cfg.DefaultDedupThreshold = DefaultDedupThreshold
	}

	o := &Orchestrator{
		cfg:       cfg,
		stages:    stages,
		jobs:      jobs,
		publisher: publisher,
		reports:   reports,
		logger:    logger.With().Str("component", "orchestrator").Logger(),
		now:       time.Now,
		running:   make(map[string]*execution),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewJobID returns a fresh server-generated job ID.
func NewJobID() string {
	return "analysis-" + uuid.NewString()
}

// Submit validates the request, registers a new job and starts its pipeline.
func (o *Orchestrator) Submit(ctx context.Context, query string, opts domain.JobOptions) (string, error) {
	return o.SubmitWithID(ctx, "", query, opts)
}

// SubmitWithID is Submit with a caller-chosen job ID. An empty id selects a
// generated one. A colliding id fails with ErrDuplicateJob.
func (o *Orchestrator) SubmitWithID(ctx context.Context, id, query string, opts domain.JobOptions) (string, error) {
	query = strings.TrimSpace(query)
	if err := o.validate(id, query, opts); err != nil {
		return "", err
	}
	opts = o.withDefaults(opts)
	if id == "" {
		id = NewJobID()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopping {
		return "", fmt.Errorf("%w: orchestrator is shutting down", domain.ErrServiceUnavailable)
	}
	if _, busy := o.running[id]; busy {
		return "", domain.NewDuplicateJobError(id)
	}

	job, err := o.jobs.Create(id, query, opts)
	if err != nil {
		return "", fmt.Errorf("creating job: %w", err)
	}

	// Values such as the request ID survive; the submitter's cancellation does not.
	jobCtx, cancel := context.WithCancelCause(observability.WithJobID(context.WithoutCancel(ctx), id))
	exec := &execution{cancel: cancel, done: make(chan struct{})}
	o.running[id] = exec
	o.wg.Add(1)

	o.metrics.RecordJobSubmitted()
	o.logger.Info().
		Str("job_id", id).
		Str("query", query).
		Int("max_papers", opts.MaxPapers).
		Dur("timeout", opts.Timeout).
		Msg("job submitted")

	go o.run(jobCtx, job, exec)
	return id, nil
}

func (o *Orchestrator) validate(id, query string, opts domain.JobOptions) error {
	if query == "" {
		return domain.NewValidationError("query", "must not be empty")
	}
	if len(query) > MaxQueryLength {
		return domain.NewValidationError("query", fmt.Sprintf("must be at most %d characters", MaxQueryLength))
	}
	if id != "" && strings.TrimSpace(id) != id {
		return domain.NewValidationError("job_id", "must not contain leading or trailing whitespace")
	}
	if opts.MaxPapers < 0 {
		return domain.NewValidationError("max_papers", "must not be negative")
	}
	if opts.Timeout < 0 {
		return domain.NewValidationError("timeout", "must not be negative")
	}
	if t := opts.DedupThreshold; t != nil && (*t < 0 || *t > 1) {
		return domain.NewValidationError("dedup_threshold", "must be between 0 and 1")
	}
	if len(o.cfg.Sources) > 0 {
		for _, s := range opts.Sources {
			if !contains(o.cfg.Sources, s) {
				return domain.NewValidationError("sources", fmt.Sprintf("unknown source %q", s))
			}
		}
	}
	return nil
}

func (o *Orchestrator) withDefaults(opts domain.JobOptions) domain.JobOptions {
	if opts.MaxPapers == 0 {
		opts.MaxPapers = o.cfg.DefaultMaxPapers
	}
	if opts.DedupThreshold == nil {
		t := o.cfg.DefaultDedupThreshold
		opts.DedupThreshold = &t
	}
	if opts.Timeout == 0 {
		opts.Timeout = o.cfg.DefaultTimeout
	}
	if o.cfg.MaxTimeout > 0 && opts.Timeout > o.cfg.MaxTimeout {
		opts.Timeout = o.cfg.MaxTimeout
	}
	opts.Sources = append([]string(nil), opts.Sources...)
	return opts
}

// run executes the pipeline for one job. It is the only goroutine that ever
// runs stages for the job.
func (o *Orchestrator) run(jobCtx context.Context, job domain.Job, exec *execution) {
	defer o.wg.Done()
	defer func() {
		// A job deleted mid-run may have had its terminal event replayed
		// into the publisher after Delete cleared it.
		if _, err := o.jobs.Get(job.ID); errors.Is(err, domain.ErrNotFound) {
			o.publisher.Forget(job.ID)
		}
		o.mu.Lock()
		if o.running[job.ID] == exec {
			delete(o.running, job.ID)
		}
		o.mu.Unlock()
		exec.cancel(nil)
		close(exec.done)
	}()

	logger := observability.WithJobContext(o.logger, job.ID, job.Query)
	start := o.now()
	deadline := start.Add(job.Options.Timeout)
	ctx, cancel := context.WithDeadlineCause(jobCtx, deadline, domain.ErrTimeout)
	defer cancel()

	r := &runner{jobID: job.ID, publisher: o.publisher, logger: logger, now: o.now}
	r.emit(domain.ProgressEvent{
		Stage:    domain.StageStarted,
		Kind:     domain.EventStarted,
		Progress: 0,
		Message:  fmt.Sprintf("Starting analysis of %q", job.Query),
	})

	st := &jobState{job: job}
	for _, spec := range stageTable {
		if ctx.Err() != nil {
			o.fail(r, logger, spec.stage, context.Cause(ctx), start)
			return
		}

		stageLogger := observability.WithStageContext(logger, string(spec.stage))
		stageCtx := observability.WithStage(ctx, string(spec.stage))
		r.emit(domain.ProgressEvent{
			Stage:    spec.stage,
			Kind:     domain.EventStarted,
			Progress: bandProgress(spec, 0),
			Message:  fmt.Sprintf("Starting %s", spec.stage),
		})

		stageStart := o.now()
		report := r.reporter(stageCtx, spec)
		out, err := r.runStage(stageCtx, deadline, spec.stage, func(ctx context.Context) (stageOutcome, error) {
			return spec.run(o, ctx, st, report)
		})
		elapsed := o.now().Sub(stageStart)
		o.metrics.RecordStage(string(spec.stage), elapsed.Seconds(), err != nil)
		if err != nil {
			o.fail(r, stageLogger, spec.stage, err, start)
			return
		}

		st.tokens += out.tokensUsed
		stageLogger.Info().Dur("duration", elapsed).Str("outcome", out.message).Msg("stage completed")
		r.emit(domain.ProgressEvent{
			Stage:      spec.stage,
			Kind:       domain.EventCompleted,
			Progress:   bandProgress(spec, 1),
			Current:    out.current,
			Total:      out.total,
			TokensUsed: out.tokensUsed,
			Message:    out.message,
		})
	}

	var ref *domain.ResultRef
	_, err := r.runStage(ctx, deadline, domain.StageFinished, func(ctx context.Context) (stageOutcome, error) {
		var storeErr error
		ref, storeErr = o.storeReport(ctx, logger, st)
		return stageOutcome{}, storeErr
	})
	if err != nil {
		o.fail(r, logger, domain.StageFinished, err, start)
		return
	}

	r.finish(domain.ProgressEvent{
		Stage:    domain.StageFinished,
		Kind:     domain.EventCompleted,
		Progress: 100,
		Total:    ref.Documents,
		Current:  ref.Documents,
		Message:  fmt.Sprintf("Analysis complete: %d documents", ref.Documents),
		Result:   ref,
	})
	duration := o.now().Sub(start)
	o.metrics.RecordJobCompleted(duration.Seconds())
	logger.Info().Dur("duration", duration).Str("report_id", ref.ReportID).Msg("job completed")
}

// fail publishes the terminal error event for stage.
func (o *Orchestrator) fail(r *runner, logger zerolog.Logger, stage domain.Stage, cause error, start time.Time) {
	err := error(domain.NewStageError(stage, cause))
	var stageErr *domain.StageError
	if errors.As(cause, &stageErr) {
		err = cause
	}

	r.finish(domain.ProgressEvent{
		Stage:   stage,
		Kind:    domain.EventError,
		Message: err.Error(),
		Err:     err,
	})

	kind := domain.ErrorKind(err)
	o.metrics.RecordJobFailed(kind, o.now().Sub(start).Seconds())
	logger.Error().Err(err).Str("stage", string(stage)).Str("kind", kind).Msg("job failed")
}

// Cancel requests cooperative cancellation of a running job. Cancelling a
// terminal job is a no-op.
func (o *Orchestrator) Cancel(id string) error {
	job, err := o.jobs.Get(id)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return nil
	}

	o.mu.Lock()
	exec, ok := o.running[id]
	o.mu.Unlock()
	if ok {
		exec.cancel(domain.ErrCancelled)
		o.logger.Info().Str("job_id", id).Msg("cancellation requested")
	}
	return nil
}

// Get returns a snapshot of the job.
func (o *Orchestrator) Get(id string) (domain.Job, error) {
	return o.jobs.Get(id)
}

// List returns snapshots of all jobs ordered by creation time.
func (o *Orchestrator) List() []domain.Job {
	return o.jobs.List()
}

// Wait blocks until the job is terminal or ctx ends, and returns the latest
// snapshot.
func (o *Orchestrator) Wait(ctx context.Context, id string) (domain.Job, error) {
	o.mu.Lock()
	exec, ok := o.running[id]
	o.mu.Unlock()

	if ok {
		select {
		case <-exec.done:
		case <-ctx.Done():
			job, err := o.jobs.Get(id)
			if err != nil {
				return domain.Job{}, err
			}
			return job, ctx.Err()
		}
	}
	return o.jobs.Get(id)
}

// Result returns the result handle of a completed job.
func (o *Orchestrator) Result(id string) (*domain.ResultRef, error) {
	job, err := o.jobs.Get(id)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case domain.JobStatusCompleted:
		return job.Result, nil
	case domain.JobStatusFailed:
		return nil, fmt.Errorf("%w: %w", domain.ErrJobFailed, job.Err)
	default:
		return nil, fmt.Errorf("job %s is %s: %w", id, job.Status, domain.ErrNotReady)
	}
}

// Report loads the stored report of a completed job.
func (o *Orchestrator) Report(ctx context.Context, id string) (*domain.Report, error) {
	ref, err := o.Result(id)
	if err != nil {
		return nil, err
	}
	report, err := o.reports.Get(ctx, ref.ReportID)
	if err != nil {
		return nil, fmt.Errorf("loading report %s: %w", ref.ReportID, err)
	}
	return report, nil
}

// Delete cancels any running execution and removes the job. It does not
// wait for the pipeline to stop; the ID stays reserved until it has.
func (o *Orchestrator) Delete(id string) error {
	if _, err := o.jobs.Get(id); err != nil {
		return err
	}

	o.mu.Lock()
	exec, ok := o.running[id]
	o.mu.Unlock()
	if ok {
		exec.cancel(fmt.Errorf("%w: job deleted", domain.ErrCancelled))
	}

	if err := o.jobs.Delete(id); err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}
	o.publisher.Forget(id)
	o.logger.Info().Str("job_id", id).Msg("job deleted")
	return nil
}

// Active returns the number of jobs with a running pipeline.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.running)
}

// Shutdown stops accepting jobs, cancels every running job and waits for
// their pipelines to reach a terminal state or for ctx to end.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.stopping = true
	for _, exec := range o.running {
		exec.cancel(fmt.Errorf("%w: service shutting down", domain.ErrCancelled))
	}
	active := len(o.running)
	o.mu.Unlock()

	o.logger.Info().Int("active_jobs", active).Msg("shutting down orchestrator")

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs to stop: %w", ctx.Err())
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-analysis-service/internal/domain"
)

// errJobClosed is returned to stages that report progress after their job
// reached a terminal state.
var errJobClosed = errors.New("job already finished")

// runner serializes all event emission for one job. Once closed it emits
// nothing, so late reports from an abandoned stage never reach subscribers.
type runner struct {
	jobID     string
	publisher Publisher
	logger    zerolog.Logger
	now       func() time.Time

	mu     sync.Mutex
	closed bool
}

func (r *runner) emit(ev domain.ProgressEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.publishLocked(ev)
	return true
}

// finish publishes the terminal event and closes the runner.
func (r *runner) finish(ev domain.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.publishLocked(ev)
	r.closed = true
}

func (r *runner) publishLocked(ev domain.ProgressEvent) {
	ev.JobID = r.jobID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now()
	}
	r.publisher.Publish(ev)
}

// reporter returns the progress callback handed to a stage. Fractions are
// clamped and kept monotonic within the stage. It returns the context cause
// once the job is cancelled or timed out.
func (r *runner) reporter(ctx context.Context, spec stageSpec) domain.ProgressFunc {
	var (
		mu   sync.Mutex
		last float64
	)
	return func(p domain.StageProgress) error {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		mu.Lock()
		defer mu.Unlock()

		fraction := clampFraction(p.Fraction)
		if fraction < last {
			fraction = last
		}
		last = fraction

		ok := r.emit(domain.ProgressEvent{
			Stage:      spec.stage,
			Kind:       domain.EventProgress,
			Progress:   bandProgress(spec, fraction),
			Current:    p.Current,
			Total:      p.Total,
			TokensUsed: p.TokensUsed,
			Message:    p.Message,
		})
		if !ok {
			return errJobClosed
		}
		return nil
	}
}

type stageResult struct {
	outcome stageOutcome
	err     error
}

// runStage runs fn on its own goroutine and waits for either its result or
// the end of ctx. A timeout fails immediately and abandons the stage. A
// cancellation waits for the stage to yield, bounded by deadline.
func (r *runner) runStage(ctx context.Context, deadline time.Time, stage domain.Stage, fn func(ctx context.Context) (stageOutcome, error)) (stageOutcome, error) {
	results := make(chan stageResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error().
					Str("stage", string(stage)).
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("stage panicked")
				results <- stageResult{err: fmt.Errorf("panic: %v", rec)}
			}
		}()
		out, err := fn(ctx)
		results <- stageResult{outcome: out, err: err}
	}()

	select {
	case res := <-results:
		if res.err != nil && ctx.Err() != nil {
			return stageOutcome{}, context.Cause(ctx)
		}
		return res.outcome, res.err
	case <-ctx.Done():
	}

	cause := context.Cause(ctx)
	if errors.Is(cause, domain.ErrTimeout) {
		r.logger.Warn().Str("stage", string(stage)).Msg("stage exceeded job deadline, abandoning")
		return stageOutcome{}, cause
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-results:
	case <-timer.C:
		r.logger.Warn().Str("stage", string(stage)).Msg("stage did not yield to cancellation before deadline")
	}
	return stageOutcome{}, cause
}

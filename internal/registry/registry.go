// Package registry holds the authoritative state of every analysis job.
//
// The registry is sharded by job ID and every job entry carries its own lock,
// so reads and writes for one job are linearizable while different jobs never
// contend on a shared lock beyond the brief shard map lookup.
package registry

import (
	"errors"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/helixir/research-analysis-service/internal/domain"
)

// DefaultShards is the number of shards used when none is configured.
const DefaultShards = 32

// Registry maps job IDs to job state.
type Registry struct {
	shards []*shard
	now    func() time.Time
}

type shard struct {
	mu   sync.RWMutex
	jobs map[string]*entry
}

type entry struct {
	mu  sync.Mutex
	job domain.Job
}

// Option configures a Registry.
type Option func(*Registry)

// WithShards sets the number of shards. Values below 1 are ignored.
func WithShards(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.shards = newShards(n)
		}
	}
}

// WithClock overrides the time source used for job timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		shards: newShards(DefaultShards),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{jobs: make(map[string]*entry)}
	}
	return shards
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Create registers a new pending job. It is the only way a job comes into
// existence and fails with a DuplicateJobError if the ID is taken.
func (r *Registry) Create(id, query string, opts domain.JobOptions) (domain.Job, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Job{}, domain.NewValidationError("job_id", "must not be empty")
	}

	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; exists {
		return domain.Job{}, domain.NewDuplicateJobError(id)
	}

	now := r.now()
	e := &entry{job: domain.Job{
		ID:        id,
		Query:     query,
		Options:   opts,
		Status:    domain.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	s.jobs[id] = e
	return e.job.Clone(), nil
}

func (r *Registry) lookup(id string) (*entry, error) {
	s := r.shardFor(id)
	s.mu.RLock()
	e, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.NewNotFoundError("job", id)
	}
	return e, nil
}

// Get returns a snapshot of the job.
func (r *Registry) Get(id string) (domain.Job, error) {
	e, err := r.lookup(id)
	if err != nil {
		return domain.Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone(), nil
}

// ApplyEvent folds one progress event into the stored job and reports
// whether it changed anything. Events implying less progress than already
// stored, and any event for a terminal job, are ignored without error.
func (r *Registry) ApplyEvent(ev domain.ProgressEvent) (bool, error) {
	if ev.Stage == domain.StageFinished && ev.Kind == domain.EventCompleted && ev.Result == nil {
		return false, domain.NewValidationError("result", "completion event carries no result")
	}

	e, err := r.lookup(ev.JobID)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	job := &e.job
	if job.Status.IsTerminal() {
		return false, nil
	}

	progress, hasProgress := ev.ImpliedProgress()
	if hasProgress && progress < job.Progress {
		return false, nil
	}

	at := ev.Timestamp
	if at.IsZero() {
		at = r.now()
	}

	switch {
	case ev.Kind == domain.EventError:
		cause := ev.Err
		if cause == nil {
			cause = errors.New(ev.Message)
		}
		job.Status = domain.JobStatusFailed
		job.Err = cause
		job.Result = nil
		job.CompletedAt = &at
	case ev.Stage == domain.StageFinished && ev.Kind == domain.EventCompleted:
		result := *ev.Result
		job.Status = domain.JobStatusCompleted
		job.Progress = 100
		job.Result = &result
		job.Err = nil
		job.CompletedAt = &at
	default:
		// 100 is reserved for completion.
		job.Status = domain.JobStatusProcessing
		job.Progress = min(progress, 99)
	}

	job.Stage = ev.Stage
	job.Message = ev.Message
	job.UpdatedAt = at
	return true, nil
}

// Delete removes the job.
func (r *Registry) Delete(id string) error {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return domain.NewNotFoundError("job", id)
	}
	delete(s.jobs, id)
	return nil
}

// List returns snapshots of all jobs ordered by creation time, then ID.
func (r *Registry) List() []domain.Job {
	var entries []*entry
	for _, s := range r.shards {
		s.mu.RLock()
		for _, e := range s.jobs {
			entries = append(entries, e)
		}
		s.mu.RUnlock()
	}

	jobs := make([]domain.Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		jobs = append(jobs, e.job.Clone())
		e.mu.Unlock()
	}

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.jobs)
		s.mu.RUnlock()
	}
	return n
}

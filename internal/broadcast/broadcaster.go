// Package broadcast fans progress events out to live subscribers after
// writing them through to the job registry.
//
// Publish always applies the event to the registry first, so a subscriber
// that misses pushed events can recover the full current state with a
// registry read. Delivery to subscribers is best effort: each subscription
// has a bounded buffer and events that do not fit are dropped for that
// subscriber only. Per subscriber, events arrive in publish order.
package broadcast

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/helixir/research-analysis-service/internal/domain"
	"github.com/helixir/research-analysis-service/internal/observability"
)

// DefaultBufferSize is the per-subscriber buffer used when none is configured.
const DefaultBufferSize = 64

// EventApplier folds events into stored job state.
type EventApplier interface {
	ApplyEvent(ev domain.ProgressEvent) (bool, error)
}

// Config holds broadcaster settings.
type Config struct {
	// BufferSize is the number of events buffered per subscriber.
	BufferSize int
}

// Broadcaster is the single publish point for progress events.
type Broadcaster struct {
	applier    EventApplier
	logger     zerolog.Logger
	metrics    *observability.Metrics
	bufferSize int

	mu       sync.Mutex
	nextID   uint64
	byJob    map[string]map[uint64]*Subscription
	all      map[uint64]*Subscription
	// terminal marks finished jobs so late subscribers get a closed stream.
	// Entries live as long as the job stays in the registry and are removed
	// by Forget when the job is deleted.
	terminal map[string]struct{}
}

// New creates a Broadcaster that writes through to applier.
func New(applier EventApplier, cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Broadcaster {
	size := cfg.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Broadcaster{
		applier:    applier,
		logger:     logger.With().Str("component", "broadcaster").Logger(),
		metrics:    metrics,
		bufferSize: size,
		byJob:      make(map[string]map[uint64]*Subscription),
		all:        make(map[uint64]*Subscription),
		terminal:   make(map[string]struct{}),
	}
}

// Subscription is a live stream of events. Events is closed when the job
// reaches a terminal state or the subscription is closed.
type Subscription struct {
	id     uint64
	jobID  string
	ch     chan domain.ProgressEvent
	b      *Broadcaster
	closed bool
}

// Events returns the receive channel of the subscription.
func (s *Subscription) Events() <-chan domain.ProgressEvent {
	return s.ch
}

// JobID returns the subscribed job, or empty string for a firehose subscription.
func (s *Subscription) JobID() string {
	return s.jobID
}

// Close stops delivery and closes the event channel. It is safe to call
// more than once.
func (s *Subscription) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.removeLocked(s)
}

// Subscribe registers a subscriber for one job. Subscribing to a job that
// already finished returns a subscription whose channel is closed.
func (b *Broadcaster) Subscribe(jobID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := b.newSubscriptionLocked(jobID)
	if _, done := b.terminal[jobID]; done {
		sub.closed = true
		close(sub.ch)
		return sub
	}

	subs, ok := b.byJob[jobID]
	if !ok {
		subs = make(map[uint64]*Subscription)
		b.byJob[jobID] = subs
	}
	subs[sub.id] = sub
	return sub
}

// SubscribeAll registers a subscriber that receives events of every job.
// The subscription stays open until closed.
func (b *Broadcaster) SubscribeAll() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := b.newSubscriptionLocked("")
	b.all[sub.id] = sub
	return sub
}

func (b *Broadcaster) newSubscriptionLocked(jobID string) *Subscription {
	b.nextID++
	return &Subscription{
		id:    b.nextID,
		jobID: jobID,
		ch:    make(chan domain.ProgressEvent, b.bufferSize),
		b:     b,
	}
}

// Publish applies ev to the registry and then forwards it to every current
// subscriber of its job and to all firehose subscribers.
func (b *Broadcaster) Publish(ev domain.ProgressEvent) {
	if _, err := b.applier.ApplyEvent(ev); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			b.logger.Debug().Str("job_id", ev.JobID).Msg("event for unknown job, forwarding only")
		} else {
			b.logger.Warn().Err(err).Str("job_id", ev.JobID).Str("stage", string(ev.Stage)).Msg("failed to apply event")
		}
	}
	b.metrics.RecordEventPublished(string(ev.Kind))

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.byJob[ev.JobID] {
		b.deliverLocked(sub, ev)
	}
	for _, sub := range b.all {
		b.deliverLocked(sub, ev)
	}

	if ev.IsTerminal() {
		for _, sub := range b.byJob[ev.JobID] {
			b.removeLocked(sub)
		}
		b.terminal[ev.JobID] = struct{}{}
	}
}

func (b *Broadcaster) deliverLocked(sub *Subscription, ev domain.ProgressEvent) {
	select {
	case sub.ch <- ev:
	default:
		b.metrics.RecordEventDropped()
		b.logger.Warn().
			Str("job_id", ev.JobID).
			Uint64("subscriber", sub.id).
			Msg("subscriber buffer full, dropping event")
	}
}

func (b *Broadcaster) removeLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	if sub.jobID == "" {
		delete(b.all, sub.id)
	} else if subs, ok := b.byJob[sub.jobID]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(b.byJob, sub.jobID)
		}
	}
	close(sub.ch)
}

// Forget drops all bookkeeping for a job and closes its subscriptions.
// Called when a job is deleted.
func (b *Broadcaster) Forget(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.byJob[jobID] {
		b.removeLocked(sub)
	}
	delete(b.terminal, jobID)
}

// SubscriberCount returns the number of open per-job subscriptions for jobID.
func (b *Broadcaster) SubscriberCount(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byJob[jobID])
}

package outbox

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/research-analysis-service/internal/domain"
	"github.com/helixir/research-analysis-service/internal/observability"
)

// MessageWriter is the subset of *kafka.Writer the forwarder needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventSource is a stream of progress events, such as a broadcaster
// firehose subscription.
type EventSource interface {
	Events() <-chan domain.ProgressEvent
	Close()
}

// WriterConfig holds configuration for the events topic writer.
type WriterConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
}

// NewKafkaWriter creates a writer for the events topic. Messages are
// partitioned by key so one job's events keep their order.
func NewKafkaWriter(cfg WriterConfig, logger zerolog.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
		Logger:       observability.NewKafkaLogger(logger),
		ErrorLogger:  observability.NewKafkaErrorLogger(logger),
	}
}

// Forwarder writes every event from a source to Kafka.
type Forwarder struct {
	source  EventSource
	writer  MessageWriter
	emitter *Emitter
	logger  zerolog.Logger
}

// NewForwarder creates a forwarder. A nil emitter uses the default service name.
func NewForwarder(source EventSource, writer MessageWriter, emitter *Emitter, logger zerolog.Logger) *Forwarder {
	if emitter == nil {
		emitter = NewEmitter(EmitterConfig{})
	}
	return &Forwarder{
		source:  source,
		writer:  writer,
		emitter: emitter,
		logger:  logger.With().Str("component", "event_forwarder").Logger(),
	}
}

// Run forwards events until ctx is cancelled or the source closes. Write
// failures are logged and the event is skipped.
func (f *Forwarder) Run(ctx context.Context) error {
	f.logger.Info().Msg("starting event forwarder")
	defer f.source.Close()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info().Msg("event forwarder stopped via context cancellation")
			return ctx.Err()
		case ev, ok := <-f.source.Events():
			if !ok {
				f.logger.Info().Msg("event source closed")
				return nil
			}
			f.forward(ctx, ev)
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, ev domain.ProgressEvent) {
	msg, err := f.emitter.Message(ev)
	if err != nil {
		f.logger.Error().Err(err).
			Str("job_id", ev.JobID).
			Msg("failed to build event message")
		return
	}

	if err := f.writer.WriteMessages(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return
		}
		f.logger.Error().Err(err).
			Str("job_id", ev.JobID).
			Str("event_type", string(msg.Headers[0].Value)).
			Msg("failed to write event to Kafka")
	}
}

// Close closes the underlying writer.
func (f *Forwarder) Close() error {
	f.logger.Info().Msg("closing event forwarder")
	return f.writer.Close()
}

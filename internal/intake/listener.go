package intake

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/research-analysis-service/internal/domain"
	"github.com/helixir/research-analysis-service/internal/observability"
)

// MessageReader is the subset of *kafka.Reader the listener needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Submitter accepts analysis jobs. An empty id asks the submitter to
// generate one.
type Submitter interface {
	SubmitWithID(ctx context.Context, id, query string, opts domain.JobOptions) (string, error)
}

// Config holds configuration for the request listener.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the Kafka topic carrying analysis requests.
	Topic string
	// GroupID is the consumer group ID.
	GroupID string
}

// NewReader creates a consumer-group reader for the request topic.
func NewReader(cfg Config, logger zerolog.Logger) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     3 * time.Second,
		Logger:      observability.NewKafkaLogger(logger),
		ErrorLogger: observability.NewKafkaErrorLogger(logger),
	})
}

// Listener consumes analysis requests from Kafka and submits them as jobs.
type Listener struct {
	reader    MessageReader
	submitter Submitter
	validator *Validator
	logger    zerolog.Logger
}

// NewListener creates a request listener. A nil validator uses NewValidator.
func NewListener(reader MessageReader, submitter Submitter, validator *Validator, logger zerolog.Logger) *Listener {
	if validator == nil {
		validator = NewValidator()
	}
	return &Listener{
		reader:    reader,
		submitter: submitter,
		validator: validator,
		logger:    logger.With().Str("component", "request_listener").Logger(),
	}
}

// Run starts the listener loop. Blocks until context is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting request listener")

	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("request listener stopped via context cancellation")
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				l.logger.Info().Msg("request reader closed")
				return nil
			}
			l.logger.Error().Err(err).Msg("failed to read message from Kafka")
			continue
		}

		l.logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("received analysis request")

		l.handleMessage(ctx, msg)
	}
}

// handleMessage decodes, validates and submits one request. Failures are
// logged and the message is skipped so a poison message cannot stall the
// consumer group.
func (l *Listener) handleMessage(ctx context.Context, msg kafka.Message) {
	var req Request
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		l.logger.Error().Err(err).
			Str("raw_value", string(msg.Value)).
			Msg("failed to unmarshal analysis request")
		return
	}

	if err := l.validator.Struct(&req); err != nil {
		l.logger.Warn().Err(err).
			Str("job_id", req.JobID).
			Msg("rejected invalid analysis request")
		return
	}

	jobID, err := l.submitter.SubmitWithID(ctx, req.JobID, req.Query, req.Options.JobOptions())
	switch {
	case err == nil:
		l.logger.Info().
			Str("job_id", jobID).
			Str("query", req.Query).
			Msg("submitted analysis job from request topic")
	case errors.Is(err, domain.ErrDuplicateJob):
		l.logger.Info().
			Str("job_id", req.JobID).
			Msg("job already exists, treating request as redelivery")
	default:
		l.logger.Error().Err(err).
			Str("job_id", req.JobID).
			Str("kind", domain.ErrorKind(err)).
			Msg("failed to submit analysis job")
	}
}

// Close closes the Kafka reader.
func (l *Listener) Close() error {
	l.logger.Info().Msg("closing request listener")
	return l.reader.Close()
}

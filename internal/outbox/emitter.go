package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/research-analysis-service/internal/broadcast"
	"github.com/helixir/research-analysis-service/internal/domain"
)

const (
	// AggregateTypeAnalysisJob is the aggregate type for analysis job events.
	AggregateTypeAnalysisJob = "analysis_job"

	defaultServiceName = "research-analysis-service"

	headerEventType = "event_type"
	headerSource    = "source"
)

// EmitterConfig configures the Emitter with service context.
type EmitterConfig struct {
	// ServiceName identifies the source service.
	ServiceName string
}

// Metadata carries tracing context for an envelope.
type Metadata struct {
	Source        string `json:"source"`
	CorrelationID string `json:"correlation_id,omitempty"`
	ReportID      string `json:"report_id,omitempty"`
	ReportURI     string `json:"report_uri,omitempty"`
}

// Envelope is the message body written to the events topic.
type Envelope struct {
	EventID       string              `json:"event_id"`
	AggregateID   string              `json:"aggregate_id"`
	AggregateType string              `json:"aggregate_type"`
	EventType     string              `json:"event_type"`
	Payload       broadcast.WireEvent `json:"payload"`
	Metadata      Metadata            `json:"metadata"`
	OccurredAt    time.Time           `json:"occurred_at"`
}

// Emitter creates envelopes enriched with service context.
type Emitter struct {
	config EmitterConfig
	now    func() time.Time
}

// NewEmitter creates a new Emitter with the given service configuration.
func NewEmitter(config EmitterConfig) *Emitter {
	if config.ServiceName == "" {
		config.ServiceName = defaultServiceName
	}
	return &Emitter{config: config, now: time.Now}
}

// Envelope wraps ev. The job ID doubles as the correlation ID so consumers
// can join events with requests they submitted.
func (e *Emitter) Envelope(ev domain.ProgressEvent) (Envelope, error) {
	if ev.JobID == "" {
		return Envelope{}, fmt.Errorf("job_id is required")
	}

	occurred := ev.Timestamp
	if occurred.IsZero() {
		occurred = e.now()
	}

	meta := Metadata{
		Source:        e.config.ServiceName,
		CorrelationID: ev.JobID,
	}
	if ev.Result != nil {
		meta.ReportID = ev.Result.ReportID
		meta.ReportURI = ev.Result.URI
	}

	wire := broadcast.ToWire(ev)
	return Envelope{
		EventID:       uuid.New().String(),
		AggregateID:   ev.JobID,
		AggregateType: AggregateTypeAnalysisJob,
		EventType:     wire.Type,
		Payload:       wire,
		Metadata:      meta,
		OccurredAt:    occurred.UTC(),
	}, nil
}

// Message builds the Kafka message for ev.
func (e *Emitter) Message(ev domain.ProgressEvent) (kafka.Message, error) {
	env, err := e.Envelope(ev)
	if err != nil {
		return kafka.Message{}, err
	}

	value, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal envelope: %w", err)
	}

	return kafka.Message{
		Key:   []byte(env.AggregateID),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(env.EventType)},
			{Key: headerSource, Value: []byte(env.Metadata.Source)},
		},
	}, nil
}

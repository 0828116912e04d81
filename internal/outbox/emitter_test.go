package outbox

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-analysis-service/internal/broadcast"
	"github.com/helixir/research-analysis-service/internal/domain"
)

func TestNewEmitter(t *testing.T) {
	t.Run("uses default service name when empty", func(t *testing.T) {
		emitter := NewEmitter(EmitterConfig{})
		assert.Equal(t, "research-analysis-service", emitter.config.ServiceName)
	})

	t.Run("uses provided service name", func(t *testing.T) {
		emitter := NewEmitter(EmitterConfig{ServiceName: "custom-service"})
		assert.Equal(t, "custom-service", emitter.config.ServiceName)
	})
}

func TestEmitter_Envelope(t *testing.T) {
	emitter := NewEmitter(EmitterConfig{ServiceName: "test-service"})
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	t.Run("progress event", func(t *testing.T) {
		env, err := emitter.Envelope(domain.ProgressEvent{
			JobID:     "job-1",
			Stage:     domain.StageSummarize,
			Kind:      domain.EventProgress,
			Current:   3,
			Total:     10,
			Message:   "summarized 3 of 10",
			Timestamp: ts,
		})
		require.NoError(t, err)

		assert.NotEmpty(t, env.EventID)
		assert.Equal(t, "job-1", env.AggregateID)
		assert.Equal(t, AggregateTypeAnalysisJob, env.AggregateType)
		assert.Equal(t, "summarizing_progress", env.EventType)
		assert.Equal(t, env.EventType, env.Payload.Type)
		require.NotNil(t, env.Payload.Current)
		assert.Equal(t, 3, *env.Payload.Current)
		assert.Equal(t, "test-service", env.Metadata.Source)
		assert.Equal(t, "job-1", env.Metadata.CorrelationID)
		assert.Equal(t, time.UTC, env.OccurredAt.Location())
		assert.True(t, env.OccurredAt.Equal(ts))
	})

	t.Run("completion carries report reference", func(t *testing.T) {
		env, err := emitter.Envelope(domain.ProgressEvent{
			JobID:     "job-1",
			Stage:     domain.StageFinished,
			Kind:      domain.EventCompleted,
			Timestamp: ts,
			Result:    &domain.ResultRef{ReportID: "rep-1", URI: "s3://bucket/rep-1.json"},
		})
		require.NoError(t, err)
		assert.Equal(t, broadcast.TypeAnalysisComplete, env.EventType)
		assert.Equal(t, "rep-1", env.Metadata.ReportID)
		assert.Equal(t, "s3://bucket/rep-1.json", env.Metadata.ReportURI)
	})

	t.Run("zero timestamp uses clock", func(t *testing.T) {
		fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		e := NewEmitter(EmitterConfig{})
		e.now = func() time.Time { return fixed }

		env, err := e.Envelope(domain.ProgressEvent{JobID: "job", Stage: domain.StageStarted, Kind: domain.EventStarted})
		require.NoError(t, err)
		assert.Equal(t, fixed, env.OccurredAt)
	})

	t.Run("unique event ids", func(t *testing.T) {
		ev := domain.ProgressEvent{JobID: "job", Stage: domain.StageStarted, Kind: domain.EventStarted, Timestamp: ts}
		a, err := emitter.Envelope(ev)
		require.NoError(t, err)
		b, err := emitter.Envelope(ev)
		require.NoError(t, err)
		assert.NotEqual(t, a.EventID, b.EventID)
	})

	t.Run("missing job id", func(t *testing.T) {
		_, err := emitter.Envelope(domain.ProgressEvent{Stage: domain.StageStarted})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "job_id is required")
	})
}

func TestEmitter_Message(t *testing.T) {
	emitter := NewEmitter(EmitterConfig{})

	msg, err := emitter.Message(domain.ProgressEvent{
		JobID:     "job-7",
		Kind:      domain.EventError,
		Stage:     domain.StageRetrieve,
		Message:   "all sources failed",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)

	assert.Equal(t, []byte("job-7"), msg.Key)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, headerEventType, msg.Headers[0].Key)
	assert.Equal(t, broadcast.TypeAnalysisError, string(msg.Headers[0].Value))
	assert.Equal(t, "research-analysis-service", string(msg.Headers[1].Value))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "job-7", decoded["aggregate_id"])
	payload, ok := decoded["payload"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "analysis_error", payload["type"])
	assert.Equal(t, "all sources failed", payload["message"])
	assert.NotContains(t, payload, "progress_percentage")
}

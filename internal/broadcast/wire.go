package broadcast

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/helixir/research-analysis-service/internal/domain"
)

// Wire event types that do not belong to a single stage.
const (
	TypeAnalysisStarted  = "analysis_started"
	TypeAnalysisComplete = "analysis_complete"
	TypeAnalysisError    = "analysis_error"
)

// stageTokens maps each pipeline stage to its wire prefix.
var stageTokens = map[domain.Stage]string{
	domain.StageRetrieve:             "retrieval",
	domain.StageDeduplicate:          "deduplication",
	domain.StageSummarize:            "summarizing",
	domain.StageSynthesize:           "synthesis",
	domain.StageBuildCitationNetwork: "citations",
}

var kindSuffixes = map[domain.EventKind]string{
	domain.EventStarted:   "started",
	domain.EventProgress:  "progress",
	domain.EventCompleted: "complete",
}

// WireEvent is the client-visible form of a progress event. Optional fields
// are omitted when absent. New types may appear over time; consumers must
// ignore types they do not recognise.
type WireEvent struct {
	Type               string    `json:"type"`
	Message            string    `json:"message"`
	Timestamp          time.Time `json:"timestamp"`
	ProgressPercentage *int      `json:"progress_percentage,omitempty"`
	Current            *int      `json:"current,omitempty"`
	Total              *int      `json:"total,omitempty"`
	TokensUsed         *int      `json:"tokens_used,omitempty"`
}

// WireType returns the wire type of ev.
func WireType(ev domain.ProgressEvent) string {
	switch {
	case ev.Kind == domain.EventError:
		return TypeAnalysisError
	case ev.Stage == domain.StageStarted:
		return TypeAnalysisStarted
	case ev.Stage == domain.StageFinished && ev.Kind == domain.EventCompleted:
		return TypeAnalysisComplete
	}
	token, ok := stageTokens[ev.Stage]
	if !ok {
		token = string(ev.Stage)
	}
	return token + "_" + kindSuffixes[ev.Kind]
}

// ToWire converts ev into its wire form.
func ToWire(ev domain.ProgressEvent) WireEvent {
	w := WireEvent{
		Type:      WireType(ev),
		Message:   ev.Message,
		Timestamp: ev.Timestamp,
	}
	if ev.Kind == domain.EventError {
		if w.Message == "" && ev.Err != nil {
			w.Message = ev.Err.Error()
		}
		return w
	}
	if p, ok := ev.ImpliedProgress(); ok {
		w.ProgressPercentage = &p
	}
	if ev.Total > 0 {
		current, total := ev.Current, ev.Total
		w.Current = &current
		w.Total = &total
	}
	if ev.TokensUsed > 0 {
		tokens := ev.TokensUsed
		w.TokensUsed = &tokens
	}
	return w
}

// MarshalWire encodes ev as a JSON wire event.
func MarshalWire(ev domain.ProgressEvent) ([]byte, error) {
	data, err := json.Marshal(ToWire(ev))
	if err != nil {
		return nil, fmt.Errorf("marshaling wire event: %w", err)
	}
	return data, nil
}

// ParseWire decodes a JSON wire event. Unknown types decode without error.
func ParseWire(data []byte) (WireEvent, error) {
	var w WireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return WireEvent{}, fmt.Errorf("parsing wire event: %w", err)
	}
	return w, nil
}

// Classify maps a wire type back to its stage and kind. ok is false for
// types this version does not know.
func (w WireEvent) Classify() (stage domain.Stage, kind domain.EventKind, ok bool) {
	switch w.Type {
	case TypeAnalysisStarted:
		return domain.StageStarted, domain.EventStarted, true
	case TypeAnalysisComplete:
		return domain.StageFinished, domain.EventCompleted, true
	case TypeAnalysisError:
		return "", domain.EventError, true
	}

	idx := strings.LastIndex(w.Type, "_")
	if idx <= 0 {
		return "", "", false
	}
	prefix, suffix := w.Type[:idx], w.Type[idx+1:]

	for st, token := range stageTokens {
		if token != prefix {
			continue
		}
		for k, s := range kindSuffixes {
			if s == suffix {
				return st, k, true
			}
		}
	}
	return "", "", false
}

// IsTerminal reports whether the wire event ends the job.
func (w WireEvent) IsTerminal() bool {
	return w.Type == TypeAnalysisComplete || w.Type == TypeAnalysisError
}

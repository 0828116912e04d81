package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helixir/research-analysis-service/internal/broadcast"
	"github.com/helixir/research-analysis-service/internal/domain"
)

const (
	// sseKeepAliveInterval is how often a comment line is written to keep
	// idle proxies from closing the stream.
	sseKeepAliveInterval = 15 * time.Second
	// sseMaxDuration is the maximum time an SSE stream may remain open.
	sseMaxDuration = 4 * time.Hour
	// sseStateEvent carries the folded job state that opens every stream.
	sseStateEvent = "job_state"
)

// streamEvents handles GET /analyses/{jobID}/events (SSE).
//
// The stream opens with the current job state, then relays live wire
// events. If the live stream ends without a delivered terminal event, the
// registry is re-read so the client always sees how the job ended.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	// Subscribe before reading state so nothing published in between is missed.
	sub := s.events.Subscribe(jobID)
	defer sub.Close()

	job, err := s.jobs.Get(jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, domain.ErrorKindInternal, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sendSSEEvent(w, flusher, sseStateEvent, domainJobToResponse(job))
	if job.IsTerminal() {
		sendWireEvent(w, flusher, terminalEvent(job))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), sseMaxDuration)
	defer cancel()

	ticker := time.NewTicker(sseKeepAliveInterval)
	defer ticker.Stop()

	lastProgress := job.Progress
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()

		case ev, open := <-sub.Events():
			if !open {
				s.finishStream(w, flusher, jobID)
				return
			}
			if ev.IsTerminal() {
				sendWireEvent(w, flusher, ev)
				return
			}
			// Late events from a stage the registry already moved past.
			if ev.Progress < lastProgress {
				continue
			}
			lastProgress = ev.Progress
			sendWireEvent(w, flusher, ev)
		}
	}
}

// finishStream sends the terminal event from registry state after the live
// subscription closed, covering a terminal event dropped from a full buffer.
func (s *Server) finishStream(w http.ResponseWriter, flusher http.Flusher, jobID string) {
	job, err := s.jobs.Get(jobID)
	if err != nil {
		s.logger.Debug().Err(err).Str("job_id", jobID).Msg("job gone before stream ended")
		return
	}
	if job.IsTerminal() {
		sendWireEvent(w, flusher, terminalEvent(job))
	}
}

// terminalEvent rebuilds the terminal progress event of a finished job.
func terminalEvent(job domain.Job) domain.ProgressEvent {
	ev := domain.ProgressEvent{
		JobID:     job.ID,
		Stage:     domain.StageFinished,
		Kind:      domain.EventCompleted,
		Progress:  100,
		Message:   job.Message,
		Timestamp: job.UpdatedAt,
		Result:    job.Result,
	}
	if job.Status == domain.JobStatusFailed {
		ev.Stage = job.Stage
		ev.Kind = domain.EventError
		ev.Progress = job.Progress
		ev.Err = job.Err
	}
	return ev
}

// sendWireEvent writes ev in its client wire form.
func sendWireEvent(w http.ResponseWriter, flusher http.Flusher, ev domain.ProgressEvent) {
	wire := broadcast.ToWire(ev)
	sendSSEEvent(w, flusher, wire.Type, wire)
}

// sendSSEEvent writes a single SSE event to the response writer.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	flusher.Flush()
}

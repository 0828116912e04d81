package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-analysis-service/internal/broadcast"
	"github.com/helixir/research-analysis-service/internal/domain"
	"github.com/helixir/research-analysis-service/internal/registry"
)

type parsedSSEEvent struct {
	eventType string
	data      string
}

// parseSSEEvents splits an SSE body into events, skipping comment lines.
func parseSSEEvents(t *testing.T, body string) []parsedSSEEvent {
	t.Helper()
	var events []parsedSSEEvent
	var current parsedSSEEvent

	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			// Empty line = event boundary.
			if current.eventType != "" || current.data != "" {
				events = append(events, current)
				current = parsedSSEEvent{}
			}
			continue
		}

		if strings.HasPrefix(line, "event: ") {
			current.eventType = strings.TrimPrefix(line, "event: ")
		} else if strings.HasPrefix(line, "data: ") {
			current.data = strings.TrimPrefix(line, "data: ")
		}
	}

	if current.eventType != "" || current.data != "" {
		events = append(events, current)
	}

	return events
}

func eventTypes(events []parsedSSEEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.eventType
	}
	return out
}

// streamFixture wires a real registry and broadcaster behind the server.
type streamFixture struct {
	reg *registry.Registry
	b   *broadcast.Broadcaster
	srv *Server
}

func newStreamFixture(t *testing.T, bufferSize int, jobs *mockJobService) *streamFixture {
	t.Helper()
	reg := registry.New()
	b := broadcast.New(reg, broadcast.Config{BufferSize: bufferSize}, zerolog.Nop(), nil)
	if jobs.getFn == nil {
		jobs.getFn = reg.Get
	}
	srv := NewServer(Config{}, jobs, b, zerolog.Nop())
	return &streamFixture{reg: reg, b: b, srv: srv}
}

func (f *streamFixture) publish(jobID string, stage domain.Stage, kind domain.EventKind, progress int) {
	ev := domain.ProgressEvent{JobID: jobID, Stage: stage, Kind: kind, Progress: progress, Timestamp: time.Now()}
	if stage == domain.StageFinished && kind == domain.EventCompleted {
		ev.Result = &domain.ResultRef{ReportID: "report-" + jobID, Documents: 3}
	}
	f.b.Publish(ev)
}

func TestStreamEvents_TerminalJob(t *testing.T) {
	f := newStreamFixture(t, 8, &mockJobService{})
	if _, err := f.reg.Create("job-1", "q", domain.JobOptions{}); err != nil {
		t.Fatal(err)
	}
	f.publish("job-1", domain.StageStarted, domain.EventStarted, 0)
	f.publish("job-1", domain.StageFinished, domain.EventCompleted, 100)

	rr := serveHTTP(f.srv, httptest.NewRequest(http.MethodGet, buildPath("/job-1/events"), nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %q", ct)
	}

	events := parseSSEEvents(t, rr.Body.String())
	got := eventTypes(events)
	if len(got) != 2 || got[0] != sseStateEvent || got[1] != broadcast.TypeAnalysisComplete {
		t.Fatalf("unexpected events: %v", got)
	}

	var state jobResponse
	if err := json.Unmarshal([]byte(events[0].data), &state); err != nil {
		t.Fatalf("failed to parse state: %v", err)
	}
	if state.Status != "completed" || state.Progress != 100 || state.Result == nil {
		t.Errorf("unexpected state: %+v", state)
	}

	wire, err := broadcast.ParseWire([]byte(events[1].data))
	if err != nil {
		t.Fatal(err)
	}
	if wire.ProgressPercentage == nil || *wire.ProgressPercentage != 100 {
		t.Errorf("expected progress 100 on completion, got %v", wire.ProgressPercentage)
	}
}

func TestStreamEvents_FailedJob(t *testing.T) {
	f := newStreamFixture(t, 8, &mockJobService{})
	if _, err := f.reg.Create("job-1", "q", domain.JobOptions{}); err != nil {
		t.Fatal(err)
	}
	f.b.Publish(domain.ProgressEvent{
		JobID: "job-1", Stage: domain.StageRetrieve, Kind: domain.EventError,
		Err: domain.NewStageError(domain.StageRetrieve, domain.ErrAllSourcesFailed), Timestamp: time.Now(),
	})

	rr := serveHTTP(f.srv, httptest.NewRequest(http.MethodGet, buildPath("/job-1/events"), nil))
	events := parseSSEEvents(t, rr.Body.String())
	got := eventTypes(events)
	if len(got) != 2 || got[1] != broadcast.TypeAnalysisError {
		t.Fatalf("unexpected events: %v", got)
	}
	if !strings.Contains(events[1].data, "all sources failed") {
		t.Errorf("expected error message in payload, got %s", events[1].data)
	}
}

func TestStreamEvents_NotFound(t *testing.T) {
	f := newStreamFixture(t, 8, &mockJobService{})

	rr := serveHTTP(f.srv, httptest.NewRequest(http.MethodGet, buildPath("/missing/events"), nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	if n := f.b.SubscriberCount("missing"); n != 0 {
		t.Errorf("expected subscription to be released, got %d", n)
	}
}

func TestStreamEvents_LiveUntilTerminal(t *testing.T) {
	f := newStreamFixture(t, 64, &mockJobService{})
	if _, err := f.reg.Create("job-1", "q", domain.JobOptions{}); err != nil {
		t.Fatal(err)
	}
	f.publish("job-1", domain.StageStarted, domain.EventStarted, 0)

	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+buildPath("/job-1/events"), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	// The state event is written after the subscription exists.
	for {
		line, readErr := reader.ReadString('\n')
		if readErr != nil {
			t.Fatalf("reading state event: %v", readErr)
		}
		if line == "\n" {
			break
		}
	}

	f.publish("job-1", domain.StageRetrieve, domain.EventStarted, 0)
	f.publish("job-1", domain.StageRetrieve, domain.EventCompleted, 20)
	f.publish("job-1", domain.StageFinished, domain.EventCompleted, 100)

	var rest strings.Builder
	buf := make([]byte, 4096)
	for {
		n, readErr := reader.Read(buf)
		rest.Write(buf[:n])
		if readErr != nil {
			break
		}
	}

	got := eventTypes(parseSSEEvents(t, rest.String()))
	want := []string{"retrieval_started", "retrieval_complete", broadcast.TypeAnalysisComplete}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestStreamEvents_ReconcilesDroppedTerminal(t *testing.T) {
	jobs := &mockJobService{}
	f := newStreamFixture(t, 1, jobs)
	if _, err := f.reg.Create("job-1", "q", domain.JobOptions{}); err != nil {
		t.Fatal(err)
	}
	f.publish("job-1", domain.StageStarted, domain.EventStarted, 0)
	stale, err := f.reg.Get("job-1")
	if err != nil {
		t.Fatal(err)
	}

	// The first read returns the pre-publish snapshot; by then the buffer of
	// one has overflowed and the terminal event was dropped.
	var once sync.Once
	jobs.getFn = func(id string) (domain.Job, error) {
		first := false
		once.Do(func() {
			first = true
			f.publish(id, domain.StageRetrieve, domain.EventCompleted, 20)
			f.publish(id, domain.StageFinished, domain.EventCompleted, 100)
		})
		if first {
			return stale, nil
		}
		return f.reg.Get(id)
	}

	rr := serveHTTP(f.srv, httptest.NewRequest(http.MethodGet, buildPath("/job-1/events"), nil))

	got := eventTypes(parseSSEEvents(t, rr.Body.String()))
	want := []string{sseStateEvent, "retrieval_complete", broadcast.TypeAnalysisComplete}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestTerminalEvent(t *testing.T) {
	done := time.Now()
	completed := domain.Job{
		ID: "job", Status: domain.JobStatusCompleted, Progress: 100, Stage: domain.StageFinished,
		UpdatedAt: done, Result: &domain.ResultRef{ReportID: "r"},
	}
	ev := terminalEvent(completed)
	if !ev.IsTerminal() || ev.Kind != domain.EventCompleted || ev.Result == nil {
		t.Errorf("unexpected completion event: %+v", ev)
	}

	failed := domain.Job{
		ID: "job", Status: domain.JobStatusFailed, Progress: 35, Stage: domain.StageDeduplicate,
		UpdatedAt: done, Err: domain.ErrCancelled,
	}
	ev = terminalEvent(failed)
	if !ev.IsTerminal() || ev.Kind != domain.EventError || ev.Stage != domain.StageDeduplicate {
		t.Errorf("unexpected error event: %+v", ev)
	}
}

func TestSendSSEEvent(t *testing.T) {
	rr := httptest.NewRecorder()

	sendSSEEvent(rr, rr, "summarizing_progress", map[string]int{"current": 3})

	body := rr.Body.String()
	if body != "event: summarizing_progress\ndata: {\"current\":3}\n\n" {
		t.Errorf("unexpected SSE framing: %q", body)
	}
	if !rr.Flushed {
		t.Error("expected the event to be flushed")
	}
}

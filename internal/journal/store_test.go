package journal

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestProjectCreateAndConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, "demo", "a project")
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	if p.ID == "" || p.Name != "demo" {
		t.Errorf("project = %+v", p)
	}

	if _, err := s.CreateProject(ctx, "demo", ""); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate project err = %v, want ErrConflict", err)
	}

	got, err := s.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if got.Description != "a project" {
		t.Errorf("Description = %q", got.Description)
	}
}

func TestAgentConflictScopedToProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p1, _ := s.CreateProject(ctx, "p1", "")
	p2, _ := s.CreateProject(ctx, "p2", "")

	if _, err := s.CreateAgent(ctx, p1.ID, "fs", "npx server-fs /tmp", nil); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	if _, err := s.CreateAgent(ctx, p1.ID, "fs", "other", nil); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate agent err = %v, want ErrConflict", err)
	}
	// Same name in a different project is fine.
	if _, err := s.CreateAgent(ctx, p2.ID, "fs", "npx server-fs /tmp", nil); err != nil {
		t.Errorf("agent in other project failed: %v", err)
	}
}

func TestRunLifecycleMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "echo hi", nil, "", RunKindProxy)
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if run.Status != RunPending {
		t.Fatalf("new run status = %s, want pending", run.Status)
	}
	if run.StartedAt != nil || run.EndedAt != nil {
		t.Error("pending run should have null started_at and ended_at")
	}

	run, err = s.UpdateRunStatus(ctx, run.ID, RunRunning, nil)
	if err != nil {
		t.Fatalf("to running: %v", err)
	}
	if run.StartedAt == nil {
		t.Error("running run should have started_at")
	}

	// Backwards transition is rejected.
	if _, err := s.UpdateRunStatus(ctx, run.ID, RunPending, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("running->pending err = %v, want ErrInvalidTransition", err)
	}

	run, err = s.UpdateRunStatus(ctx, run.ID, RunCompleted, &Counters{TotalCalls: 3})
	if err != nil {
		t.Fatalf("to completed: %v", err)
	}
	if run.EndedAt == nil || run.StartedAt == nil {
		t.Error("completed run needs both timestamps")
	}
	if run.EndedAt.Before(*run.StartedAt) {
		t.Error("ended_at before started_at")
	}
	if run.Counters.TotalCalls != 3 {
		t.Errorf("TotalCalls = %d, want 3", run.Counters.TotalCalls)
	}

	// Terminal states are final in both directions.
	if _, err := s.UpdateRunStatus(ctx, run.ID, RunFailed, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("completed->failed err = %v, want ErrInvalidTransition", err)
	}
}

func TestRunChaosSnapshotIsCopied(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	blob := json.RawMessage(`{"seed":1}`)
	run, err := s.CreateRun(ctx, "echo", blob, "", RunKindProxy)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.ChaosConfig) != `{"seed":1}` {
		t.Errorf("ChaosConfig = %s", got.ChaosConfig)
	}
}

func TestCleanupStaleRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, _ := s.CreateProject(ctx, "p", "")
	agent, _ := s.CreateAgent(ctx, p.ID, "a", "echo", nil)
	other, _ := s.CreateAgent(ctx, p.ID, "b", "echo", nil)

	stale, _ := s.CreateRun(ctx, "echo", nil, agent.ID, RunKindProxy)
	s.UpdateRunStatus(ctx, stale.ID, RunRunning, nil)
	for i := 0; i < 2; i++ {
		if _, err := s.InsertEvent(ctx, &Event{RunID: stale.ID, Kind: EventToolCall, ToolName: "t"}); err != nil {
			t.Fatal(err)
		}
	}

	// A running run for a different agent must not be disturbed.
	unrelated, _ := s.CreateRun(ctx, "echo", nil, other.ID, RunKindProxy)
	s.UpdateRunStatus(ctx, unrelated.ID, RunRunning, nil)
	// Nor a running run of a different kind for the same agent.
	stress, _ := s.CreateRun(ctx, "echo", nil, agent.ID, RunKindStress)
	s.UpdateRunStatus(ctx, stress.ID, RunRunning, nil)

	if _, err := s.CreateRun(ctx, "echo", nil, agent.ID, RunKindProxy); err != nil {
		t.Fatalf("CreateRun with stale predecessor failed: %v", err)
	}

	got, _ := s.GetRun(ctx, stale.ID)
	if got.Status != RunCompleted {
		t.Errorf("stale run status = %s, want completed", got.Status)
	}
	if got.EndedAt == nil {
		t.Error("stale run should have ended_at set")
	}
	if got.Counters.TotalCalls != 2 {
		t.Errorf("stale run TotalCalls = %d, want 2 (recomputed)", got.Counters.TotalCalls)
	}

	if got, _ := s.GetRun(ctx, unrelated.ID); got.Status != RunRunning {
		t.Errorf("unrelated agent's run status = %s, want running", got.Status)
	}
	if got, _ := s.GetRun(ctx, stress.ID); got.Status != RunRunning {
		t.Errorf("other-kind run status = %s, want running", got.Status)
	}
}

func TestEventIDsStrictlyIncreasing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, _ := s.CreateRun(ctx, "echo", nil, "", RunKindProxy)
	var last int64
	for i := 0; i < 20; i++ {
		id, err := s.InsertEvent(ctx, &Event{RunID: run.ID, Kind: EventRPCRequest, Method: "tools/list"})
		if err != nil {
			t.Fatalf("InsertEvent %d: %v", i, err)
		}
		if id <= last {
			t.Fatalf("event id %d not greater than previous %d", id, last)
		}
		last = id
	}

	events, err := s.GetEvents(ctx, run.ID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 20 {
		t.Fatalf("got %d events, want 20", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].ID <= events[i-1].ID {
			t.Fatal("events not ordered by id ascending")
		}
	}
}

func TestEventPayloadsStayOpaque(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, _ := s.CreateRun(ctx, "echo", nil, "", RunKindProxy)
	latency := int64(42)
	_, err := s.InsertEvent(ctx, &Event{
		RunID:     run.ID,
		Kind:      EventRPCResponse,
		Method:    "tools/call",
		ToolName:  "read_file",
		Params:    json.RawMessage(`{"name":"read_file"}`),
		Result:    json.RawMessage(`{"ok":true}`),
		Chaos:     json.RawMessage(`{"seed":1,"delayMs":500}`),
		LatencyMs: &latency,
	})
	if err != nil {
		t.Fatal(err)
	}

	events, _ := s.GetEvents(ctx, run.ID, 0, 0)
	ev := events[0]
	if string(ev.Params) != `{"name":"read_file"}` {
		t.Errorf("Params = %s", ev.Params)
	}
	if string(ev.Chaos) != `{"seed":1,"delayMs":500}` {
		t.Errorf("Chaos = %s", ev.Chaos)
	}
	if ev.LatencyMs == nil || *ev.LatencyMs != 42 {
		t.Errorf("LatencyMs = %v, want 42", ev.LatencyMs)
	}
	if ev.Error != nil {
		t.Errorf("Error = %s, want nil", ev.Error)
	}
}

func TestRecomputeCountersStress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, _ := s.CreateRun(ctx, "echo", nil, "", RunKindStress)
	outcomes := []string{"pass", "pass", "graceful_fail", "crash_or_hang"}
	for _, o := range outcomes {
		payload, _ := json.Marshal(map[string]string{"outcome": o})
		if _, err := s.InsertEvent(ctx, &Event{
			RunID: run.ID, Kind: EventStressMutation, ToolName: "t", Result: payload,
		}); err != nil {
			t.Fatal(err)
		}
	}

	c, err := s.RecomputeCounters(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if c.StressPassed != 2 || c.StressGraceful != 1 || c.StressCrashed != 1 {
		t.Errorf("counters = %+v", c)
	}
	if c.StressPassed+c.StressGraceful+c.StressCrashed != len(outcomes) {
		t.Error("stress counters do not sum to mutation event count")
	}
	// round(100 * 3/4) = 75
	if c.StressScore != 75 {
		t.Errorf("StressScore = %d, want 75", c.StressScore)
	}
}

func TestCascadeDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, _ := s.CreateProject(ctx, "p", "")
	agent, _ := s.CreateAgent(ctx, p.ID, "a", "echo", nil)
	r1, _ := s.CreateRun(ctx, "echo", nil, agent.ID, RunKindProxy)
	r2, _ := s.CreateRun(ctx, "echo", nil, agent.ID, RunKindStress)
	for i := 0; i < 100; i++ {
		runID := r1.ID
		if i%2 == 1 {
			runID = r2.ID
		}
		if _, err := s.InsertEvent(ctx, &Event{RunID: runID, Kind: EventRPCRequest}); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProject failed: %v", err)
	}

	if _, err := s.GetAgent(ctx, agent.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("agent survives cascade: %v", err)
	}
	for _, id := range []string{r1.ID, r2.ID} {
		if _, err := s.GetRun(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("run %s survives cascade: %v", id, err)
		}
		events, err := s.GetEvents(ctx, id, 0, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 0 {
			t.Errorf("run %s has %d orphan events", id, len(events))
		}
	}
}

func TestListRunsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, _ := s.CreateProject(ctx, "p", "")
	agent, _ := s.CreateAgent(ctx, p.ID, "a", "echo", nil)
	s.CreateRun(ctx, "npx server-fs", nil, agent.ID, RunKindProxy)
	s.CreateRun(ctx, "python tool.py", nil, agent.ID, RunKindStress)
	s.CreateRun(ctx, "npx server-git", nil, "", RunKindProxy)

	runs, err := s.ListRuns(ctx, RunFilter{Kind: RunKindProxy})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("kind filter: got %d, want 2", len(runs))
	}

	runs, _ = s.ListRuns(ctx, RunFilter{TargetSub: "server-"})
	if len(runs) != 2 {
		t.Errorf("target filter: got %d, want 2", len(runs))
	}

	runs, _ = s.ListRuns(ctx, RunFilter{AgentID: agent.ID, Kind: RunKindStress})
	if len(runs) != 1 {
		t.Errorf("agent+kind filter: got %d, want 1", len(runs))
	}

	runs, _ = s.ListRuns(ctx, RunFilter{Status: RunPending, Limit: 2})
	if len(runs) != 2 {
		t.Errorf("limit: got %d, want 2", len(runs))
	}
}

type recordingObserver struct {
	events []int64
	runs   []string
}

func (o *recordingObserver) EventInserted(e *Event) { o.events = append(o.events, e.ID) }
func (o *recordingObserver) RunChanged(r *Run)      { o.runs = append(o.runs, string(r.Status)) }

func TestObserverFiresAfterCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	obs := &recordingObserver{}
	s.SetObserver(obs)

	run, _ := s.CreateRun(ctx, "echo", nil, "", RunKindProxy)
	s.UpdateRunStatus(ctx, run.ID, RunRunning, nil)
	id, _ := s.InsertEvent(ctx, &Event{RunID: run.ID, Kind: EventSessionStart})

	if len(obs.runs) != 2 {
		t.Errorf("run notifications = %v, want create+running", obs.runs)
	}
	if len(obs.events) != 1 || obs.events[0] != id {
		t.Errorf("event notifications = %v, want [%d]", obs.events, id)
	}
}

func TestExportTraceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, _ := s.CreateRun(ctx, "echo", nil, "", RunKindProxy)
	s.InsertEvent(ctx, &Event{RunID: run.ID, Kind: EventSessionStart})
	s.InsertEvent(ctx, &Event{RunID: run.ID, Kind: EventToolCall, ToolName: "read_file",
		Params: json.RawMessage(`{"path":"/a"}`)})

	path := filepath.Join(t.TempDir(), "trace.json")
	if err := s.ExportTraceFile(ctx, path, run.ID); err != nil {
		t.Fatalf("ExportTraceFile failed: %v", err)
	}

	trace, err := ReadTraceFile(path)
	if err != nil {
		t.Fatalf("ReadTraceFile failed: %v", err)
	}
	if trace.Run.ID != run.ID {
		t.Errorf("trace run id = %s, want %s", trace.Run.ID, run.ID)
	}
	if len(trace.Events) != 2 {
		t.Errorf("trace has %d events, want 2", len(trace.Events))
	}
	if trace.Events[1].ToolName != "read_file" {
		t.Errorf("second event tool = %q", trace.Events[1].ToolName)
	}
}

func TestLatestStressRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, _ := s.CreateProject(ctx, "p", "")
	agent, _ := s.CreateAgent(ctx, p.ID, "a", "echo", nil)

	if _, err := s.LatestStressRun(ctx, agent.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("no stress runs err = %v, want ErrNotFound", err)
	}

	run, _ := s.CreateRun(ctx, "echo", nil, agent.ID, RunKindStress)
	s.UpdateRunStatus(ctx, run.ID, RunRunning, nil)
	s.UpdateRunStatus(ctx, run.ID, RunCompleted, &Counters{StressPassed: 4, StressScore: 100})

	got, err := s.LatestStressRun(ctx, agent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != run.ID || got.Counters.StressScore != 100 {
		t.Errorf("latest stress run = %+v", got)
	}
}

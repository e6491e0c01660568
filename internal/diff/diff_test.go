package diff

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/mcptap/internal/journal"
)

func lat(v int64) *int64 { return &v }

func TestCompareIdenticalRunsIsEmpty(t *testing.T) {
	calls := []Call{
		{Tool: "read_file", Args: json.RawMessage(`{"path":"/a"}`), LatencyMs: lat(50)},
		{Tool: "write_file", Args: json.RawMessage(`{"path":"/b","content":"x"}`), LatencyMs: lat(80)},
	}
	report := Compare(calls, calls)

	if len(report.Added) != 0 || len(report.Removed) != 0 || len(report.Changed) != 0 || len(report.LatencyChanges) != 0 {
		t.Errorf("self-diff not empty: %+v", report)
	}
	if report.BaselineCalls != 2 || report.CurrentCalls != 2 {
		t.Errorf("counts = %d/%d, want 2/2", report.BaselineCalls, report.CurrentCalls)
	}
}

func TestCompareEmptyInputs(t *testing.T) {
	report := Compare(nil, nil)
	if report.Added == nil || report.Removed == nil || report.Changed == nil || report.LatencyChanges == nil {
		t.Error("empty inputs must yield empty (non-nil) lists")
	}
	if report.BaselineCalls != 0 || report.CurrentCalls != 0 {
		t.Error("counts should be zero")
	}
}

func TestArgumentChangeAndLatencyRegression(t *testing.T) {
	baseline := []Call{{
		Tool:      "write_file",
		Args:      json.RawMessage(`{"path":"/a","content":"x"}`),
		LatencyMs: lat(50),
	}}
	current := []Call{{
		Tool:      "write_file",
		Args:      json.RawMessage(`{"path":"/b","content":"x"}`),
		LatencyMs: lat(120),
	}}

	report := Compare(baseline, current)

	if len(report.Added) != 0 || len(report.Removed) != 0 {
		t.Errorf("added/removed = %v/%v, want empty", report.Added, report.Removed)
	}
	if len(report.Changed) != 1 || report.Changed[0].Tool != "write_file" {
		t.Fatalf("changed = %+v, want one write_file entry", report.Changed)
	}
	if len(report.LatencyChanges) != 1 {
		t.Fatalf("latency_changes = %+v, want one entry", report.LatencyChanges)
	}
	lc := report.LatencyChanges[0]
	if lc.Tool != "write_file" || lc.BaselineMs != 50 || lc.CurrentMs != 120 {
		t.Errorf("latency change = %+v", lc)
	}
	if lc.ChangePercent != 140.0 {
		t.Errorf("ChangePercent = %v, want +140.0", lc.ChangePercent)
	}
}

func TestAddedAndRemovedTools(t *testing.T) {
	baseline := []Call{
		{Tool: "old_tool", Args: json.RawMessage(`{}`)},
		{Tool: "old_tool", Args: json.RawMessage(`{"n":1}`)},
	}
	current := []Call{
		{Tool: "new_tool", Args: json.RawMessage(`{}`)},
	}

	report := Compare(baseline, current)
	if len(report.Removed) != 2 {
		t.Errorf("removed = %+v, want 2 old_tool entries", report.Removed)
	}
	if len(report.Added) != 1 || report.Added[0].Tool != "new_tool" {
		t.Errorf("added = %+v", report.Added)
	}
}

func TestSurplusCallsOnOneSide(t *testing.T) {
	baseline := []Call{
		{Tool: "t", Args: json.RawMessage(`{"i":1}`)},
	}
	current := []Call{
		{Tool: "t", Args: json.RawMessage(`{"i":1}`)},
		{Tool: "t", Args: json.RawMessage(`{"i":2}`)},
	}

	report := Compare(baseline, current)
	if len(report.Changed) != 0 {
		t.Errorf("changed = %+v, want empty (first pair identical)", report.Changed)
	}
	if len(report.Added) != 1 || string(report.Added[0].Args) != `{"i":2}` {
		t.Errorf("added = %+v, want surplus current call", report.Added)
	}
}

func TestKeyOrderDoesNotCount(t *testing.T) {
	baseline := []Call{{Tool: "t", Args: json.RawMessage(`{"a":1,"b":2}`)}}
	current := []Call{{Tool: "t", Args: json.RawMessage(`{"b":2,"a":1}`)}}

	report := Compare(baseline, current)
	if len(report.Changed) != 0 {
		t.Errorf("key order produced a false change: %+v", report.Changed)
	}
}

func TestLatencyWithinThresholdIgnored(t *testing.T) {
	baseline := []Call{{Tool: "t", Args: json.RawMessage(`{}`), LatencyMs: lat(100)}}
	current := []Call{{Tool: "t", Args: json.RawMessage(`{}`), LatencyMs: lat(115)}}

	report := Compare(baseline, current)
	if len(report.LatencyChanges) != 0 {
		t.Errorf("15%% shift reported: %+v", report.LatencyChanges)
	}
}

func TestLatencyAtExactThresholdIgnored(t *testing.T) {
	tests := []struct {
		name     string
		baseline int64
		current  int64
		want     int
	}{
		{"exactly +20%", 100, 120, 0},
		{"exactly -20%", 100, 80, 0},
		{"just beyond +20%", 100, 121, 1},
		{"just beyond -20%", 100, 79, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			baseline := []Call{{Tool: "t", Args: json.RawMessage(`{}`), LatencyMs: lat(tt.baseline)}}
			current := []Call{{Tool: "t", Args: json.RawMessage(`{}`), LatencyMs: lat(tt.current)}}

			report := Compare(baseline, current)
			if len(report.LatencyChanges) != tt.want {
				t.Errorf("latency_changes = %+v, want %d entries", report.LatencyChanges, tt.want)
			}
		})
	}
}

func TestLatencyImprovementReported(t *testing.T) {
	baseline := []Call{{Tool: "t", Args: json.RawMessage(`{}`), LatencyMs: lat(200)}}
	current := []Call{{Tool: "t", Args: json.RawMessage(`{}`), LatencyMs: lat(100)}}

	report := Compare(baseline, current)
	if len(report.LatencyChanges) != 1 {
		t.Fatalf("want one latency change, got %+v", report.LatencyChanges)
	}
	if report.LatencyChanges[0].ChangePercent != -50.0 {
		t.Errorf("ChangePercent = %v, want -50.0", report.LatencyChanges[0].ChangePercent)
	}
}

func TestCollectPairsResultsInOrder(t *testing.T) {
	events := []*journal.Event{
		{ID: 1, Kind: journal.EventToolCall, ToolName: "read_file", Params: json.RawMessage(`{"path":"/a"}`)},
		{ID: 2, Kind: journal.EventToolCall, ToolName: "read_file", Params: json.RawMessage(`{"path":"/b"}`)},
		{ID: 3, Kind: journal.EventToolResult, ToolName: "read_file", LatencyMs: lat(10)},
		{ID: 4, Kind: journal.EventToolResult, ToolName: "read_file", LatencyMs: lat(20)},
		{ID: 5, Kind: journal.EventRPCRequest, Method: "tools/list"},
	}

	calls := Collect(events)
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	if calls[0].LatencyMs == nil || *calls[0].LatencyMs != 10 {
		t.Errorf("first call latency = %v, want 10", calls[0].LatencyMs)
	}
	if calls[1].LatencyMs == nil || *calls[1].LatencyMs != 20 {
		t.Errorf("second call latency = %v, want 20", calls[1].LatencyMs)
	}
}

func TestCollectToleratesOrphanResults(t *testing.T) {
	events := []*journal.Event{
		{ID: 1, Kind: journal.EventToolResult, ToolName: "ghost", LatencyMs: lat(5)},
	}
	if calls := Collect(events); len(calls) != 0 {
		t.Errorf("orphan result produced calls: %+v", calls)
	}
}

// Package diff compares two recorded runs and reports behavioral and
// latency drift between them. It never fails: empty inputs yield empty
// lists.
package diff

import (
	"encoding/json"

	"github.com/haasonsaas/mcptap/internal/journal"
)

// latencyThresholdPct is the relative mean-latency change beyond which
// a latency_change entry is emitted.
const latencyThresholdPct = 20.0

// Call is one tool invocation reduced to what the comparison needs.
type Call struct {
	Tool      string          `json:"tool"`
	Args      json.RawMessage `json:"args,omitempty"`
	LatencyMs *int64          `json:"latency_ms,omitempty"`
}

// Entry marks a call present on only one side.
type Entry struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Changed pairs the two argument versions of a call whose payload
// differs between runs.
type Changed struct {
	Tool         string          `json:"tool"`
	BaselineArgs json.RawMessage `json:"baseline_args,omitempty"`
	CurrentArgs  json.RawMessage `json:"current_args,omitempty"`
}

// LatencyChange reports a per-tool mean latency shift beyond the
// threshold. ChangePercent is signed: +140.0 means 2.4x slower.
type LatencyChange struct {
	Tool          string  `json:"tool"`
	BaselineMs    float64 `json:"baseline_ms"`
	CurrentMs     float64 `json:"current_ms"`
	ChangePercent float64 `json:"change_percent"`
}

// Report is the full comparison between a baseline run A and a current
// run B.
type Report struct {
	BaselineCalls  int             `json:"baseline_calls"`
	CurrentCalls   int             `json:"current_calls"`
	Added          []Entry         `json:"added"`
	Removed        []Entry         `json:"removed"`
	Changed        []Changed       `json:"changed"`
	LatencyChanges []LatencyChange `json:"latency_changes"`
}

// Compare diffs two runs' ordered tool-call lists.
func Compare(baseline, current []Call) *Report {
	report := &Report{
		BaselineCalls:  len(baseline),
		CurrentCalls:   len(current),
		Added:          []Entry{},
		Removed:        []Entry{},
		Changed:        []Changed{},
		LatencyChanges: []LatencyChange{},
	}

	byToolA := groupByTool(baseline)
	byToolB := groupByTool(current)

	tools := orderedTools(baseline, current)
	for _, tool := range tools {
		callsA := byToolA[tool]
		callsB := byToolB[tool]

		n := len(callsA)
		if len(callsB) < n {
			n = len(callsB)
		}
		for i := 0; i < n; i++ {
			if canonical(callsA[i].Args) != canonical(callsB[i].Args) {
				report.Changed = append(report.Changed, Changed{
					Tool:         tool,
					BaselineArgs: callsA[i].Args,
					CurrentArgs:  callsB[i].Args,
				})
			}
		}
		for _, call := range callsA[n:] {
			report.Removed = append(report.Removed, Entry{Tool: tool, Args: call.Args})
		}
		for _, call := range callsB[n:] {
			report.Added = append(report.Added, Entry{Tool: tool, Args: call.Args})
		}

		if lc, ok := latencyShift(tool, callsA, callsB); ok {
			report.LatencyChanges = append(report.LatencyChanges, lc)
		}
	}

	return report
}

// CompareEvents diffs two runs given their raw journal events.
func CompareEvents(baseline, current []*journal.Event) *Report {
	return Compare(Collect(baseline), Collect(current))
}

// Collect reduces a run's events to its ordered tool-call list,
// attaching each tool_result latency to the earliest unmatched call of
// the same tool.
func Collect(events []*journal.Event) []Call {
	var calls []Call
	pending := make(map[string][]int) // tool -> indexes awaiting a result
	for _, ev := range events {
		switch ev.Kind {
		case journal.EventToolCall:
			calls = append(calls, Call{Tool: ev.ToolName, Args: ev.Params})
			pending[ev.ToolName] = append(pending[ev.ToolName], len(calls)-1)
		case journal.EventToolResult:
			queue := pending[ev.ToolName]
			if len(queue) == 0 {
				continue
			}
			idx := queue[0]
			pending[ev.ToolName] = queue[1:]
			if ev.LatencyMs != nil {
				v := *ev.LatencyMs
				calls[idx].LatencyMs = &v
			}
		}
	}
	return calls
}

func groupByTool(calls []Call) map[string][]Call {
	grouped := make(map[string][]Call)
	for _, call := range calls {
		grouped[call.Tool] = append(grouped[call.Tool], call)
	}
	return grouped
}

// orderedTools returns the union of tool names in first-seen order,
// baseline first, so report ordering is stable.
func orderedTools(baseline, current []Call) []string {
	seen := make(map[string]struct{})
	var tools []string
	for _, call := range baseline {
		if _, ok := seen[call.Tool]; !ok {
			seen[call.Tool] = struct{}{}
			tools = append(tools, call.Tool)
		}
	}
	for _, call := range current {
		if _, ok := seen[call.Tool]; !ok {
			seen[call.Tool] = struct{}{}
			tools = append(tools, call.Tool)
		}
	}
	return tools
}

// canonical re-encodes a JSON payload so key order does not produce
// false positives. Unparseable payloads compare by raw bytes.
func canonical(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func latencyShift(tool string, baseline, current []Call) (LatencyChange, bool) {
	meanA, okA := meanLatency(baseline)
	meanB, okB := meanLatency(current)
	if !okA || !okB || meanA == 0 {
		return LatencyChange{}, false
	}
	// Only shifts strictly beyond the threshold are reported.
	pct := (meanB - meanA) / meanA * 100
	if pct <= latencyThresholdPct && pct >= -latencyThresholdPct {
		return LatencyChange{}, false
	}
	return LatencyChange{
		Tool:          tool,
		BaselineMs:    meanA,
		CurrentMs:     meanB,
		ChangePercent: pct,
	}, true
}

func meanLatency(calls []Call) (float64, bool) {
	sum := 0.0
	n := 0
	for _, call := range calls {
		if call.LatencyMs != nil {
			sum += float64(*call.LatencyMs)
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

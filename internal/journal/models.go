package journal

import (
	"encoding/json"
	"time"
)

// RunKind distinguishes pass-through proxy runs from stress sweeps.
type RunKind string

const (
	RunKindProxy  RunKind = "proxy"
	RunKindStress RunKind = "stress"
)

// RunStatus is the lifecycle state of a run. Transitions are monotonic:
// pending -> running -> completed|failed, never backwards.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// statusRank orders statuses for the monotonic-transition check. Both
// terminal states share a rank so neither can replace the other.
func statusRank(s RunStatus) int {
	switch s {
	case RunPending:
		return 0
	case RunRunning:
		return 1
	case RunCompleted, RunFailed:
		return 2
	default:
		return -1
	}
}

// EventKind is the closed set of journaled observation types.
type EventKind string

const (
	EventSessionStart   EventKind = "session_start"
	EventSessionEnd     EventKind = "session_end"
	EventRPCRequest     EventKind = "rpc_request"
	EventRPCResponse    EventKind = "rpc_response"
	EventToolCall       EventKind = "tool_call"
	EventToolResult     EventKind = "tool_result"
	EventStressMutation EventKind = "stress_mutation"
	EventChatMessage    EventKind = "chat_message"
)

// Project groups agents under a unique name.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Agent is a named, configured tool-server invocation within a project.
// ChaosConfig is an opaque JSON blob; runs snapshot it by value.
type Agent struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"`
	Name        string          `json:"name"`
	Target      string          `json:"target"`
	ChaosConfig json.RawMessage `json:"chaos_config,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Counters caches per-run aggregates derived from events. The stored
// values are refreshed on status transitions and must equal a
// recomputation from events at any terminal state.
type Counters struct {
	TotalCalls     int `json:"total_calls"`
	TotalErrors    int `json:"total_errors"`
	StressPassed   int `json:"stress_passed"`
	StressGraceful int `json:"stress_graceful"`
	StressCrashed  int `json:"stress_crashed"`
	StressScore    int `json:"stress_score"`
}

// Run is one recorded session: a proxy pass-through or a stress sweep.
type Run struct {
	ID          string          `json:"id"`
	AgentID     string          `json:"agent_id,omitempty"`
	Kind        RunKind         `json:"kind"`
	Target      string          `json:"target"`
	ChaosConfig json.RawMessage `json:"chaos_config,omitempty"`
	Status      RunStatus       `json:"status"`
	Counters    Counters        `json:"counters"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	EndedAt     *time.Time      `json:"ended_at,omitempty"`
}

// Event is a single journaled observation within a run. Payload fields
// are opaque JSON from the store's perspective; parsing happens only at
// comparison and classification time.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Kind      EventKind       `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Method    string          `json:"method,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
	Chaos     json.RawMessage `json:"chaos,omitempty"`
	LatencyMs *int64          `json:"latency_ms,omitempty"`
}

// RunFilter narrows ListRuns. Zero values mean "any".
type RunFilter struct {
	AgentID   string
	Status    RunStatus
	Kind      RunKind
	TargetSub string
	Limit     int
	Offset    int
}

package stress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/mcptap/internal/cmdline"
	"github.com/haasonsaas/mcptap/internal/journal"
	"github.com/haasonsaas/mcptap/internal/observability"
	"github.com/haasonsaas/mcptap/internal/rpc"
)

// DefaultProbeTimeout bounds a single probe's wall clock.
const DefaultProbeTimeout = 10 * time.Second

// initializedSettle is the pause after notifications/initialized before
// tools/list; some servers need a beat to finish wiring handlers.
const initializedSettle = 100 * time.Millisecond

// Runner drives one-shot stress sweeps against a tool server and
// journals one stress_mutation event per probe.
type Runner struct {
	store   *journal.Store
	metrics *observability.Metrics
	logger  *slog.Logger

	// ProbeTimeout overrides DefaultProbeTimeout when positive.
	ProbeTimeout time.Duration
}

// NewRunner wires a runner to its journal. Metrics may be nil.
func NewRunner(store *journal.Store, metrics *observability.Metrics, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:   store,
		metrics: metrics,
		logger:  logger.With("component", "stress"),
	}
}

// probeRecord is the journaled payload of one stress_mutation event.
type probeRecord struct {
	Tool        string       `json:"tool"`
	Kind        MutationKind `json:"kind"`
	Field       string       `json:"field,omitempty"`
	Description string       `json:"description"`
	Outcome     Outcome      `json:"outcome"`
	Error       string       `json:"error,omitempty"`
	TimedOut    bool         `json:"timed_out,omitempty"`
}

// Sweep runs the full stress matrix against target: initialize, list
// tools, then one sequential probe per mutation per schema-declaring
// tool. It creates the run, drives it to a terminal status, and returns
// the finished run. The server is killed when the sweep ends.
func (r *Runner) Sweep(ctx context.Context, target string, agentID string) (*journal.Run, error) {
	name, args, err := cmdline.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse target: %w", err)
	}

	run, err := r.store.CreateRun(ctx, target, nil, agentID, journal.RunKindStress)
	if err != nil {
		return nil, err
	}
	if r.metrics != nil {
		r.metrics.RunsStarted.WithLabelValues(string(journal.RunKindStress)).Inc()
	}

	client, err := StartClient(ctx, name, args, r.logger)
	if err != nil {
		r.logger.Error("failed to spawn tool server", "target", target, "error", err)
		if _, uerr := r.store.UpdateRunStatus(ctx, run.ID, journal.RunFailed, nil); uerr != nil {
			r.logger.Error("failed to mark run failed", "run_id", run.ID, "error", uerr)
		}
		return nil, fmt.Errorf("spawn tool server: %w", err)
	}
	defer client.Close()

	run, err = r.store.UpdateRunStatus(ctx, run.ID, journal.RunRunning, nil)
	if err != nil {
		return nil, err
	}

	counters, sweepErr := r.sweep(ctx, client, run.ID)

	status := journal.RunCompleted
	if sweepErr != nil {
		status = journal.RunFailed
		r.logger.Error("stress sweep failed", "run_id", run.ID, "error", sweepErr)
	}
	run, err = r.store.UpdateRunStatus(ctx, run.ID, status, counters)
	if err != nil {
		return nil, err
	}
	if sweepErr != nil {
		return run, sweepErr
	}

	r.logger.Info("stress sweep finished",
		"run_id", run.ID,
		"passed", counters.StressPassed,
		"graceful", counters.StressGraceful,
		"crashed", counters.StressCrashed,
		"score", counters.StressScore)
	return run, nil
}

func (r *Runner) sweep(ctx context.Context, client *Client, runID string) (*journal.Counters, error) {
	counters := &journal.Counters{}

	tools, err := r.handshake(ctx, client)
	if err != nil {
		return counters, err
	}

	timeout := r.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	for _, tool := range tools {
		if err := CompileCheck(tool.InputSchema); err != nil {
			r.logger.Warn("skipping tool with unusable schema",
				"tool", tool.Name, "reason", err)
			continue
		}
		mutations, err := Generate(tool.InputSchema)
		if err != nil {
			r.logger.Warn("skipping tool", "tool", tool.Name, "reason", err)
			continue
		}

		for _, mutation := range mutations {
			if ctx.Err() != nil {
				return counters, ctx.Err()
			}
			if err := r.probe(ctx, client, runID, tool.Name, mutation, timeout, counters); err != nil {
				return counters, err
			}
		}
	}

	counters.StressScore = Score(counters.StressPassed, counters.StressGraceful, counters.StressCrashed)
	return counters, nil
}

// handshake runs initialize, acknowledges it, and enumerates tools.
func (r *Runner) handshake(ctx context.Context, client *Client) ([]*rpc.Tool, error) {
	timeout := r.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	initParams := rpc.InitializeParams{
		ProtocolVersion: rpc.ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      rpc.ClientInfo{Name: "mcptap-stress", Version: "1.0.0"},
	}
	resp, err := client.Call(ctx, rpc.MethodInitialize, initParams, timeout)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("initialize rejected: %s", resp.Error.Message)
	}

	if err := client.Notify(rpc.MethodInitialized, nil); err != nil {
		return nil, fmt.Errorf("initialized notification: %w", err)
	}
	time.Sleep(initializedSettle)

	resp, err = client.Call(ctx, rpc.MethodToolsList, nil, timeout)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("tools/list rejected: %s", resp.Error.Message)
	}

	var result rpc.ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("parse tools/list result: %w", err)
	}
	r.logger.Info("enumerated tools", "count", len(result.Tools))
	return result.Tools, nil
}

// probe issues one tools/call, classifies the reply, and journals the
// stress_mutation event. A timed-out probe counts as crash_or_hang and
// the sweep continues; a journal write failure aborts the sweep.
func (r *Runner) probe(ctx context.Context, client *Client, runID, tool string, mutation Mutation, timeout time.Duration, counters *journal.Counters) error {
	params := rpc.CallToolParams{Name: tool}
	if raw, err := json.Marshal(mutation.Args); err == nil {
		params.Arguments = raw
	}

	started := time.Now()
	resp, err := client.Call(ctx, rpc.MethodToolsCall, params, timeout)
	latency := time.Since(started).Milliseconds()

	record := probeRecord{
		Tool:        tool,
		Kind:        mutation.Kind,
		Field:       mutation.Field,
		Description: mutation.Description,
	}
	switch {
	case errors.Is(err, ErrTimeout):
		record.TimedOut = true
	case err != nil:
		// Transport-level failure reads the same as a crash.
		record.Error = err.Error()
		record.Outcome = OutcomeCrash
	case resp.Error != nil:
		record.Error = resp.Error.Message
	}

	if record.Outcome == "" {
		record.Outcome = Classify(record.Error, record.TimedOut)
	}
	switch record.Outcome {
	case OutcomePass:
		counters.StressPassed++
	case OutcomeGraceful:
		counters.StressGraceful++
	case OutcomeCrash:
		counters.StressCrashed++
	}
	if r.metrics != nil {
		r.metrics.StressOutcomes.WithLabelValues(string(record.Outcome)).Inc()
	}

	result, merr := json.Marshal(record)
	if merr != nil {
		return fmt.Errorf("marshal probe record: %w", merr)
	}
	argsRaw, _ := json.Marshal(mutation.Args)

	event := &journal.Event{
		RunID:     runID,
		Kind:      journal.EventStressMutation,
		Method:    rpc.MethodToolsCall,
		ToolName:  tool,
		Params:    argsRaw,
		Result:    result,
		LatencyMs: &latency,
	}
	if _, werr := r.store.InsertEvent(ctx, event); werr != nil {
		return fmt.Errorf("journal probe: %w", werr)
	}

	r.logger.Debug("probe classified",
		"tool", tool, "kind", mutation.Kind, "outcome", record.Outcome)
	return nil
}

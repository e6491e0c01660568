// Package proxy implements the transparent stdio interceptor: it spawns
// the downstream tool server, pumps protocol lines in both directions,
// correlates responses with requests, injects chaos, and journals every
// observation.
package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/mcptap/internal/chaos"
	"github.com/haasonsaas/mcptap/internal/cmdline"
	"github.com/haasonsaas/mcptap/internal/journal"
	"github.com/haasonsaas/mcptap/internal/observability"
	"github.com/haasonsaas/mcptap/internal/rpc"
)

// Options configures one proxy session. ClientIn/ClientOut default to
// the process's own stdio, which is the normal interception position.
type Options struct {
	Target  string
	AgentID string
	Chaos   *chaos.Config

	ClientIn  io.Reader
	ClientOut io.Writer
}

// defaultShutdownGrace bounds how long one side of the session may
// outlive the other before the tool server is forced down.
const defaultShutdownGrace = 2 * time.Second

// Proxy runs pass-through sessions against a journal.
type Proxy struct {
	store   *journal.Store
	metrics *observability.Metrics
	logger  *slog.Logger

	// ShutdownGrace is how long the proxy waits, after one peer closes,
	// for the other side to wind down before killing the tool server.
	ShutdownGrace time.Duration
}

// New wires a proxy to its journal. Metrics may be nil.
func New(store *journal.Store, metrics *observability.Metrics, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		store:         store,
		metrics:       metrics,
		logger:        logger.With("component", "proxy"),
		ShutdownGrace: defaultShutdownGrace,
	}
}

// inflight is the correlation entry for one outstanding request.
type inflight struct {
	start   time.Time
	method  string
	tool    string
	applied *chaos.Applied
}

// session holds the state of one live interception.
type session struct {
	proxy  *Proxy
	runID  string
	engine *chaos.Engine

	serverIn  io.WriteCloser
	clientOut io.Writer

	mu      sync.Mutex
	pending map[string]*inflight
	calls   int
	errors  int

	writeErr error
	errOnce  sync.Once
}

// Run intercepts one session: spawn the target, pump lines both ways
// until a peer closes, and drive the run to a terminal status. The
// returned run is terminal; a non-nil error means the run failed.
func (p *Proxy) Run(ctx context.Context, opts Options) (*journal.Run, error) {
	name, args, err := cmdline.Parse(opts.Target)
	if err != nil {
		return nil, fmt.Errorf("parse target: %w", err)
	}

	run, err := p.store.CreateRun(ctx, opts.Target, chaos.Snapshot(opts.Chaos), opts.AgentID, journal.RunKindProxy)
	if err != nil {
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.RunsStarted.WithLabelValues(string(journal.RunKindProxy)).Inc()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = os.Environ()
	cmd.Stderr = os.Stderr

	serverIn, err := cmd.StdinPipe()
	if err != nil {
		return p.failRun(ctx, run.ID, fmt.Errorf("stdin pipe: %w", err))
	}
	serverOut, err := cmd.StdoutPipe()
	if err != nil {
		return p.failRun(ctx, run.ID, fmt.Errorf("stdout pipe: %w", err))
	}
	if err := cmd.Start(); err != nil {
		return p.failRun(ctx, run.ID, fmt.Errorf("spawn tool server: %w", err))
	}
	p.logger.Info("intercepting tool server",
		"run_id", run.ID, "command", cmdline.String(append([]string{name}, args...)), "pid", cmd.Process.Pid)

	clientIn := opts.ClientIn
	if clientIn == nil {
		clientIn = os.Stdin
	}
	clientOut := opts.ClientOut
	if clientOut == nil {
		clientOut = os.Stdout
	}

	sess := &session{
		proxy:     p,
		runID:     run.ID,
		engine:    chaos.NewEngine(opts.Chaos),
		serverIn:  serverIn,
		clientOut: clientOut,
		pending:   make(map[string]*inflight),
	}

	if _, err := p.store.UpdateRunStatus(ctx, run.ID, journal.RunRunning, nil); err != nil {
		cmd.Process.Kill()
		return nil, err
	}
	if err := sess.journal(ctx, &journal.Event{
		RunID: run.ID,
		Kind:  journal.EventSessionStart,
	}); err != nil {
		cmd.Process.Kill()
		return p.failRun(ctx, run.ID, err)
	}

	clientDone := make(chan struct{})
	serverDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		sess.pumpClientToServer(ctx, clientIn)
	}()

	// A tool server that ignores stdin EOF would hold the session open
	// forever. Once the client closes its side, the server gets the
	// grace period to flush in-flight replies and exit, then is killed.
	go func() {
		select {
		case <-serverDone:
			return
		case <-clientDone:
		}
		select {
		case <-serverDone:
		case <-time.After(p.ShutdownGrace):
			p.logger.Warn("tool server outlived client EOF, killing", "run_id", run.ID)
			cmd.Process.Kill()
		}
	}()

	sess.pumpServerToClient(ctx, serverOut)
	close(serverDone)

	// Server side closed; stop feeding it and reap the process. The
	// client pump may be parked in a read nothing will ever satisfy
	// (interrupt path), so the wait on it is bounded.
	serverIn.Close()
	select {
	case <-clientDone:
	case <-time.After(p.ShutdownGrace):
	}
	cmd.Process.Kill()
	cmd.Wait()

	// The run must reach a terminal state even when shutdown was
	// signal-driven and ctx is already canceled.
	endCtx := context.WithoutCancel(ctx)

	calls, errCount := sess.totals()
	endPayload, _ := json.Marshal(map[string]int{
		"totalCalls":  calls,
		"totalErrors": errCount,
	})
	if err := sess.journal(endCtx, &journal.Event{
		RunID:  run.ID,
		Kind:   journal.EventSessionEnd,
		Result: endPayload,
	}); err != nil {
		return p.failRun(endCtx, run.ID, err)
	}

	counters, err := p.store.RecomputeCounters(endCtx, run.ID)
	if err != nil {
		return p.failRun(endCtx, run.ID, err)
	}

	if werr := sess.failure(); werr != nil {
		p.logger.Error("session ended with write error", "run_id", run.ID, "error", werr)
		run, err = p.store.UpdateRunStatus(endCtx, run.ID, journal.RunFailed, counters)
		if err != nil {
			return nil, err
		}
		return run, werr
	}

	run, err = p.store.UpdateRunStatus(endCtx, run.ID, journal.RunCompleted, counters)
	if err != nil {
		return nil, err
	}
	p.logger.Info("session completed",
		"run_id", run.ID, "total_calls", calls, "total_errors", errCount)
	return run, nil
}

func (p *Proxy) failRun(ctx context.Context, runID string, cause error) (*journal.Run, error) {
	p.logger.Error("proxy run failed", "run_id", runID, "error", cause)
	if _, err := p.store.UpdateRunStatus(ctx, runID, journal.RunFailed, nil); err != nil {
		p.logger.Error("failed to mark run failed", "run_id", runID, "error", err)
	}
	return nil, cause
}

// pumpClientToServer reads client lines, journals requests, applies
// chaos delays, and forwards to the tool server.
func (s *session) pumpClientToServer(ctx context.Context, clientIn io.Reader) {
	// Client EOF propagates as server-stdin EOF so the tool server can
	// wind down on its own.
	defer s.serverIn.Close()

	scanner := bufio.NewScanner(clientIn)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}

		msg := rpc.Parse(line)
		if msg.Kind == rpc.KindInvalid || msg.Kind == rpc.KindResponse {
			// Not a request we understand: forward verbatim, unjournaled.
			if err := s.writeServer(line); err != nil {
				return
			}
			continue
		}

		s.handleRequest(ctx, msg)
		if s.failure() != nil {
			return
		}
		if err := s.writeServer(line); err != nil {
			return
		}
	}
}

// handleRequest records correlation state, draws chaos, journals, and
// sleeps out any injected delay before the caller forwards the line.
func (s *session) handleRequest(ctx context.Context, msg *rpc.Message) {
	var tool string
	var applied *chaos.Applied
	if msg.Method == rpc.MethodToolsCall {
		tool = rpc.ToolName(msg.Params)
		applied = s.engine.Apply(tool)
	}

	if msg.Kind == rpc.KindRequest {
		key := rpc.CorrelationKey(msg.ID)
		s.mu.Lock()
		// A reused id silently replaces the older entry; the earlier
		// request can no longer be correlated.
		s.pending[key] = &inflight{
			start:   time.Now(),
			method:  msg.Method,
			tool:    tool,
			applied: applied,
		}
		s.mu.Unlock()
	}

	if err := s.journal(ctx, &journal.Event{
		RunID:    s.runID,
		Kind:     journal.EventRPCRequest,
		Method:   msg.Method,
		ToolName: tool,
		Params:   msg.Params,
	}); err != nil {
		return
	}
	if msg.Method == rpc.MethodToolsCall {
		var args json.RawMessage
		var p rpc.CallToolParams
		if json.Unmarshal(msg.Params, &p) == nil {
			args = p.Arguments
		}
		if err := s.journal(ctx, &journal.Event{
			RunID:    s.runID,
			Kind:     journal.EventToolCall,
			Method:   msg.Method,
			ToolName: tool,
			Params:   args,
		}); err != nil {
			return
		}
	}

	if applied != nil && applied.DelayMs > 0 {
		s.proxy.logger.Debug("chaos delay", "tool", tool, "delay_ms", applied.DelayMs)
		s.countChaos("delay")
		select {
		case <-time.After(time.Duration(applied.DelayMs) * time.Millisecond):
		case <-ctx.Done():
		}
	}
}

// pumpServerToClient reads tool-server lines, correlates and journals
// responses, applies error substitution and corruption, and forwards
// upstream.
func (s *session) pumpServerToClient(ctx context.Context, serverOut io.Reader) {
	scanner := bufio.NewScanner(serverOut)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}

		msg := rpc.Parse(line)
		if msg.Kind != rpc.KindResponse {
			// Server-originated notifications and noise pass through
			// untouched.
			if err := s.writeClient(line); err != nil {
				return
			}
			continue
		}

		out := s.handleResponse(ctx, msg, line)
		if s.failure() != nil {
			return
		}
		if err := s.writeClient(out); err != nil {
			return
		}
	}
}

// handleResponse journals the response and returns the bytes to forward
// upstream, which differ from the input only when chaos fired.
func (s *session) handleResponse(ctx context.Context, msg *rpc.Message, line []byte) []byte {
	key := rpc.CorrelationKey(msg.ID)
	s.mu.Lock()
	entry, matched := s.pending[key]
	if matched {
		delete(s.pending, key)
	}
	s.mu.Unlock()

	out := line
	errPayload := msg.Error
	result := msg.Result

	var latency *int64
	var chaosRaw json.RawMessage
	method, tool := "", ""
	if matched {
		ms := time.Since(entry.start).Milliseconds()
		latency = &ms
		method = entry.method
		tool = entry.tool

		if entry.applied != nil {
			if entry.applied.ErrorInjected {
				errPayload = &rpc.Error{
					Code:    rpc.ErrCodeInternalError,
					Message: "injected error (chaos)",
				}
				result = nil
				out = mustMarshalLine(&rpc.Response{
					JSONRPC: "2.0",
					ID:      msg.ID,
					Error:   errPayload,
				})
				s.countChaos("error")
			} else if entry.applied.Corrupted {
				if corrupted, ok := corruptResult(msg.Result); ok {
					result = corrupted
					out = mustMarshalLine(&rpc.Response{
						JSONRPC: "2.0",
						ID:      msg.ID,
						Result:  corrupted,
					})
					s.countChaos("corruption")
				}
			}
			chaosRaw, _ = json.Marshal(entry.applied)
		}
		if s.proxy.metrics != nil && method != "" {
			s.proxy.metrics.RPCLatency.WithLabelValues(method).Observe(float64(ms) / 1000)
		}
	} else {
		s.proxy.logger.Warn("response with unknown correlation id", "id", msg.ID)
	}

	var errRaw json.RawMessage
	if errPayload != nil {
		errRaw, _ = json.Marshal(errPayload)
		s.mu.Lock()
		s.errors++
		s.mu.Unlock()
	}

	if err := s.journal(ctx, &journal.Event{
		RunID:     s.runID,
		Kind:      journal.EventRPCResponse,
		Method:    method,
		ToolName:  tool,
		Result:    result,
		Error:     errRaw,
		Chaos:     chaosRaw,
		LatencyMs: latency,
	}); err != nil {
		return out
	}

	if matched && method == rpc.MethodToolsCall {
		s.mu.Lock()
		s.calls++
		s.mu.Unlock()
		if err := s.journal(ctx, &journal.Event{
			RunID:     s.runID,
			Kind:      journal.EventToolResult,
			Method:    method,
			ToolName:  tool,
			Result:    result,
			Error:     errRaw,
			Chaos:     chaosRaw,
			LatencyMs: latency,
		}); err != nil {
			return out
		}
	}

	return out
}

// corruptResult wraps an object result in the corruption envelope:
// the original keys plus _corrupted and _originalKeys markers.
// Non-object results are left alone.
func corruptResult(result json.RawMessage) (json.RawMessage, bool) {
	if len(result) == 0 {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal(result, &obj); err != nil {
		return nil, false
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	obj["_corrupted"] = true
	obj["_originalKeys"] = keys
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, false
	}
	return out, true
}

func mustMarshalLine(v any) []byte {
	out, err := json.Marshal(v)
	if err != nil {
		// Response structs marshal unconditionally; this is unreachable
		// for well-formed ids.
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"proxy marshal failure"}}`)
	}
	return out
}

func (s *session) journal(ctx context.Context, event *journal.Event) error {
	if _, err := s.proxy.store.InsertEvent(ctx, event); err != nil {
		s.recordFailure(fmt.Errorf("journal %s: %w", event.Kind, err))
		return err
	}
	if s.proxy.metrics != nil {
		s.proxy.metrics.EventsJournaled.WithLabelValues(string(event.Kind)).Inc()
	}
	return nil
}

func (s *session) writeServer(line []byte) error {
	if _, err := s.serverIn.Write(append(line, '\n')); err != nil {
		s.recordFailure(fmt.Errorf("write to tool server: %w", err))
		return err
	}
	return nil
}

func (s *session) writeClient(line []byte) error {
	if _, err := s.clientOut.Write(append(line, '\n')); err != nil {
		s.recordFailure(fmt.Errorf("write to client: %w", err))
		return err
	}
	return nil
}

func (s *session) recordFailure(err error) {
	s.errOnce.Do(func() {
		s.mu.Lock()
		s.writeErr = err
		s.mu.Unlock()
	})
}

func (s *session) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeErr
}

func (s *session) totals() (calls, errors int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, s.errors
}

func (s *session) countChaos(effect string) {
	if s.proxy.metrics != nil {
		s.proxy.metrics.ChaosInjections.WithLabelValues(effect).Inc()
	}
}

package stress

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/mcptap/internal/rpc"
)

// ErrTimeout marks a probe that exceeded its deadline.
var ErrTimeout = errors.New("request timeout")

// ErrClosed marks a call attempted after the client shut down.
var ErrClosed = errors.New("client closed")

// Client is a one-shot stdio JSON-RPC client for driving a tool server
// through a stress sweep. It owns the subprocess for its whole life.
type Client struct {
	logger *slog.Logger

	process *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Scanner
	stderr  io.ReadCloser

	pending   map[string]chan *rpc.Response
	pendingMu sync.Mutex
	nextID    atomic.Int64

	writeMu sync.Mutex

	connected atomic.Bool
	stopChan  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// StartClient spawns the tool server and begins reading its stdout.
func StartClient(ctx context.Context, name string, args []string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		logger:   logger.With("component", "stress_client", "command", name),
		pending:  make(map[string]chan *rpc.Response),
		stopChan: make(chan struct{}),
	}

	c.process = exec.CommandContext(ctx, name, args...)
	c.process.Env = os.Environ()

	var err error
	c.stdin, err = c.process.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := c.process.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	c.stdout = bufio.NewScanner(stdout)
	c.stdout.Buffer(make([]byte, 1024*1024), 1024*1024)

	c.stderr, _ = c.process.StderrPipe()

	if err := c.process.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	c.connected.Store(true)
	c.logger.Info("started tool server process", "pid", c.process.Process.Pid)

	c.wg.Add(1)
	go c.readLoop()

	if c.stderr != nil {
		c.wg.Add(1)
		go c.logStderr()
	}

	return c, nil
}

// Close kills the subprocess and reaps the reader goroutines. Safe to
// call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		close(c.stopChan)

		if c.stdin != nil {
			c.stdin.Close()
		}
		if c.process != nil && c.process.Process != nil {
			c.process.Process.Kill()
		}
		c.wg.Wait()
		if c.process != nil {
			c.process.Wait()
		}
	})
	return nil
}

// Call sends a request and waits for the matching response or the
// timeout. The raw response is returned even when it carries an error
// object: the caller classifies, not the transport.
func (c *Client) Call(ctx context.Context, method string, params any, timeout time.Duration) (*rpc.Response, error) {
	if !c.connected.Load() {
		return nil, ErrClosed
	}

	id := c.nextID.Add(1)
	req := rpc.Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}

	key := rpc.CorrelationKey(id)
	respChan := make(chan *rpc.Response, 1)
	c.pendingMu.Lock()
	c.pending[key] = respChan
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, key)
		c.pendingMu.Unlock()
	}()

	if err := c.writeLine(&req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-respChan:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w after %v", ErrTimeout, timeout)
	case <-c.stopChan:
		return nil, ErrClosed
	}
}

// Notify sends a notification; no response is expected.
func (c *Client) Notify(method string, params any) error {
	if !c.connected.Load() {
		return ErrClosed
	}
	req := rpc.Request{JSONRPC: "2.0", Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}
	if err := c.writeLine(&req); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

func (c *Client) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.stdin.Write(append(data, '\n'))
	return err
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer c.connected.Store(false)

	for c.stdout.Scan() {
		select {
		case <-c.stopChan:
			return
		default:
		}

		line := c.stdout.Bytes()
		if len(line) == 0 {
			continue
		}

		msg := rpc.Parse(line)
		if msg.Kind != rpc.KindResponse {
			continue
		}

		resp := &rpc.Response{
			JSONRPC: "2.0",
			ID:      msg.ID,
			Result:  msg.Result,
			Error:   msg.Error,
		}
		key := rpc.CorrelationKey(msg.ID)
		c.pendingMu.Lock()
		if ch, ok := c.pending[key]; ok {
			select {
			case ch <- resp:
			default:
			}
			delete(c.pending, key)
		}
		c.pendingMu.Unlock()
	}

	if err := c.stdout.Err(); err != nil {
		c.logger.Error("stdout scanner error", "error", err)
	}
}

func (c *Client) logStderr() {
	defer c.wg.Done()

	scanner := bufio.NewScanner(c.stderr)
	for scanner.Scan() {
		select {
		case <-c.stopChan:
			return
		default:
		}
		if line := scanner.Text(); line != "" {
			c.logger.Debug("server stderr", "message", line)
		}
	}
}

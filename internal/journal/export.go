package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Trace is the portable export of one run: the run row plus its full
// ordered event list. The diff command accepts these files in place of
// live run ids.
type Trace struct {
	Run    *Run     `json:"run"`
	Events []*Event `json:"events"`
}

// ExportTrace writes a run's trace as indented JSON.
func (s *Store) ExportTrace(ctx context.Context, w io.Writer, runID string) error {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	events, err := s.GetEvents(ctx, runID, 0, 0)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&Trace{Run: run, Events: events}); err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}
	return nil
}

// ExportTraceFile writes a run's trace to a file.
func (s *Store) ExportTraceFile(ctx context.Context, path, runID string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create trace file: %w", err)
	}
	defer f.Close()
	if err := s.ExportTrace(ctx, f, runID); err != nil {
		return err
	}
	return f.Close()
}

// ReadTraceFile loads an exported trace from disk.
func ReadTraceFile(path string) (*Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trace file: %w", err)
	}
	var trace Trace
	if err := json.Unmarshal(data, &trace); err != nil {
		return nil, fmt.Errorf("parse trace file: %w", err)
	}
	return &trace, nil
}

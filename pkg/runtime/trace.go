package runtime

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// TraceEvent is one line of the JSONL execution trace.
type TraceEvent struct {
	Timestamp time.Time   `json:"ts"`
	RunID     string      `json:"run_id"`
	Event     string      `json:"event"`
	TestID    string      `json:"test_id,omitempty"`
	StepID    string      `json:"step_id,omitempty"`
	Status    string      `json:"status,omitempty"`
	Detail    string      `json:"detail,omitempty"`
	Step      *StepResult `json:"step,omitempty"`
}

// TraceWriter appends trace events to a JSONL file. Each write is flushed
// and synced so a crashed run leaves a complete trace up to the last step.
type TraceWriter struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
	run  string
}

// NewTraceWriter opens (appending) the trace file at path.
func NewTraceWriter(path, runID string) (*TraceWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}
	buf := bufio.NewWriter(f)
	return &TraceWriter{file: f, buf: buf, enc: json.NewEncoder(buf), run: runID}, nil
}

// Write appends one event, stamping the run ID and timestamp.
func (t *TraceWriter) Write(ev TraceEvent) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	ev.Timestamp = time.Now().UTC()
	ev.RunID = t.run
	if err := t.enc.Encode(ev); err != nil {
		return fmt.Errorf("encoding trace event: %w", err)
	}
	if err := t.buf.Flush(); err != nil {
		return fmt.Errorf("flushing trace: %w", err)
	}
	return t.file.Sync()
}

// Close flushes and closes the underlying file.
func (t *TraceWriter) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.buf.Flush(); err != nil {
		t.file.Close()
		return err
	}
	return t.file.Close()
}

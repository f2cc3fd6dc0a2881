// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Counter names required by downstream audit tooling. Emitters must use
// these exact strings.
const (
	CounterSkipsAttempted    = "phase_skips_attempted"
	CounterValidationsFailed = "phase_validations_failed"
	CounterBacktracks        = "phase_backtracks"
	CounterDriftDetected     = "prompt_drift_detected"
)

// SpanStatus is the terminal status of an emitted span.
type SpanStatus string

const (
	StatusOK    SpanStatus = "ok"
	StatusError SpanStatus = "error"
)

// Span is one line of the span stream.
type Span struct {
	TraceID      string            `json:"traceId"`
	SpanID       string            `json:"spanId"`
	ParentSpanID *string           `json:"parentSpanId"`
	Name         string            `json:"name"`
	Status       SpanStatus        `json:"status"`
	DurationMs   float64           `json:"durationMs"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// Counter is one line of the counter stream.
type Counter struct {
	Counter  string         `json:"counter"`
	Value    int64          `json:"value"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Emitter is an append-only sink for spans and counters. Implementations
// must make each append a single atomic write so concurrent emitters never
// interleave partial lines.
type Emitter interface {
	EmitSpan(ctx context.Context, span Span) error
	EmitCounter(ctx context.Context, counter Counter) error
}

// NopEmitter discards everything.
type NopEmitter struct{}

func (NopEmitter) EmitSpan(context.Context, Span) error       { return nil }
func (NopEmitter) EmitCounter(context.Context, Counter) error { return nil }

// MemoryEmitter collects records in memory. Intended for tests.
type MemoryEmitter struct {
	mu       sync.Mutex
	spans    []Span
	counters []Counter
}

// NewMemoryEmitter returns an in-memory emitter.
func NewMemoryEmitter() *MemoryEmitter {
	return &MemoryEmitter{}
}

func (m *MemoryEmitter) EmitSpan(_ context.Context, span Span) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spans = append(m.spans, span)
	return nil
}

func (m *MemoryEmitter) EmitCounter(_ context.Context, counter Counter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, counter)
	return nil
}

// Spans returns a copy of the recorded spans.
func (m *MemoryEmitter) Spans() []Span {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Span(nil), m.spans...)
}

// Counters returns a copy of the recorded counters.
func (m *MemoryEmitter) Counters() []Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Counter(nil), m.counters...)
}

// CounterTotal sums recorded values for one counter name.
func (m *MemoryEmitter) CounterTotal(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, c := range m.counters {
		if c.Counter == name {
			total += c.Value
		}
	}
	return total
}

// FileEmitter appends line-delimited JSON records to two files, one for
// spans and one for counters. Each record is marshaled first and written
// with a single Write call including the trailing newline, so a crash can
// truncate at most the final line.
type FileEmitter struct {
	spanMu    sync.Mutex
	counterMu sync.Mutex
	spans     *os.File
	counters  *os.File
}

// NewFileEmitter opens (creating if needed) the span and counter files in
// append mode.
func NewFileEmitter(spanPath, counterPath string) (*FileEmitter, error) {
	if err := os.MkdirAll(filepath.Dir(spanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create span dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(counterPath), 0o755); err != nil {
		return nil, fmt.Errorf("create counter dir: %w", err)
	}
	spans, err := os.OpenFile(spanPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open span file: %w", err)
	}
	counters, err := os.OpenFile(counterPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		spans.Close()
		return nil, fmt.Errorf("open counter file: %w", err)
	}
	return &FileEmitter{spans: spans, counters: counters}, nil
}

// EmitSpan appends one span line.
func (f *FileEmitter) EmitSpan(_ context.Context, span Span) error {
	line, err := json.Marshal(span)
	if err != nil {
		return fmt.Errorf("marshal span: %w", err)
	}
	f.spanMu.Lock()
	defer f.spanMu.Unlock()
	_, err = f.spans.Write(append(line, '\n'))
	return err
}

// EmitCounter appends one counter line.
func (f *FileEmitter) EmitCounter(_ context.Context, counter Counter) error {
	line, err := json.Marshal(counter)
	if err != nil {
		return fmt.Errorf("marshal counter: %w", err)
	}
	f.counterMu.Lock()
	defer f.counterMu.Unlock()
	_, err = f.counters.Write(append(line, '\n'))
	return err
}

// Close closes both streams.
func (f *FileEmitter) Close() error {
	var errs []error
	if err := f.spans.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := f.counters.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("close emitter: %v", errs)
	}
	return nil
}

// ReadSpans parses a span stream. A trailing line without a newline is
// treated as a torn write and dropped.
func ReadSpans(path string) ([]Span, error) {
	lines, err := readCompleteLines(path)
	if err != nil {
		return nil, err
	}
	out := make([]Span, 0, len(lines))
	for _, line := range lines {
		var span Span
		if err := json.Unmarshal(line, &span); err != nil {
			return nil, fmt.Errorf("parse span line: %w", err)
		}
		out = append(out, span)
	}
	return out, nil
}

// ReadCounters parses a counter stream with the same torn-write tolerance
// as ReadSpans.
func ReadCounters(path string) ([]Counter, error) {
	lines, err := readCompleteLines(path)
	if err != nil {
		return nil, err
	}
	out := make([]Counter, 0, len(lines))
	for _, line := range lines {
		var counter Counter
		if err := json.Unmarshal(line, &counter); err != nil {
			return nil, fmt.Errorf("parse counter line: %w", err)
		}
		out = append(out, counter)
	}
	return out, nil
}

// CounterTotals aggregates a counter stream into per-name totals.
func CounterTotals(path string) (map[string]int64, error) {
	counters, err := ReadCounters(path)
	if err != nil {
		return nil, err
	}
	totals := make(map[string]int64)
	for _, c := range counters {
		totals[c.Counter] += c.Value
	}
	return totals, nil
}

// readCompleteLines returns every newline-terminated line. The final
// segment is only kept when the file ends with a newline.
func readCompleteLines(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	segments := bytes.Split(data, []byte{'\n'})
	// Split always yields a final segment: empty when the file is newline
	// terminated, a torn line otherwise. Either way it is not a record.
	segments = segments[:len(segments)-1]
	lines := make([][]byte, 0, len(segments))
	for _, seg := range segments {
		if len(bytes.TrimSpace(seg)) == 0 {
			continue
		}
		lines = append(lines, seg)
	}
	return lines, nil
}

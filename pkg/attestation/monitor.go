// SPDX-License-Identifier: Apache-2.0

package attestation

import (
	"context"
	"fmt"
	"sync"
)

// Report is the outcome of one drift check.
type Report struct {
	Severity       Severity `json:"severity"`
	BaselineHash   string   `json:"baseline_hash"`
	CurrentHash    string   `json:"current_hash"`
	Recommendation string   `json:"recommendation"`
}

type baseline struct {
	text string
	hash string
}

// Monitor tracks instruction baselines per task and grades drift on every
// check. The source and classifier are injected at construction; the
// monitor holds no behavior of its own beyond the baseline bookkeeping.
type Monitor struct {
	mu         sync.Mutex
	source     InstructionSource
	classifier Classifier
	baselines  map[string]baseline
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClassifier replaces the severity strategy.
func WithClassifier(c Classifier) Option {
	return func(m *Monitor) {
		if c != nil {
			m.classifier = c
		}
	}
}

// NewMonitor creates a monitor reading from source, grading with the
// keyword classifier unless overridden.
func NewMonitor(source InstructionSource, opts ...Option) *Monitor {
	m := &Monitor{
		source:     source,
		classifier: NewKeywordClassifier(),
		baselines:  make(map[string]baseline),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Baseline records the current instructions as the task's baseline. Called
// once per cycle on STRATEGIZE entry; calling it again for an open task is
// a no-op so the baseline is set exactly once.
func (m *Monitor) Baseline(ctx context.Context, taskID string) (string, error) {
	text, err := m.source.EffectiveInstructions(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("attestation baseline: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.baselines[taskID]; ok {
		return existing.hash, nil
	}
	b := baseline{text: text, hash: Hash(text)}
	m.baselines[taskID] = b
	return b.hash, nil
}

// Check grades the current instructions against the task's baseline.
// A task without a baseline gets one established now and reports no drift.
func (m *Monitor) Check(ctx context.Context, taskID string) (Report, error) {
	current, err := m.source.EffectiveInstructions(ctx, taskID)
	if err != nil {
		return Report{}, fmt.Errorf("attestation check: %w", err)
	}

	m.mu.Lock()
	b, ok := m.baselines[taskID]
	if !ok {
		b = baseline{text: current, hash: Hash(current)}
		m.baselines[taskID] = b
	}
	m.mu.Unlock()

	severity := m.classifier.Classify(b.text, current)
	return Report{
		Severity:       severity,
		BaselineHash:   b.hash,
		CurrentHash:    Hash(current),
		Recommendation: recommendation(severity),
	}, nil
}

// RefreshBaseline replaces the task's baseline with the current
// instructions. This is the explicit operator action that unblocks a
// drift-halted cycle; transitions never trigger it.
func (m *Monitor) RefreshBaseline(ctx context.Context, taskID string) (string, error) {
	text, err := m.source.EffectiveInstructions(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("attestation refresh: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := baseline{text: text, hash: Hash(text)}
	m.baselines[taskID] = b
	return b.hash, nil
}

// Drop forgets the baseline for a task. Called when a cycle closes.
func (m *Monitor) Drop(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.baselines, taskID)
}

func recommendation(s Severity) string {
	switch s {
	case SeverityNone, SeverityLow:
		return "proceed"
	case SeverityMedium:
		return "review instruction changes"
	default:
		return "halt: refresh baseline required"
	}
}

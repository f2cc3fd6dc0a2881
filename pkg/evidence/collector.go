// SPDX-License-Identifier: Apache-2.0

// Package evidence accumulates proof-of-work per task and phase and decides
// whether a phase meets its completion criteria.
//
// Producers outside the core report proof as it happens:
//
//	col.RecordToolCall("T1", phase.Implement, "edit internal/server.go")
//	col.RecordTestRun("T1", phase.Verify, 12)
//
// The enforcer calls Finalize before committing a transition. Missing
// evidence is reported as human-readable reasons, never as errors.
package evidence

import (
	"fmt"
	"sync"

	"github.com/phasegate/phasegate/pkg/phase"
)

// Requirement is the per-phase evidence bar.
type Requirement struct {
	MinTests        int  `yaml:"min_tests"`
	MinCalls        int  `yaml:"min_calls"`
	RequireArtifact bool `yaml:"require_artifact"`
}

// Result is the outcome of finalizing one phase's evidence.
type Result struct {
	MeetsCompletionCriteria bool
	MissingEvidence         []string
	State                   phase.EvidenceState
}

// DefaultRequirements returns the built-in evidence bar: early phases must
// leave a textual artifact, Implement needs at least one real tool call,
// Verify needs at least one test run.
func DefaultRequirements() map[phase.Phase]Requirement {
	return map[phase.Phase]Requirement{
		phase.Strategize: {RequireArtifact: true},
		phase.Spec:       {RequireArtifact: true},
		phase.Plan:       {RequireArtifact: true},
		phase.Think:      {RequireArtifact: true},
		phase.Implement:  {MinCalls: 1},
		phase.Verify:     {MinTests: 1},
		phase.Review:     {RequireArtifact: true},
		phase.PR:         {RequireArtifact: true},
		phase.Monitor:    {},
	}
}

type accumulator struct {
	collected []string
	realCalls int
	testsRun  int
}

// Collector tracks evidence per task and phase. Safe for concurrent use.
type Collector struct {
	mu           sync.Mutex
	requirements map[phase.Phase]Requirement
	acc          map[string]map[phase.Phase]*accumulator
}

// NewCollector creates a collector with the default requirements.
func NewCollector() *Collector {
	return &Collector{
		requirements: DefaultRequirements(),
		acc:          make(map[string]map[phase.Phase]*accumulator),
	}
}

// SetRequirement overrides the evidence bar for one phase.
func (c *Collector) SetRequirement(p phase.Phase, req Requirement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requirements[p] = req
}

// Requirement returns the current bar for a phase.
func (c *Collector) Requirement(p phase.Phase) Requirement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requirements[p]
}

// StartCollection resets the accumulator for a task's phase. Called by the
// enforcer whenever a phase is (re-)entered.
func (c *Collector) StartCollection(taskID string, p phase.Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phaseAcc(taskID, p, true)
}

// RecordArtifact appends an opaque artifact reference (path, URL).
func (c *Collector) RecordArtifact(taskID string, p phase.Phase, ref string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	acc := c.phaseAcc(taskID, p, false)
	acc.collected = append(acc.collected, ref)
}

// RecordToolCall registers one real tool invocation for the phase.
func (c *Collector) RecordToolCall(taskID string, p phase.Phase, description string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	acc := c.phaseAcc(taskID, p, false)
	acc.realCalls++
	if description != "" {
		acc.collected = append(acc.collected, description)
	}
}

// RecordTestRun registers tests executed for the phase. count must be at
// least 1 to register a run.
func (c *Collector) RecordTestRun(taskID string, p phase.Phase, count int) {
	if count < 1 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	acc := c.phaseAcc(taskID, p, false)
	acc.testsRun += count
}

// Finalize computes the evidence verdict for a task's phase. It is
// deterministic: calling it again without new recordings yields the same
// result, which the retroactive skip check depends on.
func (c *Collector) Finalize(taskID string, p phase.Phase) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := c.requirements[p]
	acc := c.phaseAcc(taskID, p, false)

	var missing []string
	if acc.realCalls < req.MinCalls {
		missing = append(missing, "missing: real tool call")
	}
	if acc.testsRun < req.MinTests {
		missing = append(missing, "missing: test run")
	}
	if req.RequireArtifact && len(acc.collected) == 0 {
		missing = append(missing, fmt.Sprintf("missing: textual artifact for %s", p))
	}

	state := phase.EvidenceState{
		Collected: append([]string(nil), acc.collected...),
		Proven: phase.ProvenCounts{
			RealCalls: acc.realCalls,
			TestsRun:  acc.testsRun,
		},
		MeetsCompletionCriteria: len(missing) == 0,
	}
	return Result{
		MeetsCompletionCriteria: state.MeetsCompletionCriteria,
		MissingEvidence:         missing,
		State:                   state,
	}
}

// Reset drops recorded evidence for one phase of a task.
func (c *Collector) Reset(taskID string, p phase.Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if phases, ok := c.acc[taskID]; ok {
		delete(phases, p)
	}
}

// ResetAfter drops recorded evidence for every phase strictly after p.
// Used on backtrack so redone work must prove itself again.
func (c *Collector) ResetAfter(taskID string, p phase.Phase) {
	limit := phase.Index(p)
	if limit < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	phases, ok := c.acc[taskID]
	if !ok {
		return
	}
	for ph := range phases {
		if phase.Index(ph) > limit {
			delete(phases, ph)
		}
	}
}

// Drop forgets everything recorded for a task. Called when a cycle closes.
func (c *Collector) Drop(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.acc, taskID)
}

// phaseAcc returns the accumulator for taskID/p, creating it when absent.
// reset replaces any existing accumulator. Caller holds c.mu.
func (c *Collector) phaseAcc(taskID string, p phase.Phase, reset bool) *accumulator {
	phases, ok := c.acc[taskID]
	if !ok {
		phases = make(map[phase.Phase]*accumulator)
		c.acc[taskID] = phases
	}
	acc, ok := phases[p]
	if !ok || reset {
		acc = &accumulator{}
		phases[p] = acc
	}
	return acc
}

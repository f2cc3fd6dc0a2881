// SPDX-License-Identifier: Apache-2.0

package phase

import "time"

// TransitionOutcome labels a history entry.
type TransitionOutcome string

const (
	OutcomeCommitted TransitionOutcome = "committed"
	OutcomeRejected  TransitionOutcome = "rejected"
)

// TransitionRecord is one committed phase change in a cycle's history.
type TransitionRecord struct {
	Timestamp time.Time         `json:"timestamp"`
	From      Phase             `json:"from_phase"`
	To        Phase             `json:"to_phase"`
	Outcome   TransitionOutcome `json:"outcome"`
	Reasons   []string          `json:"reasons,omitempty"`
}

// ProvenCounts tallies hard proof of work recorded for one phase.
type ProvenCounts struct {
	RealCalls int `json:"real_calls"`
	TestsRun  int `json:"tests_run"`
}

// EvidenceState is the finalized evidence picture for one phase of one task.
type EvidenceState struct {
	Collected               []string     `json:"collected,omitempty"`
	Proven                  ProvenCounts `json:"proven"`
	MeetsCompletionCriteria bool         `json:"meets_completion_criteria"`
}

// AttestationState tracks instruction drift bookkeeping for one cycle.
// BaselineHash is fixed when the cycle is created and only changes through
// an explicit operator refresh.
type AttestationState struct {
	BaselineHash    string `json:"baseline_hash"`
	LastCheckedHash string `json:"last_checked_hash,omitempty"`
	LastSeverity    string `json:"last_severity,omitempty"`
}

// Cycle is the authoritative per-task record. It is owned exclusively by the
// enforcer; collaborators receive copies or read-only views.
type Cycle struct {
	TaskID      string
	Current     Phase
	ClosedAt    time.Time
	History     []TransitionRecord
	Evidence    map[Phase]EvidenceState
	Attestation AttestationState
}

// NewCycle creates an open cycle positioned at Strategize.
func NewCycle(taskID string) *Cycle {
	return &Cycle{
		TaskID:   taskID,
		Current:  Strategize,
		Evidence: make(map[Phase]EvidenceState),
	}
}

// Closed reports whether the cycle reached its terminal state.
func (c *Cycle) Closed() bool { return !c.ClosedAt.IsZero() }

// ClearEvidenceAfter drops evidence for every phase strictly after p.
// Used on backtrack so redone phases must prove their work again.
func (c *Cycle) ClearEvidenceAfter(p Phase) {
	limit := Index(p)
	if limit < 0 {
		return
	}
	for ph := range c.Evidence {
		if Index(ph) > limit {
			delete(c.Evidence, ph)
		}
	}
}

// Snapshot returns a deep copy safe to hand to callers.
func (c *Cycle) Snapshot() Cycle {
	out := Cycle{
		TaskID:      c.TaskID,
		Current:     c.Current,
		ClosedAt:    c.ClosedAt,
		Attestation: c.Attestation,
	}
	out.History = append([]TransitionRecord(nil), c.History...)
	out.Evidence = make(map[Phase]EvidenceState, len(c.Evidence))
	for ph, ev := range c.Evidence {
		cp := ev
		cp.Collected = append([]string(nil), ev.Collected...)
		out.Evidence[ph] = cp
	}
	return out
}

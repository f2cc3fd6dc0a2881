// SPDX-License-Identifier: Apache-2.0

package gate

import (
	"context"
	"fmt"
	"sync"

	"github.com/phasegate/phasegate/pkg/phase"
)

// Validation is the outcome of one phase validation.
type Validation struct {
	Passed bool
	Errors []string
}

// Validator checks that the work claimed for a phase actually holds up.
// Validators must be deterministic given identical external state: repeated
// calls without changes yield identical results.
type Validator func(ctx context.Context, pc phase.Context) Validation

// ValidationGate holds the per-phase validator registry. A phase without a
// registered validator fails closed, forcing explicit registration before
// any transition out of it can commit.
type ValidationGate struct {
	mu         sync.RWMutex
	validators map[phase.Phase]Validator
}

// NewValidationGate creates an empty (fail-closed) gate.
func NewValidationGate() *ValidationGate {
	return &ValidationGate{validators: make(map[phase.Phase]Validator)}
}

// Register installs the validator for a phase, replacing any previous one.
func (g *ValidationGate) Register(p phase.Phase, v Validator) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.validators[p] = v
}

// Validate runs the registered validator for the context's phase.
func (g *ValidationGate) Validate(ctx context.Context, pc phase.Context) Validation {
	if err := pc.Validate(); err != nil {
		return Validation{Passed: false, Errors: []string{err.Error()}}
	}
	g.mu.RLock()
	v, ok := g.validators[pc.Phase]
	g.mu.RUnlock()
	if !ok {
		return Validation{
			Passed: false,
			Errors: []string{fmt.Sprintf("no validator registered for phase %s", pc.Phase)},
		}
	}
	return v(ctx, pc)
}

// PassValidator accepts unconditionally. Useful for phases whose gate lives
// entirely in evidence requirements.
func PassValidator(context.Context, phase.Context) Validation {
	return Validation{Passed: true}
}

// SPDX-License-Identifier: Apache-2.0

// Package phase defines the ordered engineering phases a task moves through
// and the cycle record that tracks one task's progression.
package phase

import (
	"fmt"
	"strings"
)

// Phase identifies one stage of the engineering process.
type Phase string

const (
	Strategize Phase = "STRATEGIZE"
	Spec       Phase = "SPEC"
	Plan       Phase = "PLAN"
	Think      Phase = "THINK"
	Implement  Phase = "IMPLEMENT"
	Verify     Phase = "VERIFY"
	Review     Phase = "REVIEW"
	PR         Phase = "PR"
	Monitor    Phase = "MONITOR"

	// Closed is a virtual terminal state reachable only from Monitor.
	// It is never a valid target for an advance request.
	Closed Phase = "CLOSED"
)

// Order is the fixed total order of working phases. Closed is deliberately
// absent: it is entered through Enforcer.Close, not through advancement.
var Order = []Phase{
	Strategize,
	Spec,
	Plan,
	Think,
	Implement,
	Verify,
	Review,
	PR,
	Monitor,
}

// indexOf maps each working phase to its position in Order. Ordering
// decisions go through this table, never through string comparison.
var indexOf = func() map[Phase]int {
	m := make(map[Phase]int, len(Order))
	for i, p := range Order {
		m[p] = i
	}
	return m
}()

// Index returns the position of p in the fixed order, or -1 when p is not a
// working phase (including Closed).
func Index(p Phase) int {
	if i, ok := indexOf[p]; ok {
		return i
	}
	return -1
}

// Valid reports whether p is a working phase.
func Valid(p Phase) bool {
	_, ok := indexOf[p]
	return ok
}

// Next returns the phase after p in the fixed order. The second return is
// false when p is Monitor (no successor) or not a working phase.
func Next(p Phase) (Phase, bool) {
	i, ok := indexOf[p]
	if !ok || i+1 >= len(Order) {
		return "", false
	}
	return Order[i+1], true
}

// Between returns the phases strictly between from and to in the fixed
// order. Both arguments must be working phases with Index(from) < Index(to),
// otherwise the result is empty.
func Between(from, to Phase) []Phase {
	fi, fok := indexOf[from]
	ti, tok := indexOf[to]
	if !fok || !tok || ti-fi < 2 {
		return nil
	}
	out := make([]Phase, 0, ti-fi-1)
	for i := fi + 1; i < ti; i++ {
		out = append(out, Order[i])
	}
	return out
}

// Parse converts a string to a working phase. It accepts any casing.
func Parse(s string) (Phase, error) {
	p := Phase(strings.ToUpper(strings.TrimSpace(s)))
	if !Valid(p) {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}

// String implements fmt.Stringer.
func (p Phase) String() string { return string(p) }

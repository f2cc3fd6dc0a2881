// SPDX-License-Identifier: Apache-2.0

package phase

import "fmt"

// Context carries the per-phase inputs a validator is allowed to see.
// It replaces untyped context maps: required fields are checked at the call
// boundary so a validator never fails deep inside on a missing key.
type Context struct {
	TaskID string
	Phase  Phase

	// WorkDir is the directory the phase's artifacts live under. Required
	// for phases that produce files.
	WorkDir string

	// Artifacts are opaque references (paths, URLs) reported for the phase.
	Artifacts []string

	// Attributes holds optional validator-specific string fields.
	Attributes map[string]string
}

// Validate checks boundary requirements before a validator runs.
func (c Context) Validate() error {
	if c.TaskID == "" {
		return fmt.Errorf("phase context: task id is required")
	}
	if !Valid(c.Phase) {
		return fmt.Errorf("phase context: invalid phase %q", c.Phase)
	}
	return nil
}

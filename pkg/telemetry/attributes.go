// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides the audit trail sinks and OpenTelemetry
// integration for the phasegate core.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for phasegate telemetry.
// These follow OpenTelemetry naming conventions where applicable.
const (
	// Task attributes
	AttrTaskID = "phasegate.task.id"

	// Phase attributes
	AttrPhaseCurrent = "phasegate.phase.current"
	AttrPhaseTarget  = "phasegate.phase.target"
	AttrPhaseFrom    = "phasegate.phase.from"
	AttrPhaseTo      = "phasegate.phase.to"
	AttrIntent       = "phasegate.transition.intent"
	AttrOutcome      = "phasegate.transition.outcome"
	AttrReasons      = "phasegate.transition.reasons"

	// Validation attributes
	AttrValidationPassed = "phasegate.validation.passed"
	AttrEvidenceComplete = "phasegate.evidence.complete"

	// Attestation attributes
	AttrDriftSeverity = "phasegate.drift.severity"
	AttrBaselineHash  = "phasegate.drift.baseline_hash"
	AttrCurrentHash   = "phasegate.drift.current_hash"
)

// Span names emitted by the enforcer. Downstream audit tooling filters on
// these exact names.
const (
	SpanTransition = "agent.state.transition"
	SpanValidation = "process.validation"
)

// TaskAttrs builds the base attribute set for task-scoped spans.
func TaskAttrs(taskID string, current, target string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrTaskID, taskID),
		attribute.String(AttrPhaseCurrent, current),
		attribute.String(AttrPhaseTarget, target),
	}
}

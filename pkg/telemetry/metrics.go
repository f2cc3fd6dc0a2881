// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GateMetrics mirrors the audit counter stream into OTEL instruments so the
// same numbers are visible on dashboards without parsing the JSONL files.
type GateMetrics struct {
	// skipsAttempted counts skip requests that were refused
	skipsAttempted metric.Int64Counter

	// validationsFailed counts rejected transitions due to validation or
	// missing evidence
	validationsFailed metric.Int64Counter

	// backtracks counts accepted regressions to an earlier phase
	backtracks metric.Int64Counter

	// driftDetected counts medium-severity instruction drift observations
	driftDetected metric.Int64Counter

	// transitions counts committed phase transitions by from/to phase
	transitions metric.Int64Counter
}

// NewGateMetrics creates the gate metric instruments on the global meter.
func NewGateMetrics() (*GateMetrics, error) {
	meter := otel.Meter("phasegate/gate")

	skips, err := meter.Int64Counter(
		"phasegate.skips.attempted",
		metric.WithDescription("Skip requests refused by the enforcer"),
	)
	if err != nil {
		return nil, err
	}

	validations, err := meter.Int64Counter(
		"phasegate.validations.failed",
		metric.WithDescription("Transitions rejected by validation or evidence gates"),
	)
	if err != nil {
		return nil, err
	}

	backtracks, err := meter.Int64Counter(
		"phasegate.backtracks",
		metric.WithDescription("Accepted regressions to an earlier phase"),
	)
	if err != nil {
		return nil, err
	}

	drift, err := meter.Int64Counter(
		"phasegate.drift.detected",
		metric.WithDescription("Instruction drift observations allowed with a warning"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter(
		"phasegate.transitions.committed",
		metric.WithDescription("Committed phase transitions"),
	)
	if err != nil {
		return nil, err
	}

	return &GateMetrics{
		skipsAttempted:    skips,
		validationsFailed: validations,
		backtracks:        backtracks,
		driftDetected:     drift,
		transitions:       transitions,
	}, nil
}

// RecordCounter increments the OTEL instrument matching an audit counter
// name. Unknown names are ignored so emitting ahead of a dashboard rollout
// never breaks a transition.
func (gm *GateMetrics) RecordCounter(ctx context.Context, name, taskID string) {
	if gm == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrTaskID, taskID))
	switch name {
	case CounterSkipsAttempted:
		gm.skipsAttempted.Add(ctx, 1, attrs)
	case CounterValidationsFailed:
		gm.validationsFailed.Add(ctx, 1, attrs)
	case CounterBacktracks:
		gm.backtracks.Add(ctx, 1, attrs)
	case CounterDriftDetected:
		gm.driftDetected.Add(ctx, 1, attrs)
	}
}

// RecordTransition records one committed transition.
func (gm *GateMetrics) RecordTransition(ctx context.Context, taskID, from, to string) {
	if gm == nil {
		return
	}
	gm.transitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(AttrTaskID, taskID),
			attribute.String(AttrPhaseFrom, from),
			attribute.String(AttrPhaseTo, to),
		),
	)
}

// SPDX-License-Identifier: Apache-2.0

// Package gate enforces the phase protocol: a task advances through the
// fixed phase order only when its validation gate passes, its evidence is
// complete, and its instructions have not drifted from the baseline.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/phasegate/phasegate/pkg/attestation"
	gerrors "github.com/phasegate/phasegate/pkg/errors"
	"github.com/phasegate/phasegate/pkg/evidence"
	"github.com/phasegate/phasegate/pkg/phase"
	"github.com/phasegate/phasegate/pkg/telemetry"
)

// Intent classifies what a transition request is trying to do.
type Intent string

const (
	IntentNoOp      Intent = "no_op"
	IntentAdvance   Intent = "advance"
	IntentSkip      Intent = "skip"
	IntentBacktrack Intent = "backtrack"
	IntentClose     Intent = "close"
)

// TransitionResult reports the outcome of one advance request. Recoverable
// rejections land here as reasons; only caller bugs surface as errors.
type TransitionResult struct {
	Accepted bool
	Phase    phase.Phase
	Intent   Intent
	Reasons  []string
}

// AdvanceRequest carries the optional parts of an advance call.
type AdvanceRequest struct {
	// Target is the requested phase. Empty means the next phase in order.
	Target phase.Phase

	// Override is the explicit flag a skip requires. Even with it set,
	// every skipped phase must already meet its completion criteria.
	Override bool

	// Context is handed to the validator for the phase being left. TaskID
	// and Phase are filled in by the enforcer.
	Context phase.Context
}

// ValidationStrategy is the pluggable per-phase pass/fail check.
type ValidationStrategy interface {
	Register(p phase.Phase, v Validator)
	Validate(ctx context.Context, pc phase.Context) Validation
}

// EvidenceStrategy accumulates and judges proof-of-work per phase.
type EvidenceStrategy interface {
	StartCollection(taskID string, p phase.Phase)
	RecordArtifact(taskID string, p phase.Phase, ref string)
	RecordToolCall(taskID string, p phase.Phase, description string)
	RecordTestRun(taskID string, p phase.Phase, count int)
	Finalize(taskID string, p phase.Phase) evidence.Result
	SetRequirement(p phase.Phase, req evidence.Requirement)
	ResetAfter(taskID string, p phase.Phase)
	Drop(taskID string)
}

// AttestationStrategy detects instruction drift per task. RefreshBaseline
// is the operator escape hatch; the enforcer only calls it from its own
// RefreshBaseline, never as part of a transition.
type AttestationStrategy interface {
	Baseline(ctx context.Context, taskID string) (string, error)
	Check(ctx context.Context, taskID string) (attestation.Report, error)
	RefreshBaseline(ctx context.Context, taskID string) (string, error)
	Drop(taskID string)
}

// Enforcer owns the task cycles and decides every transition. All state
// lives in the injected store; two enforcers never share anything unless
// they are given the same dependencies.
type Enforcer struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	store       CycleStore
	validation  ValidationStrategy
	evidence    EvidenceStrategy
	attestation AttestationStrategy
	emitter     telemetry.Emitter
	metrics     *telemetry.GateMetrics
	history     HistoryStore
	tracer      trace.Tracer
	now         func() time.Time
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithStore injects the cycle store.
func WithStore(s CycleStore) Option {
	return func(e *Enforcer) {
		if s != nil {
			e.store = s
		}
	}
}

// WithValidation injects the validation strategy.
func WithValidation(v ValidationStrategy) Option {
	return func(e *Enforcer) {
		if v != nil {
			e.validation = v
		}
	}
}

// WithEvidence injects the evidence strategy.
func WithEvidence(ev EvidenceStrategy) Option {
	return func(e *Enforcer) {
		if ev != nil {
			e.evidence = ev
		}
	}
}

// WithAttestation injects the drift monitor.
func WithAttestation(a AttestationStrategy) Option {
	return func(e *Enforcer) {
		if a != nil {
			e.attestation = a
		}
	}
}

// WithEmitter injects the audit span/counter sink.
func WithEmitter(em telemetry.Emitter) Option {
	return func(e *Enforcer) {
		if em != nil {
			e.emitter = em
		}
	}
}

// WithMetrics injects the OTEL mirror for audit counters.
func WithMetrics(gm *telemetry.GateMetrics) Option {
	return func(e *Enforcer) {
		e.metrics = gm
	}
}

// WithHistoryStore injects the persistent transition history.
func WithHistoryStore(h HistoryStore) Option {
	return func(e *Enforcer) {
		if h != nil {
			e.history = h
		}
	}
}

// WithClock overrides the time source. Tests use it for stable timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Enforcer) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an enforcer. Defaults: in-memory stores, fail-closed
// validation gate, default evidence requirements, a drift monitor over
// empty static instructions, and a no-op telemetry sink.
func New(opts ...Option) *Enforcer {
	e := &Enforcer{
		locks:       make(map[string]*sync.Mutex),
		store:       NewMemoryCycleStore(),
		validation:  NewValidationGate(),
		evidence:    evidence.NewCollector(),
		attestation: attestation.NewMonitor(attestation.NewStaticSource("")),
		emitter:     telemetry.NopEmitter{},
		history:     NewMemoryHistoryStore(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.tracer = otel.Tracer("phasegate/gate")
	return e
}

// StartCycle creates the cycle for a task at STRATEGIZE and records the
// instruction baseline. Re-calling on an open cycle is idempotent.
func (e *Enforcer) StartCycle(ctx context.Context, taskID string) (phase.Phase, error) {
	if strings.TrimSpace(taskID) == "" {
		return "", gerrors.New(gerrors.CodeInvalidInput, "task id is required", nil)
	}
	ctx = telemetry.WithTask(ctx, taskID)
	lock := e.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	if cycle, ok := e.store.Get(taskID); ok {
		if cycle.Closed() {
			return "", gerrors.New(gerrors.CodeCycleClosed, "cycle already closed", nil).
				WithContext("task_id", taskID)
		}
		return cycle.Current, nil
	}

	hash, err := e.attestation.Baseline(ctx, taskID)
	if err != nil {
		return "", gerrors.New(gerrors.CodeInternal, "record instruction baseline", err).
			WithContext("task_id", taskID)
	}
	cycle := phase.NewCycle(taskID)
	cycle.Attestation.BaselineHash = hash
	e.store.Put(cycle)

	slog.InfoContext(ctx, "cycle.start",
		slog.String("phase", string(phase.Strategize)),
		slog.String("baseline_hash", hash),
	)
	return phase.Strategize, nil
}

// CurrentPhase returns the task's phase, or false when the task has no
// cycle.
func (e *Enforcer) CurrentPhase(taskID string) (phase.Phase, bool) {
	cycle, ok := e.store.Get(taskID)
	if !ok {
		return "", false
	}
	return cycle.Current, true
}

// AdvancePhase classifies and, when every gate passes, commits a phase
// transition. Recoverable rejections are reported through the result;
// the error return is reserved for caller bugs (unknown task, malformed
// phase, closed cycle).
func (e *Enforcer) AdvancePhase(ctx context.Context, taskID string, req AdvanceRequest) (TransitionResult, error) {
	ctx = telemetry.WithTask(ctx, taskID)
	lock := e.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	cycle, ok := e.store.Get(taskID)
	if !ok {
		return TransitionResult{}, gerrors.New(gerrors.CodeUnknownTask, "task has no cycle; call StartCycle first", nil).
			WithContext("task_id", taskID)
	}
	if cycle.Closed() {
		return TransitionResult{}, gerrors.New(gerrors.CodeCycleClosed, "cycle already closed", nil).
			WithContext("task_id", taskID)
	}

	current := cycle.Current
	expectedNext, hasNext := phase.Next(current)

	var target phase.Phase
	switch {
	case req.Target != "":
		if !phase.Valid(req.Target) {
			return TransitionResult{}, gerrors.New(gerrors.CodeInvalidInput, fmt.Sprintf("invalid phase %q", req.Target), nil)
		}
		target = req.Target
	case hasNext:
		target = expectedNext
	default:
		// At MONITOR with nothing requested there is nowhere to go.
		return TransitionResult{
			Accepted: true,
			Phase:    current,
			Intent:   IntentNoOp,
			Reasons:  []string{"no next phase; close the cycle to finish"},
		}, nil
	}

	parentSC := trace.SpanFromContext(ctx).SpanContext()
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "Enforcer.AdvancePhase", trace.WithAttributes(
		telemetry.TaskAttrs(taskID, string(current), string(target))...,
	))
	defer span.End()

	intent := classify(current, target, expectedNext, hasNext)
	span.SetAttributes(attribute.String(telemetry.AttrIntent, string(intent)))

	reject := func(reasons []string, counters ...string) TransitionResult {
		for _, name := range counters {
			e.count(ctx, name, taskID)
		}
		e.emitSpan(ctx, span, parentSC, telemetry.SpanValidation, telemetry.StatusError, start, map[string]string{
			telemetry.AttrTaskID:       taskID,
			telemetry.AttrPhaseCurrent: string(current),
			telemetry.AttrPhaseTarget:  string(target),
			telemetry.AttrIntent:       string(intent),
			telemetry.AttrOutcome:      string(phase.OutcomeRejected),
			telemetry.AttrReasons:      strings.Join(reasons, "; "),
		})
		e.recordHistory(ctx, HistoryEvent{
			TaskID:    taskID,
			From:      current,
			To:        target,
			Intent:    intent,
			Outcome:   phase.OutcomeRejected,
			Reasons:   reasons,
			CreatedAt: e.now(),
		})
		slog.WarnContext(ctx, "transition.rejected",
			slog.String("from", string(current)),
			slog.String("to", string(target)),
			slog.String("intent", string(intent)),
			slog.Any("reasons", reasons),
		)
		return TransitionResult{Accepted: false, Phase: current, Intent: intent, Reasons: reasons}
	}

	if intent == IntentNoOp {
		return TransitionResult{
			Accepted: true,
			Phase:    current,
			Intent:   IntentNoOp,
			Reasons:  []string{fmt.Sprintf("already at %s", current)},
		}, nil
	}

	// A skip without the explicit override flag never runs the gates: the
	// request itself is illegitimate.
	if intent == IntentSkip && !req.Override {
		return reject(
			[]string{fmt.Sprintf("skip to %s rejected: override not set", target)},
			telemetry.CounterSkipsAttempted,
		), nil
	}

	pc := req.Context
	pc.TaskID = taskID
	pc.Phase = current

	validation := e.validation.Validate(ctx, pc)
	evres := e.evidence.Finalize(taskID, current)

	// A timed-out gate is indistinguishable from a failed one: nothing
	// commits.
	if err := ctx.Err(); err != nil {
		return reject(
			[]string{"validation timed out: " + err.Error()},
			telemetry.CounterValidationsFailed,
		), nil
	}

	if intent == IntentSkip {
		var missing []string
		for _, p := range phase.Between(current, target) {
			if r := e.evidence.Finalize(taskID, p); !r.MeetsCompletionCriteria {
				missing = append(missing, fmt.Sprintf("retroactive evidence missing for %s", p))
			}
		}
		if len(missing) > 0 {
			return reject(missing, telemetry.CounterSkipsAttempted), nil
		}
	}

	if intent == IntentAdvance || intent == IntentSkip {
		var reasons []string
		if !validation.Passed {
			if len(validation.Errors) > 0 {
				reasons = append(reasons, validation.Errors...)
			} else {
				reasons = append(reasons, fmt.Sprintf("validation failed for %s", current))
			}
		}
		if !evres.MeetsCompletionCriteria {
			reasons = append(reasons, evres.MissingEvidence...)
		}
		if len(reasons) > 0 {
			return reject(reasons, telemetry.CounterValidationsFailed), nil
		}
	}

	report, err := e.attestation.Check(ctx, taskID)
	if err != nil {
		return reject([]string{"attestation check failed: " + err.Error()}), nil
	}
	span.SetAttributes(attribute.String(telemetry.AttrDriftSeverity, string(report.Severity)))

	var commitReasons []string
	switch report.Severity {
	case attestation.SeverityHigh:
		// Drift at high severity halts everything, validation outcome
		// notwithstanding. Only an operator baseline refresh unblocks.
		return reject([]string{"drift blocked: " + report.Recommendation}), nil
	case attestation.SeverityMedium:
		commitReasons = append(commitReasons, "instruction drift detected: "+report.Recommendation)
		e.count(ctx, telemetry.CounterDriftDetected, taskID)
	}

	// Every reject path is behind us; the cycle record changes only on a
	// committed transition.
	cycle.Attestation.LastCheckedHash = report.CurrentHash
	cycle.Attestation.LastSeverity = string(report.Severity)

	if intent == IntentBacktrack {
		e.count(ctx, telemetry.CounterBacktracks, taskID)
		cycle.ClearEvidenceAfter(target)
		e.evidence.ResetAfter(taskID, target)
	} else {
		cycle.Evidence[current] = evres.State
	}

	cycle.History = append(cycle.History, phase.TransitionRecord{
		Timestamp: e.now(),
		From:      current,
		To:        target,
		Outcome:   phase.OutcomeCommitted,
		Reasons:   commitReasons,
	})
	cycle.Current = target

	e.metrics.RecordTransition(ctx, taskID, string(current), string(target))
	e.emitSpan(ctx, span, parentSC, telemetry.SpanTransition, telemetry.StatusOK, start, map[string]string{
		telemetry.AttrTaskID:       taskID,
		telemetry.AttrPhaseCurrent: string(current),
		telemetry.AttrPhaseTarget:  string(target),
		telemetry.AttrIntent:       string(intent),
		telemetry.AttrOutcome:      string(phase.OutcomeCommitted),
	})
	e.recordHistory(ctx, HistoryEvent{
		TaskID:    taskID,
		From:      current,
		To:        target,
		Intent:    intent,
		Outcome:   phase.OutcomeCommitted,
		Reasons:   commitReasons,
		CreatedAt: e.now(),
	})
	slog.InfoContext(ctx, "transition.committed",
		slog.String("from", string(current)),
		slog.String("to", string(target)),
		slog.String("intent", string(intent)),
	)
	return TransitionResult{Accepted: true, Phase: target, Intent: intent, Reasons: commitReasons}, nil
}

// Close moves a cycle from MONITOR to its terminal state. A closed cycle
// stays queryable but rejects every further mutation.
func (e *Enforcer) Close(ctx context.Context, taskID string) error {
	ctx = telemetry.WithTask(ctx, taskID)
	lock := e.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	cycle, ok := e.store.Get(taskID)
	if !ok {
		return gerrors.New(gerrors.CodeUnknownTask, "task has no cycle", nil).
			WithContext("task_id", taskID)
	}
	if cycle.Closed() {
		return gerrors.New(gerrors.CodeCycleClosed, "cycle already closed", nil).
			WithContext("task_id", taskID)
	}
	if cycle.Current != phase.Monitor {
		return gerrors.New(gerrors.CodeInvalidInput,
			fmt.Sprintf("close is only legal from %s, cycle is at %s", phase.Monitor, cycle.Current), nil).
			WithContext("task_id", taskID)
	}

	now := e.now()
	cycle.History = append(cycle.History, phase.TransitionRecord{
		Timestamp: now,
		From:      phase.Monitor,
		To:        phase.Closed,
		Outcome:   phase.OutcomeCommitted,
	})
	cycle.Current = phase.Closed
	cycle.ClosedAt = now

	e.evidence.Drop(taskID)
	e.attestation.Drop(taskID)

	e.recordHistory(ctx, HistoryEvent{
		TaskID:    taskID,
		From:      phase.Monitor,
		To:        phase.Closed,
		Intent:    IntentClose,
		Outcome:   phase.OutcomeCommitted,
		CreatedAt: now,
	})
	slog.InfoContext(ctx, "cycle.closed")
	return nil
}

// RefreshBaseline accepts the current instructions as the task's new drift
// baseline. This is the explicit operator action that unblocks a
// drift-halted cycle; it goes through the enforcer so the cycle record
// tracks the hash the checks actually compare against.
func (e *Enforcer) RefreshBaseline(ctx context.Context, taskID string) (string, error) {
	ctx = telemetry.WithTask(ctx, taskID)
	lock := e.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	cycle, ok := e.store.Get(taskID)
	if !ok {
		return "", gerrors.New(gerrors.CodeUnknownTask, "task has no cycle", nil).
			WithContext("task_id", taskID)
	}
	if cycle.Closed() {
		return "", gerrors.New(gerrors.CodeCycleClosed, "cycle already closed", nil).
			WithContext("task_id", taskID)
	}

	hash, err := e.attestation.RefreshBaseline(ctx, taskID)
	if err != nil {
		return "", gerrors.New(gerrors.CodeInternal, "refresh instruction baseline", err).
			WithContext("task_id", taskID)
	}
	cycle.Attestation.BaselineHash = hash

	slog.InfoContext(ctx, "baseline.refreshed",
		slog.String("baseline_hash", hash),
	)
	return hash, nil
}

// RegisterValidator installs the validator for a phase.
func (e *Enforcer) RegisterValidator(p phase.Phase, v Validator) error {
	if !phase.Valid(p) {
		return gerrors.New(gerrors.CodeInvalidInput, fmt.Sprintf("invalid phase %q", p), nil)
	}
	e.validation.Register(p, v)
	return nil
}

// RegisterEvidenceRequirement overrides the evidence bar for a phase.
func (e *Enforcer) RegisterEvidenceRequirement(p phase.Phase, req evidence.Requirement) error {
	if !phase.Valid(p) {
		return gerrors.New(gerrors.CodeInvalidInput, fmt.Sprintf("invalid phase %q", p), nil)
	}
	e.evidence.SetRequirement(p, req)
	return nil
}

// RecordArtifact forwards an artifact reference to the evidence strategy.
func (e *Enforcer) RecordArtifact(taskID string, p phase.Phase, ref string) error {
	if err := e.requireOpen(taskID); err != nil {
		return err
	}
	e.evidence.RecordArtifact(taskID, p, ref)
	return nil
}

// RecordToolCall forwards a real tool invocation to the evidence strategy.
func (e *Enforcer) RecordToolCall(taskID string, p phase.Phase, description string) error {
	if err := e.requireOpen(taskID); err != nil {
		return err
	}
	e.evidence.RecordToolCall(taskID, p, description)
	return nil
}

// RecordTestRun forwards executed tests to the evidence strategy.
func (e *Enforcer) RecordTestRun(taskID string, p phase.Phase, count int) error {
	if err := e.requireOpen(taskID); err != nil {
		return err
	}
	e.evidence.RecordTestRun(taskID, p, count)
	return nil
}

// History returns a copy of the committed transition history.
func (e *Enforcer) History(taskID string) ([]phase.TransitionRecord, error) {
	cycle, ok := e.store.Get(taskID)
	if !ok {
		return nil, gerrors.New(gerrors.CodeUnknownTask, "task has no cycle", nil).
			WithContext("task_id", taskID)
	}
	lock := e.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()
	return append([]phase.TransitionRecord(nil), cycle.History...), nil
}

// EvidenceFor returns the evidence state recorded for one phase of a task.
// The second return is false when the phase has no finalized evidence yet.
func (e *Enforcer) EvidenceFor(taskID string, p phase.Phase) (phase.EvidenceState, bool, error) {
	cycle, ok := e.store.Get(taskID)
	if !ok {
		return phase.EvidenceState{}, false, gerrors.New(gerrors.CodeUnknownTask, "task has no cycle", nil).
			WithContext("task_id", taskID)
	}
	lock := e.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()
	state, ok := cycle.Evidence[p]
	state.Collected = append([]string(nil), state.Collected...)
	return state, ok, nil
}

// Snapshot returns a deep copy of the cycle for audit tooling. Closed
// cycles remain available here.
func (e *Enforcer) Snapshot(taskID string) (phase.Cycle, error) {
	cycle, ok := e.store.Get(taskID)
	if !ok {
		return phase.Cycle{}, gerrors.New(gerrors.CodeUnknownTask, "task has no cycle", nil).
			WithContext("task_id", taskID)
	}
	lock := e.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()
	return cycle.Snapshot(), nil
}

// taskLock returns the serialization lock for one task, creating it on
// first use. Different tasks proceed fully in parallel.
func (e *Enforcer) taskLock(taskID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[taskID] = l
	}
	return l
}

func (e *Enforcer) requireOpen(taskID string) error {
	cycle, ok := e.store.Get(taskID)
	if !ok {
		return gerrors.New(gerrors.CodeUnknownTask, "task has no cycle", nil).
			WithContext("task_id", taskID)
	}
	if cycle.Closed() {
		return gerrors.New(gerrors.CodeCycleClosed, "cycle already closed", nil).
			WithContext("task_id", taskID)
	}
	return nil
}

// count emits one audit counter. Telemetry failures are logged and
// swallowed: they never affect the transition.
func (e *Enforcer) count(ctx context.Context, name, taskID string) {
	counter := telemetry.Counter{
		Counter:  name,
		Value:    1,
		Metadata: map[string]any{"task_id": taskID},
	}
	if err := e.emitter.EmitCounter(ctx, counter); err != nil {
		ge := gerrors.New(gerrors.CodeTelemetryWrite, "counter append failed", err).
			WithContext("counter", name)
		slog.WarnContext(ctx, "telemetry.drop", slog.Any("error", ge))
	}
	e.metrics.RecordCounter(ctx, name, taskID)
}

// emitSpan writes one audit span line. Trace identifiers come from the
// live OTEL span when a real tracer provider is installed; otherwise
// generated ids keep the stream self-consistent.
func (e *Enforcer) emitSpan(ctx context.Context, span trace.Span, parentSC trace.SpanContext, name string, status telemetry.SpanStatus, start time.Time, attrs map[string]string) {
	sc := span.SpanContext()
	traceID, spanID := sc.TraceID().String(), sc.SpanID().String()
	if !sc.IsValid() {
		traceID = uuid.NewString()
		spanID = uuid.NewString()
	}
	var parent *string
	if parentSC.IsValid() {
		id := parentSC.SpanID().String()
		parent = &id
	}
	record := telemetry.Span{
		TraceID:      traceID,
		SpanID:       spanID,
		ParentSpanID: parent,
		Name:         name,
		Status:       status,
		DurationMs:   float64(e.now().Sub(start)) / float64(time.Millisecond),
		Attributes:   attrs,
	}
	if err := e.emitter.EmitSpan(ctx, record); err != nil {
		ge := gerrors.New(gerrors.CodeTelemetryWrite, "span append failed", err).
			WithContext("span", name)
		slog.WarnContext(ctx, "telemetry.drop", slog.Any("error", ge))
	}
}

func (e *Enforcer) recordHistory(ctx context.Context, event HistoryEvent) {
	if err := e.history.Record(ctx, event); err != nil {
		slog.WarnContext(ctx, "history.drop",
			slog.String("outcome", string(event.Outcome)),
			slog.String("error", err.Error()),
		)
	}
}

// classify maps a request onto its transition intent. Ordering decisions
// use the index table only.
func classify(current, target, expectedNext phase.Phase, hasNext bool) Intent {
	if target == current {
		return IntentNoOp
	}
	if hasNext && target == expectedNext {
		return IntentAdvance
	}
	if hasNext && phase.Index(target) > phase.Index(expectedNext) {
		return IntentSkip
	}
	return IntentBacktrack
}

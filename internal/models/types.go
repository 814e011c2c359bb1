package models

import (
	"encoding/json"
	"strings"
	"time"
)

// ID Strategy:
// - Events use int64 sequence numbers (monotonic ordering, auto-increment).
//   The sequence doubles as the durable-log cursor for replay and dedupe.
// - Decision records use string IDs (e.g., "decision_1234567890_a3f9") so
//   callers can reference them across process restarts without coordination.

// DefaultEventPriority is assigned when a producer publishes with priority 0.
const DefaultEventPriority = 5

// Event is an immutable fact appended to the coordination log. Producers set
// Kind, Origin, Payload and optionally Priority; the bus assigns Sequence and
// OccurredAt at publish time. Events are never mutated or deleted by the core.
type Event struct {
	// Sequence is assigned by the durable log and is strictly increasing.
	Sequence int64 `json:"sequence"`
	// Kind is namespaced as "<module>.<event>", e.g. "capacity.overload_detected".
	// Core-emitted kinds are the EventKind* constants in event_kinds.go.
	Kind string `json:"kind"`
	// Origin identifies the producing module.
	Origin     string          `json:"origin"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Priority   int             `json:"priority"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// KindNamespace returns the "<module>" half of a namespaced kind, or the
// whole kind when it carries no dot.
func (e *Event) KindNamespace() string {
	if i := strings.IndexByte(e.Kind, '.'); i > 0 {
		return e.Kind[:i]
	}
	return e.Kind
}

// Outcome is the terminal label produced by the action policy engine.
type Outcome string

// Policy outcomes.
const (
	OutcomeAuto    Outcome = "auto"
	OutcomeConfirm Outcome = "confirm"
	OutcomeIgnore  Outcome = "ignore"
)

// Rank orders outcomes for monotonicity checks: AUTO > CONFIRM > IGNORE.
func (o Outcome) Rank() int {
	switch o {
	case OutcomeAuto:
		return 2
	case OutcomeConfirm:
		return 1
	default:
		return 0
	}
}

// Opportunity is a short-lived candidate action produced by a detector.
// It is consumed once by the policy engine and then discarded or converted
// into an executed-action event.
type Opportunity struct {
	ActionKind string `json:"action_kind"`
	// Confidence is the detector's raw score in [0,1] before adjustment rules.
	Confidence float64 `json:"confidence"`
	// Entities carries the structured extraction relevant to executing the
	// action (resolved timestamps, contact names, phrases). Schema is owned
	// by the detector; the engine only inspects well-known keys.
	Entities      map[string]string `json:"entities,omitempty"`
	SourceEventID int64             `json:"source_event_id,omitempty"`
}

// HasEntity reports whether the named entity is present and non-empty.
func (o *Opportunity) HasEntity(key string) bool {
	return strings.TrimSpace(o.Entities[key]) != ""
}

// CyclePhase is the wellness module's coarse phase signal folded into context.
type CyclePhase string

// Cycle phase constants.
const (
	PhaseUnknown   CyclePhase = ""
	PhaseRest      CyclePhase = "rest"
	PhaseBuild     CyclePhase = "build"
	PhasePeak      CyclePhase = "peak"
	PhaseProtected CyclePhase = "protected"
)

// IsProtected reports whether the phase suppresses interruptions.
func (p CyclePhase) IsProtected() bool {
	return p == PhaseProtected || p == PhaseRest
}

// ActivityClass is the derived "what kind of work fits right now" signal.
type ActivityClass string

// Activity class constants.
const (
	ActivityDeepWork ActivityClass = "deep_work"
	ActivityAdmin    ActivityClass = "admin"
	ActivitySocial   ActivityClass = "social"
	ActivityRecovery ActivityClass = "recovery"
)

// Context field names. Reducers are registered against these; domain modules
// may register additional fields at startup.
const (
	FieldCyclePhase           = "cycle_phase"
	FieldWorkloadPct          = "workload_pct"
	FieldActiveFocus          = "active_focus"
	FieldStressLevel          = "stress_level"
	FieldEnergyLevel          = "energy_level"
	FieldPendingInterruptions = "pending_interruptions"
)

// ContextSnapshot is an immutable point-in-time copy of the global context.
// It is produced by the context store's fold worker; callers never receive a
// live reference. Every mutation is attributable to exactly one event.
// Accessors take value receivers so they work on snapshots returned by value.
type ContextSnapshot struct {
	Fields map[string]any `json:"fields"`
	// Version increments on every fold that changes at least one field.
	Version int64 `json:"version"`
	// LastSequence is the sequence of the event that produced this version.
	LastSequence int64     `json:"last_sequence"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Field returns the named field value, or nil when unset.
func (c ContextSnapshot) Field(name string) any {
	return c.Fields[name]
}

// BoolField returns the named field as a bool, false when unset or mistyped.
func (c ContextSnapshot) BoolField(name string) bool {
	v, _ := c.Fields[name].(bool)
	return v
}

// FloatField returns the named field as a float64, handling the int types
// reducers commonly produce. Returns 0 when unset.
func (c ContextSnapshot) FloatField(name string) float64 {
	switch v := c.Fields[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// StringField returns the named field as a string, "" when unset.
func (c ContextSnapshot) StringField(name string) string {
	v, _ := c.Fields[name].(string)
	return v
}

// Phase returns the folded cycle phase.
func (c ContextSnapshot) Phase() CyclePhase {
	return CyclePhase(c.StringField(FieldCyclePhase))
}

// ActiveFocus reports whether a focus session is in progress.
func (c ContextSnapshot) ActiveFocus() bool {
	return c.BoolField(FieldActiveFocus)
}

// WorkloadPct returns the folded workload percentage (0-100+).
func (c ContextSnapshot) WorkloadPct() float64 {
	return c.FloatField(FieldWorkloadPct)
}

// DecisionRecord is the persisted output of one resolver call. Immutable
// after Executed is set, except for the later Outcome update.
type DecisionRecord struct {
	ID        string `json:"id"`
	Situation string `json:"situation"`
	// ModulesConsulted lists only the modules that actually supplied input;
	// timed-out or unavailable modules appear in ModulesAbsent instead.
	ModulesConsulted []string `json:"modules_consulted"`
	ModulesAbsent    []string `json:"modules_absent,omitempty"`
	// ContextVersion pins the context snapshot consulted at decision time.
	ContextVersion    int64              `json:"context_version"`
	OptionsConsidered []string           `json:"options_considered"`
	ChosenOption      string             `json:"chosen_option"`
	Justification     string             `json:"justification"`
	Scores            map[string]float64 `json:"scores,omitempty"`
	Executed          bool               `json:"executed"`
	Outcome           string             `json:"outcome,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	ExecutedAt        *time.Time         `json:"executed_at,omitempty"`
}

// IsExecuted reports whether the chosen option has been acted on.
func (d *DecisionRecord) IsExecuted() bool {
	return d.Executed
}

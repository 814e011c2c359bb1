package models

// Core event kinds emitted by chord's own components. Kinds are namespaced
// "<module>.<event>"; the "bus", "context" and "decision" namespaces are
// reserved for the core.
const (
	EventKindContextUpdated       = "context.updated"
	EventKindContextCheckpoint    = "context.checkpoint"
	EventKindDecisionMade         = "decision.made"
	EventKindDecisionExecuted     = "decision.executed"
	EventKindDeliveryFailed       = "bus.delivery_failed"
	EventKindSubscriberOverloaded = "bus.subscriber_overloaded"
	EventKindEventsSummary        = "bus.events_summary"
)

// Domain event kinds with core significance. Domain modules own these
// schemas, but the default reducers and the policy engine recognize them.
const (
	EventKindFocusStarted       = "focus.session_started"
	EventKindFocusEnded         = "focus.session_ended"
	EventKindWorkloadUpdated    = "capacity.workload_updated"
	EventKindOverloadDetected   = "capacity.overload_detected"
	EventKindPhaseChanged       = "wellness.phase_changed"
	EventKindStressUpdated      = "wellness.stress_updated"
	EventKindEnergyUpdated      = "wellness.energy_updated"
	EventKindCommitmentDetected = "tasks.commitment_detected"
	EventKindInterruptionQueued = "tasks.interruption_queued"
)

// Convention kinds — labels producers use at publish time. These are never
// filtered or queried by core logic; producers may emit any kind string up to
// 128 characters. The constants exist only to avoid typos at call sites.
const (
	EventKindActionExecuted  = "action.executed"
	EventKindActionConfirmed = "action.confirmed"
	EventKindActionDismissed = "action.dismissed"
)

// Package kernel implements the World Kernel's tick algorithm: action
// ingestion, the PreAction/apply/PostAction/PostEvent reducer pipeline,
// event journaling, and snapshot/rollback, per spec.md §4.4. It
// generalizes the teacher's refine→attest→accumulate pipeline
// (applications/jam/engine.go) and status-driven coordinator
// (applications/jam/coordinator.go) to the spec's action/event model.
package kernel

import "github.com/agentworld/worldkernel/internal/codec"

// Action is a caller-submitted intent to mutate the world.
type Action struct {
	ActionID    uint64      `json:"action_id"`
	ActorID     string      `json:"actor_id"`
	ActionKind  string      `json:"action_kind"`
	Payload     codec.Value `json:"payload"`
	Nonce       uint64      `json:"nonce"`
	TimestampMs int64       `json:"timestamp_ms"`
	Signature   *string     `json:"signature,omitempty"`
}

// ActionRejected is the Domain-adjacent event body appended when every
// reducer for an action is exhausted by a Deny decision.
type ActionRejected struct {
	ActionID uint64 `json:"action_id"`
	Reason   string `json:"reason"`
	Notes    string `json:"notes,omitempty"`
}

// PolicyDecisionRecorded is the audit event body for an effect-pipeline
// policy evaluation outcome.
type PolicyDecisionRecorded struct {
	EffectKind string `json:"effect_kind"`
	Origin     string `json:"origin"`
	CapName    string `json:"cap_name"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason,omitempty"`
}

// ReceiptAppendedBody is the event body for an ingested effect receipt.
type ReceiptAppendedBody struct {
	IntentID  string  `json:"intent_id"`
	Status    string  `json:"status"`
	Payload   any     `json:"payload"`
	CostCents *int64  `json:"cost_cents,omitempty"`
	Signature *string `json:"signature,omitempty"`
}

// ModuleEventKind names a governance-driven module lifecycle transition.
type ModuleEventKind string

const (
	ModuleEventRegister ModuleEventKind = "RegisterModule"
	ModuleEventActivate ModuleEventKind = "ActivateModule"
	ModuleEventRetire   ModuleEventKind = "RetireModule"
)

// ModuleEventBody is the event body for a module lifecycle transition.
type ModuleEventBody struct {
	Kind     ModuleEventKind `json:"kind"`
	ModuleID string          `json:"module_id"`
	Version  string          `json:"version"`
}

// ModuleEmittedBody is the event body for a module's "emit" output (not
// an effect intent, just an observational emission journaled verbatim).
type ModuleEmittedBody struct {
	ModuleID string `json:"module_id"`
	TraceID  string `json:"trace_id"`
	Payload  any    `json:"payload"`
}

// ModuleCallFailedBody is the event body recording a failed module call.
type ModuleCallFailedBody struct {
	ModuleID string `json:"module_id"`
	TraceID  string `json:"trace_id"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
}

// RollbackAppliedBody is the event body appended first after a
// successful rollback_to_snapshot.
type RollbackAppliedBody struct {
	Note      string `json:"note"`
	ToEventID uint64 `json:"to_event_id"`
}

// GovernanceEventBody is the event body for a governance state
// transition (Open, Shadowed, Approved, Applied, Rejected).
type GovernanceEventBody struct {
	ProposalID string `json:"proposal_id"`
	Transition string `json:"transition"`
}

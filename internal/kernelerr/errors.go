// Package kernelerr defines the closed error taxonomy shared by every
// world-kernel subsystem: input/validation, policy, module runtime,
// governance, journal, and distributed (sequencer/membership) failures.
package kernelerr

import (
	"errors"
	"fmt"
)

// Code is a stable, loggable error identifier. Unlike an exported
// sentinel error, a Code survives (de)serialization across the sandbox
// boundary and into journal events.
type Code string

const (
	// Input / validation
	CodeAgentNotFound           Code = "AGENT_NOT_FOUND"
	CodeLocationNotFound        Code = "LOCATION_NOT_FOUND"
	CodeInvalidAmount           Code = "INVALID_AMOUNT"
	CodeFacilityAlreadyExists   Code = "FACILITY_ALREADY_EXISTS"
	CodeRuleDenied              Code = "RULE_DENIED"
	CodeInsufficientResource    Code = "INSUFFICIENT_RESOURCE"
	CodeModuleChangeInvalid     Code = "MODULE_CHANGE_INVALID"

	// Policy
	CodePolicyDenied Code = "POLICY_DENIED"

	// Module runtime
	CodeModuleCallFailed Code = "MODULE_CALL_FAILED"
	CodeTrap             Code = "TRAP"
	CodeGasExceeded      Code = "GAS_EXCEEDED"
	CodeMemoryExceeded   Code = "MEMORY_EXCEEDED"
	CodeOutputTooLarge   Code = "OUTPUT_TOO_LARGE"
	CodeCapsDenied       Code = "CAPS_DENIED"

	// Governance / manifest
	CodeProposalNotFound      Code = "PROPOSAL_NOT_FOUND"
	CodeProposalNotShadowed   Code = "PROPOSAL_NOT_SHADOWED"
	CodeManifestPatchConflict Code = "MANIFEST_PATCH_CONFLICT"

	// Journal / snapshot
	CodeStateJournalMismatch Code = "STATE_JOURNAL_MISMATCH"
	CodeJournalCorrupt       Code = "JOURNAL_CORRUPT"

	// Distributed
	CodeDistributedValidationFailed Code = "DISTRIBUTED_VALIDATION_FAILED"
	CodeSignatureKeyInvalid        Code = "SIGNATURE_KEY_INVALID"
	CodeLeaseLost                  Code = "LEASE_LOST"
)

// KernelError is the structured error type returned across every public
// kernel operation. It carries a stable Code, a human message, and
// optional structured Details, mirroring the teacher's ServiceError.
type KernelError struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *KernelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *KernelError) Unwrap() error { return e.Err }

// WithDetail attaches a structured detail key/value and returns the
// receiver for chaining.
func (e *KernelError) WithDetail(key string, value any) *KernelError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New constructs a KernelError with no wrapped cause.
func New(code Code, message string) *KernelError {
	return &KernelError{Code: code, Message: message}
}

// Wrap constructs a KernelError around an existing error.
func Wrap(code Code, message string, err error) *KernelError {
	return &KernelError{Code: code, Message: message, Err: err}
}

// Is reports whether err is a *KernelError with the given code.
func Is(err error, code Code) bool {
	var ke *KernelError
	if errors.As(err, &ke) {
		return ke.Code == code
	}
	return false
}

// AgentNotFound builds the RejectReason-equivalent error for a missing agent.
func AgentNotFound(id string) *KernelError {
	return New(CodeAgentNotFound, "agent not found").WithDetail("agent_id", id)
}

// LocationNotFound builds the error for a missing location.
func LocationNotFound(id string) *KernelError {
	return New(CodeLocationNotFound, "location not found").WithDetail("location_id", id)
}

// InvalidAmount builds the error for a non-positive or malformed quantity.
func InvalidAmount(reason string) *KernelError {
	return New(CodeInvalidAmount, "invalid amount").WithDetail("reason", reason)
}

// FacilityAlreadyExists builds the error for a duplicate facility id.
func FacilityAlreadyExists(id string) *KernelError {
	return New(CodeFacilityAlreadyExists, "facility already exists").WithDetail("facility_id", id)
}

// RuleDenied builds the error for a built-in reducer rule rejection.
func RuleDenied(notes string) *KernelError {
	return New(CodeRuleDenied, "rule denied").WithDetail("notes", notes)
}

// InsufficientResource builds the error for an under-funded resource debit.
func InsufficientResource(owner, kind string, requested, available int64) *KernelError {
	return New(CodeInsufficientResource, "insufficient resource").
		WithDetail("owner", owner).
		WithDetail("kind", kind).
		WithDetail("requested", requested).
		WithDetail("available", available)
}

// ModuleChangeInvalid builds the error for a malformed module_changes entry.
func ModuleChangeInvalid(reason string) *KernelError {
	return New(CodeModuleChangeInvalid, "module change invalid").WithDetail("reason", reason)
}

// PolicyDenied builds the error for a policy-layer denial.
func PolicyDenied(reason string) *KernelError {
	return New(CodePolicyDenied, "policy denied").WithDetail("reason", reason)
}

// reasonNames maps a Code to the PascalCase taxonomy name spec.md §7
// uses for ActionRejected.Reason (e.g. "AgentNotFound{...}"); codes
// outside this rejection-facing subset (journal, governance, module
// runtime) have no ActionRejected meaning and fall back to RuleDenied.
var reasonNames = map[Code]string{
	CodeAgentNotFound:         "AgentNotFound",
	CodeLocationNotFound:      "LocationNotFound",
	CodeInvalidAmount:         "InvalidAmount",
	CodeFacilityAlreadyExists: "FacilityAlreadyExists",
	CodeRuleDenied:            "RuleDenied",
	CodeInsufficientResource:  "InsufficientResource",
	CodeModuleChangeInvalid:   "ModuleChangeInvalid",
	CodePolicyDenied:          "PolicyDenied",
}

// ReasonName returns the PascalCase ActionRejected.Reason name for
// code, falling back to "RuleDenied" for codes this taxonomy subset
// doesn't cover.
func ReasonName(code Code) string {
	if name, ok := reasonNames[code]; ok {
		return name
	}
	return "RuleDenied"
}

// ModuleCallFailureCode is the closed set of module-runtime failure codes.
type ModuleCallFailureCode string

const (
	FailureTrap           ModuleCallFailureCode = "Trap"
	FailureGasExceeded    ModuleCallFailureCode = "GasExceeded"
	FailureMemoryExceeded ModuleCallFailureCode = "MemoryExceeded"
	FailureOutputTooLarge ModuleCallFailureCode = "OutputTooLarge"
	FailureCapsDenied     ModuleCallFailureCode = "CapsDenied"
	FailurePolicyDenied   ModuleCallFailureCode = "PolicyDenied"
)

// ModuleCallFailed builds the structured module-call failure error.
func ModuleCallFailed(module, traceID string, code ModuleCallFailureCode, detail string) *KernelError {
	return New(CodeModuleCallFailed, "module call failed").
		WithDetail("module", module).
		WithDetail("trace_id", traceID).
		WithDetail("code", string(code)).
		WithDetail("detail", detail)
}

// ProposalNotFound builds the error for an unknown proposal id.
func ProposalNotFound(id string) *KernelError {
	return New(CodeProposalNotFound, "proposal not found").WithDetail("proposal_id", id)
}

// ProposalNotShadowed builds the error for an approve/apply attempted
// before shadow validation has run.
func ProposalNotShadowed(id string) *KernelError {
	return New(CodeProposalNotShadowed, "proposal not shadowed").WithDetail("proposal_id", id)
}

// ManifestPatchConflict builds the error for a patch merge conflict.
func ManifestPatchConflict(detail string) *KernelError {
	return New(CodeManifestPatchConflict, "manifest patch conflict").WithDetail("detail", detail)
}

// StateJournalMismatch builds the error for a snapshot/journal digest mismatch.
func StateJournalMismatch(expected, actual string) *KernelError {
	return New(CodeStateJournalMismatch, "state and journal do not match").
		WithDetail("expected", expected).
		WithDetail("actual", actual)
}

// JournalCorrupt builds the fatal cold-segment hash-mismatch error.
func JournalCorrupt(segmentRef string) *KernelError {
	return New(CodeJournalCorrupt, "journal segment corrupt").WithDetail("segment_ref", segmentRef)
}

// DistributedValidationFailed builds the sequencer counter-overflow /
// validation error.
func DistributedValidationFailed(reason string) *KernelError {
	return New(CodeDistributedValidationFailed, "distributed validation failed").WithDetail("reason", reason)
}

// SignatureKeyInvalid builds the error for an unknown or revoked signing key.
func SignatureKeyInvalid(keyID string) *KernelError {
	return New(CodeSignatureKeyInvalid, "signature key invalid").WithDetail("key_id", keyID)
}

// LeaseLost builds the error for a world lease that could not be
// acquired or renewed.
func LeaseLost(worldID string) *KernelError {
	return New(CodeLeaseLost, "lease lost").WithDetail("world_id", worldID)
}

// Package sandbox defines the module execution contract from spec.md
// §4.7 and ships GojaSandbox, the default in-process implementation,
// grounded in the teacher's system/tee/script_engine.go goja embedding.
package sandbox

import (
	"encoding/json"

	"github.com/agentworld/worldkernel/internal/kernelerr"
)

// CallRequest is the length-prefixed-CBOR-shaped input crossing the
// sandbox boundary. Params is already-decoded for in-process sandboxes
// (GojaSandbox); a real WASM host would instead receive raw bytes.
type CallRequest struct {
	ModuleID  string
	Version   string
	WasmHash  string
	Export    string
	TraceID   string
	StateView any
	Params    any
	MaxGas    int64
	MaxMemBytes int64
	MaxOutputBytes int64
	MaxEffects int
	MaxEmits   int
}

// EffectIntentOut is one effect a module call wants to emit; CapRef may
// be literal or a cap_slot name, resolved by the caller (internal/kernel).
type EffectIntentOut struct {
	Kind   string `json:"kind"`
	Params any    `json:"params"`
	CapRef string `json:"cap_ref"`
	Slot   string `json:"slot,omitempty"`
}

// HookDecision is a PreAction/PostAction module hook's verdict on the
// action it observed: Allow, Modify (with a replacement payload), or
// Deny (with notes), mirroring spec.md §4.4 step 2's reducer contract.
type HookDecision struct {
	Decision        string          `json:"decision"`
	Notes           string          `json:"notes,omitempty"`
	ModifiedPayload json.RawMessage `json:"modified_payload,omitempty"`
}

// ModuleOutput is a successful call's result.
type ModuleOutput struct {
	NewState      any               `json:"new_state,omitempty"`
	Effects       []EffectIntentOut `json:"effects,omitempty"`
	Emits         []json.RawMessage `json:"emits,omitempty"`
	TickLifecycle *string           `json:"tick_lifecycle,omitempty"`
	OutputBytes   int               `json:"output_bytes"`
	Decision      *HookDecision     `json:"decision,omitempty"`
}

// Sandbox is the per-call isolated execution contract modules run
// under; the kernel enforces resource limits on the returned output
// (spec.md §4.7) regardless of which Sandbox implementation is in use.
type Sandbox interface {
	Call(req CallRequest) (ModuleOutput, error)
}

// Enforce applies the kernel-side post-call resource checks common to
// every Sandbox implementation: effects/emits/output size against the
// request's declared limits. Sandbox implementations should call this
// themselves so kernelerr.ModuleCallFailed codes are consistent
// regardless of runtime.
func Enforce(req CallRequest, out ModuleOutput) error {
	if req.MaxEffects > 0 && len(out.Effects) > req.MaxEffects {
		return kernelerr.ModuleCallFailed(req.ModuleID, req.TraceID, kernelerr.FailureOutputTooLarge, "effects exceed max_effects")
	}
	if req.MaxEmits > 0 && len(out.Emits) > req.MaxEmits {
		return kernelerr.ModuleCallFailed(req.ModuleID, req.TraceID, kernelerr.FailureOutputTooLarge, "emits exceed max_emits")
	}
	if req.MaxOutputBytes > 0 && int64(out.OutputBytes) > req.MaxOutputBytes {
		return kernelerr.ModuleCallFailed(req.ModuleID, req.TraceID, kernelerr.FailureOutputTooLarge, "output_bytes exceeds max_output_bytes")
	}
	return nil
}

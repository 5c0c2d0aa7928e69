package kernel

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentworld/worldkernel/internal/codec"
	"github.com/agentworld/worldkernel/internal/journal"
	"github.com/agentworld/worldkernel/internal/kernelerr"
	"github.com/agentworld/worldkernel/internal/metrics"
	"github.com/agentworld/worldkernel/internal/module"
	"github.com/agentworld/worldkernel/internal/policy"
	"github.com/agentworld/worldkernel/internal/sandbox"
	"github.com/agentworld/worldkernel/internal/state"
)

// Export name convention for the three hook stages a module manifest
// can subscribe to; a manifest opts into a stage by listing the
// matching export name in its Exports list.
const (
	exportPreAction  = "on_pre_action"
	exportPostAction = "on_post_action"
	exportOnEvent    = "on_event"
)

func hasExport(m module.Manifest, name string) bool {
	for _, e := range m.Exports {
		if e == name {
			return true
		}
	}
	return false
}

func subscribesAction(sub module.Subscription, stage module.Stage, kind string) bool {
	if sub.Stage != stage {
		return false
	}
	for _, k := range sub.ActionKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func subscribesEvent(sub module.Subscription, stage module.Stage, kind string) bool {
	if sub.Stage != stage {
		return false
	}
	for _, k := range sub.EventKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// runPreActionHooks routes the action to every module subscribed at
// PreAction whose action_kinds match, in module_id order. A Deny halts
// routing immediately and is reported to the caller; a Modify replaces
// the payload for downstream hooks and the eventual apply step.
func (k *Kernel) runPreActionHooks(subs []ModuleSubscriber, action Action) (Action, bool, string) {
	resolved := action
	for _, sub := range subs {
		matched := false
		for _, s := range sub.Manifest.Subscriptions {
			if subscribesAction(s, module.StagePreAction, resolved.ActionKind) {
				matched = true
				break
			}
		}
		if !matched || !hasExport(sub.Manifest, exportPreAction) {
			continue
		}
		out, err := k.callModule(sub, exportPreAction, resolved, nil)
		if err != nil {
			k.logger.WithField("module_id", sub.Manifest.ModuleID).Warn("pre-action module call failed")
			continue
		}
		k.drainModuleOutput(sub, out)
		if out.Decision == nil {
			continue
		}
		switch out.Decision.Decision {
		case "Deny":
			return resolved, false, out.Decision.Notes
		case "Modify":
			if len(out.Decision.ModifiedPayload) > 0 {
				var v any
				if err := json.Unmarshal(out.Decision.ModifiedPayload, &v); err == nil {
					resolved.Payload = anyToValue(v)
				}
			}
		}
	}
	return resolved, true, ""
}

// runPostActionHooks routes the already-applied action to every module
// subscribed at PostAction; this stage is observational per spec.md
// §4.4 (state is already applied), so failures become ModuleCallFailed
// events rather than rejections.
func (k *Kernel) runPostActionHooks(subs []ModuleSubscriber, action Action) {
	for _, sub := range subs {
		matched := false
		for _, s := range sub.Manifest.Subscriptions {
			if subscribesAction(s, module.StagePostAction, action.ActionKind) {
				matched = true
				break
			}
		}
		if !matched || !hasExport(sub.Manifest, exportPostAction) {
			continue
		}
		out, err := k.callModule(sub, exportPostAction, action, nil)
		if err != nil {
			k.recordModuleCallFailed(sub.Manifest.ModuleID, err, kernelerr.FailureTrap)
			continue
		}
		k.drainModuleOutput(sub, out)
	}
}

// runPostEventHooks routes a newly appended domain event to every
// module subscribed at PostEvent whose event_kinds match.
func (k *Kernel) runPostEventHooks(subs []ModuleSubscriber, de state.DomainEvent, actionID uint64) {
	for _, sub := range subs {
		matched := false
		for _, s := range sub.Manifest.Subscriptions {
			if subscribesEvent(s, module.StagePostEvent, de.Kind) {
				matched = true
				break
			}
		}
		if !matched || !hasExport(sub.Manifest, exportOnEvent) {
			continue
		}
		out, err := k.callModule(sub, exportOnEvent, Action{ActionID: actionID}, de.Body)
		if err != nil {
			k.recordModuleCallFailed(sub.Manifest.ModuleID, err, kernelerr.FailureTrap)
			continue
		}
		k.drainModuleOutput(sub, out)
	}
}

// callModule builds a sandbox.CallRequest from the module's manifest
// limits and dispatches it.
func (k *Kernel) callModule(sub ModuleSubscriber, export string, action Action, eventBody any) (sandbox.ModuleOutput, error) {
	traceID := uuid.NewString()
	params := any(action)
	if eventBody != nil {
		params = eventBody
	}
	req := sandbox.CallRequest{
		ModuleID:       sub.Manifest.ModuleID,
		Version:        sub.Manifest.Version,
		WasmHash:       sub.Manifest.WasmHash,
		Export:         export,
		TraceID:        traceID,
		StateView:      k.state,
		Params:         params,
		MaxGas:         sub.Manifest.Limits.MaxGas,
		MaxMemBytes:    sub.Manifest.Limits.MaxMemBytes,
		MaxOutputBytes: sub.Manifest.Limits.MaxOutputBytes,
		MaxEffects:     sub.Manifest.Limits.MaxEffects,
		MaxEmits:       sub.Manifest.Limits.MaxEmits,
	}
	started := time.Now()
	out, err := sub.Sandbox.Call(req)
	metrics.RecordSandboxCall(sub.Manifest.ModuleID, export, time.Since(started))
	return out, err
}

// resolveCapRef resolves an effect's cap_ref: literal refs must be
// granted directly; slot-indirect refs resolve through the manifest's
// abi_contract.cap_slots, per spec.md §4.7.
func resolveCapRef(m module.Manifest, effectOut sandbox.EffectIntentOut) (string, bool) {
	if effectOut.Slot == "" {
		return effectOut.CapRef, true
	}
	capRef, ok := m.ABIContract.CapSlots[effectOut.Slot]
	return capRef, ok
}

// drainModuleOutput resolves and enqueues every effect the module
// emitted, subject to cap resolution and policy evaluation (spec.md
// §4.7), and journals each "emit" verbatim as ModuleEmitted.
func (k *Kernel) drainModuleOutput(sub ModuleSubscriber, out sandbox.ModuleOutput) {
	moduleID := sub.Manifest.ModuleID
	for _, effectOut := range out.Effects {
		capRef, resolved := resolveCapRef(sub.Manifest, effectOut)
		if !resolved {
			k.recordModuleCallFailed(moduleID, fmt.Errorf("cap_slot %q unresolved", effectOut.Slot), kernelerr.FailureCapsDenied)
			continue
		}
		if k.caps != nil {
			if _, ok := k.caps.Get(capRef); !ok {
				k.recordModuleCallFailed(moduleID, fmt.Errorf("cap_ref %q not granted", capRef), kernelerr.FailureCapsDenied)
				continue
			}
		}
		decision, reason := policy.Allow, ""
		if k.rules != nil {
			decision, reason = k.rules.Evaluate(effectOut.Kind, moduleID, capRef)
		}
		k.journal.Append(k.state.Time, journal.ModuleCause(moduleID), "PolicyDecisionRecorded", PolicyDecisionRecorded{
			EffectKind: effectOut.Kind, Origin: moduleID, CapName: capRef,
			Decision: decisionString(decision), Reason: reason,
		})
		metrics.RecordPolicyDecision(decisionString(decision))
		if decision == policy.Deny {
			k.recordModuleCallFailed(moduleID, fmt.Errorf("policy denied effect %q: %s", effectOut.Kind, reason), kernelerr.FailurePolicyDenied)
			continue
		}
		k.pipeline.Enqueue(effectOut.Kind, effectOut.Params, capRef, moduleID, k.state.Time)
	}
	for _, raw := range out.Emits {
		var payload any
		_ = json.Unmarshal(raw, &payload)
		k.journal.Append(k.state.Time, journal.ModuleCause(moduleID), "ModuleEmitted", ModuleEmittedBody{
			ModuleID: moduleID, Payload: payload,
		})
	}
}

func decisionString(d policy.Decision) string {
	if d == policy.Deny {
		return "Deny"
	}
	return "Allow"
}

// moduleFailureCode recovers the real kernelerr.ModuleCallFailureCode
// from err's Details["code"] (set by kernelerr.ModuleCallFailed, the
// constructor every Sandbox implementation and Enforce use), falling
// back to fallback when err isn't a *kernelerr.KernelError or carries
// no code — e.g. the ad hoc fmt.Errorf built at the two cap-resolution
// call sites and the policy-deny call site in drainModuleOutput.
func moduleFailureCode(err error, fallback kernelerr.ModuleCallFailureCode) kernelerr.ModuleCallFailureCode {
	var ke *kernelerr.KernelError
	if errors.As(err, &ke) {
		if raw, ok := ke.Details["code"].(string); ok && raw != "" {
			return kernelerr.ModuleCallFailureCode(raw)
		}
	}
	return fallback
}

// recordModuleCallFailed journals ModuleCallFailed with the real
// failure code: extracted from err when it's a *kernelerr.KernelError
// (sandbox traps, GasExceeded, OutputTooLarge, ...), otherwise
// fallback (CapsDenied/PolicyDenied for the ad hoc errors drainModuleOutput
// builds at its cap-resolution and policy-deny call sites).
func (k *Kernel) recordModuleCallFailed(moduleID string, err error, fallback kernelerr.ModuleCallFailureCode) {
	code := moduleFailureCode(err, fallback)
	metrics.RecordSandboxFailure(moduleID, string(code))
	k.journal.Append(k.state.Time, journal.ModuleCause(moduleID), "ModuleCallFailed", ModuleCallFailedBody{
		ModuleID: moduleID, Code: string(code), Detail: err.Error(),
	})
}

// anyToValue adapts a JSON-decoded generic value (map[string]any,
// []any, string, float64, bool, nil) into a codec.Value, for module
// Modify decisions' modified_payload.
func anyToValue(v any) codec.Value {
	switch t := v.(type) {
	case nil:
		return codec.Null()
	case bool:
		return codec.BoolValue(t)
	case float64:
		return codec.FloatValue(t)
	case string:
		return codec.StringValue(t)
	case []any:
		arr := make([]codec.Value, len(t))
		for i, e := range t {
			arr[i] = anyToValue(e)
		}
		return codec.ArrayValue(arr)
	case map[string]any:
		obj := make(map[string]codec.Value, len(t))
		for k, e := range t {
			obj[k] = anyToValue(e)
		}
		return codec.ObjectValue(obj)
	default:
		return codec.Null()
	}
}

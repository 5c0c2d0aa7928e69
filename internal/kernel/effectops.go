package kernel

import (
	"github.com/agentworld/worldkernel/internal/effect"
	"github.com/agentworld/worldkernel/internal/journal"
	"github.com/agentworld/worldkernel/internal/kernelerr"
	"github.com/agentworld/worldkernel/internal/metrics"
	"github.com/agentworld/worldkernel/internal/policy"
)

// EmitEffect runs policy evaluation for (kind, capRef, origin); on Deny
// it appends PolicyDecisionRecorded(Deny) and returns PolicyDenied. On
// Allow the intent is enqueued and PolicyDecisionRecorded(Allow) is
// appended, per spec.md §4.6.
func (k *Kernel) EmitEffect(kind string, params any, capRef, origin string) (effect.Intent, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	decision, reason := policy.Allow, ""
	if k.rules != nil {
		decision, reason = k.rules.Evaluate(kind, origin, capRef)
	}
	k.journal.Append(k.state.Time, journal.Cause{Kind: journal.CauseNone}, "PolicyDecisionRecorded", PolicyDecisionRecorded{
		EffectKind: kind, Origin: origin, CapName: capRef,
		Decision: decisionString(decision), Reason: reason,
	})
	metrics.RecordPolicyDecision(decisionString(decision))
	if decision == policy.Deny {
		return effect.Intent{}, kernelerr.PolicyDenied(reason)
	}
	intent := k.pipeline.Enqueue(kind, params, capRef, origin, k.state.Time)
	metrics.SetEffectQueueLength(k.pipeline.Len())
	return intent, nil
}

// TakeNextEffect pops the oldest queued effect intent for external execution.
func (k *Kernel) TakeNextEffect() (effect.Intent, bool) {
	intent, ok := k.pipeline.TakeNextEffect()
	metrics.SetEffectQueueLength(k.pipeline.Len())
	return intent, ok
}

// IngestReceipt appends ReceiptAppended(r) after validating/signing the
// receipt through the effect pipeline.
func (k *Kernel) IngestReceipt(r effect.Receipt) (effect.Receipt, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	finalized, err := k.pipeline.IngestReceipt(r)
	if err != nil {
		return effect.Receipt{}, err
	}
	k.journal.Append(k.state.Time, journal.EffectCause(r.IntentID), "ReceiptAppended", ReceiptAppendedBody{
		IntentID: finalized.IntentID, Status: finalized.Status, Payload: finalized.Payload,
		CostCents: finalized.CostCents, Signature: finalized.Signature,
	})
	return finalized, nil
}

// AddCapability is the kernel-level add_capability operation.
func (k *Kernel) AddCapability(grant policy.Grant) error {
	if k.caps == nil {
		return kernelerr.New(kernelerr.CodePolicyDenied, "no capability set configured")
	}
	return k.caps.Add(grant)
}

// SetPolicy is the kernel-level set_policy operation (atomic replacement).
func (k *Kernel) SetPolicy(rules []policy.Rule) {
	if k.rules != nil {
		k.rules.Set(rules)
	}
}

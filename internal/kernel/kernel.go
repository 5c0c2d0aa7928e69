package kernel

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agentworld/worldkernel/internal/codec"
	"github.com/agentworld/worldkernel/internal/effect"
	"github.com/agentworld/worldkernel/internal/governance"
	"github.com/agentworld/worldkernel/internal/journal"
	"github.com/agentworld/worldkernel/internal/kernelerr"
	"github.com/agentworld/worldkernel/internal/logging"
	"github.com/agentworld/worldkernel/internal/metrics"
	"github.com/agentworld/worldkernel/internal/module"
	"github.com/agentworld/worldkernel/internal/policy"
	"github.com/agentworld/worldkernel/internal/sandbox"
	"github.com/agentworld/worldkernel/internal/state"
)

// ModuleSubscriber pairs a module manifest with the sandbox it runs
// under, for dispatch during PreAction/PostAction/PostEvent routing.
type ModuleSubscriber struct {
	Manifest module.Manifest
	Sandbox  sandbox.Sandbox
}

// Kernel is the World Kernel: action queue, reducer pipeline, event
// journal, effect pipeline, policy layer, and module registry, all
// exclusively owned per spec.md §4.4/§5.
type Kernel struct {
	mu sync.Mutex

	state      state.World
	journal    *journal.Journal
	pipeline   *effect.Pipeline
	registry   *module.Registry
	rules      *policy.Ruleset
	caps       *policy.CapabilitySet
	logger     *logging.Logger
	governance *governance.Store

	builtins     map[string]BuiltinReducerFunc
	pending      []Action
	nextActionID uint64
}

// New constructs a Kernel over an empty World.
func New(j *journal.Journal, pipeline *effect.Pipeline, registry *module.Registry, rules *policy.Ruleset, caps *policy.CapabilitySet, logger *logging.Logger) *Kernel {
	if logger == nil {
		logger = logging.Nop()
	}
	builtins := make(map[string]BuiltinReducerFunc, len(defaultBuiltinReducers))
	for k, v := range defaultBuiltinReducers {
		builtins[k] = v
	}
	return &Kernel{
		state:        state.New(),
		journal:      j,
		pipeline:     pipeline,
		registry:     registry,
		rules:        rules,
		caps:         caps,
		logger:       logger,
		builtins:     builtins,
		nextActionID: 1,
	}
}

// RegisterBuiltinReducer adds or overrides a built-in reducer for kind,
// the supported extension point for domain reducers spec.md §1 treats
// as opaque.
func (k *Kernel) RegisterBuiltinReducer(kind string, fn BuiltinReducerFunc) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.builtins[kind] = fn
}

// State returns a cloned, immutable view of the current world state.
func (k *Kernel) State() state.World {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state.Clone()
}

// Journal exposes the kernel's event journal for read-only queries
// (internal/kernel.History, CLI replay).
func (k *Kernel) Journal() *journal.Journal { return k.journal }

// Pipeline exposes the effect pipeline for emit_effect/take_next_effect/
// ingest_receipt, implemented in effectops.go.
func (k *Kernel) Pipeline() *effect.Pipeline { return k.pipeline }

// SubmitAction enqueues a new action, assigning its monotonic
// action_id; rejection (if any) surfaces later as an ActionRejected
// event, not as an error here.
func (k *Kernel) SubmitAction(actorID, actionKind string, payload codec.Value, nonce uint64, timestampMs int64, signature *string) uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	id := k.nextActionID
	k.nextActionID++
	k.pending = append(k.pending, Action{
		ActionID: id, ActorID: actorID, ActionKind: actionKind,
		Payload: payload, Nonce: nonce, TimestampMs: timestampMs, Signature: signature,
	})
	return id
}

// Step drains the pending queue and advances time by 1, without
// routing to modules (spec.md §4.4's step() operation).
func (k *Kernel) Step() error {
	return k.step(nil)
}

// StepWithModules is Step, additionally routing PreAction/PostAction/
// PostEvent hooks to every subscribed module.
func (k *Kernel) StepWithModules(subs []ModuleSubscriber) error {
	return k.step(subs)
}

func (k *Kernel) step(subs []ModuleSubscriber) error {
	started := time.Now()
	k.mu.Lock()
	defer k.mu.Unlock()

	sortedSubs := sortSubscribers(subs)
	queue := k.pending
	k.pending = nil

	for _, action := range queue {
		if err := k.processAction(action, sortedSubs); err != nil {
			return err
		}
	}
	k.state.Time++
	metrics.RecordTick(time.Since(started))
	return nil
}

// sortSubscribers returns subs ordered by module_id, the tie-break
// spec.md §4.4 mandates for same-stage iteration.
func sortSubscribers(subs []ModuleSubscriber) []ModuleSubscriber {
	out := append([]ModuleSubscriber(nil), subs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Manifest.ModuleID < out[j].Manifest.ModuleID })
	return out
}

// processAction runs the full per-action pipeline: PreAction hooks
// (which may Deny or Modify), the built-in apply step, PostAction
// hooks (observational), Domain event append, PostEvent routing, and
// per-event module dispatch, per spec.md §4.4 steps 1-4.
func (k *Kernel) processAction(action Action, subs []ModuleSubscriber) error {
	resolved, allowed, denyNotes := k.runPreActionHooks(subs, action)
	if !allowed {
		return k.rejectAction(resolved, "RuleDenied", denyNotes)
	}

	fn, known := k.builtins[resolved.ActionKind]
	if !known {
		return k.rejectAction(resolved, "RuleDenied", fmt.Sprintf("unknown action_kind %q", resolved.ActionKind))
	}
	newState, domainEvents, err := fn(k.state, resolved)
	if err != nil {
		return k.rejectAction(resolved, reducerRejectReason(err), err.Error())
	}
	k.state = newState

	// PostAction hooks observe the already-applied action; per
	// spec.md §4.4 step 3, state is applied before PostAction runs, so
	// a PostAction hook's decision is not acted on; only a failed call
	// is recorded, as a ModuleCallFailed event.
	k.runPostActionHooks(subs, resolved)

	for _, de := range domainEvents {
		if _, err := k.journal.Append(k.state.Time, journal.ActionCause(resolved.ActionID), de.Kind, de.Body); err != nil {
			return err
		}
		k.runPostEventHooks(subs, de, resolved.ActionID)
	}

	return nil
}

// reducerRejectReason recovers the ActionRejected.Reason a builtin
// reducer's error names: every internal/state mutator returns a
// *kernelerr.KernelError whose Code already identifies the taxonomy
// kind (AgentNotFound, InsufficientResource, ...); anything else
// (an unwrapped error from a non-mutator reducer) falls back to
// RuleDenied, the PreAction-hook-Deny reason.
func reducerRejectReason(err error) string {
	var ke *kernelerr.KernelError
	if errors.As(err, &ke) {
		return kernelerr.ReasonName(ke.Code)
	}
	return "RuleDenied"
}

// rejectAction appends ActionRejected{reason, notes} and halts
// processing for this action. reason is "RuleDenied" for a
// PreAction-hook Deny or an unrecognized action_kind, and the
// originating kernelerr.Code's taxonomy name for a builtin reducer
// error (spec.md §7/§8 scenario 3).
func (k *Kernel) rejectAction(action Action, reason, notes string) error {
	metrics.RecordActionRejected(reason)
	_, err := k.journal.Append(k.state.Time, journal.ActionCause(action.ActionID), "ActionRejected", ActionRejected{
		ActionID: action.ActionID,
		Reason:   reason,
		Notes:    notes,
	})
	return err
}

package kernel

import (
	"fmt"

	"github.com/agentworld/worldkernel/internal/governance"
	"github.com/agentworld/worldkernel/internal/journal"
	"github.com/agentworld/worldkernel/internal/kernelerr"
)

// SetGovernance attaches the governance proposal store ApplyGovernanceProposal
// drives. It is optional: a Kernel with no governance attached simply has no
// way to apply proposals, and callers that don't use governance (most tests,
// worldctl's existing subcommands) never need to set it.
func (k *Kernel) SetGovernance(gov *governance.Store) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.governance = gov
}

// ApplyGovernanceProposal resolves proposalID's governance.ApplyProposal
// result against this Kernel: it commits the proposal's manifest as the
// world's manifest, and drives module.Registry.Register/Activate/Retire for
// each bundled module_change in declaration order, journaling a ModuleEvent
// per change and a GovernanceEventBody{Applied} marking the transition.
func (k *Kernel) ApplyGovernanceProposal(proposalID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.governance == nil {
		return kernelerr.ModuleChangeInvalid("no governance store attached to this kernel")
	}

	result, err := k.governance.ApplyProposal(proposalID)
	if err != nil {
		return err
	}

	k.state.Manifest = result.Manifest

	for _, change := range result.Changes {
		if err := k.applyModuleChange(change, result.Author); err != nil {
			return err
		}
	}

	_, err = k.journal.Append(k.state.Time, journal.CauseNone, "GovernanceEvent", GovernanceEventBody{
		ProposalID: proposalID,
		Transition: "Applied",
	})
	return err
}

// applyModuleChange drives the registry transition change names and
// journals the corresponding ModuleEvent. Registry errors (duplicate
// register, unknown module@version) are wrapped as ModuleChangeInvalid,
// the taxonomy code governance failures already use.
func (k *Kernel) applyModuleChange(change governance.ModuleChange, registeredBy string) error {
	var kind ModuleEventKind
	switch change.Kind {
	case governance.ChangeRegister:
		if err := k.registry.Register(change.Manifest, registeredBy); err != nil {
			return kernelerr.ModuleChangeInvalid(fmt.Sprintf("registering %s@%s: %v", change.ModuleID, change.Version, err))
		}
		kind = ModuleEventRegister
	case governance.ChangeActivate:
		if err := k.registry.Activate(change.ModuleID, change.Version); err != nil {
			return kernelerr.ModuleChangeInvalid(fmt.Sprintf("activating %s@%s: %v", change.ModuleID, change.Version, err))
		}
		kind = ModuleEventActivate
	case governance.ChangeRetire:
		if err := k.registry.Retire(change.ModuleID, change.Version); err != nil {
			return kernelerr.ModuleChangeInvalid(fmt.Sprintf("retiring %s@%s: %v", change.ModuleID, change.Version, err))
		}
		kind = ModuleEventRetire
	default:
		return kernelerr.ModuleChangeInvalid(fmt.Sprintf("unknown module_change kind %q", change.Kind))
	}

	_, err := k.journal.Append(k.state.Time, journal.CauseNone, "ModuleEvent", ModuleEventBody{
		Kind:     kind,
		ModuleID: change.ModuleID,
		Version:  change.Version,
	})
	return err
}

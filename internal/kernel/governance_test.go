package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentworld/worldkernel/internal/governance"
	"github.com/agentworld/worldkernel/internal/state"
)

func proposeRegisterAndActivate(t *testing.T, gov *governance.Store) {
	t.Helper()
	m := state.Manifest{Version: 1, Content: map[string]any{
		"module_changes": []any{
			map[string]any{
				"kind": "Register", "module_id": "mod-weather", "version": "1.0.0",
				"manifest": map[string]any{
					"module_id": "mod-weather", "version": "1.0.0", "name": "weather", "wasm_hash": "wasm-weather",
				},
			},
			map[string]any{"kind": "Activate", "module_id": "mod-weather", "version": "1.0.0"},
		},
	}}
	gov.ProposeManifestUpdate("p1", "agent-ops", m)

	_, err := gov.ShadowProposal("p1", func(p *governance.Proposal) (state.Manifest, error) { return *p.Manifest, nil })
	require.NoError(t, err)
	_, err = gov.ApproveProposal("p1", "voter-1", governance.VoteApprove)
	require.NoError(t, err)
}

func TestApplyGovernanceProposalDrivesRegistryAndJournalsModuleEvents(t *testing.T) {
	k := newTestKernel(t)
	gov := governance.New(nil, nil)
	k.SetGovernance(gov)

	proposeRegisterAndActivate(t, gov)

	require.NoError(t, k.ApplyGovernanceProposal("p1"))

	events, err := k.Journal().Collect("")
	require.NoError(t, err)

	var moduleEvents []ModuleEventBody
	for _, e := range events {
		if e.Kind == "ModuleEvent" {
			body, ok := e.Body.(ModuleEventBody)
			require.True(t, ok)
			moduleEvents = append(moduleEvents, body)
		}
	}
	require.Len(t, moduleEvents, 2)
	require.Equal(t, ModuleEventRegister, moduleEvents[0].Kind)
	require.Equal(t, "mod-weather", moduleEvents[0].ModuleID)
	require.Equal(t, ModuleEventActivate, moduleEvents[1].Kind)

	active, ok := k.registry.ActiveVersion("mod-weather")
	require.True(t, ok)
	require.Equal(t, "1.0.0", active)

	w := k.State()
	_, present := w.Manifest.Content["module_changes"]
	require.False(t, present)
}

func TestApplyGovernanceProposalJournalsGovernanceEventAfterModuleEvents(t *testing.T) {
	k := newTestKernel(t)
	gov := governance.New(nil, nil)
	k.SetGovernance(gov)

	proposeRegisterAndActivate(t, gov)
	require.NoError(t, k.ApplyGovernanceProposal("p1"))

	events, err := k.Journal().Collect("")
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "ModuleEvent", events[0].Kind)
	require.Equal(t, "ModuleEvent", events[1].Kind)
	require.Equal(t, "GovernanceEvent", events[2].Kind)

	body, ok := events[2].Body.(GovernanceEventBody)
	require.True(t, ok)
	require.Equal(t, "p1", body.ProposalID)
	require.Equal(t, "Applied", body.Transition)
}

func TestApplyGovernanceProposalWithoutGovernanceStoreErrors(t *testing.T) {
	k := newTestKernel(t)
	err := k.ApplyGovernanceProposal("p1")
	require.Error(t, err)
}

func TestApplyGovernanceProposalWrapsRegistryErrorAsModuleChangeInvalid(t *testing.T) {
	k := newTestKernel(t)
	gov := governance.New(nil, nil)
	k.SetGovernance(gov)

	m := state.Manifest{Version: 1, Content: map[string]any{
		"module_changes": []any{
			map[string]any{"kind": "Activate", "module_id": "mod-unknown", "version": "1.0.0"},
		},
	}}
	gov.ProposeManifestUpdate("p1", "agent-ops", m)
	_, err := gov.ShadowProposal("p1", func(p *governance.Proposal) (state.Manifest, error) { return *p.Manifest, nil })
	require.NoError(t, err)
	_, err = gov.ApproveProposal("p1", "voter-1", governance.VoteApprove)
	require.NoError(t, err)

	err = k.ApplyGovernanceProposal("p1")
	require.Error(t, err)
}

package governance

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentworld/worldkernel/internal/state"
)

func TestMergePatchesCombinesNonConflictingOps(t *testing.T) {
	p1 := ManifestPatch{BaseManifestHash: "h1", Ops: []Op{{Kind: OpSet, Path: "limits.max_gas", Value: 100}}}
	p2 := ManifestPatch{BaseManifestHash: "h1", Ops: []Op{{Kind: OpSet, Path: "limits.max_mem", Value: 200}}}

	merged, conflicts := MergePatches([]ManifestPatch{p1, p2})
	require.Empty(t, conflicts)
	require.Len(t, merged.Ops, 2)
}

func TestMergePatchesDetectsValueConflict(t *testing.T) {
	p1 := ManifestPatch{Ops: []Op{{Kind: OpSet, Path: "limits.max_gas", Value: 100}}}
	p2 := ManifestPatch{Ops: []Op{{Kind: OpSet, Path: "limits.max_gas", Value: 200}}}

	merged, conflicts := MergePatches([]ManifestPatch{p1, p2})
	require.Nil(t, merged)
	require.Len(t, conflicts, 1)
	require.Equal(t, "ValueConflict", conflicts[0].Kind)
}

func TestMergePatchesAllowsIdenticalSetsFromDifferentPatches(t *testing.T) {
	p1 := ManifestPatch{Ops: []Op{{Kind: OpSet, Path: "limits.max_gas", Value: 100}}}
	p2 := ManifestPatch{Ops: []Op{{Kind: OpSet, Path: "limits.max_gas", Value: 100}}}

	merged, conflicts := MergePatches([]ManifestPatch{p1, p2})
	require.Empty(t, conflicts)
	require.Len(t, merged.Ops, 2)
}

func TestMergePatchesDetectsPrefixOverlap(t *testing.T) {
	p1 := ManifestPatch{Ops: []Op{{Kind: OpSet, Path: "limits", Value: map[string]any{}}}}
	p2 := ManifestPatch{Ops: []Op{{Kind: OpSet, Path: "limits.max_gas", Value: 100}}}

	merged, conflicts := MergePatches([]ManifestPatch{p1, p2})
	require.Nil(t, merged)
	require.Len(t, conflicts, 1)
	require.Equal(t, "PrefixOverlap", conflicts[0].Kind)
}

func TestMergePatchesEmptyInputReturnsEmptyPatch(t *testing.T) {
	merged, conflicts := MergePatches(nil)
	require.Empty(t, conflicts)
	require.Empty(t, merged.Ops)
}

func TestMergePatchesKeepsLastNonZeroNewVersion(t *testing.T) {
	p1 := ManifestPatch{NewVersion: 1}
	p2 := ManifestPatch{NewVersion: 2}

	merged, conflicts := MergePatches([]ManifestPatch{p1, p2})
	require.Empty(t, conflicts)
	require.Equal(t, uint64(2), merged.NewVersion)
}

func TestApplyPatchSetsNestedPath(t *testing.T) {
	base := state.Manifest{Content: map[string]any{}}
	patch := ManifestPatch{Ops: []Op{{Kind: OpSet, Path: "limits.max_gas", Value: 500}}}

	out, err := ApplyPatch(base, patch)
	require.NoError(t, err)
	nested, ok := out.Content["limits"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, 500, nested["max_gas"])
}

func TestApplyPatchRemovesPath(t *testing.T) {
	base := state.Manifest{Content: map[string]any{"limits": map[string]any{"max_gas": 100}}}
	patch := ManifestPatch{Ops: []Op{{Kind: OpRemove, Path: "limits.max_gas"}}}

	out, err := ApplyPatch(base, patch)
	require.NoError(t, err)
	nested := out.Content["limits"].(map[string]any)
	_, exists := nested["max_gas"]
	require.False(t, exists)
}

func TestApplyPatchBumpsVersionWhenSet(t *testing.T) {
	base := state.Manifest{Version: 1, Content: map[string]any{}}
	patch := ManifestPatch{NewVersion: 2}

	out, err := ApplyPatch(base, patch)
	require.NoError(t, err)
	require.Equal(t, uint64(2), out.Version)
}

func TestApplyPatchRejectsEmptyPath(t *testing.T) {
	base := state.Manifest{Content: map[string]any{}}
	patch := ManifestPatch{Ops: []Op{{Kind: OpSet, Path: ""}}}

	_, err := ApplyPatch(base, patch)
	require.Error(t, err)
}

func TestApplyPatchDoesNotMutateBaseContent(t *testing.T) {
	base := state.Manifest{Content: map[string]any{"a": 1}}
	patch := ManifestPatch{Ops: []Op{{Kind: OpSet, Path: "a", Value: 2}}}

	out, err := ApplyPatch(base, patch)
	require.NoError(t, err)
	require.Equal(t, 2, out.Content["a"])
	require.Equal(t, 1, base.Content["a"])
}

package module

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentworld/worldkernel/pkg/cas"
)

func validManifest(wasmHash string) Manifest {
	return Manifest{
		ModuleID: "mod-1",
		Version:  "1.0.0",
		Name:     "mod-1",
		WasmHash: wasmHash,
		ABIContract: ABIContract{
			ABIVersion: 1,
		},
		RequiredCaps: []string{"move"},
		Limits:       Limits{MaxGas: 1000},
	}
}

func TestArtifactIdentityCoherentAcceptsMatchingSignature(t *testing.T) {
	id := ArtifactIdentity{
		SourceHash:        "src-1",
		BuildManifestHash: "build-1",
		ArtifactSignature: "unsigned:wasm-1:src-1:build-1",
	}
	require.True(t, id.Coherent("wasm-1"))
}

func TestArtifactIdentityCoherentRejectsMismatchedWasmHash(t *testing.T) {
	id := ArtifactIdentity{
		SourceHash:        "src-1",
		BuildManifestHash: "build-1",
		ArtifactSignature: "unsigned:wasm-1:src-1:build-1",
	}
	require.False(t, id.Coherent("wasm-2"))
}

func TestArtifactIdentityCoherentRejectsUnknownKind(t *testing.T) {
	id := ArtifactIdentity{ArtifactSignature: "bogus:wasm-1:src-1:build-1"}
	require.False(t, id.Coherent("wasm-1"))
}

func TestArtifactIdentityCoherentRejectsMalformedSignature(t *testing.T) {
	id := ArtifactIdentity{ArtifactSignature: "too:few:parts"}
	require.False(t, id.Coherent("wasm-1"))
}

func TestValidateShadowRejectsMissingArtifact(t *testing.T) {
	m := validManifest("wasm-1")
	err := ValidateShadow(m, false, "")
	require.Error(t, err)
}

func TestValidateShadowRejectsWasmHashMismatch(t *testing.T) {
	m := validManifest("wasm-1")
	err := ValidateShadow(m, true, "wasm-2")
	require.Error(t, err)
}

func TestValidateShadowRejectsUnsupportedABIVersion(t *testing.T) {
	m := validManifest("wasm-1")
	m.ABIContract.ABIVersion = 2
	err := ValidateShadow(m, true, "wasm-1")
	require.Error(t, err)
}

func TestValidateShadowRejectsPartialSchemaPair(t *testing.T) {
	m := validManifest("wasm-1")
	schema := "{}"
	m.ABIContract.InputSchema = &schema
	err := ValidateShadow(m, true, "wasm-1")
	require.Error(t, err)
}

func TestValidateShadowRejectsUnboundCapSlot(t *testing.T) {
	m := validManifest("wasm-1")
	m.ABIContract.CapSlots = map[string]string{"slot-1": "not-in-required"}
	err := ValidateShadow(m, true, "wasm-1")
	require.Error(t, err)
}

func TestValidateShadowRejectsIncoherentArtifactIdentity(t *testing.T) {
	m := validManifest("wasm-1")
	m.ArtifactIdentity = &ArtifactIdentity{
		SourceHash:        "src-1",
		BuildManifestHash: "build-1",
		ArtifactSignature: "unsigned:wasm-2:src-1:build-1",
	}
	err := ValidateShadow(m, true, "wasm-1")
	require.Error(t, err)
}

func TestValidateShadowAcceptsWellFormedManifest(t *testing.T) {
	m := validManifest("wasm-1")
	require.NoError(t, ValidateShadow(m, true, "wasm-1"))
}

func TestRegisterArtifactIsIdempotent(t *testing.T) {
	r, err := NewRegistry(cas.NewMemStore(), 0)
	require.NoError(t, err)

	h1, err := r.RegisterArtifact([]byte("wasm bytes"))
	require.NoError(t, err)
	h2, err := r.RegisterArtifact([]byte("wasm bytes"))
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestShadowValidateUsesRegistryArtifactStore(t *testing.T) {
	r, err := NewRegistry(cas.NewMemStore(), 0)
	require.NoError(t, err)

	wasmHash, err := r.RegisterArtifact([]byte("wasm bytes"))
	require.NoError(t, err)

	m := validManifest(wasmHash)
	require.NoError(t, r.ShadowValidate(m))
}

func TestShadowValidateFailsWithoutArtifact(t *testing.T) {
	r, err := NewRegistry(cas.NewMemStore(), 0)
	require.NoError(t, err)

	m := validManifest("wasm-missing")
	require.Error(t, r.ShadowValidate(m))
}

func TestRegisterRejectsDuplicateModuleVersion(t *testing.T) {
	r, err := NewRegistry(cas.NewMemStore(), 0)
	require.NoError(t, err)
	m := validManifest("wasm-1")

	require.NoError(t, r.Register(m, "agent-ops"))
	require.Error(t, r.Register(m, "agent-ops"))
}

func TestActivateAndRetireUpdateActivePointer(t *testing.T) {
	r, err := NewRegistry(cas.NewMemStore(), 0)
	require.NoError(t, err)
	m := validManifest("wasm-1")
	require.NoError(t, r.Register(m, "agent-ops"))

	require.NoError(t, r.Activate(m.ModuleID, m.Version))
	v, ok := r.ActiveVersion(m.ModuleID)
	require.True(t, ok)
	require.Equal(t, m.Version, v)

	rec, ok := r.Get(m.ModuleID, m.Version)
	require.True(t, ok)
	require.Equal(t, StatusActive, rec.Status)

	require.NoError(t, r.Retire(m.ModuleID, m.Version))
	_, ok = r.ActiveVersion(m.ModuleID)
	require.False(t, ok)

	rec, ok = r.Get(m.ModuleID, m.Version)
	require.True(t, ok)
	require.Equal(t, StatusRetired, rec.Status)
}

func TestActivateRejectsUnknownModule(t *testing.T) {
	r, err := NewRegistry(cas.NewMemStore(), 0)
	require.NoError(t, err)
	require.Error(t, r.Activate("ghost", "1.0.0"))
}

func TestActiveManifestsReturnsOnlyActiveOnesSorted(t *testing.T) {
	r, err := NewRegistry(cas.NewMemStore(), 0)
	require.NoError(t, err)

	m1 := validManifest("wasm-1")
	m1.ModuleID = "mod-b"
	m2 := validManifest("wasm-2")
	m2.ModuleID = "mod-a"

	require.NoError(t, r.Register(m1, "agent-ops"))
	require.NoError(t, r.Register(m2, "agent-ops"))
	require.NoError(t, r.Activate(m1.ModuleID, m1.Version))
	require.NoError(t, r.Activate(m2.ModuleID, m2.Version))

	manifests := r.ActiveManifests()
	require.Len(t, manifests, 2)
	require.Equal(t, "mod-a", manifests[0].ModuleID)
	require.Equal(t, "mod-b", manifests[1].ModuleID)
}

func TestDigestIsDeterministicAndChangesWithRegistry(t *testing.T) {
	r, err := NewRegistry(cas.NewMemStore(), 0)
	require.NoError(t, err)

	d0, err := r.Digest()
	require.NoError(t, err)

	m := validManifest("wasm-1")
	require.NoError(t, r.Register(m, "agent-ops"))

	d1, err := r.Digest()
	require.NoError(t, err)
	require.NotEqual(t, d0, d1)

	d2, err := r.Digest()
	require.NoError(t, err)
	require.Equal(t, d1, d2)
}

// Package module implements the module registry, manifest types, and
// artifact content-addressing described in spec.md §4.7, generalizing
// the teacher's Service/ServiceVersion/Quotas shape
// (applications/jam/model.go, applications/jam/config.go) to
// sandboxed-reducer manifests.
package module

import (
	"fmt"
	"strings"
)

// Stage names when a module subscription fires within a tick.
type Stage string

const (
	StagePreAction  Stage = "PreAction"
	StagePostAction Stage = "PostAction"
	StagePostEvent  Stage = "PostEvent"
)

// Subscription declares when a module hook runs.
type Subscription struct {
	EventKinds  []string       `json:"event_kinds,omitempty" yaml:"event_kinds,omitempty"`
	ActionKinds []string       `json:"action_kinds,omitempty" yaml:"action_kinds,omitempty"`
	Stage       Stage          `json:"stage" yaml:"stage"`
	Filters     map[string]any `json:"filters,omitempty" yaml:"filters,omitempty"`
}

// ABIContract declares the module's schema and capability-slot bindings.
type ABIContract struct {
	ABIVersion   int               `json:"abi_version" yaml:"abi_version"`
	InputSchema  *string           `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
	OutputSchema *string           `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`
	CapSlots     map[string]string `json:"cap_slots,omitempty" yaml:"cap_slots,omitempty"`
	PolicyHooks  []string          `json:"policy_hooks,omitempty" yaml:"policy_hooks,omitempty"`
}

// Limits bounds a module's per-call resource consumption.
type Limits struct {
	MaxMemBytes    int64 `json:"max_mem_bytes" yaml:"max_mem_bytes"`
	MaxGas         int64 `json:"max_gas" yaml:"max_gas"`
	MaxCallRate    int64 `json:"max_call_rate" yaml:"max_call_rate"`
	MaxOutputBytes int64 `json:"max_output_bytes" yaml:"max_output_bytes"`
	MaxEffects     int   `json:"max_effects" yaml:"max_effects"`
	MaxEmits       int   `json:"max_emits" yaml:"max_emits"`
}

// ArtifactIdentity ties a module's artifact to its source and build
// provenance; Signature has the form
// "unsigned:<wasm_hash>:<source_hash>:<build_manifest_hash>" or a keyed
// form the verifier checks for coherence.
type ArtifactIdentity struct {
	SourceHash        string `json:"source_hash" yaml:"source_hash"`
	BuildManifestHash string `json:"build_manifest_hash" yaml:"build_manifest_hash"`
	ArtifactSignature string `json:"artifact_signature" yaml:"artifact_signature"`
}

// Coherent reports whether the identity's signature names the same
// (wasmHash, SourceHash, BuildManifestHash) triple it's attached to.
func (a ArtifactIdentity) Coherent(wasmHash string) bool {
	parts := strings.Split(a.ArtifactSignature, ":")
	if len(parts) != 4 {
		return false
	}
	kind, wh, sh, bh := parts[0], parts[1], parts[2], parts[3]
	if kind != "unsigned" && kind != "keyed" {
		return false
	}
	return wh == wasmHash && sh == a.SourceHash && bh == a.BuildManifestHash
}

// Manifest is a module's full declared contract.
type Manifest struct {
	ModuleID         string            `json:"module_id" yaml:"module_id"`
	Version          string            `json:"version" yaml:"version"`
	Name             string            `json:"name" yaml:"name"`
	WasmHash         string            `json:"wasm_hash" yaml:"wasm_hash"`
	InterfaceVersion string            `json:"interface_version" yaml:"interface_version"`
	ABIContract      ABIContract       `json:"abi_contract" yaml:"abi_contract"`
	Exports          []string          `json:"exports,omitempty" yaml:"exports,omitempty"`
	Subscriptions    []Subscription    `json:"subscriptions,omitempty" yaml:"subscriptions,omitempty"`
	RequiredCaps     []string          `json:"required_caps,omitempty" yaml:"required_caps,omitempty"`
	Limits           Limits            `json:"limits" yaml:"limits"`
	ArtifactIdentity *ArtifactIdentity `json:"artifact_identity,omitempty" yaml:"artifact_identity,omitempty"`
}

// Status is a module record's lifecycle stage.
type Status string

const (
	StatusRegistered Status = "Registered"
	StatusActive     Status = "Active"
	StatusRetired    Status = "Retired"
)

// Record is the state-model "Module record" entity from spec.md §3.
type Record struct {
	Manifest     Manifest `json:"manifest"`
	WasmHash     string   `json:"wasm_hash"`
	RegisteredBy string   `json:"registered_by"`
	Status       Status   `json:"status"`
}

// contains reports whether s contains target.
func contains(s []string, target string) bool {
	for _, v := range s {
		if v == target {
			return true
		}
	}
	return false
}

// ValidateShadow runs the shadow-validation checks spec.md §4.7
// mandates: missing artifact, wasm_hash mismatch, unsupported
// abi_version, partial schema pairs, unbound cap_slots, and incoherent
// artifact_identity. artifactExists/artifactHash are supplied by the
// caller (the registry), which consults the CAS.
func ValidateShadow(m Manifest, artifactExists bool, artifactHash string) error {
	if !artifactExists {
		return fmt.Errorf("module: missing artifact for wasm_hash %s", m.WasmHash)
	}
	if artifactHash != m.WasmHash {
		return fmt.Errorf("module: wasm_hash mismatch: manifest says %s, artifact is %s", m.WasmHash, artifactHash)
	}
	if m.ABIContract.ABIVersion != 1 {
		return fmt.Errorf("module: unsupported abi_version %d", m.ABIContract.ABIVersion)
	}
	if (m.ABIContract.InputSchema == nil) != (m.ABIContract.OutputSchema == nil) {
		return fmt.Errorf("module: input_schema and output_schema must both be present or both absent")
	}
	for slot, capRef := range m.ABIContract.CapSlots {
		if !contains(m.RequiredCaps, capRef) {
			return fmt.Errorf("module: cap_slot %q binds %q which is not in required_caps", slot, capRef)
		}
	}
	if m.ArtifactIdentity != nil && !m.ArtifactIdentity.Coherent(m.WasmHash) {
		return fmt.Errorf("module: incoherent artifact_identity for wasm_hash %s", m.WasmHash)
	}
	return nil
}

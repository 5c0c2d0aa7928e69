package module

import (
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/agentworld/worldkernel/internal/codec"
	"github.com/agentworld/worldkernel/pkg/cas"
)

// Registry holds module records keyed by module_id, the active version
// per module_id, the artifact CAS, and an LRU cache of decoded
// manifests keyed by wasm_hash, bounded by max_cached with
// least-recently-loaded eviction (hashicorp/golang-lru/v2's Get/Add
// already implement that policy).
type Registry struct {
	mu       sync.RWMutex
	records  map[string]Record // keyed by module_id@version
	active   map[string]string // module_id -> active version
	artifacts cas.Store
	cache    *lru.Cache[string, Manifest]
}

// NewRegistry constructs a Registry backed by store with an LRU cache
// of at most maxCached decoded manifests.
func NewRegistry(store cas.Store, maxCached int) (*Registry, error) {
	if maxCached <= 0 {
		maxCached = 64
	}
	c, err := lru.New[string, Manifest](maxCached)
	if err != nil {
		return nil, fmt.Errorf("module: constructing LRU cache: %w", err)
	}
	return &Registry{
		records:   make(map[string]Record),
		active:    make(map[string]string),
		artifacts: store,
		cache:     c,
	}, nil
}

func recordKey(moduleID, version string) string {
	return moduleID + "@" + version
}

// RegisterArtifact stores raw wasm bytes in the CAS, keyed by their
// sha256 hash (the module's wasm_hash), idempotently.
func (r *Registry) RegisterArtifact(data []byte) (string, error) {
	hash := cas.Hash(data)
	exists, err := r.artifacts.Stat(hash)
	if err != nil {
		return "", err
	}
	if exists {
		return hash, nil
	}
	if err := r.artifacts.Put(hash, data); err != nil {
		return "", err
	}
	return hash, nil
}

// ShadowValidate runs spec.md §4.7's shadow-validation checks against
// the registry's artifact CAS, without mutating registry state.
func (r *Registry) ShadowValidate(m Manifest) error {
	exists, err := r.artifacts.Stat(m.WasmHash)
	if err != nil {
		return err
	}
	var actualHash string
	if exists {
		data, err := r.artifacts.Get(m.WasmHash)
		if err != nil {
			return err
		}
		actualHash = cas.Hash(data)
	}
	return ValidateShadow(m, exists, actualHash)
}

// Register adds a module record in Registered status. Shadow
// validation must already have passed (callers route this through
// governance.ApplyProposal).
func (r *Registry) Register(m Manifest, registeredBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := recordKey(m.ModuleID, m.Version)
	if _, exists := r.records[key]; exists {
		return fmt.Errorf("module: %s already registered", key)
	}
	r.records[key] = Record{Manifest: m, WasmHash: m.WasmHash, RegisteredBy: registeredBy, Status: StatusRegistered}
	r.cache.Add(m.WasmHash, m)
	return nil
}

// Activate transitions a registered module version to Active and
// updates the per-module_id active pointer. Any previously active
// version of the same module_id is not implicitly retired — callers
// must retire it explicitly if that is the desired policy.
func (r *Registry) Activate(moduleID, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := recordKey(moduleID, version)
	rec, ok := r.records[key]
	if !ok {
		return fmt.Errorf("module: %s not found", key)
	}
	rec.Status = StatusActive
	r.records[key] = rec
	r.active[moduleID] = version
	return nil
}

// Retire transitions a module version to Retired.
func (r *Registry) Retire(moduleID, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := recordKey(moduleID, version)
	rec, ok := r.records[key]
	if !ok {
		return fmt.Errorf("module: %s not found", key)
	}
	rec.Status = StatusRetired
	r.records[key] = rec
	if r.active[moduleID] == version {
		delete(r.active, moduleID)
	}
	return nil
}

// Get returns a copy of the record for moduleID@version.
func (r *Registry) Get(moduleID, version string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[recordKey(moduleID, version)]
	return rec, ok
}

// ActiveVersion returns the currently active version string for
// moduleID, if any.
func (r *Registry) ActiveVersion(moduleID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.active[moduleID]
	return v, ok
}

// ActiveManifests returns every currently-Active manifest, ordered by
// (stage, module_id) is the caller's responsibility (internal/kernel
// sorts subscriptions, not manifests); here we just sort by module_id
// for deterministic iteration.
func (r *Registry) ActiveManifests() []Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, version := range r.active {
		ids = append(ids, id+"@"+version)
	}
	sort.Strings(ids)
	out := make([]Manifest, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.records[id].Manifest)
	}
	return out
}

// Digest returns a blake3 hex digest over the canonical encoding of
// every record, used as Snapshot.module_registry content and feeding
// module_artifacts_digest alongside the CAS.
func (r *Registry) Digest() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var keys []string
	for k := range r.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]Record, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, r.records[k])
	}
	return codec.HashState(ordered)
}

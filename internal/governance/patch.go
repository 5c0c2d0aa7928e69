package governance

import (
	"sort"
	"strings"

	"github.com/agentworld/worldkernel/internal/kernelerr"
	"github.com/agentworld/worldkernel/internal/state"
)

// OpKind distinguishes a patch operation's effect.
type OpKind string

const (
	OpSet    OpKind = "Set"
	OpRemove OpKind = "Remove"
)

// Op is one manifest-patch operation: Set writes Value at Path, Remove
// deletes whatever is at Path. Path is a dot-separated walk through the
// manifest's Content map, e.g. "limits.max_gas".
type Op struct {
	Kind  OpKind
	Path  string
	Value any
}

// ManifestPatch lists ops to apply against the manifest whose hash is
// BaseManifestHash, optionally bumping the version, per spec.md §4.8.
// NewVersion of 0 means "leave the manifest's current version alone":
// version 0 is only ever a fresh World's starting value, never a
// patch's intended target.
type ManifestPatch struct {
	BaseManifestHash string
	Ops              []Op
	NewVersion       uint64
}

// Conflict cites the offending patch indices and paths for a merge
// conflict, per spec.md §4.8's "structured conflict list".
type Conflict struct {
	Kind     string // "ValueConflict" | "PrefixOverlap"
	PathA    string
	PathB    string
	PatchA   int
	PatchB   int
}

func splitPath(p string) []string { return strings.Split(p, ".") }

func isPrefixOf(a, b []string) bool {
	if len(a) >= len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// MergePatches applies patches (all sharing the same base) in order,
// returning the combined patch. If two patches Set the same exact path
// to different values, or one patch's path is a strict prefix of
// another's, a Conflict is reported for each offending pair and no
// patch is returned.
func MergePatches(patches []ManifestPatch) (*ManifestPatch, []Conflict) {
	if len(patches) == 0 {
		return &ManifestPatch{}, nil
	}

	type located struct {
		patchIdx int
		op       Op
	}
	var all []located
	for pi, p := range patches {
		for _, op := range p.Ops {
			all = append(all, located{patchIdx: pi, op: op})
		}
	}

	var conflicts []Conflict
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			a, b := all[i], all[j]
			if a.patchIdx == b.patchIdx {
				continue
			}
			pa, pb := splitPath(a.op.Path), splitPath(b.op.Path)
			samePath := a.op.Path == b.op.Path
			if samePath && a.op.Kind == OpSet && b.op.Kind == OpSet {
				if !equalValue(a.op.Value, b.op.Value) {
					conflicts = append(conflicts, Conflict{
						Kind: "ValueConflict", PathA: a.op.Path, PathB: b.op.Path,
						PatchA: a.patchIdx, PatchB: b.patchIdx,
					})
				}
				continue
			}
			if !samePath && (isPrefixOf(pa, pb) || isPrefixOf(pb, pa)) {
				conflicts = append(conflicts, Conflict{
					Kind: "PrefixOverlap", PathA: a.op.Path, PathB: b.op.Path,
					PatchA: a.patchIdx, PatchB: b.patchIdx,
				})
			}
		}
	}
	if len(conflicts) > 0 {
		sort.Slice(conflicts, func(i, j int) bool {
			if conflicts[i].PatchA != conflicts[j].PatchA {
				return conflicts[i].PatchA < conflicts[j].PatchA
			}
			return conflicts[i].PatchB < conflicts[j].PatchB
		})
		return nil, conflicts
	}

	merged := &ManifestPatch{BaseManifestHash: patches[0].BaseManifestHash}
	for _, p := range patches {
		merged.Ops = append(merged.Ops, p.Ops...)
		if p.NewVersion != 0 {
			merged.NewVersion = p.NewVersion
		}
	}
	return merged, nil
}

func equalValue(a, b any) bool {
	// Patches carry JSON-decoded scalars/maps/slices; a direct
	// comparable-type check handles scalars, and a length+key
	// comparison covers the structural cases without a full deep-equal
	// dependency the teacher doesn't otherwise pull in.
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if !equalValue(v, bv[k]) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equalValue(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// ApplyPatch resolves patch against base, the world-level manifest
// (spec.md §3's Manifest{version, content}), returning the patched
// manifest. BaseManifestHash must match the hash of base (checked by
// the caller before invocation, typically inside ShadowProposal's
// resolveManifest callback); ApplyPatch itself only walks Content.
func ApplyPatch(base state.Manifest, patch ManifestPatch) (state.Manifest, error) {
	result := base
	result.Content = cloneContent(base.Content)
	if patch.NewVersion != 0 {
		result.Version = patch.NewVersion
	}
	for _, op := range patch.Ops {
		path := splitPath(op.Path)
		if len(path) == 0 || path[0] == "" {
			return state.Manifest{}, kernelerr.ModuleChangeInvalid("empty patch path")
		}
		switch op.Kind {
		case OpSet:
			if err := setPath(result.Content, path, op.Value); err != nil {
				return state.Manifest{}, err
			}
		case OpRemove:
			removePath(result.Content, path)
		default:
			return state.Manifest{}, kernelerr.ModuleChangeInvalid("unknown patch op kind")
		}
	}
	return result, nil
}

func cloneContent(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneContent(nested)
		} else {
			out[k] = v
		}
	}
	return out
}

func setPath(m map[string]any, path []string, value any) error {
	if len(path) == 1 {
		m[path[0]] = value
		return nil
	}
	next, ok := m[path[0]].(map[string]any)
	if !ok {
		next = make(map[string]any)
		m[path[0]] = next
	}
	return setPath(next, path[1:], value)
}

func removePath(m map[string]any, path []string) {
	if len(path) == 1 {
		delete(m, path[0])
		return
	}
	next, ok := m[path[0]].(map[string]any)
	if !ok {
		return
	}
	removePath(next, path[1:])
}

package governance

import (
	"encoding/json"
	"fmt"

	"github.com/agentworld/worldkernel/internal/kernelerr"
	"github.com/agentworld/worldkernel/internal/module"
)

// ModuleChangesKey is the Manifest.Content key shadow_proposal and
// apply_proposal interpret, per spec.md §3's "the module package
// interprets content.module_changes" and §4.8's apply step. It is an
// ordered array of {kind, module_id, version, manifest?} objects, one
// per module lifecycle operation the proposal bundles.
const ModuleChangesKey = "module_changes"

// ParseModuleChanges extracts and decodes content[ModuleChangesKey],
// if present, into an ordered ModuleChange list. A missing key yields
// (nil, nil): not every manifest proposal touches module lifecycle.
func ParseModuleChanges(content map[string]any) ([]ModuleChange, error) {
	raw, ok := content[ModuleChangesKey]
	if !ok {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, kernelerr.ModuleChangeInvalid(fmt.Sprintf("%s must be an array", ModuleChangesKey))
	}
	changes := make([]ModuleChange, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, kernelerr.ModuleChangeInvalid(fmt.Sprintf("%s[%d] must be an object", ModuleChangesKey, i))
		}
		change, err := decodeModuleChange(obj)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", ModuleChangesKey, i, err)
		}
		changes = append(changes, change)
	}
	return changes, nil
}

func decodeModuleChange(obj map[string]any) (ModuleChange, error) {
	kindRaw, _ := obj["kind"].(string)
	kind := ModuleChangeKind(kindRaw)
	switch kind {
	case ChangeRegister, ChangeActivate, ChangeRetire:
	default:
		return ModuleChange{}, kernelerr.ModuleChangeInvalid(fmt.Sprintf("unknown module_change kind %q", kindRaw))
	}

	moduleID, _ := obj["module_id"].(string)
	if moduleID == "" {
		return ModuleChange{}, kernelerr.ModuleChangeInvalid("module_change entry missing module_id")
	}
	version, _ := obj["version"].(string)

	change := ModuleChange{Kind: kind, ModuleID: moduleID, Version: version}
	if kind != ChangeRegister {
		return change, nil
	}

	manifestRaw, ok := obj["manifest"]
	if !ok {
		return ModuleChange{}, kernelerr.ModuleChangeInvalid("Register module_change missing manifest")
	}
	// content arrives as generic JSON-shaped values (map[string]any);
	// round-tripping through encoding/json onto module.Manifest's
	// existing json tags is simpler and no less correct than hand
	// walking the map, and this glue is the only place that needs it.
	raw, err := json.Marshal(manifestRaw)
	if err != nil {
		return ModuleChange{}, fmt.Errorf("module_change manifest: %w", err)
	}
	var m module.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return ModuleChange{}, fmt.Errorf("module_change manifest: %w", err)
	}
	change.Manifest = m
	return change, nil
}

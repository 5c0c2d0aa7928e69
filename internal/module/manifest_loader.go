package module

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadManifestFile reads a module manifest from a YAML file on disk,
// the way system/sandbox/policy_loader.go reads its PolicyConfig:
// operators hand-author a manifest for a module build and a governance
// proposal author loads it rather than constructing the struct inline.
// The returned Manifest is not validated — callers run it through
// Registry.ShadowValidate (or governance.ShadowProposal) as normal.
func LoadManifestFile(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("module: reading manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("module: parsing manifest %s: %w", path, err)
	}
	return m, nil
}

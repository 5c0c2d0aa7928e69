package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape of a policy bundle, loaded with
// LoadRulesetFile the way system/sandbox/policy_loader.go's PolicyLoader
// reads a YAML PolicyConfig: a version stamp, a default-effect hint
// (informational only — spec.md §4.5's Evaluate already defaults to
// Allow on no match), and the ordered rule list itself.
type FileConfig struct {
	Version       string      `yaml:"version"`
	DefaultEffect string      `yaml:"default_effect"`
	Rules         []FileRule  `yaml:"rules"`
	Capabilities  []FileGrant `yaml:"capability_profiles"`
}

// FileRule is one YAML-encoded policy rule; Decision is "allow" or
// "deny" (case-insensitive), matching the teacher's PolicyEffect
// strings.
type FileRule struct {
	EffectKind string `yaml:"effect_kind"`
	OriginKind string `yaml:"origin_kind"`
	CapName    string `yaml:"cap_name"`
	Decision   string `yaml:"decision"`
	Reason     string `yaml:"reason"`
}

// FileGrant is one YAML-encoded capability grant.
type FileGrant struct {
	Name        string   `yaml:"name"`
	AllowAll    bool     `yaml:"allow_all"`
	EffectKinds []string `yaml:"effect_kinds"`
	OriginKinds []string `yaml:"origin_kinds"`
}

// LoadRulesetFile reads a YAML policy bundle from path and returns the
// decoded rule list and capability grants, ready for Ruleset.Set and
// repeated CapabilitySet.Add calls. It does not mutate a live
// Ruleset/CapabilitySet itself — the caller decides whether a reload
// replaces the running policy, mirroring PolicyLoader.Load's
// load-then-swap split from the teacher.
func LoadRulesetFile(path string) (FileConfig, []Rule, []Grant, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, nil, nil, fmt.Errorf("policy: reading %s: %w", path, err)
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return FileConfig{}, nil, nil, fmt.Errorf("policy: parsing %s: %w", path, err)
	}

	rules := make([]Rule, 0, len(cfg.Rules))
	for _, fr := range cfg.Rules {
		decision, err := parseDecision(fr.Decision)
		if err != nil {
			return FileConfig{}, nil, nil, fmt.Errorf("policy: rule for effect_kind %q: %w", fr.EffectKind, err)
		}
		rules = append(rules, Rule{
			Match:    Match{EffectKind: fr.EffectKind, OriginKind: fr.OriginKind, CapName: fr.CapName},
			Decision: decision,
			Reason:   fr.Reason,
		})
	}

	grants := make([]Grant, 0, len(cfg.Capabilities))
	for _, fg := range cfg.Capabilities {
		scope := Scope{AllowAll: fg.AllowAll, EffectKinds: fg.EffectKinds, OriginKinds: fg.OriginKinds}
		grants = append(grants, Grant{Name: fg.Name, Scope: scope})
	}

	return cfg, rules, grants, nil
}

func parseDecision(s string) (Decision, error) {
	switch s {
	case "allow", "Allow", "ALLOW", "":
		return Allow, nil
	case "deny", "Deny", "DENY":
		return Deny, nil
	default:
		return Allow, fmt.Errorf("unknown decision %q (want allow|deny)", s)
	}
}

package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePolicyYAML = `
version: "1"
default_effect: deny
rules:
  - effect_kind: http.request
    decision: deny
    reason: blocked
  - effect_kind: storage.write
    cap_name: cap_storage
    decision: allow
capability_profiles:
  - name: cap_storage
    effect_kinds: ["storage.write"]
`

func writeTempPolicy(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadRulesetFileParsesRulesAndGrants(t *testing.T) {
	path := writeTempPolicy(t, samplePolicyYAML)
	cfg, rules, grants, err := LoadRulesetFile(path)
	require.NoError(t, err)
	require.Equal(t, "1", cfg.Version)
	require.Len(t, rules, 2)
	require.Equal(t, Deny, rules[0].Decision)
	require.Equal(t, "blocked", rules[0].Reason)
	require.Equal(t, Allow, rules[1].Decision)
	require.Len(t, grants, 1)
	require.Equal(t, "cap_storage", grants[0].Name)
}

func TestLoadRulesetFileAppliesToLiveRulesetAndCaps(t *testing.T) {
	path := writeTempPolicy(t, samplePolicyYAML)
	_, rules, grants, err := LoadRulesetFile(path)
	require.NoError(t, err)

	rs := NewRuleset()
	rs.Set(rules)
	caps := NewCapabilitySet()
	for _, g := range grants {
		require.NoError(t, caps.Add(g))
	}

	decision, reason := rs.Evaluate("http.request", "mod.weather", "cap_all")
	require.Equal(t, Deny, decision)
	require.Equal(t, "blocked", reason)

	_, ok := caps.Get("cap_storage")
	require.True(t, ok)
}

func TestLoadRulesetFileRejectsUnknownDecision(t *testing.T) {
	path := writeTempPolicy(t, "rules:\n  - effect_kind: x\n    decision: maybe\n")
	_, _, _, err := LoadRulesetFile(path)
	require.Error(t, err)
}

func TestLoadRulesetFileMissingFile(t *testing.T) {
	_, _, _, err := LoadRulesetFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

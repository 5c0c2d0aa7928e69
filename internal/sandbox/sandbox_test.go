package sandbox

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnforceAllowsWithinLimits(t *testing.T) {
	req := CallRequest{ModuleID: "m1", TraceID: "t1", MaxEffects: 2, MaxEmits: 2, MaxOutputBytes: 100}
	out := ModuleOutput{OutputBytes: 50}
	require.NoError(t, Enforce(req, out))
}

func TestEnforceRejectsTooManyEffects(t *testing.T) {
	req := CallRequest{ModuleID: "m1", TraceID: "t1", MaxEffects: 1}
	out := ModuleOutput{Effects: []EffectIntentOut{{Kind: "a"}, {Kind: "b"}}}
	require.Error(t, Enforce(req, out))
}

func TestEnforceRejectsTooManyEmits(t *testing.T) {
	req := CallRequest{ModuleID: "m1", TraceID: "t1", MaxEmits: 1}
	out := ModuleOutput{Emits: []json.RawMessage{[]byte(`{}`), []byte(`{}`)}}
	require.Error(t, Enforce(req, out))
}

func TestEnforceRejectsOversizedOutput(t *testing.T) {
	req := CallRequest{ModuleID: "m1", TraceID: "t1", MaxOutputBytes: 10}
	out := ModuleOutput{OutputBytes: 100}
	require.Error(t, Enforce(req, out))
}

func TestEnforceIgnoresUnsetLimits(t *testing.T) {
	req := CallRequest{ModuleID: "m1", TraceID: "t1"}
	out := ModuleOutput{OutputBytes: 1 << 30, Effects: make([]EffectIntentOut, 1000)}
	require.NoError(t, Enforce(req, out))
}

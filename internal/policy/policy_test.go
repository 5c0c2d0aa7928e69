package policy

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCapabilitySetAddAndGet(t *testing.T) {
	c := NewCapabilitySet()
	require.NoError(t, c.Add(Grant{Name: "move", Scope: AllowAllScope()}))

	g, ok := c.Get("move")
	require.True(t, ok)
	require.True(t, g.Scope.AllowAll)
}

func TestCapabilitySetRejectsDuplicateName(t *testing.T) {
	c := NewCapabilitySet()
	require.NoError(t, c.Add(Grant{Name: "move"}))
	err := c.Add(Grant{Name: "move"})
	require.Error(t, err)
}

func TestCapabilitySetGetMissingReturnsFalse(t *testing.T) {
	c := NewCapabilitySet()
	_, ok := c.Get("ghost")
	require.False(t, ok)
}

func TestRulesetEvaluateDefaultsToAllowWhenEmpty(t *testing.T) {
	r := NewRuleset()
	decision, reason := r.Evaluate("move", "agent", "move")
	require.Equal(t, Allow, decision)
	require.Empty(t, reason)
}

func TestRulesetEvaluateFirstMatchWins(t *testing.T) {
	r := NewRuleset()
	r.Set([]Rule{
		{Match: Match{EffectKind: "move"}, Decision: Deny, Reason: "blocked"},
		{Match: Match{EffectKind: "move"}, Decision: Allow, Reason: "never reached"},
	})

	decision, reason := r.Evaluate("move", "agent", "move")
	require.Equal(t, Deny, decision)
	require.Equal(t, "blocked", reason)
}

func TestRulesetEvaluateRespectsWildcardFields(t *testing.T) {
	r := NewRuleset()
	r.Set([]Rule{
		{Match: Match{OriginKind: "agent"}, Decision: Deny, Reason: "no agents"},
	})

	decision, _ := r.Evaluate("anything", "agent", "whatever")
	require.Equal(t, Deny, decision)

	decision, _ = r.Evaluate("anything", "location", "whatever")
	require.Equal(t, Allow, decision)
}

func TestRulesetSetReplacesPreviousRules(t *testing.T) {
	r := NewRuleset()
	r.Set([]Rule{{Match: Match{}, Decision: Deny}})
	r.Set([]Rule{{Match: Match{}, Decision: Allow}})

	decision, _ := r.Evaluate("x", "y", "z")
	require.Equal(t, Allow, decision)
}

func TestHMACSignerSignAndVerifyRoundtrips(t *testing.T) {
	s := NewHMACSigner("secret")
	cost := int64(150)
	sig, err := s.Sign("intent-1", "applied", map[string]int{"x": 1}, &cost)
	require.NoError(t, err)
	require.True(t, s.Verify("intent-1", "applied", map[string]int{"x": 1}, &cost, sig))
}

func TestHMACSignerVerifyRejectsTamperedPayload(t *testing.T) {
	s := NewHMACSigner("secret")
	sig, err := s.Sign("intent-1", "applied", "payload-a", nil)
	require.NoError(t, err)
	require.False(t, s.Verify("intent-1", "applied", "payload-b", nil, sig))
}

func TestHMACSignerVerifyRejectsWrongKey(t *testing.T) {
	s1 := NewHMACSigner("secret-1")
	s2 := NewHMACSigner("secret-2")
	sig, err := s1.Sign("intent-1", "applied", "payload", nil)
	require.NoError(t, err)
	require.False(t, s2.Verify("intent-1", "applied", "payload", nil, sig))
}

func TestHMACSignerVerifyRejectsMalformedSignature(t *testing.T) {
	s := NewHMACSigner("secret")
	require.False(t, s.Verify("intent-1", "applied", "payload", nil, "not-hex!!"))
}

func ed25519TestKeypair() ed25519.PrivateKey {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	return ed25519.NewKeyFromSeed(seed)
}

func TestEd25519SignerSignAndVerifyRoundtrips(t *testing.T) {
	priv := ed25519TestKeypair()
	s := NewEd25519Signer(priv)

	sig, err := s.Sign("intent-1", "applied", "payload", nil)
	require.NoError(t, err)
	require.True(t, s.Verify("intent-1", "applied", "payload", nil, sig))
}

func TestEd25519SignerVerifyRejectsTamperedPayload(t *testing.T) {
	priv := ed25519TestKeypair()
	s := NewEd25519Signer(priv)

	sig, err := s.Sign("intent-1", "applied", "payload-a", nil)
	require.NoError(t, err)
	require.False(t, s.Verify("intent-1", "applied", "payload-b", nil, sig))
}

func TestParseEd25519SignatureRoundtripsWireForm(t *testing.T) {
	priv := ed25519TestKeypair()
	s := NewEd25519Signer(priv)
	sig, err := s.Sign("intent-1", "applied", "payload", nil)
	require.NoError(t, err)

	pub, raw, ok := ParseEd25519Signature(sig)
	require.True(t, ok)
	require.Equal(t, priv.Public().(ed25519.PublicKey), pub)
	require.NotEmpty(t, raw)
}

func TestParseEd25519SignatureRejectsMissingPrefix(t *testing.T) {
	_, _, ok := ParseEd25519Signature("not-a-signature")
	require.False(t, ok)
}

func TestParseEd25519SignatureRejectsMissingSeparator(t *testing.T) {
	_, _, ok := ParseEd25519Signature("ed25519:v1:onlyonepart")
	require.False(t, ok)
}

func TestParseEd25519SignatureRejectsBadHex(t *testing.T) {
	_, _, ok := ParseEd25519Signature("ed25519:v1:zz:zz")
	require.False(t, ok)
}

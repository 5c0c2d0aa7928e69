// Package policy implements the capability and policy layer described
// in spec.md §4.5: additive capability grants, an ordered policy rule
// list evaluated first-match-wins, and receipt signing. It generalizes
// the teacher's Android-style Capability/ProtectionLevel model
// (system/sandbox/sandbox.go, system/sandbox/policy_loader.go) to the
// spec's vocabulary.
package policy

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/agentworld/worldkernel/internal/codec"
	"github.com/agentworld/worldkernel/internal/kernelerr"
)

// Scope describes what a capability grant permits: either unrestricted
// (AllowAll) or restricted to specific effect/origin kinds.
type Scope struct {
	AllowAll    bool
	EffectKinds []string
	OriginKinds []string
}

// AllowAllScope returns an unrestricted Scope.
func AllowAllScope() Scope { return Scope{AllowAll: true} }

// RestrictedScope returns a Scope limited to the given effect/origin kinds.
func RestrictedScope(effectKinds, originKinds []string) Scope {
	return Scope{EffectKinds: effectKinds, OriginKinds: originKinds}
}

// Grant is an immutable, additive capability grant.
type Grant struct {
	Name  string
	Scope Scope
}

// Decision is a policy rule's verdict.
type Decision int

const (
	Allow Decision = iota
	Deny
)

// Match narrows a PolicyRule to the requests it applies to; empty
// fields are wildcards.
type Match struct {
	EffectKind string
	OriginKind string
	CapName    string
}

func (m Match) matches(effectKind, origin, capName string) bool {
	if m.EffectKind != "" && m.EffectKind != effectKind {
		return false
	}
	if m.OriginKind != "" && m.OriginKind != origin {
		return false
	}
	if m.CapName != "" && m.CapName != capName {
		return false
	}
	return true
}

// Rule is one ordered policy rule; first match in a Ruleset wins.
type Rule struct {
	Match    Match
	Decision Decision
	Reason   string
}

// CapabilitySet holds additive capability grants, keyed by name;
// duplicates by name are rejected.
type CapabilitySet struct {
	mu     sync.RWMutex
	grants map[string]Grant
}

// NewCapabilitySet returns an empty CapabilitySet.
func NewCapabilitySet() *CapabilitySet {
	return &CapabilitySet{grants: make(map[string]Grant)}
}

// Add adds grant; returns a RuleDenied error on a duplicate name.
func (c *CapabilitySet) Add(grant Grant) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.grants[grant.Name]; exists {
		return kernelerr.RuleDenied(fmt.Sprintf("capability %q already granted", grant.Name))
	}
	c.grants[grant.Name] = grant
	return nil
}

// Get returns the grant named name, if any.
func (c *CapabilitySet) Get(name string) (Grant, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.grants[name]
	return g, ok
}

// Ruleset is an atomically-replaceable, ordered list of policy rules.
type Ruleset struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewRuleset returns an empty Ruleset (default-Allow).
func NewRuleset() *Ruleset { return &Ruleset{} }

// Set atomically replaces the entire rule list.
func (r *Ruleset) Set(rules []Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append([]Rule(nil), rules...)
}

// Evaluate traverses rules in order; the first match wins. With no
// matching rule (or an empty ruleset), the default decision is Allow.
func (r *Ruleset) Evaluate(effectKind, origin, capName string) (Decision, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rule := range r.rules {
		if rule.Match.matches(effectKind, origin, capName) {
			return rule.Decision, rule.Reason
		}
	}
	return Allow, ""
}

// ReceiptSigner produces and verifies signatures over the canonical
// encoding of (intent_id, status, payload, cost_cents), per spec.md
// §4.5. Two concrete implementations are provided: HMACSigner and
// Ed25519Signer.
type ReceiptSigner interface {
	Sign(intentID, status string, payload any, costCents *int64) (string, error)
	Verify(intentID, status string, payload any, costCents *int64, signature string) bool
}

// receiptTuple is the exact value signatures are computed over.
type receiptTuple struct {
	IntentID  string `cbor:"intent_id"`
	Status    string `cbor:"status"`
	Payload   any    `cbor:"payload"`
	CostCents *int64 `cbor:"cost_cents"`
}

func encodeReceiptTuple(intentID, status string, payload any, costCents *int64) ([]byte, error) {
	return codec.Encode(receiptTuple{IntentID: intentID, Status: status, Payload: payload, CostCents: costCents})
}

// HMACSigner signs receipts with HMAC-SHA256 over the canonical
// receipt tuple, mirroring infrastructure/crypto/envelope.go's
// keyed-MAC discipline. Signatures are returned as bare hex.
type HMACSigner struct {
	key []byte
}

// NewHMACSigner constructs an HMACSigner from a shared secret.
func NewHMACSigner(key string) *HMACSigner {
	return &HMACSigner{key: []byte(key)}
}

func (h *HMACSigner) Sign(intentID, status string, payload any, costCents *int64) (string, error) {
	b, err := encodeReceiptTuple(intentID, status, payload, costCents)
	if err != nil {
		return "", fmt.Errorf("policy: encoding receipt tuple: %w", err)
	}
	mac := hmac.New(sha256.New, h.key)
	mac.Write(b)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func (h *HMACSigner) Verify(intentID, status string, payload any, costCents *int64, signature string) bool {
	expected, err := h.Sign(intentID, status, payload, costCents)
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(expected)
	return hmac.Equal(got, want)
}

// Ed25519Signer signs receipts with an ed25519 private key. Signatures
// are returned in the "ed25519:v1:<pub_hex>:<sig_hex>" wire form used
// across the kernel for signed artifacts (spec.md §6).
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewEd25519Signer constructs an Ed25519Signer from a private key.
func NewEd25519Signer(priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}
}

func (e *Ed25519Signer) Sign(intentID, status string, payload any, costCents *int64) (string, error) {
	b, err := encodeReceiptTuple(intentID, status, payload, costCents)
	if err != nil {
		return "", fmt.Errorf("policy: encoding receipt tuple: %w", err)
	}
	sig := ed25519.Sign(e.priv, b)
	return fmt.Sprintf("ed25519:v1:%s:%s", hex.EncodeToString(e.pub), hex.EncodeToString(sig)), nil
}

func (e *Ed25519Signer) Verify(intentID, status string, payload any, costCents *int64, signature string) bool {
	pub, sig, ok := ParseEd25519Signature(signature)
	if !ok {
		return false
	}
	b, err := encodeReceiptTuple(intentID, status, payload, costCents)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, b, sig)
}

// ParseEd25519Signature parses the "ed25519:v1:<pub_hex>:<sig_hex>"
// wire form shared by receipts, sequencer heads, and membership
// snapshots.
func ParseEd25519Signature(s string) (ed25519.PublicKey, []byte, bool) {
	const prefix = "ed25519:v1:"
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return nil, nil, false
	}
	rest := s[len(prefix):]
	sep := -1
	for i, c := range rest {
		if c == ':' {
			sep = i
			break
		}
	}
	if sep < 0 {
		return nil, nil, false
	}
	pubHex, sigHex := rest[:sep], rest[sep+1:]
	pub, err := hex.DecodeString(pubHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, nil, false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, nil, false
	}
	return ed25519.PublicKey(pub), sig, true
}

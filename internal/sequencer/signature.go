package sequencer

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/agentworld/worldkernel/internal/codec"
	"github.com/agentworld/worldkernel/internal/kernelerr"
	"github.com/agentworld/worldkernel/internal/policy"
)

// Ed25519SignaturePrefix is the wire form shared by action and head
// signatures, per spec.md §6.
const Ed25519SignaturePrefix = "ed25519:v1:"

// headSigningTuple and actionSigningTuple are the exact values a
// signature covers: the envelope without its own Signature field (and,
// for actions, without payload_cbor).
type headSigningTuple struct {
	WorldID     string `cbor:"world_id"`
	Height      uint64 `cbor:"height"`
	BlockHash   string `cbor:"block_hash"`
	StateRoot   string `cbor:"state_root"`
	TimestampMs int64  `cbor:"timestamp_ms"`
}

type actionSigningTuple struct {
	WorldID     string `cbor:"world_id"`
	ActionID    string `cbor:"action_id"`
	ActorID     string `cbor:"actor_id"`
	ActionKind  string `cbor:"action_kind"`
	PayloadHash string `cbor:"payload_hash"`
	Nonce       uint64 `cbor:"nonce"`
	TimestampMs int64  `cbor:"timestamp_ms"`
}

func headBytes(h WorldHeadAnnounce) ([]byte, error) {
	return codec.Encode(headSigningTuple{h.WorldID, h.Height, h.BlockHash, h.StateRoot, h.TimestampMs})
}

func actionBytes(a ActionEnvelope) ([]byte, error) {
	return codec.Encode(actionSigningTuple{a.WorldID, a.ActionID, a.ActorID, a.ActionKind, a.PayloadHash, a.Nonce, a.TimestampMs})
}

// HMACSigner signs/verifies both heads and action envelopes with a
// single shared HMAC-SHA256 key.
type HMACSigner struct{ key []byte }

// NewHMACSigner constructs an HMACSigner from a shared secret.
func NewHMACSigner(key []byte) *HMACSigner { return &HMACSigner{key: append([]byte(nil), key...)} }

func (s *HMACSigner) mac(b []byte) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(b)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignHead returns the bare-hex HMAC over the head's signing tuple.
func (s *HMACSigner) SignHead(head WorldHeadAnnounce) (string, error) {
	b, err := headBytes(head)
	if err != nil {
		return "", err
	}
	return s.mac(b), nil
}

// VerifyHead reports whether head.Signature is a valid HMAC.
func (s *HMACSigner) VerifyHead(head WorldHeadAnnounce) error {
	b, err := headBytes(head)
	if err != nil {
		return err
	}
	want := s.mac(b)
	got, err := hex.DecodeString(head.Signature)
	if err != nil {
		return kernelerr.New(kernelerr.CodeSignatureKeyInvalid, "head signature is not valid hex")
	}
	wantBytes, _ := hex.DecodeString(want)
	if !hmac.Equal(got, wantBytes) {
		return kernelerr.New(kernelerr.CodeSignatureKeyInvalid, "head signature mismatch")
	}
	return nil
}

// SignAction returns the bare-hex HMAC over the action's signing tuple.
func (s *HMACSigner) SignAction(a ActionEnvelope) (string, error) {
	b, err := actionBytes(a)
	if err != nil {
		return "", err
	}
	return s.mac(b), nil
}

// VerifyAction reports whether a.Signature is a valid HMAC.
func (s *HMACSigner) VerifyAction(a ActionEnvelope) error {
	b, err := actionBytes(a)
	if err != nil {
		return err
	}
	want := s.mac(b)
	got, err := hex.DecodeString(a.Signature)
	if err != nil {
		return kernelerr.New(kernelerr.CodeSignatureKeyInvalid, "action signature is not valid hex")
	}
	wantBytes, _ := hex.DecodeString(want)
	if !hmac.Equal(got, wantBytes) {
		return kernelerr.New(kernelerr.CodeSignatureKeyInvalid, "action signature mismatch")
	}
	return nil
}

// Ed25519Signer signs heads and action envelopes with an ed25519
// keypair, using the shared "ed25519:v1:<pub_hex>:<sig_hex>" wire form.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewEd25519Signer builds a signer from a 32-byte hex seed and its
// corresponding public key hex, rejecting a mismatched pair.
func NewEd25519Signer(privateKeyHex, publicKeyHex string) (*Ed25519Signer, error) {
	seed, err := hex.DecodeString(privateKeyHex)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, kernelerr.DistributedValidationFailed("ed25519 private key must be 32-byte hex")
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	if hex.EncodeToString(pub) != strings.ToLower(publicKeyHex) {
		return nil, kernelerr.DistributedValidationFailed("ed25519 public key does not match private key")
	}
	return &Ed25519Signer{priv: priv, pub: pub}, nil
}

// PublicKeyHex returns the signer's public key as lowercase hex.
func (s *Ed25519Signer) PublicKeyHex() string { return hex.EncodeToString(s.pub) }

func (s *Ed25519Signer) sign(b []byte) string {
	sig := ed25519.Sign(s.priv, b)
	return fmt.Sprintf("%s%s:%s", Ed25519SignaturePrefix, hex.EncodeToString(s.pub), hex.EncodeToString(sig))
}

// SignHead signs head's tuple with this signer's key.
func (s *Ed25519Signer) SignHead(head WorldHeadAnnounce) (string, error) {
	b, err := headBytes(head)
	if err != nil {
		return "", err
	}
	return s.sign(b), nil
}

// SignAction signs a's tuple with this signer's key.
func (s *Ed25519Signer) SignAction(a ActionEnvelope) (string, error) {
	b, err := actionBytes(a)
	if err != nil {
		return "", err
	}
	return s.sign(b), nil
}

// VerifyEd25519Head recovers and validates the signer public key
// embedded in head.Signature, the associated-function style the
// original source uses (verification needs no private key).
func VerifyEd25519Head(head WorldHeadAnnounce) (string, error) {
	pub, sig, ok := policy.ParseEd25519Signature(head.Signature)
	if !ok {
		return "", kernelerr.DistributedValidationFailed("head signature is not valid ed25519:v1")
	}
	b, err := headBytes(head)
	if err != nil {
		return "", err
	}
	if !ed25519.Verify(pub, b, sig) {
		return "", kernelerr.DistributedValidationFailed("head signature verification failed")
	}
	return hex.EncodeToString(pub), nil
}

// VerifyEd25519Action recovers and validates the signer public key
// embedded in a.Signature.
func VerifyEd25519Action(a ActionEnvelope) (string, error) {
	pub, sig, ok := policy.ParseEd25519Signature(a.Signature)
	if !ok {
		return "", kernelerr.DistributedValidationFailed("action signature is not valid ed25519:v1")
	}
	b, err := actionBytes(a)
	if err != nil {
		return "", err
	}
	if !ed25519.Verify(pub, b, sig) {
		return "", kernelerr.DistributedValidationFailed("action signature verification failed")
	}
	return hex.EncodeToString(pub), nil
}

// NormalizeEd25519PublicKeyHex lowercases and validates a 32-byte hex
// public key, mirroring normalize_ed25519_public_key_hex.
func NormalizeEd25519PublicKeyHex(keyHex, field string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(keyHex))
	raw, err := hex.DecodeString(lower)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return "", kernelerr.DistributedValidationFailed(fmt.Sprintf("%s must be 32-byte hex", field))
	}
	return lower, nil
}

// NormalizeEd25519PublicKeyAllowlist normalizes every key in keys,
// rejecting malformed entries and duplicate normalized keys, and
// returns nil (not an error) for an empty input — an empty allowlist
// means "no ed25519 allowlist configured", not "reject everything".
func NormalizeEd25519PublicKeyAllowlist(keys []string, field string) (map[string]bool, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	out := make(map[string]bool, len(keys))
	normalized := make([]string, 0, len(keys))
	for _, k := range keys {
		n, err := NormalizeEd25519PublicKeyHex(k, field)
		if err != nil {
			return nil, err
		}
		normalized = append(normalized, n)
	}
	sort.Strings(normalized)
	for _, n := range normalized {
		if out[n] {
			return nil, kernelerr.DistributedValidationFailed(fmt.Sprintf("%s: duplicate signer public key %q", field, n))
		}
		out[n] = true
	}
	return out, nil
}

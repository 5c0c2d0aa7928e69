// Package membership implements the signed validator-set directory
// described in spec.md §4.10: snapshots and key-revocation announces
// signed by a keyring of HMAC/ed25519 keys (at most one active, any
// number revoked), verified with a key_id-first, fallback-across-all
// non-revoked-keys strategy, and an append-only audit trail reusing
// pkg/cas the way internal/journal does for its cold tier. It is a
// direct port of
// original_source/crates/agent_world_consensus/src/membership_split_part1.rs.
package membership

import (
	"bytes"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/agentworld/worldkernel/internal/codec"
	"github.com/agentworld/worldkernel/internal/kernelerr"
	"github.com/agentworld/worldkernel/internal/policy"
	"github.com/agentworld/worldkernel/pkg/cas"
)

// Ed25519SignaturePrefix is the shared wire prefix for ed25519
// signatures across the kernel.
const Ed25519SignaturePrefix = "ed25519:v1:"

// Snapshot is a proposed validator set for a world, circulated over
// pub/sub and restored by nodes that trust its signer.
type Snapshot struct {
	WorldID         string   `cbor:"world_id" json:"world_id"`
	RequesterID     string   `cbor:"requester_id" json:"requester_id"`
	RequestedAtMs   int64    `cbor:"requested_at_ms" json:"requested_at_ms"`
	Reason          string   `cbor:"reason" json:"reason,omitempty"`
	Validators      []string `cbor:"validators" json:"validators"`
	QuorumThreshold int      `cbor:"quorum_threshold" json:"quorum_threshold"`
	SignatureKeyID  string   `cbor:"-" json:"signature_key_id,omitempty"`
	Signature       string   `cbor:"-" json:"signature,omitempty"`
}

// KeyRevocationAnnounce retires a signing key from every node's
// keyring, per the GLOSSARY's key rotation entry.
type KeyRevocationAnnounce struct {
	WorldID        string `cbor:"world_id" json:"world_id"`
	RequesterID    string `cbor:"requester_id" json:"requester_id"`
	RequestedAtMs  int64  `cbor:"requested_at_ms" json:"requested_at_ms"`
	KeyID          string `cbor:"key_id" json:"key_id"`
	Reason         string `cbor:"reason" json:"reason,omitempty"`
	SignatureKeyID string `cbor:"-" json:"signature_key_id,omitempty"`
	Signature      string `cbor:"-" json:"signature,omitempty"`
}

// snapshotSigningTuple/revocationSigningTuple are the exact values a
// signature covers: the announce with signature_key_id folded in (so
// a signature is bound to the key_id claimed to have produced it) and
// signature itself zeroed.
type snapshotSigningTuple struct {
	WorldID         string   `cbor:"world_id"`
	RequesterID     string   `cbor:"requester_id"`
	RequestedAtMs   int64    `cbor:"requested_at_ms"`
	Reason          string   `cbor:"reason"`
	Validators      []string `cbor:"validators"`
	QuorumThreshold int      `cbor:"quorum_threshold"`
	SignatureKeyID  string   `cbor:"signature_key_id"`
}

type revocationSigningTuple struct {
	WorldID        string `cbor:"world_id"`
	RequesterID    string `cbor:"requester_id"`
	RequestedAtMs  int64  `cbor:"requested_at_ms"`
	KeyID          string `cbor:"key_id"`
	Reason         string `cbor:"reason"`
	SignatureKeyID string `cbor:"signature_key_id"`
}

func snapshotSigningBytes(s Snapshot) ([]byte, error) {
	return codec.Encode(snapshotSigningTuple{s.WorldID, s.RequesterID, s.RequestedAtMs, s.Reason, s.Validators, s.QuorumThreshold, s.SignatureKeyID})
}

func revocationSigningBytes(a KeyRevocationAnnounce) ([]byte, error) {
	return codec.Encode(revocationSigningTuple{a.WorldID, a.RequesterID, a.RequestedAtMs, a.KeyID, a.Reason, a.SignatureKeyID})
}

// signer is one keyring entry: either an HMAC-SHA256 shared secret or
// an ed25519 keypair.
type signer struct {
	hmacKey []byte
	priv    ed25519.PrivateKey
	pub     ed25519.PublicKey
}

func hmacSigner(key []byte) signer { return signer{hmacKey: append([]byte(nil), key...)} }

func ed25519Signer(privateKeyHex, publicKeyHex string) (signer, error) {
	seed, err := hex.DecodeString(privateKeyHex)
	if err != nil || len(seed) != ed25519.SeedSize {
		return signer{}, kernelerr.DistributedValidationFailed("membership ed25519 private key must be 32-byte hex")
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	if hex.EncodeToString(pub) != publicKeyHex {
		return signer{}, kernelerr.DistributedValidationFailed("membership ed25519 public key does not match private key")
	}
	return signer{priv: priv, pub: pub}, nil
}

func (s signer) isEd25519() bool { return s.priv != nil }

func (s signer) mac(b []byte) string {
	mac := hmac.New(sha256.New, s.hmacKey)
	mac.Write(b)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s signer) sign(b []byte) string {
	if s.isEd25519() {
		sig := ed25519.Sign(s.priv, b)
		return fmt.Sprintf("%s%s:%s", Ed25519SignaturePrefix, hex.EncodeToString(s.pub), hex.EncodeToString(sig))
	}
	return s.mac(b)
}

func (s signer) verify(b []byte, signatureHex string) error {
	if s.isEd25519() {
		signerPub, sig, ok := policy.ParseEd25519Signature(signatureHex)
		if !ok {
			return kernelerr.DistributedValidationFailed("membership signature is not valid ed25519:v1")
		}
		if hex.EncodeToString(signerPub) != hex.EncodeToString(s.pub) {
			return kernelerr.DistributedValidationFailed("membership signature signer public key mismatch")
		}
		if !ed25519.Verify(s.pub, b, sig) {
			return kernelerr.DistributedValidationFailed("membership signature mismatch")
		}
		return nil
	}
	got, err := hex.DecodeString(signatureHex)
	if err != nil {
		return kernelerr.DistributedValidationFailed("membership signature is not valid hex")
	}
	want, _ := hex.DecodeString(s.mac(b))
	if !hmac.Equal(got, want) {
		return kernelerr.DistributedValidationFailed("membership signature mismatch")
	}
	return nil
}

func normalizeKeyID(keyID string) (string, error) {
	n := strings.TrimSpace(keyID)
	if n == "" {
		return "", kernelerr.DistributedValidationFailed("membership key_id cannot be empty")
	}
	return n, nil
}

// SignerKeyring holds a set of named signing keys, at most one marked
// active, any number revoked. Verification with an explicit key_id
// uses exactly that key; verification without one tries the active
// key first, then every other non-revoked key, so a verifier stays
// able to validate snapshots signed just before a key rotation.
type SignerKeyring struct {
	mu          sync.RWMutex
	activeKeyID string
	signers     map[string]signer
	order       []string
	revoked     map[string]bool
}

// NewSignerKeyring constructs an empty keyring.
func NewSignerKeyring() *SignerKeyring {
	return &SignerKeyring{signers: make(map[string]signer), revoked: make(map[string]bool)}
}

// AddHMACSHA256Key registers keyID as an HMAC-SHA256 signer.
func (k *SignerKeyring) AddHMACSHA256Key(keyID string, key []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	id, err := normalizeKeyID(keyID)
	if err != nil {
		return err
	}
	if _, exists := k.signers[id]; exists {
		return kernelerr.DistributedValidationFailed(fmt.Sprintf("membership signing key already exists: %s", id))
	}
	k.signers[id] = hmacSigner(key)
	k.order = append(k.order, id)
	return nil
}

// AddEd25519Key registers keyID as an ed25519 signer, rejecting a
// mismatched keypair.
func (k *SignerKeyring) AddEd25519Key(keyID, privateKeyHex, publicKeyHex string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	id, err := normalizeKeyID(keyID)
	if err != nil {
		return err
	}
	if _, exists := k.signers[id]; exists {
		return kernelerr.DistributedValidationFailed(fmt.Sprintf("membership signing key already exists: %s", id))
	}
	s, err := ed25519Signer(privateKeyHex, publicKeyHex)
	if err != nil {
		return err
	}
	k.signers[id] = s
	k.order = append(k.order, id)
	return nil
}

// SetActiveKey marks keyID as the key new signatures are produced
// with, rejecting an unknown or revoked key.
func (k *SignerKeyring) SetActiveKey(keyID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	id, err := normalizeKeyID(keyID)
	if err != nil {
		return err
	}
	if _, exists := k.signers[id]; !exists {
		return kernelerr.DistributedValidationFailed(fmt.Sprintf("membership signing key not found: %s", id))
	}
	if k.revoked[id] {
		return kernelerr.DistributedValidationFailed(fmt.Sprintf("membership signing key is revoked: %s", id))
	}
	k.activeKeyID = id
	return nil
}

// ActiveKeyID returns the current active key id, or "" if none.
func (k *SignerKeyring) ActiveKeyID() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.activeKeyID
}

// RevokeKey marks keyID as revoked, clearing it as active if it was,
// and reports whether this call newly revoked it.
func (k *SignerKeyring) RevokeKey(keyID string) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	id, err := normalizeKeyID(keyID)
	if err != nil {
		return false, err
	}
	already := k.revoked[id]
	k.revoked[id] = true
	if k.activeKeyID == id {
		k.activeKeyID = ""
	}
	return !already, nil
}

// IsKeyRevoked reports whether keyID has been revoked. An empty or
// blank keyID is never considered revoked.
func (k *SignerKeyring) IsKeyRevoked(keyID string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	n := strings.TrimSpace(keyID)
	if n == "" {
		return false
	}
	return k.revoked[n]
}

// RevokedKeys returns every revoked key id, sorted.
func (k *SignerKeyring) RevokedKeys() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, 0, len(k.revoked))
	for id := range k.revoked {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SignSnapshotWithActiveKey signs snapshot with the active key,
// returning (key_id, signature).
func (k *SignerKeyring) SignSnapshotWithActiveKey(snapshot Snapshot) (string, string, error) {
	k.mu.RLock()
	active := k.activeKeyID
	k.mu.RUnlock()
	if active == "" {
		return "", "", kernelerr.DistributedValidationFailed("membership signing keyring has no active key")
	}
	sig, err := k.SignSnapshotWithKeyID(active, snapshot)
	return active, sig, err
}

// SignSnapshotWithKeyID signs snapshot with keyID, binding the
// signature to that key_id.
func (k *SignerKeyring) SignSnapshotWithKeyID(keyID string, snapshot Snapshot) (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	id, err := normalizeKeyID(keyID)
	if err != nil {
		return "", err
	}
	if k.revoked[id] {
		return "", kernelerr.DistributedValidationFailed(fmt.Sprintf("membership signing key is revoked: %s", id))
	}
	s, ok := k.signers[id]
	if !ok {
		return "", kernelerr.DistributedValidationFailed(fmt.Sprintf("membership signing key not found: %s", id))
	}
	signable := snapshot
	signable.SignatureKeyID = id
	signable.Signature = ""
	b, err := snapshotSigningBytes(signable)
	if err != nil {
		return "", err
	}
	return s.sign(b), nil
}

// SignRevocationWithActiveKey signs announce with the active key,
// returning (key_id, signature).
func (k *SignerKeyring) SignRevocationWithActiveKey(announce KeyRevocationAnnounce) (string, string, error) {
	k.mu.RLock()
	active := k.activeKeyID
	k.mu.RUnlock()
	if active == "" {
		return "", "", kernelerr.DistributedValidationFailed("membership signing keyring has no active key")
	}
	sig, err := k.SignRevocationWithKeyID(active, announce)
	return active, sig, err
}

// SignRevocationWithKeyID signs announce with keyID.
func (k *SignerKeyring) SignRevocationWithKeyID(keyID string, announce KeyRevocationAnnounce) (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	id, err := normalizeKeyID(keyID)
	if err != nil {
		return "", err
	}
	if k.revoked[id] {
		return "", kernelerr.DistributedValidationFailed(fmt.Sprintf("membership signing key is revoked: %s", id))
	}
	s, ok := k.signers[id]
	if !ok {
		return "", kernelerr.DistributedValidationFailed(fmt.Sprintf("membership signing key not found: %s", id))
	}
	signable := announce
	signable.SignatureKeyID = id
	signable.Signature = ""
	b, err := revocationSigningBytes(signable)
	if err != nil {
		return "", err
	}
	return s.sign(b), nil
}

// nonRevokedTryOrder returns signers in verification-attempt order:
// the active key (if any and not revoked) first, then every other
// non-revoked key, caller's lock already held.
func (k *SignerKeyring) nonRevokedTryOrder() []signer {
	var out []signer
	if k.activeKeyID != "" {
		if s, ok := k.signers[k.activeKeyID]; ok && !k.revoked[k.activeKeyID] {
			out = append(out, s)
		}
	}
	for _, id := range k.order {
		if id == k.activeKeyID || k.revoked[id] {
			continue
		}
		out = append(out, k.signers[id])
	}
	return out
}

// VerifySnapshot verifies snapshot.Signature. If SignatureKeyID is
// set, verification uses exactly that key (rejecting revoked/unknown
// ids); otherwise it tries the active key, then every other
// non-revoked key, succeeding if any one validates.
func (k *SignerKeyring) VerifySnapshot(snapshot Snapshot) error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if snapshot.Signature == "" {
		return kernelerr.DistributedValidationFailed(fmt.Sprintf("membership snapshot missing signature for requester %s", snapshot.RequesterID))
	}

	if snapshot.SignatureKeyID != "" {
		id, err := normalizeKeyID(snapshot.SignatureKeyID)
		if err != nil {
			return err
		}
		if k.revoked[id] {
			return kernelerr.DistributedValidationFailed(fmt.Sprintf("membership signature key_id is revoked: %s", id))
		}
		s, ok := k.signers[id]
		if !ok {
			return kernelerr.DistributedValidationFailed(fmt.Sprintf("membership signature key_id is unknown: %s", id))
		}
		b, err := snapshotSigningBytes(snapshot)
		if err != nil {
			return err
		}
		return s.verify(b, snapshot.Signature)
	}

	b, err := snapshotSigningBytes(snapshot)
	if err != nil {
		return err
	}
	for _, s := range k.nonRevokedTryOrder() {
		if s.verify(b, snapshot.Signature) == nil {
			return nil
		}
	}
	return kernelerr.DistributedValidationFailed("membership snapshot verification failed for all non-revoked keys in keyring")
}

// VerifyRevocation verifies announce.Signature the same way
// VerifySnapshot does.
func (k *SignerKeyring) VerifyRevocation(announce KeyRevocationAnnounce) error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if announce.Signature == "" {
		return kernelerr.DistributedValidationFailed(fmt.Sprintf("membership revocation missing signature for requester %s", announce.RequesterID))
	}

	if announce.SignatureKeyID != "" {
		id, err := normalizeKeyID(announce.SignatureKeyID)
		if err != nil {
			return err
		}
		if k.revoked[id] {
			return kernelerr.DistributedValidationFailed(fmt.Sprintf("membership revocation signature key_id is revoked: %s", id))
		}
		s, ok := k.signers[id]
		if !ok {
			return kernelerr.DistributedValidationFailed(fmt.Sprintf("membership revocation signature key_id is unknown: %s", id))
		}
		b, err := revocationSigningBytes(announce)
		if err != nil {
			return err
		}
		return s.verify(b, announce.Signature)
	}

	b, err := revocationSigningBytes(announce)
	if err != nil {
		return err
	}
	for _, s := range k.nonRevokedTryOrder() {
		if s.verify(b, announce.Signature) == nil {
			return nil
		}
	}
	return kernelerr.DistributedValidationFailed("membership revocation verification failed for all non-revoked keys in keyring")
}

// AuditOutcome classifies how a snapshot restore attempt was handled.
type AuditOutcome int

const (
	AuditMissingSnapshot AuditOutcome = iota
	AuditApplied
	AuditIgnored
	AuditRejected
)

func (o AuditOutcome) String() string {
	switch o {
	case AuditMissingSnapshot:
		return "missing_snapshot"
	case AuditApplied:
		return "applied"
	case AuditIgnored:
		return "ignored"
	case AuditRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// AuditRecord is one append-only entry in a world's membership audit
// trail.
type AuditRecord struct {
	WorldID        string       `json:"world_id"`
	RequesterID    string       `json:"requester_id,omitempty"`
	RequestedAtMs  *int64       `json:"requested_at_ms,omitempty"`
	SignatureKeyID string       `json:"signature_key_id,omitempty"`
	Outcome        AuditOutcome `json:"outcome"`
	Reason         string       `json:"reason"`
}

// AuditStore is the append/list contract the restore/revocation-sync
// paths record to, mirroring pkg/cas's storage-agnostic shape.
type AuditStore interface {
	Append(record AuditRecord) error
	List(worldID string) ([]AuditRecord, error)
}

// InMemoryAuditStore is an unbounded in-process AuditStore for tests
// and single-process deployments.
type InMemoryAuditStore struct {
	mu      sync.Mutex
	records []AuditRecord
}

// NewInMemoryAuditStore constructs an empty store.
func NewInMemoryAuditStore() *InMemoryAuditStore { return &InMemoryAuditStore{} }

func (s *InMemoryAuditStore) Append(record AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *InMemoryAuditStore) List(worldID string) ([]AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AuditRecord
	for _, r := range s.records {
		if r.WorldID == worldID {
			out = append(out, r)
		}
	}
	return out, nil
}

// FileAuditStore persists audit records per-world, hot records kept
// in memory and spilled to CAS-backed cold segments once a world
// crosses hotMaxRecords, matching internal/journal's rotation
// discipline and the MEMBERSHIP_AUDIT_HOT_MAX_RECORDS /
// MEMBERSHIP_AUDIT_COLD_SEGMENT_MAX_LINES constants.
type FileAuditStore struct {
	mu                  sync.Mutex
	store               cas.Store
	hotMaxRecords       int
	coldSegmentMaxLines int
	hot                 map[string][]AuditRecord
	coldRefs            map[string][]string // digests, oldest first
}

// DefaultHotMaxRecords / DefaultColdSegmentMaxLines match the
// original constants, confirmed against membership_split_part1.rs.
const (
	DefaultHotMaxRecords       = 4096
	DefaultColdSegmentMaxLines = 256
)

// NewFileAuditStore constructs a FileAuditStore over store, defaulting
// rotation thresholds to DefaultHotMaxRecords/DefaultColdSegmentMaxLines
// when given as zero.
func NewFileAuditStore(store cas.Store, hotMaxRecords, coldSegmentMaxLines int) *FileAuditStore {
	if hotMaxRecords <= 0 {
		hotMaxRecords = DefaultHotMaxRecords
	}
	if coldSegmentMaxLines <= 0 {
		coldSegmentMaxLines = DefaultColdSegmentMaxLines
	}
	return &FileAuditStore{
		store:               store,
		hotMaxRecords:       hotMaxRecords,
		coldSegmentMaxLines: coldSegmentMaxLines,
		hot:                 make(map[string][]AuditRecord),
		coldRefs:            make(map[string][]string),
	}
}

func (s *FileAuditStore) Append(record AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hot[record.WorldID] = append(s.hot[record.WorldID], record)
	return s.rotateLocked(record.WorldID)
}

func (s *FileAuditStore) rotateLocked(worldID string) error {
	records := s.hot[worldID]
	if len(records) <= s.hotMaxRecords {
		return nil
	}
	overflow := len(records) - s.hotMaxRecords
	for overflow >= s.coldSegmentMaxLines {
		segment := records[:s.coldSegmentMaxLines]
		digest, err := s.writeAuditSegment(segment)
		if err != nil {
			return err
		}
		s.coldRefs[worldID] = append(s.coldRefs[worldID], digest)
		records = records[s.coldSegmentMaxLines:]
		overflow -= s.coldSegmentMaxLines
	}
	s.hot[worldID] = records
	return nil
}

// writeAuditSegment marshals records as newline-delimited JSON (the
// same JSONL shape internal/journal's cold tier uses) and stores the
// blob content-addressed.
func (s *FileAuditStore) writeAuditSegment(records []AuditRecord) (string, error) {
	var buf bytes.Buffer
	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			return "", err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	digest := cas.Hash(buf.Bytes())
	if err := s.store.Put(digest, buf.Bytes()); err != nil {
		return "", err
	}
	return digest, nil
}

func (s *FileAuditStore) readAuditSegment(digest string) ([]AuditRecord, error) {
	raw, err := s.store.Get(digest)
	if err != nil {
		return nil, err
	}
	lines := bytes.Split(bytes.TrimRight(raw, "\n"), []byte("\n"))
	out := make([]AuditRecord, 0, len(lines))
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		var r AuditRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, kernelerr.JournalCorrupt(digest)
		}
		out = append(out, r)
	}
	return out, nil
}

// List returns every record for worldID, oldest first: cold segments
// (read back through the CAS store) followed by the current hot tail.
func (s *FileAuditStore) List(worldID string) ([]AuditRecord, error) {
	s.mu.Lock()
	refs := append([]string(nil), s.coldRefs[worldID]...)
	hotTail := append([]AuditRecord(nil), s.hot[worldID]...)
	s.mu.Unlock()

	var out []AuditRecord
	for _, digest := range refs {
		segment, err := s.readAuditSegment(digest)
		if err != nil {
			return nil, err
		}
		out = append(out, segment...)
	}
	out = append(out, hotTail...)
	return out, nil
}

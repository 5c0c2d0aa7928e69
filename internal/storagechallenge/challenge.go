// Package storagechallenge implements the VRF-seeded sample challenge
// described in spec.md §4.11: a verifier picks a deterministic byte
// window of a content-addressed blob and a storage node must answer
// with that window's hash, proving it actually holds the blob rather
// than just its digest. It is a direct port of
// original_source/crates/agent_world_distfs/src/challenge.rs, reusing
// pkg/cas for blob storage the way internal/journal reuses it for cold
// segments.
package storagechallenge

import (
	"fmt"
	"strings"

	"github.com/agentworld/worldkernel/internal/codec"
	"github.com/agentworld/worldkernel/internal/kernelerr"
	"github.com/agentworld/worldkernel/pkg/cas"
)

// Version is the wire version every Challenge/Receipt carries.
const Version = 1

// ProofKindChunkHashV1 is the only proof kind this package issues.
const ProofKindChunkHashV1 = "chunk_hash:v1"

// SampleSource records where a responder read the sampled bytes from.
type SampleSource int

const (
	SampleSourceUnknown SampleSource = iota
	SampleSourceLocalStoreIndex
)

// FailureReason classifies why a receipt failed verification.
type FailureReason int

const (
	FailureNone FailureReason = iota
	FailureMissingSample
	FailureHashMismatch
	FailureTimeout
	FailureReadIOError
	FailureSignatureInvalid
	FailureUnknown
)

func (r FailureReason) key() string {
	switch r {
	case FailureMissingSample:
		return "MISSING_SAMPLE"
	case FailureHashMismatch:
		return "HASH_MISMATCH"
	case FailureTimeout:
		return "TIMEOUT"
	case FailureReadIOError:
		return "READ_IO_ERROR"
	case FailureSignatureInvalid:
		return "SIGNATURE_INVALID"
	default:
		return "UNKNOWN"
	}
}

// Request asks the holder of content_hash to prove possession of it.
type Request struct {
	ChallengeID    string
	WorldID        string
	NodeID         string
	ContentHash    string
	MaxSampleBytes uint32
	IssuedAtUnixMs int64
	ChallengeTTLMs int64
	VRFSeed        string
}

// Challenge is the deterministic sample window a responder must hash.
type Challenge struct {
	Version             uint64
	ChallengeID         string
	WorldID             string
	NodeID              string
	ContentHash         string
	SampleOffset        uint64
	SampleSizeBytes     uint32
	ExpectedSampleHash  string
	IssuedAtUnixMs      int64
	ExpiresAtUnixMs     int64
	VRFSeed             string
}

// Receipt is a responder's answer to a Challenge.
type Receipt struct {
	Version          uint64
	ChallengeID      string
	NodeID           string
	ContentHash      string
	SampleOffset     uint64
	SampleSizeBytes  uint32
	SampleHash       string
	RespondedAtUnixMs int64
	SampleSource     SampleSource
	FailureReason    *FailureReason
	ProofKind        string
}

// NodeStats aggregates pass/fail counts for one storage node.
type NodeStats struct {
	NodeID          string
	TotalChecks     uint64
	PassedChecks    uint64
	FailedChecks    uint64
	FailuresByReason map[string]uint64
}

func validateNonEmpty(value, field string) error {
	if strings.TrimSpace(value) == "" {
		return kernelerr.DistributedValidationFailed(fmt.Sprintf("storage challenge field %s cannot be empty", field))
	}
	return nil
}

func validateRequest(r *Request) error {
	if err := validateNonEmpty(r.ChallengeID, "challenge_id"); err != nil {
		return err
	}
	if err := validateNonEmpty(r.WorldID, "world_id"); err != nil {
		return err
	}
	if err := validateNonEmpty(r.NodeID, "node_id"); err != nil {
		return err
	}
	if err := validateNonEmpty(r.VRFSeed, "vrf_seed"); err != nil {
		return err
	}
	if err := validateNonEmpty(r.ContentHash, "content_hash"); err != nil {
		return err
	}
	if r.MaxSampleBytes == 0 {
		return kernelerr.DistributedValidationFailed("max_sample_bytes must be >= 1")
	}
	if r.ChallengeTTLMs <= 0 {
		return kernelerr.DistributedValidationFailed("challenge_ttl_ms must be > 0")
	}
	return nil
}

func validateChallenge(c *Challenge) error {
	if c.Version != Version {
		return kernelerr.DistributedValidationFailed(fmt.Sprintf("unsupported storage challenge version: expected=%d actual=%d", Version, c.Version))
	}
	if err := validateNonEmpty(c.ChallengeID, "challenge_id"); err != nil {
		return err
	}
	if err := validateNonEmpty(c.WorldID, "world_id"); err != nil {
		return err
	}
	if err := validateNonEmpty(c.NodeID, "node_id"); err != nil {
		return err
	}
	if err := validateNonEmpty(c.VRFSeed, "vrf_seed"); err != nil {
		return err
	}
	if err := validateNonEmpty(c.ContentHash, "content_hash"); err != nil {
		return err
	}
	if err := validateNonEmpty(c.ExpectedSampleHash, "expected_sample_hash"); err != nil {
		return err
	}
	if c.ExpiresAtUnixMs < c.IssuedAtUnixMs {
		return kernelerr.DistributedValidationFailed(fmt.Sprintf("storage challenge expires_at is earlier than issued_at: issued_at=%d expires_at=%d", c.IssuedAtUnixMs, c.ExpiresAtUnixMs))
	}
	return nil
}

func validateReceipt(r *Receipt) error {
	if r.Version != Version {
		return kernelerr.DistributedValidationFailed(fmt.Sprintf("unsupported storage challenge receipt version: expected=%d actual=%d", Version, r.Version))
	}
	if err := validateNonEmpty(r.ChallengeID, "challenge_id"); err != nil {
		return err
	}
	if err := validateNonEmpty(r.NodeID, "node_id"); err != nil {
		return err
	}
	if err := validateNonEmpty(r.ProofKind, "proof_kind"); err != nil {
		return err
	}
	if err := validateNonEmpty(r.ContentHash, "content_hash"); err != nil {
		return err
	}
	if err := validateNonEmpty(r.SampleHash, "sample_hash"); err != nil {
		return err
	}
	return nil
}

// Issue reads contentHash from store, picks the deterministic sample
// window for vrf_seed, and returns the Challenge the node must answer.
func Issue(store cas.Store, request Request) (Challenge, error) {
	if err := validateRequest(&request); err != nil {
		return Challenge{}, err
	}
	blob, err := store.Get(request.ContentHash)
	if err != nil {
		return Challenge{}, err
	}
	offset, size, expectedHash, err := sampleWindowForBlob(request.ContentHash, blob, request.MaxSampleBytes, request.VRFSeed)
	if err != nil {
		return Challenge{}, err
	}
	expiresAt := request.IssuedAtUnixMs + request.ChallengeTTLMs
	if expiresAt < request.IssuedAtUnixMs {
		return Challenge{}, kernelerr.DistributedValidationFailed(fmt.Sprintf("storage challenge ttl overflow: issued_at=%d ttl=%d", request.IssuedAtUnixMs, request.ChallengeTTLMs))
	}
	return Challenge{
		Version:            Version,
		ChallengeID:         request.ChallengeID,
		WorldID:             request.WorldID,
		NodeID:              request.NodeID,
		ContentHash:         request.ContentHash,
		SampleOffset:        offset,
		SampleSizeBytes:     size,
		ExpectedSampleHash:  expectedHash,
		IssuedAtUnixMs:      request.IssuedAtUnixMs,
		ExpiresAtUnixMs:     expiresAt,
		VRFSeed:             request.VRFSeed,
	}, nil
}

// Answer reads the challenged blob back out of store and hashes the
// challenged sample window, honestly reporting a hash mismatch rather
// than failing outright.
func Answer(store cas.Store, challenge Challenge, respondedAtUnixMs int64) (Receipt, error) {
	if err := validateChallenge(&challenge); err != nil {
		return Receipt{}, err
	}
	blob, err := store.Get(challenge.ContentHash)
	if err != nil {
		return Receipt{}, err
	}
	sample, err := extractSampleSlice(blob, challenge.SampleOffset, challenge.SampleSizeBytes)
	if err != nil {
		return Receipt{}, err
	}
	sampleHash := codec.HashStateBytes(sample)
	var failure *FailureReason
	if sampleHash != challenge.ExpectedSampleHash {
		f := FailureHashMismatch
		failure = &f
	}
	return Receipt{
		Version:           Version,
		ChallengeID:       challenge.ChallengeID,
		NodeID:            challenge.NodeID,
		ContentHash:       challenge.ContentHash,
		SampleOffset:      challenge.SampleOffset,
		SampleSizeBytes:   challenge.SampleSizeBytes,
		SampleHash:        sampleHash,
		RespondedAtUnixMs: respondedAtUnixMs,
		SampleSource:      SampleSourceLocalStoreIndex,
		FailureReason:     failure,
		ProofKind:         ProofKindChunkHashV1,
	}, nil
}

// VerifyReceipt checks receipt against challenge, allowing up to
// allowedClockSkewMs of clock drift on the response timestamp.
func VerifyReceipt(challenge Challenge, receipt Receipt, allowedClockSkewMs int64) error {
	if allowedClockSkewMs < 0 {
		return kernelerr.DistributedValidationFailed(fmt.Sprintf("allowed_clock_skew_ms must be >= 0, got %d", allowedClockSkewMs))
	}
	if err := validateChallenge(&challenge); err != nil {
		return err
	}
	if err := validateReceipt(&receipt); err != nil {
		return err
	}
	if challenge.ChallengeID != receipt.ChallengeID {
		return kernelerr.DistributedValidationFailed(fmt.Sprintf("challenge_id mismatch: expected=%s actual=%s", challenge.ChallengeID, receipt.ChallengeID))
	}
	if challenge.NodeID != receipt.NodeID {
		return kernelerr.DistributedValidationFailed(fmt.Sprintf("node_id mismatch: expected=%s actual=%s", challenge.NodeID, receipt.NodeID))
	}
	if challenge.ContentHash != receipt.ContentHash {
		return kernelerr.DistributedValidationFailed(fmt.Sprintf("content_hash mismatch: expected=%s actual=%s", challenge.ContentHash, receipt.ContentHash))
	}
	if challenge.SampleOffset != receipt.SampleOffset {
		return kernelerr.DistributedValidationFailed(fmt.Sprintf("sample_offset mismatch: expected=%d actual=%d", challenge.SampleOffset, receipt.SampleOffset))
	}
	if challenge.SampleSizeBytes != receipt.SampleSizeBytes {
		return kernelerr.DistributedValidationFailed(fmt.Sprintf("sample_size_bytes mismatch: expected=%d actual=%d", challenge.SampleSizeBytes, receipt.SampleSizeBytes))
	}
	if receipt.SampleHash != challenge.ExpectedSampleHash {
		return kernelerr.DistributedValidationFailed(fmt.Sprintf("sample_hash mismatch: expected=%s actual=%s", challenge.ExpectedSampleHash, receipt.SampleHash))
	}
	if receipt.ProofKind != ProofKindChunkHashV1 {
		return kernelerr.DistributedValidationFailed(fmt.Sprintf("unsupported proof kind: expected=%s actual=%s", ProofKindChunkHashV1, receipt.ProofKind))
	}
	if receipt.SampleSource == SampleSourceUnknown {
		return kernelerr.DistributedValidationFailed("sample_source cannot be Unknown")
	}
	if receipt.FailureReason != nil {
		return kernelerr.DistributedValidationFailed(fmt.Sprintf("receipt indicates failure: %s", receipt.FailureReason.key()))
	}

	minTime := saturatingSub(challenge.IssuedAtUnixMs, allowedClockSkewMs)
	maxTime := challenge.ExpiresAtUnixMs + allowedClockSkewMs
	if receipt.RespondedAtUnixMs < minTime || receipt.RespondedAtUnixMs > maxTime {
		return kernelerr.DistributedValidationFailed(fmt.Sprintf("response timestamp out of challenge window: responded_at=%d allowed=[%d, %d]", receipt.RespondedAtUnixMs, minTime, maxTime))
	}
	return nil
}

// SampleReference renders a distfs:// locator for the sampled window,
// useful for audit logs and governance patch reasons.
func SampleReference(challenge Challenge) string {
	return fmt.Sprintf("distfs://%s/challenge/%s/blob/%s?offset=%d&size=%d",
		challenge.NodeID, challenge.ChallengeID, challenge.ContentHash, challenge.SampleOffset, challenge.SampleSizeBytes)
}

// ChallengeReceiptPair bundles one issued challenge with the receipt
// it produced, the unit SummarizeNodeStats tallies over.
type ChallengeReceiptPair struct {
	Challenge Challenge
	Receipt   Receipt
}

// SummarizeNodeStats tallies pass/fail counts per node over a set of
// (challenge, receipt) pairs, classifying every failure reason.
func SummarizeNodeStats(entries []ChallengeReceiptPair, allowedClockSkewMs int64) ([]NodeStats, error) {
	if allowedClockSkewMs < 0 {
		return nil, kernelerr.DistributedValidationFailed(fmt.Sprintf("allowed_clock_skew_ms must be >= 0, got %d", allowedClockSkewMs))
	}
	order := make([]string, 0)
	byNode := make(map[string]*NodeStats)
	for _, pair := range entries {
		challenge := pair.Challenge
		receipt := pair.Receipt
		stats, ok := byNode[challenge.NodeID]
		if !ok {
			stats = &NodeStats{NodeID: challenge.NodeID, FailuresByReason: make(map[string]uint64)}
			byNode[challenge.NodeID] = stats
			order = append(order, challenge.NodeID)
		}
		stats.TotalChecks++
		if err := VerifyReceipt(challenge, receipt, allowedClockSkewMs); err == nil {
			stats.PassedChecks++
			continue
		}
		stats.FailedChecks++
		reason := classifyFailureReason(challenge, receipt, allowedClockSkewMs)
		stats.FailuresByReason[reason.key()]++
	}
	out := make([]NodeStats, 0, len(order))
	for _, nodeID := range order {
		out = append(out, *byNode[nodeID])
	}
	return out, nil
}

func classifyFailureReason(challenge Challenge, receipt Receipt, allowedClockSkewMs int64) FailureReason {
	if receipt.FailureReason != nil {
		return *receipt.FailureReason
	}
	if receipt.ProofKind != ProofKindChunkHashV1 {
		return FailureSignatureInvalid
	}
	if challenge.SampleOffset != receipt.SampleOffset || challenge.SampleSizeBytes != receipt.SampleSizeBytes {
		return FailureMissingSample
	}
	if challenge.ContentHash != receipt.ContentHash || challenge.ExpectedSampleHash != receipt.SampleHash {
		return FailureHashMismatch
	}
	minTime := saturatingSub(challenge.IssuedAtUnixMs, allowedClockSkewMs)
	maxTime := challenge.ExpiresAtUnixMs + allowedClockSkewMs
	if receipt.RespondedAtUnixMs < minTime || receipt.RespondedAtUnixMs > maxTime {
		return FailureTimeout
	}
	return FailureUnknown
}

func saturatingSub(a, b int64) int64 {
	if a-b > a {
		return 0
	}
	return a - b
}

func sampleWindowForBlob(contentHash string, blob []byte, maxSampleBytes uint32, vrfSeed string) (offset uint64, size uint32, expectedHash string, err error) {
	if maxSampleBytes == 0 {
		return 0, 0, "", kernelerr.DistributedValidationFailed("max_sample_bytes must be >= 1")
	}
	blobLen := len(blob)
	sampleSize := int(maxSampleBytes)
	if blobLen < sampleSize {
		sampleSize = blobLen
	}
	off := deterministicOffset(contentHash, vrfSeed, blobLen, sampleSize)
	sample, err := extractSampleSlice(blob, off, uint32(sampleSize))
	if err != nil {
		return 0, 0, "", err
	}
	return off, uint32(sampleSize), codec.HashStateBytes(sample), nil
}

// deterministicOffset reproduces the Rust implementation's seed
// derivation exactly: blake3("<content_hash>:<vrf_seed>"), low 8 bytes
// little-endian, modulo the number of valid offsets.
func deterministicOffset(contentHash, vrfSeed string, blobLen, sampleSize int) uint64 {
	if blobLen <= sampleSize {
		return 0
	}
	seedMaterial := make([]byte, 0, len(contentHash)+len(vrfSeed)+1)
	seedMaterial = append(seedMaterial, contentHash...)
	seedMaterial = append(seedMaterial, ':')
	seedMaterial = append(seedMaterial, vrfSeed...)
	digest := codec.HashStateBytes(seedMaterial)
	raw := hexDecodePrefix8(digest)
	maxOffset := uint64(blobLen - sampleSize)
	return raw % (maxOffset + 1)
}

func hexDecodePrefix8(hexDigest string) uint64 {
	var v uint64
	for i := 0; i < 16 && i < len(hexDigest); i += 2 {
		b := hexByte(hexDigest[i], hexDigest[i+1])
		v |= uint64(b) << (8 * (i / 2))
	}
	return v
}

func hexByte(hi, lo byte) byte {
	return hexNibble(hi)<<4 | hexNibble(lo)
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return 0
	}
}

func extractSampleSlice(blob []byte, offset uint64, size uint32) ([]byte, error) {
	end := offset + uint64(size)
	if end > uint64(len(blob)) {
		return nil, kernelerr.DistributedValidationFailed(fmt.Sprintf("sample window out of bounds: offset=%d size=%d blob_len=%d", offset, size, len(blob)))
	}
	return blob[offset:end], nil
}

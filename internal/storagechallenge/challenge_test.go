package storagechallenge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentworld/worldkernel/internal/codec"
	"github.com/agentworld/worldkernel/pkg/cas"
)

func hashOf(s string) string { return codec.HashStateBytes([]byte(s)) }

func makeBlob(size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte((i%251)+3) % 256
	}
	return b
}

func putBlob(t *testing.T, store *cas.MemStore, data []byte) string {
	t.Helper()
	hash := cas.Hash(data)
	require.NoError(t, store.Put(hash, data))
	return hash
}

func TestIssueIsDeterministicAndWithinBounds(t *testing.T) {
	store := cas.NewMemStore()
	bytes := makeBlob(96)
	contentHash := putBlob(t, store, bytes)

	request := Request{
		ChallengeID:    "challenge-a",
		WorldID:        "world-1",
		NodeID:         "node-storage-1",
		ContentHash:    contentHash,
		MaxSampleBytes: 32,
		IssuedAtUnixMs: 100,
		ChallengeTTLMs: 2000,
		VRFSeed:        "seed-1",
	}

	a, err := Issue(store, request)
	require.NoError(t, err)
	b, err := Issue(store, request)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.EqualValues(t, Version, a.Version)
	require.LessOrEqual(t, a.SampleSizeBytes, request.MaxSampleBytes)
	require.LessOrEqual(t, a.SampleOffset+uint64(a.SampleSizeBytes), uint64(len(bytes)))
	require.EqualValues(t, 2100, a.ExpiresAtUnixMs)
}

func TestAnswerReturnsMatchingReceipt(t *testing.T) {
	store := cas.NewMemStore()
	bytes := makeBlob(128)
	contentHash := putBlob(t, store, bytes)

	request := Request{
		ChallengeID:    "challenge-b",
		WorldID:        "world-1",
		NodeID:         "node-storage-2",
		ContentHash:    contentHash,
		MaxSampleBytes: 24,
		IssuedAtUnixMs: 200,
		ChallengeTTLMs: 1000,
		VRFSeed:        "seed-2",
	}
	challenge, err := Issue(store, request)
	require.NoError(t, err)
	receipt, err := Answer(store, challenge, 250)
	require.NoError(t, err)

	require.EqualValues(t, Version, receipt.Version)
	require.Equal(t, challenge.ChallengeID, receipt.ChallengeID)
	require.Equal(t, challenge.NodeID, receipt.NodeID)
	require.Equal(t, challenge.ContentHash, receipt.ContentHash)
	require.Equal(t, challenge.SampleOffset, receipt.SampleOffset)
	require.Equal(t, challenge.SampleSizeBytes, receipt.SampleSizeBytes)
	require.Equal(t, challenge.ExpectedSampleHash, receipt.SampleHash)
	require.Nil(t, receipt.FailureReason)
	require.Equal(t, ProofKindChunkHashV1, receipt.ProofKind)
}

func TestVerifyReceiptAcceptsValidReceipt(t *testing.T) {
	store := cas.NewMemStore()
	contentHash := putBlob(t, store, makeBlob(160))
	request := Request{
		ChallengeID:    "challenge-verify",
		WorldID:        "world-1",
		NodeID:         "node-storage-3",
		ContentHash:    contentHash,
		MaxSampleBytes: 40,
		IssuedAtUnixMs: 500,
		ChallengeTTLMs: 1000,
		VRFSeed:        "seed-verify",
	}
	challenge, err := Issue(store, request)
	require.NoError(t, err)
	receipt, err := Answer(store, challenge, 900)
	require.NoError(t, err)
	require.NoError(t, VerifyReceipt(challenge, receipt, 50))
}

func TestVerifyReceiptRejectsHashMismatch(t *testing.T) {
	store := cas.NewMemStore()
	contentHash := putBlob(t, store, makeBlob(80))
	request := Request{
		ChallengeID:    "challenge-hash-mismatch",
		WorldID:        "world-1",
		NodeID:         "node-storage-4",
		ContentHash:    contentHash,
		MaxSampleBytes: 16,
		IssuedAtUnixMs: 1000,
		ChallengeTTLMs: 500,
		VRFSeed:        "seed-hash",
	}
	challenge, err := Issue(store, request)
	require.NoError(t, err)
	receipt, err := Answer(store, challenge, 1100)
	require.NoError(t, err)
	receipt.SampleHash = hashOf("tampered")

	err = VerifyReceipt(challenge, receipt, 10)
	require.Error(t, err)
}

func TestVerifyReceiptRejectsExpiredResponse(t *testing.T) {
	store := cas.NewMemStore()
	contentHash := putBlob(t, store, makeBlob(64))
	request := Request{
		ChallengeID:    "challenge-expired",
		WorldID:        "world-1",
		NodeID:         "node-storage-5",
		ContentHash:    contentHash,
		MaxSampleBytes: 16,
		IssuedAtUnixMs: 2000,
		ChallengeTTLMs: 100,
		VRFSeed:        "seed-expired",
	}
	challenge, err := Issue(store, request)
	require.NoError(t, err)
	receipt, err := Answer(store, challenge, challenge.ExpiresAtUnixMs+200)
	require.NoError(t, err)

	err = VerifyReceipt(challenge, receipt, 50)
	require.Error(t, err)
}

func TestSampleReferenceProjectsExpectedFields(t *testing.T) {
	store := cas.NewMemStore()
	contentHash := putBlob(t, store, makeBlob(88))
	request := Request{
		ChallengeID:    "challenge-semantics",
		WorldID:        "world-1",
		NodeID:         "node-storage-6",
		ContentHash:    contentHash,
		MaxSampleBytes: 20,
		IssuedAtUnixMs: 3000,
		ChallengeTTLMs: 100,
		VRFSeed:        "seed-semantics",
	}
	challenge, err := Issue(store, request)
	require.NoError(t, err)

	ref := SampleReference(challenge)
	require.Contains(t, ref, challenge.NodeID)
	require.Contains(t, ref, challenge.ChallengeID)
	require.Contains(t, ref, challenge.ContentHash)
}

func TestSummarizeNodeStatsCountsPassAndFailureReasons(t *testing.T) {
	store := cas.NewMemStore()
	hashA := putBlob(t, store, makeBlob(120))
	hashB := putBlob(t, store, makeBlob(96))

	requestAPass := Request{ChallengeID: "challenge-a-pass", WorldID: "world-1", NodeID: "node-a", ContentHash: hashA, MaxSampleBytes: 24, IssuedAtUnixMs: 10, ChallengeTTLMs: 100, VRFSeed: "seed-a1"}
	challengeAPass, err := Issue(store, requestAPass)
	require.NoError(t, err)
	receiptAPass, err := Answer(store, challengeAPass, 50)
	require.NoError(t, err)

	requestAFail := Request{ChallengeID: "challenge-a-fail", WorldID: "world-1", NodeID: "node-a", ContentHash: hashA, MaxSampleBytes: 24, IssuedAtUnixMs: 20, ChallengeTTLMs: 100, VRFSeed: "seed-a2"}
	challengeAFail, err := Issue(store, requestAFail)
	require.NoError(t, err)
	receiptAFail, err := Answer(store, challengeAFail, 60)
	require.NoError(t, err)
	receiptAFail.SampleHash = hashOf("mismatch")

	requestBTimeout := Request{ChallengeID: "challenge-b-timeout", WorldID: "world-1", NodeID: "node-b", ContentHash: hashB, MaxSampleBytes: 16, IssuedAtUnixMs: 100, ChallengeTTLMs: 10, VRFSeed: "seed-b1"}
	challengeBTimeout, err := Issue(store, requestBTimeout)
	require.NoError(t, err)
	receiptBTimeout, err := Answer(store, challengeBTimeout, 200)
	require.NoError(t, err)

	report, err := SummarizeNodeStats([]ChallengeReceiptPair{
		{challengeAPass, receiptAPass},
		{challengeAFail, receiptAFail},
		{challengeBTimeout, receiptBTimeout},
	}, 0)
	require.NoError(t, err)
	require.Len(t, report, 2)

	byNode := make(map[string]NodeStats, len(report))
	for _, s := range report {
		byNode[s.NodeID] = s
	}

	nodeA := byNode["node-a"]
	require.EqualValues(t, 2, nodeA.TotalChecks)
	require.EqualValues(t, 1, nodeA.PassedChecks)
	require.EqualValues(t, 1, nodeA.FailedChecks)
	require.EqualValues(t, 1, nodeA.FailuresByReason["HASH_MISMATCH"])

	nodeB := byNode["node-b"]
	require.EqualValues(t, 1, nodeB.TotalChecks)
	require.EqualValues(t, 0, nodeB.PassedChecks)
	require.EqualValues(t, 1, nodeB.FailedChecks)
	require.EqualValues(t, 1, nodeB.FailuresByReason["TIMEOUT"])
}

func TestSummarizeNodeStatsAcceptsEmptyEntries(t *testing.T) {
	report, err := SummarizeNodeStats(nil, 0)
	require.NoError(t, err)
	require.Empty(t, report)
}

func TestIssueRejectsInvalidRequest(t *testing.T) {
	store := cas.NewMemStore()
	contentHash := putBlob(t, store, []byte("ok"))

	request := Request{
		ChallengeID:    " ",
		WorldID:        "world-1",
		NodeID:         "node-1",
		ContentHash:    contentHash,
		MaxSampleBytes: 0,
		IssuedAtUnixMs: 0,
		ChallengeTTLMs: 0,
		VRFSeed:        "seed",
	}
	_, err := Issue(store, request)
	require.Error(t, err)
}

package membership

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentworld/worldkernel/pkg/cas"
)

func testSnapshot() Snapshot {
	return Snapshot{
		WorldID:         "w1",
		RequesterID:     "agent-ops",
		RequestedAtMs:   1000,
		Reason:          "onboard validator",
		Validators:      []string{"v1", "v2", "v3"},
		QuorumThreshold: 2,
	}
}

func testRevocation() KeyRevocationAnnounce {
	return KeyRevocationAnnounce{
		WorldID:       "w1",
		RequesterID:   "agent-ops",
		RequestedAtMs: 2000,
		KeyID:         "k-old",
		Reason:        "rotation",
	}
}

func ed25519Keypair(t *testing.T) (privHex, pubHex string) {
	t.Helper()
	seedHex := "0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c"
	seed, err := hex.DecodeString(seedHex)
	require.NoError(t, err)
	priv := ed25519.NewKeyFromSeed(seed)
	return seedHex, hex.EncodeToString(priv.Public().(ed25519.PublicKey))
}

func TestKeyringSignAndVerifySnapshotWithHMACActiveKey(t *testing.T) {
	k := NewSignerKeyring()
	require.NoError(t, k.AddHMACSHA256Key("k1", []byte("secret")))
	require.NoError(t, k.SetActiveKey("k1"))

	snapshot := testSnapshot()
	keyID, sig, err := k.SignSnapshotWithActiveKey(snapshot)
	require.NoError(t, err)
	require.Equal(t, "k1", keyID)
	snapshot.SignatureKeyID = keyID
	snapshot.Signature = sig

	require.NoError(t, k.VerifySnapshot(snapshot))
}

func TestKeyringSignAndVerifySnapshotWithEd25519(t *testing.T) {
	k := NewSignerKeyring()
	priv, pub := ed25519Keypair(t)
	require.NoError(t, k.AddEd25519Key("k-ed", priv, pub))
	require.NoError(t, k.SetActiveKey("k-ed"))

	snapshot := testSnapshot()
	keyID, sig, err := k.SignSnapshotWithActiveKey(snapshot)
	require.NoError(t, err)
	snapshot.SignatureKeyID = keyID
	snapshot.Signature = sig
	require.NoError(t, k.VerifySnapshot(snapshot))
}

func TestVerifySnapshotFallsBackAcrossNonRevokedKeysWithoutKeyID(t *testing.T) {
	k := NewSignerKeyring()
	require.NoError(t, k.AddHMACSHA256Key("k1", []byte("secret-1")))
	require.NoError(t, k.AddHMACSHA256Key("k2", []byte("secret-2")))
	require.NoError(t, k.SetActiveKey("k1"))

	snapshot := testSnapshot()
	// Sign with k2's key over the tuple with no signature_key_id bound
	// in, and omit signature_key_id on the wire, forcing the verifier to
	// fall back across every non-revoked key.
	b, err := snapshotSigningBytes(snapshot)
	require.NoError(t, err)
	snapshot.Signature = hmacSigner([]byte("secret-2")).sign(b)

	require.NoError(t, k.VerifySnapshot(snapshot))
}

func TestVerifySnapshotRejectsRevokedKeyID(t *testing.T) {
	k := NewSignerKeyring()
	require.NoError(t, k.AddHMACSHA256Key("k1", []byte("secret")))
	require.NoError(t, k.SetActiveKey("k1"))

	snapshot := testSnapshot()
	keyID, sig, err := k.SignSnapshotWithActiveKey(snapshot)
	require.NoError(t, err)
	snapshot.SignatureKeyID = keyID
	snapshot.Signature = sig

	revoked, err := k.RevokeKey("k1")
	require.NoError(t, err)
	require.True(t, revoked)

	err = k.VerifySnapshot(snapshot)
	require.Error(t, err)
}

func TestVerifySnapshotRejectsMissingSignature(t *testing.T) {
	k := NewSignerKeyring()
	require.NoError(t, k.AddHMACSHA256Key("k1", []byte("secret")))
	require.NoError(t, k.SetActiveKey("k1"))

	err := k.VerifySnapshot(testSnapshot())
	require.Error(t, err)
}

func TestRevokeKeyClearsActiveKey(t *testing.T) {
	k := NewSignerKeyring()
	require.NoError(t, k.AddHMACSHA256Key("k1", []byte("secret")))
	require.NoError(t, k.SetActiveKey("k1"))
	require.Equal(t, "k1", k.ActiveKeyID())

	_, err := k.RevokeKey("k1")
	require.NoError(t, err)
	require.Equal(t, "", k.ActiveKeyID())
	require.True(t, k.IsKeyRevoked("k1"))
}

func TestAddKeyRejectsDuplicateKeyID(t *testing.T) {
	k := NewSignerKeyring()
	require.NoError(t, k.AddHMACSHA256Key("k1", []byte("secret")))
	err := k.AddHMACSHA256Key("k1", []byte("other"))
	require.Error(t, err)
}

func TestRevocationSignAndVerifyRoundtrips(t *testing.T) {
	k := NewSignerKeyring()
	require.NoError(t, k.AddHMACSHA256Key("k1", []byte("secret")))
	require.NoError(t, k.SetActiveKey("k1"))

	announce := testRevocation()
	keyID, sig, err := k.SignRevocationWithActiveKey(announce)
	require.NoError(t, err)
	announce.SignatureKeyID = keyID
	announce.Signature = sig

	require.NoError(t, k.VerifyRevocation(announce))
}

func TestInMemoryAuditStoreAppendAndList(t *testing.T) {
	store := NewInMemoryAuditStore()
	require.NoError(t, store.Append(AuditRecord{WorldID: "w1", Outcome: AuditApplied, Reason: "ok"}))
	require.NoError(t, store.Append(AuditRecord{WorldID: "w2", Outcome: AuditIgnored, Reason: "stale"}))

	records, err := store.List("w1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, AuditApplied, records[0].Outcome)
}

func TestFileAuditStoreRotatesToColdSegmentsAndListRestoresOrder(t *testing.T) {
	blobs := cas.NewMemStore()
	store := NewFileAuditStore(blobs, 4, 2)

	for i := 0; i < 6; i++ {
		require.NoError(t, store.Append(AuditRecord{WorldID: "w1", Reason: "seq", Outcome: AuditApplied}))
	}

	records, err := store.List("w1")
	require.NoError(t, err)
	require.Len(t, records, 6)
}

func TestFileAuditStoreKeepsWorldsSeparate(t *testing.T) {
	blobs := cas.NewMemStore()
	store := NewFileAuditStore(blobs, 0, 0)

	require.NoError(t, store.Append(AuditRecord{WorldID: "w1", Reason: "a", Outcome: AuditApplied}))
	require.NoError(t, store.Append(AuditRecord{WorldID: "w2", Reason: "b", Outcome: AuditRejected}))

	w1, err := store.List("w1")
	require.NoError(t, err)
	require.Len(t, w1, 1)
	require.Equal(t, "a", w1[0].Reason)
}

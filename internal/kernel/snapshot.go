package kernel

import (
	"github.com/agentworld/worldkernel/internal/codec"
	"github.com/agentworld/worldkernel/internal/effect"
	"github.com/agentworld/worldkernel/internal/journal"
	"github.com/agentworld/worldkernel/internal/kernelerr"
	"github.com/agentworld/worldkernel/internal/logging"
	"github.com/agentworld/worldkernel/internal/module"
	"github.com/agentworld/worldkernel/internal/policy"
	"github.com/agentworld/worldkernel/internal/state"
)

// Snapshot is the deterministic, content-addressable value spec.md §3
// describes: state (manifest included) plus module registry/artifacts
// and effect queue digests, anchored to the journal position it was
// taken at so a later rollback can verify consistency before applying.
type Snapshot struct {
	State                 state.World `json:"state"`
	ModuleRegistryDigest  string      `json:"module_registry_digest"`
	ModuleArtifactsDigest string      `json:"module_artifacts_digest"`
	EffectQueueDigest     string      `json:"effect_queue_digest"`
	CreatedAtEventID      uint64      `json:"created_at_event_id"`
	JournalDigest         string      `json:"journal_digest"`
}

// Hash returns the content hash that doubles as the Snapshot's
// identifier, per spec.md §3.
func (s Snapshot) Hash() (string, error) {
	return codec.HashState(s)
}

// journalDigestUpTo computes the blake3 digest over the canonical
// encoding of every journal event with id <= uptoID, in ascending id
// order — the value from_snapshot/rollback_to_snapshot re-derive to
// check against Snapshot.JournalDigest.
func journalDigestUpTo(j *journal.Journal, uptoID uint64) (string, error) {
	events, err := j.Iter(0)
	if err != nil {
		return "", err
	}
	filtered := events[:0]
	for _, e := range events {
		if e.ID <= uptoID {
			filtered = append(filtered, e)
		}
	}
	return codec.HashState(filtered)
}

// Snapshot takes a content-addressed snapshot of the live kernel.
func (k *Kernel) Snapshot() (Snapshot, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.snapshotLocked()
}

func (k *Kernel) snapshotLocked() (Snapshot, error) {
	var moduleDigest string
	var err error
	if k.registry != nil {
		moduleDigest, err = k.registry.Digest()
		if err != nil {
			return Snapshot{}, err
		}
	}
	effectDigest, err := k.pipeline.QueueDigest()
	if err != nil {
		return Snapshot{}, err
	}

	createdAt := k.journal.NextID() - 1
	journalDigest, err := journalDigestUpTo(k.journal, createdAt)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		State:                 k.state.Clone(),
		ModuleRegistryDigest:  moduleDigest,
		ModuleArtifactsDigest: moduleDigest,
		EffectQueueDigest:     effectDigest,
		CreatedAtEventID:      createdAt,
		JournalDigest:         journalDigest,
	}, nil
}

// Deps bundles the collaborators a Kernel needs beyond its own state,
// used by FromSnapshot to reconstruct a kernel around a paired journal.
type Deps struct {
	Journal  *journal.Journal
	Pipeline *effect.Pipeline
	Registry *module.Registry
	Rules    *policy.Ruleset
	Caps     *policy.CapabilitySet
	Logger   *logging.Logger
}

// FromSnapshot reconstructs a Kernel from snap paired with j, verifying
// that j's digest over events up to snap.CreatedAtEventID matches the
// snapshot's embedded JournalDigest. A mismatch means the journal and
// snapshot diverged and returns kernelerr.StateJournalMismatch.
func FromSnapshot(snap Snapshot, deps Deps) (*Kernel, error) {
	digest, err := journalDigestUpTo(deps.Journal, snap.CreatedAtEventID)
	if err != nil {
		return nil, err
	}
	if digest != snap.JournalDigest {
		return nil, kernelerr.StateJournalMismatch(snap.JournalDigest, digest)
	}

	k := New(deps.Journal, deps.Pipeline, deps.Registry, deps.Rules, deps.Caps, deps.Logger)
	k.state = snap.State.Clone()
	return k, nil
}

// RollbackToSnapshot verifies snap against the kernel's own journal
// (over events up to snap.CreatedAtEventID), then replaces the live
// state with the snapshot's and appends RollbackApplied{note} as the
// next journal event, per spec.md §4.4's rollback_to_snapshot.
func (k *Kernel) RollbackToSnapshot(snap Snapshot, note string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	digest, err := journalDigestUpTo(k.journal, snap.CreatedAtEventID)
	if err != nil {
		return err
	}
	if digest != snap.JournalDigest {
		return kernelerr.StateJournalMismatch(snap.JournalDigest, digest)
	}

	k.state = snap.State.Clone()
	_, err = k.journal.Append(k.state.Time, journal.Cause{Kind: journal.CauseNone}, "RollbackApplied", RollbackAppliedBody{
		Note:      note,
		ToEventID: snap.CreatedAtEventID,
	})
	return err
}

package sequencer

import (
	"fmt"

	"github.com/agentworld/worldkernel/internal/kernelerr"
)

// PosValidator is one validator's identity and stake weight.
type PosValidator struct {
	ValidatorID string
	Stake       uint64
}

// PosConsensusStatus is a proposed head's finalization state.
type PosConsensusStatus int

const (
	PosPending PosConsensusStatus = iota
	PosCommitted
	PosRejected
)

func (s PosConsensusStatus) String() string {
	switch s {
	case PosPending:
		return "Pending"
	case PosCommitted:
		return "Committed"
	case PosRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// PosConsensusConfig configures the validator set and quorum rule.
type PosConsensusConfig struct {
	Validators []PosValidator
	// SlotsPerEpoch groups slots into epochs for attestation source/
	// target bookkeeping; Ethereum-style consensus uses 32.
	SlotsPerEpoch uint64
}

// EthereumLikePosConfig builds a PosConsensusConfig with the
// conventional 32-slot epoch, matching PosConsensusConfig::ethereum_like.
func EthereumLikePosConfig(validators []PosValidator) PosConsensusConfig {
	return PosConsensusConfig{Validators: validators, SlotsPerEpoch: 32}
}

func (c *PosConsensusConfig) normalize() {
	if c.SlotsPerEpoch == 0 {
		c.SlotsPerEpoch = 32
	}
}

// PosHeadRecord tracks one height's proposed head and its running
// attestation tally.
type PosHeadRecord struct {
	Head           WorldHeadAnnounce
	Slot           uint64
	Epoch          uint64
	Status         PosConsensusStatus
	ApprovedStake  uint64
	RejectedStake  uint64
	attested       map[string]bool
}

// PosConsensusDecision is the externally-visible result of a propose/
// attest call.
type PosConsensusDecision struct {
	WorldID       string
	Height        uint64
	BlockHash     string
	Slot          uint64
	Epoch         uint64
	Status        PosConsensusStatus
	ApprovedStake uint64
	RejectedStake uint64
	TotalStake    uint64
	RequiredStake uint64
}

// PosConsensus is the in-memory PoS head-finalization state machine:
// a validator set, a per-(world,height) record table, and the stake-
// weighted quorum rule (more than two-thirds of total stake).
type PosConsensus struct {
	cfg           PosConsensusConfig
	totalStake    uint64
	requiredStake uint64
	records       map[string]*PosHeadRecord
}

// NewPosConsensus constructs a PosConsensus from cfg, rejecting an
// empty validator set.
func NewPosConsensus(cfg PosConsensusConfig) (*PosConsensus, error) {
	cfg.normalize()
	if len(cfg.Validators) == 0 {
		return nil, kernelerr.DistributedValidationFailed("pos consensus requires at least one validator")
	}
	var total uint64
	seen := make(map[string]bool, len(cfg.Validators))
	for _, v := range cfg.Validators {
		if seen[v.ValidatorID] {
			return nil, kernelerr.DistributedValidationFailed(fmt.Sprintf("duplicate validator id %q", v.ValidatorID))
		}
		seen[v.ValidatorID] = true
		total += v.Stake
	}
	// Quorum: strictly more than 2/3 of total stake, the conventional
	// BFT threshold also used by the teacher's jam.Coordinator quorum
	// gate (applications/jam/coordinator.go).
	required := total*2/3 + 1
	return &PosConsensus{cfg: cfg, totalStake: total, requiredStake: required, records: make(map[string]*PosHeadRecord)}, nil
}

// Validators returns the configured validator set.
func (c *PosConsensus) Validators() []PosValidator { return c.cfg.Validators }

// TotalStake returns the sum of every validator's stake.
func (c *PosConsensus) TotalStake() uint64 { return c.totalStake }

// RequiredStake returns the stake threshold a head must cross to commit.
func (c *PosConsensus) RequiredStake() uint64 { return c.requiredStake }

// SlotEpoch maps a slot number to its epoch.
func (c *PosConsensus) SlotEpoch(slot uint64) uint64 { return slot / c.cfg.SlotsPerEpoch }

func recordKey(worldID string, height uint64) string { return fmt.Sprintf("%s/%d", worldID, height) }

// Record returns the tracked record for (worldID, height), if any.
func (c *PosConsensus) Record(worldID string, height uint64) *PosHeadRecord {
	return c.records[recordKey(worldID, height)]
}

func (c *PosConsensus) stakeOf(validatorID string) uint64 {
	for _, v := range c.cfg.Validators {
		if v.ValidatorID == validatorID {
			return v.Stake
		}
	}
	return 0
}

func (c *PosConsensus) decisionFromRecord(r *PosHeadRecord) PosConsensusDecision {
	return PosConsensusDecision{
		WorldID:       r.Head.WorldID,
		Height:        r.Head.Height,
		BlockHash:     r.Head.BlockHash,
		Slot:          r.Slot,
		Epoch:         r.Epoch,
		Status:        r.Status,
		ApprovedStake: r.ApprovedStake,
		RejectedStake: r.RejectedStake,
		TotalStake:    c.totalStake,
		RequiredStake: c.requiredStake,
	}
}

// ProposeWorldHeadWithPos records head as a new Pending proposal at
// its height, self-attesting on behalf of the proposer if it is a
// validator, and publishes it to dht.
func ProposeWorldHeadWithPos(dht DHT, c *PosConsensus, head WorldHeadAnnounce, proposerID string, slot uint64, nowMs int64) (PosConsensusDecision, error) {
	key := recordKey(head.WorldID, head.Height)
	epoch := c.SlotEpoch(slot)
	record := &PosHeadRecord{Head: head, Slot: slot, Epoch: epoch, Status: PosPending, attested: make(map[string]bool)}

	if stake := c.stakeOf(proposerID); stake > 0 {
		record.ApprovedStake = stake
		record.attested[proposerID] = true
		if record.ApprovedStake >= c.requiredStake {
			record.Status = PosCommitted
		}
	}
	c.records[key] = record

	if err := dht.PublishHead(head); err != nil {
		return PosConsensusDecision{}, fmt.Errorf("sequencer: publishing proposed head: %w", err)
	}
	return c.decisionFromRecord(record), nil
}

// AttestWorldHeadWithPos records validatorID's vote on the head at
// (worldID, height) and republishes the head if attestation tips the
// record into Committed/Rejected.
func AttestWorldHeadWithPos(dht DHT, c *PosConsensus, worldID string, height uint64, blockHash, validatorID string, approve bool, nowMs int64, sourceEpoch, targetEpoch uint64, note string) (PosConsensusDecision, error) {
	key := recordKey(worldID, height)
	record, ok := c.records[key]
	if !ok {
		return PosConsensusDecision{}, kernelerr.DistributedValidationFailed(fmt.Sprintf("no pending head at %s height %d", worldID, height))
	}
	if record.Head.BlockHash != blockHash {
		return PosConsensusDecision{}, kernelerr.DistributedValidationFailed("attestation block_hash does not match proposed head")
	}
	if record.Status != PosPending {
		return c.decisionFromRecord(record), nil
	}
	if record.attested[validatorID] {
		return c.decisionFromRecord(record), nil
	}
	record.attested[validatorID] = true
	stake := c.stakeOf(validatorID)
	if approve {
		record.ApprovedStake += stake
	} else {
		record.RejectedStake += stake
	}

	switch {
	case record.ApprovedStake >= c.requiredStake:
		record.Status = PosCommitted
	case record.RejectedStake >= c.requiredStake:
		record.Status = PosRejected
	case record.ApprovedStake+record.RejectedStake >= c.totalStake:
		// Every validator has voted and neither side crossed quorum:
		// resolve by simple stake majority so the tick does not hang.
		if record.ApprovedStake >= record.RejectedStake {
			record.Status = PosCommitted
		} else {
			record.Status = PosRejected
		}
	}

	if record.Status != PosPending {
		if err := dht.PublishHead(record.Head); err != nil {
			return PosConsensusDecision{}, fmt.Errorf("sequencer: republishing finalized head: %w", err)
		}
	}
	return c.decisionFromRecord(record), nil
}

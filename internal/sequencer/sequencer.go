package sequencer

import (
	"fmt"
	"strings"

	"github.com/agentworld/worldkernel/internal/codec"
	"github.com/agentworld/worldkernel/internal/kernelerr"
	"github.com/agentworld/worldkernel/internal/logging"
)

// Config configures one Sequencer instance, per spec.md §4.9.
type Config struct {
	WorldID                        string
	NodeID                         string
	LeaseTTLMs                     int64
	BatchRules                     ActionBatchRules
	Mempool                        ActionMempoolConfig
	RequireActionSignature         bool
	SignHead                       bool
	HMACSigner                     *HMACSigner
	Ed25519Signer                  *Ed25519Signer
	AcceptedActionSignerPublicKeys []string
	InitialPrevBlockHash           string
	AutoAttestAllValidators        bool
}

// DefaultConfig returns a Config with the same defaults as the
// original source's SequencerMainloopConfig::default.
func DefaultConfig() Config {
	return Config{
		WorldID:                 "w1",
		NodeID:                  "sequencer-1",
		LeaseTTLMs:              5000,
		BatchRules:              DefaultActionBatchRules(),
		Mempool:                 DefaultActionMempoolConfig(),
		AutoAttestAllValidators: true,
		InitialPrevBlockHash:    "genesis",
	}
}

func (c Config) validate(allowlist map[string]bool) error {
	if strings.TrimSpace(c.WorldID) == "" {
		return kernelerr.DistributedValidationFailed("sequencer world_id cannot be empty")
	}
	if strings.TrimSpace(c.NodeID) == "" {
		return kernelerr.DistributedValidationFailed("sequencer node_id cannot be empty")
	}
	if c.LeaseTTLMs <= 0 {
		return kernelerr.DistributedValidationFailed("sequencer lease_ttl_ms must be positive")
	}
	if err := c.BatchRules.validate(); err != nil {
		return err
	}
	if c.RequireActionSignature && c.HMACSigner == nil && allowlist == nil {
		return kernelerr.DistributedValidationFailed("require_action_signature requires hmac_signer or accepted_action_signer_public_keys")
	}
	if c.SignHead && c.HMACSigner == nil && c.Ed25519Signer == nil {
		return kernelerr.DistributedValidationFailed("sign_head requires hmac_signer or ed25519_signer")
	}
	return nil
}

// TickState is the outward result of one Sequencer.Tick call.
type TickState int

const (
	TickLeaseBlocked TickState = iota
	TickIdle
	TickPending
	TickCommitted
	TickRejected
)

func (s TickState) String() string {
	switch s {
	case TickLeaseBlocked:
		return "LeaseBlocked"
	case TickIdle:
		return "Idle"
	case TickPending:
		return "Pending"
	case TickCommitted:
		return "Committed"
	case TickRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

func tickStateFromStatus(s PosConsensusStatus) TickState {
	switch s {
	case PosCommitted:
		return TickCommitted
	case PosRejected:
		return TickRejected
	default:
		return TickPending
	}
}

// TickReport summarizes one Tick call's outcome.
type TickReport struct {
	WorldID      string
	NodeID       string
	State        TickState
	LeaseGranted bool
	Height       *uint64
	Slot         *uint64
	BatchID      *string
	BlockHash    *string
	Status       *PosConsensusStatus
}

// Sequencer is the per-world PoS sequencer mainloop: lease-gated batch
// drain, head proposal, and attestation-driven finalization.
type Sequencer struct {
	cfg           Config
	allowlist     map[string]bool
	mempool       *ActionMempool
	consensus     *PosConsensus
	lease         *LeaseManager
	logger        *logging.Logger
	nextHeight    uint64
	nextSlot      uint64
	prevBlockHash string
}

// New constructs a Sequencer, validating cfg and posCfg.
func New(cfg Config, posCfg PosConsensusConfig, logger *logging.Logger) (*Sequencer, error) {
	allowlist, err := NormalizeEd25519PublicKeyAllowlist(cfg.AcceptedActionSignerPublicKeys, "accepted_action_signer_public_keys")
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(allowlist); err != nil {
		return nil, err
	}
	consensus, err := NewPosConsensus(posCfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Sequencer{
		cfg:           cfg,
		allowlist:     allowlist,
		mempool:       NewActionMempool(cfg.Mempool),
		consensus:     consensus,
		lease:         NewLeaseManager(),
		logger:        logger,
		nextHeight:    1,
		prevBlockHash: cfg.InitialPrevBlockHash,
	}, nil
}

// NextHeight reports the height the next proposed head will take.
func (s *Sequencer) NextHeight() uint64 { return s.nextHeight }

// NextSlot reports the slot the next proposal will be assigned.
func (s *Sequencer) NextSlot() uint64 { return s.nextSlot }

// PendingActions reports the mempool's current length.
func (s *Sequencer) PendingActions() int { return s.mempool.Len() }

// SubmitAction admits action into the mempool, rejecting a world
// mismatch or a signature that fails verification under the
// configured policy.
func (s *Sequencer) SubmitAction(action ActionEnvelope) bool {
	if action.WorldID != s.cfg.WorldID {
		return false
	}
	if !s.verifyActionSignature(action) {
		return false
	}
	return s.mempool.AddAction(action)
}

func (s *Sequencer) verifyActionSignature(action ActionEnvelope) bool {
	if action.Signature == "" {
		return !s.cfg.RequireActionSignature
	}
	if strings.HasPrefix(action.Signature, Ed25519SignaturePrefix) {
		signerPub, err := VerifyEd25519Action(action)
		if err != nil {
			return false
		}
		signerPub, err = NormalizeEd25519PublicKeyHex(signerPub, "action signature signer public key")
		if err != nil {
			return false
		}
		if s.allowlist == nil {
			return !s.cfg.RequireActionSignature
		}
		return s.allowlist[signerPub]
	}
	if s.cfg.HMACSigner == nil {
		return !s.cfg.RequireActionSignature
	}
	return s.cfg.HMACSigner.VerifyAction(action) == nil
}

// Tick runs one sequencer iteration against dht, per spec.md §4.9's
// six-step algorithm.
func (s *Sequencer) Tick(dht DHT, nowMs int64) (TickReport, error) {
	leaseDecision := s.ensureLease(nowMs)
	if !leaseDecision.Granted {
		return TickReport{WorldID: s.cfg.WorldID, NodeID: s.cfg.NodeID, State: TickLeaseBlocked}, nil
	}

	if report, ok, err := s.drivePendingHead(dht, nowMs); err != nil {
		return TickReport{}, err
	} else if ok {
		return report, nil
	}

	slot := s.nextSlot
	height := s.nextHeight
	nextSlot, err := checkedIncrement(s.nextSlot, "next_slot")
	if err != nil {
		return TickReport{}, err
	}
	if _, err := checkedIncrement(s.nextHeight, "next_height"); err != nil {
		return TickReport{}, err
	}

	batch, err := s.mempool.TakeBatchWithRules(s.cfg.WorldID, s.cfg.NodeID, s.cfg.BatchRules)
	if err != nil {
		return TickReport{}, err
	}
	if batch == nil {
		return TickReport{WorldID: s.cfg.WorldID, NodeID: s.cfg.NodeID, State: TickIdle, LeaseGranted: true}, nil
	}

	stateRoot, err := stateRootForActions(batch.Actions)
	if err != nil {
		return TickReport{}, err
	}
	blockHash, err := blockHashForBatch(s.cfg.WorldID, height, slot, s.prevBlockHash, batch.BatchID, stateRoot)
	if err != nil {
		return TickReport{}, err
	}

	head := WorldHeadAnnounce{
		WorldID:     s.cfg.WorldID,
		Height:      height,
		BlockHash:   blockHash,
		StateRoot:   stateRoot,
		TimestampMs: nowMs,
	}
	if err := s.signHeadIfNeeded(&head); err != nil {
		return TickReport{}, err
	}

	decision, err := ProposeWorldHeadWithPos(dht, s.consensus, head, s.cfg.NodeID, slot, nowMs)
	if err != nil {
		return TickReport{}, err
	}
	decision, err = s.driveAttestations(dht, head, decision, nowMs)
	if err != nil {
		return TickReport{}, err
	}
	if err := s.applyFinalizedStatus(head.BlockHash, decision.Status); err != nil {
		return TickReport{}, err
	}
	s.nextSlot = nextSlot

	return TickReport{
		WorldID:      s.cfg.WorldID,
		NodeID:       s.cfg.NodeID,
		State:        tickStateFromStatus(decision.Status),
		LeaseGranted: true,
		Height:       &decision.Height,
		Slot:         &decision.Slot,
		BatchID:      &batch.BatchID,
		BlockHash:    &head.BlockHash,
		Status:       &decision.Status,
	}, nil
}

func (s *Sequencer) signHeadIfNeeded(head *WorldHeadAnnounce) error {
	if !s.cfg.SignHead {
		return nil
	}
	if s.cfg.Ed25519Signer != nil {
		sig, err := s.cfg.Ed25519Signer.SignHead(*head)
		if err != nil {
			return err
		}
		head.Signature = sig
		if _, err := VerifyEd25519Head(*head); err != nil {
			return err
		}
		return nil
	}
	if s.cfg.HMACSigner == nil {
		return kernelerr.DistributedValidationFailed("sign_head requires hmac_signer or ed25519_signer")
	}
	sig, err := s.cfg.HMACSigner.SignHead(*head)
	if err != nil {
		return err
	}
	head.Signature = sig
	return s.cfg.HMACSigner.VerifyHead(*head)
}

func (s *Sequencer) ensureLease(nowMs int64) LeaseDecision {
	s.lease.ExpireIfNeeded(nowMs)
	if current := s.lease.Current(); current != nil {
		if current.HolderID == s.cfg.NodeID && current.ExpiresAtMs > nowMs {
			return s.lease.Renew(current.LeaseID, nowMs, s.cfg.LeaseTTLMs)
		}
	}
	return s.lease.TryAcquire(s.cfg.NodeID, nowMs, s.cfg.LeaseTTLMs)
}

func (s *Sequencer) drivePendingHead(dht DHT, nowMs int64) (TickReport, bool, error) {
	record := s.consensus.Record(s.cfg.WorldID, s.nextHeight)
	if record == nil || record.Status != PosPending {
		return TickReport{}, false, nil
	}
	decision := s.consensus.decisionFromRecord(record)
	decision, err := s.driveAttestations(dht, record.Head, decision, nowMs)
	if err != nil {
		return TickReport{}, false, err
	}
	if err := s.applyFinalizedStatus(record.Head.BlockHash, decision.Status); err != nil {
		return TickReport{}, false, err
	}
	return TickReport{
		WorldID:      s.cfg.WorldID,
		NodeID:       s.cfg.NodeID,
		State:        tickStateFromStatus(decision.Status),
		LeaseGranted: true,
		Height:       &decision.Height,
		Slot:         &decision.Slot,
		BlockHash:    &record.Head.BlockHash,
		Status:       &decision.Status,
	}, true, nil
}

func (s *Sequencer) driveAttestations(dht DHT, head WorldHeadAnnounce, decision PosConsensusDecision, nowMs int64) (PosConsensusDecision, error) {
	if decision.Status != PosPending {
		return decision, nil
	}
	targetEpoch := s.consensus.SlotEpoch(saturatingSub(head.Height, 1))
	sourceEpoch := saturatingSub(targetEpoch, 1)

	for _, v := range s.consensus.Validators() {
		if v.ValidatorID == s.cfg.NodeID {
			continue
		}
		var err error
		decision, err = AttestWorldHeadWithPos(dht, s.consensus, head.WorldID, head.Height, head.BlockHash, v.ValidatorID, true, nowMs, sourceEpoch, targetEpoch, "sequencer mainloop auto attestation")
		if err != nil {
			return PosConsensusDecision{}, err
		}
		if decision.Status != PosPending {
			break
		}
		if !s.cfg.AutoAttestAllValidators {
			break
		}
	}
	return decision, nil
}

func (s *Sequencer) applyFinalizedStatus(blockHash string, status PosConsensusStatus) error {
	switch status {
	case PosPending:
		return nil
	case PosCommitted:
		next, err := checkedIncrement(s.nextHeight, "next_height")
		if err != nil {
			return err
		}
		s.prevBlockHash = blockHash
		s.nextHeight = next
		return nil
	case PosRejected:
		next, err := checkedIncrement(s.nextHeight, "next_height")
		if err != nil {
			return err
		}
		s.nextHeight = next
		return nil
	default:
		return kernelerr.DistributedValidationFailed("unknown pos consensus status")
	}
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

func checkedIncrement(value uint64, field string) (uint64, error) {
	if value == ^uint64(0) {
		return 0, kernelerr.DistributedValidationFailed(fmt.Sprintf("sequencer %s overflow at %d", field, value))
	}
	return value + 1, nil
}

type blockHashPayload struct {
	WorldID       string `cbor:"world_id"`
	Height        uint64 `cbor:"height"`
	Slot          uint64 `cbor:"slot"`
	PrevBlockHash string `cbor:"prev_block_hash"`
	BatchID       string `cbor:"batch_id"`
	StateRoot     string `cbor:"state_root"`
}

func blockHashForBatch(worldID string, height, slot uint64, prevBlockHash, batchID, stateRoot string) (string, error) {
	return codec.HashState(blockHashPayload{worldID, height, slot, prevBlockHash, batchID, stateRoot})
}

type actionStateSummary struct {
	ActionID    string `cbor:"action_id"`
	ActorID     string `cbor:"actor_id"`
	PayloadHash string `cbor:"payload_hash"`
	Nonce       uint64 `cbor:"nonce"`
	TimestampMs int64  `cbor:"timestamp_ms"`
}

func stateRootForActions(actions []ActionEnvelope) (string, error) {
	summary := make([]actionStateSummary, 0, len(actions))
	for _, a := range actions {
		summary = append(summary, actionStateSummary{a.ActionID, a.ActorID, a.PayloadHash, a.Nonce, a.TimestampMs})
	}
	return codec.HashState(summary)
}

// Package sequencer implements the PoS sequencer mainloop described in
// spec.md §4.9: mempool → batch → head proposal → attestation →
// finalization, with lease-gated single-sequencer admission and
// ed25519/HMAC action and head signing. It is a direct port of
// original_source/crates/agent_world_consensus/src/sequencer_mainloop.rs,
// generalized to Go the way internal/kernel generalizes the teacher's
// applications/jam/engine.go pipeline.
package sequencer

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/agentworld/worldkernel/internal/kernelerr"
)

// ActionEnvelope is the wire envelope a sequencer admits into its
// mempool, per spec.md §3/§6. ActionID is the caller-assigned mempool
// identifier (distinct from the per-world monotonic action_id the
// kernel assigns once an action is applied).
type ActionEnvelope struct {
	WorldID     string `json:"world_id"`
	ActionID    string `json:"action_id"`
	ActorID     string `json:"actor_id"`
	ActionKind  string `json:"action_kind"`
	PayloadCBOR []byte `json:"payload_cbor"`
	PayloadHash string `json:"payload_hash"`
	Nonce       uint64 `json:"nonce"`
	TimestampMs int64  `json:"timestamp_ms"`
	Signature   string `json:"signature,omitempty"`
}

// ActionBatchRules bounds how many actions, and how many payload
// bytes, a single batch may carry.
type ActionBatchRules struct {
	MaxActions      int
	MaxPayloadBytes int
}

// DefaultActionBatchRules mirrors the Rust default: a modest batch
// cap suitable for a single-tick sequencer loop.
func DefaultActionBatchRules() ActionBatchRules {
	return ActionBatchRules{MaxActions: 256, MaxPayloadBytes: 1 << 20}
}

func (r ActionBatchRules) validate() error {
	if r.MaxActions <= 0 {
		return kernelerr.DistributedValidationFailed("sequencer batch_rules.max_actions must be positive")
	}
	if r.MaxPayloadBytes <= 0 {
		return kernelerr.DistributedValidationFailed("sequencer batch_rules.max_payload_bytes must be positive")
	}
	return nil
}

// ActionMempoolConfig bounds how many pending actions the mempool will
// hold before submit_action starts rejecting new entries.
type ActionMempoolConfig struct {
	MaxPending int
}

// DefaultActionMempoolConfig mirrors the Rust default.
func DefaultActionMempoolConfig() ActionMempoolConfig {
	return ActionMempoolConfig{MaxPending: 4096}
}

// ActionBatch is a drained, ordered slice of the mempool plus its
// generated identifier.
type ActionBatch struct {
	BatchID string
	Actions []ActionEnvelope
}

// ActionMempool is the sequencer's FIFO pending-action queue, deduped
// by (world_id, action_id).
type ActionMempool struct {
	mu     sync.Mutex
	cfg    ActionMempoolConfig
	seen   map[string]bool
	queue  []ActionEnvelope
}

// NewActionMempool constructs an empty mempool.
func NewActionMempool(cfg ActionMempoolConfig) *ActionMempool {
	if cfg.MaxPending <= 0 {
		cfg = DefaultActionMempoolConfig()
	}
	return &ActionMempool{cfg: cfg, seen: make(map[string]bool)}
}

// AddAction appends action to the queue, returning false if the
// mempool is full or the (world_id, action_id) pair was already seen.
func (m *ActionMempool) AddAction(action ActionEnvelope) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := action.WorldID + "/" + action.ActionID
	if m.seen[key] {
		return false
	}
	if len(m.queue) >= m.cfg.MaxPending {
		return false
	}
	m.seen[key] = true
	m.queue = append(m.queue, action)
	return true
}

// Len reports the number of actions currently pending.
func (m *ActionMempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// TakeBatchWithRules drains a FIFO-ordered batch respecting rules,
// returning (nil, nil) if the mempool is empty.
func (m *ActionMempool) TakeBatchWithRules(worldID, nodeID string, rules ActionBatchRules) (*ActionBatch, error) {
	if err := rules.validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 {
		return nil, nil
	}

	var taken []ActionEnvelope
	payloadBytes := 0
	i := 0
	for ; i < len(m.queue) && len(taken) < rules.MaxActions; i++ {
		a := m.queue[i]
		if payloadBytes+len(a.PayloadCBOR) > rules.MaxPayloadBytes && len(taken) > 0 {
			break
		}
		taken = append(taken, a)
		payloadBytes += len(a.PayloadCBOR)
	}
	if len(taken) == 0 {
		return nil, nil
	}
	m.queue = append([]ActionEnvelope(nil), m.queue[i:]...)
	for _, a := range taken {
		delete(m.seen, a.WorldID+"/"+a.ActionID)
	}

	return &ActionBatch{
		BatchID: fmt.Sprintf("%s-%s-%s", worldID, nodeID, uuid.NewString()),
		Actions: taken,
	}, nil
}

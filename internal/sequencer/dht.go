package sequencer

import (
	"sync"

	"github.com/agentworld/worldkernel/internal/kernelerr"
)

// WorldHeadAnnounce is the wire envelope a sequencer publishes once a
// batch's head is proposed or finalized, per spec.md §6.
type WorldHeadAnnounce struct {
	WorldID     string `json:"world_id"`
	Height      uint64 `json:"height"`
	BlockHash   string `json:"block_hash"`
	StateRoot   string `json:"state_root"`
	TimestampMs int64  `json:"timestamp_ms"`
	Signature   string `json:"signature,omitempty"`
}

// DHT is the abstract distributed-storage/transport interface the
// sequencer consumes to publish and query world heads, per spec.md §5
// ("an abstract transport interface is consumed"). Any returned error
// is treated as an immediate failed tick — the sequencer never retries
// internally.
type DHT interface {
	PublishHead(head WorldHeadAnnounce) error
	GetWorldHead(worldID string) (*WorldHeadAnnounce, error)
}

// InMemoryDHT is a single-process DHT stand-in for tests and local
// single-node deployments.
type InMemoryDHT struct {
	mu    sync.RWMutex
	heads map[string]WorldHeadAnnounce
}

// NewInMemoryDHT constructs an empty InMemoryDHT.
func NewInMemoryDHT() *InMemoryDHT { return &InMemoryDHT{heads: make(map[string]WorldHeadAnnounce)} }

func (d *InMemoryDHT) PublishHead(head WorldHeadAnnounce) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.heads[head.WorldID] = head
	return nil
}

func (d *InMemoryDHT) GetWorldHead(worldID string) (*WorldHeadAnnounce, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.heads[worldID]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

// FailingDHT always fails PublishHead/GetWorldHead, useful for testing
// the "treat any returned error as an immediate failed tick" contract.
type FailingDHT struct{ Reason string }

func (f FailingDHT) PublishHead(WorldHeadAnnounce) error {
	return kernelerr.DistributedValidationFailed(f.Reason)
}

func (f FailingDHT) GetWorldHead(string) (*WorldHeadAnnounce, error) {
	return nil, kernelerr.DistributedValidationFailed(f.Reason)
}

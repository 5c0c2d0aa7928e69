package sequencer

import (
	"sync"

	"github.com/google/uuid"
)

// Lease is a time-bounded exclusive right for one node to sequence a
// world, per the GLOSSARY's Lease entry.
type Lease struct {
	LeaseID     string
	HolderID    string
	ExpiresAtMs int64
}

// LeaseDecision is the outcome of an acquire/renew attempt.
type LeaseDecision struct {
	Granted     bool
	LeaseID     string
	ExpiresAtMs int64
}

// LeaseManager holds at most one active lease at a time. It has no
// network component here: a real deployment backs it with a
// distributed lock service; this in-process manager is the contract
// the sequencer mainloop consumes.
type LeaseManager struct {
	mu      sync.Mutex
	current *Lease
}

// NewLeaseManager constructs a LeaseManager with no current lease.
func NewLeaseManager() *LeaseManager { return &LeaseManager{} }

// Current returns a copy of the active lease, if any.
func (l *LeaseManager) Current() *Lease {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return nil
	}
	cp := *l.current
	return &cp
}

// ExpireIfNeeded clears the current lease once its TTL has elapsed.
func (l *LeaseManager) ExpireIfNeeded(nowMs int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current != nil && l.current.ExpiresAtMs <= nowMs {
		l.current = nil
	}
}

// TryAcquire grants a new lease to nodeID if none is held.
func (l *LeaseManager) TryAcquire(nodeID string, nowMs, ttlMs int64) LeaseDecision {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current != nil && l.current.ExpiresAtMs > nowMs {
		return LeaseDecision{Granted: false}
	}
	lease := &Lease{LeaseID: uuid.NewString(), HolderID: nodeID, ExpiresAtMs: nowMs + ttlMs}
	l.current = lease
	return LeaseDecision{Granted: true, LeaseID: lease.LeaseID, ExpiresAtMs: lease.ExpiresAtMs}
}

// Renew extends leaseID's expiry, if it is still the current lease.
func (l *LeaseManager) Renew(leaseID string, nowMs, ttlMs int64) LeaseDecision {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil || l.current.LeaseID != leaseID {
		return LeaseDecision{Granted: false}
	}
	l.current.ExpiresAtMs = nowMs + ttlMs
	return LeaseDecision{Granted: true, LeaseID: l.current.LeaseID, ExpiresAtMs: l.current.ExpiresAtMs}
}

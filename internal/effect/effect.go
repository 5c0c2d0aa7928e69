// Package effect implements the FIFO effect-intent queue and receipt
// ingestion described in spec.md §4.6, generalizing the teacher's
// Message/MessageStatus pending/delivered queue
// (applications/jam/model.go) to capability-gated effect intents.
package effect

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/agentworld/worldkernel/internal/codec"
	"github.com/agentworld/worldkernel/internal/kernelerr"
)

// Intent is an effect-pipeline request: a reducer-originated ask to
// perform an external side effect.
type Intent struct {
	IntentID      string   `json:"intent_id"`
	Kind          string   `json:"kind"`
	Params        any      `json:"params"`
	CapRef        string   `json:"cap_ref"`
	Origin        string   `json:"origin"`
	SubmittedAtTick uint64 `json:"submitted_at_tick"`
}

// Receipt is the outcome of executing an Intent.
type Receipt struct {
	IntentID  string `json:"intent_id"`
	Status    string `json:"status"`
	Payload   any    `json:"payload"`
	CostCents *int64 `json:"cost_cents,omitempty"`
	Signature *string `json:"signature,omitempty"`
}

// Signer mirrors policy.ReceiptSigner's shape without importing the
// policy package, keeping effect free of a dependency on policy.
type Signer interface {
	Sign(intentID, status string, payload any, costCents *int64) (string, error)
	Verify(intentID, status string, payload any, costCents *int64, signature string) bool
}

// Pipeline is the FIFO effect intent queue plus outstanding-intent
// bookkeeping for receipt matching.
type Pipeline struct {
	mu         sync.Mutex
	queue      []Intent
	outstanding map[string]Intent
	signer     Signer
}

// New constructs an empty Pipeline. signer may be nil, in which case
// ingested receipts are accepted without signing (spec.md §4.5:
// signing only happens "if a ReceiptSigner is configured").
func New(signer Signer) *Pipeline {
	return &Pipeline{outstanding: make(map[string]Intent), signer: signer}
}

// SetSigner installs or replaces the receipt signer.
func (p *Pipeline) SetSigner(signer Signer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signer = signer
}

// Enqueue appends an allowed intent to the FIFO queue. Callers run
// policy evaluation (internal/policy) before calling Enqueue; the
// effect package itself has no policy opinion.
func (p *Pipeline) Enqueue(kind string, params any, capRef, origin string, tick uint64) Intent {
	p.mu.Lock()
	defer p.mu.Unlock()
	intent := Intent{
		IntentID:        uuid.NewString(),
		Kind:            kind,
		Params:          params,
		CapRef:          capRef,
		Origin:          origin,
		SubmittedAtTick: tick,
	}
	p.queue = append(p.queue, intent)
	p.outstanding[intent.IntentID] = intent
	return intent
}

// TakeNextEffect pops the oldest queued intent, leaving it outstanding
// until a matching receipt is ingested.
func (p *Pipeline) TakeNextEffect() (Intent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return Intent{}, false
	}
	intent := p.queue[0]
	p.queue = p.queue[1:]
	return intent, true
}

// IngestReceipt validates that r.IntentID matches an outstanding
// intent, signs the receipt if a signer is configured and the receipt
// arrives unsigned, and verifies pre-signed receipts. It returns the
// finalized receipt (with Signature possibly filled) for the caller to
// append as a ReceiptAppended event.
func (p *Pipeline) IngestReceipt(r Receipt) (Receipt, error) {
	p.mu.Lock()
	intent, ok := p.outstanding[r.IntentID]
	if ok {
		delete(p.outstanding, r.IntentID)
	}
	signer := p.signer
	p.mu.Unlock()

	if !ok {
		return Receipt{}, kernelerr.New(kernelerr.CodeModuleCallFailed, fmt.Sprintf("no outstanding intent %q", r.IntentID))
	}
	_ = intent

	if signer == nil {
		return r, nil
	}
	if r.Signature != nil {
		if !signer.Verify(r.IntentID, r.Status, r.Payload, r.CostCents, *r.Signature) {
			return Receipt{}, kernelerr.New(kernelerr.CodeSignatureKeyInvalid, "receipt signature verification failed")
		}
		return r, nil
	}
	sig, err := signer.Sign(r.IntentID, r.Status, r.Payload, r.CostCents)
	if err != nil {
		return Receipt{}, fmt.Errorf("effect: signing receipt: %w", err)
	}
	r.Signature = &sig
	return r, nil
}

// QueueDigest returns a blake3 hex digest over the canonical encoding
// of the pending queue, used as Snapshot.effect_queue_digest.
func (p *Pipeline) QueueDigest() (string, error) {
	p.mu.Lock()
	queue := append([]Intent(nil), p.queue...)
	p.mu.Unlock()
	return codec.HashState(queue)
}

// Len reports the number of queued (not yet taken) intents.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Package journal implements the append-only, causally-linked world
// event journal described in spec.md §4.2: a hot in-memory/recent-file
// tier and a cold tier whose rotated segments live in a content-
// addressed store. No event is ever rewritten; rotation only truncates
// the hot tier once its lines are durably referenced in cold storage.
package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agentworld/worldkernel/internal/kernelerr"
	"github.com/agentworld/worldkernel/internal/metrics"
	"github.com/agentworld/worldkernel/pkg/cas"
)

// CauseKind tags what produced a World event.
type CauseKind int

const (
	CauseNone CauseKind = iota
	CauseAction
	CauseEffect
	CauseModule
)

// Cause names the antecedent of an event, matching spec.md §3's
// caused_by: None | Action(id) | Effect(intent_id) | Module(trace_id).
type Cause struct {
	Kind CauseKind
	// ActionID holds the action id when Kind == CauseAction.
	ActionID uint64
	// IntentID holds the effect intent id when Kind == CauseEffect.
	IntentID string
	// TraceID holds the module call trace id when Kind == CauseModule.
	TraceID string
}

// ActionCause builds a Cause rooted in an action id.
func ActionCause(id uint64) Cause { return Cause{Kind: CauseAction, ActionID: id} }

// EffectCause builds a Cause rooted in an effect intent id.
func EffectCause(intentID string) Cause { return Cause{Kind: CauseEffect, IntentID: intentID} }

// ModuleCause builds a Cause rooted in a module call trace id.
func ModuleCause(traceID string) Cause { return Cause{Kind: CauseModule, TraceID: traceID} }

// Event is one journal entry: a monotonic id, logical time, its cause,
// and an opaque body carrying the event-kind-specific payload (one of
// Domain(...), PolicyDecisionRecorded, ReceiptAppended, ModuleEvent,
// ModuleEmitted, ModuleCallFailed, RollbackApplied, Governance(...)).
type Event struct {
	ID    uint64 `json:"id"`
	Time  uint64 `json:"time"`
	Cause Cause  `json:"cause"`
	Kind  string `json:"kind"`
	Body  any    `json:"body"`
}

// Config controls hot/cold rotation thresholds. Defaults mirror the
// original source's membership-audit tiering constants, reused here
// per spec.md §9(iii): hot_max_records=4096, cold_segment_max_lines=256.
type Config struct {
	HotMaxRecords       int
	ColdSegmentMaxLines int
}

// Normalize fills zero-valued fields with spec.md §9(iii) defaults.
func (c *Config) Normalize() {
	if c.HotMaxRecords <= 0 {
		c.HotMaxRecords = 4096
	}
	if c.ColdSegmentMaxLines <= 0 {
		c.ColdSegmentMaxLines = 256
	}
}

// ColdRef points at one rotated segment: its CAS digest and the id
// range it covers, inclusive.
type ColdRef struct {
	Digest  string `json:"digest"`
	FirstID uint64 `json:"first_id"`
	LastID  uint64 `json:"last_id"`
	Lines   int    `json:"lines"`
}

// Journal is the hot/cold event log for one world.
type Journal struct {
	mu       sync.Mutex
	cfg      Config
	store    cas.Store
	nextID   uint64
	hot      []Event
	coldRefs []ColdRef
	seenActionIDs map[uint64]bool
}

// New constructs an empty Journal backed by store, with cfg normalized.
func New(store cas.Store, cfg Config) *Journal {
	cfg.Normalize()
	return &Journal{
		cfg:           cfg,
		store:         store,
		nextID:        1,
		seenActionIDs: make(map[uint64]bool),
	}
}

// Append assigns the next id, records an action cited by Cause as
// observed, persists the event into the hot tier, and rotates to cold
// storage if the hot tier has grown past HotMaxRecords. It does not
// reject any Cause: an event cause naming a later or unknown event id
// is appended as given.
func (j *Journal) Append(time uint64, cause Cause, kind string, body any) (Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if cause.Kind == CauseAction {
		if !j.seenActionIDs[cause.ActionID] {
			// An action is "observed" the first time any event cites
			// it; the first citation is always legitimate (the kernel
			// submits actions before running reducers over them), so
			// we record it here rather than requiring a separate
			// registration call.
			j.seenActionIDs[cause.ActionID] = true
		}
	}

	ev := Event{ID: j.nextID, Time: time, Cause: cause, Kind: kind, Body: body}
	j.nextID++
	j.hot = append(j.hot, ev)

	if len(j.hot) > j.cfg.HotMaxRecords {
		if err := j.rotateLocked(); err != nil {
			return Event{}, err
		}
	} else {
		metrics.SetJournalHotRecords(len(j.hot))
	}
	return ev, nil
}

// Restore reconstructs a Journal from a previously persisted hot tail
// and cold reference list (spec.md §6's journal/hot.jsonl and
// journal/cold.refs.jsonl), for a process that reopens a world
// directory rather than building up a journal from scratch.
func Restore(store cas.Store, cfg Config, hot []Event, coldRefs []ColdRef) *Journal {
	cfg.Normalize()
	j := &Journal{
		cfg:           cfg,
		store:         store,
		nextID:        1,
		hot:           append([]Event(nil), hot...),
		coldRefs:      append([]ColdRef(nil), coldRefs...),
		seenActionIDs: make(map[uint64]bool),
	}
	for _, ref := range coldRefs {
		if ref.LastID >= j.nextID {
			j.nextID = ref.LastID + 1
		}
	}
	for _, e := range hot {
		if e.ID >= j.nextID {
			j.nextID = e.ID + 1
		}
		if e.Cause.Kind == CauseAction {
			j.seenActionIDs[e.Cause.ActionID] = true
		}
	}
	return j
}

// rotateLocked slices the oldest ColdSegmentMaxLines records out of the
// hot tier into a new cold segment, appends its digest to the refs
// list, and truncates the hot tier. Caller must hold j.mu.
func (j *Journal) rotateLocked() error {
	n := j.cfg.ColdSegmentMaxLines
	if n > len(j.hot) {
		n = len(j.hot)
	}
	segment := j.hot[:n]
	buf, err := marshalSegment(segment)
	if err != nil {
		return fmt.Errorf("journal: marshaling cold segment: %w", err)
	}
	digest := cas.Hash(buf)
	if err := j.store.Put(digest, buf); err != nil {
		return fmt.Errorf("journal: storing cold segment: %w", err)
	}
	j.coldRefs = append(j.coldRefs, ColdRef{
		Digest:  digest,
		FirstID: segment[0].ID,
		LastID:  segment[len(segment)-1].ID,
		Lines:   n,
	})
	j.hot = append([]Event(nil), j.hot[n:]...)
	metrics.RecordJournalRotation(len(j.hot))
	return nil
}

// marshalSegment encodes a run of events as newline-delimited JSON, the
// cold-segment bytes stored in the CAS under their sha256; the cold
// refs only list those hashes and id ranges.
func marshalSegment(events []Event) ([]byte, error) {
	var buf []byte
	for _, e := range events {
		line, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return buf, nil
}

// Iter returns, in ascending id order, every event with id >= fromID,
// reading cold segments first and then the hot tail. It materializes
// eagerly; callers wanting a lazy sequence should page by fromID.
func (j *Journal) Iter(fromID uint64) ([]Event, error) {
	j.mu.Lock()
	refs := append([]ColdRef(nil), j.coldRefs...)
	hot := append([]Event(nil), j.hot...)
	j.mu.Unlock()

	var out []Event
	for _, ref := range refs {
		if ref.LastID < fromID {
			continue
		}
		segment, err := j.readCold(ref)
		if err != nil {
			return nil, err
		}
		for _, e := range segment {
			if e.ID >= fromID {
				out = append(out, e)
			}
		}
	}
	for _, e := range hot {
		if e.ID >= fromID {
			out = append(out, e)
		}
	}
	return out, nil
}

// readCold fetches and verifies one cold segment, returning
// kernelerr.JournalCorrupt on a CAS hash mismatch or missing blob.
func (j *Journal) readCold(ref ColdRef) ([]Event, error) {
	buf, err := j.store.Get(ref.Digest)
	if err != nil {
		return nil, kernelerr.JournalCorrupt(ref.Digest)
	}
	var events []Event
	dec := json.NewDecoder(bytes.NewReader(buf))
	for {
		var e Event
		if err := dec.Decode(&e); err != nil {
			break
		}
		events = append(events, e)
	}
	if len(events) != ref.Lines {
		return nil, kernelerr.JournalCorrupt(ref.Digest)
	}
	return events, nil
}

// Collect returns the full concatenated view (cold refs then hot tail)
// for worldID — the journal currently holds one world per instance, so
// worldID is accepted for API symmetry with spec.md §4.2 and ignored.
func (j *Journal) Collect(worldID string) ([]Event, error) {
	_ = worldID
	return j.Iter(0)
}

// ColdRefs returns a copy of the cold segment reference list.
func (j *Journal) ColdRefs() []ColdRef {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]ColdRef(nil), j.coldRefs...)
}

// NextID reports the id that will be assigned to the next appended event.
func (j *Journal) NextID() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.nextID
}

// Len returns the total number of events ever appended (hot + cold).
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := len(j.hot)
	for _, r := range j.coldRefs {
		n += r.Lines
	}
	return n
}

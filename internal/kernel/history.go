package kernel

import (
	"encoding/json"

	"github.com/agentworld/worldkernel/internal/journal"
)

// History returns the journaled events whose body names agentID in an
// agent_id, actor_id or owner_id field, plus events caused by an action
// of agentID that is still pending — a read-only convenience query in
// the spirit of the teacher's store Get* helpers. Actions already
// processed by Step are no longer pending, so their events (such as an
// ActionRejected) are returned only when the body itself names agentID.
func (k *Kernel) History(agentID string) ([]journal.Event, error) {
	all, err := k.journal.Collect("")
	if err != nil {
		return nil, err
	}

	actorActions := make(map[uint64]bool)
	k.mu.Lock()
	for _, a := range k.pending {
		if a.ActorID == agentID {
			actorActions[a.ActionID] = true
		}
	}
	k.mu.Unlock()

	var out []journal.Event
	for _, e := range all {
		if e.Cause.Kind == journal.CauseAction && actorActions[e.Cause.ActionID] {
			out = append(out, e)
			continue
		}
		if mentionsAgent(e.Body, agentID) {
			out = append(out, e)
		}
	}
	return out, nil
}

// mentionsAgent does a shallow structural check for agentID appearing
// as a recognizable field value in an event body; typed bodies are
// checked through their JSON field names.
func mentionsAgent(body any, agentID string) bool {
	m, ok := body.(map[string]any)
	if !ok {
		raw, err := json.Marshal(body)
		if err != nil || json.Unmarshal(raw, &m) != nil {
			return false
		}
	}
	for _, key := range []string{"agent_id", "actor_id", "owner_id"} {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok && s == agentID {
				return true
			}
		}
	}
	return false
}

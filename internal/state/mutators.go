package state

import (
	"fmt"
	"sort"

	"github.com/agentworld/worldkernel/internal/kernelerr"
)

// AgentRegistered is the Domain event body for RegisterAgent.
type AgentRegistered struct {
	AgentID string `json:"agent_id"`
	Pos     Vec3   `json:"pos"`
}

// RegisterAgent creates a new Agent at pos with empty resources and
// idle power. It is total: on success it returns the new World and one
// AgentRegistered event; on a duplicate id it returns a RuleDenied
// error rather than panicking.
func RegisterAgent(w World, agentID string, pos Vec3, locationID string) (World, []DomainEvent, error) {
	if agentID == "" {
		return w, nil, kernelerr.InvalidAmount("agent id must not be empty")
	}
	if _, exists := w.Agents[agentID]; exists {
		return w, nil, kernelerr.RuleDenied(fmt.Sprintf("agent %q already registered", agentID))
	}
	if !isFiniteAll(pos) {
		return w, nil, kernelerr.InvalidAmount("agent position must be finite")
	}
	if locationID != "" {
		if _, ok := w.Locations[locationID]; !ok {
			return w, nil, kernelerr.LocationNotFound(locationID)
		}
	}
	if w.Bounds != nil && !w.Bounds.Contains(pos) {
		return w, nil, kernelerr.InvalidAmount("agent position outside declared space bounds")
	}

	next := w.Clone()
	next.Agents[agentID] = Agent{
		ID:         agentID,
		Pos:        pos,
		LocationID: locationID,
		Resources:  make(map[ResourceKind]int64),
		Power:      Power{State: PowerIdle},
	}
	return next, []DomainEvent{{Kind: "AgentRegistered", Body: AgentRegistered{AgentID: agentID, Pos: pos}}}, nil
}

// LocationRegistered is the Domain event body for RegisterLocation.
type LocationRegistered struct {
	LocationID string `json:"location_id"`
}

// RegisterLocation creates a new Location.
func RegisterLocation(w World, locationID, name string, pos Vec3, profile LocationProfile) (World, []DomainEvent, error) {
	if locationID == "" {
		return w, nil, kernelerr.InvalidAmount("location id must not be empty")
	}
	if _, exists := w.Locations[locationID]; exists {
		return w, nil, kernelerr.RuleDenied(fmt.Sprintf("location %q already registered", locationID))
	}
	if !isFiniteAll(pos) {
		return w, nil, kernelerr.InvalidAmount("location position must be finite")
	}

	next := w.Clone()
	next.Locations[locationID] = Location{
		ID:        locationID,
		Name:      name,
		Pos:       pos,
		Profile:   profile,
		Resources: make(map[ResourceKind]int64),
	}
	return next, []DomainEvent{{Kind: "LocationRegistered", Body: LocationRegistered{LocationID: locationID}}}, nil
}

// AgentMoved is the Domain event body for MoveAgent.
type AgentMoved struct {
	AgentID string `json:"agent_id"`
	From    Vec3   `json:"from"`
	To      Vec3   `json:"to"`
}

// MoveAgent relocates an existing agent to a new position.
func MoveAgent(w World, agentID string, to Vec3) (World, []DomainEvent, error) {
	agent, ok := w.Agents[agentID]
	if !ok {
		return w, nil, kernelerr.AgentNotFound(agentID)
	}
	if !isFiniteAll(to) {
		return w, nil, kernelerr.InvalidAmount("agent position must be finite")
	}
	if w.Bounds != nil && !w.Bounds.Contains(to) {
		return w, nil, kernelerr.InvalidAmount("agent position outside declared space bounds")
	}

	from := agent.Pos
	next := w.Clone()
	moved := next.Agents[agentID]
	moved.Pos = to
	next.Agents[agentID] = moved
	return next, []DomainEvent{{Kind: "AgentMoved", Body: AgentMoved{AgentID: agentID, From: from, To: to}}}, nil
}

// ResourceAdjusted is the Domain event body for AdjustAgentResource.
type ResourceAdjusted struct {
	AgentID string       `json:"agent_id"`
	Kind    ResourceKind `json:"kind"`
	Delta   int64        `json:"delta"`
	NewAmount int64      `json:"new_amount"`
}

// AdjustAgentResource adds delta (positive or negative) to an agent's
// resource balance, rejecting the mutation if it would go negative.
func AdjustAgentResource(w World, agentID string, kind ResourceKind, delta int64) (World, []DomainEvent, error) {
	agent, ok := w.Agents[agentID]
	if !ok {
		return w, nil, kernelerr.AgentNotFound(agentID)
	}
	current := agent.Resources[kind]
	newAmount := current + delta
	if newAmount < 0 {
		return w, nil, kernelerr.InsufficientResource(agentID, string(kind), -delta, current)
	}

	next := w.Clone()
	a := next.Agents[agentID]
	if a.Resources == nil {
		a.Resources = make(map[ResourceKind]int64)
	}
	a.Resources[kind] = newAmount
	next.Agents[agentID] = a
	return next, []DomainEvent{{Kind: "ResourceAdjusted", Body: ResourceAdjusted{
		AgentID: agentID, Kind: kind, Delta: delta, NewAmount: newAmount,
	}}}, nil
}

// AssetCreated is the Domain event body for CreateAsset.
type AssetCreated struct {
	AssetID string `json:"asset_id"`
}

// CreateAsset creates an Asset owned by an existing Agent or Location.
func CreateAsset(w World, assetID, kind string, quantity int64, owner Owner) (World, []DomainEvent, error) {
	if assetID == "" {
		return w, nil, kernelerr.InvalidAmount("asset id must not be empty")
	}
	if _, exists := w.Assets[assetID]; exists {
		return w, nil, kernelerr.RuleDenied(fmt.Sprintf("asset %q already exists", assetID))
	}
	if quantity < 0 {
		return w, nil, kernelerr.InvalidAmount("asset quantity must be >= 0")
	}
	switch owner.Kind {
	case OwnerAgent:
		if _, ok := w.Agents[owner.ID]; !ok {
			return w, nil, kernelerr.AgentNotFound(owner.ID)
		}
	case OwnerLocation:
		if _, ok := w.Locations[owner.ID]; !ok {
			return w, nil, kernelerr.LocationNotFound(owner.ID)
		}
	default:
		return w, nil, kernelerr.InvalidAmount("unknown asset owner kind")
	}

	next := w.Clone()
	next.Assets[assetID] = Asset{ID: assetID, Kind: kind, Quantity: quantity, Owner: owner}
	return next, []DomainEvent{{Kind: "AssetCreated", Body: AssetCreated{AssetID: assetID}}}, nil
}

// AssetDestroyed is the Domain event body for DestroyAsset and for
// cascaded destructions triggered by owner removal.
type AssetDestroyed struct {
	AssetID string `json:"asset_id"`
	Cause   string `json:"cause"`
}

// DestroyAsset removes an existing asset.
func DestroyAsset(w World, assetID string) (World, []DomainEvent, error) {
	if _, ok := w.Assets[assetID]; !ok {
		return w, nil, kernelerr.InvalidAmount(fmt.Sprintf("asset %q not found", assetID))
	}
	next := w.Clone()
	delete(next.Assets, assetID)
	return next, []DomainEvent{{Kind: "AssetDestroyed", Body: AssetDestroyed{AssetID: assetID, Cause: "explicit"}}}, nil
}

// AgentDestroyed is the Domain event body for DestroyAgent.
type AgentDestroyed struct {
	AgentID string `json:"agent_id"`
}

// DestroyAgent removes an agent and cascades destruction to every
// asset it owns, each producing its own AssetDestroyed event (cause
// "owner_destroyed", in ascending asset id order) ahead of the
// AgentDestroyed event, matching the spec's cascade invariant for owner
// removal.
func DestroyAgent(w World, agentID string) (World, []DomainEvent, error) {
	if _, ok := w.Agents[agentID]; !ok {
		return w, nil, kernelerr.AgentNotFound(agentID)
	}
	next := w.Clone()
	var owned []string
	for id, asset := range next.Assets {
		if asset.Owner.Kind == OwnerAgent && asset.Owner.ID == agentID {
			owned = append(owned, id)
		}
	}
	sort.Strings(owned)
	var events []DomainEvent
	for _, id := range owned {
		delete(next.Assets, id)
		events = append(events, DomainEvent{Kind: "AssetDestroyed", Body: AssetDestroyed{AssetID: id, Cause: "owner_destroyed"}})
	}
	delete(next.Agents, agentID)
	events = append(events, DomainEvent{Kind: "AgentDestroyed", Body: AgentDestroyed{AgentID: agentID}})
	return next, events, nil
}

// FacilityCreated is the Domain event body for CreateFacility.
type FacilityCreated struct {
	FacilityID string `json:"facility_id"`
}

// CreateFacility creates a Facility bound to an existing Location.
func CreateFacility(w World, facilityID, locationID, kind string, output, capacity, efficiency float64) (World, []DomainEvent, error) {
	if _, exists := w.Facilities[facilityID]; exists {
		return w, nil, kernelerr.FacilityAlreadyExists(facilityID)
	}
	if _, ok := w.Locations[locationID]; !ok {
		return w, nil, kernelerr.LocationNotFound(locationID)
	}
	next := w.Clone()
	next.Facilities[facilityID] = Facility{
		ID: facilityID, LocationID: locationID, Kind: kind,
		Output: output, Capacity: capacity, Efficiency: efficiency,
	}
	return next, []DomainEvent{{Kind: "FacilityCreated", Body: FacilityCreated{FacilityID: facilityID}}}, nil
}

// ChunkStatusChanged is the Domain event body for chunk lifecycle
// transitions (generate/exhaust).
type ChunkStatusChanged struct {
	Coord  ChunkCoord      `json:"coord"`
	Status ChunkStatus     `json:"status"`
	Cause  GenerationCause `json:"cause"`
}

// GenerateChunk transitions a chunk from Unexplored to Generated,
// seeding its element budget. cause is an opaque tag (spec.md §9(ii)).
func GenerateChunk(w World, coord ChunkCoord, budget map[ElementKind]int64, cause GenerationCause) (World, []DomainEvent, error) {
	if existing, ok := w.Chunks[coord]; ok && existing.Status != ChunkUnexplored {
		return w, nil, kernelerr.RuleDenied("chunk already generated")
	}
	next := w.Clone()
	total := cloneElementMap(budget)
	remaining := cloneElementMap(budget)
	next.Chunks[coord] = Chunk{Coord: coord, Status: ChunkGenerated, Cause: cause, Total: total, Remaining: remaining}
	return next, []DomainEvent{{Kind: "ChunkStatusChanged", Body: ChunkStatusChanged{Coord: coord, Status: ChunkGenerated, Cause: cause}}}, nil
}

// ExtractChunkElement debits an element from a chunk's remaining
// budget, marking it Exhausted if every element reaches zero.
func ExtractChunkElement(w World, coord ChunkCoord, kind ElementKind, amount int64) (World, []DomainEvent, error) {
	chunk, ok := w.Chunks[coord]
	if !ok || chunk.Status != ChunkGenerated {
		return w, nil, kernelerr.RuleDenied("chunk is not in Generated status")
	}
	if amount <= 0 {
		return w, nil, kernelerr.InvalidAmount("extraction amount must be positive")
	}
	remaining := chunk.Remaining[kind]
	if remaining < amount {
		return w, nil, kernelerr.InsufficientResource(fmt.Sprintf("chunk:%d,%d,%d", coord.X, coord.Y, coord.Z), string(kind), amount, remaining)
	}

	next := w.Clone()
	c := next.Chunks[coord]
	c.Remaining[kind] = remaining - amount
	exhausted := true
	for _, v := range c.Remaining {
		if v > 0 {
			exhausted = false
			break
		}
	}
	events := []DomainEvent{}
	if exhausted {
		c.Status = ChunkExhausted
		events = append(events, DomainEvent{Kind: "ChunkStatusChanged", Body: ChunkStatusChanged{Coord: coord, Status: ChunkExhausted, Cause: "depleted"}})
	}
	next.Chunks[coord] = c
	return next, events, nil
}

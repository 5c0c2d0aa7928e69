package kernel

import (
	"github.com/agentworld/worldkernel/internal/kernelerr"
	"github.com/agentworld/worldkernel/internal/state"
)

// BuiltinReducerFunc performs the "apply" step of spec.md §4.4 step 3
// for one action_kind: given the resolved action, it returns the new
// World plus any Domain(...) events, or an error describing rejection.
type BuiltinReducerFunc func(w state.World, a Action) (state.World, []state.DomainEvent, error)

// builtinReducers is the kernel's fixed dispatch table from
// action_kind to its apply-step reducer. Domain/gameplay reducers
// beyond these (alliance, war, governance-vote bookkeeping) are
// explicitly out of scope per spec.md §1 ("opaque domain reducers");
// callers needing them register additional entries via
// Kernel.RegisterBuiltinReducer.
var defaultBuiltinReducers = map[string]BuiltinReducerFunc{
	"register_agent": func(w state.World, a Action) (state.World, []state.DomainEvent, error) {
		agentID, err := fieldString(a.Payload, "agent_id")
		if err != nil {
			return w, nil, err
		}
		pos, err := posFromPayload(a.Payload)
		if err != nil {
			return w, nil, err
		}
		locationID := fieldStringOpt(a.Payload, "location_id")
		return state.RegisterAgent(w, agentID, pos, locationID)
	},
	"register_location": func(w state.World, a Action) (state.World, []state.DomainEvent, error) {
		locationID, err := fieldString(a.Payload, "location_id")
		if err != nil {
			return w, nil, err
		}
		name := fieldStringOpt(a.Payload, "name")
		pos, err := posFromPayload(a.Payload)
		if err != nil {
			return w, nil, err
		}
		return state.RegisterLocation(w, locationID, name, pos, state.LocationProfile{})
	},
	"move_agent": func(w state.World, a Action) (state.World, []state.DomainEvent, error) {
		agentID, err := fieldString(a.Payload, "agent_id")
		if err != nil {
			return w, nil, err
		}
		pos, err := posFromPayload(a.Payload)
		if err != nil {
			return w, nil, err
		}
		return state.MoveAgent(w, agentID, pos)
	},
	"adjust_resource": func(w state.World, a Action) (state.World, []state.DomainEvent, error) {
		agentID, err := fieldString(a.Payload, "agent_id")
		if err != nil {
			return w, nil, err
		}
		kind, err := fieldString(a.Payload, "kind")
		if err != nil {
			return w, nil, err
		}
		delta, err := fieldInt(a.Payload, "delta")
		if err != nil {
			return w, nil, err
		}
		return state.AdjustAgentResource(w, agentID, state.ResourceKind(kind), delta)
	},
	"create_asset": func(w state.World, a Action) (state.World, []state.DomainEvent, error) {
		assetID, err := fieldString(a.Payload, "asset_id")
		if err != nil {
			return w, nil, err
		}
		kind, err := fieldString(a.Payload, "kind")
		if err != nil {
			return w, nil, err
		}
		quantity, err := fieldInt(a.Payload, "quantity")
		if err != nil {
			return w, nil, err
		}
		ownerKindStr, err := fieldString(a.Payload, "owner_kind")
		if err != nil {
			return w, nil, err
		}
		ownerID, err := fieldString(a.Payload, "owner_id")
		if err != nil {
			return w, nil, err
		}
		var ownerKind state.OwnerKind
		switch ownerKindStr {
		case "agent":
			ownerKind = state.OwnerAgent
		case "location":
			ownerKind = state.OwnerLocation
		default:
			return w, nil, kernelerr.InvalidAmount("owner_kind must be agent or location")
		}
		return state.CreateAsset(w, assetID, kind, quantity, state.Owner{Kind: ownerKind, ID: ownerID})
	},
	"destroy_asset": func(w state.World, a Action) (state.World, []state.DomainEvent, error) {
		assetID, err := fieldString(a.Payload, "asset_id")
		if err != nil {
			return w, nil, err
		}
		return state.DestroyAsset(w, assetID)
	},
	"destroy_agent": func(w state.World, a Action) (state.World, []state.DomainEvent, error) {
		agentID, err := fieldString(a.Payload, "agent_id")
		if err != nil {
			return w, nil, err
		}
		return state.DestroyAgent(w, agentID)
	},
	"create_facility": func(w state.World, a Action) (state.World, []state.DomainEvent, error) {
		facilityID, err := fieldString(a.Payload, "facility_id")
		if err != nil {
			return w, nil, err
		}
		locationID, err := fieldString(a.Payload, "location_id")
		if err != nil {
			return w, nil, err
		}
		kind, err := fieldString(a.Payload, "kind")
		if err != nil {
			return w, nil, err
		}
		output, _ := fieldFloat(a.Payload, "output")
		capacity, _ := fieldFloat(a.Payload, "capacity")
		efficiency, _ := fieldFloat(a.Payload, "efficiency")
		return state.CreateFacility(w, facilityID, locationID, kind, output, capacity, efficiency)
	},
}

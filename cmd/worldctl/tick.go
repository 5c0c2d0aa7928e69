package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/agentworld/worldkernel/internal/codec"
)

// pendingAction is the JSONL wire shape worldctl reads actions from:
// one object per line, matching kernel.SubmitAction's parameters.
type pendingAction struct {
	ActorID     string          `json:"actor_id"`
	ActionKind  string          `json:"action_kind"`
	Payload     json.RawMessage `json:"payload"`
	Nonce       uint64          `json:"nonce"`
	TimestampMs int64           `json:"timestamp_ms"`
	Signature   *string         `json:"signature,omitempty"`
}

// handleTick submits every action in --actions (if given) and then
// advances the world by exactly one tick, persisting the result.
func handleTick(ctx context.Context, dir string, args []string) error {
	fs := flag.NewFlagSet("tick", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	actionsPath := fs.String("actions", "", "Path to a JSONL file of pending actions to submit before stepping")
	if err := fs.Parse(args); err != nil {
		return err
	}

	w, err := openWorld(dir)
	if err != nil {
		return err
	}

	submitted := 0
	if *actionsPath != "" {
		err := readJSONLines(*actionsPath, func(line []byte) error {
			var pa pendingAction
			if err := json.Unmarshal(line, &pa); err != nil {
				return err
			}
			payload, err := decodePayload(pa.Payload)
			if err != nil {
				return err
			}
			w.kernel.SubmitAction(pa.ActorID, pa.ActionKind, payload, pa.Nonce, pa.TimestampMs, pa.Signature)
			submitted++
			return nil
		})
		if err != nil {
			return err
		}
	}

	beforeID := w.journal.NextID()
	if err := w.kernel.Step(); err != nil {
		return fmt.Errorf("worldctl: stepping: %w", err)
	}

	events, err := w.journal.Iter(beforeID)
	if err != nil {
		return fmt.Errorf("worldctl: reading new events: %w", err)
	}

	if _, err := w.persist(); err != nil {
		return err
	}

	st := w.kernel.State()
	fmt.Println("tick ok")
	fmt.Printf("  submitted:  %d\n", submitted)
	fmt.Printf("  time:       %d\n", st.Time)
	fmt.Printf("  new_events: %d\n", len(events))
	for _, e := range events {
		fmt.Printf("    #%d %s\n", e.ID, e.Kind)
	}
	return nil
}

// decodePayload turns a raw JSON action payload into a codec.Value
// tree, the schemaless wire form kernel.Action.Payload expects.
func decodePayload(raw json.RawMessage) (codec.Value, error) {
	if len(raw) == 0 {
		return codec.Null(), nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return codec.Value{}, fmt.Errorf("worldctl: decoding action payload: %w", err)
	}
	return jsonToValue(v), nil
}

// jsonToValue adapts a JSON-decoded generic value (map[string]any,
// []any, string, float64, bool, nil) into a codec.Value.
func jsonToValue(v any) codec.Value {
	switch t := v.(type) {
	case nil:
		return codec.Null()
	case bool:
		return codec.BoolValue(t)
	case float64:
		return codec.FloatValue(t)
	case string:
		return codec.StringValue(t)
	case []any:
		arr := make([]codec.Value, len(t))
		for i, e := range t {
			arr[i] = jsonToValue(e)
		}
		return codec.ArrayValue(arr)
	case map[string]any:
		obj := make(map[string]codec.Value, len(t))
		for k, e := range t {
			obj[k] = jsonToValue(e)
		}
		return codec.ObjectValue(obj)
	default:
		return codec.Null()
	}
}

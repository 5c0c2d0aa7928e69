package kernel

import (
	"fmt"

	"github.com/agentworld/worldkernel/internal/codec"
	"github.com/agentworld/worldkernel/internal/kernelerr"
	"github.com/agentworld/worldkernel/internal/state"
)

// field extracts a named field from a codec.Value object payload,
// returning a validation error (not a panic) if the payload isn't an
// object or the field is absent.
func field(v codec.Value, key string) (codec.Value, error) {
	if v.Kind != codec.KindObject {
		return codec.Value{}, kernelerr.InvalidAmount("payload must be an object")
	}
	f, ok := v.Object[key]
	if !ok {
		return codec.Value{}, kernelerr.InvalidAmount(fmt.Sprintf("payload missing field %q", key))
	}
	return f, nil
}

func fieldString(v codec.Value, key string) (string, error) {
	f, err := field(v, key)
	if err != nil {
		return "", err
	}
	if f.Kind != codec.KindString {
		return "", kernelerr.InvalidAmount(fmt.Sprintf("field %q must be a string", key))
	}
	return f.String, nil
}

func fieldStringOpt(v codec.Value, key string) string {
	if v.Kind != codec.KindObject {
		return ""
	}
	f, ok := v.Object[key]
	if !ok || f.Kind != codec.KindString {
		return ""
	}
	return f.String
}

func fieldFloat(v codec.Value, key string) (float64, error) {
	f, err := field(v, key)
	if err != nil {
		return 0, err
	}
	switch f.Kind {
	case codec.KindFloat:
		return f.Float, nil
	case codec.KindInt:
		return float64(f.Int), nil
	default:
		return 0, kernelerr.InvalidAmount(fmt.Sprintf("field %q must be numeric", key))
	}
}

func fieldInt(v codec.Value, key string) (int64, error) {
	f, err := field(v, key)
	if err != nil {
		return 0, err
	}
	switch f.Kind {
	case codec.KindInt:
		return f.Int, nil
	case codec.KindFloat:
		return int64(f.Float), nil
	default:
		return 0, kernelerr.InvalidAmount(fmt.Sprintf("field %q must be an integer", key))
	}
}

// posFromPayload reads {x_cm,y_cm,z_cm} (or a nested "pos" object) into
// a state.Vec3.
func posFromPayload(v codec.Value) (state.Vec3, error) {
	p := v
	if nested, err := field(v, "pos"); err == nil {
		p = nested
	}
	x, err := fieldFloat(p, "x_cm")
	if err != nil {
		return state.Vec3{}, err
	}
	y, err := fieldFloat(p, "y_cm")
	if err != nil {
		return state.Vec3{}, err
	}
	z, err := fieldFloat(p, "z_cm")
	if err != nil {
		return state.Vec3{}, err
	}
	return state.Vec3{XCm: x, YCm: y, ZCm: z}, nil
}

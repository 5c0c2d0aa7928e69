// Package codec provides the canonical encoding and hashing primitives
// every other world-kernel package builds on: deterministic CBOR
// encoding with sorted map keys, blake3 digests for state/snapshot/
// block identity, and sha256 digests for artifact identity. The two
// hash families are never interchangeable — callers ask for one or the
// other by name, never a generic "hash".
package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

var canonicalEncMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	opts.Sort = cbor.SortCanonical
	opts.Time = cbor.TimeUnix
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: building canonical CBOR mode: %v", err))
	}
	return mode
}

// Encode produces the canonical CBOR byte representation of v. For any
// two values that compare equal under the model's equality, Encode
// produces byte-identical output: map keys sort canonically, and
// structs must not embed NaN floats (see Value.Validate).
func Encode(v any) ([]byte, error) {
	b, err := canonicalEncMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: canonical encode: %w", err)
	}
	return b, nil
}

// Decode unmarshals canonical CBOR bytes into v.
func Decode(b []byte, v any) error {
	if err := cbor.Unmarshal(b, v); err != nil {
		return fmt.Errorf("codec: canonical decode: %w", err)
	}
	return nil
}

// HashState returns the blake3 hex digest of v's canonical encoding.
// Used for World state, Snapshot, and sequencer block/state-root
// hashing — never for artifact identity.
func HashState(v any) (string, error) {
	b, err := Encode(v)
	if err != nil {
		return "", err
	}
	return HashStateBytes(b), nil
}

// HashStateBytes returns the blake3 hex digest of already-encoded bytes.
func HashStateBytes(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashArtifact returns the sha256 hex digest of raw bytes. Used for
// module wasm_hash and other CAS artifact identity — never for state
// hashing.
func HashArtifact(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashArtifactValue canonically encodes v and returns its sha256 hex
// digest, for artifact-identity hashing of structured values (e.g. an
// ArtifactIdentity tuple) rather than raw blobs.
func HashArtifactValue(v any) (string, error) {
	b, err := Encode(v)
	if err != nil {
		return "", err
	}
	return HashArtifact(b), nil
}

// Kind is the tag of a schemaless Value, per spec.md §9.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindObject
)

// Value is the tagged dynamic-typing variant used for action payloads,
// module I/O, and effect intent params: Null | Bool | Int | Float |
// String | Array | Object. It encodes to canonical CBOR as the plain
// CBOR type it wraps, with sorted object keys, and rejects NaN/Inf
// floats, matching the spec's ban on NaN in state. There is no decoder
// back into a Value.
type Value struct {
	Kind    Kind
	Bool    bool
	Int     int64
	Float   float64
	String  string
	Array   []Value
	Object  map[string]Value
}

// Null returns the null Value.
func Null() Value { return Value{Kind: KindNull} }

// BoolValue wraps a boolean.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// IntValue wraps an integer.
func IntValue(i int64) Value { return Value{Kind: KindInt, Int: i} }

// FloatValue wraps a float64; NaN/Inf are rejected by Validate, not by
// the constructor, so callers can build a Value before validating a
// whole tree.
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{Kind: KindString, String: s} }

// ArrayValue wraps an ordered list of values.
func ArrayValue(vs []Value) Value { return Value{Kind: KindArray, Array: vs} }

// ObjectValue wraps a key-value map.
func ObjectValue(m map[string]Value) Value { return Value{Kind: KindObject, Object: m} }

// Validate walks the Value tree and rejects any NaN or infinite float,
// per the spec's state-encodability contract.
func (v Value) Validate() error {
	switch v.Kind {
	case KindFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return fmt.Errorf("codec: NaN/Inf float is forbidden in state")
		}
	case KindArray:
		for _, e := range v.Array {
			if err := e.Validate(); err != nil {
				return err
			}
		}
	case KindObject:
		for _, e := range v.Object {
			if err := e.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// sortedKeys returns the Object's keys in canonical (sorted) order, for
// callers that need deterministic iteration outside of CBOR encoding
// (e.g. building a canonical []byte by hand, or JSON debug dumps).
func (v Value) sortedKeys() []string {
	keys := make([]string, 0, len(v.Object))
	for k := range v.Object {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalCBOR implements cbor.Marshaler so a Value always serializes as
// its underlying Go type rather than as the struct's fields, keeping
// the wire form a plain CBOR null/bool/int/float/string/array/map.
func (v Value) MarshalCBOR() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return canonicalEncMode.Marshal(nil)
	case KindBool:
		return canonicalEncMode.Marshal(v.Bool)
	case KindInt:
		return canonicalEncMode.Marshal(v.Int)
	case KindFloat:
		if err := v.Validate(); err != nil {
			return nil, err
		}
		return canonicalEncMode.Marshal(v.Float)
	case KindString:
		return canonicalEncMode.Marshal(v.String)
	case KindArray:
		return canonicalEncMode.Marshal(v.Array)
	case KindObject:
		keys := v.sortedKeys()
		ordered := make([]cbor.RawMessage, 0, len(keys)*2)
		for _, k := range keys {
			kb, err := canonicalEncMode.Marshal(k)
			if err != nil {
				return nil, err
			}
			vb, err := v.Object[k].MarshalCBOR()
			if err != nil {
				return nil, err
			}
			ordered = append(ordered, kb, vb)
		}
		return marshalMapPairs(ordered)
	default:
		return nil, fmt.Errorf("codec: unknown Value kind %d", v.Kind)
	}
}

// marshalMapPairs assembles a CBOR map header followed by the
// already-encoded, canonically-ordered key/value byte pairs.
func marshalMapPairs(pairs []cbor.RawMessage) ([]byte, error) {
	n := len(pairs) / 2
	out := encodeMapHeader(n)
	for _, p := range pairs {
		out = append(out, p...)
	}
	return out, nil
}

// encodeMapHeader writes a CBOR major-type-5 (map) header for n pairs.
func encodeMapHeader(n int) []byte {
	switch {
	case n < 24:
		return []byte{0xA0 | byte(n)}
	case n < 256:
		return []byte{0xB8, byte(n)}
	default:
		return []byte{0xB9, byte(n >> 8), byte(n)}
	}
}

package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeIsDeterministicAcrossMapKeyOrder(t *testing.T) {
	type payload struct {
		B int `cbor:"b"`
		A int `cbor:"a"`
	}
	b1, err := Encode(payload{A: 1, B: 2})
	require.NoError(t, err)
	b2, err := Encode(map[string]int{"b": 2, "a": 1})
	require.NoError(t, err)
	require.NotEmpty(t, b1)
	require.NotEmpty(t, b2)
	require.Equal(t, b1, b2)
}

func TestEncodeDecodeRoundtrips(t *testing.T) {
	type payload struct {
		Name string `cbor:"name"`
		N    int64  `cbor:"n"`
	}
	in := payload{Name: "hello", N: 42}
	b, err := Encode(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, Decode(b, &out))
	require.Equal(t, in, out)
}

func TestHashStateIsDeterministic(t *testing.T) {
	v := map[string]int{"x": 1, "y": 2}
	h1, err := HashState(v)
	require.NoError(t, err)
	h2, err := HashState(v)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Len(t, h1, 64)
}

func TestHashStateDiffersOnDifferentInput(t *testing.T) {
	h1, err := HashState(map[string]int{"x": 1})
	require.NoError(t, err)
	h2, err := HashState(map[string]int{"x": 2})
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestHashArtifactMatchesSha256OfRawBytes(t *testing.T) {
	h := HashArtifact([]byte("hello world"))
	require.Len(t, h, 64)
	require.Equal(t, h, HashArtifact([]byte("hello world")))
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", h)
}

func TestHashArtifactAndHashStateBytesDiffer(t *testing.T) {
	b := []byte("same input")
	require.NotEqual(t, HashArtifact(b), HashStateBytes(b))
}

func TestHashArtifactValueEncodesThenHashes(t *testing.T) {
	h1, err := HashArtifactValue(map[string]int{"a": 1})
	require.NoError(t, err)
	b, err := Encode(map[string]int{"a": 1})
	require.NoError(t, err)
	require.Equal(t, HashArtifact(b), h1)
}

func TestValueValidateRejectsNaNFloat(t *testing.T) {
	v := ObjectValue(map[string]Value{
		"x": FloatValue(nan()),
	})
	require.Error(t, v.Validate())
}

func TestValueValidateRejectsInfInArray(t *testing.T) {
	v := ArrayValue([]Value{FloatValue(inf())})
	require.Error(t, v.Validate())
}

func TestValueValidateAcceptsFiniteTree(t *testing.T) {
	v := ObjectValue(map[string]Value{
		"n":    IntValue(1),
		"s":    StringValue("ok"),
		"b":    BoolValue(true),
		"nil":  Null(),
		"list": ArrayValue([]Value{FloatValue(1.5), IntValue(2)}),
	})
	require.NoError(t, v.Validate())
}

func TestValueMarshalCBORProducesPlainTypes(t *testing.T) {
	v := ObjectValue(map[string]Value{
		"a": IntValue(1),
		"b": StringValue("two"),
	})
	b, err := Encode(v)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, Decode(b, &out))
	require.EqualValues(t, 1, out["a"])
	require.Equal(t, "two", out["b"])
}

func TestValueMarshalCBORRejectsNaNFloat(t *testing.T) {
	v := FloatValue(nan())
	_, err := Encode(v)
	require.Error(t, err)
}

func TestValueObjectKeysEncodeInSortedOrder(t *testing.T) {
	v := ObjectValue(map[string]Value{
		"z": IntValue(1),
		"a": IntValue(2),
		"m": IntValue(3),
	})
	b, err := Encode(v)
	require.NoError(t, err)
	require.NotEmpty(t, b)

	want, err := Encode(map[string]int{"z": 1, "a": 2, "m": 3})
	require.NoError(t, err)
	require.Equal(t, want, b)
}

func nan() float64 {
	var zero float64
	return zero / zero
}

func inf() float64 {
	var zero float64
	one := zero + 1
	return one / zero
}

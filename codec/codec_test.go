package codec

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/router-for-me/duplexrpc/rpcerr"
)

func encodeFrame(t *testing.T, c *Codec, env *Envelope) []byte {
	t.Helper()
	out, err := c.Encode(env)
	require.NoError(t, err)
	frame, ok := out.([]byte)
	require.True(t, ok, "string codec must produce bytes")
	return frame
}

func TestCompactRoundTrip(t *testing.T) {
	c := New(VersionCompact, false)
	env := &Envelope{
		ID:     "00000001-00000002-00000003-00000004",
		Method: "math.add",
		Args:   []any{float64(2), float64(3), "x", true, nil, map[string]any{"k": []any{float64(1)}}},
		Type:   KindRequest,
	}
	frame := encodeFrame(t, c, env)
	assert.Equal(t, byte('\n'), frame[len(frame)-1])

	got, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, env.Method, got.Method)
	assert.Equal(t, KindRequest, got.Type)
	assert.Equal(t, VersionCompact, got.Version)
	assert.Equal(t, env.Args, got.Args)
}

func TestCompactRejectsRichScalars(t *testing.T) {
	c := New(VersionCompact, false)
	for name, v := range map[string]any{
		"date":   time.Now(),
		"bigint": big.NewInt(7),
		"bytes":  []byte{1, 2},
		"set":    Set{1},
		"omap":   OrderedMap{{Key: "a", Value: 1}},
	} {
		_, err := c.Encode(&Envelope{ID: "i", Type: KindRequest, Args: []any{v}})
		assert.True(t, rpcerr.IsCode(err, rpcerr.CodeEncode), "%s should not encode in compact mode", name)
	}
}

func TestCompactCollapsesUndefined(t *testing.T) {
	c := New(VersionCompact, false)
	frame := encodeFrame(t, c, &Envelope{ID: "i", Type: KindRequest, Args: []any{Undef}})
	got, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, []any{nil}, got.Args)
}

func TestRichRoundTrip(t *testing.T) {
	c := New(VersionRich, false)
	when := time.Date(2025, 6, 1, 12, 30, 0, 123456789, time.UTC)
	n, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	env := &Envelope{
		ID:   "i",
		Type: KindRequest,
		Args: []any{
			when,
			n,
			[]byte("raw bytes"),
			Set{float64(1), "two"},
			OrderedMap{{Key: "b", Value: float64(2)}, {Key: "a", Value: float64(1)}},
			Undef,
			map[string]any{"nested": when, "dot.key": Undef},
		},
	}
	frame := encodeFrame(t, c, env)

	got, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, VersionRich, got.Version)
	args, ok := got.Args.([]any)
	require.True(t, ok)
	require.Len(t, args, 7)

	assert.True(t, when.Equal(args[0].(time.Time)))
	assert.Zero(t, n.Cmp(args[1].(*big.Int)))
	assert.Equal(t, []byte("raw bytes"), args[2])
	assert.Equal(t, Set{float64(1), "two"}, args[3])
	assert.Equal(t, OrderedMap{{Key: "b", Value: float64(2)}, {Key: "a", Value: float64(1)}}, args[4])
	assert.Equal(t, Undef, args[5])
	nested := args[6].(map[string]any)
	assert.True(t, when.Equal(nested["nested"].(time.Time)))
	assert.Equal(t, Undef, nested["dot.key"])
}

func TestRichDetectionFallsBackToCompact(t *testing.T) {
	// A compact frame has no discriminator; a rich frame does.
	compact := New(VersionCompact, false)
	rich := New(VersionRich, false)

	cf := encodeFrame(t, compact, &Envelope{ID: "a", Type: KindRequest, Args: []any{float64(1)}})
	rf := encodeFrame(t, rich, &Envelope{ID: "b", Type: KindRequest, Args: []any{time.Unix(0, 0).UTC()}})

	ce, err := DecodeFrame(cf)
	require.NoError(t, err)
	assert.Equal(t, "a", ce.ID)

	re, err := DecodeFrame(rf)
	require.NoError(t, err)
	assert.Equal(t, "b", re.ID)
	_, isTime := re.Args.([]any)[0].(time.Time)
	assert.True(t, isTime)
}

func TestEncodeRejectsCycles(t *testing.T) {
	c := New(VersionRich, false)
	loop := map[string]any{}
	loop["self"] = loop
	_, err := c.Encode(&Envelope{ID: "i", Type: KindRequest, Args: []any{loop}})
	assert.True(t, rpcerr.IsCode(err, rpcerr.CodeEncode))
}

func TestEncodeRejectsUnsupportedTypes(t *testing.T) {
	c := New(VersionRich, false)
	_, err := c.Encode(&Envelope{ID: "i", Type: KindRequest, Args: []any{make(chan int)}})
	assert.True(t, rpcerr.IsCode(err, rpcerr.CodeEncode))
}

func TestSharedSubtreesAreNotCycles(t *testing.T) {
	c := New(VersionRich, false)
	shared := map[string]any{"v": float64(1)}
	_, err := c.Encode(&Envelope{ID: "i", Type: KindRequest, Args: []any{shared, shared}})
	assert.NoError(t, err)
}

func TestStructuredPassesEnvelopeVerbatim(t *testing.T) {
	c := New(VersionRich, true)
	env := &Envelope{ID: "i", Type: KindRequest, Args: []any{time.Now()}}
	out, err := c.Encode(env)
	require.NoError(t, err)
	assert.Same(t, env, out)

	back, err := c.Decode(out)
	require.NoError(t, err)
	assert.Same(t, env, back)
}

func TestDecodeMalformedFrame(t *testing.T) {
	_, err := DecodeFrame([]byte(`{"id": truncated`))
	assert.True(t, rpcerr.IsCode(err, rpcerr.CodeDecode))
}

func TestStreamMarker(t *testing.T) {
	assert.True(t, IsStreamMarker(StreamMarker()))
	assert.False(t, IsStreamMarker(map[string]any{"result": true}))
	assert.False(t, IsStreamMarker("__stream__"))
	assert.False(t, IsStreamMarker(nil))
}

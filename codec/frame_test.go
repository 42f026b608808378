package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramerReassemblesPartialInput(t *testing.T) {
	var f Framer
	assert.Empty(t, f.Push([]byte(`{"id":"a"`)))
	assert.Equal(t, 9, f.Pending())

	frames := f.Push([]byte(",\"type\":\"request\"}\n{\"id\":\"b\""))
	require.Len(t, frames, 1)
	assert.Equal(t, `{"id":"a","type":"request"}`, string(frames[0]))

	frames = f.Push([]byte(",\"type\":\"request\"}\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, `{"id":"b","type":"request"}`, string(frames[0]))
	assert.Zero(t, f.Pending())
}

func TestFramerMultipleFramesInOneChunk(t *testing.T) {
	var f Framer
	frames := f.Push([]byte("{\"id\":\"1\"}\n{\"id\":\"2\"}\n{\"id\":\"3\"}\n"))
	require.Len(t, frames, 3)
}

func TestFramerDropsBlankFrames(t *testing.T) {
	var f Framer
	frames := f.Push([]byte("\n\n{\"id\":\"1\"}\n \n"))
	require.Len(t, frames, 1)
}

func TestDestroySentinelDetection(t *testing.T) {
	assert.True(t, IsDestroySentinel([]byte("__DESTROY__")))
	assert.True(t, IsDestroySentinel([]byte("__DESTROY__\r")))
	assert.False(t, IsDestroySentinel([]byte(`{"id":"x"}`)))
}

func TestNonEnvelopeFramesArePassthrough(t *testing.T) {
	assert.False(t, StartsEnvelope([]byte("some stray log line")))
	assert.True(t, StartsEnvelope([]byte(` {"id":"x"}`)))
	assert.False(t, StartsEnvelope([]byte("")))
}

package patchbay_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudk/fxchain/audio"
	"github.com/dudk/fxchain/audio/patchbay"
)

const bufferSize = 4

// gain opens a client multiplying its left and right inputs.
func gain(t *testing.T, s *patchbay.Server, name string, factor float32) audio.Client {
	t.Helper()
	c, err := s.Open(name)
	require.NoError(t, err)
	var in, out [2]audio.Port
	for i, side := range []string{"left", "right"} {
		in[i], err = c.Register("in_"+side, audio.PortIsInput)
		require.NoError(t, err)
		out[i], err = c.Register("out_"+side, audio.PortIsOutput)
		require.NoError(t, err)
	}
	require.NoError(t, c.SetProcessFunc(func(frames int) {
		for i := range in {
			src, dst := in[i].Buffer(frames), out[i].Buffer(frames)
			for j := range dst {
				dst[j] = src[j] * factor
			}
		}
	}))
	require.NoError(t, c.Activate())
	return c
}

func block(v float32) []float32 {
	b := make([]float32, bufferSize)
	for i := range b {
		b[i] = v
	}
	return b
}

func cycle(s *patchbay.Server, left, right float32) [][]float32 {
	playback := [][]float32{make([]float32, bufferSize), make([]float32, bufferSize)}
	s.Cycle([][]float32{block(left), block(right)}, playback)
	return playback
}

func TestSystemPorts(t *testing.T) {
	s := patchbay.New(48000, bufferSize, patchbay.WithCapture(1), patchbay.WithPlayback(3))
	c, err := s.Open("probe")
	require.NoError(t, err)
	assert.Equal(t, []string{"system:capture_1"}, c.Ports(audio.PortIsPhysical|audio.PortIsOutput))
	assert.Equal(t, []string{"system:playback_1", "system:playback_2", "system:playback_3"}, c.Ports(audio.PortIsPhysical|audio.PortIsInput))
	assert.Equal(t, uint32(48000), c.SampleRate())
	assert.Equal(t, uint32(bufferSize), c.BufferSize())
}

func TestOpen(t *testing.T) {
	s := patchbay.New(44100, bufferSize)
	_, err := s.Open("a")
	require.NoError(t, err)
	_, err = s.Open("a")
	assert.ErrorIs(t, err, audio.ErrClientExists)
	_, err = s.Open(patchbay.SystemClient)
	assert.ErrorIs(t, err, audio.ErrClientExists)
	assert.Equal(t, []string{"a"}, s.Clients())
}

func TestRegister(t *testing.T) {
	s := patchbay.New(44100, bufferSize)
	c, err := s.Open("a")
	require.NoError(t, err)
	p, err := c.Register("in", audio.PortIsInput)
	require.NoError(t, err)
	assert.Equal(t, "a:in", p.Name())
	_, err = c.Register("in", audio.PortIsInput)
	assert.ErrorIs(t, err, audio.ErrPortExists)
	_, err = c.Register("both", audio.PortIsInput|audio.PortIsOutput)
	assert.ErrorIs(t, err, audio.ErrInvalidConnection)
}

func TestConnect(t *testing.T) {
	s := patchbay.New(44100, bufferSize)
	c := gain(t, s, "a", 1)
	assert.ErrorIs(t, c.Connect("system:capture_1", "a:nope"), audio.ErrNoSuchPort)
	assert.ErrorIs(t, c.Connect("a:in_left", "system:capture_1"), audio.ErrInvalidConnection)
	require.NoError(t, c.Connect("system:capture_1", "a:in_left"))
	// duplicates are ignored
	require.NoError(t, c.Connect("system:capture_1", "a:in_left"))
	assert.Equal(t, []string{"system:capture_1"}, s.Connections("a:in_left"))
}

func TestCycle(t *testing.T) {
	s := patchbay.New(44100, bufferSize)
	// opened in reverse order to check signal flow ordering
	b := gain(t, s, "b", 3)
	a := gain(t, s, "a", 2)
	require.NoError(t, a.Connect("system:capture_1", "a:in_left"))
	require.NoError(t, a.Connect("system:capture_2", "a:in_right"))
	require.NoError(t, b.Connect("a:out_left", "b:in_left"))
	require.NoError(t, b.Connect("a:out_right", "b:in_right"))
	require.NoError(t, b.Connect("b:out_left", "system:playback_1"))
	require.NoError(t, b.Connect("b:out_right", "system:playback_2"))

	out := cycle(s, 1, 0.5)
	assert.Equal(t, block(6), out[0])
	assert.Equal(t, block(3), out[1])

	// closing a client drops its connections
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Empty(t, s.Connections("b:in_left"))
	out = cycle(s, 1, 1)
	assert.Equal(t, block(0), out[0])
	assert.Equal(t, []string{"b"}, s.Clients())
	assert.ErrorIs(t, a.Activate(), audio.ErrClosed)
}

func TestMix(t *testing.T) {
	s := patchbay.New(44100, bufferSize)
	c := gain(t, s, "a", 1)
	require.NoError(t, c.Connect("system:capture_1", "a:in_left"))
	require.NoError(t, c.Connect("system:capture_2", "a:in_left"))
	require.NoError(t, c.Connect("a:out_left", "system:playback_1"))
	out := cycle(s, 1, 2)
	assert.Equal(t, block(3), out[0])
}

func TestDeactivate(t *testing.T) {
	s := patchbay.New(44100, bufferSize)
	c := gain(t, s, "a", 2)
	require.NoError(t, c.Connect("system:capture_1", "a:in_left"))
	require.NoError(t, c.Connect("a:out_left", "system:playback_1"))
	assert.Equal(t, block(2), cycle(s, 1, 1)[0])
	require.NoError(t, c.Deactivate())
	assert.Equal(t, block(0), cycle(s, 1, 1)[0])
	require.NoError(t, c.Activate())
	assert.Equal(t, block(2), cycle(s, 1, 1)[0])
}

func TestMissingCapture(t *testing.T) {
	s := patchbay.New(44100, bufferSize)
	c := gain(t, s, "a", 1)
	require.NoError(t, c.Connect("system:capture_2", "a:in_right"))
	require.NoError(t, c.Connect("a:out_right", "system:playback_2"))
	playback := [][]float32{make([]float32, bufferSize), make([]float32, bufferSize)}
	s.Cycle([][]float32{block(1)}, playback)
	assert.Equal(t, block(0), playback[1])
	assert.Equal(t, 0, s.Xruns())
}

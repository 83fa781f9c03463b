package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudk/fxchain/internal/mock"
	"github.com/dudk/fxchain/unit"
)

func stereo(frames int) unit.Stereo {
	return unit.Stereo{make([]float32, frames), make([]float32, frames)}
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, unit.Descriptor{
		Name:       "SimpleDelay",
		Parameters: []string{"Time", "Feedback", "Dry/Wet"},
	}, NewUnit().Describe())
}

func TestDry(t *testing.T) {
	p, err := NewUnit().Instantiate(mock.Context{Rate: 44100})
	require.NoError(t, err)
	p.SetParameter(unit.Update{Index: mixParam, Value: 0})
	// unknown parameters are ignored
	p.SetParameter(unit.Update{Index: 10, Value: 1})

	in := unit.Stereo{{1, 0.5, 0.25}, {-1, -0.5, -0.25}}
	out := stereo(3)
	p.Process(in, out, 3)
	assert.Equal(t, in, out)
}

func TestEcho(t *testing.T) {
	p, err := NewUnit().Instantiate(mock.Context{Rate: 44100})
	require.NoError(t, err)
	p.SetParameter(unit.Update{Index: timeParam, Value: 0.5})
	p.SetParameter(unit.Update{Index: feedbackParam, Value: 1})
	p.SetParameter(unit.Update{Index: mixParam, Value: 1})

	frames := maxDelay/2 + 1
	in, out := stereo(frames), stereo(frames)
	in[0][0], in[1][0] = 1, 0.5
	p.Process(in, out, frames)
	for i := 0; i < frames-1; i++ {
		require.Zero(t, out[0][i], "sample %d", i)
	}
	assert.Equal(t, float32(1), out[0][frames-1])
	assert.Equal(t, float32(0.5), out[1][frames-1])
}

func TestClamp(t *testing.T) {
	p, err := NewUnit().Instantiate(mock.Context{Rate: 44100})
	require.NoError(t, err)
	// six samples of delay
	p.SetParameter(unit.Update{Index: timeParam, Value: 6.5 / maxDelay})
	p.SetParameter(unit.Update{Index: feedbackParam, Value: 5})
	p.SetParameter(unit.Update{Index: mixParam, Value: 2})

	const frames = 100
	in, out := stereo(frames), stereo(frames)
	in[0][0] = 1
	p.Process(in, out, frames)
	assert.Zero(t, out[0][0])
	assert.Equal(t, float32(1), out[0][6])
	assert.Equal(t, float32(1), out[0][12])
	for i, v := range out[0] {
		require.LessOrEqual(t, v, float32(1), "sample %d", i)
	}
}

func TestBlocks(t *testing.T) {
	// processing in blocks gives the same result as a single call
	single, err := NewUnit().Instantiate(mock.Context{})
	require.NoError(t, err)
	blocks, err := NewUnit().Instantiate(mock.Context{})
	require.NoError(t, err)
	for _, p := range []unit.Processor{single, blocks} {
		p.SetParameter(unit.Update{Index: timeParam, Value: 0.001})
		p.SetParameter(unit.Update{Index: feedbackParam, Value: 0.5})
	}

	const frames, size = 512, 64
	in := stereo(frames)
	for i := range in[0] {
		in[0][i] = float32(i%7) / 7
		in[1][i] = -float32(i%5) / 5
	}
	expected := stereo(frames)
	single.Process(in, expected, frames)

	out := stereo(frames)
	for i := 0; i < frames; i += size {
		blocks.Process(
			unit.Stereo{in[0][i : i+size], in[1][i : i+size]},
			unit.Stereo{out[0][i : i+size], out[1][i : i+size]},
			size,
		)
	}
	assert.Equal(t, expected, out)
}

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudk/fxchain/internal/mock"
	"github.com/dudk/fxchain/unit"
)

func TestOverdrive(t *testing.T) {
	tests := []struct {
		in     float32
		expect float32
	}{
		{in: 0, expect: 0},
		{in: 0.1, expect: 0.2},
		{in: -0.1, expect: -0.2},
		{in: 0.5, expect: (3 - 0.25) / 3},
		{in: -0.5, expect: -(3 - 0.25) / 3},
		{in: 0.9, expect: 1},
		{in: -5, expect: -1},
	}
	for _, test := range tests {
		assert.InDelta(t, test.expect, overdrive(test.in), 1e-6, "in %v", test.in)
	}
}

func TestProcess(t *testing.T) {
	u := NewUnit()
	assert.Equal(t, unit.Descriptor{Name: "SimpleDistortion", Parameters: []string{"Krschh"}}, u.Describe())
	p, err := u.Instantiate(mock.Context{Rate: 48000})
	require.NoError(t, err)

	in := unit.Stereo{{0.1, -0.1}, {0.05, 1}}
	out := unit.Stereo{make([]float32, 2), make([]float32, 2)}
	p.Process(in, out, 2)
	assert.InDeltaSlice(t, []float32{0.2, -0.2}, out[0], 1e-6)
	assert.InDeltaSlice(t, []float32{0.1, 1}, out[1], 1e-6)

	// full drive saturates quiet signal
	p.SetParameter(unit.Update{Index: 0, Value: 2})
	p.SetParameter(unit.Update{Index: 1, Value: 0})
	p.Process(in, out, 2)
	assert.InDeltaSlice(t, []float32{1, -1}, out[0], 1e-6)
}

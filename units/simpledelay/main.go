// Command simpledelay is a feedback delay unit.
//
// Parameters:
//
//	0 Time      fraction of the maximum delay, 0..1
//	1 Feedback  amount of the delayed signal fed back, 0..1
//	2 Dry/Wet   0 is dry signal only, 1 is wet signal only
package main

import (
	"github.com/dudk/fxchain/unit"
)

const (
	// length of the delay line in samples, the longest delay is half of it.
	lineSize = 128000
	maxDelay = lineSize / 2
)

const (
	timeParam = iota
	feedbackParam
	mixParam
)

// NewUnit is the factory symbol.
func NewUnit() unit.Unit {
	return simpleDelay{}
}

type simpleDelay struct{}

func (simpleDelay) Describe() unit.Descriptor {
	return unit.Descriptor{
		Name:       "SimpleDelay",
		Parameters: []string{"Time", "Feedback", "Dry/Wet"},
	}
}

func (simpleDelay) Instantiate(unit.Context) (unit.Processor, error) {
	return &delay{
		params: [3]float32{0.2, 0.3, 0.5},
		lines:  [2][]float32{make([]float32, lineSize), make([]float32, lineSize)},
	}, nil
}

type delay struct {
	params [3]float32
	lines  [2][]float32
	index  int
}

func (d *delay) Process(in, out unit.Stereo, frames int) {
	offset := int(d.params[timeParam] * maxDelay)
	feedback := d.params[feedbackParam]
	mix := d.params[mixParam]
	for i := 0; i < frames; i++ {
		if d.index >= lineSize {
			d.index = 0
		}
		j := d.index - offset
		if j < 0 {
			j += lineSize
		}
		for c, line := range d.lines {
			dry := in[c][i]
			line[d.index] = dry + line[j]*feedback
			wet := line[j] * feedback
			out[c][i] = mix*wet + (1-mix)*dry
		}
		d.index++
	}
}

// SetParameter ignores unknown indices. Values are clamped to 0..1, a
// feedback above 1 would grow the line without bound.
func (d *delay) SetParameter(u unit.Update) {
	if int(u.Index) >= len(d.params) {
		return
	}
	v := u.Value
	switch {
	case v < 0:
		v = 0
	case v > 1:
		v = 1
	}
	d.params[u.Index] = v
}

func main() {}

// Command simpledist is an overdrive unit with a single drive parameter.
package main

import (
	"github.com/dudk/fxchain/unit"
)

// NewUnit is the factory symbol.
func NewUnit() unit.Unit {
	return simpleDistortion{}
}

type simpleDistortion struct{}

func (simpleDistortion) Describe() unit.Descriptor {
	return unit.Descriptor{
		Name:       "SimpleDistortion",
		Parameters: []string{"Krschh"},
	}
}

func (simpleDistortion) Instantiate(unit.Context) (unit.Processor, error) {
	return &distortion{}, nil
}

type distortion struct {
	// drive is 0..1
	drive float32
}

func (d *distortion) Process(in, out unit.Stereo, frames int) {
	gain := 1 + 9*d.drive
	for c := range out {
		for i := 0; i < frames; i++ {
			out[c][i] = overdrive(in[c][i] * gain)
		}
	}
}

func (d *distortion) SetParameter(u unit.Update) {
	if u.Index != 0 {
		return
	}
	switch v := u.Value; {
	case v < 0:
		d.drive = 0
	case v > 1:
		d.drive = 1
	default:
		d.drive = v
	}
}

// overdrive is a symmetrical soft clipper: linear below a third of full
// scale, quadratic knee up to two thirds and hard limit above.
func overdrive(x float32) float32 {
	sign := float32(1)
	if x < 0 {
		sign, x = -1, -x
	}
	switch {
	case x < 1.0/3:
		return sign * 2 * x
	case x < 2.0/3:
		k := 2 - 3*x
		return sign * (3 - k*k) / 3
	default:
		return sign
	}
}

func main() {}

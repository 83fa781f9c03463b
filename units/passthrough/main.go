// Command passthrough is a unit copying its inputs to its outputs.
//
// Build it as a plugin:
//
//	go build -buildmode=plugin -o units/passthrough.so ./units/passthrough
package main

import (
	"github.com/dudk/fxchain/unit"
)

// NewUnit is the factory symbol.
func NewUnit() unit.Unit {
	return passthrough{}
}

type passthrough struct{}

type processor struct{}

func (passthrough) Describe() unit.Descriptor {
	return unit.Descriptor{
		Name:       "Passthrough",
		Parameters: []string{"Param1", "Param2"},
	}
}

func (passthrough) Instantiate(unit.Context) (unit.Processor, error) {
	return processor{}, nil
}

func (processor) Process(in, out unit.Stereo, frames int) {
	copy(out[0][:frames], in[0][:frames])
	copy(out[1][:frames], in[1][:frames])
}

// SetParameter ignores all parameters.
func (processor) SetParameter(unit.Update) {}

func main() {}

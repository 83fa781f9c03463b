/*
Package unit defines the contract between the host and DSP units.

A unit is loaded from a shared library artifact. The artifact exports a
single factory symbol (see FactorySymbol) that returns one Unit. The host
asks the unit to describe itself and instantiates one Processor per engine
node.

Processor methods are called from the real-time audio thread. Implementations
must run in bounded time and must not block, lock, allocate or perform I/O.
*/
package unit

// FactorySymbol is the name of the function every unit artifact exports.
// Its type must be Factory.
const FactorySymbol = "NewUnit"

type (
	// Value is the numeric type of all parameter values.
	Value = float32

	// Descriptor identifies a unit kind and the ordinal meaning of its
	// parameters.
	Descriptor struct {
		Name       string   `json:"name"`
		Parameters []string `json:"parameters"`
	}

	// Update addresses one parameter of a processor. Indices beyond the
	// number of declared parameters must be tolerated by the processor.
	Update struct {
		Index uint32
		Value Value
	}

	// Stereo is a pair of channel buffers: left and right.
	Stereo [2][]float32

	// Context is the audio environment a processor is bound to.
	Context interface {
		SampleRate() uint32
		BufferSize() uint32
	}

	// Processor processes audio blocks for a single engine node.
	Processor interface {
		// Process must fully populate out for frames samples.
		Process(in, out Stereo, frames int)
		// SetParameter applies a single update.
		SetParameter(Update)
	}

	// Unit is a loaded DSP unit kind.
	Unit interface {
		// Describe is pure and side-effect free.
		Describe() Descriptor
		// Instantiate returns a fresh processor bound to ctx.
		Instantiate(ctx Context) (Processor, error)
	}

	// Factory is the type of the exported FactorySymbol.
	Factory func() Unit
)

// Copy returns a deep copy of the descriptor.
func (d Descriptor) Copy() Descriptor {
	params := make([]string, len(d.Parameters))
	copy(params, d.Parameters)
	return Descriptor{
		Name:       d.Name,
		Parameters: params,
	}
}

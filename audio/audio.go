/*
Package audio defines the audio server contract consumed by engine nodes.

The model follows the JACK server: a client owns named ports, ports are
connected by full name ("client:port"), the server discovers physical
ports and calls every active client's process function once per block on
its real-time thread.
*/
package audio

import "errors"

// PortFlags describe the direction and kind of a port.
type PortFlags uint8

const (
	// PortIsInput receives signal.
	PortIsInput PortFlags = 1 << iota
	// PortIsOutput provides signal.
	PortIsOutput
	// PortIsPhysical belongs to the hardware side of the server.
	PortIsPhysical
)

// Has returns true if all bits of f are set.
func (p PortFlags) Has(f PortFlags) bool {
	return p&f == f
}

var (
	// ErrClientExists is returned when a client name is already taken.
	ErrClientExists = errors.New("client already exists")
	// ErrPortExists is returned when a port name is already registered.
	ErrPortExists = errors.New("port already exists")
	// ErrNoSuchPort is returned when a port name cannot be resolved.
	ErrNoSuchPort = errors.New("no such port")
	// ErrInvalidConnection is returned when ports cannot be connected in the
	// requested direction.
	ErrInvalidConnection = errors.New("invalid connection")
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("client is closed")
)

// ProcessFunc is called by the server on its real-time thread once per
// block.
type ProcessFunc func(frames int)

type (
	// Server opens clients.
	Server interface {
		Open(name string) (Client, error)
	}

	// Client is a participant of the audio graph. SampleRate and
	// BufferSize make it usable as unit.Context.
	Client interface {
		Name() string
		SampleRate() uint32
		BufferSize() uint32
		// Register creates a port owned by this client.
		Register(name string, flags PortFlags) (Port, error)
		SetProcessFunc(ProcessFunc) error
		Activate() error
		Deactivate() error
		// Close deactivates the client and releases its ports and
		// connections.
		Close() error
		// Connect links an output port to an input port by full names.
		Connect(src, dst string) error
		// Ports returns full names of all ports with flags set.
		Ports(flags PortFlags) []string
	}

	// Port is a mono signal endpoint.
	Port interface {
		// Name returns the full port name.
		Name() string
		// Buffer returns the port buffer for the current block. It must
		// only be called from the process function.
		Buffer(frames int) []float32
	}
)

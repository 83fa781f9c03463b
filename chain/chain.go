/*
Package chain translates declarative chain configurations into a live
sequence of engine nodes.

A Controller is either Empty or Configured. Every rebuild first resolves
all unit names against the registry, so a configuration with an unknown
unit is rejected before the live chain is touched. Only then the previous
chain is discarded and new nodes are constructed and wired in series:

	capture -> node 0 -> node 1 -> ... -> node N-1 -> playback

Configuration sources (HTTP backend, CLI, tests) drive the controller through
the API interface.
*/
package chain

import (
	"errors"
	"sort"

	"github.com/dudk/fxchain/unit"
)

// ErrUnknownUnit is returned when a configuration references a unit that
// is not in the catalog.
var ErrUnknownUnit = errors.New("unknown unit")

type (
	// Entry describes one node of the chain.
	Entry struct {
		Unit       string       `json:"name" yaml:"name"`
		Parameters []unit.Value `json:"parameters" yaml:"parameters"`
	}

	// Configuration is an ordered list of entries. Order is signal flow
	// order.
	Configuration []Entry

	// Catalog holds descriptors of available units indexed by name.
	Catalog map[string]unit.Descriptor

	// GlobalSettings affect the wiring of the whole chain.
	GlobalSettings struct {
		// MonoInput feeds the first capture source to both channels.
		MonoInput bool `json:"mono_input" yaml:"mono_input"`
	}
)

// Copy returns a deep copy of the configuration. It never returns nil.
func (c Configuration) Copy() Configuration {
	result := make(Configuration, len(c))
	for i, e := range c {
		result[i] = Entry{
			Unit:       e.Unit,
			Parameters: append(make([]unit.Value, 0, len(e.Parameters)), e.Parameters...),
		}
	}
	return result
}

// Sorted returns descriptors ordered by unit name.
func (c Catalog) Sorted() []unit.Descriptor {
	result := make([]unit.Descriptor, 0, len(c))
	for _, d := range c {
		result = append(result, d.Copy())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

type (
	// API is the set of operations a configuration source invokes.
	API interface {
		AvailableUnits() Catalog
		CurrentConfiguration() Configuration
		ApplyConfiguration(Configuration) error
		// SetParameters returns false if there is no node at index.
		SetParameters(index int, values []unit.Value) (bool, error)
		Reload() error
		ApplyGlobalSettings(GlobalSettings) error
		GlobalSettings() GlobalSettings
	}

	// Source is an external control plane bound to the controller.
	Source interface {
		Bind(API)
	}

	// Registry provides units by name.
	Registry interface {
		Unit(name string) (unit.Unit, error)
		Catalog() map[string]unit.Descriptor
		Reload() error
	}

	// Node is a running unit instance.
	Node interface {
		SetParameters([]unit.Value) error
		InputPorts() []string
		OutputPorts() []string
		ConnectInputs(names []string) error
		ConnectInputsToCapturePorts(names []string, mono bool) error
		ConnectOutputsToPlaybackPorts() error
		Close() error
	}

	// NodeFactory starts a new node running u.
	NodeFactory func(name string, u unit.Unit) (Node, error)
)

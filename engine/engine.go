/*
Package engine binds a DSP unit to an audio server client.

A Node owns one client with two input and two output ports, one processor
instance and one parameter channel. Parameter updates are pushed from the
control path and applied by the real-time callback before the next block is
processed:

	n, err := engine.New(server, "Passthrough", u)
	if err != nil {
		return err
	}
	defer n.Close()
	err = n.SetParameter(unit.Update{Index: 0, Value: 0.7})

The callback itself never blocks, allocates or logs.
*/
package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/xid"

	"github.com/dudk/fxchain/audio"
	"github.com/dudk/fxchain/log"
	"github.com/dudk/fxchain/metric"
	"github.com/dudk/fxchain/ringbuffer"
	"github.com/dudk/fxchain/unit"
)

// DefaultCapacity is the default number of updates a node channel holds.
const DefaultCapacity = 512

var (
	// ErrChannelFull is returned when the real-time thread has not consumed
	// previous updates yet. The update is not delivered.
	ErrChannelFull = errors.New("parameter channel is full")
	// ErrNotEnoughPorts is returned when less than two ports are available
	// for a stereo connection.
	ErrNotEnoughPorts = errors.New("not enough ports")
	// ErrInstantiate is returned when the unit panics while creating its
	// processor.
	ErrInstantiate = errors.New("unit panicked on instantiate")
)

// DeliveryError is returned by SetParameters when only the first Delivered
// values were queued.
type DeliveryError struct {
	Delivered int
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("parameter %d: %v", e.Delivered, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

var sides = [2]string{"left", "right"}

// Option provides a way to set functional parameters to node.
type Option func(n *Node)

// WithCapacity sets the parameter channel capacity.
func WithCapacity(c int) Option {
	return func(n *Node) {
		n.capacity = c
	}
}

// WithLogger sets logger to node. If this option is not provided, silent
// logger is used.
func WithLogger(l log.Logger) Option {
	return func(n *Node) {
		n.log = l
	}
}

// WithMetrics enables node metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(n *Node) {
		n.metrics = m
	}
}

// Node is a unit running in its own audio server client.
type Node struct {
	id       xid.ID
	unitName string
	capacity int
	log      log.Logger
	metrics  *metric.Metrics

	client    audio.Client
	processor unit.Processor
	apply     func(unit.Update)
	ring      *ringbuffer.Ring
	meter     *metric.Node
	in        [2]audio.Port
	out       [2]audio.Port

	// mu serialises producers and guards closed.
	mu     sync.Mutex
	closed bool
}

// New opens a client named after name, registers its ports, instantiates
// the unit processor and activates the client. Any failure closes the
// client.
func New(server audio.Server, name string, u unit.Unit, options ...Option) (*Node, error) {
	n := &Node{
		id:       xid.New(),
		unitName: u.Describe().Name,
		capacity: DefaultCapacity,
		log:      log.Silent(),
	}
	for _, option := range options {
		option(n)
	}
	n.ring = ringbuffer.New(n.capacity)

	client, err := server.Open(fmt.Sprintf("%s-%s", name, n.id))
	if err != nil {
		return nil, fmt.Errorf("open client: %w", err)
	}
	n.client = client
	if err := n.init(u); err != nil {
		return nil, errors.Join(err, client.Close())
	}
	n.log.WithField("client", client.Name()).WithField("unit", n.unitName).Debug("node started")
	return n, nil
}

func (n *Node) init(u unit.Unit) error {
	var err error
	for i, side := range sides {
		if n.in[i], err = n.client.Register("in_"+side, audio.PortIsInput); err != nil {
			return fmt.Errorf("register input: %w", err)
		}
		if n.out[i], err = n.client.Register("out_"+side, audio.PortIsOutput); err != nil {
			return fmt.Errorf("register output: %w", err)
		}
	}
	if n.processor, err = instantiate(u, n.client); err != nil {
		return fmt.Errorf("instantiate %s: %w", n.unitName, err)
	}
	if n.processor == nil {
		return fmt.Errorf("instantiate %s: nil processor", n.unitName)
	}
	n.apply = n.processor.SetParameter
	n.meter = n.metrics.Node(n.unitName, n.client.SampleRate())
	if err := n.client.SetProcessFunc(n.process); err != nil {
		return fmt.Errorf("set process func: %w", err)
	}
	if err := n.client.Activate(); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	return nil
}

func instantiate(u unit.Unit, ctx unit.Context) (p unit.Processor, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("%w: %v", ErrInstantiate, r)
		}
	}()
	return u.Instantiate(ctx)
}

// process is the real-time callback. Updates pushed after the snapshot
// taken by Drain are left for the next block.
func (n *Node) process(frames int) {
	applied := n.ring.Drain(n.apply)
	in := unit.Stereo{n.in[0].Buffer(frames), n.in[1].Buffer(frames)}
	out := unit.Stereo{n.out[0].Buffer(frames), n.out[1].Buffer(frames)}
	n.processor.Process(in, out, frames)
	n.meter.Measure(frames, applied)
}

// ID returns unique node id.
func (n *Node) ID() string {
	return n.id.String()
}

// Name returns the client name.
func (n *Node) Name() string {
	return n.client.Name()
}

// Unit returns the name of the unit the node runs.
func (n *Node) Unit() string {
	return n.unitName
}

// SetParameter delivers a single update to the processor. It never blocks.
func (n *Node) SetParameter(u unit.Update) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.push(u)
}

// SetParameters delivers values at their ordinal positions. It stops at the
// first update that could not be delivered and returns *DeliveryError.
func (n *Node) SetParameters(values []unit.Value) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, v := range values {
		if err := n.push(unit.Update{Index: uint32(i), Value: v}); err != nil {
			return &DeliveryError{Delivered: i, Err: err}
		}
	}
	return nil
}

// push must be called with lock held.
func (n *Node) push(u unit.Update) error {
	if n.closed {
		return audio.ErrClosed
	}
	if err := n.ring.Push(u); err != nil {
		n.meter.Rejected()
		return fmt.Errorf("%s: %w", n.client.Name(), ErrChannelFull)
	}
	return nil
}

// InputPorts returns full names of left and right input ports.
func (n *Node) InputPorts() []string {
	return []string{n.in[0].Name(), n.in[1].Name()}
}

// OutputPorts returns full names of left and right output ports.
func (n *Node) OutputPorts() []string {
	return []string{n.out[0].Name(), n.out[1].Name()}
}

// ConnectInputs connects the first two names to left and right inputs.
func (n *Node) ConnectInputs(names []string) error {
	if len(names) < 2 {
		return fmt.Errorf("connect inputs %v: %w", names, ErrNotEnoughPorts)
	}
	for i := range n.in {
		if err := n.client.Connect(names[i], n.in[i].Name()); err != nil {
			return fmt.Errorf("connect inputs: %w", err)
		}
	}
	return nil
}

// ConnectOutputs connects left and right outputs to the first two names.
func (n *Node) ConnectOutputs(names []string) error {
	if len(names) < 2 {
		return fmt.Errorf("connect outputs %v: %w", names, ErrNotEnoughPorts)
	}
	for i := range n.out {
		if err := n.client.Connect(n.out[i].Name(), names[i]); err != nil {
			return fmt.Errorf("connect outputs: %w", err)
		}
	}
	return nil
}

// ConnectInputsToCapturePorts connects inputs to capture sources. Exactly
// two names are used as is. Otherwise physical capture ports are appended
// to names. In mono mode the first source feeds both inputs.
func (n *Node) ConnectInputsToCapturePorts(names []string, mono bool) error {
	sources := names
	if len(names) != 2 {
		sources = append(append([]string(nil), names...), n.client.Ports(audio.PortIsPhysical|audio.PortIsOutput)...)
	}
	switch {
	case mono && len(sources) > 0:
		sources = []string{sources[0], sources[0]}
	case len(sources) < 2:
		return fmt.Errorf("capture ports %v: %w", sources, ErrNotEnoughPorts)
	}
	return n.ConnectInputs(sources)
}

// ConnectOutputsToPlaybackPorts connects outputs to the first two physical
// playback ports.
func (n *Node) ConnectOutputsToPlaybackPorts() error {
	ports := n.client.Ports(audio.PortIsPhysical | audio.PortIsInput)
	if len(ports) < 2 {
		return fmt.Errorf("playback ports %v: %w", ports, ErrNotEnoughPorts)
	}
	return n.ConnectOutputs(ports)
}

// Close deactivates and closes the client. The callback is not invoked
// after Close returns. Closing twice is a no-op.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	if err := n.client.Deactivate(); err != nil {
		return errors.Join(fmt.Errorf("deactivate: %w", err), n.client.Close())
	}
	if err := n.client.Close(); err != nil {
		return fmt.Errorf("close client: %w", err)
	}
	n.log.WithField("client", n.client.Name()).Debug("node closed")
	return nil
}

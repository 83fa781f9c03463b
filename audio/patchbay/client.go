package patchbay

import (
	"fmt"

	"github.com/dudk/fxchain/audio"
)

// Client is a patchbay participant. It implements audio.Client.
type Client struct {
	name   string
	server *Server
	ports  []*port
	inputs []*port
	fn     audio.ProcessFunc
	active bool
	closed bool
}

// Name returns the client name.
func (c *Client) Name() string {
	return c.name
}

// SampleRate returns the server sample rate.
func (c *Client) SampleRate() uint32 {
	return c.server.sampleRate
}

// BufferSize returns the number of frames per block.
func (c *Client) BufferSize() uint32 {
	return c.server.bufferSize
}

// Register creates a new port named "<client>:<name>".
func (c *Client) Register(name string, flags audio.PortFlags) (audio.Port, error) {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	if c.closed {
		return nil, audio.ErrClosed
	}
	if flags.Has(audio.PortIsInput) == flags.Has(audio.PortIsOutput) {
		return nil, fmt.Errorf("register %s: %w", name, audio.ErrInvalidConnection)
	}
	full := c.name + ":" + name
	if _, ok := c.server.ports[full]; ok {
		return nil, fmt.Errorf("register %s: %w", full, audio.ErrPortExists)
	}
	p := c.server.addPort(c, full, flags&^audio.PortIsPhysical)
	c.ports = append(c.ports, p)
	if flags.Has(audio.PortIsInput) {
		c.inputs = append(c.inputs, p)
	}
	return p, nil
}

// SetProcessFunc installs the real-time callback.
func (c *Client) SetProcessFunc(fn audio.ProcessFunc) error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	if c.closed {
		return audio.ErrClosed
	}
	c.fn = fn
	return nil
}

// Activate adds the client to the processing order.
func (c *Client) Activate() error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	if c.closed {
		return audio.ErrClosed
	}
	if !c.active {
		c.active = true
		c.server.reorder()
	}
	return nil
}

// Deactivate removes the client from the processing order. Its outputs
// are silenced.
func (c *Client) Deactivate() error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	if c.closed {
		return audio.ErrClosed
	}
	c.deactivate()
	return nil
}

func (c *Client) deactivate() {
	if !c.active {
		return
	}
	c.active = false
	for _, p := range c.ports {
		zero(p.buf)
	}
	c.server.reorder()
}

// Close deactivates the client and removes it with all its ports and
// connections. Closing twice is a no-op.
func (c *Client) Close() error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	if c.closed {
		return nil
	}
	c.deactivate()
	c.closed = true
	c.server.remove(c)
	c.server.log.Debugf("patchbay: closed client %s", c.name)
	return nil
}

// Connect links an output port to an input port.
func (c *Client) Connect(src, dst string) error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	if c.closed {
		return audio.ErrClosed
	}
	return c.server.connect(src, dst)
}

// Ports returns full names of all ports with flags set.
func (c *Client) Ports(flags audio.PortFlags) []string {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	return c.server.portNames(flags)
}

func (c *Client) process(frames int) {
	if c.fn != nil {
		c.fn(frames)
	}
}

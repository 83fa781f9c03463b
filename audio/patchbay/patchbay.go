/*
Package patchbay implements an in-process audio server.

The server keeps a graph of clients and port connections. A driver feeds
physical capture channels into Cycle, the server runs every active client
in signal flow order and returns what reached the physical playback ports.

Graph changes take the server lock. Cycle only tries the lock: if a
control operation holds it, the block is rendered as silence instead of
blocking the real-time thread.
*/
package patchbay

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dudk/fxchain/audio"
	"github.com/dudk/fxchain/log"
)

// SystemClient is the name of the client owning physical ports.
const SystemClient = "system"

// Option provides a way to set functional parameters to server.
type Option func(s *Server)

// WithCapture sets the number of physical capture ports.
func WithCapture(n int) Option {
	return func(s *Server) {
		s.numCapture = n
	}
}

// WithPlayback sets the number of physical playback ports.
func WithPlayback(n int) Option {
	return func(s *Server) {
		s.numPlayback = n
	}
}

// WithLogger sets logger to server. If this option is not provided, silent
// logger is used.
func WithLogger(l log.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// Server is an in-process audio server.
type Server struct {
	mu          sync.Mutex
	sampleRate  uint32
	bufferSize  uint32
	numCapture  int
	numPlayback int

	clients  map[string]*Client
	ports    map[string]*port
	capture  []*port
	playback []*port
	order    []*Client // active clients in signal flow order
	xruns    atomic.Int64
	log      log.Logger
}

type port struct {
	name    string
	flags   audio.PortFlags
	owner   *Client
	buf     []float32
	sources []*port
}

// Name returns the full port name.
func (p *port) Name() string {
	return p.name
}

// Buffer returns the port buffer for the current block.
func (p *port) Buffer(frames int) []float32 {
	return p.buf[:frames]
}

// gather sums all connected sources into the port buffer.
func (p *port) gather(frames int) {
	buf := p.buf[:frames]
	switch len(p.sources) {
	case 0:
		for i := range buf {
			buf[i] = 0
		}
	case 1:
		copy(buf, p.sources[0].buf[:frames])
	default:
		copy(buf, p.sources[0].buf[:frames])
		for _, src := range p.sources[1:] {
			for i, v := range src.buf[:frames] {
				buf[i] += v
			}
		}
	}
}

// New creates a new server with two capture and two playback ports unless
// options say otherwise.
func New(sampleRate, bufferSize uint32, options ...Option) *Server {
	s := &Server{
		sampleRate:  sampleRate,
		bufferSize:  bufferSize,
		numCapture:  2,
		numPlayback: 2,
		clients:     make(map[string]*Client),
		ports:       make(map[string]*port),
		log:         log.Silent(),
	}
	for _, option := range options {
		option(s)
	}
	for i := 1; i <= s.numCapture; i++ {
		s.capture = append(s.capture, s.addPort(nil, fmt.Sprintf("%s:capture_%d", SystemClient, i), audio.PortIsOutput|audio.PortIsPhysical))
	}
	for i := 1; i <= s.numPlayback; i++ {
		s.playback = append(s.playback, s.addPort(nil, fmt.Sprintf("%s:playback_%d", SystemClient, i), audio.PortIsInput|audio.PortIsPhysical))
	}
	return s
}

// SampleRate returns the server sample rate.
func (s *Server) SampleRate() uint32 {
	return s.sampleRate
}

// BufferSize returns the number of frames per block.
func (s *Server) BufferSize() uint32 {
	return s.bufferSize
}

// NumCapture returns the number of physical capture ports.
func (s *Server) NumCapture() int {
	return s.numCapture
}

// NumPlayback returns the number of physical playback ports.
func (s *Server) NumPlayback() int {
	return s.numPlayback
}

// Xruns returns the number of blocks rendered as silence because the graph
// was locked by a control operation.
func (s *Server) Xruns() int {
	return int(s.xruns.Load())
}

// Open creates a new inactive client.
func (s *Server) Open(name string) (audio.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[name]; ok || name == SystemClient {
		return nil, fmt.Errorf("open %q: %w", name, audio.ErrClientExists)
	}
	c := &Client{
		name:   name,
		server: s,
	}
	s.clients[name] = c
	s.log.Debugf("patchbay: opened client %s", name)
	return c, nil
}

// Clients returns names of all opened clients in alphabetical order.
func (s *Server) Clients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.clients))
	for name := range s.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Connections returns full names of ports connected to the input port dst.
func (s *Server) Connections(dst string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.ports[dst]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(p.sources))
	for _, src := range p.sources {
		names = append(names, src.name)
	}
	return names
}

// Cycle renders one block. Capture holds one slice per physical capture
// port, playback receives one slice per physical playback port; missing
// capture channels are treated as silence. It must be called from a single
// driver thread.
func (s *Server) Cycle(capture, playback [][]float32) {
	frames := int(s.bufferSize)
	if !s.mu.TryLock() {
		silence(playback)
		s.xruns.Add(1)
		return
	}
	defer s.mu.Unlock()

	for i, p := range s.capture {
		if i < len(capture) {
			n := copy(p.buf, capture[i])
			zero(p.buf[n:])
			continue
		}
		zero(p.buf)
	}
	for _, c := range s.order {
		for _, p := range c.inputs {
			p.gather(frames)
		}
		c.process(frames)
	}
	for i, p := range s.playback {
		p.gather(frames)
		if i < len(playback) {
			copy(playback[i], p.buf)
		}
	}
}

func silence(bufs [][]float32) {
	for _, b := range bufs {
		zero(b)
	}
}

func zero(b []float32) {
	for i := range b {
		b[i] = 0
	}
}

// addPort must be called with lock held.
func (s *Server) addPort(owner *Client, name string, flags audio.PortFlags) *port {
	p := &port{
		name:  name,
		flags: flags,
		owner: owner,
		buf:   make([]float32, s.bufferSize),
	}
	s.ports[name] = p
	return p
}

// portNames must be called with lock held. System ports come first in
// numeric order, then client ports in registration order.
func (s *Server) portNames(flags audio.PortFlags) []string {
	var names []string
	for _, p := range append(append([]*port{}, s.capture...), s.playback...) {
		if p.flags.Has(flags) {
			names = append(names, p.name)
		}
	}
	clients := make([]string, 0, len(s.clients))
	for name := range s.clients {
		clients = append(clients, name)
	}
	sort.Strings(clients)
	for _, name := range clients {
		for _, p := range s.clients[name].ports {
			if p.flags.Has(flags) {
				names = append(names, p.name)
			}
		}
	}
	return names
}

// connect must be called with lock held.
func (s *Server) connect(src, dst string) error {
	from, ok := s.ports[src]
	if !ok {
		return fmt.Errorf("connect %s: %w", src, audio.ErrNoSuchPort)
	}
	to, ok := s.ports[dst]
	if !ok {
		return fmt.Errorf("connect %s: %w", dst, audio.ErrNoSuchPort)
	}
	if !from.flags.Has(audio.PortIsOutput) || !to.flags.Has(audio.PortIsInput) {
		return fmt.Errorf("connect %s to %s: %w", src, dst, audio.ErrInvalidConnection)
	}
	for _, p := range to.sources {
		if p == from {
			return nil
		}
	}
	to.sources = append(to.sources, from)
	s.reorder()
	return nil
}

// remove drops the client, its ports and all connections to them. Must be
// called with lock held.
func (s *Server) remove(c *Client) {
	owned := make(map[*port]bool, len(c.ports))
	for _, p := range c.ports {
		owned[p] = true
		delete(s.ports, p.name)
	}
	for _, p := range s.ports {
		sources := p.sources[:0]
		for _, src := range p.sources {
			if !owned[src] {
				sources = append(sources, src)
			}
		}
		p.sources = sources
	}
	delete(s.clients, c.name)
	s.reorder()
}

// reorder sorts active clients so that every client runs after the
// clients feeding its inputs. Clients in a feedback loop keep alphabetical
// order. Must be called with lock held.
func (s *Server) reorder() {
	var active []*Client
	for _, c := range s.clients {
		if c.active {
			active = append(active, c)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].name < active[j].name
	})

	indegree := make(map[*Client]int, len(active))
	feeds := make(map[*Client][]*Client, len(active))
	for _, c := range active {
		seen := make(map[*Client]bool)
		for _, in := range c.inputs {
			for _, src := range in.sources {
				up := src.owner
				if up == nil || up == c || !up.active || seen[up] {
					continue
				}
				seen[up] = true
				indegree[c]++
				feeds[up] = append(feeds[up], c)
			}
		}
	}

	order := make([]*Client, 0, len(active))
	done := make(map[*Client]bool, len(active))
	for len(order) < len(active) {
		progressed := false
		for _, c := range active {
			if done[c] || indegree[c] > 0 {
				continue
			}
			done[c] = true
			order = append(order, c)
			for _, down := range feeds[c] {
				indegree[down]--
			}
			progressed = true
		}
		if !progressed {
			// feedback loop: run the rest as is
			for _, c := range active {
				if !done[c] {
					done[c] = true
					order = append(order, c)
				}
			}
		}
	}
	s.order = order
}

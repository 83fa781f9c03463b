// Package mock provides mocks for units and unit artifacts and allows to
// execute integration tests without shared libraries.
package mock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dudk/fxchain/registry"
	"github.com/dudk/fxchain/unit"
)

// Unit mocks a unit.Unit interface.
type Unit struct {
	Name       string
	Parameters []string
	// Fn is applied to every sample. Nil means identity.
	Fn                 func(float32) float32
	ErrorOnInstantiate error
	Recorder           *Recorder
	Hooks

	mu         sync.Mutex
	processors []*Processor
}

// Describe implements unit.Unit.
func (m *Unit) Describe() unit.Descriptor {
	return unit.Descriptor{
		Name:       m.Name,
		Parameters: m.Parameters,
	}.Copy()
}

// Instantiate implements unit.Unit.
func (m *Unit) Instantiate(ctx unit.Context) (unit.Processor, error) {
	if m.ErrorOnInstantiate != nil {
		return nil, m.ErrorOnInstantiate
	}
	p := &Processor{
		Fn:         m.Fn,
		sampleRate: ctx.SampleRate(),
	}
	m.mu.Lock()
	m.processors = append(m.processors, p)
	m.mu.Unlock()
	return p, nil
}

// Processors returns all instantiated processors.
func (m *Unit) Processors() []*Processor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Processor(nil), m.processors...)
}

// Close implements io.Closer.
func (m *Unit) Close() error {
	m.Closed = true
	m.Recorder.record("unit:" + m.Name)
	return m.ErrorOnClose
}

// Processor mocks a unit.Processor interface.
type Processor struct {
	Fn func(float32) float32

	mu sync.Mutex
	counter
	sampleRate uint32
	updates    []unit.Update
}

// Process implements unit.Processor.
func (m *Processor) Process(in, out unit.Stereo, frames int) {
	for c := range out {
		for i := 0; i < frames; i++ {
			if m.Fn == nil {
				out[c][i] = in[c][i]
				continue
			}
			out[c][i] = m.Fn(in[c][i])
		}
	}
	m.mu.Lock()
	m.advance(frames)
	m.mu.Unlock()
}

// SetParameter implements unit.Processor.
func (m *Processor) SetParameter(u unit.Update) {
	m.mu.Lock()
	m.updates = append(m.updates, u)
	m.mu.Unlock()
}

// Updates returns all applied updates in order.
func (m *Processor) Updates() []unit.Update {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]unit.Update(nil), m.updates...)
}

// Count returns number of process calls and processed frames.
func (m *Processor) Count() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counter.Count()
}

// SampleRate returns the sample rate processor was instantiated with.
func (m *Processor) SampleRate() uint32 {
	return m.sampleRate
}

// Context mocks a unit.Context interface.
type Context struct {
	Rate uint32
	Size uint32
}

// SampleRate implements unit.Context.
func (c Context) SampleRate() uint32 {
	return c.Rate
}

// BufferSize implements unit.Context.
func (c Context) BufferSize() uint32 {
	return c.Size
}

// Opener mocks a registry.Opener interface. Artifacts are resolved by the
// base name of the opened path.
type Opener struct {
	Artifacts map[string]*Artifact
}

// Open implements registry.Opener.
func (m *Opener) Open(path string) (registry.Artifact, error) {
	a, ok := m.Artifacts[filepath.Base(path)]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, os.ErrNotExist)
	}
	if a.ErrorOnOpen != nil {
		return nil, a.ErrorOnOpen
	}
	a.Closed = false
	return a, nil
}

// Artifact mocks a registry.Artifact interface.
type Artifact struct {
	Name          string
	Factory       unit.Factory
	ErrorOnOpen   error
	ErrorOnLookup error
	Recorder      *Recorder
	Hooks
}

// Lookup implements registry.Artifact.
func (m *Artifact) Lookup(symbol string) (unit.Factory, error) {
	if m.ErrorOnLookup != nil {
		return nil, m.ErrorOnLookup
	}
	if symbol != unit.FactorySymbol || m.Factory == nil {
		return nil, fmt.Errorf("%w: %s", registry.ErrNoFactory, symbol)
	}
	return m.Factory, nil
}

// Close implements registry.Artifact.
func (m *Artifact) Close() error {
	m.Closed = true
	m.Recorder.record("artifact:" + m.Name)
	return m.ErrorOnClose
}

// Hooks allows to mock release hooks.
type Hooks struct {
	Closed       bool
	ErrorOnClose error
}

// Recorder keeps the order of release events. A nil recorder discards them.
type Recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *Recorder) record(event string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Events returns recorded events in order.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// counter counts messages and samples.
type counter struct {
	messages int
	samples  int
}

// advance counter's metrics.
func (c *counter) advance(size int) {
	c.messages++
	c.samples = c.samples + size
}

// Count returns messages and samples metrics.
func (c *counter) Count() (int, int) {
	return c.messages, c.samples
}

package chain

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dudk/fxchain/audio"
	"github.com/dudk/fxchain/engine"
	"github.com/dudk/fxchain/log"
	"github.com/dudk/fxchain/metric"
	"github.com/dudk/fxchain/unit"
)

// Option provides a way to set functional parameters to controller.
type Option func(c *Controller)

// WithInputs sets capture sources of the first node. Unless exactly two
// are given, physical capture ports are discovered.
func WithInputs(inputs []string) Option {
	return func(c *Controller) {
		c.inputs = append([]string(nil), inputs...)
	}
}

// WithLogger sets logger to controller. If this option is not provided,
// silent logger is used.
func WithLogger(l log.Logger) Option {
	return func(c *Controller) {
		c.log = l
	}
}

// WithMetrics enables controller metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithGlobalSettings sets initial global settings.
func WithGlobalSettings(s GlobalSettings) Option {
	return func(c *Controller) {
		c.settings = s
	}
}

// Engine returns a factory of engine nodes running on server.
func Engine(server audio.Server, options ...engine.Option) NodeFactory {
	return func(name string, u unit.Unit) (Node, error) {
		n, err := engine.New(server, name, u, options...)
		if err != nil {
			return nil, err
		}
		return n, nil
	}
}

// Controller owns the live chain. All operations are serialised; the
// real-time callbacks of the nodes never touch the controller.
type Controller struct {
	mu       sync.Mutex
	registry Registry
	factory  NodeFactory
	inputs   []string
	settings GlobalSettings
	log      log.Logger
	metrics  *metric.Metrics

	current Configuration
	// last is the configuration of the last successful apply. It survives
	// failed rebuilds and is what Reload applies.
	last  Configuration
	chain []Node
}

// New creates an Empty controller.
func New(registry Registry, factory NodeFactory, options ...Option) *Controller {
	c := &Controller{
		registry: registry,
		factory:  factory,
		log:      log.Silent(),
		current:  Configuration{},
		last:     Configuration{},
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Attach binds the source to the controller.
func (c *Controller) Attach(src Source) {
	src.Bind(c)
}

// AvailableUnits returns the catalog of the registry.
func (c *Controller) AvailableUnits() Catalog {
	return Catalog(c.registry.Catalog())
}

// CurrentConfiguration returns a copy of the active configuration. It is
// empty when no chain is running.
func (c *Controller) CurrentConfiguration() Configuration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Copy()
}

// Len returns the number of nodes in the live chain.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chain)
}

// GlobalSettings returns current global settings.
func (c *Controller) GlobalSettings() GlobalSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// ApplyConfiguration replaces the live chain. If any unit name cannot be
// resolved, ErrUnknownUnit is returned and nothing changes. If a node
// fails to start or connect, the controller is left Empty.
func (c *Controller) ApplyConfiguration(cfg Configuration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apply(cfg)
}

// apply must be called with lock held.
func (c *Controller) apply(cfg Configuration) error {
	start := time.Now()
	units, err := c.resolve(cfg)
	if err != nil {
		c.metrics.Rebuild(metric.ResultRejected, time.Since(start), len(c.chain))
		return err
	}
	if err := c.rebuild(cfg.Copy(), units); err != nil {
		c.metrics.Rebuild(metric.ResultFailed, time.Since(start), 0)
		c.log.WithField("error", err).Error("chain rebuild failed")
		return err
	}
	c.metrics.Rebuild(metric.ResultOK, time.Since(start), len(c.chain))
	c.log.WithField("nodes", len(c.chain)).Infof("chain rebuilt in %v", time.Since(start))
	return nil
}

// resolve looks up every unit without side effects.
func (c *Controller) resolve(cfg Configuration) ([]unit.Unit, error) {
	units := make([]unit.Unit, len(cfg))
	for i, e := range cfg {
		u, err := c.registry.Unit(e.Unit)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w: %w", i, ErrUnknownUnit, err)
		}
		units[i] = u
	}
	return units, nil
}

// rebuild must be called with lock held.
func (c *Controller) rebuild(cfg Configuration, units []unit.Unit) error {
	if err := c.discard(); err != nil {
		c.log.WithField("error", err).Warn("failed to close previous chain")
	}

	nodes := make([]Node, 0, len(cfg))
	fail := func(err error) error {
		errs := []error{err}
		for i := len(nodes) - 1; i >= 0; i-- {
			errs = append(errs, nodes[i].Close())
		}
		return errors.Join(errs...)
	}
	for i, e := range cfg {
		n, err := c.factory(e.Unit, units[i])
		if err != nil {
			return fail(fmt.Errorf("entry %d %s: %w", i, e.Unit, err))
		}
		nodes = append(nodes, n)
		if err := n.SetParameters(e.Parameters); err != nil {
			return fail(fmt.Errorf("entry %d %s: %w", i, e.Unit, err))
		}
		if i > 0 {
			if err := n.ConnectInputs(nodes[i-1].OutputPorts()); err != nil {
				return fail(fmt.Errorf("entry %d %s: %w", i, e.Unit, err))
			}
		}
	}
	if len(nodes) > 0 {
		if err := nodes[0].ConnectInputsToCapturePorts(c.inputs, c.settings.MonoInput); err != nil {
			return fail(err)
		}
		if err := nodes[len(nodes)-1].ConnectOutputsToPlaybackPorts(); err != nil {
			return fail(err)
		}
	}
	c.chain = nodes
	c.current = cfg
	c.last = cfg.Copy()
	return nil
}

// discard closes the live chain and leaves the controller Empty. Must be
// called with lock held.
func (c *Controller) discard() error {
	var errs []error
	for i := len(c.chain) - 1; i >= 0; i-- {
		if err := c.chain[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.chain = nil
	c.current = Configuration{}
	return errors.Join(errs...)
}

// SetParameters delivers values to the node at index without rebuilding
// the chain. It returns false if there is no such node. Delivered values
// are reflected in the current configuration, including the leading part
// of a partially delivered update.
func (c *Controller) SetParameters(index int, values []unit.Value) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.chain) {
		c.metrics.ParameterSet(metric.ResultIgnored)
		return false, nil
	}
	if err := c.chain[index].SetParameters(values); err != nil {
		var delivery *engine.DeliveryError
		if errors.As(err, &delivery) {
			c.record(index, values[:delivery.Delivered])
		}
		c.metrics.ParameterSet(metric.ResultFailed)
		return true, fmt.Errorf("node %d: %w", index, err)
	}
	c.record(index, values)
	c.metrics.ParameterSet(metric.ResultOK)
	return true, nil
}

// record must be called with lock held.
func (c *Controller) record(index int, values []unit.Value) {
	if len(values) == 0 {
		return
	}
	params := c.current[index].Parameters
	for len(params) < len(values) {
		params = append(params, 0)
	}
	copy(params, values)
	c.current[index].Parameters = params
	c.last = c.current.Copy()
}

// Reload discards the chain, reloads the registry and applies the last
// successfully applied configuration again. Audio is silent until the
// chain is rebuilt. A failed reload keeps that configuration for the next
// one.
func (c *Controller) Reload() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg := c.last.Copy()
	if err := c.discard(); err != nil {
		c.log.WithField("error", err).Warn("failed to close chain before reload")
	}
	if err := c.registry.Reload(); err != nil {
		return fmt.Errorf("reload registry: %w", err)
	}
	c.log.Info("registry reloaded")
	return c.apply(cfg)
}

// ApplyGlobalSettings stores settings and applies the last configuration
// again so wiring reflects them.
func (c *Controller) ApplyGlobalSettings(s GlobalSettings) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings = s
	return c.apply(c.last.Copy())
}

// Close discards the live chain.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discard()
}

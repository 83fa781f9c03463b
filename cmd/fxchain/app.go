package main

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dudk/fxchain/audio/patchbay"
	"github.com/dudk/fxchain/chain"
	"github.com/dudk/fxchain/config"
	"github.com/dudk/fxchain/engine"
	"github.com/dudk/fxchain/log"
	"github.com/dudk/fxchain/metric"
	"github.com/dudk/fxchain/registry"
)

// app wires the core components together.
type app struct {
	cfg        *config.Config
	log        *logrus.Logger
	metrics    *metric.Metrics
	registry   *registry.Registry
	server     *patchbay.Server
	controller *chain.Controller
}

// newApp loads units, creates the audio server and the controller and
// applies the configured chain.
func newApp(cfg *config.Config) (*app, error) {
	a := &app{
		cfg:     cfg,
		log:     log.GetLogger(cfg.LogLevel),
		metrics: metric.New(),
	}
	reg, err := registry.New(cfg.PluginDir, registry.WithLogger(a.log))
	if err != nil {
		return nil, err
	}
	a.registry = reg
	a.server = patchbay.New(
		cfg.Audio.SampleRate,
		cfg.Audio.BufferSize,
		patchbay.WithCapture(cfg.Audio.Channels),
		patchbay.WithPlayback(cfg.Audio.Channels),
		patchbay.WithLogger(a.log),
	)
	a.controller = chain.New(
		reg,
		chain.Engine(a.server, engine.WithLogger(a.log), engine.WithMetrics(a.metrics)),
		chain.WithInputs(cfg.Inputs),
		chain.WithGlobalSettings(cfg.Settings),
		chain.WithLogger(a.log),
		chain.WithMetrics(a.metrics),
	)
	a.logCatalog()
	if err := a.controller.ApplyConfiguration(cfg.Chain); err != nil {
		return nil, errors.Join(fmt.Errorf("apply initial chain: %w", err), a.close())
	}
	a.logConfiguration()
	return a, nil
}

func (a *app) logCatalog() {
	for _, d := range a.controller.AvailableUnits().Sorted() {
		a.log.WithField("parameters", d.Parameters).Infof("available unit %s", d.Name)
	}
}

func (a *app) logConfiguration() {
	for i, e := range a.controller.CurrentConfiguration() {
		a.log.WithField("parameters", e.Parameters).Infof("chain node %d: %s", i, e.Unit)
	}
}

// close releases the chain before the units it runs.
func (a *app) close() error {
	return errors.Join(a.controller.Close(), a.registry.Close())
}

package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dudk/fxchain/audio/portaudio"
	"github.com/dudk/fxchain/backend"
	"github.com/dudk/fxchain/config"
)

type runCommand struct {
	config     string
	pluginDir  string
	inputPorts stringList
	listen     string
}

func (cmd *runCommand) Name() string {
	return "run"
}

func (cmd *runCommand) Help() string {
	return "Run the chain on the default audio device with HTTP control"
}

func (cmd *runCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&cmd.config, "config", "", "yaml configuration file")
	fs.StringVar(&cmd.pluginDir, "plugin-dir", "", "directory to scan for units")
	fs.Var(&cmd.inputPorts, "input-ports", "semicolon separated capture ports of the first unit")
	fs.StringVar(&cmd.listen, "listen", "", "address of the configuration backend")
}

func (cmd *runCommand) load() (*config.Config, error) {
	cfg, err := config.Load(cmd.config)
	if err != nil {
		return nil, err
	}
	if cmd.pluginDir != "" {
		cfg.PluginDir = cmd.pluginDir
	}
	if len(cmd.inputPorts) > 0 {
		cfg.Inputs = cmd.inputPorts
	}
	if cmd.listen != "" {
		cfg.Listen = cmd.listen
	}
	return cfg, nil
}

func (cmd *runCommand) Run() (err error) {
	cfg, err := cmd.load()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.close())
	}()

	driver, err := portaudio.Start(a.server)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, driver.Close())
	}()

	b := backend.New(backend.WithLogger(a.log), backend.WithMetrics(a.metrics))
	a.controller.Attach(b)
	errc := make(chan error, 1)
	go func() {
		errc <- b.ListenAndServe(cfg.Listen)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	select {
	case s := <-sig:
		a.log.Infof("received %v, shutting down", s)
	case err := <-errc:
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Shutdown(ctx); err != nil {
		return err
	}
	return <-errc
}

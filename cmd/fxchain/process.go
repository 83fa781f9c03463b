package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/dudk/fxchain/audio/wav"
	"github.com/dudk/fxchain/config"
)

type processCommand struct {
	in        string
	out       string
	config    string
	pluginDir string
}

func (cmd *processCommand) Name() string {
	return "process"
}

func (cmd *processCommand) Help() string {
	return "Process a wav file with the configured chain"
}

func (cmd *processCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&cmd.in, "in", "", "input wav file to process (required)")
	fs.StringVar(&cmd.out, "out", "", "output file to save processed audio (required)")
	fs.StringVar(&cmd.config, "config", "", "yaml configuration file")
	fs.StringVar(&cmd.pluginDir, "plugin-dir", "", "directory to scan for units")
}

func (cmd *processCommand) Run() error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	cfg, err := config.Load(cmd.config)
	if err != nil {
		return err
	}
	if cmd.pluginDir != "" {
		cfg.PluginDir = cmd.pluginDir
	}

	in, err := os.Open(cmd.in)
	if err != nil {
		return err
	}
	defer in.Close()
	if cfg.Audio.SampleRate, err = wav.SampleRate(in); err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	out, err := os.Create(cmd.out)
	if err != nil {
		return err
	}
	frames, err := wav.Render(a.server, in, out)
	if err != nil {
		out.Close()
		return err
	}
	a.log.WithField("frames", frames).Infof("processed %s to %s", cmd.in, cmd.out)
	return out.Close()
}

func (cmd *processCommand) Validate() error {
	var missing []string
	if cmd.in == "" {
		missing = append(missing, "Missing -in required flag")
	}
	if cmd.out == "" {
		missing = append(missing, "Missing -out required flag")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s", strings.Join(missing, "\n"))
	}
	return nil
}

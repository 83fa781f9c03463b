// Package config loads fxchain configuration from a yaml file and the
// environment.
//
// Values are resolved in order: defaults, yaml file, environment. A .env
// file in the working directory is loaded into the environment first; it
// never overrides variables that are already set.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dudk/fxchain/backend"
	"github.com/dudk/fxchain/chain"
)

// Environment variables overriding the file.
const (
	EnvPluginDir = "FXCHAIN_PLUGIN_DIR"
	EnvListen    = "FXCHAIN_LISTEN"
	EnvDebug     = "FXCHAIN_DEBUG"
)

// ErrInvalid is returned when configuration values are out of range.
var ErrInvalid = errors.New("invalid configuration")

type (
	// Config is the complete fxchain configuration.
	Config struct {
		PluginDir string               `yaml:"plugin_dir"`
		Inputs    []string             `yaml:"inputs"`
		Listen    string               `yaml:"listen"`
		LogLevel  string               `yaml:"log_level"`
		Audio     Audio                `yaml:"audio"`
		Settings  chain.GlobalSettings `yaml:"settings"`
		Chain     chain.Configuration  `yaml:"chain"`
	}

	// Audio configures the audio server. Buffer size is fixed for the
	// process lifetime.
	Audio struct {
		SampleRate uint32 `yaml:"sample_rate"`
		BufferSize uint32 `yaml:"buffer_size"`
		Channels   int    `yaml:"channels"`
	}
)

// Default returns configuration used when no file is provided.
func Default() *Config {
	return &Config{
		PluginDir: "units",
		Listen:    fmt.Sprintf(":%d", backend.DefaultPort),
		LogLevel:  "info",
		Audio: Audio{
			SampleRate: 48000,
			BufferSize: 256,
			Channels:   2,
		},
		Chain: chain.Configuration{},
	}
}

// Load reads the file at path on top of defaults and applies environment
// overrides. Empty path skips the file.
func Load(path string) (*Config, error) {
	if err := LoadEnv(); err != nil {
		return nil, err
	}
	c := Default()
	if path != "" {
		file, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(file, c); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadEnv loads env files into the environment. Without arguments .env
// is loaded if present.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error loading .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("error loading env files: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(EnvPluginDir); ok && v != "" {
		c.PluginDir = v
	}
	if v, ok := os.LookupEnv(EnvListen); ok && v != "" {
		c.Listen = v
	}
	if debug, err := strconv.ParseBool(os.Getenv(EnvDebug)); err == nil && debug {
		c.LogLevel = "debug"
	}
}

// Validate checks values that cannot be changed at runtime.
func (c *Config) Validate() error {
	switch {
	case c.PluginDir == "":
		return fmt.Errorf("%w: empty plugin_dir", ErrInvalid)
	case c.Audio.SampleRate == 0:
		return fmt.Errorf("%w: zero sample_rate", ErrInvalid)
	case c.Audio.BufferSize == 0:
		return fmt.Errorf("%w: zero buffer_size", ErrInvalid)
	case c.Audio.Channels < 1:
		return fmt.Errorf("%w: channels %d", ErrInvalid, c.Audio.Channels)
	}
	for i, e := range c.Chain {
		if e.Unit == "" {
			return fmt.Errorf("%w: chain entry %d has no name", ErrInvalid, i)
		}
	}
	return nil
}

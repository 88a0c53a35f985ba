// Package config loads the compiler settings file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/jit/internal/isel"
	"github.com/tinyrange/jit/internal/value"
)

const DefaultFilename = "jit.yaml"

// ShowCodeEnv forces disassembly output on when set to a non-empty value.
const ShowCodeEnv = "SHOW_CODE"

type Color string

const (
	ColorAuto   Color = "auto"
	ColorAlways Color = "always"
	ColorNever  Color = "never"
)

type Config struct {
	Arch        string `yaml:"arch,omitempty"`
	ValuePolicy string `yaml:"value_policy,omitempty"`
	ShowCode    bool   `yaml:"show_code,omitempty"`
	LogLevel    string `yaml:"log_level,omitempty"`
	Color       Color  `yaml:"color,omitempty"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	var c Config
	c.normalize()
	return c
}

func (c *Config) normalize() {
	if c.Arch == "" {
		c.Arch = "native"
	}
	if c.ValuePolicy == "" {
		c.ValuePolicy = value.FitsInRegister.String()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Color == "" {
		c.Color = ColorAuto
	}
}

// Validate checks every field parses.
func (c Config) Validate() error {
	if _, err := c.Architecture(); err != nil {
		return err
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.Color {
	case ColorAuto, ColorAlways, ColorNever:
	default:
		return fmt.Errorf("config: unknown color mode %q", c.Color)
	}
	return nil
}

func (c Config) Architecture() (isel.Architecture, error) {
	return isel.ParseArchitecture(c.Arch)
}

func (c Config) Policy() (value.Policy, error) {
	return value.ParsePolicy(c.ValuePolicy)
}

func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// ApplyEnv folds environment overrides into c.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv(ShowCodeEnv) != "" {
		c.ShowCode = true
	}
}

// Parse decodes a settings document. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Load reads path, or returns the defaults when path is empty. The
// environment is applied either way.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		c, err = Parse(data)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	c.ApplyEnv(os.Getenv)
	return c, nil
}

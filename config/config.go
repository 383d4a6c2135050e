// File: config/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package config loads server settings from YAML files.
package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

// Config carries the deployable knobs of a server instance.
type Config struct {
	Name           string `yaml:"name"`
	Listen         string `yaml:"listen"`          // "ip:port"
	ReusePort      bool   `yaml:"reuse_port"`      // SO_REUSEPORT on the listener
	IOThreads      int    `yaml:"io_threads"`      // worker loops, 0 = single reactor
	ComputeWorkers int    `yaml:"compute_workers"` // 0 = no compute pool
	HighWaterMark  int    `yaml:"high_water_mark"` // outbound backpressure threshold, bytes
	TCPNoDelay     bool   `yaml:"tcp_nodelay"`
	KeepAlive      bool   `yaml:"keep_alive"`
	CPUs           []int  `yaml:"cpus"`      // loop thread pin set, cycled
	LogLevel       string `yaml:"log_level"` // trace|debug|info|warn|error
}

// Default returns a config suitable for local experiments.
func Default() *Config {
	return &Config{
		Name:          "hioload",
		Listen:        "127.0.0.1:9000",
		IOThreads:     0,
		HighWaterMark: 64 * 1024 * 1024,
		TCPNoDelay:    true,
		KeepAlive:     true,
		LogLevel:      "info",
	}
}

// Load reads and validates a YAML config file, starting from defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.UnmarshalStrict(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot honor.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.IOThreads < 0 {
		return fmt.Errorf("io_threads must be >= 0, got %d", c.IOThreads)
	}
	if c.ComputeWorkers < 0 {
		return fmt.Errorf("compute_workers must be >= 0, got %d", c.ComputeWorkers)
	}
	if c.HighWaterMark < 0 {
		return fmt.Errorf("high_water_mark must be >= 0, got %d", c.HighWaterMark)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); c.LogLevel != "" && err != nil {
		return fmt.Errorf("bad log_level %q: %w", c.LogLevel, err)
	}
	return nil
}

// Level returns the parsed log level, defaulting to info.
func (c *Config) Level() zerolog.Level {
	if c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

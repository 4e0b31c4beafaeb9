// Package config loads the proxy's YAML configuration: listening port,
// worker cap, and the upstream node list.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nullstream/adaptivelb/internal/errs"
)

const (
	// DefaultPort is server.port when unset.
	DefaultPort = 8000
	// DefaultMaxThreads is server.max_threads when unset.
	DefaultMaxThreads = 32
	// DefaultNodePort is a node's port when unset.
	DefaultNodePort = 80
)

// NodeConfig describes one upstream origin.
type NodeConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ServerConfig describes the listening acceptor.
type ServerConfig struct {
	Port       int `yaml:"port"`
	MaxThreads int `yaml:"max_threads"`
}

// Config is the top-level document shape read from the YAML config file.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Nodes  []NodeConfig `yaml:"nodes"`
}

// Load reads and validates a Config from path. A config with zero nodes
// is a ConfigError: a load balancer with nothing to balance across cannot
// serve traffic.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.NewConfigError("reading config file", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errs.NewConfigError("parsing config file", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.MaxThreads == 0 {
		cfg.Server.MaxThreads = DefaultMaxThreads
	}
	for i := range cfg.Nodes {
		if cfg.Nodes[i].Port == 0 {
			cfg.Nodes[i].Port = DefaultNodePort
		}
	}
}

func validate(cfg *Config) error {
	if len(cfg.Nodes) == 0 {
		return errs.NewConfigError("nodes must contain at least one entry", nil)
	}
	for _, n := range cfg.Nodes {
		if n.Host == "" {
			return errs.NewConfigError("node host must not be empty", nil)
		}
	}
	if cfg.Server.MaxThreads <= 0 {
		return errs.NewConfigError("server.max_threads must be positive", nil)
	}
	return nil
}

// Package config loads the top-level process configuration (spec §0
// Ambient Stack): listener ports, VM tick/time budgets, the scheduler's
// commit-retry bound, and the narrative log's cache caps.
package config

import (
	"fmt"
	"os"
	"time"

	"canopy/logging"
	"canopy/narrative"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration, loaded from one YAML file at
// startup (spec §0, §10 "EstablishConnection" listener setup).
type Config struct {
	Listener  Listener         `yaml:"listener"`
	VM        VM               `yaml:"vm"`
	Scheduler Scheduler        `yaml:"scheduler"`
	Narrative narrative.Config `yaml:"narrative"`
	Storage   Storage          `yaml:"storage"`
	Logging   LoggingConfig    `yaml:"logging"`
	Metrics   Metrics          `yaml:"metrics"`
}

// Listener configures the host-facing network endpoints.
type Listener struct {
	TelnetPort int    `yaml:"telnet_port"`
	WebPort    int    `yaml:"web_port,omitempty"`
	BindAddr   string `yaml:"bind_addr,omitempty"`
}

// VM configures per-task execution budgets (spec §6 tick/time metering).
type VM struct {
	TickBudget     int64         `yaml:"tick_budget"`
	TimeBudget     time.Duration `yaml:"time_budget"`
	ForkTickBudget int64         `yaml:"fork_tick_budget,omitempty"`
	MaxStackDepth  int           `yaml:"max_stack_depth,omitempty"`
}

// Scheduler configures task retry and worker-pool sizing (spec §8).
type Scheduler struct {
	MaxCommitRetries int `yaml:"max_commit_retries"`
	WorkerPoolSize   int `yaml:"worker_pool_size"`
}

// Storage configures the MVCC engine's disk tier.
type Storage struct {
	DBPath string `yaml:"db_path"`
}

// LoggingConfig mirrors logging.Config with yaml tags; ToLogging converts
// the string level into logging.Level.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	JSONOutput bool   `yaml:"json_output,omitempty"`
}

func (c LoggingConfig) ToLogging() logging.Config {
	return logging.Config{Level: logging.Level(c.Level), JSONOutput: c.JSONOutput}
}

// Metrics configures the Prometheus exporter.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr,omitempty"`
}

// Default returns the configuration used when no file is supplied, tuned
// to the same constants the teacher hardcodes today (port 7777) plus the
// spec's concurrency-retry defaults.
func Default() Config {
	return Config{
		Listener:  Listener{TelnetPort: 7777, BindAddr: "0.0.0.0"},
		VM:        VM{TickBudget: 60000, TimeBudget: 5 * time.Second, ForkTickBudget: 15000, MaxStackDepth: 50},
		Scheduler: Scheduler{MaxCommitRetries: 5, WorkerPoolSize: 8},
		Narrative: narrative.DefaultConfig(),
		Storage:   Storage{DBPath: "canopy.db"},
		Logging:   LoggingConfig{Level: "info"},
		Metrics:   Metrics{Enabled: true, Addr: ":9090"},
	}
}

// Load reads and parses a YAML config file, filling any field the file
// omits from Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

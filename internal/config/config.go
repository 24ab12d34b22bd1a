// Package config provides YAML-based configuration loading for amrbridge.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level amrbridge configuration, loaded from config.yaml.
type Config struct {
	OrgID      string           `yaml:"org_id"`
	Database   DatabaseConfig   `yaml:"database"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	API        APIConfig        `yaml:"api"`
	Tracker    TrackerConfig    `yaml:"tracker"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Chaining   ChainingConfig   `yaml:"chaining"`
	Notify     NotifyConfig     `yaml:"notify"`
}

// DatabaseConfig holds MySQL connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// GatewayConfig selects and configures the external AMR gateway.
type GatewayConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Simulated      bool   `yaml:"simulated"`
}

// APIConfig holds the REST server settings.
type APIConfig struct {
	Port int `yaml:"port"`
}

// TrackerConfig holds the execution-tracker timing constants, in seconds.
// A real deployment may tune these per robot type; they are configuration,
// not hard-coded simulation literals.
type TrackerConfig struct {
	CreatedSeconds    int `yaml:"created_seconds"`   // t1
	ExecutingSeconds  int `yaml:"executing_seconds"` // t2
	WaitingSeconds    int `yaml:"waiting_seconds"`   // t3
	FinalSeconds      int `yaml:"final_seconds"`     // t4
	StepDwellSeconds  int `yaml:"step_dwell_seconds"`
	CancellingSeconds int `yaml:"cancelling_seconds"`
}

// DispatcherConfig holds the dispatch loop settings.
type DispatcherConfig struct {
	PollSeconds int `yaml:"poll_seconds"`
	DrainBatch  int `yaml:"drain_batch"`
}

// SchedulerConfig holds the schedule poll loop settings.
type SchedulerConfig struct {
	PollSeconds int `yaml:"poll_seconds"`
	Batch       int `yaml:"batch"`
}

// ChainingConfig controls the opportunistic job-chaining evaluator.
type ChainingConfig struct {
	// MaxConsecutiveJobs caps same-map chains per robot. 0 disables
	// chaining entirely.
	MaxConsecutiveJobs map[string]int `yaml:"max_consecutive_jobs"`
	DefaultMax         int            `yaml:"default_max"`
	CrossMapEnabled    bool           `yaml:"cross_map_enabled"`
}

// NotifyConfig holds optional ops-alert delivery settings.
type NotifyConfig struct {
	SlackToken     string `yaml:"slack_token"`
	SlackChannel   string `yaml:"slack_channel"`
	DiscordToken   string `yaml:"discord_token"`
	DiscordChannel string `yaml:"discord_channel"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with all defaults applied and no file read,
// suitable for tests and the simulator.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.OrgID == "" {
		c.OrgID = "default"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Database.Database == "" {
		c.Database.Database = "amrbridge"
	}
	if c.Gateway.TimeoutSeconds == 0 {
		c.Gateway.TimeoutSeconds = 10
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Tracker.CreatedSeconds == 0 {
		c.Tracker.CreatedSeconds = 3
	}
	if c.Tracker.ExecutingSeconds == 0 {
		c.Tracker.ExecutingSeconds = 5
	}
	if c.Tracker.WaitingSeconds == 0 {
		c.Tracker.WaitingSeconds = 3
	}
	if c.Tracker.FinalSeconds == 0 {
		c.Tracker.FinalSeconds = 10
	}
	if c.Tracker.StepDwellSeconds == 0 {
		c.Tracker.StepDwellSeconds = 4
	}
	if c.Tracker.CancellingSeconds == 0 {
		c.Tracker.CancellingSeconds = 2
	}
	if c.Dispatcher.PollSeconds == 0 {
		c.Dispatcher.PollSeconds = 5
	}
	if c.Dispatcher.DrainBatch == 0 {
		c.Dispatcher.DrainBatch = 10
	}
	if c.Scheduler.PollSeconds == 0 {
		c.Scheduler.PollSeconds = 30
	}
	if c.Scheduler.Batch == 0 {
		c.Scheduler.Batch = 20
	}
	if c.Chaining.DefaultMax == 0 {
		c.Chaining.DefaultMax = 1
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if !c.Gateway.Simulated && c.Gateway.BaseURL == "" {
		errs = append(errs, "gateway.base_url is required unless gateway.simulated is true")
	}
	if c.Tracker.CancellingSeconds < 0 {
		errs = append(errs, "tracker.cancelling_seconds must not be negative")
	}
	if c.Chaining.DefaultMax < 0 {
		errs = append(errs, "chaining.default_max must not be negative")
	}
	for mapCode, max := range c.Chaining.MaxConsecutiveJobs {
		if max < 0 {
			errs = append(errs, fmt.Sprintf("chaining.max_consecutive_jobs[%s] must not be negative", mapCode))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// MaxJobsForMap returns the same-map chaining limit for a map code,
// falling back to the default when no per-map override exists.
func (c *ChainingConfig) MaxJobsForMap(mapCode string) int {
	if max, ok := c.MaxConsecutiveJobs[mapCode]; ok {
		return max
	}
	return c.DefaultMax
}

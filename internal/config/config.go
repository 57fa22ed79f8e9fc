package config

import (
	"fmt"
	"time"

	"github.com/coreforge/agentd/pkg/models"
)

// Config is the root configuration document: the declarative population of
// agents, models, and tool servers the Registry (C9) loads at startup, plus
// the ambient settings for the scheduler, cache, and session hub.
type Config struct {
	Agents      []models.AgentDefinition      `yaml:"agents"`
	Models      []models.ModelDefinition      `yaml:"models"`
	ToolServers []models.ToolServerDefinition `yaml:"tool_servers"`

	Cache     CacheConfig     `yaml:"cache,omitempty"`
	Scheduler SchedulerConfig `yaml:"scheduler,omitempty"`
	Hub       HubConfig       `yaml:"hub,omitempty"`
	Log       LogConfig       `yaml:"log,omitempty"`
}

// CacheConfig configures the Response Cache (C10).
type CacheConfig struct {
	Enabled bool          `yaml:"enabled,omitempty"`
	TTL     time.Duration `yaml:"ttl,omitempty"`
}

// SchedulerConfig configures the Task Scheduler (C12).
type SchedulerConfig struct {
	Enabled         bool          `yaml:"enabled,omitempty"`
	DatabaseDSN     string        `yaml:"database_dsn,omitempty"`
	PollInterval    time.Duration `yaml:"poll_interval,omitempty"`
	AcquireInterval time.Duration `yaml:"acquire_interval,omitempty"`
	LockDuration    time.Duration `yaml:"lock_duration,omitempty"`
	MaxConcurrency  int           `yaml:"max_concurrency,omitempty"`
	CleanupInterval time.Duration `yaml:"cleanup_interval,omitempty"`
	StaleTimeout    time.Duration `yaml:"stale_timeout,omitempty"`
}

// HubConfig configures the Session Hub's (C13) HTTP surface.
type HubConfig struct {
	ListenAddr      string        `yaml:"listen_addr,omitempty"`
	HeartbeatPeriod time.Duration `yaml:"heartbeat_period,omitempty"`
	MaxMissedPings  int           `yaml:"max_missed_pings,omitempty"`
	OutboundQueue   int           `yaml:"outbound_queue,omitempty"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// DefaultConfig returns the zero-value config with every ambient setting
// filled to its production default.
func DefaultConfig() Config {
	return Config{
		Cache: CacheConfig{Enabled: true, TTL: 10 * time.Minute},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			PollInterval:    5 * time.Second,
			AcquireInterval: time.Second,
			LockDuration:    5 * time.Minute,
			MaxConcurrency:  10,
			CleanupInterval: time.Minute,
			StaleTimeout:    10 * time.Minute,
		},
		Hub: HubConfig{
			ListenAddr:      ":8090",
			HeartbeatPeriod: 30 * time.Second,
			MaxMissedPings:  3,
			OutboundQueue:   256,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads, merges $include directives, and decodes the configuration at
// path, then validates it.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = defaults.Cache.TTL
	}
	if cfg.Scheduler.PollInterval == 0 {
		cfg.Scheduler.PollInterval = defaults.Scheduler.PollInterval
	}
	if cfg.Scheduler.AcquireInterval == 0 {
		cfg.Scheduler.AcquireInterval = defaults.Scheduler.AcquireInterval
	}
	if cfg.Scheduler.LockDuration == 0 {
		cfg.Scheduler.LockDuration = defaults.Scheduler.LockDuration
	}
	if cfg.Scheduler.MaxConcurrency == 0 {
		cfg.Scheduler.MaxConcurrency = defaults.Scheduler.MaxConcurrency
	}
	if cfg.Scheduler.CleanupInterval == 0 {
		cfg.Scheduler.CleanupInterval = defaults.Scheduler.CleanupInterval
	}
	if cfg.Scheduler.StaleTimeout == 0 {
		cfg.Scheduler.StaleTimeout = defaults.Scheduler.StaleTimeout
	}
	if cfg.Hub.ListenAddr == "" {
		cfg.Hub.ListenAddr = defaults.Hub.ListenAddr
	}
	if cfg.Hub.HeartbeatPeriod == 0 {
		cfg.Hub.HeartbeatPeriod = defaults.Hub.HeartbeatPeriod
	}
	if cfg.Hub.MaxMissedPings == 0 {
		cfg.Hub.MaxMissedPings = defaults.Hub.MaxMissedPings
	}
	if cfg.Hub.OutboundQueue == 0 {
		cfg.Hub.OutboundQueue = defaults.Hub.OutboundQueue
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
}

// Validate checks structural and cross-reference invariants: every model
// and tool server an agent names must exist, and the P1 MCP compatibility
// invariant (supports_mcp ∨ wrap_as_functions) must hold for every
// (agent, tool server) pair.
func (c *Config) Validate() error {
	modelsByName := make(map[string]models.ModelDefinition, len(c.Models))
	for _, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("model definition missing name")
		}
		modelsByName[m.Name] = m
	}

	serversByName := make(map[string]models.ToolServerDefinition, len(c.ToolServers))
	for _, s := range c.ToolServers {
		if s.Name == "" {
			return fmt.Errorf("tool server definition missing name")
		}
		serversByName[s.Name] = s
	}

	for _, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent definition missing name")
		}
		model, ok := modelsByName[a.ModelName]
		if !ok {
			return fmt.Errorf("agent %q references unknown model %q", a.Name, a.ModelName)
		}
		for _, serverName := range a.ToolServers {
			server, ok := serversByName[serverName]
			if !ok {
				return fmt.Errorf("agent %q references unknown tool server %q", a.Name, serverName)
			}
			if !model.SupportsMCP && !server.WrapAsFunctions {
				return fmt.Errorf(
					"agent %q: model %q supports neither native MCP nor wrapped tools for server %q",
					a.Name, model.Name, serverName)
			}
		}
	}
	return nil
}

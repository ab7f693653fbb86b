// Package config loads settings from defaults, an optional YAML file and
// NP_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const (
	defaultServerPort      = 8080
	defaultShutdownTimeout = 5 * time.Second
	defaultMaxClients      = 32
	defaultMockInterval    = 500 * time.Millisecond
	defaultPollInterval    = 2 * time.Second
	defaultCPUThreshold    = 2.0
	defaultClientBuffer    = 64
	defaultResyncSchedule  = "@every 30s"
	defaultDrainTimeout    = 500 * time.Millisecond
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Source   SourceConfig   `mapstructure:"source"`
	Registry RegistryConfig `mapstructure:"registry"`
	Bridge   BridgeConfig   `mapstructure:"bridge"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	AuthToken       string        `mapstructure:"auth_token"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	MaxClients      int           `mapstructure:"max_clients"` // 0 is unlimited
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level     string `mapstructure:"level"`  // debug, info, warn, error
	Format    string `mapstructure:"format"` // json, text
	AddSource bool   `mapstructure:"add_source"`
}

// SourceConfig selects and configures the session source.
type SourceConfig struct {
	Kind     string         `mapstructure:"kind"` // mock, process, scenario
	Mock     MockConfig     `mapstructure:"mock"`
	Process  ProcessConfig  `mapstructure:"process"`
	Scenario ScenarioConfig `mapstructure:"scenario"`
}

type MockConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Seed     int64         `mapstructure:"seed"` // 0 seeds from the clock
}

type ProcessConfig struct {
	Players             []string      `mapstructure:"players"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	PlayingCPUThreshold float64       `mapstructure:"playing_cpu_threshold"`
}

type ScenarioConfig struct {
	Path string `mapstructure:"path"`
	Loop bool   `mapstructure:"loop"`
}

// RegistryConfig sizes the event stream between listener and registry.
// DrainTimeout bounds how long a removed session's relay waits for its
// update stream to close before it is cancelled.
type RegistryConfig struct {
	Buffer       int           `mapstructure:"buffer"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

// BridgeConfig controls what reaches UI clients.
type BridgeConfig struct {
	ClientBuffer   int      `mapstructure:"client_buffer"`
	ResyncSchedule string   `mapstructure:"resync_schedule"` // cron schedule, empty disables
	SourcePriority []string `mapstructure:"source_priority"`
	AllowedSources []string `mapstructure:"allowed_sources"`
	BlockedSources []string `mapstructure:"blocked_sources"`
	MaskSources    bool     `mapstructure:"mask_sources"`
	StripArtwork   bool     `mapstructure:"strip_artwork"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence and use underscores for nesting,
// e.g. NP_SERVER_PORT=9090.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	return LoadWith(v, configPath)
}

// LoadWith is Load on a caller-provided viper instance, so command flags
// bound to v override file and env values.
func LoadWith(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("nowplaying")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/nowplaying")
	}

	v.SetEnvPrefix("NP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// SetDefaults registers every key, which also makes each one reachable
// through AutomaticEnv.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.auth_token", "")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.max_clients", defaultMaxClients)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)

	v.SetDefault("source.kind", "mock")
	v.SetDefault("source.mock.interval", defaultMockInterval)
	v.SetDefault("source.mock.seed", 0)
	v.SetDefault("source.process.players", []string{"spotify", "vlc", "foobar2000", "mpv", "musicbee", "itunes"})
	v.SetDefault("source.process.poll_interval", defaultPollInterval)
	v.SetDefault("source.process.playing_cpu_threshold", defaultCPUThreshold)
	v.SetDefault("source.scenario.path", "")
	v.SetDefault("source.scenario.loop", false)

	v.SetDefault("registry.buffer", 1)
	v.SetDefault("registry.drain_timeout", defaultDrainTimeout)

	v.SetDefault("bridge.client_buffer", defaultClientBuffer)
	v.SetDefault("bridge.resync_schedule", defaultResyncSchedule)
	v.SetDefault("bridge.source_priority", []string{})
	v.SetDefault("bridge.allowed_sources", []string{})
	v.SetDefault("bridge.blocked_sources", []string{})
	v.SetDefault("bridge.mask_sources", false)
	v.SetDefault("bridge.strip_artwork", false)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}
	if c.Server.MaxClients < 0 {
		return fmt.Errorf("server.max_clients must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	switch c.Source.Kind {
	case "mock", "process":
	case "scenario":
		if c.Source.Scenario.Path == "" {
			return fmt.Errorf("source.scenario.path is required for the scenario source")
		}
	default:
		return fmt.Errorf("source.kind must be one of: mock, process, scenario")
	}

	if c.Registry.Buffer < 1 {
		return fmt.Errorf("registry.buffer must be at least 1")
	}
	if c.Registry.DrainTimeout < 0 {
		return fmt.Errorf("registry.drain_timeout must not be negative")
	}
	if c.Bridge.ClientBuffer < 1 {
		return fmt.Errorf("bridge.client_buffer must be at least 1")
	}
	if c.Bridge.ResyncSchedule != "" {
		if _, err := cron.ParseStandard(c.Bridge.ResyncSchedule); err != nil {
			return fmt.Errorf("bridge.resync_schedule: %w", err)
		}
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Package config provides YAML-based configuration loading for the node.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name of the node/application
	AppName string `mapstructure:"app_name"`

	// System is the actor system name stamped into local addresses
	System string `mapstructure:"system"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Remoting holds transport contract tuning (gates, management, trust)
	Remoting RemotingConfig `mapstructure:"remoting"`

	// Transports list to configure the bound inbound endpoints
	Transports []TransportConfig `mapstructure:"transports"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "akka-node",
		System:  "default",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Remoting: RemotingConfig{
			GateTimeoutMS:      60_000,
			CommandTimeoutMS:   5_000,
			OutboundQueue:      256,
			UntrustedMode:      false,
			LogLifecycleEvents: true,
		},
		Transports: []TransportConfig{
			{Kind: "tcp", Listen: []string{"127.0.0.1:2552"}},
		},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix AKKA and `.`/`-` are replaced with `_`.
// Example: AKKA_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("AKKA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("system", cfg.System)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("remoting.gate_timeout_ms", cfg.Remoting.GateTimeoutMS)
	v.SetDefault("remoting.command_timeout_ms", cfg.Remoting.CommandTimeoutMS)
	v.SetDefault("remoting.outbound_queue", cfg.Remoting.OutboundQueue)
	v.SetDefault("remoting.untrusted_mode", cfg.Remoting.UntrustedMode)
	v.SetDefault("remoting.log_lifecycle_events", cfg.Remoting.LogLifecycleEvents)
	v.SetDefault("transports", cfg.Transports)

	if path == "" {
		if envPath := os.Getenv("AKKA_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `akka`
		v.SetConfigName("akka")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".akka"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if strings.TrimSpace(c.System) == "" {
		c.System = "default"
	}
	if c.Remoting.GateTimeoutMS <= 0 {
		c.Remoting.GateTimeoutMS = 60_000
	}
	if c.Remoting.CommandTimeoutMS <= 0 {
		c.Remoting.CommandTimeoutMS = 5_000
	}
	if c.Remoting.OutboundQueue <= 0 {
		c.Remoting.OutboundQueue = 256
	}
	for i := range c.Transports {
		c.Transports[i].Kind = strings.ToLower(strings.TrimSpace(c.Transports[i].Kind))
		if c.Transports[i].Kind == "" {
			return fmt.Errorf("transports[%d]: missing kind", i)
		}
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

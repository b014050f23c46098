package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for LumiBot Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database Database       `yaml:"database"`
	Broker   Broker         `yaml:"broker"`
	Session  Session        `yaml:"session"`
	Logging  Logging        `yaml:"logging"`
	InfluxDB InfluxDB       `yaml:"influxdb"`
	Registry RegistryConfig `yaml:"registry"`
}

// Database contains SQLite database settings for the settings store
// and the device registry.
type Database struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// Broker contains default MQTT broker connection details.
//
// These are seed values only: the live values are read from the
// persistent settings store on every connect attempt, so a runtime
// override in the store takes effect without a restart.
type Broker struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Path     string `yaml:"path"`
	TLS      bool   `yaml:"tls"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Session contains tunables for the MQTT session core.
type Session struct {
	// ConnectTimeout is the transport-level connect timeout in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// KeepAlive is the MQTT keepalive interval in seconds.
	KeepAlive int `yaml:"keep_alive"`

	// DebounceWindow is the minimum interval between two externally
	// requested connects, in seconds.
	DebounceWindow int `yaml:"debounce_window"`

	// DisconnectGrace is how long a lost connection may recover before
	// observers are told about it, in milliseconds.
	DisconnectGrace int `yaml:"disconnect_grace"`

	// StaleThreshold is the duration of inbound silence after which a
	// nominally-connected session is treated as half-open, in seconds.
	StaleThreshold int `yaml:"stale_threshold"`

	// Reconnect controls the backoff schedule between reconnect attempts.
	Reconnect Reconnect `yaml:"reconnect"`
}

// Reconnect contains reconnect backoff settings.
type Reconnect struct {
	InitialDelayMs int     `yaml:"initial_delay_ms"`
	Multiplier     float64 `yaml:"multiplier"`
	MaxDelayMs     int     `yaml:"max_delay_ms"`
	MaxAttempts    int     `yaml:"max_attempts"`
}

// Logging contains logging settings.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// InfluxDB contains the optional state-history sink settings.
type InfluxDB struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// RegistryConfig contains device registry settings.
type RegistryConfig struct {
	// UserID identifies whose device list this instance manages.
	UserID string `yaml:"user_id"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: LUMIBOT_SECTION_KEY
// For example: LUMIBOT_DATABASE_PATH, LUMIBOT_BROKER_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
// Session defaults match the behaviour documented in internal/session.
func defaultConfig() *Config {
	return &Config{
		Database: Database{
			Path:        "./data/lumibot.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Broker: Broker{
			Host: "ernesto-heptamerous-lourdes.ngrok-free.dev",
			Port: 443,
			Path: "/mqtt",
			TLS:  true,
		},
		Session: Session{
			ConnectTimeout:  20,
			KeepAlive:       60,
			DebounceWindow:  3,
			DisconnectGrace: 1500,
			StaleThreshold:  60,
			Reconnect: Reconnect{
				InitialDelayMs: 2000,
				Multiplier:     1.5,
				MaxDelayMs:     30000,
				MaxAttempts:    15,
			},
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		InfluxDB: InfluxDB{
			Enabled:       false,
			BatchSize:     100,
			FlushInterval: 10,
		},
		Registry: RegistryConfig{
			UserID: "local",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: LUMIBOT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("LUMIBOT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Broker
	if v := os.Getenv("LUMIBOT_BROKER_HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v := os.Getenv("LUMIBOT_BROKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Broker.Port = port
		}
	}
	if v := os.Getenv("LUMIBOT_BROKER_USERNAME"); v != "" {
		cfg.Broker.Username = v
	}
	if v := os.Getenv("LUMIBOT_BROKER_PASSWORD"); v != "" {
		cfg.Broker.Password = v
	}

	// InfluxDB
	if v := os.Getenv("LUMIBOT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Broker.Host == "" {
		errs = append(errs, "broker.host is required")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		errs = append(errs, "broker.port must be between 1 and 65535")
	}
	if c.Broker.Path != "" && !strings.HasPrefix(c.Broker.Path, "/") {
		errs = append(errs, "broker.path must be empty or start with /")
	}

	if c.Session.Reconnect.Multiplier < 1 {
		errs = append(errs, "session.reconnect.multiplier must be >= 1")
	}
	if c.Session.Reconnect.MaxAttempts < 1 {
		errs = append(errs, "session.reconnect.max_attempts must be >= 1")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetConnectTimeout returns the transport connect timeout as a Duration.
func (s Session) GetConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeout) * time.Second
}

// GetKeepAlive returns the keepalive interval as a Duration.
func (s Session) GetKeepAlive() time.Duration {
	return time.Duration(s.KeepAlive) * time.Second
}

// GetDebounceWindow returns the connect debounce window as a Duration.
func (s Session) GetDebounceWindow() time.Duration {
	return time.Duration(s.DebounceWindow) * time.Second
}

// GetDisconnectGrace returns the disconnect notification grace as a Duration.
func (s Session) GetDisconnectGrace() time.Duration {
	return time.Duration(s.DisconnectGrace) * time.Millisecond
}

// GetStaleThreshold returns the half-open detection threshold as a Duration.
func (s Session) GetStaleThreshold() time.Duration {
	return time.Duration(s.StaleThreshold) * time.Second
}

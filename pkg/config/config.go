package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Client      ClientConfig      `yaml:"client"`
	Relay       RelayConfig       `yaml:"relay"`
	Presence    PresenceConfig    `yaml:"presence"`
	Arbiter     ArbiterConfig     `yaml:"arbiter"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Security    SecurityConfig    `yaml:"security"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ClientConfig struct {
	ID               string `yaml:"id"`
	RelayURL         string `yaml:"relay_url"`
	Discover         bool   `yaml:"discover"`
	DialTimeoutMs    int    `yaml:"dial_timeout_ms"`
	BackoffInitialMs int    `yaml:"backoff_initial_ms"`
	BackoffMaxMs     int    `yaml:"backoff_max_ms"`
	OutboxSize       int    `yaml:"outbox_size"`
}

type RelayConfig struct {
	BindAddress string      `yaml:"bind_address"`
	Port        int         `yaml:"port"`
	Authority   bool        `yaml:"authority"` // relay сам выдаёт слоты редакторов
	Redis       RedisConfig `yaml:"redis"`
	MDNS        MDNSConfig  `yaml:"mdns"`
}

type RedisConfig struct {
	Addr          string `yaml:"addr"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

type MDNSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Service string `yaml:"service"`
}

type PresenceConfig struct {
	HeartbeatIntervalMs int `yaml:"heartbeat_interval_ms"`
	TimeoutMs           int `yaml:"timeout_ms"`
}

type ArbiterConfig struct {
	MaxEditors int    `yaml:"max_editors"`
	Mode       string `yaml:"mode"` // peer | relay
}

type PersistenceConfig struct {
	Driver             string `yaml:"driver"` // memory | bolt | postgres
	Path               string `yaml:"path"`
	DSN                string `yaml:"dsn"`
	SnapshotIntervalMs int    `yaml:"snapshot_interval_ms"`
	Retries            int    `yaml:"retries"`
	RetryInitialMs     int    `yaml:"retry_initial_ms"`
	WarnThreshold      int    `yaml:"warn_threshold"`
}

type SecurityConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cert    string `yaml:"cert"`
	Key     string `yaml:"key"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func (c ClientConfig) DialTimeout() time.Duration           { return ms(c.DialTimeoutMs) }
func (c ClientConfig) BackoffInitial() time.Duration        { return ms(c.BackoffInitialMs) }
func (c ClientConfig) BackoffMax() time.Duration            { return ms(c.BackoffMaxMs) }
func (c PresenceConfig) HeartbeatInterval() time.Duration   { return ms(c.HeartbeatIntervalMs) }
func (c PresenceConfig) Timeout() time.Duration             { return ms(c.TimeoutMs) }
func (c PersistenceConfig) SnapshotInterval() time.Duration { return ms(c.SnapshotIntervalMs) }
func (c PersistenceConfig) RetryInitial() time.Duration     { return ms(c.RetryInitialMs) }

func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Load читает файл, дополняет значениями по умолчанию и валидирует
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	cfg.PopulateDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

package config

import (
	"collabsync/pkg/structs"

	"github.com/google/uuid"
)

var knownDrivers = structs.NewSet("memory", "bolt", "postgres")
var knownModes = structs.NewSet("peer", "relay")
var knownLevels = structs.NewSet("debug", "info", "warn", "error")

var defaultClient = ClientConfig{
	RelayURL:         "ws://127.0.0.1:9090",
	DialTimeoutMs:    5000,
	BackoffInitialMs: 250,
	BackoffMaxMs:     10000,
	OutboxSize:       256,
}

var defaultRelay = RelayConfig{
	BindAddress: "127.0.0.1",
	Port:        9090,
	Redis: RedisConfig{
		ChannelPrefix: "collabsync:room:",
	},
	MDNS: MDNSConfig{
		Service: "_collabsync._tcp",
	},
}

var defaultPresence = PresenceConfig{
	HeartbeatIntervalMs: 10_000,
	TimeoutMs:           30_000,
}

var defaultArbiter = ArbiterConfig{
	MaxEditors: 5,
	Mode:       "peer",
}

var defaultPersistence = PersistenceConfig{
	Driver:             "memory",
	Path:               "snapshots.db",
	SnapshotIntervalMs: 120_000,
	Retries:            5,
	RetryInitialMs:     500,
	WarnThreshold:      3,
}

var defaultLogging = LoggingConfig{
	Level: "info",
}

func Default() *Config {
	cfg := &Config{
		Client:      defaultClient,
		Relay:       defaultRelay,
		Presence:    defaultPresence,
		Arbiter:     defaultArbiter,
		Persistence: defaultPersistence,
		Logging:     defaultLogging,
	}
	cfg.Client.ID = uuid.New().String()
	return cfg
}

func (c *ClientConfig) PopulateDefaults() {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	if c.RelayURL == "" && !c.Discover {
		c.RelayURL = defaultClient.RelayURL
	}

	if c.DialTimeoutMs == 0 {
		c.DialTimeoutMs = defaultClient.DialTimeoutMs
	}

	if c.BackoffInitialMs == 0 {
		c.BackoffInitialMs = defaultClient.BackoffInitialMs
	}

	if c.BackoffMaxMs == 0 {
		c.BackoffMaxMs = defaultClient.BackoffMaxMs
	}

	if c.OutboxSize == 0 {
		c.OutboxSize = defaultClient.OutboxSize
	}
}

func (c *RelayConfig) PopulateDefaults() {
	if c.BindAddress == "" {
		c.BindAddress = defaultRelay.BindAddress
	}

	if c.Port == 0 {
		c.Port = defaultRelay.Port
	}

	if c.Redis.ChannelPrefix == "" {
		c.Redis.ChannelPrefix = defaultRelay.Redis.ChannelPrefix
	}

	if c.MDNS.Service == "" {
		c.MDNS.Service = defaultRelay.MDNS.Service
	}
}

func (c *PresenceConfig) PopulateDefaults() {
	if c.HeartbeatIntervalMs == 0 {
		c.HeartbeatIntervalMs = defaultPresence.HeartbeatIntervalMs
	}

	if c.TimeoutMs == 0 {
		c.TimeoutMs = defaultPresence.TimeoutMs
	}
}

func (c *ArbiterConfig) PopulateDefaults() {
	if c.MaxEditors == 0 {
		c.MaxEditors = defaultArbiter.MaxEditors
	}

	if c.Mode == "" {
		c.Mode = defaultArbiter.Mode
	}
}

func (c *PersistenceConfig) PopulateDefaults() {
	if c.Driver == "" {
		c.Driver = defaultPersistence.Driver
	}

	if c.Path == "" {
		c.Path = defaultPersistence.Path
	}

	if c.SnapshotIntervalMs == 0 {
		c.SnapshotIntervalMs = defaultPersistence.SnapshotIntervalMs
	}

	if c.Retries == 0 {
		c.Retries = defaultPersistence.Retries
	}

	if c.RetryInitialMs == 0 {
		c.RetryInitialMs = defaultPersistence.RetryInitialMs
	}

	if c.WarnThreshold == 0 {
		c.WarnThreshold = defaultPersistence.WarnThreshold
	}
}

func (c *LoggingConfig) PopulateDefaults() {
	if c.Level == "" {
		c.Level = defaultLogging.Level
	}
}

func (c *Config) PopulateDefaults() {
	c.Client.PopulateDefaults()
	c.Relay.PopulateDefaults()
	c.Presence.PopulateDefaults()
	c.Arbiter.PopulateDefaults()
	c.Persistence.PopulateDefaults()
	c.Logging.PopulateDefaults()
}

package session

import (
	"log/slog"
	"time"

	"collabsync/pkg/arbiter"
	"collabsync/pkg/config"
	"collabsync/pkg/presence"
	"collabsync/pkg/snapshot"
)

type Mode string

const (
	// ModePeer: каждый участник решает о слоте по своему снимку присутствия
	ModePeer Mode = "peer"
	// ModeRelay: слоты выдаёт Gatekeeper на relay
	ModeRelay Mode = "relay"
)

const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultBackoffInitial    = 250 * time.Millisecond
	DefaultBackoffMax        = 10 * time.Second
	DefaultOutboxSize        = 256
)

type Options struct {
	MaxEditors        int
	Mode              Mode
	HeartbeatInterval time.Duration
	PresenceTimeout   time.Duration
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	OutboxSize        int

	// Store: хранилище снимков; nil отключает снимки
	Store   snapshot.Store
	Persist snapshot.Options
	Logger  *slog.Logger
}

func (o *Options) populateDefaults() {
	if o.MaxEditors <= 0 {
		o.MaxEditors = arbiter.DefaultMaxEditors
	}
	if o.Mode == "" {
		o.Mode = ModePeer
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.PresenceTimeout <= 0 {
		o.PresenceTimeout = presence.DefaultTimeout
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = DefaultBackoffInitial
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = DefaultBackoffMax
	}
	if o.OutboxSize <= 0 {
		o.OutboxSize = DefaultOutboxSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// OptionsFromConfig собирает настройки сессий из конфига
func OptionsFromConfig(cfg *config.Config, store snapshot.Store, logger *slog.Logger) Options {
	return Options{
		MaxEditors:        cfg.Arbiter.MaxEditors,
		Mode:              Mode(cfg.Arbiter.Mode),
		HeartbeatInterval: cfg.Presence.HeartbeatInterval(),
		PresenceTimeout:   cfg.Presence.Timeout(),
		BackoffInitial:    cfg.Client.BackoffInitial(),
		BackoffMax:        cfg.Client.BackoffMax(),
		OutboxSize:        cfg.Client.OutboxSize,
		Store:             store,
		Persist:           snapshot.OptionsFromConfig(cfg.Persistence),
		Logger:            logger,
	}
}

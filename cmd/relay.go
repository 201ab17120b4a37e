package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"collabsync/pkg/relay"
	"collabsync/pkg/util/logging"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the relay server",
	RunE:  runRelay,
}

func init() {
	rootCmd.AddCommand(relayCmd)
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.InitDefault("relay", cfg.Client.ID, cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []relay.Option{relay.WithLogger(logger)}
	if cfg.Relay.Authority {
		gate := relay.NewGatekeeper(cfg.Arbiter.MaxEditors, cfg.Presence.Timeout(), logger)
		opts = append(opts, relay.WithGatekeeper(gate))
		logger.Info("relay grants editor slots", "max_editors", cfg.Arbiter.MaxEditors)
	}

	var backplane *relay.RedisBackplane
	if cfg.Relay.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Relay.Redis.Addr})
		defer client.Close()
		backplane = relay.NewRedisBackplane(client, cfg.Relay.Redis.ChannelPrefix, logger)
		opts = append(opts, relay.WithBackplane(backplane))
	}

	hub := relay.NewHub(opts...)
	if backplane != nil {
		if err := backplane.Subscribe(ctx, hub.Deliver); err != nil {
			return err
		}
		logger.Info("redis backplane attached", "addr", cfg.Relay.Redis.Addr, "origin", backplane.Origin())
	}

	if cfg.Relay.MDNS.Enabled {
		server, err := relay.Advertise(cfg.Relay.MDNS.Service, cfg.Relay.Port)
		if err != nil {
			return err
		}
		defer server.Shutdown()
		logger.Info("relay advertised via mDNS", "service", cfg.Relay.MDNS.Service)
	}

	var cert, key string
	if cfg.Security.Enabled {
		cert, key = cfg.Security.Cert, cfg.Security.Key
	}
	addr := fmt.Sprintf("%s:%d", cfg.Relay.BindAddress, cfg.Relay.Port)
	return relay.NewServer(hub, logger).ListenAndServe(ctx, addr, cert, key)
}

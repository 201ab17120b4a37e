package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"collabsync/pkg/config"
	"collabsync/pkg/relay"
	"collabsync/pkg/session"
	"collabsync/pkg/snapshot"
	"collabsync/pkg/util/logging"
)

const discoverTimeout = 3 * time.Second

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a document and append lines from stdin",
	Long: `Join opens a session for the file, asks for an editor slot and appends
every line read from stdin to the document. Without a slot the session
stays read-only and prints the document on exit.`,
	RunE: runJoin,
}

var joinOpts struct {
	file string
	user string
	name string
}

func init() {
	joinCmd.Flags().StringVar(&joinOpts.file, "file", "", "file id")
	joinCmd.Flags().StringVar(&joinOpts.user, "user", "", "user id")
	joinCmd.Flags().StringVar(&joinOpts.name, "name", "", "display name")
	_ = joinCmd.MarkFlagRequired("file")
	_ = joinCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(joinCmd)
}

// relayURL: адрес relay из конфига или найденный в локальной сети
func relayURL(ctx context.Context, cfg *config.Config) (string, error) {
	if !cfg.Client.Discover {
		return cfg.Client.RelayURL, nil
	}
	return relay.Discover(ctx, cfg.Relay.MDNS.Service, discoverTimeout)
}

func runJoin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.InitDefault("client", cfg.Client.ID, cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	url, err := relayURL(ctx, cfg)
	if err != nil {
		return err
	}
	store, err := snapshot.Open(ctx, cfg.Persistence)
	if err != nil {
		return err
	}
	defer store.Close()

	dialer := &relay.WSDialer{BaseURL: url, Timeout: cfg.Client.DialTimeout(), Logger: logger}
	coord := session.NewCoordinator(dialer, session.OptionsFromConfig(cfg, store, logger))

	name := joinOpts.name
	if name == "" {
		name = joinOpts.user
	}
	s, err := coord.Open(ctx, session.Identity{UserID: joinOpts.user, Name: name}, joinOpts.file)
	if err != nil {
		return err
	}
	defer func() {
		if err := coord.Close(context.Background()); err != nil {
			logger.Error("close sessions", "error", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), s.Content())
	}()

	go func() {
		for n := range s.Notifications() {
			fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s\n", n.Kind, n.Message)
		}
	}()

	if _, err := s.Ready().Wait(ctx); err != nil {
		return err
	}
	if _, err := s.RequestEdit().Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		logger.Info("joined as viewer", "error", err)
		<-ctx.Done()
		return nil
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				_, err := s.Flush().Wait(ctx)
				return err
			}
			end := utf8.RuneCountInString(s.Content())
			if _, err := s.Edit(end, end, line+"\n"); err != nil {
				return err
			}
		}
	}
}

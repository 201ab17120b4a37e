package main

import (
	"os"

	"github.com/spf13/cobra"

	"collabsync/pkg/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "collabsync",
	Short: "Real-time collaborative document sync",
	Long: `collabsync keeps replicas of a text document in sync through a relay,
limits the number of concurrent editors and stores snapshots of the document.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "cmd/config.yaml", "path to the config file")
}

func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(configPath)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

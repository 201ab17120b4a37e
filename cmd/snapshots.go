package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"collabsync/pkg/snapshot"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Inspect stored document snapshots",
}

var snapshotsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots of a file, newest first",
	RunE:  runSnapshotsList,
}

var snapshotsShowCmd = &cobra.Command{
	Use:   "show <snapshot-id>",
	Short: "Print the content of a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotsShow,
}

var listFileID string

func init() {
	snapshotsListCmd.Flags().StringVar(&listFileID, "file", "", "file id")
	_ = snapshotsListCmd.MarkFlagRequired("file")

	snapshotsCmd.AddCommand(snapshotsListCmd, snapshotsShowCmd)
	rootCmd.AddCommand(snapshotsCmd)
}

func openStore(cmd *cobra.Command) (snapshot.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return snapshot.Open(cmd.Context(), cfg.Persistence)
}

func runSnapshotsList(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.List(cmd.Context(), listFileID)
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No snapshots")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tAUTHOR\tSIZE\tMESSAGE")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", s.ID, s.CreatedAt.Local().Format(time.DateTime), s.CreatedBy, len(s.Content), s.Message)
	}
	return w.Flush()
}

func runSnapshotsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	s, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	if err := s.Verify(); err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), s.Content)
	return nil
}

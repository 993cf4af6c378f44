package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/healdash/internal/backend"
	"github.com/ashureev/healdash/internal/store"
	"github.com/spf13/cobra"
)

var (
	historyLimit  int
	historyRemote bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past runs",
	Long: `List runs recorded in the local history database, newest first.
With --remote, list the backend's own run history instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		if historyRemote {
			return remoteHistoryRun(ctx)
		}
		return localHistoryRun(ctx)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "Maximum number of runs to list")
	historyCmd.Flags().BoolVar(&historyRemote, "remote", false, "List the backend's history instead of the local one")
	rootCmd.AddCommand(historyCmd)
}

func localHistoryRun(ctx context.Context) error {
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer repo.Close()

	runs, err := repo.ListRuns(ctx, historyLimit)
	if err != nil {
		return err
	}
	ui.Runs(runs)
	return nil
}

func remoteHistoryRun(ctx context.Context) error {
	client, err := backend.NewClient(backend.Config{BaseURL: cfg.APIURL}, logger)
	if err != nil {
		return err
	}
	runs, err := client.History(ctx, historyLimit)
	if err != nil {
		return err
	}
	ui.RemoteRuns(runs)
	return nil
}

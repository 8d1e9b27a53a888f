package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var resetFlags struct {
	pipeline  string
	olderThan time.Duration
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Mark interrupted runs as failed so --retry-failed picks them up",
	Long:  `Reset marks queued and processing runs older than --older-than as failed with error kind unknown. Rows are never deleted.`,
	Run:   runReset,
}

func init() {
	resetCmd.Flags().StringVar(&resetFlags.pipeline, "pipeline", "", "pipeline name (default from config)")
	resetCmd.Flags().DurationVar(&resetFlags.olderThan, "older-than", time.Hour, "only reset runs created before now minus this")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fail("Failed to load config", err)
	}
	pipeline := cfg.Pipeline.Name
	if resetFlags.pipeline != "" {
		pipeline = resetFlags.pipeline
	}

	ctx := context.Background()
	store, _, err := openHistory(ctx, cfg)
	if err != nil {
		fail("Failed to connect to database", err)
	}
	defer func() {
		_ = store.Close()
	}()

	cutoff := time.Now().Add(-resetFlags.olderThan)
	n, err := store.ResetStale(ctx, pipeline, cutoff)
	if err != nil {
		fail("Failed to reset runs", err)
	}

	fmt.Printf("Reset %d interrupted runs of %s created before %s\n", n, pipeline, cutoff.Format(time.RFC3339))
}

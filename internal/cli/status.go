package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/scribe/internal/core/domain"
	"github.com/vietddude/scribe/internal/infra/storage"
)

var statusFlags struct {
	pipeline string
	status   string
	limit    uint64
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show run counts and the latest runs of a pipeline",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusFlags.pipeline, "pipeline", "", "pipeline name (default from config)")
	statusCmd.Flags().StringVar(&statusFlags.status, "status", "", "only list runs with this status")
	statusCmd.Flags().Uint64Var(&statusFlags.limit, "limit", 20, "number of latest runs to list")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fail("Failed to load config", err)
	}
	pipeline := cfg.Pipeline.Name
	if statusFlags.pipeline != "" {
		pipeline = statusFlags.pipeline
	}

	ctx := context.Background()
	store, _, err := openHistory(ctx, cfg)
	if err != nil {
		fail("Failed to connect to database", err)
	}
	defer func() {
		_ = store.Close()
	}()

	counts, err := store.CountByStatus(ctx, pipeline)
	if err != nil {
		slog.Error("Failed to count runs", "error", err)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintf(w, "PIPELINE\t%s\n", pipeline)
	for _, s := range []domain.RunStatus{
		domain.RunStatusQueued,
		domain.RunStatusProcessing,
		domain.RunStatusDone,
		domain.RunStatusFailed,
		domain.RunStatusSkipped,
	} {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", s, counts[s])
	}
	_ = w.Flush()
	fmt.Println()

	runs, err := store.ListRuns(ctx, storage.RunFilter{
		Pipeline: pipeline,
		Status:   domain.RunStatus(statusFlags.status),
		Limit:    statusFlags.limit,
	})
	if err != nil {
		slog.Error("Failed to list runs", "error", err)
		return
	}

	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "RUN\tATTEMPT\tSTATUS\tKIND\tCREATED\tSOURCE")
	for _, r := range runs {
		kind := "-"
		if r.ErrorKind != nil {
			kind = string(*r.ErrorKind)
		}
		_, _ = fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n",
			r.ID, r.AttemptNo, r.Status, kind, r.CreatedAt.Format("2006-01-02 15:04:05"), r.SourcePath)
	}
	_ = w.Flush()
}

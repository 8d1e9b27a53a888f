package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/scribe/internal/core/domain"
	"github.com/vietddude/scribe/internal/infra/storage"
	"github.com/vietddude/scribe/internal/processing/report"
)

var reportFlags struct {
	out      string
	pipeline string
	status   string
	since    time.Duration
	limit    uint64
	noSteps  bool
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export runs and their steps to an XLSX file",
	Run:   runReport,
}

func init() {
	f := reportCmd.Flags()
	f.StringVarP(&reportFlags.out, "out", "o", "runs.xlsx", "output file")
	f.StringVar(&reportFlags.pipeline, "pipeline", "", "pipeline name (default from config)")
	f.StringVar(&reportFlags.status, "status", "", "only export runs with this status")
	f.DurationVar(&reportFlags.since, "since", 0, "only export runs created within this window")
	f.Uint64Var(&reportFlags.limit, "limit", 0, "max runs to export (0 = all)")
	f.BoolVar(&reportFlags.noSteps, "no-steps", false, "omit the steps sheet")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fail("Failed to load config", err)
	}

	filter := storage.RunFilter{
		Pipeline: cfg.Pipeline.Name,
		Status:   domain.RunStatus(reportFlags.status),
		Limit:    reportFlags.limit,
	}
	if reportFlags.pipeline != "" {
		filter.Pipeline = reportFlags.pipeline
	}
	if reportFlags.since > 0 {
		filter.Since = time.Now().Add(-reportFlags.since)
	}

	ctx := context.Background()
	store, _, err := openHistory(ctx, cfg)
	if err != nil {
		fail("Failed to connect to database", err)
	}
	defer func() {
		_ = store.Close()
	}()

	f, n, err := report.Build(ctx, store, filter, !reportFlags.noSteps)
	if err != nil {
		fail("Failed to build report", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if err := f.SaveAs(reportFlags.out); err != nil {
		fail("Failed to write report", err)
	}
	fmt.Printf("Wrote %d runs to %s\n", n, reportFlags.out)
}

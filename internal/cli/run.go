package cli

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/scribe/internal/control"
	"github.com/vietddude/scribe/internal/core/config"
	"github.com/vietddude/scribe/internal/processing/orchestrator"
)

// Exit codes of the run command.
const (
	exitOK          = 0
	exitError       = 1
	exitAborted     = 2
	exitInterrupted = 130
)

var runFlags struct {
	inputDir       string
	outDir         string
	profileDir     string
	limit          int
	headless       bool
	debugDir       string
	recursive      bool
	resume         bool
	force          bool
	retryFailed    bool
	maxAttempts    int
	backoff        float64
	errorKinds     string
	staleAfter     time.Duration
	engine         string
	pipeline       string
	prompt         string
	runTag         string
	port           int
	grpcPort       int
	databaseURL    string
	databaseDriver string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Transcribe every image in the input directory",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runBatch(cmd))
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.inputDir, "input-dir", "", "directory containing images")
	f.StringVar(&runFlags.outDir, "out-dir", "", "directory to save results")
	f.StringVar(&runFlags.profileDir, "profile-dir", "", "browser profile directory")
	f.IntVar(&runFlags.limit, "limit", 0, "max number of images to process (0 = all)")
	f.BoolVar(&runFlags.headless, "headless", false, "run the browser headless")
	f.StringVar(&runFlags.debugDir, "debug-dir", "", "directory for debug artifacts (default <out-dir>/debug)")
	f.BoolVar(&runFlags.recursive, "recursive", false, "scan the input directory recursively")
	f.BoolVar(&runFlags.resume, "resume", false, "retry failed or interrupted runs")
	f.BoolVar(&runFlags.force, "force", false, "reprocess documents even if done")
	f.BoolVar(&runFlags.retryFailed, "retry-failed", false, "retry failed documents (requires a database)")
	f.IntVar(&runFlags.maxAttempts, "max-attempts", 3, "max attempts per document")
	f.Float64Var(&runFlags.backoff, "retry-backoff-seconds", 0, "wait before each retry attempt")
	f.StringVar(&runFlags.errorKinds, "retry-error-kinds", "transient,unknown", "comma separated error kinds to retry")
	f.DurationVar(&runFlags.staleAfter, "stale-after", 0, "fail runs left queued or processing for longer than this (0 = off)")
	f.StringVar(&runFlags.engine, "engine", "", "engine type: browser, vertex or fake")
	f.StringVar(&runFlags.pipeline, "pipeline", "", "pipeline name recorded on runs")
	f.StringVar(&runFlags.prompt, "prompt", "", "prompt sent with each image")
	f.StringVar(&runFlags.runTag, "run-tag", "", "free-form tag recorded on runs")
	f.IntVar(&runFlags.port, "port", 0, "health and metrics HTTP port (0 = off)")
	f.IntVar(&runFlags.grpcPort, "grpc-port", 0, "gRPC health port (0 = off)")
	f.StringVar(&runFlags.databaseURL, "database-url", "", "database URL or sqlite path")
	f.StringVar(&runFlags.databaseDriver, "database-driver", "", "database driver: pgx, postgres or sqlite")

	rootCmd.AddCommand(runCmd)
}

// applyRunFlags copies explicitly set flags over the file configuration.
func applyRunFlags(cmd *cobra.Command, cfg *config.AppConfig) {
	set := cmd.Flags().Changed

	if set("input-dir") {
		cfg.Pipeline.InputDir = runFlags.inputDir
	}
	if set("out-dir") {
		// A debug dir derived from the old output dir follows the new one.
		if cfg.Debug.Dir == filepath.Join(cfg.Output.Dir, "debug") {
			cfg.Debug.Dir = ""
		}
		cfg.Output.Dir = runFlags.outDir
	}
	if set("profile-dir") {
		cfg.Engine.Browser.ProfileDir = runFlags.profileDir
	}
	if set("limit") {
		cfg.Pipeline.Limit = runFlags.limit
	}
	if set("headless") {
		cfg.Engine.Browser.Headless = runFlags.headless
	}
	if set("debug-dir") {
		cfg.Debug.Dir = runFlags.debugDir
	}
	if set("recursive") {
		cfg.Pipeline.Recursive = runFlags.recursive
	}
	if set("resume") {
		cfg.Retry.Resume = runFlags.resume
	}
	if set("force") {
		cfg.Retry.Force = runFlags.force
	}
	if set("retry-failed") {
		cfg.Retry.RetryFailed = runFlags.retryFailed
	}
	if set("max-attempts") {
		cfg.Retry.MaxAttempts = runFlags.maxAttempts
	}
	if set("retry-backoff-seconds") {
		cfg.Retry.BackoffSeconds = runFlags.backoff
	}
	if set("retry-error-kinds") {
		cfg.Retry.ErrorKinds = runFlags.errorKinds
	}
	if set("stale-after") {
		cfg.Retry.StaleAfter = runFlags.staleAfter
	}
	if set("engine") {
		cfg.Engine.Type = runFlags.engine
	}
	if set("pipeline") {
		cfg.Pipeline.Name = runFlags.pipeline
	}
	if set("prompt") {
		cfg.Pipeline.Prompt = runFlags.prompt
	}
	if set("run-tag") {
		cfg.Pipeline.RunTag = runFlags.runTag
	}
	if set("port") {
		cfg.Server.Port = runFlags.port
	}
	if set("grpc-port") {
		cfg.Server.GRPCPort = runFlags.grpcPort
	}
	if set("database-url") {
		cfg.Database.URL = runFlags.databaseURL
	}
	if set("database-driver") {
		cfg.Database.Driver = runFlags.databaseDriver
	}
}

func runBatch(cmd *cobra.Command) int {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		return exitError
	}
	applyRunFlags(cmd, cfg)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		return exitError
	}

	ctx, stop := signalContext()
	defer stop()

	runner, err := control.NewRunner(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize runner", "error", err)
		return exitError
	}
	defer func() {
		if err := runner.Close(); err != nil {
			slog.Warn("Error during shutdown", "error", err)
		}
	}()

	snap, err := runner.Run(ctx)
	switch {
	case err != nil && orchestrator.IsInterrupted(err) && ctx.Err() != nil:
		slog.Warn("Interrupted, rerun to continue", "seen", snap.Seen, "files", snap.Total)
		return exitInterrupted
	case err != nil:
		slog.Error("Batch failed", "error", err)
		return exitError
	case snap.Counts[orchestrator.OutcomeAborted] > 0:
		return exitAborted
	}
	return exitOK
}

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/scribe/internal/control"
	"github.com/vietddude/scribe/internal/core/config"
	"github.com/vietddude/scribe/internal/infra/storage"
	"github.com/vietddude/scribe/internal/infra/storage/sqlstore"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "scribe",
	Short: "Resumable bulk OCR",
	Long:  `Scribe transcribes directories of scanned images through a transcription engine, recording every attempt so interrupted or failed batches can be resumed.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (defaults apply when empty)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

// loadConfig reads .env and the config file, then sets up logging.
func loadConfig() (*config.AppConfig, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		return nil, err
	}
	setupLogging(cfg.Logging)
	return cfg, nil
}

func setupLogging(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	if isDebug {
		level = slog.LevelDebug
	} else {
		_ = level.UnmarshalText([]byte(cfg.Level))
	}

	if strings.EqualFold(cfg.Format, "json") {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return
	}
	stylelog.InitDefault(&tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// openHistory opens the run store for the operator commands, which need a database.
func openHistory(ctx context.Context, cfg *config.AppConfig) (storage.Store, *sqlstore.DB, error) {
	if !cfg.Database.Enabled() {
		return nil, nil, fmt.Errorf("database.url is not configured")
	}
	return control.OpenStore(ctx, cfg.Database)
}

func fail(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

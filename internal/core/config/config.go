package config

import (
	"time"

	"github.com/vietddude/scribe/internal/infra/engine/browser"
	"github.com/vietddude/scribe/internal/infra/engine/vertex"
	"github.com/vietddude/scribe/internal/infra/output"
	redisclient "github.com/vietddude/scribe/internal/infra/redis"
	"github.com/vietddude/scribe/internal/infra/storage/sqlstore"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Pipeline PipelineConfig     `yaml:"pipeline"`
	Retry    RetryConfig        `yaml:"retry"`
	Engine   EngineConfig       `yaml:"engine"`
	Output   OutputConfig       `yaml:"output"`
	Debug    DebugConfig        `yaml:"debug"`
	Database sqlstore.Config    `yaml:"database"`
	Redis    redisclient.Config `yaml:"redis"`
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
}

// PipelineConfig names the pipeline and selects its input.
type PipelineConfig struct {
	Name       string   `yaml:"name"`
	RunTag     string   `yaml:"run_tag"`
	Prompt     string   `yaml:"prompt"`
	InputDir   string   `yaml:"input_dir"`
	Recursive  bool     `yaml:"recursive"`
	Limit      int      `yaml:"limit"` // 0 = all files
	Extensions []string `yaml:"extensions"`
}

// RetryConfig holds the retry flags.
type RetryConfig struct {
	Force          bool    `yaml:"force"`
	Resume         bool    `yaml:"resume"`
	RetryFailed    bool    `yaml:"retry_failed"`
	MaxAttempts    int     `yaml:"max_attempts"`
	BackoffSeconds float64 `yaml:"retry_backoff_seconds"`
	ErrorKinds     string  `yaml:"retry_error_kinds"` // comma separated

	// StaleAfter fails queued or processing runs older than this before the
	// batch starts. Zero disables it.
	StaleAfter time.Duration `yaml:"stale_after"`
}

// EngineConfig selects and configures the transcription engine.
type EngineConfig struct {
	Type    string         `yaml:"type"` // browser, vertex, fake
	Browser browser.Config `yaml:"browser"`
	Vertex  vertex.Config  `yaml:"vertex"`
}

// OutputConfig holds artifact destinations.
type OutputConfig struct {
	Dir string           `yaml:"dir"`
	GCS output.GCSConfig `yaml:"gcs"`
}

// DebugConfig holds debug artifact settings.
type DebugConfig struct {
	Dir string `yaml:"dir"` // defaults to <output.dir>/debug
}

// ServerConfig holds HTTP and gRPC server settings. A zero port disables the server.
type ServerConfig struct {
	Port     int `yaml:"port"`
	GRPCPort int `yaml:"grpc_port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Engine types.
const (
	EngineBrowser = "browser"
	EngineVertex  = "vertex"
	EngineFake    = "fake"
)

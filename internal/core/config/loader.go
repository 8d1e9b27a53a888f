package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/scribe/internal/infra/discovery"
	"github.com/vietddude/scribe/internal/infra/storage/sqlstore"
	"github.com/vietddude/scribe/internal/processing/retry"
)

const (
	DefaultPipeline = "gemini-ui-cli"
	DefaultPrompt   = "Transcribe text"
	DefaultOutDir   = "out"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Load reads configuration from a YAML file and applies defaults.
// An empty path yields the defaults alone.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables in the YAML content
		expandedData := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero values. It is safe to call again after flags are merged.
func (c *AppConfig) ApplyDefaults() {
	if c.Pipeline.Name == "" {
		c.Pipeline.Name = DefaultPipeline
	}
	if c.Pipeline.Prompt == "" {
		c.Pipeline.Prompt = DefaultPrompt
	}
	if len(c.Pipeline.Extensions) == 0 {
		c.Pipeline.Extensions = append([]string(nil), discovery.DefaultExtensions...)
	}
	for i, ext := range c.Pipeline.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Pipeline.Extensions[i] = ext
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = retry.DefaultConfig().MaxAttempts
	}
	if c.Retry.ErrorKinds == "" {
		c.Retry.ErrorKinds = "transient,unknown"
	}

	if c.Engine.Type == "" {
		c.Engine.Type = EngineBrowser
	}

	if c.Output.Dir == "" {
		c.Output.Dir = DefaultOutDir
	}
	if c.Debug.Dir == "" {
		c.Debug.Dir = filepath.Join(c.Output.Dir, "debug")
	}

	if c.Database.Driver == "" {
		c.Database.Driver = sqlstore.DriverPgx
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// RetryPolicy converts the retry section into the policy configuration.
func (c *AppConfig) RetryPolicy() (retry.Config, error) {
	kinds, err := retry.ParseErrorKinds(c.Retry.ErrorKinds)
	if err != nil {
		return retry.Config{}, err
	}
	return retry.Config{
		Force:          c.Retry.Force,
		Resume:         c.Retry.Resume,
		RetryFailed:    c.Retry.RetryFailed,
		MaxAttempts:    c.Retry.MaxAttempts,
		BackoffSeconds: c.Retry.BackoffSeconds,
		ErrorKinds:     kinds,
	}, nil
}

// Validate checks the settings needed by the run command.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Pipeline.InputDir == "" {
		errs = append(errs, errors.New("pipeline.input_dir is required"))
	}
	if c.Pipeline.Limit < 0 {
		errs = append(errs, errors.New("pipeline.limit must not be negative"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.Retry.BackoffSeconds < 0 {
		errs = append(errs, errors.New("retry.retry_backoff_seconds must not be negative"))
	}
	if c.Retry.StaleAfter < 0 {
		errs = append(errs, errors.New("retry.stale_after must not be negative"))
	}
	if _, err := retry.ParseErrorKinds(c.Retry.ErrorKinds); err != nil {
		errs = append(errs, fmt.Errorf("retry.retry_error_kinds: %w", err))
	}
	if c.Retry.RetryFailed && !c.Database.Enabled() {
		errs = append(errs, errors.New("retry.retry_failed requires a database"))
	}

	switch c.Engine.Type {
	case EngineBrowser:
		if c.Engine.Browser.ProfileDir == "" {
			errs = append(errs, errors.New("engine.browser.profile_dir is required"))
		}
	case EngineVertex:
		if c.Engine.Vertex.Project == "" {
			errs = append(errs, errors.New("engine.vertex.project is required"))
		}
	case EngineFake:
	default:
		errs = append(errs, fmt.Errorf("unknown engine type %q", c.Engine.Type))
	}

	switch c.Database.Driver {
	case sqlstore.DriverPgx, sqlstore.DriverPostgres, sqlstore.DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

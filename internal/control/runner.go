package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/scribe/internal/core/config"
	"github.com/vietddude/scribe/internal/core/worker"
	"github.com/vietddude/scribe/internal/infra/discovery"
	"github.com/vietddude/scribe/internal/infra/engine"
	"github.com/vietddude/scribe/internal/infra/output"
	redisclient "github.com/vietddude/scribe/internal/infra/redis"
	"github.com/vietddude/scribe/internal/infra/storage"
	"github.com/vietddude/scribe/internal/infra/storage/sqlstore"
	"github.com/vietddude/scribe/internal/processing/health"
	"github.com/vietddude/scribe/internal/processing/orchestrator"
	"github.com/vietddude/scribe/internal/processing/recovery"
)

const shutdownTimeout = 5 * time.Second

// Runner owns every resource of one batch invocation.
type Runner struct {
	cfg          *config.AppConfig
	invocationID string

	store  storage.Store
	db     *sqlstore.DB // nil with the memory store
	engine engine.Engine
	lock   redisclient.Locker
	redis  *redisclient.Client
	gcs    *output.GCSMirror
	orch   *orchestrator.Orchestrator

	monitor    *health.Monitor
	httpServer *health.Server
	grpcServer *health.GRPCServer

	log *slog.Logger
}

// NewRunner builds a runner with the configured engine.
func NewRunner(ctx context.Context, cfg *config.AppConfig) (*Runner, error) {
	eng, err := NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	return NewRunnerWithEngine(ctx, cfg, eng)
}

// NewRunnerWithEngine builds a runner around an existing engine.
func NewRunnerWithEngine(ctx context.Context, cfg *config.AppConfig, eng engine.Engine) (*Runner, error) {
	policy, err := cfg.RetryPolicy()
	if err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:          cfg,
		invocationID: uuid.NewString(),
		engine:       eng,
	}
	r.log = slog.Default().With("invocation", r.invocationID)

	r.store, r.db, err = OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	r.lock, r.redis, err = NewLock(ctx, cfg)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to init redis: %w", err)
	}

	var mirrors []output.Mirror
	if cfg.Output.GCS.Bucket != "" {
		r.gcs, err = output.NewGCSMirror(ctx, cfg.Output.GCS)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to init gcs mirror: %w", err)
		}
		mirrors = append(mirrors, r.gcs)
	}
	writer, err := output.NewLocalWriter(cfg.Output.Dir, mirrors...)
	if err != nil {
		r.Close()
		return nil, err
	}

	r.orch = orchestrator.New(orchestrator.Config{
		Pipeline:     cfg.Pipeline.Name,
		RunTag:       cfg.Pipeline.RunTag,
		Prompt:       cfg.Pipeline.Prompt,
		InvocationID: r.invocationID,
		Retry:        policy,
		Store:        r.store,
		Engine:       eng,
		Writer:       writer,
		Recovery:     recovery.NewHandler(eng, recovery.DefaultBudget(), r.log),
		Logger:       r.log,
	})

	r.monitor = health.NewMonitor(cfg.Pipeline.Name, r.orch, r.store)
	if cfg.Server.Port > 0 {
		r.httpServer = health.NewServer(r.monitor, cfg.Server.Port)
	}
	if cfg.Server.GRPCPort > 0 {
		r.grpcServer = health.NewGRPCServer(cfg.Server.GRPCPort)
	}
	return r, nil
}

// Orchestrator exposes the batch for progress reporting.
func (r *Runner) Orchestrator() *orchestrator.Orchestrator {
	return r.orch
}

// Monitor returns the health monitor.
func (r *Runner) Monitor() *health.Monitor {
	return r.monitor
}

// Run scans the input directory and processes every file once.
func (r *Runner) Run(ctx context.Context) (orchestrator.Snapshot, error) {
	cfg := r.cfg
	files, err := discovery.Scan(cfg.Pipeline.InputDir, discovery.Options{
		Recursive:  cfg.Pipeline.Recursive,
		Limit:      cfg.Pipeline.Limit,
		Extensions: cfg.Pipeline.Extensions,
	})
	if err != nil {
		return orchestrator.Snapshot{}, err
	}
	if len(files) == 0 {
		r.log.Warn("No input files found", "dir", cfg.Pipeline.InputDir)
		return orchestrator.Snapshot{}, nil
	}

	if err := r.lock.Acquire(ctx); err != nil {
		return orchestrator.Snapshot{}, fmt.Errorf("failed to acquire session: %w", err)
	}
	defer func() {
		if err := r.lock.Release(context.Background()); err != nil {
			r.log.Warn("Failed to release session lock", "error", err)
		}
	}()

	for _, dir := range []string{cfg.Output.Dir, cfg.Debug.Dir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return orchestrator.Snapshot{}, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	worker.NewReaper(cfg.Pipeline.Name, cfg.Retry.StaleAfter, r.store).Reap(ctx)

	if err := r.engine.Start(ctx); err != nil {
		return orchestrator.Snapshot{}, fmt.Errorf("failed to start %s engine: %w", r.engine.Name(), err)
	}
	defer func() {
		if err := r.engine.Stop(context.Background()); err != nil {
			r.log.Warn("Failed to stop engine", "error", err)
		}
	}()

	r.log.Info("Starting batch",
		"pipeline", cfg.Pipeline.Name,
		"engine", r.engine.Name(),
		"files", len(files),
		"input", cfg.Pipeline.InputDir,
		"output", cfg.Output.Dir,
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	r.startServers(g)

	g.Go(func() error {
		r.lock.Hold(gctx)
		return nil
	})

	if r.db != nil {
		r.db.StartMetricsCollector(gctx)
	}

	var snap orchestrator.Snapshot
	g.Go(func() error {
		defer cancel()
		defer r.stopServers()

		if r.grpcServer != nil {
			r.grpcServer.SetServing(true)
			defer r.grpcServer.SetServing(false)
		}

		var err error
		snap, err = r.orch.Run(gctx, files)
		return err
	})

	err = g.Wait()
	if err != nil && orchestrator.IsInterrupted(err) && ctx.Err() != nil {
		r.log.Warn("Batch interrupted", "seen", snap.Seen, "files", snap.Total)
	}
	return snap, err
}

// startServers never fails the batch: a server that cannot listen is logged.
func (r *Runner) startServers(g *errgroup.Group) {
	if r.httpServer != nil {
		g.Go(func() error {
			r.log.Info("Starting health server", "port", r.cfg.Server.Port)
			if err := r.httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				r.log.Error("Health server failed", "error", err)
			}
			return nil
		})
	}
	if r.grpcServer != nil {
		g.Go(func() error {
			r.log.Info("Starting gRPC health server", "port", r.cfg.Server.GRPCPort)
			if err := r.grpcServer.Start(); err != nil {
				r.log.Error("gRPC health server failed", "error", err)
			}
			return nil
		})
	}
}

func (r *Runner) stopServers() {
	if r.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := r.httpServer.Stop(ctx); err != nil {
			r.log.Warn("Failed to stop health server", "error", err)
		}
	}
	if r.grpcServer != nil {
		r.grpcServer.Stop()
	}
}

// Close releases the store, Redis and the object storage client.
func (r *Runner) Close() error {
	var errs []error
	if r.store != nil {
		errs = append(errs, r.store.Close())
	}
	if r.redis != nil {
		errs = append(errs, r.redis.Close())
	}
	if r.gcs != nil {
		errs = append(errs, r.gcs.Close())
	}
	return errors.Join(errs...)
}

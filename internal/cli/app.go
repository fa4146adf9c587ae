package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/radstore/internal/config"
	"github.com/roach88/radstore/internal/hooks"
	"github.com/roach88/radstore/internal/index"
	"github.com/roach88/radstore/internal/jobs"
	"github.com/roach88/radstore/internal/logging"
	"github.com/roach88/radstore/internal/notify"
	"github.com/roach88/radstore/internal/server"
	"github.com/roach88/radstore/internal/storage"
)

// app is a store opened from the configuration.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	index    *index.Store
	notifier *notify.Notifier
	engine   *jobs.Engine
	store    *server.Orchestrator
}

func openApp(opts *RootOptions, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.New(logOut, logging.Options{Format: cfg.Log.Format, Level: cfg.Log.Level})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to configure logging", err)
	}
	slog.SetDefault(logger)

	compression, err := storage.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid compression", err)
	}
	area, err := storage.NewFilesystemArea(cfg.StorageDir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open storage area", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.IndexPath), 0o755); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create index directory", err)
	}
	logger.Debug("opening index", "path", cfg.IndexPath)
	idx, err := index.Open(cfg.IndexPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open index", err)
	}

	var lastSeq int64
	err = idx.View(context.Background(), func(tx *index.Tx) error {
		var err error
		lastSeq, err = tx.LastChangeSeq(context.Background())
		return err
	})
	if err != nil {
		idx.Close()
		return nil, WrapExitError(ExitCommandError, "failed to read change log", err)
	}

	a := &app{cfg: cfg, logger: logger, index: idx}
	a.notifier = notify.New(
		notify.WithPollInterval(cfg.Notifier.PollInterval),
		notify.WithLogger(logger),
		notify.WithClock(notify.NewClockAt(lastSeq)),
	)
	a.engine = jobs.New(
		jobs.WithWorkers(cfg.Jobs.Workers),
		jobs.WithSaveInterval(cfg.Jobs.SaveInterval),
		jobs.WithMaxCompletedJobs(cfg.Jobs.MaxCompleted),
		jobs.WithPersister(jobs.NewIndexPersister(idx)),
		jobs.WithLogger(logger),
	)
	a.engine.AddObserver(notify.NewJobMirror(a.notifier))

	accessor := storage.NewAccessor(area,
		storage.WithCompression(compression),
		storage.WithContentHash(cfg.StoreHash),
	)
	a.store, err = server.New(idx, accessor,
		server.WithNotifier(a.notifier),
		server.WithJobEngine(a.engine),
		server.WithLogger(logger),
		server.WithCacheCapacity(cfg.CacheCapacity),
	)
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to build store", err)
	}

	if cfg.Filter != "" {
		filter, err := hooks.NewFilter(cfg.Filter)
		if err != nil {
			a.Close()
			return nil, WrapExitError(ExitCommandError, "invalid incoming filter", err)
		}
		a.notifier.Register(filter)
		logger.Info("incoming filter installed", "expression", filter.Expression())
	}
	return a, nil
}

// loadJobs restores the persisted job registry.
func (a *app) loadJobs(ctx context.Context) error {
	_, err := a.engine.Load(ctx)
	return err
}

func (a *app) Close() {
	if err := a.index.Close(); err != nil {
		a.logger.Error("error closing index", "error", err)
	}
}

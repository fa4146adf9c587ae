package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/radstore/internal/fault"
)

const (
	DefaultWorkers      = 2
	DefaultSaveInterval = 10 * time.Second
)

// Engine runs the jobs of its Registry on a fixed worker pool and
// periodically persists the unfinished ones.
type Engine struct {
	*Registry

	workers      int
	saveInterval time.Duration
	persister    Persister
	logger       *slog.Logger
	meter        metric.Meter

	typesMu sync.RWMutex
	types   map[string]Unserializer

	saveMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the pool size.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithSaveInterval sets how often unfinished jobs are persisted. Zero
// disables the periodic save; the final save on shutdown still happens.
func WithSaveInterval(d time.Duration) Option {
	return func(e *Engine) { e.saveInterval = d }
}

// WithPersister enables persistence.
func WithPersister(p Persister) Option {
	return func(e *Engine) { e.persister = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMaxCompletedJobs bounds how many finished jobs are remembered.
func WithMaxCompletedJobs(n int) Option {
	return func(e *Engine) { e.SetMaxCompletedJobs(n) }
}

// WithIDGenerator replaces the UUIDv7 job ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithMeter sets the meter job counters are created from.
func WithMeter(m metric.Meter) Option {
	return func(e *Engine) { e.meter = m }
}

// New builds an engine. Run starts it.
func New(opts ...Option) *Engine {
	e := &Engine{
		Registry:     NewRegistry(nil),
		workers:      DefaultWorkers,
		saveInterval: DefaultSaveInterval,
		logger:       slog.Default(),
		meter:        otel.Meter("github.com/roach88/radstore/internal/jobs"),
		types:        make(map[string]Unserializer),
	}
	for _, opt := range opts {
		opt(e)
	}

	if m, err := newMetricsObserver(e.meter); err != nil {
		e.logger.Warn("job metrics disabled", "error", err)
	} else {
		e.AddObserver(m)
	}
	return e
}

// RegisterType makes jobs of typeName restorable.
func (e *Engine) RegisterType(typeName string, u Unserializer) {
	e.typesMu.Lock()
	defer e.typesMu.Unlock()
	e.types[typeName] = u
}

func (e *Engine) unserializer(typeName string) (Unserializer, bool) {
	e.typesMu.RLock()
	defer e.typesMu.RUnlock()
	u, ok := e.types[typeName]
	return u, ok
}

// Save persists every unfinished job. Running jobs are saved as they
// are and come back as Pending.
func (e *Engine) Save(ctx context.Context) error {
	if e.persister == nil {
		return nil
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	data, err := marshalRegistry(e.unfinished())
	if err != nil {
		return err
	}
	if err := e.persister.SaveJobs(ctx, data); err != nil {
		return fmt.Errorf("save jobs: %w", err)
	}
	return nil
}

// Load restores persisted jobs as Pending and returns how many were
// restored. Jobs of unregistered types are logged and skipped.
func (e *Engine) Load(ctx context.Context) (int, error) {
	if e.persister == nil {
		return 0, nil
	}
	data, found, err := e.persister.LoadJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("load jobs: %w", err)
	}
	if !found {
		return 0, nil
	}
	reg, err := unmarshalRegistry(data)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, pj := range reg.Jobs {
		u, ok := e.unserializer(pj.Type)
		if !ok {
			e.logger.Warn("cannot restore job of unknown type", "job", pj.ID, "type", pj.Type)
			continue
		}
		job, err := u(pj.Parameters)
		if err != nil {
			e.logger.Warn("cannot restore job", "job", pj.ID, "type", pj.Type, "error", err)
			continue
		}
		if _, err := e.submit(pj.ID, job, pj.Priority, pj.Created); err != nil {
			e.logger.Warn("cannot restore job", "job", pj.ID, "error", err)
			continue
		}
		restored++
	}
	e.logger.Info("restored jobs", "count", restored, "saved", len(reg.Jobs))
	return restored, nil
}

// Run starts the workers and the persistence loop and blocks until ctx is
// canceled. Jobs interrupted by the shutdown return to Pending and the
// registry is saved one last time.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < e.workers; i++ {
		worker := i
		g.Go(func() error {
			e.work(gctx, worker)
			return nil
		})
	}

	if e.persister != nil && e.saveInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(e.saveInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := e.Save(gctx); err != nil {
						e.logger.Error("periodic job save failed", "error", err)
					}
				}
			}
		})
	}

	err := g.Wait()
	e.close()

	if saveErr := e.Save(context.WithoutCancel(ctx)); saveErr != nil {
		e.logger.Error("final job save failed", "error", saveErr)
	}
	return err
}

func (e *Engine) work(ctx context.Context, worker int) {
	for {
		h, jobCtx, err := e.next(ctx)
		if err != nil {
			return
		}

		e.logger.Debug("job started", "job", h.id, "type", h.job.Type(), "worker", worker)
		runErr := runJob(jobCtx, h.job)

		// A job that completed despite shutdown keeps its outcome.
		if runErr != nil && ctx.Err() != nil {
			e.requeue(h)
			e.logger.Info("job interrupted by shutdown", "job", h.id, "type", h.job.Type())
			return
		}

		e.finish(h, runErr)
		if runErr != nil {
			e.logger.Warn("job failed", "job", h.id, "type", h.job.Type(), "error", runErr)
		} else {
			e.logger.Debug("job succeeded", "job", h.id, "type", h.job.Type())
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// runJob converts a panicking job into a failed one.
func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fault.New(fault.CodeInternal, "job %s panicked: %v", job.Type(), r)
		}
	}()
	return job.Run(ctx)
}

// Package server ties the index, the storage area, the object cache, the
// change notifier and the job engine into the single entry point that
// stores, reads and deletes records.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/roach88/radstore/internal/cache"
	"github.com/roach88/radstore/internal/fault"
	"github.com/roach88/radstore/internal/index"
	"github.com/roach88/radstore/internal/indexer"
	"github.com/roach88/radstore/internal/jobs"
	"github.com/roach88/radstore/internal/notify"
	"github.com/roach88/radstore/internal/record"
	"github.com/roach88/radstore/internal/storage"
)

// Codec parses and encodes stored records.
type Codec interface {
	record.Parser
	record.Encoder
}

// Orchestrator is the façade over the whole store.
type Orchestrator struct {
	index    *index.Store
	accessor *storage.Accessor
	codec    Codec
	cache    *cache.Cache[*record.Dataset]
	notifier *notify.Notifier
	engine   *jobs.Engine
	logger   *slog.Logger

	cacheCapacity int
	now           func() time.Time
	meter         metric.Meter
	stored        metric.Int64Counter
	failures      metric.Int64Counter
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier sets the change notifier. Without one, changes are only
// logged to the index.
func WithNotifier(n *notify.Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithJobEngine sets the engine maintenance jobs are submitted to.
func WithJobEngine(e *jobs.Engine) Option {
	return func(o *Orchestrator) { o.engine = e }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithCodec replaces the CBOR record codec.
func WithCodec(c Codec) Option {
	return func(o *Orchestrator) { o.codec = c }
}

// WithCacheCapacity bounds the parsed-record cache.
func WithCacheCapacity(n int) Option {
	return func(o *Orchestrator) { o.cacheCapacity = n }
}

// WithClock replaces the time source stamping logged changes.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithMeter(m metric.Meter) Option {
	return func(o *Orchestrator) { o.meter = m }
}

// New builds an Orchestrator over idx and accessor. When a notifier is
// set, a cache invalidation listener is registered on it; when a job
// engine is set, the maintenance job types are registered on it.
func New(idx *index.Store, accessor *storage.Accessor, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		index:    idx,
		accessor: accessor,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		meter:    otel.Meter("github.com/roach88/radstore/internal/server"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.codec == nil {
		codec, err := record.NewCBORCodec()
		if err != nil {
			return nil, err
		}
		o.codec = codec
	}

	var err error
	if o.stored, err = o.meter.Int64Counter("radstore.store.instances",
		metric.WithDescription("Store requests by outcome"), metric.WithUnit("{instance}")); err != nil {
		return nil, fmt.Errorf("create store counter: %w", err)
	}
	if o.failures, err = o.meter.Int64Counter("radstore.store.failures",
		metric.WithDescription("Store requests that failed"), metric.WithUnit("{instance}")); err != nil {
		return nil, fmt.Errorf("create failure counter: %w", err)
	}

	o.cache = cache.New(o.cacheCapacity, o.loadRecord)
	if o.notifier != nil {
		o.notifier.Register(notify.NewCacheInvalidator(o.cache))
	}
	if o.engine != nil {
		o.registerJobTypes(o.engine)
	}
	return o, nil
}

// Index returns the index store.
func (o *Orchestrator) Index() *index.Store { return o.index }

// Notifier returns the change notifier, or nil.
func (o *Orchestrator) Notifier() *notify.Notifier { return o.notifier }

// Jobs returns the job engine, or nil.
func (o *Orchestrator) Jobs() *jobs.Engine { return o.engine }

// Outcome is the result of a store request.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeAlreadyStored
	OutcomeFailed
	OutcomeFilteredOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "Success"
	case OutcomeAlreadyStored:
		return "AlreadyStored"
	case OutcomeFailed:
		return "Failure"
	case OutcomeFilteredOut:
		return "FilteredOut"
	default:
		return "Unknown"
	}
}

// StoreResult describes a store request. Err is set on OutcomeFailed.
type StoreResult struct {
	Outcome    Outcome
	InstanceID string
	// Created lists the levels that did not exist before, patient first.
	Created []record.Level
	Err     error
}

// Store parses data and stores it as a new instance.
func (o *Orchestrator) Store(ctx context.Context, data []byte) StoreResult {
	ds, err := o.codec.Parse(data)
	if err != nil {
		o.logger.Error("store failed: cannot parse record", "error", err)
		return o.failed(ctx, fault.Wrap(fault.CodeValidation, err, "unreadable record"))
	}
	return o.store(ctx, ds, data)
}

// StoreDataset encodes ds and stores it as a new instance.
func (o *Orchestrator) StoreDataset(ctx context.Context, ds *record.Dataset) StoreResult {
	data, err := o.codec.Encode(ds)
	if err != nil {
		return o.failed(ctx, err)
	}
	return o.store(ctx, ds, data)
}

func (o *Orchestrator) store(ctx context.Context, ds *record.Dataset, data []byte) StoreResult {
	if missing := ds.Attributes.MissingRequired(); len(missing) > 0 {
		o.logMissingRequired(ds.Attributes, missing)
		err := fault.New(fault.CodeValidation, "missing required tags: %s", joinTags(missing))
		return o.failed(ctx, err)
	}

	ids := record.PublicIDs(ds.Attributes)
	result := StoreResult{InstanceID: ids[record.LevelInstance]}

	if o.notifier != nil && !o.notifier.FilterIncoming(ctx, ds) {
		o.logger.Info("instance filtered out", "instance", result.InstanceID)
		result.Outcome = OutcomeFilteredOut
		o.stored.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", result.Outcome.String())))
		return result
	}

	var written *storage.FileInfo
	var changes []notify.ChangeEvent
	err := o.index.Update(ctx, func(tx *index.Tx) error {
		if _, found, err := tx.LookupResource(ctx, result.InstanceID); err != nil {
			return err
		} else if found {
			result.Outcome = OutcomeAlreadyStored
			return nil
		}

		var parent int64
		for _, level := range record.Levels {
			existing, found, err := tx.LookupResource(ctx, ids[level])
			if err != nil {
				return err
			}
			if found {
				if existing.Level != level {
					return fault.New(fault.CodeInternal, "%s %s is indexed as a %s", level, ids[level], existing.Level)
				}
				parent = existing.ID
				continue
			}

			id, err := tx.CreateResource(ctx, ids[level], level)
			if err != nil {
				return err
			}
			if parent != 0 {
				if err := tx.AttachChild(ctx, parent, id); err != nil {
					return err
				}
			}
			if err := indexer.SetMainAttributes(ctx, tx, id, level, ds.Attributes); err != nil {
				return err
			}
			result.Created = append(result.Created, level)
			parent = id
		}

		info, err := o.accessor.Write(data, storage.ContentRecord)
		if err != nil {
			return err
		}
		written = &info
		if err := tx.AddAttachment(ctx, parent, info); err != nil {
			return err
		}

		for _, level := range result.Created {
			ev, err := o.logChange(ctx, tx, notify.NewResourceChange(level), ids[level], level)
			if err != nil {
				return err
			}
			changes = append(changes, ev)
		}
		return nil
	})

	if err != nil {
		if written != nil {
			if rmErr := o.accessor.Remove(*written); rmErr != nil {
				o.logger.Warn("cannot remove payload of failed store", "uuid", written.UUID, "error", rmErr)
			}
		}
		o.logger.Error("store failed", "instance", result.InstanceID, "error", err)
		res := o.failed(ctx, err)
		res.InstanceID = result.InstanceID
		return res
	}

	if result.Outcome == OutcomeAlreadyStored {
		o.logger.Info("instance already stored", "instance", result.InstanceID)
		o.stored.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", result.Outcome.String())))
		return result
	}

	o.cache.Invalidate(result.InstanceID)
	o.publish(changes)
	if o.notifier != nil {
		o.notifier.SignalStoredInstance(ctx, result.InstanceID, ds)
	}

	o.logger.Info("new instance stored", "instance", result.InstanceID, "created", len(result.Created))
	o.stored.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", result.Outcome.String())))
	return result
}

func (o *Orchestrator) failed(ctx context.Context, err error) StoreResult {
	o.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("code", string(fault.CodeOf(err)))))
	return StoreResult{Outcome: OutcomeFailed, Err: err}
}

func (o *Orchestrator) logMissingRequired(attrs record.Attributes, missing []record.Tag) {
	identity := attrs.DescribeIdentity()
	if identity == "" {
		o.logger.Error("store failed: all the required tags are missing", "missing", joinTags(missing))
		return
	}
	o.logger.Error("store failed: required tags are missing",
		"missing", joinTags(missing), "instance", identity)
}

func joinTags(tags []record.Tag) string {
	names := make([]string, len(tags))
	for i, tag := range tags {
		names[i] = string(tag)
	}
	return strings.Join(names, ", ")
}

// logChange records a change in the index and returns the matching
// event, published once the transaction commits.
func (o *Orchestrator) logChange(ctx context.Context, tx *index.Tx, t notify.ChangeType, publicID string, level record.Level) (notify.ChangeEvent, error) {
	ev := notify.ChangeEvent{Type: t, PublicID: publicID, Level: level, Date: o.now()}
	if _, err := tx.LogChange(ctx, index.Change{Type: string(t), PublicID: publicID, Level: level, Date: ev.Date}); err != nil {
		return notify.ChangeEvent{}, err
	}
	return ev, nil
}

func (o *Orchestrator) publish(changes []notify.ChangeEvent) {
	if o.notifier == nil {
		return
	}
	for _, ev := range changes {
		o.notifier.Enqueue(ev)
	}
}

// loadRecord is the cache provider: it parses the stored record of an
// instance.
func (o *Orchestrator) loadRecord(ctx context.Context, instanceID string) (*record.Dataset, error) {
	data, _, err := o.ReadAttachment(ctx, instanceID, storage.ContentRecord, true)
	if err != nil {
		return nil, err
	}
	ds, err := o.codec.Parse(data)
	if err != nil {
		return nil, fault.Wrap(fault.CodeInternal, err, "stored record of %s", instanceID)
	}
	return ds, nil
}

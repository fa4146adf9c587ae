package indexer

import (
	"context"
	"log/slog"

	"github.com/roach88/radstore/internal/fault"
	"github.com/roach88/radstore/internal/record"
	"github.com/roach88/radstore/internal/storage"
)

// Loader fetches the decoded bytes of an attachment.
// *storage.Accessor implements it.
type Loader interface {
	Read(info storage.FileInfo) ([]byte, error)
}

// FindOneChildInstance follows the first child at each level down from the
// resource id at level until it reaches an instance.
func FindOneChildInstance(ctx context.Context, b Backend, id int64, level record.Level) (int64, error) {
	for level != record.LevelInstance {
		children, err := b.GetChildren(ctx, id)
		if err != nil {
			return 0, err
		}
		if len(children) == 0 {
			return 0, fault.New(fault.CodeInternal, "%s %d has no child", level, id)
		}
		id = children[0]
		level++
	}
	return id, nil
}

// Reconstructor rebuilds indexed attributes from stored payloads.
type Reconstructor struct {
	loader Loader
	parser record.Parser
	logger *slog.Logger
}

// NewReconstructor builds a Reconstructor. A nil logger uses slog.Default.
func NewReconstructor(loader Loader, parser record.Parser, logger *slog.Logger) *Reconstructor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconstructor{loader: loader, parser: parser, logger: logger}
}

// Resource re-derives the attributes of one resource from the payload of
// one of its instances. Existing attributes are replaced, never merged.
func (r *Reconstructor) Resource(ctx context.Context, b Backend, publicID string) error {
	res, found, err := b.LookupResource(ctx, publicID)
	if err != nil {
		return err
	}
	if !found {
		return fault.New(fault.CodeNotFound, "unknown resource %s", publicID)
	}

	instance, err := FindOneChildInstance(ctx, b, res.ID, res.Level)
	if err != nil {
		return err
	}
	info, ok, err := b.LookupAttachment(ctx, instance, storage.ContentRecord)
	if err != nil {
		return err
	}
	if !ok {
		return fault.New(fault.CodeInternal, "instance %d has no stored record", instance)
	}

	data, err := r.loader.Read(info)
	if err != nil {
		return err
	}
	ds, err := r.parser.Parse(data)
	if err != nil {
		return fault.Wrap(fault.CodeInternal, err, "stored record of %s", publicID)
	}

	if err := b.ClearIndexedAttributes(ctx, res.ID); err != nil {
		return err
	}
	return SetMainAttributes(ctx, b, res.ID, res.Level, ds.Attributes)
}

// Level reconstructs every resource of level and returns how many were
// processed. The first failure aborts the pass.
func (r *Reconstructor) Level(ctx context.Context, b Backend, level record.Level) (int, error) {
	ids, err := b.GetAllPublicIDs(ctx, level)
	if err != nil {
		return 0, err
	}

	r.logger.Info("reconstructing main attributes", "level", level.Plural(), "count", len(ids))
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := r.Resource(ctx, b, id); err != nil {
			return i, err
		}
	}
	return len(ids), nil
}

// All reconstructs every level from the patients down.
func (r *Reconstructor) All(ctx context.Context, b Backend) (int, error) {
	total := 0
	for _, level := range record.Levels {
		n, err := r.Level(ctx, b, level)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

package server

import (
	"context"

	"github.com/roach88/radstore/internal/cache"
	"github.com/roach88/radstore/internal/fault"
	"github.com/roach88/radstore/internal/index"
	"github.com/roach88/radstore/internal/notify"
	"github.com/roach88/radstore/internal/record"
	"github.com/roach88/radstore/internal/storage"
)

// DeleteResult reports a cascading delete.
type DeleteResult struct {
	Deleted           []index.Resource
	RemainingAncestor *index.Resource
}

// Delete removes the resource publicID, which must be of expected level,
// with everything below it and every ancestor left empty. Attachment
// files are removed once the index commits.
func (o *Orchestrator) Delete(ctx context.Context, publicID string, expected record.Level) (DeleteResult, error) {
	var res index.DeleteResult
	var changes []notify.ChangeEvent
	err := o.index.Update(ctx, func(tx *index.Tx) error {
		r, found, err := tx.LookupResource(ctx, publicID)
		if err != nil {
			return err
		}
		if !found || r.Level != expected {
			return fault.New(fault.CodeNotFound, "no %s %s", expected, publicID)
		}

		if res, err = tx.DeleteResource(ctx, r.ID); err != nil {
			return err
		}
		for _, d := range res.Deleted {
			ev, err := o.logChange(ctx, tx, notify.ChangeDeleted, d.PublicID, d.Level)
			if err != nil {
				return err
			}
			changes = append(changes, ev)
		}
		return nil
	})
	if err != nil {
		return DeleteResult{}, err
	}

	for _, f := range res.Files {
		if err := o.accessor.Remove(f); err != nil {
			o.logger.Warn("cannot remove attachment of deleted resource", "uuid", f.UUID, "error", err)
		}
	}
	for _, d := range res.Deleted {
		if d.Level == record.LevelInstance {
			o.cache.Invalidate(d.PublicID)
		}
	}
	o.publish(changes)

	o.logger.Info("resource deleted", "level", expected, "id", publicID, "removed", len(res.Deleted))
	return DeleteResult{Deleted: res.Deleted, RemainingAncestor: res.RemainingAncestor}, nil
}

// ReadAttachment returns the content of an attachment. With uncompress
// false the stored bytes are returned as they are.
func (o *Orchestrator) ReadAttachment(ctx context.Context, publicID string, contentType storage.ContentType, uncompress bool) ([]byte, storage.FileInfo, error) {
	var info storage.FileInfo
	err := o.index.View(ctx, func(tx *index.Tx) error {
		r, found, err := tx.LookupResource(ctx, publicID)
		if err != nil {
			return err
		}
		if !found {
			return fault.New(fault.CodeNotFound, "unknown resource %s", publicID)
		}
		var ok bool
		info, ok, err = tx.LookupAttachment(ctx, r.ID, contentType)
		if err != nil {
			return err
		}
		if !ok {
			return fault.New(fault.CodeNotFound, "%s has no %s attachment", publicID, contentType)
		}
		return nil
	})
	if err != nil {
		return nil, storage.FileInfo{}, err
	}

	var data []byte
	if uncompress {
		data, err = o.accessor.Read(info)
	} else {
		data, err = o.accessor.ReadRaw(info)
	}
	if err != nil {
		return nil, storage.FileInfo{}, err
	}
	return data, info, nil
}

// Checkout returns exclusive access to the parsed record of an instance.
// Release the handle when done.
func (o *Orchestrator) Checkout(ctx context.Context, instanceID string) (*cache.Handle[*record.Dataset], error) {
	return o.cache.Checkout(ctx, instanceID)
}

// AddAttachment stores data as the attachment of publicID with the given
// content type, replacing any previous one. The record itself cannot be
// replaced this way.
func (o *Orchestrator) AddAttachment(ctx context.Context, publicID string, contentType storage.ContentType, data []byte) (storage.FileInfo, error) {
	if contentType == storage.ContentRecord {
		return storage.FileInfo{}, fault.New(fault.CodeParameterOutOfRange, "the record attachment is read-only")
	}
	return o.replaceAttachment(ctx, publicID, contentType, data, o.accessor.Compression())
}

func (o *Orchestrator) replaceAttachment(ctx context.Context, publicID string, contentType storage.ContentType, data []byte, compression storage.CompressionType) (storage.FileInfo, error) {
	info, err := o.accessor.WriteAs(data, contentType, compression)
	if err != nil {
		return storage.FileInfo{}, err
	}

	var previous *storage.FileInfo
	var change notify.ChangeEvent
	err = o.index.Update(ctx, func(tx *index.Tx) error {
		r, found, err := tx.LookupResource(ctx, publicID)
		if err != nil {
			return err
		}
		if !found {
			return fault.New(fault.CodeNotFound, "unknown resource %s", publicID)
		}

		old, ok, err := tx.LookupAttachment(ctx, r.ID, contentType)
		if err != nil {
			return err
		}
		if ok {
			previous = &old
			if err := tx.DeleteAttachment(ctx, r.ID, contentType); err != nil {
				return err
			}
		}
		if err := tx.AddAttachment(ctx, r.ID, info); err != nil {
			return err
		}
		change, err = o.logChange(ctx, tx, notify.ChangeUpdatedAttachment, publicID, r.Level)
		return err
	})
	if err != nil {
		if rmErr := o.accessor.Remove(info); rmErr != nil {
			o.logger.Warn("cannot remove payload of failed attachment", "uuid", info.UUID, "error", rmErr)
		}
		return storage.FileInfo{}, err
	}

	if previous != nil {
		if err := o.accessor.Remove(*previous); err != nil {
			o.logger.Warn("cannot remove replaced attachment", "uuid", previous.UUID, "error", err)
		}
	}
	if change.Level == record.LevelInstance {
		o.cache.Invalidate(publicID)
	}
	o.publish([]notify.ChangeEvent{change})
	return info, nil
}

// Statistics summarizes the store.
type Statistics struct {
	Patients         int64
	Studies          int64
	Series           int64
	Instances        int64
	CompressedSize   int64
	UncompressedSize int64
}

func (o *Orchestrator) Statistics(ctx context.Context) (Statistics, error) {
	var s Statistics
	err := o.index.View(ctx, func(tx *index.Tx) error {
		counts := [4]*int64{&s.Patients, &s.Studies, &s.Series, &s.Instances}
		for _, level := range record.Levels {
			n, err := tx.CountResources(ctx, level)
			if err != nil {
				return err
			}
			*counts[level] = n
		}
		var err error
		s.CompressedSize, s.UncompressedSize, err = tx.TotalAttachmentSize(ctx)
		return err
	})
	return s, err
}

// Find returns the resources of level whose identifier tag matches value.
// Free-text identifiers are normalized the way they were indexed.
func (o *Orchestrator) Find(ctx context.Context, level record.Level, tag record.Tag, value string) ([]string, error) {
	var ids []string
	err := o.index.View(ctx, func(tx *index.Tx) error {
		var err error
		ids, err = tx.LookupIdentifier(ctx, level, tag, record.IdentifierValue(tag, value))
		return err
	})
	return ids, err
}

// AllPublicIDs lists every resource of level.
func (o *Orchestrator) AllPublicIDs(ctx context.Context, level record.Level) ([]string, error) {
	var ids []string
	err := o.index.View(ctx, func(tx *index.Tx) error {
		var err error
		ids, err = tx.GetAllPublicIDs(ctx, level)
		return err
	})
	return ids, err
}

// Changes pages through the changes log.
func (o *Orchestrator) Changes(ctx context.Context, since int64, limit int) ([]index.Change, bool, error) {
	var changes []index.Change
	var done bool
	err := o.index.View(ctx, func(tx *index.Tx) error {
		var err error
		changes, done, err = tx.GetChanges(ctx, since, limit)
		return err
	})
	return changes, done, err
}

// MainAttributes returns the stored main attributes of a resource.
func (o *Orchestrator) MainAttributes(ctx context.Context, publicID string) (record.Attributes, error) {
	var attrs record.Attributes
	err := o.index.View(ctx, func(tx *index.Tx) error {
		r, found, err := tx.LookupResource(ctx, publicID)
		if err != nil {
			return err
		}
		if !found {
			return fault.New(fault.CodeNotFound, "unknown resource %s", publicID)
		}
		attrs, err = tx.GetMainAttributes(ctx, r.ID)
		return err
	})
	return attrs, err
}

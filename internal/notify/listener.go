package notify

import (
	"context"

	"github.com/roach88/radstore/internal/record"
)

// Listener reacts to the record lifecycle. Implementations may be called
// from several goroutines: OnChange from the notifier loop, the other two
// synchronously from storing goroutines.
type Listener interface {
	// OnFilterIncoming decides whether a record may be stored.
	OnFilterIncoming(ctx context.Context, ds *record.Dataset) (bool, error)
	// OnStoredInstance runs after a record was stored as a new instance.
	OnStoredInstance(ctx context.Context, instanceID string, ds *record.Dataset) error
	// OnChange receives every change event, in order.
	OnChange(ctx context.Context, ev ChangeEvent) error
}

// NopListener accepts everything and ignores every event. Embed it to
// implement only part of Listener.
type NopListener struct{}

func (NopListener) OnFilterIncoming(context.Context, *record.Dataset) (bool, error) { return true, nil }

func (NopListener) OnStoredInstance(context.Context, string, *record.Dataset) error { return nil }

func (NopListener) OnChange(context.Context, ChangeEvent) error { return nil }

// Invalidator drops a cached object, waiting for any checkout in flight.
type Invalidator interface {
	Invalidate(key string)
}

// CacheInvalidator drops cached parsed records of instances that were
// deleted or replaced.
type CacheInvalidator struct {
	NopListener
	cache Invalidator
}

func NewCacheInvalidator(cache Invalidator) *CacheInvalidator {
	return &CacheInvalidator{cache: cache}
}

func (c *CacheInvalidator) OnChange(_ context.Context, ev ChangeEvent) error {
	switch ev.Type {
	case ChangeDeleted, ChangeUpdatedAttachment, ChangeNewInstance:
		if ev.Level == record.LevelInstance {
			c.cache.Invalidate(ev.PublicID)
		}
	}
	return nil
}

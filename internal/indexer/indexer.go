// Package indexer derives the per-level main and identifier attributes of
// a resource and writes them to the index, and rebuilds them from stored
// payloads when the index has to be reconstructed.
package indexer

import (
	"context"

	"github.com/roach88/radstore/internal/index"
	"github.com/roach88/radstore/internal/record"
	"github.com/roach88/radstore/internal/storage"
)

// Backend is the part of an index transaction the indexer needs.
// *index.Tx implements it. Every call runs inside the caller's
// transaction.
type Backend interface {
	SetMainAttribute(ctx context.Context, id int64, tag record.Tag, value string) error
	SetIdentifierAttribute(ctx context.Context, id int64, tag record.Tag, value string) error
	ClearIndexedAttributes(ctx context.Context, id int64) error
	LookupResource(ctx context.Context, publicID string) (index.Resource, bool, error)
	GetChildren(ctx context.Context, id int64) ([]int64, error)
	LookupAttachment(ctx context.Context, id int64, contentType storage.ContentType) (storage.FileInfo, bool, error)
	GetAllPublicIDs(ctx context.Context, level record.Level) ([]string, error)
}

var _ Backend = (*index.Tx)(nil)

// Subset returns the attributes that belong to a resource of level: the
// level's own main tags plus, below the patient, the patient's, so that
// every resource stays searchable by its patient.
func Subset(attrs record.Attributes, level record.Level) record.Attributes {
	out := attrs.Extract(level)
	if level != record.LevelPatient {
		for tag, v := range attrs.Extract(record.LevelPatient) {
			out[tag] = v
		}
	}
	return out
}

// Identifiers returns the searchable attributes of level with their stored
// (possibly normalized) values.
func Identifiers(attrs record.Attributes, level record.Level) record.Attributes {
	out := record.Attributes{}
	add := func(l record.Level) {
		for _, tag := range record.IdentifierTags(l) {
			if v, ok := attrs[tag]; ok {
				out[tag] = record.IdentifierValue(tag, v)
			}
		}
	}
	add(level)
	if level != record.LevelPatient {
		add(record.LevelPatient)
	}
	return out
}

// SetMainAttributes writes the main and identifier attributes of the
// resource id at level. It must run in the same transaction as the
// resource's creation.
func SetMainAttributes(ctx context.Context, b Backend, id int64, level record.Level, attrs record.Attributes) error {
	main := Subset(attrs, level)
	for _, tag := range main.Tags() {
		if err := b.SetMainAttribute(ctx, id, tag, main[tag]); err != nil {
			return err
		}
	}

	ident := Identifiers(attrs, level)
	for _, tag := range ident.Tags() {
		if err := b.SetIdentifierAttribute(ctx, id, tag, ident[tag]); err != nil {
			return err
		}
	}
	return nil
}

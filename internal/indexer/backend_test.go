package indexer

import (
	"context"
	"sort"

	"github.com/roach88/radstore/internal/index"
	"github.com/roach88/radstore/internal/record"
	"github.com/roach88/radstore/internal/storage"
)

// memBackend is an in-memory Backend.
type memBackend struct {
	next        int64
	resources   map[int64]index.Resource
	byPublicID  map[string]int64
	main        map[int64]record.Attributes
	ident       map[int64]record.Attributes
	attachments map[int64]map[storage.ContentType]storage.FileInfo
}

func newMemBackend() *memBackend {
	return &memBackend{
		resources:   map[int64]index.Resource{},
		byPublicID:  map[string]int64{},
		main:        map[int64]record.Attributes{},
		ident:       map[int64]record.Attributes{},
		attachments: map[int64]map[storage.ContentType]storage.FileInfo{},
	}
}

func (m *memBackend) create(publicID string, level record.Level, parent int64) int64 {
	m.next++
	m.resources[m.next] = index.Resource{ID: m.next, PublicID: publicID, Level: level, ParentID: parent}
	m.byPublicID[publicID] = m.next
	return m.next
}

func (m *memBackend) SetMainAttribute(_ context.Context, id int64, tag record.Tag, value string) error {
	if m.main[id] == nil {
		m.main[id] = record.Attributes{}
	}
	m.main[id][tag] = value
	return nil
}

func (m *memBackend) SetIdentifierAttribute(_ context.Context, id int64, tag record.Tag, value string) error {
	if m.ident[id] == nil {
		m.ident[id] = record.Attributes{}
	}
	m.ident[id][tag] = value
	return nil
}

func (m *memBackend) ClearIndexedAttributes(_ context.Context, id int64) error {
	delete(m.main, id)
	delete(m.ident, id)
	return nil
}

func (m *memBackend) LookupResource(_ context.Context, publicID string) (index.Resource, bool, error) {
	id, ok := m.byPublicID[publicID]
	if !ok {
		return index.Resource{}, false, nil
	}
	return m.resources[id], true, nil
}

func (m *memBackend) GetChildren(_ context.Context, id int64) ([]int64, error) {
	children := []int64{}
	for cid, r := range m.resources {
		if r.ParentID == id {
			children = append(children, cid)
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i] < children[j] })
	return children, nil
}

func (m *memBackend) LookupAttachment(_ context.Context, id int64, ct storage.ContentType) (storage.FileInfo, bool, error) {
	info, ok := m.attachments[id][ct]
	return info, ok, nil
}

func (m *memBackend) GetAllPublicIDs(_ context.Context, level record.Level) ([]string, error) {
	var ids []int64
	for id, r := range m.resources {
		if r.Level == level {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.resources[id].PublicID)
	}
	return out, nil
}

package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/radstore/internal/index"
)

// jobsProperty is the global property holding the serialized registry.
const jobsProperty = "jobs.registry"

const persistVersion = 1

// Persister stores the serialized set of unfinished jobs.
type Persister interface {
	SaveJobs(ctx context.Context, data []byte) error
	// LoadJobs reports false when nothing was ever saved.
	LoadJobs(ctx context.Context) ([]byte, bool, error)
}

// IndexPersister keeps the registry in a global property of the index.
type IndexPersister struct {
	store *index.Store
}

func NewIndexPersister(store *index.Store) *IndexPersister {
	return &IndexPersister{store: store}
}

func (p *IndexPersister) SaveJobs(ctx context.Context, data []byte) error {
	return p.store.Update(ctx, func(tx *index.Tx) error {
		return tx.SetGlobalProperty(ctx, jobsProperty, string(data))
	})
}

func (p *IndexPersister) LoadJobs(ctx context.Context) ([]byte, bool, error) {
	var value string
	var found bool
	err := p.store.View(ctx, func(tx *index.Tx) error {
		var err error
		value, found, err = tx.LookupGlobalProperty(ctx, jobsProperty)
		return err
	})
	if err != nil || !found {
		return nil, false, err
	}
	return []byte(value), true, nil
}

type persistedJob struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Priority   int             `json:"priority"`
	State      string          `json:"state"`
	Created    time.Time       `json:"created"`
	Parameters json.RawMessage `json:"parameters"`
}

type persistedRegistry struct {
	Version int            `json:"version"`
	Jobs    []persistedJob `json:"jobs"`
}

func marshalRegistry(snaps []snapshot) ([]byte, error) {
	reg := persistedRegistry{Version: persistVersion, Jobs: []persistedJob{}}
	for _, s := range snaps {
		params, err := s.job.Serialize()
		if err != nil {
			return nil, fmt.Errorf("serialize job %s: %w", s.id, err)
		}
		reg.Jobs = append(reg.Jobs, persistedJob{
			ID:         s.id,
			Type:       s.job.Type(),
			Priority:   s.priority,
			State:      s.state.String(),
			Created:    s.created,
			Parameters: params,
		})
	}
	return json.Marshal(reg)
}

func unmarshalRegistry(data []byte) (persistedRegistry, error) {
	var reg persistedRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return persistedRegistry{}, fmt.Errorf("parse job registry: %w", err)
	}
	if reg.Version != persistVersion {
		return persistedRegistry{}, fmt.Errorf("unsupported job registry version %d", reg.Version)
	}
	return reg, nil
}

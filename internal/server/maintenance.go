package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/radstore/internal/fault"
	"github.com/roach88/radstore/internal/index"
	"github.com/roach88/radstore/internal/indexer"
	"github.com/roach88/radstore/internal/jobs"
	"github.com/roach88/radstore/internal/record"
	"github.com/roach88/radstore/internal/storage"
)

// Job types of the maintenance jobs.
const (
	JobReconstructAttributes = "ReconstructAttributes"
	JobChangeCompression     = "ChangeCompression"
)

// Reconstruct rebuilds the indexed attributes of every resource of the
// given levels (all levels when none is given) from the stored records,
// in one index-wide transaction.
func (o *Orchestrator) Reconstruct(ctx context.Context, levels ...record.Level) (int, error) {
	if len(levels) == 0 {
		levels = record.Levels
	}
	r := indexer.NewReconstructor(o.accessor, o.codec, o.logger)

	total := 0
	err := o.index.Update(ctx, func(tx *index.Tx) error {
		total = 0
		for _, level := range levels {
			n, err := r.Level(ctx, tx, level)
			total += n
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	o.logger.Info("reconstruction done", "resources", total)
	return total, nil
}

// SubmitReconstruction queues a reconstruction job.
func (o *Orchestrator) SubmitReconstruction(priority int, levels ...record.Level) (string, error) {
	if o.engine == nil {
		return "", fault.New(fault.CodeNotImplemented, "no job engine configured")
	}
	return o.engine.Submit(&reconstructJob{o: o, Levels: levels}, priority)
}

// ChangeCompression queues a job rewriting the records of the given
// instances with another compression.
func (o *Orchestrator) ChangeCompression(priority int, instances []string, compression storage.CompressionType) (string, error) {
	if o.engine == nil {
		return "", fault.New(fault.CodeNotImplemented, "no job engine configured")
	}
	return o.engine.Submit(&compressionJob{o: o, Instances: instances, Compression: compression.String()}, priority)
}

func (o *Orchestrator) registerJobTypes(e *jobs.Engine) {
	e.RegisterType(JobReconstructAttributes, func(params json.RawMessage) (jobs.Job, error) {
		j := &reconstructJob{o: o}
		if err := json.Unmarshal(params, j); err != nil {
			return nil, fmt.Errorf("parse %s parameters: %w", JobReconstructAttributes, err)
		}
		return j, nil
	})
	e.RegisterType(JobChangeCompression, func(params json.RawMessage) (jobs.Job, error) {
		j := &compressionJob{o: o}
		if err := json.Unmarshal(params, j); err != nil {
			return nil, fmt.Errorf("parse %s parameters: %w", JobChangeCompression, err)
		}
		if _, err := storage.ParseCompression(j.Compression); err != nil {
			return nil, err
		}
		return j, nil
	})
}

type reconstructJob struct {
	o      *Orchestrator
	Levels []record.Level `json:"levels,omitempty"`
}

func (j *reconstructJob) Type() string { return JobReconstructAttributes }

func (j *reconstructJob) Run(ctx context.Context) error {
	_, err := j.o.Reconstruct(ctx, j.Levels...)
	return err
}

func (j *reconstructJob) Serialize() (json.RawMessage, error) {
	return json.Marshal(j)
}

type compressionJob struct {
	o           *Orchestrator
	Instances   []string `json:"instances"`
	Compression string   `json:"compression"`
}

func (j *compressionJob) Type() string { return JobChangeCompression }

func (j *compressionJob) Run(ctx context.Context) error {
	target, err := storage.ParseCompression(j.Compression)
	if err != nil {
		return err
	}

	changed := 0
	for _, id := range j.Instances {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, info, err := j.o.ReadAttachment(ctx, id, storage.ContentRecord, true)
		if err != nil {
			return err
		}
		if info.Compression == target {
			continue
		}
		if _, err := j.o.replaceAttachment(ctx, id, storage.ContentRecord, data, target); err != nil {
			return err
		}
		changed++
	}
	j.o.logger.Info("compression changed", "compression", target, "instances", changed, "requested", len(j.Instances))
	return nil
}

func (j *compressionJob) Serialize() (json.RawMessage, error) {
	return json.Marshal(j)
}

// Package jobs runs long-running background work on a fixed worker pool
// and keeps the set of unfinished jobs persisted across restarts.
package jobs

import (
	"context"
	"encoding/json"
	"time"
)

// Job is one unit of background work.
type Job interface {
	// Type names the job kind; it selects the Unserializer on reload.
	Type() string
	// Run does the work. ctx is canceled when the job is canceled or the
	// engine stops; long jobs should check it between steps.
	Run(ctx context.Context) error
	// Serialize returns the parameters needed to start the job again.
	Serialize() (json.RawMessage, error)
}

// Unserializer rebuilds a job of one type from its parameters.
type Unserializer func(params json.RawMessage) (Job, error)

// State is the lifecycle state of a job.
type State int

const (
	StatePending State = iota
	StateRunning
	StateSuccess
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateRunning:
		return "Running"
	case StateSuccess:
		return "Success"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the job has finished.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailed
}

// Info is a snapshot of one job.
type Info struct {
	ID             string
	Type           string
	Priority       int
	State          State
	Failure        string
	CreationTime   time.Time
	StartTime      time.Time
	CompletionTime time.Time
}

// Observer is told about job lifecycle transitions. Calls are synchronous
// and made without the registry lock held.
type Observer interface {
	OnJobSubmitted(id string)
	OnJobSuccess(id string)
	OnJobFailure(id string)
}

package notify

import (
	"time"

	"github.com/roach88/radstore/internal/record"
)

// ChangeType is the kind of a change event.
type ChangeType string

const (
	ChangeNewPatient        ChangeType = "NewPatient"
	ChangeNewStudy          ChangeType = "NewStudy"
	ChangeNewSeries         ChangeType = "NewSeries"
	ChangeNewInstance       ChangeType = "NewInstance"
	ChangeDeleted           ChangeType = "Deleted"
	ChangeUpdatedAttachment ChangeType = "UpdatedAttachment"
	ChangeJobSubmitted      ChangeType = "JobSubmitted"
	ChangeJobSuccess        ChangeType = "JobSuccess"
	ChangeJobFailure        ChangeType = "JobFailure"
)

// NoLevel marks events that are not about a resource.
const NoLevel record.Level = -1

// NewResourceChange returns the creation change of level.
func NewResourceChange(level record.Level) ChangeType {
	switch level {
	case record.LevelPatient:
		return ChangeNewPatient
	case record.LevelStudy:
		return ChangeNewStudy
	case record.LevelSeries:
		return ChangeNewSeries
	default:
		return ChangeNewInstance
	}
}

// ChangeEvent is one immutable lifecycle notification. Seq orders events
// in enqueue order; for job events PublicID is the job id.
type ChangeEvent struct {
	Seq      int64        `json:"seq"`
	Type     ChangeType   `json:"type"`
	PublicID string       `json:"id"`
	Level    record.Level `json:"level"`
	Date     time.Time    `json:"date"`
}

// IsJob reports whether the event mirrors a job transition.
func (e ChangeEvent) IsJob() bool {
	return e.Level == NoLevel
}

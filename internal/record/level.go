package record

import (
	"fmt"
	"strings"
)

// Level is a node kind in the four-level resource hierarchy.
type Level int

const (
	LevelPatient Level = iota
	LevelStudy
	LevelSeries
	LevelInstance
)

// Levels lists every level from the root down.
var Levels = []Level{LevelPatient, LevelStudy, LevelSeries, LevelInstance}

func (l Level) String() string {
	switch l {
	case LevelPatient:
		return "Patient"
	case LevelStudy:
		return "Study"
	case LevelSeries:
		return "Series"
	case LevelInstance:
		return "Instance"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// Plural returns the lowercase collection name, as used in log messages
// and routes.
func (l Level) Plural() string {
	switch l {
	case LevelPatient:
		return "patients"
	case LevelStudy:
		return "studies"
	case LevelSeries:
		return "series"
	case LevelInstance:
		return "instances"
	default:
		return "unknown"
	}
}

// Valid reports whether l is one of the four levels.
func (l Level) Valid() bool {
	return l >= LevelPatient && l <= LevelInstance
}

// Child returns the immediately enclosed level.
func (l Level) Child() (Level, bool) {
	if !l.Valid() || l == LevelInstance {
		return 0, false
	}
	return l + 1, true
}

// Parent returns the immediately enclosing level.
func (l Level) Parent() (Level, bool) {
	if !l.Valid() || l == LevelPatient {
		return 0, false
	}
	return l - 1, true
}

// ParseLevel accepts singular or plural names, case-insensitively.
func ParseLevel(s string) (Level, error) {
	for _, l := range Levels {
		if strings.EqualFold(s, l.String()) || strings.EqualFold(s, l.Plural()) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown resource level %q", s)
}

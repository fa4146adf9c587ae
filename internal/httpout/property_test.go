package httpout

import (
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/roach88/radstore/internal/fault"
)

// splitResponse returns the advertised Content-Length and the body bytes.
func splitResponse(raw string) (advertised int, body string, ok bool) {
	head, body, found := strings.Cut(raw, "\r\n\r\n")
	if !found {
		return 0, "", false
	}
	for _, line := range strings.Split(head, "\r\n") {
		if v, found := strings.CutPrefix(line, "Content-Length: "); found {
			n, err := strconv.Atoi(v)
			if err != nil {
				return 0, "", false
			}
			return n, body, true
		}
	}
	return 0, "", false
}

// Property: with a declared length, no chunk sequence writes more body bytes
// than declared, every overflowing chunk fails with a sequencing error, and a
// completed response advertises exactly the bytes it carries.
func TestProperty_DeclaredLengthIsNeverExceeded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("body never exceeds declared length", prop.ForAll(
		func(declared int, chunks []int) bool {
			sink := newRecordingSink()
			sm := NewStateMachine(sink, true)
			if err := sm.SetContentLength(uint64(declared)); err != nil {
				return false
			}

			sent := 0
			for _, size := range chunks {
				err := sm.SendBody([]byte(strings.Repeat("x", size)))
				overflows := sent+size > declared
				if sm.State() == StateDone && size > 0 && sent == declared && err != nil {
					if !fault.IsSequencing(err) {
						return false
					}
					continue
				}
				if overflows {
					if err == nil || !fault.IsSequencing(err) {
						return false
					}
					continue
				}
				if err != nil {
					return false
				}
				sent += size
			}

			if sink.buf.Len() == 0 {
				return sent == 0
			}
			advertised, body, ok := splitResponse(sink.String())
			if !ok || advertised != declared || len(body) != sent || sent > declared {
				return false
			}
			return (sm.State() == StateDone) == (sent == declared)
		},
		gen.IntRange(0, 48),
		gen.SliceOf(gen.IntRange(0, 16)),
	))

	properties.TestingRun(t)
}

// Property: a single-shot body always advertises its own length.
func TestProperty_SingleShotAdvertisesOwnLength(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("content-length equals body size", prop.ForAll(
		func(body string, keepAlive bool) bool {
			sink := newRecordingSink()
			sm := NewStateMachine(sink, keepAlive)
			if err := sm.SendBody([]byte(body)); err != nil {
				return false
			}
			advertised, got, ok := splitResponse(sink.String())
			return ok && advertised == len(body) && got == body && sm.State() == StateDone
		},
		gen.AlphaString(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequentialUUIDs returns an attachment uuid source yielding
// "<prefix>-0001", "<prefix>-0002", ... so stored file names are
// predictable.
func SequentialUUIDs(prefix string) func() string {
	if prefix == "" {
		prefix = "att"
	}
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%04d", prefix, n.Add(1))
	}
}

package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/radstore/internal/record"
)

func TestStepClock(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := NewStepClock(start, time.Second)

	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start.Add(time.Second), clock.Now())

	clock.Reset(start)
	assert.Equal(t, start, clock.Now())
}

func TestStepClock_Concurrent(t *testing.T) {
	start := time.Unix(0, 0).UTC()
	clock := NewStepClock(start, time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Now()
		}()
	}
	wg.Wait()
	assert.Equal(t, start.Add(50*time.Millisecond), clock.Now())
}

func TestSequentialUUIDs(t *testing.T) {
	next := SequentialUUIDs("rec")
	assert.Equal(t, "rec-0001", next())
	assert.Equal(t, "rec-0002", next())
	assert.Equal(t, "att-0001", SequentialUUIDs("")())
}

func TestDataset(t *testing.T) {
	ds := Dataset(Chain{"P", "S", "SE", "I"}, record.Attributes{record.TagModality: "MR"})
	assert.Empty(t, ds.Attributes.MissingRequired())
	assert.Equal(t, "MR", ds.Attributes[record.TagModality])

	parsed, err := record.MustCBORCodec().Parse(Encode(t, ds))
	require.NoError(t, err)
	assert.Equal(t, ds, parsed)
}

func TestOpenIndex(t *testing.T) {
	idx := OpenIndex(t)
	require.NotNil(t, idx.DB())
	require.NoError(t, idx.DB().Ping())
}

package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

func newCountingProvider() *countingProvider {
	return &countingProvider{calls: make(map[string]int), fail: make(map[string]error)}
}

func (p *countingProvider) provide(_ context.Context, key string) (*[]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[key]++
	if err := p.fail[key]; err != nil {
		return nil, err
	}
	v := []string{key}
	return &v, nil
}

func (p *countingProvider) count(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[key]
}

func TestCheckout_ConstructsOnceAndReuses(t *testing.T) {
	p := newCountingProvider()
	c := New(4, p.provide)
	ctx := context.Background()

	h, err := c.Checkout(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", h.Key())
	assert.Equal(t, []string{"a"}, *h.Value())
	h.Release()

	h, err = c.Checkout(ctx, "a")
	require.NoError(t, err)
	h.Release()
	h.Release() // idempotent

	assert.Equal(t, 1, p.count("a"))
	assert.Equal(t, 1, c.Len())
}

func TestCheckout_ProviderFailureNotCached(t *testing.T) {
	p := newCountingProvider()
	boom := errors.New("unreadable payload")
	p.fail["bad"] = boom
	c := New(4, p.provide)

	_, err := c.Checkout(context.Background(), "bad")
	require.ErrorIs(t, err, boom)
	assert.False(t, c.Contains("bad"))

	_, err = c.Checkout(context.Background(), "bad")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, p.count("bad"))
}

func TestCheckout_ConcurrentCallersAreSerialized(t *testing.T) {
	p := newCountingProvider()
	c := New(4, p.provide)

	const workers = 16
	var inUse, maxInUse, sections atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := c.Checkout(context.Background(), "shared")
			if err != nil {
				t.Error(err)
				return
			}
			n := inUse.Add(1)
			for {
				m := maxInUse.Load()
				if n <= m || maxInUse.CompareAndSwap(m, n) {
					break
				}
			}
			*h.Value() = append(*h.Value(), "touched")
			time.Sleep(time.Millisecond)
			inUse.Add(-1)
			sections.Add(1)
			h.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(workers), sections.Load())
	assert.Equal(t, int32(1), maxInUse.Load(), "at most one holder at a time")
	assert.Equal(t, 1, p.count("shared"), "provider runs once absent eviction")

	h, err := c.Checkout(context.Background(), "shared")
	require.NoError(t, err)
	defer h.Release()
	assert.Len(t, *h.Value(), workers+1)
}

func TestEviction_LeastRecentlyReleased(t *testing.T) {
	p := newCountingProvider()
	c := New(2, p.provide)
	ctx := context.Background()

	for _, key := range []string{"a", "b"} {
		h, err := c.Checkout(ctx, key)
		require.NoError(t, err)
		h.Release()
	}

	// Touch "a" so "b" becomes the least recently released.
	h, err := c.Checkout(ctx, "a")
	require.NoError(t, err)
	h.Release()

	h, err = c.Checkout(ctx, "c")
	require.NoError(t, err)
	h.Release()

	assert.True(t, c.Contains("a"))
	assert.False(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))
}

func TestEviction_SkipsCheckedOutEntries(t *testing.T) {
	p := newCountingProvider()
	c := New(1, p.provide)
	ctx := context.Background()

	held, err := c.Checkout(ctx, "held")
	require.NoError(t, err)

	other, err := c.Checkout(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len(), "checked-out entries are not evicted")

	other.Release()
	assert.False(t, c.Contains("other"))
	assert.True(t, c.Contains("held"))
	held.Release()
	assert.Equal(t, 1, c.Len())
}

func TestInvalidate_WaitsForRelease(t *testing.T) {
	p := newCountingProvider()
	c := New(4, p.provide)
	ctx := context.Background()

	h, err := c.Checkout(ctx, "a")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		c.Invalidate("a")
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Invalidate returned while entry was checked out")
	case <-time.After(20 * time.Millisecond):
	}

	h.Release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Invalidate did not return after release")
	}
	assert.False(t, c.Contains("a"))

	h, err = c.Checkout(ctx, "a")
	require.NoError(t, err)
	h.Release()
	assert.Equal(t, 2, p.count("a"))
}

func TestHandleInvalidate_DropsOnRelease(t *testing.T) {
	p := newCountingProvider()
	c := New(4, p.provide)

	h, err := c.Checkout(context.Background(), "a")
	require.NoError(t, err)
	h.Invalidate()
	assert.True(t, c.Contains("a"))
	h.Release()
	assert.False(t, c.Contains("a"))
}

func TestInvalidate_MissingKey(t *testing.T) {
	c := New(1, newCountingProvider().provide)
	assert.NotPanics(t, func() { c.Invalidate("nothing") })
}

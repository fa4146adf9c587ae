package notify

import "sync/atomic"

// Clock hands out strictly increasing event sequence numbers.
type Clock struct {
	seq atomic.Int64
}

// NewClockAt starts a clock after start, so the first Next returns start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

func (c *Clock) Current() int64 {
	return c.seq.Load()
}

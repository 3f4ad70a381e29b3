package server

import "sync/atomic"

// HostCounterMask keeps the bits of a host counter that identify the game.
// The top nibble carries the realm a join came through.
const HostCounterMask = 0x0FFFFFFF

// HostCounter hands out process-unique host counters. It is safe for
// concurrent use.
type HostCounter struct {
	next atomic.Uint32
}

// NewHostCounter returns a counter whose first value is start, or 1 when
// start is zero.
func NewHostCounter(start uint32) *HostCounter {
	c := &HostCounter{}
	start &= HostCounterMask
	if start == 0 {
		start = 1
	}
	c.next.Store(start)
	return c
}

// Next returns the next counter. Zero is skipped on wrap-around.
func (c *HostCounter) Next() uint32 {
	for {
		v := c.next.Add(1) - 1
		v &= HostCounterMask
		if v != 0 {
			return v
		}
	}
}

package metrics

import "sync/atomic"

// UCounter is an unsigned, monotonically increasing atomic counter.
// It has no Reset or Store.
type UCounter struct {
	value atomic.Uint64
}

// Add adds delta to the counter and returns the new value.
func (c *UCounter) Add(delta uint64) uint64 {
	return c.value.Add(delta)
}

// Inc increments by 1.
func (c *UCounter) Inc() uint64 {
	return c.value.Add(1)
}

// Load returns the current value.
func (c *UCounter) Load() uint64 {
	return c.value.Load()
}

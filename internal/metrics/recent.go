package metrics

import (
	"sync"

	"github.com/gateway-fm/rpcloadgen/pkg/types"
)

// DefaultRecentTxs is how many submissions RecentTxs keeps.
const DefaultRecentTxs = 50

// RecentTxs keeps the last N submission attempts in a ring buffer.
// Memory is bounded by the capacity regardless of run length.
type RecentTxs struct {
	mu sync.RWMutex

	buf  []types.TxRecord
	head int // next position to write
	size int
}

// NewRecentTxs creates a buffer holding at most capacity records.
func NewRecentTxs(capacity int) *RecentTxs {
	if capacity <= 0 {
		capacity = DefaultRecentTxs
	}
	return &RecentTxs{buf: make([]types.TxRecord, capacity)}
}

// Add records a submission, overwriting the oldest entry when full.
func (r *RecentTxs) Add(rec types.TxRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.head] = rec
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// List returns the buffered records, newest first.
func (r *RecentTxs) List() []types.TxRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.TxRecord, 0, r.size)
	for i := 1; i <= r.size; i++ {
		idx := (r.head - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

// Len returns the number of buffered records.
func (r *RecentTxs) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

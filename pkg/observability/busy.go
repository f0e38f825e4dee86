package observability

import "sync/atomic"

// Busy is the shared counter of outstanding deferred tasks. It is a
// best-effort idle signal for external health probes, not a correctness
// mechanism. Construct one per process and inject it; do not share across
// tenants.
type Busy struct {
	n atomic.Int64
}

// NewBusy returns a zeroed busy counter.
func NewBusy() *Busy {
	return &Busy{}
}

// Add adjusts the count by delta and mirrors it to the pending-tasks gauge.
func (b *Busy) Add(delta int64) {
	b.n.Add(delta)
	pendingTasks.Add(float64(delta))
}

// Pending returns the current count.
func (b *Busy) Pending() int64 {
	return b.n.Load()
}

// Idle reports whether no deferred work is outstanding.
func (b *Busy) Idle() bool {
	return b.n.Load() == 0
}

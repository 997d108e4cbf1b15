package tracing

import (
	"sort"
	"sync"

	"github.com/sarchlab/vmcore/hooking"
)

// A CountTracer counts events by hook position.
type CountTracer struct {
	lock   sync.Mutex
	counts map[string]uint64
}

// NewCountTracer creates a CountTracer.
func NewCountTracer() *CountTracer {
	return &CountTracer{counts: make(map[string]uint64)}
}

// Func counts the event.
func (t *CountTracer) Func(ctx hooking.HookCtx) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.counts[ctx.Pos.Name]++
}

// Count returns the number of events seen at a position.
func (t *CountTracer) Count(pos *hooking.HookPos) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.counts[pos.Name]
}

// Counts returns a copy of all the counters.
func (t *CountTracer) Counts() map[string]uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	counts := make(map[string]uint64, len(t.counts))
	for k, v := range t.counts {
		counts[k] = v
	}

	return counts
}

// Names returns the names of the positions seen so far in order.
func (t *CountTracer) Names() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	names := make([]string, 0, len(t.counts))
	for k := range t.counts {
		names = append(names, k)
	}
	sort.Strings(names)

	return names
}

package heap

import (
	"sync/atomic"
	"unsafe"
)

// pendingFreeQueue is C9: a Treiber stack (§4.8, §9) for cross-thread
// frees. push_pending_free is callable from any goroutine and never
// acquires the heap lock; the owning heap drains the whole stack with one
// atomic exchange and processes each node under its own lock. The nodes
// themselves are the freed blocks' first machine word — no separate
// allocation is required, and there is no ABA hazard because a node is
// never pushed a second time until the owning thread has drained and
// processed it (§9).
//
// Grounded in the CAS-loop idiom of
// momentics-hioload-ws/core/concurrency/lock_free_queue.go, adapted from
// its bounded MPMC ring to an unbounded Treiber stack, the structure §4.8
// actually calls for.
type pendingFreeQueue struct {
	head  atomic.Uintptr
	count atomic.Int64 // informational only, per §9 ("count may be relaxed")
}

// push installs p at the head of the stack. Safe to call from any
// goroutine without the heap lock.
func (q *pendingFreeQueue) push(p uintptr) {
	for {
		old := q.head.Load()
		*(*uintptr)(unsafe.Pointer(p)) = old
		if q.head.CompareAndSwap(old, p) {
			q.count.Add(1)
			return
		}
	}
}

// drain atomically detaches the entire stack and returns its addresses in
// LIFO (most-recently-pushed-first) order. Must be called by the owning
// heap's goroutine, typically at the start of allocate.
func (q *pendingFreeQueue) drain() []uintptr {
	head := q.head.Swap(0)
	if head == 0 {
		return nil
	}
	var out []uintptr
	for p := head; p != 0; {
		out = append(out, p)
		next := *(*uintptr)(unsafe.Pointer(p))
		p = next
	}
	q.count.Add(-int64(len(out)))
	return out
}

// Len reports the approximate number of pending frees (relaxed, §9).
func (q *pendingFreeQueue) Len() int64 {
	return q.count.Load()
}

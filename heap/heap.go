package heap

import (
	"sync"
	"unsafe"

	"segheap/heap/sizeclass"
	"segheap/internal/vmm"
	"segheap/internal/xlog"
)

// Heap is C8: the thread heap orchestrator. A Heap value is meant to be
// owned by exactly one goroutine at a time (spec.md's "thread"); its
// exported methods other than PushPendingFree take an internal mutex, and
// PushPendingFree is lock-free, so cross-goroutine frees through it remain
// safe, but the design assumes one goroutine drives
// Allocate/Free/Close for any given Heap.
type Heap struct {
	mu sync.Mutex

	mapper  vmm.Mapper
	classes *sizeclass.Table

	partial  []uintptr               // per-class partial slab list heads
	freeRuns [pagesPerSegment]uintptr // free_runs[pages-1] bucket heads

	activeHead uintptr // active (standard) segment list
	hugeHead   uintptr // huge segment list

	pending pendingFreeQueue

	hugeThreshold uintptr

	lastReleaseErr error
}

// New constructs a Heap. Each goroutine that wants independent, minimally
// contended allocation should construct its own Heap — this module does not
// implement thread-local auto-binding (spec.md §1 names that out of scope).
func New(opts ...Option) *Heap {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	table := sizeclass.Build(cfg.schedule)

	largeRunHeaderPages := alignUp(largeRunHeaderSize, PAGE) / PAGE
	usablePagesPerSegment := pagesPerSegment - segmentMetadataPages - largeRunHeaderPages
	hugeThreshold := usablePagesPerSegment*PAGE - largeRunHeaderSize
	if cfg.hugeThreshold != 0 {
		hugeThreshold = cfg.hugeThreshold
	}

	return &Heap{
		mapper:        cfg.mapper,
		classes:       table,
		partial:       make([]uintptr, table.Len()),
		hugeThreshold: hugeThreshold,
	}
}

// Allocate implements §4.6's allocate(size) request flow. It returns a nil
// pointer for size 0 (with a nil error), and otherwise only on OS mapping
// failure or an unrepresentable size, per §7.
func (h *Heap) Allocate(size uint64) (unsafe.Pointer, error) {
	if size == 0 {
		return nil, nil
	}
	n := uintptr(size)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.drainPendingLocked()

	var addr uintptr
	var err error
	switch {
	case n > h.hugeThreshold:
		addr, err = h.allocateHuge(n)
	case n > MaxSmall:
		addr, err = h.allocateLarge(n)
	default:
		addr, err = h.allocateSmall(n)
	}
	if err != nil {
		return nil, err
	}
	return unsafe.Pointer(addr), nil
}

// allocateSmall implements §4.6's small path: use the existing partial slab
// if one exists, else build a fresh one via C6+C4, allocate once, and move
// the slab off the partial list if that allocation filled it.
func (h *Heap) allocateSmall(size uintptr) (uintptr, error) {
	classID, ok := h.classes.ClassOf(uint32(size))
	if !ok {
		return 0, ErrSizeTooLarge
	}

	slabAddr := h.partial[classID]
	if slabAddr == 0 {
		addr, err := h.newSmallSlab(classID)
		if err != nil {
			return 0, err
		}
		slabAddr = addr
		h.linkPartialHead(classID, slabAddr)
	}

	class := h.classes.Class(classID)
	block := h.allocateBlock(slabAddr, class)
	if smallSlabIsFull(slabAddr) {
		h.unlinkPartial(classID, slabAddr)
	}
	return block, nil
}

// Free implements §4.6's unified free(p): locate the segment by address
// masking, read the page descriptor, and dispatch to the huge/large/small
// handler. p == nil is a no-op.
func (h *Heap) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.freeInternal(uintptr(p))
}

// PushPendingFree is C9's entry point: callable from any goroutine without
// acquiring the heap lock. The owning heap performs the actual release at
// its next Allocate call (or an explicit Drain).
func (h *Heap) PushPendingFree(p unsafe.Pointer) {
	if p == nil {
		return
	}
	h.pending.push(uintptr(p))
}

// Drain processes any pending cross-thread frees immediately, without
// waiting for the next Allocate. Useful for callers that free much more
// than they allocate and don't want pending frees to linger.
func (h *Heap) Drain() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drainPendingLocked()
}

func (h *Heap) drainPendingLocked() {
	for _, p := range h.pending.drain() {
		h.freeInternal(p)
	}
}

// freeInternal is the internal free path shared by Free and pending-queue
// draining; the caller must hold h.mu.
func (h *Heap) freeInternal(p uintptr) {
	segBase := segmentOf(p)
	seg := segmentHeaderAt(segBase)

	if seg.descriptors[0].status == statusHugeSlab {
		h.freeHuge(seg)
		return
	}

	d := descriptorAt(seg, p)
	if d.backPtr == 0 {
		xlog.Warn("heap: ignoring invalid free at %#x (no owning run)", p)
		return
	}
	headAddr := d.backPtr
	dh := descriptorAt(seg, headAddr)

	switch dh.status {
	case statusLargeSlab:
		pages := uintptr(largeRunAt(headAddr).pages)
		h.releasePages(seg, headAddr, pages)
	case statusSmallSlab:
		slab := smallSlabAt(headAddr)
		class := h.classes.Class(int(slab.classID))
		wasFull := smallSlabIsFull(headAddr)
		if !h.freeSmallBlock(headAddr, class, p) {
			xlog.Warn("heap: ignoring invalid free at %#x (misaligned or out-of-range small block)", p)
			return
		}
		switch {
		case smallSlabIsEmpty(headAddr, class):
			// A FULL slab is off the partial list entirely (capacity-1
			// classes go FULL -> EMPTY on their one free), so only unlink
			// when the slab was actually on the partial list beforehand.
			if !wasFull {
				h.unlinkPartial(int(slab.classID), headAddr)
			}
			h.releasePages(seg, headAddr, uintptr(class.SlabPages))
		case wasFull:
			h.linkPartialHead(int(slab.classID), headAddr)
		}
	default:
		xlog.Warn("heap: ignoring invalid free at %#x (descriptor status %s)", p, dh.status)
	}
}

// Close tears down every segment this heap owns (active and huge),
// draining any pending cross-thread frees first. It is the Lifecycle
// operation spec.md names but does not give its own verb to (§3's
// Lifecycle paragraph, restored per original_source/tests/test_lifecycle_e2e.cpp
// and test_ThreadHeap_destructor.cpp).
func (h *Heap) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drainPendingLocked()

	var firstErr error
	for addr := h.activeHead; addr != 0; {
		seg := segmentHeaderAt(addr)
		next := seg.node.next
		if err := destroySegment(h.mapper, seg); err != nil && firstErr == nil {
			firstErr = err
		}
		addr = next
	}
	h.activeHead = 0

	for addr := h.hugeHead; addr != 0; {
		seg := segmentHeaderAt(addr)
		next := seg.node.next
		if err := destroySegment(h.mapper, seg); err != nil && firstErr == nil {
			firstErr = err
		}
		addr = next
	}
	h.hugeHead = 0

	if firstErr == nil {
		firstErr = h.lastReleaseErr
	}
	return firstErr
}

// Stats is a point-in-time snapshot for introspection (the admin package's
// RPC surface); it is not part of the core allocator contract.
type Stats struct {
	ActiveSegments int
	HugeSegments   int
	PendingFrees   int64
	SizeClasses    int
}

// Snapshot reports current occupancy counters under the heap lock.
func (h *Heap) Snapshot() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Stats{PendingFrees: h.pending.Len(), SizeClasses: h.classes.Len()}
	for addr := h.activeHead; addr != 0; {
		seg := segmentHeaderAt(addr)
		s.ActiveSegments++
		addr = seg.node.next
	}
	for addr := h.hugeHead; addr != 0; {
		seg := segmentHeaderAt(addr)
		s.HugeSegments++
		addr = seg.node.next
	}
	return s
}

package heap

import (
	"testing"
	"unsafe"

	"segheap/internal/vmm"
)

// P4: LIFO recycling (same size, large). Freeing a run of n pages and then
// immediately allocating n pages returns the same address.
func TestLargeLIFORecyclingP4(t *testing.T) {
	h := newTestHeap(t)
	size := uint64(MaxSmall + 10*PAGE)
	p, err := h.Allocate(size)
	if err != nil || p == nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	h.Free(p)
	p2, err := h.Allocate(size)
	if err != nil || p2 == nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if p != p2 {
		t.Fatalf("expected LIFO reuse: p=%v p2=%v", p, p2)
	}
}

// original_source/tests/test_acquire_slab.cpp's scenario: acquiring a run
// smaller than the only available free run splits it and reinserts the
// remainder.
func TestAcquirePagesSplitsAndReinsertsRemainder(t *testing.T) {
	h := newTestHeap(t)
	if err := h.growWithSegment(); err != nil {
		t.Fatalf("growWithSegment: %v", err)
	}
	start := usableStart(segmentHeaderAt(h.activeHead))
	total := h.freeRuns[bucketIndex((usableEnd(segmentHeaderAt(h.activeHead))-start)/PAGE)]
	if total == 0 {
		t.Fatal("expected one large free run after growing a segment")
	}

	want := uintptr(5)
	addr, err := h.acquirePages(want)
	if err != nil {
		t.Fatalf("acquirePages: %v", err)
	}
	if addr != start {
		t.Fatalf("expected split to return the head of the run, got %#x want %#x", addr, start)
	}

	seg := segmentHeaderAt(segmentOf(addr))
	remainderPages := (usableEnd(seg)-start)/PAGE - want
	remainderAddr := addr + want*PAGE
	if h.freeRuns[bucketIndex(remainderPages)] != remainderAddr {
		t.Fatalf("expected remainder of %d pages reinserted at %#x", remainderPages, remainderAddr)
	}
}

// Scenario 3 (§8): large split + coalesce.
func TestLargeSplitAndCoalesceScenario3(t *testing.T) {
	h := newTestHeap(t)
	a, err := h.Allocate(uint64(MaxSmall + 10*PAGE))
	if err != nil || a == nil {
		t.Fatalf("allocate A: %v", err)
	}
	b, err := h.Allocate(uint64(MaxSmall + 20*PAGE))
	if err != nil || b == nil {
		t.Fatalf("allocate B: %v", err)
	}
	c, err := h.Allocate(uint64(MaxSmall + 30*PAGE))
	if err != nil || c == nil {
		t.Fatalf("allocate C: %v", err)
	}

	seg := segmentHeaderAt(segmentOf(uintptr(a)))

	h.Free(c)
	if noAdjacentFreeRuns(seg) == false {
		t.Fatal("coalescing invariant violated after freeing C")
	}

	h.Free(a)
	pagesA := (uintptr(MaxSmall+10*PAGE) + largeRunHeaderSize + PAGE - 1) / PAGE
	if d := descriptorAt(seg, usableStart(seg)); d.status != statusFree {
		t.Fatal("expected a free run to appear at the start of the segment after freeing A")
	} else {
		run := largeRunAt(d.backPtr)
		if uintptr(run.pages) != pagesA {
			t.Fatalf("expected a free run of exactly %d pages, got %d", pagesA, run.pages)
		}
	}

	h.Free(b)
	if d := descriptorAt(seg, usableStart(seg)); d.status != statusFree {
		t.Fatal("expected the entire usable region to be one free run")
	} else {
		run := largeRunAt(d.backPtr)
		wantPages := (usableEnd(seg) - usableStart(seg)) / PAGE
		if uintptr(run.pages) != wantPages {
			t.Fatalf("expected a single free run covering %d pages, got %d", wantPages, run.pages)
		}
	}
}

// P9: full recovery. After a net-zero balance, a standard segment contains
// exactly one free run covering its entire usable region.
func TestFullRecoveryP9(t *testing.T) {
	h := newTestHeap(t)
	var ptrs []uintptr
	sizes := []uint64{4 * 1024, 8 * 1024, MaxSmall + 5*PAGE, 64 * 1024, MaxSmall + 1*PAGE}
	for _, s := range sizes {
		p, err := h.Allocate(s)
		if err != nil {
			t.Fatalf("allocate %d: %v", s, err)
		}
		ptrs = append(ptrs, uintptr(p))
	}
	seg := segmentHeaderAt(segmentOf(ptrs[0]))
	for _, p := range ptrs {
		h.Free(unsafe.Pointer(p))
	}

	d := descriptorAt(seg, usableStart(seg))
	if d.status != statusFree {
		t.Fatalf("expected usable region start to be FREE, got %s", d.status)
	}
	run := largeRunAt(d.backPtr)
	want := (usableEnd(seg) - usableStart(seg)) / PAGE
	if uintptr(run.pages) != want {
		t.Fatalf("expected single free run of %d pages, got %d", want, run.pages)
	}
}

func TestOOMPropagatesNull(t *testing.T) {
	fake := vmm.NewFake()
	fake.Fails = true
	h := New(WithMapper(fake))
	p, err := h.Allocate(uint64(MaxSmall + 10*PAGE))
	if err == nil || p != nil {
		t.Fatalf("expected OOM to propagate null, got (%v, %v)", p, err)
	}
}

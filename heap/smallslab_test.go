package heap

import (
	"testing"
	"unsafe"

	"segheap/internal/vmm"
)

func newTestHeap(t *testing.T) *Heap {
	t.Helper()
	return New(WithMapper(vmm.NewFake()))
}

// Scenario 1 (§8): small reuse. allocate(32) -> p1; free(p1); allocate(32)
// -> p2. Expect p1 == p2.
func TestSmallReuseScenario1(t *testing.T) {
	h := newTestHeap(t)
	p1, err := h.Allocate(32)
	if err != nil || p1 == nil {
		t.Fatalf("Allocate(32) = (%v, %v)", p1, err)
	}
	h.Free(p1)
	p2, err := h.Allocate(32)
	if err != nil || p2 == nil {
		t.Fatalf("Allocate(32) = (%v, %v)", p2, err)
	}
	if p1 != p2 {
		t.Fatalf("expected reuse: p1=%v p2=%v", p1, p2)
	}
}

// Scenario 2 (§8): saturate a small class's capacity, then verify the next
// allocation lands in a different slab.
func TestSaturateSmallClassScenario2(t *testing.T) {
	h := newTestHeap(t)
	classID, ok := h.classes.ClassOf(32)
	if !ok {
		t.Fatal("class for size 32 not found")
	}
	class := h.classes.Class(classID)

	ptrs := make([]unsafe.Pointer, class.Capacity)
	for i := range ptrs {
		p, err := h.Allocate(uint64(class.BlockSize))
		if err != nil || p == nil {
			t.Fatalf("Allocate #%d failed: %v", i, err)
		}
		ptrs[i] = p
	}

	seen := make(map[uintptr]bool, len(ptrs))
	for _, p := range ptrs {
		addr := uintptr(p)
		if seen[addr] {
			t.Fatalf("duplicate address %#x", addr)
		}
		seen[addr] = true
	}

	firstSlab := descriptorAt(segmentHeaderAt(segmentOf(uintptr(ptrs[0]))), uintptr(ptrs[0])).backPtr

	extra, err := h.Allocate(uint64(class.BlockSize))
	if err != nil || extra == nil {
		t.Fatalf("overflow allocation failed: %v", err)
	}
	extraSlab := descriptorAt(segmentHeaderAt(segmentOf(uintptr(extra))), uintptr(extra)).backPtr
	if extraSlab == firstSlab {
		t.Fatal("expected overflow allocation to land in a different slab")
	}
}

func TestSmallSlabBitmapAccountingP6(t *testing.T) {
	h := newTestHeap(t)
	classID, _ := h.classes.ClassOf(64)
	class := h.classes.Class(classID)

	var ptrs []unsafe.Pointer
	for i := 0; i < int(class.Capacity)/2; i++ {
		p, err := h.Allocate(uint64(class.BlockSize))
		if err != nil {
			t.Fatalf("allocate failed: %v", err)
		}
		ptrs = append(ptrs, p)
	}

	slabAddr := h.partial[classID]
	if slabAddr == 0 {
		t.Fatal("expected a partial slab")
	}
	slab := smallSlabAt(slabAddr)
	if int(slab.freeCount) != int(class.Capacity)-len(ptrs) {
		t.Fatalf("free_count = %d, want %d", slab.freeCount, int(class.Capacity)-len(ptrs))
	}

	words := slab.bitmapWords(class.Capacity)
	popcount := 0
	for _, w := range words {
		for b := 0; b < 64; b++ {
			if w&(1<<uint(b)) != 0 {
				popcount++
			}
		}
	}
	if popcount != int(slab.freeCount) {
		t.Fatalf("popcount(bitmap)=%d != free_count=%d", popcount, slab.freeCount)
	}

	// The free that empties the slab returns its pages to the large pool and
	// overwrites the header, so free_count is checked one free before that.
	for _, p := range ptrs[:len(ptrs)-1] {
		h.Free(p)
	}
	if int(slab.freeCount) != int(class.Capacity)-1 {
		t.Fatalf("after freeing all but one, free_count = %d, want %d", slab.freeCount, int(class.Capacity)-1)
	}
	h.Free(ptrs[len(ptrs)-1])
	if d := descriptorAt(segmentHeaderAt(segmentOf(slabAddr)), slabAddr); d.status != statusFree {
		t.Fatalf("after freeing all, slab head page status = %s, want FREE", d.status)
	}
}

// P7: a small slab is reachable from its class's partial list iff its
// state is PARTIAL.
func TestSmallSlabListMembershipP7(t *testing.T) {
	h := newTestHeap(t)
	classID, _ := h.classes.ClassOf(64)
	class := h.classes.Class(classID)

	p, err := h.Allocate(uint64(class.BlockSize))
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	slabAddr := h.partial[classID]
	if slabAddr == 0 {
		t.Fatal("expected slab on partial list after first allocation (PARTIAL)")
	}

	// Fill it completely: class.Capacity-1 more allocations -> FULL -> must
	// leave the partial list.
	for i := uint32(1); i < class.Capacity; i++ {
		if _, err := h.Allocate(uint64(class.BlockSize)); err != nil {
			t.Fatalf("allocate #%d failed: %v", i, err)
		}
	}
	if h.partial[classID] == slabAddr {
		t.Fatal("full slab should not remain head of the partial list")
	}

	h.Free(p)
	if h.partial[classID] != slabAddr {
		t.Fatal("slab should return to the partial list once it has a free block (FULL -> PARTIAL)")
	}
}

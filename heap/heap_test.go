package heap

import (
	"fmt"
	"testing"
	"unsafe"

	"segheap/internal/vmm"
)

// Mirrors the teacher corpus's own allocator_test.go style: plain
// testing.T with t.Run subtests, no assertion library.
func TestHeapBasics(t *testing.T) {
	h := newTestHeap(t)

	t.Run("zero size returns nil", func(t *testing.T) {
		p, err := h.Allocate(0)
		if err != nil || p != nil {
			t.Fatalf("Allocate(0) = (%v, %v), want (nil, nil)", p, err)
		}
	})

	t.Run("free of nil is a no-op", func(t *testing.T) {
		h.Free(nil)
	})

	t.Run("basic allocation and free", func(t *testing.T) {
		p, err := h.Allocate(4 * 1024)
		if err != nil || p == nil {
			t.Fatalf("Allocate(4KiB) failed: %v", err)
		}
		h.Free(p)
	})

	t.Run("large block allocation", func(t *testing.T) {
		p, err := h.Allocate(2 * 1024 * 1024)
		if err != nil || p == nil {
			t.Fatalf("Allocate(2MiB) failed: %v", err)
		}
		h.Free(p)
	})

	t.Run("multiple small allocations", func(t *testing.T) {
		var ptrs []uintptr
		for i := 0; i < 10; i++ {
			p, err := h.Allocate(4 * 1024)
			if err != nil || p == nil {
				t.Fatalf("Allocate #%d failed: %v", i, err)
			}
			ptrs = append(ptrs, uintptr(p))
		}
		seen := make(map[uintptr]bool, len(ptrs))
		for _, p := range ptrs {
			if seen[p] {
				t.Fatalf("duplicate address %#x across distinct allocations", p)
			}
			seen[p] = true
		}
	})
}

func TestInvalidFreeIsIgnored(t *testing.T) {
	h := newTestHeap(t)
	seg, err := createSegment(h.mapper, SEGMENT)
	if err != nil {
		t.Fatalf("createSegment: %v", err)
	}
	h.linkActiveSegment(seg)

	// A FREE page in a segment we legitimately own: its descriptor exists
	// but has no owning run yet, so the free must be silently ignored, not
	// crash.
	h.Free(unsafe.Pointer(usableStart(seg)))
}

func BenchmarkAllocateSizes(b *testing.B) {
	sizes := []uint64{
		4 * 1024,
		16 * 1024,
		64 * 1024,
		256 * 1024,
		1024 * 1024,
	}
	for _, size := range sizes {
		b.Run(fmt.Sprintf("Size_%dKB", size/1024), func(b *testing.B) {
			h := New(WithMapper(vmm.NewFake()))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := h.Allocate(size); err != nil {
					b.Fatalf("Allocate(%d) failed: %v", size, err)
				}
			}
		})
	}
}

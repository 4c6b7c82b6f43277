package heap

import (
	"unsafe"

	"segheap/internal/xlog"
)

// largeRunHeader lives at the first byte of a large run, whether free or
// allocated (§3/§6). When allocated the list pointers are unused; when free
// they thread the run through its bucket in the owning heap's free-run
// table. The user-visible address for a large allocation is
// header + sizeof(largeRunHeader) — the header is embedded in the
// allocation itself, per §4.5.
type largeRunHeader struct {
	node  listNode
	pages uint32
	_     uint32 // reserved padding, per the wire layout in spec.md §6
}

var largeRunHeaderSize = unsafe.Sizeof(largeRunHeader{})

func largeRunAt(addr uintptr) *largeRunHeader {
	return ptrAt[largeRunHeader](addr)
}

// bucketIndex maps a page count to its free_runs bucket (pages-1).
func bucketIndex(pages uintptr) int { return int(pages - 1) }

// prependFreeRun links run at the head of free_runs[pages-1] (LIFO, §4.5).
func (h *Heap) prependFreeRun(addr uintptr, pages uintptr) {
	b := bucketIndex(pages)
	head := h.freeRuns[b]
	run := largeRunAt(addr)
	run.node = listNode{prev: 0, next: head}
	run.pages = uint32(pages)
	if head != 0 {
		largeRunAt(head).node.prev = addr
	}
	h.freeRuns[b] = addr
}

// unlinkFreeRun removes run at addr from its pages-sized bucket.
func (h *Heap) unlinkFreeRun(addr uintptr, pages uintptr) {
	b := bucketIndex(pages)
	run := largeRunAt(addr)
	if run.node.prev != 0 {
		largeRunAt(run.node.prev).node.next = run.node.next
	} else {
		h.freeRuns[b] = run.node.next
	}
	if run.node.next != 0 {
		largeRunAt(run.node.next).node.prev = run.node.prev
	}
	run.node = listNode{}
}

// formatFreeRun writes a fresh LargeSlabHeader at addr and marks every page
// of [addr, addr+pages*PAGE) FREE with back_ptr == addr, per §4.5 step 4 and
// §3's page-descriptor contract.
func (h *Heap) formatFreeRun(seg *segmentHeader, addr uintptr, pages uintptr) {
	*largeRunAt(addr) = largeRunHeader{pages: uint32(pages)}
	for p := addr; p < addr+pages*PAGE; p += PAGE {
		*descriptorAt(seg, p) = pageDescriptor{status: statusFree, backPtr: addr}
	}
}

// markAllocatedRun marks every page of a run LARGE_SLAB with back_ptr
// pointing at the run's head, per §4.5's "allocate_large" step.
func (h *Heap) markAllocatedRun(seg *segmentHeader, addr uintptr, pages uintptr) {
	for p := addr; p < addr+pages*PAGE; p += PAGE {
		*descriptorAt(seg, p) = pageDescriptor{status: statusLargeSlab, backPtr: addr}
	}
}

// acquirePages implements §4.5's acquire_pages(n): exact-bucket hit, else
// first-fit-by-ascending-bucket split of a larger run, else grow by mapping
// a new standard segment and retrying.
func (h *Heap) acquirePages(n uintptr) (uintptr, error) {
	for {
		if head := h.freeRuns[bucketIndex(n)]; head != 0 {
			h.unlinkFreeRun(head, n)
			return head, nil
		}

		found := uintptr(0)
		var foundPages uintptr
		for m := n + 1; m <= pagesPerSegment; m++ {
			if head := h.freeRuns[bucketIndex(m)]; head != 0 {
				found = head
				foundPages = m
				break
			}
		}
		if found != 0 {
			h.unlinkFreeRun(found, foundPages)
			seg := segmentHeaderAt(segmentOf(found))
			remainder := foundPages - n
			if remainder > 0 {
				tail := found + n*PAGE
				h.formatFreeRun(seg, tail, remainder)
				h.prependFreeRun(tail, remainder)
			}
			return found, nil
		}

		if err := h.growWithSegment(); err != nil {
			return 0, err
		}
		// retry from the top: the freshly formatted segment now has an
		// exact or larger run available.
	}
}

// growWithSegment maps a new standard segment, links it at the head of the
// active segment list, and formats its entire post-metadata region as one
// free run (§4.5 step 3, §3 Lifecycle).
func (h *Heap) growWithSegment() error {
	seg, err := createSegment(h.mapper, SEGMENT)
	if err != nil {
		return err
	}
	seg.ownerHeap = uintptr(unsafe.Pointer(h))
	h.linkActiveSegment(seg)

	start := usableStart(seg)
	pages := (usableEnd(seg) - start) / PAGE
	h.formatFreeRun(seg, start, pages)
	h.prependFreeRun(start, pages)
	return nil
}

// releasePages implements §4.5's release_pages(p, n): merge with an
// immediately-following or immediately-preceding FREE neighbour (discovered
// via that neighbour page's own back_ptr, per §9's Open Questions
// resolution: num_pages lives only at the run head), then reinsert.
func (h *Heap) releasePages(seg *segmentHeader, p uintptr, n uintptr) {
	segBase := uintptr(unsafe.Pointer(seg))
	segEnd := segBase + uintptr(len(seg.descriptors))*PAGE

	next := p + n*PAGE
	if next < segEnd {
		if d := descriptorAt(seg, next); d.status == statusFree {
			r := largeRunAt(d.backPtr)
			h.unlinkFreeRun(d.backPtr, uintptr(r.pages))
			n += uintptr(r.pages)
		}
	}

	prev := p - PAGE
	if prev >= segBase+segmentMetadataPages*PAGE {
		if d := descriptorAt(seg, prev); d.status == statusFree {
			r := largeRunAt(d.backPtr)
			h.unlinkFreeRun(d.backPtr, uintptr(r.pages))
			n += uintptr(r.pages)
			p = d.backPtr
		}
	}

	if n > pagesPerSegment {
		xlog.Fatalf("heap: coalesced run of %d pages exceeds segment capacity", n)
	}

	h.formatFreeRun(seg, p, n)
	h.prependFreeRun(p, n)
}

// allocateLarge implements §4.5's "Large allocation from the outside":
// compute the page count from the header-inclusive size, acquire the pages,
// mark them LARGE_SLAB, and return the user pointer past the header.
func (h *Heap) allocateLarge(userSize uintptr) (uintptr, error) {
	n := (userSize + largeRunHeaderSize + PAGE - 1) / PAGE
	if n == 0 {
		n = 1
	}
	if n > pagesPerSegment {
		return 0, ErrSizeTooLarge
	}
	addr, err := h.acquirePages(n)
	if err != nil {
		return 0, err
	}
	seg := segmentHeaderAt(segmentOf(addr))
	h.markAllocatedRun(seg, addr, n)
	largeRunAt(addr).pages = uint32(n)
	return addr + largeRunHeaderSize, nil
}

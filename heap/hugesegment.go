package heap

import "unsafe"

// Huge segments (C7): each huge allocation owns a distinct, dedicated
// segment. Only descriptor 0 is meaningful (HUGE_SLAB); the user pointer is
// the first byte past the header prefix (§4.7). They live on a list
// separate from the active/standard segments (§3).

// allocateHuge implements §4.6's huge path: map a segment sized exactly to
// the request, mark it HUGE_SLAB, link it at the head of the huge list, and
// return the usable region's start.
//
// The user pointer returned is usableStart(seg), the page-aligned prefix
// past the segment's metadata pages (segmentMetadataPages*PAGE), not the
// unaligned segmentHeaderSize byte offset the header itself occupies.
// segmentMetadataPages*PAGE is always >= segmentHeaderSize (it is that size
// rounded up to a page), so sizing the segment off segmentHeaderSize alone
// can leave fewer than size usable bytes past usableStart once the rounding
// to a page boundary eats into the requested payload. Size the segment off
// the same page-aligned prefix the pointer is actually computed from.
func (h *Heap) allocateHuge(size uintptr) (uintptr, error) {
	// Reject sizes whose segment (plus createSegment's alignment slack)
	// would overflow uintptr.
	if size > ^uintptr(0)-segmentMetadataPages*PAGE-SEGMENT {
		return 0, ErrSizeTooLarge
	}
	total := segmentMetadataPages*PAGE + alignUp(size, PAGE)
	seg, err := createSegment(h.mapper, total)
	if err != nil {
		return 0, err
	}
	seg.ownerHeap = uintptr(unsafe.Pointer(h))
	seg.descriptors[0] = pageDescriptor{status: statusHugeSlab}
	h.linkHugeSegment(seg)
	return usableStart(seg), nil
}

// freeHuge implements §4.6 step 3: unlink the segment from the huge list
// and destroy it outright — a huge segment holds exactly one allocation, so
// freeing it is freeing the whole segment (§4.7, invariant 8).
func (h *Heap) freeHuge(seg *segmentHeader) {
	h.unlinkHugeSegment(seg)
	if err := destroySegment(h.mapper, seg); err != nil {
		// Release failures on an already-unlinked segment are not
		// recoverable from here; surface them for the caller's telemetry
		// rather than silently leaking the bookkeeping.
		h.lastReleaseErr = err
	}
}

func (h *Heap) linkHugeSegment(seg *segmentHeader) {
	seg.node = listNode{prev: 0, next: h.hugeHead}
	if h.hugeHead != 0 {
		segmentHeaderAt(h.hugeHead).node.prev = uintptr(unsafe.Pointer(seg))
	}
	h.hugeHead = uintptr(unsafe.Pointer(seg))
}

func (h *Heap) unlinkHugeSegment(seg *segmentHeader) {
	if seg.node.prev != 0 {
		segmentHeaderAt(seg.node.prev).node.next = seg.node.next
	} else {
		h.hugeHead = seg.node.next
	}
	if seg.node.next != 0 {
		segmentHeaderAt(seg.node.next).node.prev = seg.node.prev
	}
	seg.node = listNode{}
}

func (h *Heap) linkActiveSegment(seg *segmentHeader) {
	seg.node = listNode{prev: 0, next: h.activeHead}
	if h.activeHead != 0 {
		segmentHeaderAt(h.activeHead).node.prev = uintptr(unsafe.Pointer(seg))
	}
	h.activeHead = uintptr(unsafe.Pointer(seg))
}


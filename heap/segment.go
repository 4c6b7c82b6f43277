package heap

import (
	"unsafe"

	"segheap/internal/vmm"
)

// segmentHeader sits at the base of every segment (standard or huge), §3/§6.
// The descriptor array is fixed at pagesPerSegment entries: huge segments
// are SEGMENT-aligned too (§4.1) and only ever populate descriptor 0, but
// the array is sized for the standard case so both kinds share one layout.
type segmentHeader struct {
	ownerHeap   uintptr
	node        listNode
	totalSize   uintptr
	descriptors [pagesPerSegment]pageDescriptor
}

var segmentHeaderSize = unsafe.Sizeof(segmentHeader{})

// segmentMetadataPages is ceil(sizeof(segmentHeader)/PAGE): how many leading
// pages of every segment are permanently METADATA (§3).
var segmentMetadataPages = uintptr(alignUp(segmentHeaderSize, PAGE) / PAGE)

// segmentOf masks any byte address down to its enclosing segment's header
// address (§4.1). This is the cornerstone that lets free(p) work in O(1):
// standard and huge segments are both SEGMENT-aligned, so one mask handles
// both, exactly mirroring cznic-memory__memory.go's
// `uintptr(unsafe.Pointer(&b[0])) &^ uintptr(pageMask)` idiom generalized
// from page granularity to segment granularity.
func segmentOf(p uintptr) uintptr {
	return alignDown(p, SEGMENT)
}

func segmentHeaderAt(base uintptr) *segmentHeader {
	return ptrAt[segmentHeader](base)
}

// descriptorAt returns the descriptor for page p within segment seg, with no
// bounds check — the caller guarantees p lies within the segment, per
// spec.md §4.1.
func descriptorAt(seg *segmentHeader, p uintptr) *pageDescriptor {
	base := uintptr(unsafe.Pointer(seg))
	idx := (p - base) / PAGE
	return &seg.descriptors[idx]
}

// createSegment implements §4.1's segment-creation algorithm: over-allocate
// to guarantee an aligned window, trim the head and tail back to the
// mapper, then initialize the header in place. size is the segment's total
// size (== SEGMENT for a standard segment, or larger for a huge one).
func createSegment(m vmm.Mapper, size uintptr) (*segmentHeader, error) {
	reserveSize := size + (SEGMENT - PAGE)
	base, err := m.Reserve(reserveSize)
	if err != nil {
		return nil, ErrOutOfMemory
	}

	aligned := alignUp(base, SEGMENT)
	if head := aligned - base; head > 0 {
		_ = m.Release(base, head)
	}
	tailStart := aligned + size
	tailEnd := base + reserveSize
	if tail := tailEnd - tailStart; tail > 0 {
		_ = m.Release(tailStart, tail)
	}

	seg := segmentHeaderAt(aligned)
	*seg = segmentHeader{totalSize: size}

	for i := range seg.descriptors {
		seg.descriptors[i] = pageDescriptor{status: statusFree, backPtr: 0}
	}
	for i := uintptr(0); i < segmentMetadataPages; i++ {
		seg.descriptors[i] = pageDescriptor{status: statusMetadata, backPtr: aligned}
	}
	return seg, nil
}

// destroySegment releases a segment's entire backing range. Destroying a
// segment containing live allocations is undefined per spec.md §4.1; the
// orchestrator only calls this during heap teardown or when a huge
// segment's sole allocation is freed.
func destroySegment(m vmm.Mapper, seg *segmentHeader) error {
	base := uintptr(unsafe.Pointer(seg))
	return m.Release(base, seg.totalSize)
}

// usableStart is the first byte past a segment's metadata prefix.
func usableStart(seg *segmentHeader) uintptr {
	return uintptr(unsafe.Pointer(seg)) + segmentMetadataPages*PAGE
}

// usableEnd is the first byte past a segment's usable region (for a
// standard segment this is base+SEGMENT; for a huge segment it is the same,
// since only the first SEGMENT-sized prefix is covered by the descriptor
// array, per spec.md §3). A segment smaller than SEGMENT, which only a
// huge segment under a lowered WithHugeThreshold can be, ends at
// base+totalSize instead.
func usableEnd(seg *segmentHeader) uintptr {
	base := uintptr(unsafe.Pointer(seg))
	if seg.totalSize < SEGMENT {
		return base + seg.totalSize
	}
	return base + SEGMENT
}

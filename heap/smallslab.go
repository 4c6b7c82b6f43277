package heap

import (
	"unsafe"

	"segheap/heap/sizeclass"
	"segheap/internal/xlog"
)

// smallSlabHeader lives at the first byte of a slab's first page (§3/§6).
// The inline bitmap (1 = free, 0 = allocated) immediately follows this
// struct; its word count and the padded offset to the first user block are
// derived from the owning size class (sizeclass.Class.MetadataSize).
type smallSlabHeader struct {
	node      listNode
	freeCount uint16
	classID   uint16
}

var smallSlabHeaderSize = unsafe.Sizeof(smallSlabHeader{})

func smallSlabAt(addr uintptr) *smallSlabHeader {
	return ptrAt[smallSlabHeader](addr)
}

// bitmapWords returns the slab's inline bitmap as a mutable word slice.
func (s *smallSlabHeader) bitmapWords(capacity uint32) []uint64 {
	n := (int(capacity) + 63) / 64
	base := uintptr(unsafe.Pointer(s)) + smallSlabHeaderSize
	return unsafe.Slice((*uint64)(unsafe.Pointer(base)), n)
}

// blockAddr returns the address of block idx within the slab, per §4.4's
// "block k lives at slab + metadata_size + k*block_size".
func blockAddr(slabAddr uintptr, class sizeclass.Class, idx uint32) uintptr {
	return slabAddr + uintptr(class.MetadataSize) + uintptr(idx)*uintptr(class.BlockSize)
}

// newSmallSlab implements §4.4's slab initialisation: acquire slab_pages
// pages from the large pool (C6), mark them all SMALL_SLAB, and write a
// fresh header with every block free.
func (h *Heap) newSmallSlab(classID int) (uintptr, error) {
	class := h.classes.Class(classID)
	addr, err := h.acquirePages(uintptr(class.SlabPages))
	if err != nil {
		return 0, err
	}
	seg := segmentHeaderAt(segmentOf(addr))
	for p := addr; p < addr+uintptr(class.SlabPages)*PAGE; p += PAGE {
		*descriptorAt(seg, p) = pageDescriptor{status: statusSmallSlab, backPtr: addr}
	}

	slab := smallSlabAt(addr)
	*slab = smallSlabHeader{freeCount: uint16(class.Capacity), classID: uint16(classID)}
	words := slab.bitmapWords(class.Capacity)
	for i := range words {
		words[i] = ^uint64(0)
	}
	// Truncate the bitmap to [0, capacity): clear any bits in the last word
	// beyond capacity so popcount/free_count and find-first-set never
	// observe a phantom free block past the slab's real blocks.
	if rem := class.Capacity % 64; rem != 0 {
		words[len(words)-1] &= (uint64(1) << rem) - 1
	}
	return addr, nil
}

// linkPartialHead/unlinkPartial manage the per-class partial
// slab list (§3's "sentinel-headed doubly-linked lists", simplified here to
// a plain head pointer since the state machine in §4.4 never needs to
// unlink anything but the head or the very slab being freed/allocated).

func (h *Heap) linkPartialHead(classID int, slabAddr uintptr) {
	slab := smallSlabAt(slabAddr)
	head := h.partial[classID]
	slab.node = listNode{prev: 0, next: head}
	if head != 0 {
		smallSlabAt(head).node.prev = slabAddr
	}
	h.partial[classID] = slabAddr
}

func (h *Heap) unlinkPartial(classID int, slabAddr uintptr) {
	slab := smallSlabAt(slabAddr)
	if slab.node.prev != 0 {
		smallSlabAt(slab.node.prev).node.next = slab.node.next
	} else {
		h.partial[classID] = slab.node.next
	}
	if slab.node.next != 0 {
		smallSlabAt(slab.node.next).node.prev = slab.node.prev
	}
	slab.node = listNode{}
}

// allocateBlock implements §4.4's allocate_block: lowest-index first-set
// scan across the bitmap's words, using math/bits via sizeclass.FindFirstFree
// — the idiomatic Go stand-in for a hardware find-first-set, per §9.
func (h *Heap) allocateBlock(slabAddr uintptr, class sizeclass.Class) uintptr {
	slab := smallSlabAt(slabAddr)
	words := slab.bitmapWords(class.Capacity)
	for w := range words {
		if idx, ok := sizeclass.FindFirstFree(words[w]); ok {
			bit := w*64 + idx
			if uint32(bit) >= class.Capacity {
				break
			}
			words[w] &^= 1 << uint(idx)
			slab.freeCount--
			return blockAddr(slabAddr, class, uint32(bit))
		}
	}
	xlog.Fatalf("heap: allocateBlock called on slab with free_count=%d but no free bit found", slab.freeCount)
	return 0
}

// freeSmallBlock implements §4.4's free_block: validate offset/alignment,
// and fatally assert on double-free (bit already clear in the allocated
// sense... here "already set" means already free), per §7. ok is false for
// a malformed pointer that is in-segment but not block-aligned or out of
// the slab's capacity (e.g. a one-byte-off interior pointer); per §7 that
// case is ignored exactly like the large path's invalid-free disposition,
// rather than touching the bitmap at a truncated, wrong index.
func (h *Heap) freeSmallBlock(slabAddr uintptr, class sizeclass.Class, p uintptr) bool {
	slab := smallSlabAt(slabAddr)
	off := p - (slabAddr + uintptr(class.MetadataSize))
	if off%uintptr(class.BlockSize) != 0 {
		return false
	}
	idx := uint32(off / uintptr(class.BlockSize))
	if idx >= class.Capacity {
		return false
	}
	words := slab.bitmapWords(class.Capacity)
	w, bit := idx/64, idx%64
	if words[w]&(1<<bit) != 0 {
		xlog.Fatalf("heap: double free of small block at %#x (class id %d, idx %d)", p, slab.classID, idx)
	}
	words[w] |= 1 << bit
	slab.freeCount++
	return true
}

// smallSlabIsEmpty/IsFull read the EMPTY/FULL boundary of the state machine
// in §4.4.
func smallSlabIsEmpty(slabAddr uintptr, class sizeclass.Class) bool {
	return smallSlabAt(slabAddr).freeCount == uint16(class.Capacity)
}

func smallSlabIsFull(slabAddr uintptr) bool {
	return smallSlabAt(slabAddr).freeCount == 0
}

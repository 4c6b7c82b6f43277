// Package sizeclass implements C4: the size-class table mapping requested
// byte sizes to small-slab geometry, and the O(1) size_to_class lookup.
//
// It is deliberately its own package, independently constructible and
// testable, mirroring original_source/src/SlabConfig.cpp and its dedicated
// test_SlabConfig.cpp / test_calculator.cpp — the original keeps the
// size-class calculator as a standalone unit rather than a private detail
// of the heap, and this module follows suit.
package sizeclass

import "math/bits"

// Page and small-slab-header geometry constants mirrored from package heap
// (kept independent so this package has no import-cycle dependency on it).
const (
	page = 4 * 1024
	// headerBase is the fixed portion of SmallSlabHeader before the bitmap:
	// prev, next uintptr (16 bytes on 64-bit) + freeCount, classID uint16
	// (4 bytes), rounded up to 8-byte alignment, per spec.md §3/§6.
	headerBase = 24
	maxClasses = 128
)

// Class is one row of the size-class table (§3). MetadataSize is the
// 8-byte-aligned prefix (header + bitmap padding) computed from Capacity
// per the contract in spec.md §4.3.
type Class struct {
	BlockSize    uint32
	SlabPages    uint32
	Capacity     uint32
	MetadataSize uint32
}

// Table is the frozen, process-wide (or test-local) size-class table plus
// its byte-indexed lookup array.
type Table struct {
	classes []Class
	lookup  []uint8 // size_to_class[0..MaxSmall]; length MaxSmall+1
	maxSize uint32
}

// DefaultSchedule is a typical policy mixing growth steps at increasing
// magnitudes (spec.md §4.3's example), yielding roughly 60-100 classes once
// built. It is policy, not mechanism — Build accepts any monotonically
// increasing schedule.
func DefaultSchedule(maxSize uint32) []uint32 {
	steps := []struct {
		upTo, step uint32
	}{
		{128, 8},
		{256, 16},
		{512, 32},
		{1024, 64},
		{4096, 256},
		{16384, 1024},
		{65536, 4096},
		{maxSize, 16384},
	}
	var out []uint32
	size := uint32(8)
	for _, s := range steps {
		for size <= s.upTo && size <= maxSize {
			out = append(out, size)
			size += s.step
		}
	}
	if len(out) == 0 || out[len(out)-1] != maxSize {
		out = append(out, maxSize)
	}
	return out
}

// capacityFor solves, for a candidate slabPages, the largest capacity c
// satisfying:
//
//	align_up(headerBase + ceil(c/64)*8, 8) + c*blockSize <= slabPages*PAGE
//
// per spec.md §3/§4.3. It returns (capacity, metadataSize).
func capacityFor(blockSize uint64, slabPages uint32) (uint32, uint32) {
	budget := uint64(slabPages) * page
	// Binary search the largest c for which the inequality holds; the left
	// side is monotonically non-decreasing in c so this is safe.
	lo, hi := uint64(0), budget/blockSize+1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		bitmapWords := (mid + 63) / 64
		meta := alignUp(uint64(headerBase)+bitmapWords*8, 8)
		if meta+mid*blockSize <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	bitmapWords := (lo + 63) / 64
	meta := alignUp(uint64(headerBase)+bitmapWords*8, 8)
	return uint32(lo), uint32(meta)
}

func alignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// targetCapacity is the policy aim for how many blocks a fresh slab should
// hold before we accept a smaller yield at the page-count ceiling: smaller
// blocks amortize header overhead over more blocks, larger blocks settle
// for fewer.
func targetCapacity(blockSize uint32) uint32 {
	switch {
	case blockSize <= 256:
		return 256
	case blockSize <= 4096:
		return 64
	case blockSize <= 65536:
		return 16
	default:
		return 4
	}
}

// Build computes the size-class table from a monotonically increasing
// block-size schedule. Consecutive entries sharing a block size are
// deduplicated (the latter dropped), per spec.md §4.3's tie-break rule.
func Build(schedule []uint32) *Table {
	t := &Table{}
	var prevSize uint32
	for i, sz := range schedule {
		if i > 0 && sz == prevSize {
			continue
		}
		if len(t.classes) >= maxClasses {
			break
		}
		slabPages := uint32(1)
		target := targetCapacity(sz)
		var cap32, meta32 uint32
		for {
			cap32, meta32 = capacityFor(uint64(sz), slabPages)
			if cap32 >= target || slabPages >= 256 {
				break
			}
			slabPages <<= 1
		}
		if cap32 == 0 {
			// Not representable at the page ceiling; skip rather than emit
			// a class that can never hold a block (capacity >= 1 invariant,
			// spec.md §4.3).
			continue
		}
		t.classes = append(t.classes, Class{
			BlockSize:    sz,
			SlabPages:    slabPages,
			Capacity:     cap32,
			MetadataSize: meta32,
		})
		prevSize = sz
	}
	t.buildLookup()
	return t
}

func (t *Table) buildLookup() {
	if len(t.classes) == 0 {
		t.lookup = []uint8{0}
		return
	}
	maxSize := t.classes[len(t.classes)-1].BlockSize
	t.maxSize = maxSize
	lookup := make([]uint8, maxSize+1)
	ci := 0
	for n := uint32(1); n <= maxSize; n++ {
		for t.classes[ci].BlockSize < n {
			ci++
		}
		lookup[n] = uint8(ci)
	}
	lookup[0] = 0
	t.lookup = lookup
}

// ClassOf returns the size-class index for a request of n bytes and true,
// or (0, false) if n exceeds the table's representable range (the
// out-of-range sentinel called for by spec.md §4.3).
func (t *Table) ClassOf(n uint32) (int, bool) {
	if n > t.maxSize {
		return 0, false
	}
	return int(t.lookup[n]), true
}

// Class returns the i'th size class.
func (t *Table) Class(i int) Class {
	return t.classes[i]
}

// Len returns the number of size classes in the table.
func (t *Table) Len() int {
	return len(t.classes)
}

// MaxSize returns the largest block size the table represents.
func (t *Table) MaxSize() uint32 {
	return t.maxSize
}

// FindFirstFree returns the index of the lowest set bit in word, using the
// hardware bit-scan math/bits exposes — the direct idiomatic equivalent of
// the corpus's C bit-scan / ctz usage (spec.md §9, "implement find first
// set... as a primitive capability"), and the same primitive
// other_examples/matrixorigin-matrixone__class_allocator.go reaches for via
// math/bits for its own class-index math. ok is false if word is zero.
func FindFirstFree(word uint64) (idx int, ok bool) {
	if word == 0 {
		return 0, false
	}
	return bits.TrailingZeros64(word), true
}

package heap

import "unsafe"

// Package-level helpers over the page descriptor table (C3). Descriptors
// are a flat in-segment array with no dynamic resizing (§4.2); all
// mutations happen under the owning heap's lock, so these helpers assume
// the caller already holds it (or that the segment is otherwise not being
// concurrently mutated, as in tests).

// statusCounts tallies descriptor statuses for invariant P2 (descriptor
// total: counts by status sum to SEGMENT/PAGE).
func statusCounts(seg *segmentHeader) map[pageStatus]int {
	counts := make(map[pageStatus]int, 5)
	for _, d := range seg.descriptors {
		counts[d.status]++
	}
	return counts
}

// noAdjacentFreeRuns checks invariant 7 / P5: no two neighbouring pages in
// the usable region both belong to distinct FREE runs. It walks run
// boundaries by back-pointer identity, so two FREE pages belonging to the
// *same* run are not a violation.
func noAdjacentFreeRuns(seg *segmentHeader) bool {
	start := usableStart(seg)
	end := uintptr(unsafe.Pointer(seg)) + uintptr(len(seg.descriptors))*PAGE

	var prevFreeHead uintptr
	prevWasFree := false
	for p := start; p < end; p += PAGE {
		d := descriptorAt(seg, p)
		if d.status != statusFree {
			prevWasFree = false
			continue
		}
		if prevWasFree && d.backPtr != prevFreeHead {
			return false
		}
		prevWasFree = true
		prevFreeHead = d.backPtr
	}
	return true
}

// Package vmm is the C1 collaborator: an opaque capability to reserve and
// release naturally aligned virtual-memory ranges. Everything above this
// package treats the mapping primitive as a black box, per spec.md §1's
// "Raw virtual-memory mapping... is treated as an opaque capability".
package vmm

import "errors"

// ErrMapFailed is returned when the OS mapping primitive cannot satisfy a
// reservation request (the allocator's only source of OOM, per §7).
var ErrMapFailed = errors.New("vmm: mapping request failed")

// Mapper reserves and releases virtual address ranges. Reserve returns a
// region of at least size bytes; the caller is responsible for computing
// and trimming to whatever alignment it needs (§4.1's over-allocate +
// trim-head-and-tail strategy) and for calling Release on exactly the
// sub-ranges it wants to give back.
type Mapper interface {
	// Reserve asks the OS for size contiguous, committed, read-write bytes
	// with no particular alignment guarantee beyond the platform page size.
	Reserve(size uintptr) (base uintptr, err error)
	// Release gives back the range [base, base+size) previously obtained,
	// in whole or in part, from a prior Reserve call.
	Release(base uintptr, size uintptr) error
}

// Default is the process-wide mapper used by heap.New when no override is
// supplied via heap.WithMapper. It is the unix.Mmap-backed implementation
// on unix build targets (vmm_unix.go) and falls back to the in-process fake
// from fake.go everywhere else (vmm_other.go), mirroring the teacher corpus's own
// platform-gated mmap wrappers (joshuapare-hivekit's mmfile_unix.go).
var Default Mapper = newDefault()

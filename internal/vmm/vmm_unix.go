//go:build unix

package vmm

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// unixMapper backs Reserve/Release with unix.Mmap/unix.Munmap, the same
// anonymous-private mapping idiom used by
// other_examples/matrixorigin-matrixone__class_allocator.go's
// fixedSizeMmapAllocator and other_examples/funny-falcon-highloadcup2018__chunkgen.go's
// slab generator.
type unixMapper struct{}

func newDefault() Mapper { return unixMapper{} }

func (unixMapper) Reserve(size uintptr) (uintptr, error) {
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return 0, ErrMapFailed
	}
	return uintptr(unsafe.Pointer(&b[0])), nil
}

func (unixMapper) Release(base uintptr, size uintptr) error {
	if size == 0 {
		return nil
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
	return unix.Munmap(b)
}

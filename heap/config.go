package heap

import (
	"segheap/heap/sizeclass"
	"segheap/internal/vmm"
)

// config holds the policy knobs spec.md §1 explicitly calls out as policy
// rather than mechanism: the size-class growth schedule, and an optional
// huge-threshold override. Everything else (PAGE, SEGMENT, MAX_SMALL) is a
// package constant because the invariants depend on their exact values.
type config struct {
	mapper        vmm.Mapper
	schedule      []uint32
	hugeThreshold uintptr
}

func defaultConfig() config {
	return config{
		mapper:   vmm.Default,
		schedule: sizeclass.DefaultSchedule(MaxSmall),
	}
}

// Option configures a Heap at construction time, in the functional-options
// style the corpus uses for its own richer allocators
// (other_examples/xDarkicex-slabby__slabby.go's slabby.New(size, cap, opts...)).
type Option func(*config)

// WithMapper overrides the OS mapping primitive (C1). Tests use this to
// inject a vmm.FakeMapper instead of real mmap.
func WithMapper(m vmm.Mapper) Option {
	return func(c *config) { c.mapper = m }
}

// WithSizeClassSchedule overrides the size-class growth schedule (§4.3's
// "the mechanism accepts any monotonically increasing block-size schedule
// satisfying §4.3"). The schedule must be strictly increasing and end at or
// before MaxSmall.
func WithSizeClassSchedule(schedule []uint32) Option {
	return func(c *config) { c.schedule = schedule }
}

// WithHugeThreshold overrides the computed huge-allocation threshold (§4.6).
// Mainly useful for tests that want to exercise the huge path without
// allocating hundreds of megabytes.
func WithHugeThreshold(n uintptr) Option {
	return func(c *config) { c.hugeThreshold = n }
}

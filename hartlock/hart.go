package hartlock

import (
	"runtime"
	"sync/atomic"
)

// Hart is a handle to one simulated hardware thread. A real kernel
// reads cpuid() with interrupts disabled so the identity cannot change
// mid-operation (spec.md 5, 9: "interrupt discipline"); a userland Go
// process has no interrupts to disable and no cpuid to read, so a Hart
// is instead an explicit, caller-held handle pinned to one logical CPU
// index for its entire lifetime. Callers that want the real guarantee
// (the handle truly cannot migrate between OS threads mid-operation)
// should call LockOSThread once on the goroutine that owns the Hart;
// cmd/coresim's worker goroutines do this.
type Hart struct {
	id     int
	guard  preemptGuard
	pinned bool
}

// NewHart returns a handle identifying logical CPU id. id must be in
// [0, ncpu) for whatever allocator/cache the Hart is used against.
func NewHart(id int) *Hart {
	return &Hart{id: id}
}

// Pin calls runtime.LockOSThread so this goroutine cannot migrate to a
// different OS thread for the remainder of its life, the closest
// userland analogue of "this hart cannot be preempted onto another
// core mid-operation."
func (h *Hart) Pin() {
	if !h.pinned {
		runtime.LockOSThread()
		h.pinned = true
	}
}

// ID returns the hart's stable logical CPU index. Reading it is only
// meaningful while preemption is logically disabled, which in this
// simulation means: between a PushOff on this Hart and its matching
// PopOff. Push/PopOff below implement the nestable disable/enable
// counter spec.md 5 and 9 require ("push/pop style... callers may
// already have interrupts off").
func (h *Hart) ID() int {
	return h.id
}

// preemptGuard is a nestable interrupt-disable counter, the neutral
// primitive spec.md 9 calls for. PushOff increments it, PopOff
// decrements it; only the outermost PopOff would re-enable interrupts
// on real hardware. In this simulation the counter exists so
// kmem/bio code can assert "preemption was disabled across the
// cpuid-read-then-shard-touch sequence" the same way the teacher's
// code does, without it actually doing anything to the Go scheduler.
type preemptGuard struct {
	depth int32
}

// PushOff disables preemption, incrementing the nesting depth.
func (h *Hart) PushOff() {
	atomic.AddInt32(&h.guard.depth, 1)
}

// PopOff re-enables preemption one nesting level, panicking on
// underflow (a protocol bug: popping without a matching push).
func (h *Hart) PopOff() {
	if atomic.AddInt32(&h.guard.depth, -1) < 0 {
		panic("pop_off without matching push_off")
	}
}

// PreemptDisabled reports whether this hart currently has preemption
// disabled via PushOff.
func (h *Hart) PreemptDisabled() bool {
	return atomic.LoadInt32(&h.guard.depth) > 0
}

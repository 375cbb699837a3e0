// Package kmem implements the per-CPU physical page-frame allocator
// described in spec.md 4.1, grounded on original_source/kernel/kalloc.c.
// It hands out and reclaims fixed 4096-byte frames, sharded one free
// list per simulated CPU, with steal-on-empty fallback.
package kmem

import (
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/justanotherdot/biscuit-core/common"
	"github.com/justanotherdot/biscuit-core/hartlock"
)

const (
	freshPoison byte = 0x05 // "freshly allocated" -- matches kalloc.c's memset(r, 5, PGSIZE)
	freedPoison byte = 0x01 // "freed"             -- matches kfree's memset(pa, 1, PGSIZE)

	noNext = ^uint64(0)
)

// Frame is a handle to one page-aligned 4096-byte frame. Addr is the
// frame's address within [base, base+nframes*PGSIZE), the simulated
// analogue of spec.md 3's [kernel_end, PHYSTOP) range. Data is the
// backing storage; callers may read/write it like any page of memory.
type Frame struct {
	Addr uintptr
	Data []byte
}

type shard struct {
	lock *hartlock.Spinlock
	head uint64 // frame index, or noNext if empty
}

// Allocator is an array of NCPU shards, each an intrusive singly
// linked free list whose link words live inside the free frames
// themselves (spec.md 3, 9).
type Allocator struct {
	base      uintptr
	nframes   int
	frameSize int
	frames    [][]byte
	shards    []shard
	log       *zap.SugaredLogger
	metrics   *Metrics
}

// Option configures an Allocator at construction time.
type Option func(*Allocator)

// WithLogger attaches a structured logger for boot/diagnostic lines.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(a *Allocator) { a.log = l }
}

// WithMetrics attaches Prometheus counters. Nil (the default) disables
// instrumentation entirely; it is never required for correctness.
func WithMetrics(m *Metrics) Option {
	return func(a *Allocator) { a.metrics = m }
}

// NewAllocator seeds ncpu shards from the given frame arena, mirroring
// kinit()+freerange() walking [kernel_end, PHYSTOP) and kfree-ing every
// page. All frames start on shard 0, matching spec.md 3's "Frames:
// ...pushing each page onto shard 0's (or any) free list." base is the
// first address in the free range (kernel_end); each frame in frames
// must be exactly common.PGSIZE bytes.
func NewAllocator(ncpu int, base uintptr, frames [][]byte, opts ...Option) *Allocator {
	if ncpu <= 0 {
		panic("kmem: ncpu must be positive")
	}
	for _, f := range frames {
		if len(f) != common.PGSIZE {
			panic("kmem: frame is not PGSIZE bytes")
		}
	}
	a := &Allocator{
		base:      base,
		nframes:   len(frames),
		frameSize: common.PGSIZE,
		frames:    frames,
		shards:    make([]shard, ncpu),
	}
	for i := range a.shards {
		a.shards[i] = shard{lock: hartlock.NewSpinlock("kmem"), head: noNext}
	}
	for _, opt := range opts {
		opt(a)
	}
	home := &a.shards[0]
	for idx := range a.frames {
		poison(a.frames[idx], freedPoison)
		pushLocked(a, home, idx)
	}
	if a.log != nil {
		a.log.Infow("kmem: initialized", "ncpu", ncpu, "nframes", a.nframes, "base", base)
	}
	return a
}

// Alloc returns a page-aligned frame poisoned with the "freshly
// allocated" sentinel, or ok=false if no shard anywhere has a free
// frame (spec.md 4.1's NONE return; resource exhaustion is
// recoverable, not fatal, per spec.md 7).
func (a *Allocator) Alloc(h *hartlock.Hart) (*Frame, bool) {
	id := a.cpuid(h)
	home := &a.shards[id]
	home.lock.Acquire()
	defer home.lock.Release()

	if idx, ok := popLocked(a, home); ok {
		return a.finishAlloc(idx, id, false), true
	}

	for i := range a.shards {
		if i == id {
			continue
		}
		cand := &a.shards[i]
		cand.lock.Acquire()
		idx, ok := popLocked(a, cand)
		cand.lock.Release()
		if ok {
			return a.finishAlloc(idx, id, true), true
		}
	}

	a.metrics.incExhausted()
	if a.log != nil {
		a.log.Warnw("kmem: alloc exhausted", "cpu", id)
	}
	return nil, false
}

func (a *Allocator) finishAlloc(idx, id int, stole bool) *Frame {
	poison(a.frames[idx], freshPoison)
	if stole {
		a.metrics.incSteal()
	}
	a.metrics.incAlloc()
	return &Frame{Addr: a.addrOf(idx), Data: a.frames[idx]}
}

// Free requires f to be page-aligned and within the allocator's
// range; violating that is fatal (spec.md 4.1, 7). It overwrites the
// frame with the "freed" sentinel to catch use-after-free, then
// pushes it onto the caller's current CPU's shard -- which may differ
// from the shard it was originally allocated from.
func (a *Allocator) Free(h *hartlock.Hart, f *Frame) {
	idx, ok := a.frameIndex(f.Addr)
	if !ok {
		panic("kmem: free of misaligned or out-of-range frame")
	}
	poison(a.frames[idx], freedPoison)

	id := a.cpuid(h)
	s := &a.shards[id]
	s.lock.Acquire()
	pushLocked(a, s, idx)
	s.lock.Release()
	a.metrics.incFree()
}

// cpuid reads h's logical id with preemption nominally disabled around
// the read, per spec.md 5 and 9's interrupt discipline requirement.
func (a *Allocator) cpuid(h *hartlock.Hart) int {
	h.PushOff()
	id := h.ID()
	h.PopOff()
	if id < 0 || id >= len(a.shards) {
		panic("kmem: hart id out of range for this allocator")
	}
	return id
}

func (a *Allocator) addrOf(idx int) uintptr {
	return a.base + uintptr(idx*a.frameSize)
}

func (a *Allocator) frameIndex(addr uintptr) (int, bool) {
	if addr < a.base {
		return 0, false
	}
	off := addr - a.base
	if off%uintptr(a.frameSize) != 0 {
		return 0, false
	}
	idx := int(off / uintptr(a.frameSize))
	if idx >= a.nframes {
		return 0, false
	}
	return idx, true
}

// NFrames reports the total number of frames this allocator owns,
// used by tests checking P1 (page conservation).
func (a *Allocator) NFrames() int { return a.nframes }

// FreeCount sums the length of every shard's free list, for P1/P2
// property checks. It takes every shard lock in index order, which is
// fine for a quiescence check but must never be called from inside
// Alloc/Free.
func (a *Allocator) FreeCount() int {
	total := 0
	for i := range a.shards {
		s := &a.shards[i]
		s.lock.Acquire()
		n := 0
		for cur := s.head; cur != noNext; {
			n++
			cur = binary.LittleEndian.Uint64(a.frames[cur][:8])
		}
		s.lock.Release()
		total += n
	}
	return total
}

func poison(b []byte, pattern byte) {
	for i := range b {
		b[i] = pattern
	}
}

func popLocked(a *Allocator, s *shard) (int, bool) {
	if s.head == noNext {
		return 0, false
	}
	idx := int(s.head)
	s.head = binary.LittleEndian.Uint64(a.frames[idx][:8])
	return idx, true
}

func pushLocked(a *Allocator, s *shard, idx int) {
	binary.LittleEndian.PutUint64(a.frames[idx][:8], s.head)
	s.head = uint64(idx)
}

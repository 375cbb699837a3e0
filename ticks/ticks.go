// Package ticks implements the monotonic timestamp source described
// in spec.md 4.3, grounded on the ticks/tickslock pair in
// original_source/kernel/trap.c. It is advanced from one designated
// hart (the timer interrupt, simulated here as whatever goroutine
// calls Tick) and consumed by bio for LRU; torn/stale reads are
// tolerable per spec.md 3.
package ticks

import (
	"sync"
	"sync/atomic"

	"github.com/justanotherdot/biscuit-core/hartlock"
)

// Source is a process-wide monotonically non-decreasing counter.
type Source struct {
	lock  *hartlock.Spinlock
	value uint64
	cond  *sync.Cond
	condL sync.Mutex
}

// NewSource returns a counter starting at zero.
func NewSource() *Source {
	s := &Source{lock: hartlock.NewSpinlock("time")}
	s.cond = sync.NewCond(&s.condL)
	return s
}

// Tick increments the counter under tickslock and wakes anyone
// blocked in Wait, standing in for xv6's wakeup(&ticks) (the external
// sleep(ms) facility it serves is out of scope here).
func (s *Source) Tick() {
	s.lock.Acquire()
	atomic.AddUint64(&s.value, 1)
	s.lock.Release()

	s.condL.Lock()
	s.cond.Broadcast()
	s.condL.Unlock()
}

// Read returns the current tick count without taking tickslock;
// callers tolerate a torn/stale read, per spec.md 3 and 4.3.
func (s *Source) Read() uint64 {
	return atomic.LoadUint64(&s.value)
}

// Ptr exposes the counter's address so bio.WithTickSource can stamp
// Buf.lastuse directly from it without an extra indirection call per
// victim scan.
func (s *Source) Ptr() *uint64 {
	return &s.value
}

// Wait blocks until the counter exceeds after, in case a caller wants
// to observe the next tick (e.g. a test asserting ordering); it returns
// the tick value observed.
func (s *Source) Wait(after uint64) uint64 {
	s.condL.Lock()
	defer s.condL.Unlock()
	for s.Read() <= after {
		s.cond.Wait()
	}
	return s.Read()
}

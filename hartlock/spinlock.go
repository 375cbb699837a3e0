package hartlock

import (
	"runtime"
	"sync/atomic"
)

// Spinlock is a busy-wait mutual-exclusion lock that never parks the
// calling goroutine, matching spec.md 5's "spin-locks never sleep."
// It is a CAS-loop over an int32 with a Gosched backoff, the same
// shape the corpus's own spin-then-yield mutexes use rather than
// wrapping sync.Mutex (which may park the runtime thread on
// contention on some platforms).
type Spinlock struct {
	state int32
	name  string
}

const (
	unlocked int32 = 0
	locked   int32 = 1
)

// NewSpinlock returns an unlocked spinlock. name is diagnostic only,
// mirroring initlock(&lk, "name") in the teacher's C ancestry.
func NewSpinlock(name string) *Spinlock {
	return &Spinlock{name: name}
}

// Acquire spins until the lock is held by the caller.
func (l *Spinlock) Acquire() {
	for !atomic.CompareAndSwapInt32(&l.state, unlocked, locked) {
		runtime.Gosched()
	}
}

// Release releases a held lock. Release of an unheld lock is a fatal
// protocol violation per spec.md 7.
func (l *Spinlock) Release() {
	if !atomic.CompareAndSwapInt32(&l.state, locked, unlocked) {
		panic("release of unheld spinlock: " + l.name)
	}
}

// Holding reports whether the lock currently appears held. Used only
// for fatal precondition assertions, never for control flow -- same
// restriction as xv6's holding().
func (l *Spinlock) Holding() bool {
	return atomic.LoadInt32(&l.state) == locked
}

package hartlock

// Sleeplock is a mutex whose contended acquirer is parked by the Go
// scheduler rather than spinning, matching xv6's acquiresleep/
// releasesleep pair (spec.md 5, glossary). It is implemented as a
// size-1 buffered channel: acquiring is a receive, releasing is a
// send, so goroutine parking is handled entirely by the runtime's
// channel implementation -- no condition variable bookkeeping needed.
type Sleeplock struct {
	ch   chan struct{}
	name string
}

// NewSleeplock returns an unlocked sleeplock.
func NewSleeplock(name string) *Sleeplock {
	l := &Sleeplock{ch: make(chan struct{}, 1), name: name}
	l.ch <- struct{}{}
	return l
}

// Acquire blocks until the lock is free, then takes it.
func (l *Sleeplock) Acquire() {
	<-l.ch
}

// Release releases a held lock. As with Spinlock, this module has no
// real per-process identity to check against, so Holding below is an
// approximation of xv6's holdingsleep (locked/unlocked, not
// locked-by-whom); the fatal checks in bio.go rely on callers only
// ever holding a Buf they obtained from Read, which structurally
// prevents releasing a lock they never acquired.
func (l *Sleeplock) Release() {
	select {
	case l.ch <- struct{}{}:
	default:
		panic("release of unheld sleeplock: " + l.name)
	}
}

// Holding reports whether the lock is currently held by someone.
func (l *Sleeplock) Holding() bool {
	return len(l.ch) == 0
}

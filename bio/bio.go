// Package bio implements the block buffer cache described in
// spec.md 4.2, grounded on original_source/kernel/bio.c: a hash-bucket
// sharded cache of fixed-size disk blocks, deduplicating concurrent
// readers and providing exclusive content access via a sleep-lock.
package bio

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/justanotherdot/biscuit-core/common"
	"github.com/justanotherdot/biscuit-core/hartlock"
)

// Buf is one cached block. Device/blockno identify the cached key;
// Valid reports whether Data reflects on-disk contents; the sleep-lock
// serializes content access (spec.md 3).
type Buf struct {
	Device  uint32
	Blockno uint32
	Valid   bool
	Data    [common.BSIZE]byte

	refcnt  int32 // mutated only under the owning bucket's lock
	lastuse uint64
	lock    *hartlock.Sleeplock

	bucket int // current home bucket index
}

type bucket struct {
	lock    *hartlock.Spinlock
	entries []int // indices into Cache.bufs currently mapped in this bucket
}

// Cache is a fixed pool of NBUF Bufs plus NBUCKET hash buckets, per
// spec.md 3.
type Cache struct {
	bufs    []*Buf
	buckets []bucket
	disk    Disk
	ticks   *uint64 // shared tick source; see ticks.Source
	log     *zap.SugaredLogger
	metrics *Metrics
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithLogger attaches a structured logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Cache) { c.log = l }
}

// WithMetrics attaches Prometheus counters. A nil *Metrics (the
// default) disables instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithTickSource points the cache's lastuse stamps at an externally
// owned monotonic counter (ticks.Source.Ptr()), per spec.md 4.3. If
// omitted, the cache keeps its own private counter, which is fine for
// tests that don't otherwise care about wall-clock-correlated LRU.
func WithTickSource(p *uint64) Option {
	return func(c *Cache) { c.ticks = p }
}

// NewCache preallocates nbuf Bufs, all initially linked into bucket 0
// with refcnt=0, valid=false, per spec.md 3's Buffer lifecycle.
func NewCache(nbuf, nbucket int, disk Disk, opts ...Option) *Cache {
	if nbuf <= 0 || nbucket <= 0 {
		panic("bio: nbuf and nbucket must be positive")
	}
	c := &Cache{
		bufs:    make([]*Buf, nbuf),
		buckets: make([]bucket, nbucket),
		disk:    disk,
	}
	for i := range c.buckets {
		c.buckets[i].lock = hartlock.NewSpinlock("bcache")
	}
	for i := 0; i < nbuf; i++ {
		c.bufs[i] = &Buf{lock: hartlock.NewSleeplock("buffer"), bucket: 0}
		c.buckets[0].entries = append(c.buckets[0].entries, i)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ticks == nil {
		var own uint64
		c.ticks = &own
	}
	if c.log != nil {
		c.log.Infow("bio: initialized", "nbuf", nbuf, "nbucket", nbucket)
	}
	return c
}

func (c *Cache) hash(blockno uint32) int {
	return int(blockno) % len(c.buckets)
}

func (c *Cache) now() uint64 {
	return atomic.LoadUint64(c.ticks)
}

// Read returns a Buf whose sleep-lock is held by the caller and whose
// payload reflects current on-disk contents, per spec.md 4.2. It
// blocks if another client holds the sleep-lock.
func (c *Cache) Read(device, blockno uint32) *Buf {
	b := c.get(device, blockno)
	if !b.Valid {
		c.disk.ReadWrite(device, blockno, b.Data[:], false)
		b.Valid = true
		c.metrics.incDiskRead()
	}
	return b
}

// Write synchronously writes b's payload to disk. The caller must
// hold b's sleep-lock; violating that is fatal (spec.md 4.2, 7).
func (c *Cache) Write(b *Buf) {
	if !b.lock.Holding() {
		panic("bio: write without holding buffer sleep-lock")
	}
	c.disk.ReadWrite(b.Device, b.Blockno, b.Data[:], true)
	c.metrics.incDiskWrite()
}

// Release releases b's sleep-lock, decrements refcnt under the
// owning bucket's lock, and records lastuse at the zero-crossing.
func (c *Cache) Release(b *Buf) {
	if !b.lock.Holding() {
		panic("bio: release without holding buffer sleep-lock")
	}
	b.lock.Release()

	bk := &c.buckets[b.bucket]
	bk.lock.Acquire()
	b.refcnt--
	if b.refcnt < 0 {
		bk.lock.Release()
		panic("bio: refcnt underflow on release")
	}
	if b.refcnt == 0 {
		b.lastuse = c.now()
	}
	bk.lock.Release()
}

// Pin increments refcnt under the owning bucket's lock without
// touching the sleep-lock, used by a journaling layer to prevent
// eviction of a buffer it has not yet committed (spec.md 4.2,
// glossary).
func (c *Cache) Pin(b *Buf) {
	bk := &c.buckets[b.bucket]
	bk.lock.Acquire()
	b.refcnt++
	bk.lock.Release()
}

// Unpin reverses Pin.
func (c *Cache) Unpin(b *Buf) {
	bk := &c.buckets[b.bucket]
	bk.lock.Acquire()
	b.refcnt--
	if b.refcnt < 0 {
		bk.lock.Release()
		panic("bio: refcnt underflow on unpin")
	}
	bk.lock.Release()
}

// get is the lower-level lookup/allocation primitive of spec.md 4.2:
// it returns a locked Buf for (device, blockno) but does not itself
// ensure Valid, leaving that to Read.
func (c *Cache) get(device, blockno uint32) *Buf {
	id := c.hash(blockno)
	home := &c.buckets[id]
	home.lock.Acquire()

	if b := c.findLocked(home, device, blockno); b != nil {
		b.refcnt++
		home.lock.Release()
		b.lock.Acquire()
		c.metrics.incHit()
		return b
	}

	if idx, ok := c.victimLocked(home); ok {
		b := c.bufs[idx]
		c.reinit(b, device, blockno)
		home.lock.Release()
		b.lock.Acquire()
		c.metrics.incMiss()
		return b
	}

	b := c.steal(id, home, device, blockno)
	if b == nil {
		panic("bio: no buffers")
	}
	return b
}

func (c *Cache) findLocked(bk *bucket, device, blockno uint32) *Buf {
	for _, idx := range bk.entries {
		b := c.bufs[idx]
		if b.Device == device && b.Blockno == blockno && (b.Valid || b.refcnt > 0) {
			return b
		}
	}
	return nil
}

// victimLocked scans bk (already held) for the idle entry with the
// smallest lastuse, per spec.md 4.2's timestamp LRU.
func (c *Cache) victimLocked(bk *bucket) (int, bool) {
	best := -1
	var bestTicks uint64
	for _, idx := range bk.entries {
		b := c.bufs[idx]
		if b.refcnt == 0 && (best == -1 || b.lastuse <= bestTicks) {
			best = idx
			bestTicks = b.lastuse
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

func (c *Cache) reinit(b *Buf, device, blockno uint32) {
	b.Device = device
	b.Blockno = blockno
	b.Valid = false
	b.refcnt = 1
}

// steal iterates the other NBUCKET-1 buckets in index order looking
// for an idle victim to relocate into the home bucket, per spec.md
// 4.2 step 4. home.lock is held from get's findLocked miss through the
// whole search, so no other hart can insert (device, blockno) into the
// home bucket meanwhile, and the re-scan of the home bucket made before
// committing a steal (the open question in spec.md 9) cannot find a
// match in normal operation. If it ever does, steal leaves the
// candidate in its bucket and returns the existing buffer instead.
func (c *Cache) steal(homeID int, home *bucket, device, blockno uint32) *Buf {
	for i := range c.buckets {
		if i == homeID {
			continue
		}
		cand := &c.buckets[i]
		cand.lock.Acquire()
		idx, ok := c.victimLocked(cand)
		if !ok {
			cand.lock.Release()
			continue
		}
		b := c.bufs[idx]
		if b.refcnt != 0 {
			// P4: never evict a busy buffer. victimLocked already
			// filters on refcnt==0, but a re-check under the same
			// critical section costs nothing and documents P4.
			cand.lock.Release()
			continue
		}
		if dup := c.findLocked(home, device, blockno); dup != nil {
			// Defensive guard for the spec.md 9 open question,
			// unreachable while home.lock is held (see above). Return
			// the candidate untouched and use the duplicate instead.
			cand.lock.Release()
			dup.refcnt++
			home.lock.Release()
			dup.lock.Acquire()
			c.metrics.incHit()
			return dup
		}

		c.unlinkLocked(cand, idx)
		cand.lock.Release()

		c.reinit(b, device, blockno)
		b.bucket = homeID
		home.entries = append([]int{idx}, home.entries...)
		home.lock.Release()

		b.lock.Acquire()
		c.metrics.incSteal()
		return b
	}
	home.lock.Release()
	c.metrics.incExhausted()
	return nil
}

func (c *Cache) unlinkLocked(bk *bucket, idx int) {
	for i, e := range bk.entries {
		if e == idx {
			bk.entries = append(bk.entries[:i], bk.entries[i+1:]...)
			return
		}
	}
	panic("bio: victim not present in its own bucket")
}

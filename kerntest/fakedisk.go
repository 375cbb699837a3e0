// Package kerntest holds small fakes for the kernel's external
// collaborators (spec.md 6), grounded on the teacher's own fake-IO
// helpers in main.go (_nilbuf_t, fakeubuf_t): an in-memory disk image
// and read/write counters, used by bio's tests and by cmd/coresim.
package kerntest

import "sync"

// FakeDisk is an in-memory Disk implementation. Each (device, blockno)
// maps to a BSIZE-byte slice; reads of a block never before written
// return zeroes, matching a freshly formatted disk image.
type FakeDisk struct {
	mu    sync.Mutex
	image map[key][]byte
	Reads int
	Writes int
}

type key struct {
	device, blockno uint32
}

// NewFakeDisk returns an empty disk image.
func NewFakeDisk() *FakeDisk {
	return &FakeDisk{image: make(map[key][]byte)}
}

// ReadWrite implements bio.Disk.
func (d *FakeDisk) ReadWrite(device, blockno uint32, data []byte, write bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := key{device, blockno}
	if write {
		d.Writes++
		stored := make([]byte, len(data))
		copy(stored, data)
		d.image[k] = stored
		return
	}

	d.Reads++
	if stored, ok := d.image[k]; ok {
		copy(data, stored)
	} else {
		for i := range data {
			data[i] = 0
		}
	}
}

// Seed pre-populates a block's on-disk contents, for tests that want
// to assert a read returns specific bytes without going through a
// prior write.
func (d *FakeDisk) Seed(device, blockno uint32, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	d.image[key{device, blockno}] = stored
}

package bio

// Disk is the disk driver interface the buffer cache is consumed
// against (spec.md 6's "disk_rw(buffer, write?)"). A real
// implementation is synchronous and, on return, leaves the payload
// coherent with the device (for reads) or the device coherent with the
// payload (for writes). Disk errors are the driver's responsibility:
// spec.md 7 treats them as fatal and not recoverable by this package.
type Disk interface {
	ReadWrite(device, blockno uint32, data []byte, write bool)
}

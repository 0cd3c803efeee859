//go:build linux && (amd64 || arm64)

package rewire

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/kelindar/bitmap"
	"golang.org/x/sys/unix"
)

// Pool is a virtual buffer of extents backed by a memfd. Live extents occupy
// the head of a large PROT_NONE reservation; scratch buffers are wired in
// from the tail, so the live region can grow without ever moving.
type Pool struct {
	extentSize int

	base    uintptr // start of the virtual reservation
	reserve uintptr // reservation length in bytes

	fd          int     // memfd providing the physical extents
	fileExtents int     // physical extents allocated in the file
	live        []int64 // file offset backing each live extent
	buffers     []int64 // file offset backing each scratch slot
	used        bitmap.Bitmap

	closed bool
}

// mmapRaw issues the mmap syscall directly. The unix.Mmap wrapper cannot
// place a mapping at a chosen virtual address, and re-pointing live extents
// requires MAP_FIXED at exact addresses, so the pool drives the syscall
// itself. addr is 0 for a kernel-chosen placement, fd is -1 for anonymous
// mappings.
func mmapRaw(addr uintptr, length int, prot, flags, fd int, offset int64) (uintptr, error) {
	r0, _, errno := unix.Syscall6(unix.SYS_MMAP,
		addr, uintptr(length), uintptr(prot), uintptr(flags), uintptr(fd), uintptr(offset))
	if errno != 0 {
		return 0, errno
	}
	return r0, nil
}

func munmapRaw(addr, length uintptr) error {
	if _, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, length, 0); errno != 0 {
		return errno
	}
	return nil
}

// New creates a pool of numExtents live extents, each pagesPerExtent OS pages
// long. maxMemory bounds the virtual reservation; it costs no physical
// memory until extents are wired in.
func New(pagesPerExtent, numExtents int, maxMemory uintptr) (*Pool, error) {
	if !isPowerOfTwo(pagesPerExtent) || numExtents < 1 {
		return nil, ErrInvalidExtents
	}

	extentSize := pagesPerExtent * os.Getpagesize()

	// Round the reservation down to whole extents. This can floor to zero
	// when maxMemory is smaller than one extent; the minimum below covers
	// that case too: room for the live extents, at least one scratch slot,
	// and growth.
	minReserve := uintptr(numExtents+2) * uintptr(extentSize)
	reserve := maxMemory / uintptr(extentSize) * uintptr(extentSize)
	if reserve < minReserve {
		reserve = minReserve
	}

	base, err := mmapRaw(0, int(reserve),
		unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE, -1, 0)
	if err != nil {
		return nil, fmt.Errorf("rewire: reserve %d bytes: %w", reserve, err)
	}

	fd, err := unix.MemfdCreate("pmago-rewire", unix.MFD_CLOEXEC)
	if err != nil {
		_ = munmapRaw(base, reserve)
		return nil, fmt.Errorf("rewire: memfd_create: %w", err)
	}

	p := &Pool{
		extentSize: extentSize,
		base:       base,
		reserve:    reserve,
		fd:         fd,
	}

	if err := unix.Ftruncate(fd, int64(numExtents)*int64(extentSize)); err != nil {
		p.destroy()
		return nil, fmt.Errorf("rewire: allocate %d extents: %w", numExtents, err)
	}
	p.fileExtents = numExtents

	for i := 0; i < numExtents; i++ {
		off := int64(i) * int64(extentSize)
		if err := p.mapAt(p.liveAddr(i), off); err != nil {
			p.destroy()
			return nil, err
		}
		p.live = append(p.live, off)
	}

	return p, nil
}

func (p *Pool) liveAddr(i int) uintptr {
	return p.base + uintptr(i*p.extentSize)
}

func (p *Pool) bufferAddr(i int) uintptr {
	return p.base + p.reserve - uintptr((i+1)*p.extentSize)
}

// mapAt re-points the extent-sized virtual slot at addr to the given file
// offset. MAP_FIXED atomically replaces whatever mapping was there before.
func (p *Pool) mapAt(addr uintptr, off int64) error {
	_, err := mmapRaw(addr, p.extentSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_FIXED, p.fd, off)
	if err != nil {
		return fmt.Errorf("rewire: map extent at offset %d: %w", off, err)
	}
	return nil
}

// ExtentSize returns the size of one extent in bytes.
func (p *Pool) ExtentSize() int { return p.extentSize }

// NumExtents returns the number of live extents.
func (p *Pool) NumExtents() int { return len(p.live) }

// Bytes returns the live region. The slice must be re-fetched after Extend.
func (p *Pool) Bytes() []byte {
	if p.closed || len(p.live) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(p.base)), len(p.live)*p.extentSize) //nolint:gosec // the reservation backs the slice for the pool's lifetime
}

// AcquireBuffer hands out a scratch extent outside the live region. Every
// acquired buffer must be returned through SwapAndRelease before the current
// rebalance finishes.
func (p *Pool) AcquireBuffer() ([]byte, error) {
	if p.closed {
		return nil, ErrClosed
	}

	slot := -1
	for i := range p.buffers {
		if !p.used.Contains(uint32(i)) {
			slot = i
			break
		}
	}

	if slot < 0 {
		// Wire in a fresh spare extent from the tail of the reservation.
		slot = len(p.buffers)
		if uintptr((len(p.live)+slot+1)*p.extentSize) > p.reserve {
			return nil, ErrPoolExhausted
		}
		off := int64(p.fileExtents) * int64(p.extentSize)
		if err := unix.Ftruncate(p.fd, off+int64(p.extentSize)); err != nil {
			return nil, fmt.Errorf("rewire: grow backing file: %w", err)
		}
		if err := p.mapAt(p.bufferAddr(slot), off); err != nil {
			return nil, err
		}
		p.fileExtents++
		p.buffers = append(p.buffers, off)
	}

	p.used.Set(uint32(slot))
	return unsafe.Slice((*byte)(unsafe.Pointer(p.bufferAddr(slot))), p.extentSize), nil //nolint:gosec // the reservation backs the slice for the pool's lifetime
}

// SwapAndRelease re-points active and scratch at each other's physical
// extents. After the call the bytes written through scratch are visible at
// the active address and the scratch slot is free for reuse. This is the
// commit point of a rewired rebalance.
func (p *Pool) SwapAndRelease(active, scratch []byte) error {
	if p.closed {
		return ErrClosed
	}

	ai, err := p.liveIndex(active)
	if err != nil {
		return err
	}
	si, err := p.bufferIndex(scratch)
	if err != nil {
		return err
	}

	offActive, offScratch := p.live[ai], p.buffers[si]
	if err := p.mapAt(p.liveAddr(ai), offScratch); err != nil {
		return err
	}
	if err := p.mapAt(p.bufferAddr(si), offActive); err != nil {
		return err
	}
	p.live[ai] = offScratch
	p.buffers[si] = offActive
	p.used.Remove(uint32(si))
	return nil
}

func (p *Pool) liveIndex(b []byte) (int, error) {
	if len(b) != p.extentSize {
		return 0, ErrForeignBuffer
	}
	off := uintptr(unsafe.Pointer(&b[0])) - p.base
	if off%uintptr(p.extentSize) != 0 {
		return 0, ErrForeignBuffer
	}
	i := int(off) / p.extentSize
	if i < 0 || i >= len(p.live) {
		return 0, ErrForeignBuffer
	}
	return i, nil
}

func (p *Pool) bufferIndex(b []byte) (int, error) {
	if len(b) != p.extentSize {
		return 0, ErrForeignBuffer
	}
	tail := p.reserve - (uintptr(unsafe.Pointer(&b[0])) - p.base)
	if tail%uintptr(p.extentSize) != 0 {
		return 0, ErrForeignBuffer
	}
	i := int(tail)/p.extentSize - 1
	if i < 0 || i >= len(p.buffers) || !p.used.Contains(uint32(i)) {
		return 0, ErrForeignBuffer
	}
	return i, nil
}

// Extend wires k additional extents to the end of the live region. The start
// address of the region does not change.
func (p *Pool) Extend(k int) error {
	if p.closed {
		return ErrClosed
	}
	if k <= 0 {
		return nil
	}
	if uintptr((len(p.live)+k+len(p.buffers))*p.extentSize) > p.reserve {
		return ErrPoolExhausted
	}

	if err := unix.Ftruncate(p.fd, int64(p.fileExtents+k)*int64(p.extentSize)); err != nil {
		return fmt.Errorf("rewire: grow backing file: %w", err)
	}
	for i := 0; i < k; i++ {
		off := int64(p.fileExtents+i) * int64(p.extentSize)
		if err := p.mapAt(p.liveAddr(len(p.live)), off); err != nil {
			return err
		}
		p.live = append(p.live, off)
	}
	p.fileExtents += k
	return nil
}

// UsedBuffers returns the number of scratch buffers currently handed out. It
// must be zero before and after every rebalance.
func (p *Pool) UsedBuffers() int { return p.used.Count() }

// MemoryFootprint returns the physical bytes backing the pool.
func (p *Pool) MemoryFootprint() uintptr {
	return uintptr(p.fileExtents) * uintptr(p.extentSize)
}

// Close releases the mapping and the backing file. It is idempotent.
func (p *Pool) Close() error {
	if p.closed {
		return nil
	}
	p.destroy()
	return nil
}

func (p *Pool) destroy() {
	p.closed = true
	if p.base != 0 {
		_ = munmapRaw(p.base, p.reserve)
		p.base = 0
	}
	if p.fd >= 0 {
		_ = unix.Close(p.fd)
		p.fd = -1
	}
}

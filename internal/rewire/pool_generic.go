//go:build !(linux && (amd64 || arm64))

package rewire

import (
	"os"
	"unsafe"

	"github.com/kelindar/bitmap"

	"github.com/hupe1980/pmago/internal/mem"
)

// Pool is the portable fallback: a heap-backed buffer in which SwapAndRelease
// copies the scratch content into the live region instead of remapping pages.
// The observable behavior matches the rewired implementation, but Extend may
// move the region and Bytes must be re-fetched afterwards.
type Pool struct {
	extentSize int
	maxExtents int

	data    []byte
	buffers [][]byte
	used    bitmap.Bitmap

	closed bool
}

// New creates a pool of numExtents live extents, each pagesPerExtent OS pages
// long. maxMemory bounds the total growth of the live region.
func New(pagesPerExtent, numExtents int, maxMemory uintptr) (*Pool, error) {
	if !isPowerOfTwo(pagesPerExtent) || numExtents < 1 {
		return nil, ErrInvalidExtents
	}

	extentSize := pagesPerExtent * os.Getpagesize()
	maxExtents := int(maxMemory / uintptr(extentSize))
	if maxExtents < numExtents+2 {
		maxExtents = numExtents + 2
	}

	return &Pool{
		extentSize: extentSize,
		maxExtents: maxExtents,
		data:       mem.AllocAligned(numExtents * extentSize),
	}, nil
}

// ExtentSize returns the size of one extent in bytes.
func (p *Pool) ExtentSize() int { return p.extentSize }

// NumExtents returns the number of live extents.
func (p *Pool) NumExtents() int { return len(p.data) / p.extentSize }

// Bytes returns the live region. The slice must be re-fetched after Extend.
func (p *Pool) Bytes() []byte {
	if p.closed {
		return nil
	}
	return p.data
}

// AcquireBuffer hands out a scratch extent outside the live region.
func (p *Pool) AcquireBuffer() ([]byte, error) {
	if p.closed {
		return nil, ErrClosed
	}

	for i := range p.buffers {
		if !p.used.Contains(uint32(i)) {
			p.used.Set(uint32(i))
			return p.buffers[i], nil
		}
	}

	if p.NumExtents()+len(p.buffers)+1 > p.maxExtents {
		return nil, ErrPoolExhausted
	}
	slot := len(p.buffers)
	p.buffers = append(p.buffers, mem.AllocAligned(p.extentSize))
	p.used.Set(uint32(slot))
	return p.buffers[slot], nil
}

// SwapAndRelease copies the scratch content over the active extent and frees
// the scratch slot. This is the commit point of a rewired rebalance.
func (p *Pool) SwapAndRelease(active, scratch []byte) error {
	if p.closed {
		return ErrClosed
	}

	off, err := p.liveOffset(active)
	if err != nil {
		return err
	}
	slot := -1
	for i := range p.buffers {
		if p.used.Contains(uint32(i)) && len(scratch) > 0 && &p.buffers[i][0] == &scratch[0] {
			slot = i
			break
		}
	}
	if slot < 0 {
		return ErrForeignBuffer
	}

	copy(p.data[off:off+p.extentSize], p.buffers[slot])
	p.used.Remove(uint32(slot))
	return nil
}

func (p *Pool) liveOffset(b []byte) (int, error) {
	if len(b) != p.extentSize || len(p.data) == 0 {
		return 0, ErrForeignBuffer
	}
	off := uintptr(unsafe.Pointer(&b[0])) - uintptr(unsafe.Pointer(&p.data[0]))
	if off%uintptr(p.extentSize) != 0 || int(off)+p.extentSize > len(p.data) {
		return 0, ErrForeignBuffer
	}
	return int(off), nil
}

// Extend grows the live region by k extents. The region may move; callers
// must re-fetch Bytes afterwards.
func (p *Pool) Extend(k int) error {
	if p.closed {
		return ErrClosed
	}
	if k <= 0 {
		return nil
	}
	if p.NumExtents()+k+len(p.buffers) > p.maxExtents {
		return ErrPoolExhausted
	}

	grown := mem.AllocAligned(len(p.data) + k*p.extentSize)
	copy(grown, p.data)
	p.data = grown
	return nil
}

// UsedBuffers returns the number of scratch buffers currently handed out. It
// must be zero before and after every rebalance.
func (p *Pool) UsedBuffers() int { return p.used.Count() }

// MemoryFootprint returns the bytes retained by the pool.
func (p *Pool) MemoryFootprint() uintptr {
	return uintptr(len(p.data) + len(p.buffers)*p.extentSize)
}

// Close releases the pool. It is idempotent.
func (p *Pool) Close() error {
	p.closed = true
	p.data = nil
	p.buffers = nil
	return nil
}

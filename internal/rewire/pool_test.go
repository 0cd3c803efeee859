package rewire

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMaxMemory = 1 << 26 // 64 MiB reservation, plenty for the tests

func newTestPool(t *testing.T, numExtents int) *Pool {
	t.Helper()
	p, err := New(1, numExtents, testMaxMemory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestNew_Validation(t *testing.T) {
	_, err := New(3, 1, testMaxMemory)
	assert.ErrorIs(t, err, ErrInvalidExtents)

	_, err = New(1, 0, testMaxMemory)
	assert.ErrorIs(t, err, ErrInvalidExtents)
}

func TestPool_Geometry(t *testing.T) {
	p := newTestPool(t, 4)

	assert.Equal(t, os.Getpagesize(), p.ExtentSize())
	assert.Equal(t, 4, p.NumExtents())
	assert.Len(t, p.Bytes(), 4*p.ExtentSize())
	assert.Zero(t, p.UsedBuffers())
}

func TestPool_SwapAndRelease(t *testing.T) {
	p := newTestPool(t, 2)
	ext := p.ExtentSize()

	live := p.Bytes()
	for i := 0; i < ext; i++ {
		live[i] = 0xAA
	}

	buf, err := p.AcquireBuffer()
	require.NoError(t, err)
	require.Len(t, buf, ext)
	assert.Equal(t, 1, p.UsedBuffers())

	for i := 0; i < ext; i++ {
		buf[i] = 0xBB
	}

	require.NoError(t, p.SwapAndRelease(p.Bytes()[:ext], buf))
	assert.Zero(t, p.UsedBuffers())

	// The scratch content is now visible at the live address; the second
	// extent is untouched.
	live = p.Bytes()
	assert.Equal(t, byte(0xBB), live[0])
	assert.Equal(t, byte(0xBB), live[ext-1])
	assert.Equal(t, byte(0x00), live[ext])
}

func TestPool_BufferReuse(t *testing.T) {
	p := newTestPool(t, 2)
	ext := p.ExtentSize()

	buf1, err := p.AcquireBuffer()
	require.NoError(t, err)
	require.NoError(t, p.SwapAndRelease(p.Bytes()[:ext], buf1))

	// The slot freed by the swap is handed out again.
	buf2, err := p.AcquireBuffer()
	require.NoError(t, err)
	assert.Equal(t, 1, p.UsedBuffers())
	require.NoError(t, p.SwapAndRelease(p.Bytes()[ext:2*ext], buf2))
	assert.Zero(t, p.UsedBuffers())
}

func TestPool_MultipleBuffersInFlight(t *testing.T) {
	p := newTestPool(t, 4)
	ext := p.ExtentSize()

	buf1, err := p.AcquireBuffer()
	require.NoError(t, err)
	buf2, err := p.AcquireBuffer()
	require.NoError(t, err)
	assert.Equal(t, 2, p.UsedBuffers())

	buf1[0] = 1
	buf2[0] = 2
	require.NoError(t, p.SwapAndRelease(p.Bytes()[3*ext:4*ext], buf1))
	require.NoError(t, p.SwapAndRelease(p.Bytes()[2*ext:3*ext], buf2))
	assert.Zero(t, p.UsedBuffers())

	live := p.Bytes()
	assert.Equal(t, byte(1), live[3*ext])
	assert.Equal(t, byte(2), live[2*ext])
}

func TestPool_SwapForeignBuffer(t *testing.T) {
	p := newTestPool(t, 2)
	ext := p.ExtentSize()

	foreign := make([]byte, ext)
	err := p.SwapAndRelease(p.Bytes()[:ext], foreign)
	assert.ErrorIs(t, err, ErrForeignBuffer)

	short := make([]byte, 16)
	err = p.SwapAndRelease(short, foreign)
	assert.ErrorIs(t, err, ErrForeignBuffer)
}

func TestPool_Extend(t *testing.T) {
	p := newTestPool(t, 2)
	ext := p.ExtentSize()

	live := p.Bytes()
	live[0] = 0x11
	live[2*ext-1] = 0x22

	require.NoError(t, p.Extend(2))
	assert.Equal(t, 4, p.NumExtents())

	live = p.Bytes()
	require.Len(t, live, 4*ext)
	assert.Equal(t, byte(0x11), live[0], "existing content survives the extension")
	assert.Equal(t, byte(0x22), live[2*ext-1])
	assert.Equal(t, byte(0x00), live[2*ext], "new extents are zeroed")
	assert.Equal(t, byte(0x00), live[4*ext-1])
}

func TestPool_ExtendThenSwap(t *testing.T) {
	p := newTestPool(t, 1)
	ext := p.ExtentSize()

	require.NoError(t, p.Extend(1))

	buf, err := p.AcquireBuffer()
	require.NoError(t, err)
	buf[0] = 0x77
	require.NoError(t, p.SwapAndRelease(p.Bytes()[ext:2*ext], buf))
	assert.Equal(t, byte(0x77), p.Bytes()[ext])
}

func TestPool_Exhaustion(t *testing.T) {
	// A reservation of exactly four extents: two live, and the rest shared
	// between growth and scratch.
	pageSize := os.Getpagesize()
	p, err := New(1, 2, uintptr(4*pageSize))
	require.NoError(t, err)
	defer p.Close()

	err = p.Extend(16)
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestPool_Close(t *testing.T) {
	p, err := New(1, 2, testMaxMemory)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close(), "close is idempotent")

	_, err = p.AcquireBuffer()
	assert.ErrorIs(t, err, ErrClosed)
	assert.Nil(t, p.Bytes())
}

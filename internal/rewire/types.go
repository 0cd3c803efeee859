package rewire

import "errors"

var (
	// ErrClosed is returned when operating on a closed pool.
	ErrClosed = errors.New("rewire: pool is closed")
	// ErrInvalidExtents is returned when the pool geometry is invalid.
	ErrInvalidExtents = errors.New("rewire: pages per extent must be a power of two and extents must be positive")
	// ErrPoolExhausted is returned when the reservation cannot fit another
	// extent.
	ErrPoolExhausted = errors.New("rewire: virtual reservation exhausted")
	// ErrForeignBuffer is returned when SwapAndRelease is handed memory that
	// does not belong to the pool.
	ErrForeignBuffer = errors.New("rewire: buffer does not belong to this pool")
)

func isPowerOfTwo(x int) bool {
	return x > 0 && x&(x-1) == 0
}

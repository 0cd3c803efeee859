package pmago

import (
	"errors"
	"fmt"

	"github.com/hupe1980/pmago/internal/pma"
)

// ErrInvalidSegmentCapacity indicates a segment capacity outside [32, 65535]
// or one whose byte size does not divide the OS page size.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidSegmentCapacity struct {
	Capacity int
	cause    error
}

func (e *ErrInvalidSegmentCapacity) Error() string {
	return fmt.Sprintf("invalid segment capacity: %d", e.Capacity)
}

func (e *ErrInvalidSegmentCapacity) Unwrap() error { return e.cause }

// ErrInvalidPagesPerExtent indicates an extent size that is not a power of
// two pages.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidPagesPerExtent struct {
	Pages int
	cause error
}

func (e *ErrInvalidPagesPerExtent) Error() string {
	return fmt.Sprintf("invalid pages per extent: %d", e.Pages)
}

func (e *ErrInvalidPagesPerExtent) Unwrap() error { return e.cause }

// translateConstructionError normalizes internal validation errors into the
// public typed errors.
func translateConstructionError(err error, o *options) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pma.ErrSegmentCapacity) {
		return &ErrInvalidSegmentCapacity{Capacity: o.segmentCapacity, cause: err}
	}
	if errors.Is(err, pma.ErrPagesPerExtent) {
		return &ErrInvalidPagesPerExtent{Pages: o.pagesPerExtent, cause: err}
	}
	return err
}

// Package pma implements the packed memory array at the heart of the index.
//
// # Overview
//
// Elements live in two parallel int64 arrays (keys and values) partitioned
// into fixed-capacity segments. Even segments pack their elements against the
// right edge, odd segments against the left edge, so each pair of segments
// (2k, 2k+1) forms one contiguous sorted run. A static separator index routes
// a key to its segment; a per-segment cardinality array tracks occupancy.
//
// Point updates touch one segment. When a segment over- or underflows, the
// rebalancer walks the implicit calibrator tree upwards until it finds the
// smallest enclosing window whose density is back within the bounds computed
// by the density package, then redistributes the window evenly. Small windows
// are rebalanced in place with a two-chunk compaction; windows spanning one
// or more rewiring extents are redistributed right to left through scratch
// pages that are committed by swapping their physical backing. When even the
// root window is out of bounds the whole array is resized.
//
// Sorted batches take a separate bulk-loading path that fuses the batch into
// per-window runs and merges each run with the existing segment contents
// using the same two redistribution strategies.
package pma

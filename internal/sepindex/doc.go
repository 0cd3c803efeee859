// Package sepindex implements the static separator index that routes a key to
// its segment of the sparse array.
//
// # Overview
//
// The index stores the minimum key (separator) of every segment in a flat
// array plus a stack of block summaries, forming an implicit B+-tree with a
// fixed branching factor. Lookups descend block by block with a linear scan
// inside each block, which is branch-predictable and cache friendly for the
// small blocks used here.
//
// The index is static: it never splits or merges. The owner rebuilds it with
// the new segment count whenever the sparse array is resized and then
// republishes every separator.
package sepindex

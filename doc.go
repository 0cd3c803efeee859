// Package pmago provides an adaptive, cache-conscious ordered index for
// 64-bit integer keys and values.
//
// The index is a Packed Memory Array (PMA): a sparse array partitioned into
// fixed-capacity segments whose fill is kept within per-level density bounds
// by local rebalancing, wrapped by a small static B+-tree that routes keys to
// segments. Compared to a pointer-based tree, scans touch contiguous memory
// and point updates amortize to a handful of cache lines.
//
// Features:
//
//   - Point insert, delete, and lookup on int64 key/value pairs
//   - Lazy ascending range scans via iter.Seq2
//   - Range aggregation (count, key sum, value sum, boundary keys)
//   - Bulk loading of pre-sorted batches
//   - Virtual-memory rewiring: large rebalances remap physical pages instead
//     of copying them (Linux; other platforms fall back to copying)
//
// # Quick Start
//
//	idx, err := pmago.New(
//	    pmago.WithSegmentCapacity(128),
//	    pmago.WithPagesPerExtent(16),
//	)
//	if err != nil {
//	    panic(err)
//	}
//	defer idx.Close()
//
//	_ = idx.Insert(42, 420)
//
//	for k, v := range idx.Range(0, 100) {
//	    fmt.Println(k, v)
//	}
//
//	sum := idx.Sum(0, 100)
//	fmt.Println(sum.Count, sum.SumKeys)
//
// Bulk loading is much faster than repeated inserts when the input is
// already sorted:
//
//	batch := []pmago.Pair{{Key: 1, Value: 10}, {Key: 2, Value: 20}}
//	_ = idx.LoadSorted(batch)
//
// # The Missing Sentinel
//
// Find and Remove return pmago.Missing (-1) for absent keys. Storing -1 as a
// value is therefore indistinguishable from absence; callers that need -1
// must encode it differently.
//
// # Concurrency
//
// An Index is not safe for concurrent use. All operations are synchronous
// and single-threaded; wrap the index with your own synchronization if
// needed.
package pmago

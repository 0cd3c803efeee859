// Package rewire provides a virtual buffer whose physical backing can be
// re-pointed page by page.
//
// # Overview
//
// A Pool reserves a large contiguous virtual range and wires physical extents
// (a fixed number of OS pages) into the head of that range. Beyond the live
// extents the pool keeps spare physical extents reachable through scratch
// addresses at the tail of the reservation.
//
// A rebalance writes the redistributed elements of an extent into a scratch
// buffer while the live pages are still being read, then commits the result
// with SwapAndRelease: the two virtual addresses exchange their physical
// backing, so the scratch content becomes visible at the live address without
// copying a single byte. The swap is the commit point; until it happens the
// live region is untouched.
//
// # Platform Support
//
//   - Linux on amd64/arm64: a memfd provides the physical extents and raw
//     mmap syscalls (via unix.Syscall6, since the unix.Mmap wrapper cannot
//     target an address) re-point virtual slots with MAP_FIXED mappings of
//     the same file. Swapping is a true remap.
//   - Everywhere else: a heap-backed fallback in which SwapAndRelease copies
//     the scratch buffer into the live region. The observable behavior is
//     identical; only the performance advantage of remapping is lost.
//
// # Thread Safety
//
// A Pool is owned by a single writer. No method is safe for concurrent use.
package rewire

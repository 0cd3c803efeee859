// Package density computes the per-level density thresholds of the implicit
// calibrator tree.
//
// # Overview
//
// Every window of the sparse array belongs to a level of a balanced binary
// partition of the segment range. A window at height h must keep its fill
// ratio within [Lower(h), Upper(h)]. The bands interpolate linearly between a
// permissive pair at the leaves (single segments) and a tight pair at the
// root (the whole array), so small local imbalances are absorbed cheaply
// while global overflow forces a resize.
package density

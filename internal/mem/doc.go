// Package mem provides aligned memory allocation for the sparse-array
// workspace.
package mem

// Package l4align owns Layer 4 (Alignment) of the grid pipeline: the
// RANSAC-style search for the transform mapping grid-pattern space into
// camera space.
//
// Dependency rule: L4 may depend on L1-L3, but never on L5+.
package l4align

// Package l5match owns Layer 5 (Matching) of the grid pipeline.
//
// Responsibilities: projecting expected dots through the current
// alignment, assigning each to at most one detected dot, and classifying
// the differences as disturbances.
//
// Dependency rule: L5 may depend on L1-L4, but never on L6.
package l5match

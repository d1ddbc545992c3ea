// Package l3dots owns Layer 3 (Dots) of the grid pipeline.
//
// Responsibilities: turning a preprocessed ImageBuffer into candidate
// DetectedDots. Detection algorithms form a closed set of variants, each
// with its own weight; their candidates are pooled and merged by spatial
// proximity (transitive closure).
//
// Dependency rule: L3 may depend on L1 and L2, but never on L4+.
package l3dots

// Package l2background owns Layer 2 (Background) of the grid pipeline:
// the exponentially averaged background model and the ordered,
// independently toggleable preprocessing steps.
//
// Dependency rule: L2 may depend on L1, but never on L3+.
package l2background

// Package l1image owns Layer 1 (Image) of the grid pipeline: the
// ImageBuffer value type and the pure per-pixel filters applied to it.
//
// Dependency rule: L1 depends only on the grid data model. No filter keeps
// state between calls and none mutates its input.
package l1image

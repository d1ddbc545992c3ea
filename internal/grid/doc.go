// Package grid owns the shared data model of the grid-disturbance pipeline.
//
// A camera watches a calibrated pattern of illuminated reference dots. Each
// frame is cleaned (l2background), scanned for dots (l3dots), aligned with
// the pattern (l4align), matched and classified into disturbances (l5match)
// and filtered (l6validate). The pipeline package wires the layers together.
//
// Dependency rule: layer packages may import grid but never each other's
// higher layers; grid itself imports no layer package.
package grid

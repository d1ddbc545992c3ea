// Package l6validate owns Layer 6 (Validation) of the grid pipeline: the
// sequential stages that filter candidate disturbances before emission.
//
// Every stage is a pure filter. Surviving disturbances are passed through
// unchanged; a stage never edits or reorders them.
//
// Dependency rule: L6 may depend on L1-L5.
package l6validate

// Package sqlite persists emitted grid disturbances as an evidence log.
//
// The store is an adapter, not a pipeline layer: it subscribes to the
// detector through OnDisturbance and never feeds back into detection.
package sqlite

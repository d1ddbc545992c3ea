// Package pipeline wires the grid layers into a frame-synchronous
// disturbance detector.
//
// One call to (*Detector).ProcessFrame runs the whole chain for a frame:
//
//	L1 image buffer -> L2 background + preprocessing -> L3 dot detection
//	-> L4 calibration -> L5 matching + classification -> L6 validation
//
// and then notifies listeners of every validated disturbance above the
// emission threshold. Frames must be delivered serially.
package pipeline

package l3dots

import (
	"errors"
	"time"

	"github.com/banshee-data/gridwatch/internal/grid"
	"github.com/banshee-data/gridwatch/internal/grid/l1image"
	"github.com/banshee-data/gridwatch/internal/monitoring"
	"github.com/banshee-data/gridwatch/internal/timeutil"
)

// AlgorithmResult records what one variant contributed to the last frame.
type AlgorithmResult struct {
	Algorithm      Algorithm     `json:"algorithm"`
	Candidates     int           `json:"candidates"`
	ProcessingTime time.Duration `json:"processing_time_ns"`
	Err            error         `json:"-"`
}

// Detector runs every enabled algorithm, scales each candidate's
// confidence by the algorithm weight and merges the pooled list.
type Detector struct {
	Params grid.DetectionParams
	clock  timeutil.Clock

	// Per-algorithm results from the last frame.
	LastResults []AlgorithmResult
}

// NewDetector creates a detector for params. clock times each algorithm;
// nil uses wall time.
func NewDetector(params grid.DetectionParams, clock timeutil.Clock) *Detector {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Detector{Params: params, clock: clock}
}

// Detect returns the merged candidates for img. An algorithm that fails
// contributes nothing; the others still run.
func (d *Detector) Detect(img l1image.ImageBuffer) []grid.DetectedDot {
	d.LastResults = d.LastResults[:0]
	if img.Empty() {
		return nil
	}

	var pooled []grid.DetectedDot
	for _, alg := range Algorithms {
		if !alg.Enabled(d.Params) {
			continue
		}
		start := d.clock.Now()
		found, err := alg.Detect(img, d.Params)
		res := AlgorithmResult{Algorithm: alg, ProcessingTime: d.clock.Since(start), Err: err}
		if err != nil {
			if errors.Is(err, ErrNotImplemented) {
				monitoring.Tracef("detector: %v", err)
			} else {
				monitoring.Diagf("detector: %s failed, contributing no candidates: %v", alg, err)
			}
			d.LastResults = append(d.LastResults, res)
			continue
		}

		weight := alg.Weight(d.Params)
		for i := range found {
			found[i].Confidence = clamp01(found[i].Confidence * weight)
		}
		res.Candidates = len(found)
		d.LastResults = append(d.LastResults, res)
		pooled = append(pooled, found...)
	}

	if len(pooled) == 0 {
		return nil
	}
	return MergeCandidates(pooled, d.Params.MergeThreshold)
}

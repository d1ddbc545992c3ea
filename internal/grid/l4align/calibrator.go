package l4align

import (
	"math"
	"math/rand"
	"time"

	"github.com/banshee-data/gridwatch/internal/grid"
)

// sampleSize is the number of detected dots drawn per iteration.
const sampleSize = 3

// AttemptStats summarises the most recent calibration attempt.
type AttemptStats struct {
	Detected     int     `json:"detected"`
	Required     float64 `json:"required"`
	Iterations   int     `json:"iterations"`
	Hypotheses   int     `json:"hypotheses"`
	BestScore    float64 `json:"best_score"`
	Accepted     bool    `json:"accepted"`
	Insufficient bool    `json:"insufficient"`
}

// Calibrator searches for the alignment that best explains the detected
// dots. It holds no alignment itself; keeping the last accepted result is
// the caller's job.
type Calibrator struct {
	Params grid.CalibrationParams

	rng  *rand.Rand
	Last AttemptStats
}

// NewCalibrator creates a calibrator. A nil rng is seeded from the clock.
func NewCalibrator(params grid.CalibrationParams, rng *rand.Rand) *Calibrator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Calibrator{Params: params, rng: rng}
}

// Calibrate runs up to Params.MaxIterations sampling rounds and returns the
// best-scoring alignment. The bool is false when too few dots were
// detected or the best score does not exceed
// AcceptanceRatio × MinMatchCount; the returned alignment must then be
// ignored.
func (c *Calibrator) Calibrate(detected []grid.DetectedDot, pattern grid.GridPattern) (grid.GridAlignment, bool) {
	expected := pattern.EnabledDots()
	required := c.Params.MinMatchCount(pattern.Len())
	c.Last = AttemptStats{Detected: len(detected), Required: required}

	if len(detected) < sampleSize || len(expected) < sampleSize || float64(len(detected)) < required {
		c.Last.Insufficient = true
		return grid.GridAlignment{}, false
	}

	var (
		best      grid.GridAlignment
		bestScore = -1.0
		sample    [sampleSize]int
		pairs     = make([]correspondence, 0, sampleSize)
	)
	for iter := 0; iter < c.Params.MaxIterations; iter++ {
		c.Last.Iterations++
		c.draw(sample[:], len(detected))

		pairs = pairs[:0]
		for _, idx := range sample {
			pos := detected[idx].Position
			if e, ok := nearestExpected(expected, pos, c.Params.CorrespondenceRadius); ok {
				pairs = append(pairs, correspondence{expected: e, detected: pos})
			}
		}
		if len(pairs) < sampleSize {
			continue
		}

		candidate, err := estimate(c.Params.Model, pairs)
		if err != nil {
			continue
		}
		c.Last.Hypotheses++
		score := Score(candidate, expected, detected, c.Params.InlierThreshold)
		if score > bestScore {
			best, bestScore = candidate, score
		}
		if bestScore >= float64(len(expected)) {
			break
		}
	}

	if bestScore < 0 {
		return grid.GridAlignment{}, false
	}
	c.Last.BestScore = bestScore
	if bestScore <= c.Params.AcceptanceRatio*required {
		return grid.GridAlignment{}, false
	}

	best.Score = bestScore
	best.Confidence = math.Min(1, bestScore/float64(pattern.Len()))
	c.Last.Accepted = true
	return best, true
}

// draw fills out with distinct indices in [0, n).
func (c *Calibrator) draw(out []int, n int) {
	for i := range out {
		for {
			v := c.rng.Intn(n)
			if !contains(out[:i], v) {
				out[i] = v
				break
			}
		}
	}
}

func contains(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// Score sums 1 - d/threshold over every expected dot whose projection lies
// within threshold of its nearest detected dot.
func Score(a grid.GridAlignment, expected []grid.GridDot, detected []grid.DetectedDot, threshold float64) float64 {
	if threshold <= 0 {
		return 0
	}
	score := 0.0
	for _, e := range expected {
		p := a.Apply(e.ExpectedPosition)
		nearest := math.Inf(1)
		for _, d := range detected {
			if dist := p.Dist(d.Position); dist < nearest {
				nearest = dist
			}
		}
		if nearest <= threshold {
			score += 1 - nearest/threshold
		}
	}
	return score
}

func nearestExpected(expected []grid.GridDot, pos grid.Vector2, radius float64) (grid.Vector2, bool) {
	best := math.Inf(1)
	var at grid.Vector2
	for _, e := range expected {
		if d := e.ExpectedPosition.Dist(pos); d < best {
			best, at = d, e.ExpectedPosition
		}
	}
	return at, best <= radius
}

package l6validate

import (
	"math"

	"github.com/banshee-data/gridwatch/internal/grid"
)

// Stage is one validation step.
type Stage interface {
	Name() string
	Accept(d grid.GridDisturbance) bool
}

// SizeFilter keeps disturbances whose larger extent lies in [Min, Max].
type SizeFilter struct {
	Min, Max float64
}

func (SizeFilter) Name() string { return "size" }

func (f SizeFilter) Accept(d grid.GridDisturbance) bool {
	s := math.Max(d.Size.X, d.Size.Y)
	return s >= f.Min && s <= f.Max
}

// IntensityFilter keeps disturbances at least Min severe.
type IntensityFilter struct {
	Min float64
}

func (IntensityFilter) Name() string { return "intensity" }

func (f IntensityFilter) Accept(d grid.GridDisturbance) bool {
	return d.Intensity >= f.Min
}

// GeometryCheck rejects elongated disturbances.
type GeometryCheck struct {
	MaxAspectRatio float64
}

func (GeometryCheck) Name() string { return "geometry" }

func (g GeometryCheck) Accept(d grid.GridDisturbance) bool {
	return AspectRatio(d.Size) <= g.MaxAspectRatio
}

// AspectRatio returns long side over short side. A degenerate box with
// one zero side is infinitely elongated; an empty one counts as square.
func AspectRatio(size grid.Vector2) float64 {
	lo, hi := math.Min(size.X, size.Y), math.Max(size.X, size.Y)
	if hi <= 0 {
		return 1
	}
	if lo <= 0 {
		return math.Inf(1)
	}
	return hi / lo
}

// FrameLookup gives access to earlier frames. *grid.FrameHistory
// satisfies it.
type FrameLookup interface {
	// Previous(1) is the most recent earlier frame; nil when out of range.
	Previous(n int) *grid.ProcessedFrame
}

// TemporalConsistency requires a disturbance to have persisted: each of
// the previous MinFrames-1 frames must hold a candidate of the same type
// within Radius pixels. Disabled, it accepts everything.
type TemporalConsistency struct {
	Enabled   bool
	MinFrames int
	Radius    float64
	History   FrameLookup
}

func (TemporalConsistency) Name() string { return "temporal" }

func (t TemporalConsistency) Accept(d grid.GridDisturbance) bool {
	if !t.Enabled || t.MinFrames <= 1 {
		return true
	}
	if t.History == nil {
		return false
	}
	n, _ := Persistence(t.History, d, t.Radius, t.MinFrames-1)
	return n >= t.MinFrames-1
}

// Persistence walks back through history for up to limit frames (all
// available when limit <= 0) and counts consecutive frames holding a
// same-type candidate within radius of d. It also returns the earliest
// such frame, or nil when the count is zero.
func Persistence(history FrameLookup, d grid.GridDisturbance, radius float64, limit int) (int, *grid.ProcessedFrame) {
	var earliest *grid.ProcessedFrame
	count := 0
	for k := 1; limit <= 0 || k <= limit; k++ {
		f := history.Previous(k)
		if f == nil || !hasNearby(f.Candidates, d, radius) {
			break
		}
		count++
		earliest = f
	}
	return count, earliest
}

func hasNearby(candidates []grid.GridDisturbance, d grid.GridDisturbance, radius float64) bool {
	for _, c := range candidates {
		if c.Type == d.Type && c.Position.Dist(d.Position) <= radius {
			return true
		}
	}
	return false
}

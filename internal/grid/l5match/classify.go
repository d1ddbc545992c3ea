package l5match

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/gridwatch/internal/grid"
)

// Fixed occlusion scores; an absent dot carries no measurement to derive
// them from.
const (
	OcclusionIntensity  = 0.8
	OcclusionConfidence = 0.7

	// displacementFullScale is the displacement in pixels that maps to
	// intensity 1.
	displacementFullScale = 50.0
)

// FrameInfo stamps disturbances with the frame they came from.
type FrameInfo struct {
	Number    int64
	Timestamp time.Time
}

// NewDisturbanceID returns a unique disturbance identifier.
func NewDisturbanceID() string { return "dist_" + uuid.NewString() }

// Classify turns match results into candidate disturbances:
//
//   - an unmatched expected dot is an occlusion;
//   - a matched dot displaced by more than MotionThreshold is a displacement;
//   - otherwise a brightness change beyond IntensityChangeThreshold is a
//     brightening or dimming.
//
// Each expected dot yields at most one disturbance.
func Classify(matches []Match, detected []grid.DetectedDot, params grid.ClassificationParams, frame FrameInfo) []grid.GridDisturbance {
	occludedSize := meanSize(detected, params.NominalDotSize)

	var out []grid.GridDisturbance
	for _, m := range matches {
		if !m.Matched() {
			out = append(out, occlusion(m, occludedSize, frame))
			continue
		}
		d := detected[m.Detected]
		disp := d.Position.Sub(m.Projected)
		if disp.Len() > params.MotionThreshold {
			out = append(out, displacement(m, d, disp, frame))
			continue
		}
		delta := d.Intensity - m.Expected.ExpectedIntensity
		if math.Abs(delta) > params.IntensityChangeThreshold {
			out = append(out, intensityChange(m, d, delta, frame))
		}
	}
	return out
}

func occlusion(m Match, size float64, frame FrameInfo) grid.GridDisturbance {
	half := grid.Vector2{X: size / 2, Y: size / 2}
	return grid.GridDisturbance{
		ID:           NewDisturbanceID(),
		Timestamp:    frame.Timestamp,
		FrameNumber:  frame.Number,
		AffectedDots: []string{m.Expected.ID},
		Type:         grid.DotOcclusion,
		Intensity:    OcclusionIntensity,
		Position:     m.Projected,
		Size:         grid.Vector2{X: size, Y: size},
		Confidence:   OcclusionConfidence,
		Metadata: grid.DisturbanceMetadata{
			OriginalPositions:   []grid.Vector2{m.Projected},
			OriginalIntensities: []float64{m.Expected.ExpectedIntensity},
			BoundingBox:         grid.BoundingBoxOf(m.Projected.Sub(half), m.Projected.Add(half)),
			Classification:      "occlusion",
		},
	}
}

func displacement(m Match, d grid.DetectedDot, disp grid.Vector2, frame FrameInfo) grid.GridDisturbance {
	velocity := disp
	return grid.GridDisturbance{
		ID:           NewDisturbanceID(),
		Timestamp:    frame.Timestamp,
		FrameNumber:  frame.Number,
		AffectedDots: []string{m.Expected.ID},
		Type:         grid.DotDisplacement,
		Intensity:    math.Min(1, disp.Len()/displacementFullScale),
		Position:     d.Position,
		Size:         grid.Vector2{X: d.Size, Y: d.Size},
		Confidence:   d.Confidence,
		Metadata: grid.DisturbanceMetadata{
			OriginalPositions:   []grid.Vector2{m.Projected},
			CurrentPositions:    []grid.Vector2{d.Position},
			OriginalIntensities: []float64{m.Expected.ExpectedIntensity},
			CurrentIntensities:  []float64{d.Intensity},
			VelocityVector:      &velocity,
			BoundingBox:         grid.BoundingBoxOf(m.Projected, d.Position),
			Classification:      "displacement",
		},
	}
}

func intensityChange(m Match, d grid.DetectedDot, delta float64, frame FrameInfo) grid.GridDisturbance {
	typ, label := grid.DotBrightening, "brightening"
	if delta < 0 {
		typ, label = grid.DotDimming, "dimming"
	}
	half := grid.Vector2{X: d.Size / 2, Y: d.Size / 2}
	return grid.GridDisturbance{
		ID:           NewDisturbanceID(),
		Timestamp:    frame.Timestamp,
		FrameNumber:  frame.Number,
		AffectedDots: []string{m.Expected.ID},
		Type:         typ,
		Intensity:    math.Min(1, math.Abs(delta)),
		Position:     d.Position,
		Size:         grid.Vector2{X: d.Size, Y: d.Size},
		Confidence:   d.Confidence,
		Metadata: grid.DisturbanceMetadata{
			OriginalPositions:   []grid.Vector2{m.Projected},
			CurrentPositions:    []grid.Vector2{d.Position},
			OriginalIntensities: []float64{m.Expected.ExpectedIntensity},
			CurrentIntensities:  []float64{d.Intensity},
			BoundingBox:         grid.BoundingBoxOf(d.Position.Sub(half), d.Position.Add(half)),
			Classification:      label,
		},
	}
}

// meanSize is the mean detected dot size, or fallback when nothing was
// detected.
func meanSize(detected []grid.DetectedDot, fallback float64) float64 {
	if len(detected) == 0 {
		return fallback
	}
	sum := 0.0
	for _, d := range detected {
		sum += d.Size
	}
	return sum / float64(len(detected))
}

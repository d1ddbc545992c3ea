// Package testutil provides shared test fixtures for the grid pipeline:
// synthetic dot patterns and camera frames rendered from them.
package testutil

import (
	"fmt"
	"testing"

	"github.com/banshee-data/gridwatch/internal/grid"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// DotID returns the fixture ID for the dot at row r, column c.
func DotID(r, c int) string { return fmt.Sprintf("dot_%d_%d", r, c) }

// SquarePattern returns a rows×cols lattice of enabled dots starting at
// origin with the given spacing, each expecting intensity.
func SquarePattern(rows, cols int, origin grid.Vector2, spacing, intensity float64) grid.GridPattern {
	p := grid.GridPattern{Dots: make([]grid.GridDot, 0, rows*cols)}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			p.Dots = append(p.Dots, grid.GridDot{
				ID: DotID(r, c),
				ExpectedPosition: grid.Vector2{
					X: origin.X + float64(c)*spacing,
					Y: origin.Y + float64(r)*spacing,
				},
				ExpectedIntensity: intensity,
				Enabled:           true,
			})
		}
	}
	return p
}

// Spot is a filled disc drawn into a synthetic frame.
type Spot struct {
	Center grid.Vector2
	Radius float64
	Level  uint8
}

// RenderFrame draws spots onto a uniform background.
func RenderFrame(width, height int, background uint8, spots ...Spot) grid.CameraFrame {
	pix := make([]uint8, width*height)
	for i := range pix {
		pix[i] = background
	}
	for _, s := range spots {
		r2 := s.Radius * s.Radius
		minX, maxX := int(s.Center.X-s.Radius)-1, int(s.Center.X+s.Radius)+1
		minY, maxY := int(s.Center.Y-s.Radius)-1, int(s.Center.Y+s.Radius)+1
		for y := minY; y <= maxY; y++ {
			if y < 0 || y >= height {
				continue
			}
			for x := minX; x <= maxX; x++ {
				if x < 0 || x >= width {
					continue
				}
				dx, dy := float64(x)-s.Center.X, float64(y)-s.Center.Y
				if dx*dx+dy*dy <= r2 {
					pix[y*width+x] = s.Level
				}
			}
		}
	}
	return grid.CameraFrame{Width: width, Height: height, Pix: pix}
}

// RenderOptions control how a pattern is drawn by RenderPattern.
type RenderOptions struct {
	Width, Height int
	Background    uint8
	Radius        float64
	Level         uint8
	// Offset is added to every expected position.
	Offset grid.Vector2
	// Omit lists dot IDs to leave out of the frame.
	Omit []string
	// Move shifts individual dots by ID on top of Offset.
	Move map[string]grid.Vector2
	// Levels overrides the drawn level for individual dots by ID.
	Levels map[string]uint8
}

// DefaultRenderOptions returns a 160×120 dark frame with bright radius-3 dots.
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{Width: 160, Height: 120, Background: 10, Radius: 3, Level: 230}
}

// RenderPattern draws every enabled dot of p according to opts.
func RenderPattern(p grid.GridPattern, opts RenderOptions) grid.CameraFrame {
	omit := make(map[string]bool, len(opts.Omit))
	for _, id := range opts.Omit {
		omit[id] = true
	}
	spots := make([]Spot, 0, len(p.Dots))
	for _, d := range p.Dots {
		if !d.Enabled || omit[d.ID] {
			continue
		}
		level := opts.Level
		if l, ok := opts.Levels[d.ID]; ok {
			level = l
		}
		spots = append(spots, Spot{
			Center: d.ExpectedPosition.Add(opts.Offset).Add(opts.Move[d.ID]),
			Radius: opts.Radius,
			Level:  level,
		})
	}
	return RenderFrame(opts.Width, opts.Height, opts.Background, spots...)
}

// DetectedAt returns one confident detection per enabled dot of p, placed
// at its expected position plus offset.
func DetectedAt(p grid.GridPattern, offset grid.Vector2, omit ...string) []grid.DetectedDot {
	skip := make(map[string]bool, len(omit))
	for _, id := range omit {
		skip[id] = true
	}
	var out []grid.DetectedDot
	for _, d := range p.Dots {
		if !d.Enabled || skip[d.ID] {
			continue
		}
		out = append(out, grid.DetectedDot{
			Position:   d.ExpectedPosition.Add(offset),
			Intensity:  d.ExpectedIntensity,
			Size:       6,
			Confidence: 0.9,
		})
	}
	return out
}

package l3dots

import (
	"math"

	"github.com/banshee-data/gridwatch/internal/grid"
	"github.com/banshee-data/gridwatch/internal/grid/l1image"
)

// dotTemplate renders a zero-mean Gaussian spot of the given radius and
// returns it with its L2 norm.
func dotTemplate(radius int) ([]float64, float64) {
	side := 2*radius + 1
	sigma := float64(radius) / 2
	if sigma <= 0 {
		sigma = 0.5
	}
	t := make([]float64, side*side)
	mean := 0.0
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			v := math.Exp(-float64(x*x+y*y) / (2 * sigma * sigma))
			t[(y+radius)*side+x+radius] = v
			mean += v
		}
	}
	mean /= float64(len(t))
	norm := 0.0
	for i := range t {
		t[i] -= mean
		norm += t[i] * t[i]
	}
	return t, math.Sqrt(norm)
}

// MatchTemplate scores every fully covered window of img against a
// Gaussian dot template using normalised cross-correlation. Local maxima
// with a score of at least p.MatchThreshold become candidates whose
// confidence is the score.
func MatchTemplate(img l1image.ImageBuffer, p grid.TemplateParams) ([]grid.DetectedDot, error) {
	if img.Empty() {
		return nil, l1image.ErrEmptyImage
	}
	r := p.Radius
	if r < 1 {
		r = 1
	}
	w, h := img.Width, img.Height
	if w < 2*r+1 || h < 2*r+1 {
		return nil, nil
	}

	tmpl, tnorm := dotTemplate(r)
	side := 2*r + 1
	n := float64(side * side)

	scores := make([]float64, len(img.Pix))
	for i := range scores {
		scores[i] = -1
	}
	for cy := r; cy < h-r; cy++ {
		for cx := r; cx < w-r; cx++ {
			sum := 0.0
			for y := cy - r; y <= cy+r; y++ {
				row := img.Pix[y*w+cx-r : y*w+cx+r+1]
				for _, v := range row {
					sum += float64(v)
				}
			}
			mean := sum / n

			dot, wnorm := 0.0, 0.0
			for y := -r; y <= r; y++ {
				base := (cy+y)*w + cx
				for x := -r; x <= r; x++ {
					d := float64(img.Pix[base+x]) - mean
					dot += d * tmpl[(y+r)*side+x+r]
					wnorm += d * d
				}
			}
			if wnorm == 0 {
				continue
			}
			scores[cy*w+cx] = dot / (math.Sqrt(wnorm) * tnorm)
		}
	}

	var dots []grid.DetectedDot
	for cy := r; cy < h-r; cy++ {
		for cx := r; cx < w-r; cx++ {
			s := scores[cy*w+cx]
			if s < p.MatchThreshold || !localMax(scores, w, h, cx, cy) {
				continue
			}
			dots = append(dots, grid.DetectedDot{
				Position:   grid.Vector2{X: float64(cx), Y: float64(cy)},
				Intensity:  clamp01(float64(img.At(cx, cy)) / 255),
				Size:       float64(side),
				Confidence: clamp01(s),
			})
		}
	}
	return dots, nil
}

// localMax reports whether (x, y) is not exceeded by any 8-neighbour.
// Plateaus yield several maxima; the merge step folds them together.
func localMax(scores []float64, w, h, x, y int) bool {
	s := scores[y*w+x]
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			nx, ny := x+dx, y+dy
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			if scores[ny*w+nx] > s {
				return false
			}
		}
	}
	return true
}

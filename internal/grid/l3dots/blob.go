package l3dots

import (
	"math"

	"github.com/banshee-data/gridwatch/internal/grid"
	"github.com/banshee-data/gridwatch/internal/grid/l1image"
)

// blob accumulates the statistics of one connected component.
type blob struct {
	area int
	sum  float64
	sumX float64
	sumY float64
}

// DetectBlobs finds 4-connected regions of pixels brighter than
// p.MinThreshold and returns one candidate per region whose area lies in
// [p.MinArea, p.MaxArea]. The flood fill uses an explicit stack so large
// regions cannot exhaust the goroutine stack.
func DetectBlobs(img l1image.ImageBuffer, p grid.BlobParams) []grid.DetectedDot {
	if img.Empty() {
		return nil
	}
	w, h := img.Width, img.Height
	thr := float32(p.MinThreshold)
	visited := make([]bool, len(img.Pix))
	stack := make([]int, 0, 64)

	var dots []grid.DetectedDot
	for start, v := range img.Pix {
		if visited[start] || v <= thr {
			continue
		}

		var b blob
		visited[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			x, y := idx%w, idx/w
			val := float64(img.Pix[idx])
			b.area++
			b.sum += val
			b.sumX += float64(x)
			b.sumY += float64(y)

			if x > 0 {
				stack = push(stack, visited, img.Pix, idx-1, thr)
			}
			if x < w-1 {
				stack = push(stack, visited, img.Pix, idx+1, thr)
			}
			if y > 0 {
				stack = push(stack, visited, img.Pix, idx-w, thr)
			}
			if y < h-1 {
				stack = push(stack, visited, img.Pix, idx+w, thr)
			}
		}

		if b.area < p.MinArea || b.area > p.MaxArea {
			continue
		}
		dots = append(dots, b.dot(p.MinThreshold))
	}
	return dots
}

func push(stack []int, visited []bool, pix []float32, idx int, thr float32) []int {
	if visited[idx] || pix[idx] <= thr {
		return stack
	}
	visited[idx] = true
	return append(stack, idx)
}

func (b blob) dot(threshold float64) grid.DetectedDot {
	n := float64(b.area)
	mean := b.sum / n
	conf := 1.0
	if threshold < 255 {
		conf = (mean - threshold) / (255 - threshold)
	}
	return grid.DetectedDot{
		Position:   grid.Vector2{X: b.sumX / n, Y: b.sumY / n},
		Intensity:  clamp01(mean / 255),
		Size:       2 * math.Sqrt(n/math.Pi),
		Confidence: clamp01(conf),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

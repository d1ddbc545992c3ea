package l1image

import (
	"errors"
	"fmt"

	"github.com/banshee-data/gridwatch/internal/grid"
)

// ErrEmptyImage is returned when a frame has no usable pixels.
var ErrEmptyImage = errors.New("empty image")

// ImageBuffer is a width×height grayscale intensity array, values 0-255.
// Buffers are owned per frame; filters always return a fresh buffer.
type ImageBuffer struct {
	Width  int
	Height int
	Pix    []float32 // row-major, len = Width*Height
}

// New allocates a zeroed buffer.
func New(width, height int) ImageBuffer {
	return ImageBuffer{Width: width, Height: height, Pix: make([]float32, width*height)}
}

// FromFrame copies a camera frame's intensity channel into a new buffer.
func FromFrame(f grid.CameraFrame) (ImageBuffer, error) {
	if !f.Valid() {
		return ImageBuffer{}, fmt.Errorf("%w: %dx%d with %d pixels", ErrEmptyImage, f.Width, f.Height, len(f.Pix))
	}
	img := New(f.Width, f.Height)
	for i, v := range f.Pix {
		img.Pix[i] = float32(v)
	}
	return img, nil
}

// Empty reports whether the buffer has no pixels.
func (b ImageBuffer) Empty() bool {
	return b.Width <= 0 || b.Height <= 0 || len(b.Pix) != b.Width*b.Height
}

// SameSize reports whether two buffers share dimensions.
func (b ImageBuffer) SameSize(o ImageBuffer) bool {
	return b.Width == o.Width && b.Height == o.Height
}

// Idx returns the Pix index of (x, y).
func (b ImageBuffer) Idx(x, y int) int { return y*b.Width + x }

// At returns the intensity at (x, y).
func (b ImageBuffer) At(x, y int) float32 { return b.Pix[b.Idx(x, y)] }

// Set writes the intensity at (x, y).
func (b ImageBuffer) Set(x, y int, v float32) { b.Pix[b.Idx(x, y)] = v }

// Clone returns a deep copy.
func (b ImageBuffer) Clone() ImageBuffer {
	out := ImageBuffer{Width: b.Width, Height: b.Height, Pix: make([]float32, len(b.Pix))}
	copy(out.Pix, b.Pix)
	return out
}

// NonZeroFraction returns the fraction of pixels with a non-zero value.
func (b ImageBuffer) NonZeroFraction() float64 {
	if len(b.Pix) == 0 {
		return 0
	}
	n := 0
	for _, v := range b.Pix {
		if v != 0 {
			n++
		}
	}
	return float64(n) / float64(len(b.Pix))
}

func clamp255(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

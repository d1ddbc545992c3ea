package l1image

import (
	"fmt"
	"math"
)

// GaussianKernel returns a normalised 1-D Gaussian kernel of odd size.
func GaussianKernel(size int, sigma float64) []float32 {
	if size < 1 {
		size = 1
	}
	if size%2 == 0 {
		size++
	}
	half := size / 2
	k := make([]float32, size)
	var sum float64
	for i := -half; i <= half; i++ {
		w := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		k[i+half] = float32(w)
		sum += w
	}
	for i := range k {
		k[i] = float32(float64(k[i]) / sum)
	}
	return k
}

// GaussianBlur smooths the image with a separable Gaussian kernel. Borders
// are handled by clamping coordinates to the image edge.
func GaussianBlur(img ImageBuffer, kernelSize int, sigma float64) ImageBuffer {
	if img.Empty() || kernelSize <= 1 || sigma <= 0 {
		return img.Clone()
	}
	k := GaussianKernel(kernelSize, sigma)
	half := len(k) / 2

	tmp := New(img.Width, img.Height)
	for y := 0; y < img.Height; y++ {
		row := y * img.Width
		for x := 0; x < img.Width; x++ {
			var acc float32
			for i, w := range k {
				sx := clampInt(x+i-half, 0, img.Width-1)
				acc += w * img.Pix[row+sx]
			}
			tmp.Pix[row+x] = acc
		}
	}

	out := New(img.Width, img.Height)
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			var acc float32
			for i, w := range k {
				sy := clampInt(y+i-half, 0, img.Height-1)
				acc += w * tmp.Pix[sy*img.Width+x]
			}
			out.Pix[y*img.Width+x] = acc
		}
	}
	return out
}

// SubtractBackground keeps pixels whose absolute difference from the
// background exceeds threshold and zeroes the rest.
func SubtractBackground(img, background ImageBuffer, threshold float32) (ImageBuffer, error) {
	if !img.SameSize(background) {
		return ImageBuffer{}, fmt.Errorf("background is %dx%d, frame is %dx%d",
			background.Width, background.Height, img.Width, img.Height)
	}
	out := New(img.Width, img.Height)
	for i, v := range img.Pix {
		d := v - background.Pix[i]
		if d < 0 {
			d = -d
		}
		if d > threshold {
			out.Pix[i] = v
		}
	}
	return out, nil
}

// EqualizeHistogram normalises global contrast through a cumulative
// distribution lookup table over 256 intensity bins.
func EqualizeHistogram(img ImageBuffer) ImageBuffer {
	if img.Empty() {
		return img.Clone()
	}
	var hist [256]int
	for _, v := range img.Pix {
		hist[bin(v)]++
	}

	var cdf [256]int
	running := 0
	cdfMin := 0
	for i, h := range hist {
		running += h
		cdf[i] = running
		if cdfMin == 0 && running > 0 {
			cdfMin = running
		}
	}

	total := len(img.Pix)
	if total == cdfMin {
		// Single intensity level: nothing to stretch.
		return img.Clone()
	}

	var lut [256]float32
	for i := range lut {
		if cdf[i] < cdfMin {
			continue
		}
		lut[i] = float32(math.Round(float64(cdf[i]-cdfMin) / float64(total-cdfMin) * 255))
	}

	out := New(img.Width, img.Height)
	for i, v := range img.Pix {
		out.Pix[i] = lut[bin(v)]
	}
	return out
}

func bin(v float32) int {
	return int(math.Round(float64(clamp255(v))))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

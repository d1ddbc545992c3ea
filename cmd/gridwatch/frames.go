package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"time"

	"github.com/banshee-data/gridwatch/internal/fsutil"
	"github.com/banshee-data/gridwatch/internal/grid"
)

// loadPattern reads a grid pattern from a JSON file of the form
// {"dots":[{"id":..., "expected_position":{"x":..,"y":..}, ...}]}.
func loadPattern(fs fsutil.FileSystem, path string) (grid.GridPattern, error) {
	var p grid.GridPattern
	data, err := fs.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read pattern: %w", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse pattern %s: %w", path, err)
	}
	if len(p.Dots) == 0 {
		return p, fmt.Errorf("pattern %s has no dots", path)
	}
	seen := make(map[string]bool, len(p.Dots))
	for i, d := range p.Dots {
		if d.ID == "" {
			return p, fmt.Errorf("pattern %s: dot %d has no id", path, i)
		}
		if seen[d.ID] {
			return p, fmt.Errorf("pattern %s: duplicate dot id %q", path, d.ID)
		}
		seen[d.ID] = true
	}
	return p, nil
}

// decodeFrame decodes an encoded image to an 8-bit grayscale frame.
func decodeFrame(data []byte, ts time.Time) (grid.CameraFrame, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return grid.CameraFrame{}, err
	}
	b := img.Bounds()
	f := grid.CameraFrame{
		Width:     b.Dx(),
		Height:    b.Dy(),
		Pix:       make([]uint8, b.Dx()*b.Dy()),
		Timestamp: ts,
	}
	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < f.Height; y++ {
			row := g.Pix[y*g.Stride : y*g.Stride+f.Width]
			copy(f.Pix[y*f.Width:], row)
		}
		return f, nil
	}
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			gray := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			f.Pix[y*f.Width+x] = gray.Y
		}
	}
	return f, nil
}

// frameSource yields decoded frames from a glob in lexical order, stamping
// them at a fixed rate from start.
type frameSource struct {
	fs       fsutil.FileSystem
	paths    []string
	start    time.Time
	interval time.Duration
	next     int
}

func newFrameSource(fs fsutil.FileSystem, pattern string, start time.Time, fps float64) (*frameSource, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("fps must be positive, got %v", fps)
	}
	paths, err := fs.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frames match %s", pattern)
	}
	return &frameSource{
		fs:       fs,
		paths:    paths,
		start:    start,
		interval: time.Duration(float64(time.Second) / fps),
	}, nil
}

func (s *frameSource) Len() int { return len(s.paths) }

// Next returns the next frame and its path. ok is false once the source is
// exhausted. A frame that fails to decode is returned as an empty frame so
// the detector still advances its counter.
func (s *frameSource) Next() (frame grid.CameraFrame, path string, ok bool, err error) {
	if s.next >= len(s.paths) {
		return grid.CameraFrame{}, "", false, nil
	}
	path = s.paths[s.next]
	ts := s.start.Add(time.Duration(s.next) * s.interval)
	s.next++

	data, err := s.fs.ReadFile(path)
	if err != nil {
		return grid.CameraFrame{Timestamp: ts}, path, true, fmt.Errorf("read %s: %w", path, err)
	}
	frame, err = decodeFrame(data, ts)
	if err != nil {
		return grid.CameraFrame{Timestamp: ts}, path, true, fmt.Errorf("decode %s: %w", path, err)
	}
	return frame, path, true, nil
}

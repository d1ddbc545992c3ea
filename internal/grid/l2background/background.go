package l2background

import (
	"github.com/banshee-data/gridwatch/internal/grid/l1image"
	"github.com/banshee-data/gridwatch/internal/monitoring"
)

// Model is an exponential moving average of past frames. The first frame
// seeds it directly; later frames blend in with weight alpha:
//
//	bg[i] = bg[i]·(1-α) + frame[i]·α
type Model struct {
	bg          l1image.ImageBuffer
	alpha       float32
	initialized bool
	updates     int64
}

// NewModel creates an empty model with learning rate alpha.
func NewModel(alpha float64) *Model {
	return &Model{alpha: float32(alpha)}
}

// SetLearningRate changes alpha for subsequent updates.
func (m *Model) SetLearningRate(alpha float64) { m.alpha = float32(alpha) }

// LearningRate returns the current alpha.
func (m *Model) LearningRate() float64 { return float64(m.alpha) }

// Update folds a frame into the model. An empty frame is rejected and
// leaves the model untouched. A frame whose size differs from the model
// re-seeds it, since the camera resolution changed.
func (m *Model) Update(img l1image.ImageBuffer) error {
	if img.Empty() {
		return l1image.ErrEmptyImage
	}
	if !m.initialized || !m.bg.SameSize(img) {
		if m.initialized {
			monitoring.Diagf("background model re-seeded: %dx%d -> %dx%d",
				m.bg.Width, m.bg.Height, img.Width, img.Height)
		}
		m.bg = img.Clone()
		m.initialized = true
		m.updates = 1
		return nil
	}
	keep := 1 - m.alpha
	for i, v := range img.Pix {
		m.bg.Pix[i] = m.bg.Pix[i]*keep + v*m.alpha
	}
	m.updates++
	return nil
}

// Background returns a copy of the current background and whether the
// model has been seeded.
func (m *Model) Background() (l1image.ImageBuffer, bool) {
	if !m.initialized {
		return l1image.ImageBuffer{}, false
	}
	return m.bg.Clone(), true
}

// Initialized reports whether the first frame has been seen.
func (m *Model) Initialized() bool { return m.initialized }

// Updates returns the number of frames folded in since the last seed.
func (m *Model) Updates() int64 { return m.updates }

// Reset discards the learned background.
func (m *Model) Reset() {
	m.bg = l1image.ImageBuffer{}
	m.initialized = false
	m.updates = 0
}

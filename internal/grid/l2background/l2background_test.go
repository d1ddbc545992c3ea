package l2background

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gridwatch/internal/grid"
	"github.com/banshee-data/gridwatch/internal/grid/l1image"
)

func filled(w, h int, v float32) l1image.ImageBuffer {
	img := l1image.New(w, h)
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func withDot(w, h, cx, cy int) l1image.ImageBuffer {
	img := filled(w, h, 10)
	for y := cy - 1; y <= cy+1; y++ {
		for x := cx - 1; x <= cx+1; x++ {
			img.Set(x, y, 240)
		}
	}
	return img
}

func TestModel_SeedAndBlend(t *testing.T) {
	m := NewModel(0.5)
	_, ok := m.Background()
	assert.False(t, ok)

	require.NoError(t, m.Update(filled(4, 4, 100)))
	assert.True(t, m.Initialized())
	bg, ok := m.Background()
	require.True(t, ok)
	assert.Equal(t, float32(100), bg.At(2, 2))

	require.NoError(t, m.Update(filled(4, 4, 200)))
	bg, _ = m.Background()
	assert.InDelta(t, 150, bg.At(0, 0), 1e-4)
	assert.Equal(t, int64(2), m.Updates())
}

func TestModel_EmptyFrameSkipped(t *testing.T) {
	m := NewModel(0.01)
	require.NoError(t, m.Update(filled(2, 2, 50)))

	err := m.Update(l1image.ImageBuffer{})
	assert.True(t, errors.Is(err, l1image.ErrEmptyImage))

	bg, ok := m.Background()
	require.True(t, ok)
	assert.Equal(t, float32(50), bg.At(1, 1))
}

func TestModel_ResizeReseeds(t *testing.T) {
	m := NewModel(0.1)
	require.NoError(t, m.Update(filled(2, 2, 50)))
	require.NoError(t, m.Update(filled(3, 3, 80)))
	bg, _ := m.Background()
	assert.Equal(t, 3, bg.Width)
	assert.Equal(t, float32(80), bg.At(2, 2))
}

func TestModel_Reset(t *testing.T) {
	m := NewModel(0.1)
	require.NoError(t, m.Update(filled(2, 2, 50)))
	m.Reset()
	assert.False(t, m.Initialized())
	assert.Equal(t, int64(0), m.Updates())
}

func TestModel_BackgroundIsCopy(t *testing.T) {
	m := NewModel(0.1)
	require.NoError(t, m.Update(filled(2, 2, 50)))
	bg, _ := m.Background()
	bg.Set(0, 0, 1)
	again, _ := m.Background()
	assert.Equal(t, float32(50), again.At(0, 0))
}

func TestPipeline_AllDisabledReturnsRaw(t *testing.T) {
	p := NewPipeline(grid.PreprocessParams{})
	img := withDot(9, 9, 4, 4)
	out, err := p.Run(img, nil)
	require.NoError(t, err)
	assert.Equal(t, img.Pix, out.Pix)

	out.Set(4, 4, 0)
	assert.Equal(t, float32(240), img.At(4, 4), "output must not alias input")
}

func TestPipeline_StaticSceneQuiescent(t *testing.T) {
	params := grid.PreprocessParams{
		BlurEnabled:                  true,
		BlurKernelSize:               5,
		BlurSigma:                    1,
		BackgroundSubtractionEnabled: true,
		BackgroundThreshold:          30,
	}
	m := NewModel(0.01)
	p := NewPipeline(params)

	frame := withDot(16, 16, 8, 8)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Update(frame))
		bg, ok := m.Background()
		require.True(t, ok)
		out, err := p.Run(frame, &bg)
		require.NoError(t, err)
		assert.Equal(t, 0.0, out.NonZeroFraction())
	}
}

func TestPipeline_SubtractionSkippedWithoutBackground(t *testing.T) {
	p := NewPipeline(grid.PreprocessParams{BackgroundSubtractionEnabled: true, BackgroundThreshold: 30})
	img := withDot(9, 9, 4, 4)
	out, err := p.Run(img, nil)
	require.NoError(t, err)
	assert.Equal(t, img.Pix, out.Pix)
}

func TestPipeline_SubtractionMismatchIsNonFatal(t *testing.T) {
	p := NewPipeline(grid.PreprocessParams{
		BackgroundSubtractionEnabled: true,
		BackgroundThreshold:          30,
		HistogramEqualizationEnabled: true,
	})
	img := withDot(9, 9, 4, 4)
	bg := filled(4, 4, 10)
	out, err := p.Run(img, &bg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "background_subtraction")
	// Equalization still ran.
	assert.Equal(t, float32(255), out.At(4, 4))
	assert.Equal(t, float32(0), out.At(0, 0))
}

func TestPipeline_ForegroundAppears(t *testing.T) {
	p := NewPipeline(grid.PreprocessParams{BackgroundSubtractionEnabled: true, BackgroundThreshold: 30})
	bg := filled(9, 9, 10)
	out, err := p.Run(withDot(9, 9, 4, 4), &bg)
	require.NoError(t, err)
	assert.InDelta(t, 9.0/81.0, out.NonZeroFraction(), 1e-9)
}

func TestStepKind_String(t *testing.T) {
	assert.Equal(t, "gaussian_blur", StepBlur.String())
	assert.Equal(t, "step(9)", StepKind(9).String())
}

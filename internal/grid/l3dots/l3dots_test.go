package l3dots

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gridwatch/internal/grid"
	"github.com/banshee-data/gridwatch/internal/grid/l1image"
	"github.com/banshee-data/gridwatch/internal/testutil"
	"github.com/banshee-data/gridwatch/internal/timeutil"
)

func bufferOf(t *testing.T, f grid.CameraFrame) l1image.ImageBuffer {
	t.Helper()
	img, err := l1image.FromFrame(f)
	require.NoError(t, err)
	return img
}

func defaultParams() grid.DetectionParams {
	return grid.DefaultDetectionSettings().Detection
}

func TestDetectBlobs_DarkFrameHasNoCandidates(t *testing.T) {
	t.Parallel()
	img := bufferOf(t, testutil.RenderFrame(64, 48, 20))
	assert.Empty(t, DetectBlobs(img, defaultParams().Blob))
	assert.Empty(t, NewDetector(defaultParams(), nil).Detect(img))
}

func TestDetectBlobs_RenderedPattern(t *testing.T) {
	t.Parallel()
	p := testutil.SquarePattern(2, 2, grid.Vector2{X: 30, Y: 30}, 40, 0.9)
	img := bufferOf(t, testutil.RenderPattern(p, testutil.DefaultRenderOptions()))

	blobs := DetectBlobs(img, defaultParams().Blob)
	require.Len(t, blobs, 4)

	wantSize := 2 * math.Sqrt(29/math.Pi) // radius-3 disc covers 29 pixels
	for _, b := range blobs {
		assert.InDelta(t, wantSize, b.Size, 1e-9)
		assert.InDelta(t, 230.0/255.0, b.Intensity, 1e-6)
		assert.InDelta(t, (230.0-80.0)/(255.0-80.0), b.Confidence, 1e-6)
	}
	assert.Equal(t, grid.Vector2{X: 30, Y: 30}, blobs[0].Position)
}

func nearestID(p grid.GridPattern, pos grid.Vector2) string {
	best, id := math.Inf(1), ""
	for _, d := range p.Dots {
		if dist := d.ExpectedPosition.Dist(pos); dist < best {
			best, id = dist, d.ID
		}
	}
	return id
}

func TestDetectBlobs_AreaLimits(t *testing.T) {
	t.Parallel()
	img := l1image.New(40, 40)
	img.Set(2, 2, 255) // area 1
	for y := 10; y < 40; y++ {
		for x := 10; x < 40; x++ {
			img.Set(x, y, 255) // area 900
		}
	}
	params := grid.BlobParams{Enabled: true, Weight: 1, MinThreshold: 80, MinArea: 4, MaxArea: 500}
	assert.Empty(t, DetectBlobs(img, params))

	params.MaxArea = 1000
	blobs := DetectBlobs(img, params)
	require.Len(t, blobs, 1)
	assert.Equal(t, grid.Vector2{X: 24.5, Y: 24.5}, blobs[0].Position)
}

func TestDetectBlobs_FourConnected(t *testing.T) {
	t.Parallel()
	img := l1image.New(4, 4)
	img.Set(1, 1, 200)
	img.Set(2, 2, 200)
	params := grid.BlobParams{Enabled: true, Weight: 1, MinThreshold: 80, MinArea: 1, MaxArea: 10}
	assert.Len(t, DetectBlobs(img, params), 2, "diagonal neighbours are separate blobs")

	img.Set(2, 1, 200)
	assert.Len(t, DetectBlobs(img, params), 1)
}

func TestMatchTemplate(t *testing.T) {
	t.Parallel()
	img := bufferOf(t, testutil.RenderFrame(40, 40, 10,
		testutil.Spot{Center: grid.Vector2{X: 12, Y: 12}, Radius: 3, Level: 230},
		testutil.Spot{Center: grid.Vector2{X: 27, Y: 25}, Radius: 3, Level: 230},
	))
	dots, err := MatchTemplate(img, defaultParams().Template)
	require.NoError(t, err)
	require.Len(t, dots, 2)
	assert.Equal(t, grid.Vector2{X: 12, Y: 12}, dots[0].Position)
	assert.Equal(t, grid.Vector2{X: 27, Y: 25}, dots[1].Position)
	assert.Greater(t, dots[0].Confidence, 0.8)
	assert.InDelta(t, 230.0/255.0, dots[0].Intensity, 1e-6)
}

func TestMatchTemplate_FlatImage(t *testing.T) {
	t.Parallel()
	dots, err := MatchTemplate(bufferOf(t, testutil.RenderFrame(20, 20, 50)), defaultParams().Template)
	require.NoError(t, err)
	assert.Empty(t, dots)

	_, err = MatchTemplate(l1image.ImageBuffer{}, defaultParams().Template)
	assert.True(t, errors.Is(err, l1image.ErrEmptyImage))
}

func TestAlgorithm_OpticalFlowNotImplemented(t *testing.T) {
	t.Parallel()
	img := bufferOf(t, testutil.RenderFrame(8, 8, 0))
	_, err := AlgorithmOpticalFlow.Detect(img, defaultParams())
	assert.True(t, errors.Is(err, ErrNotImplemented))
	assert.Equal(t, "optical_flow", AlgorithmOpticalFlow.String())
}

func TestDetector_WeightsAndDegradation(t *testing.T) {
	t.Parallel()
	p := testutil.SquarePattern(1, 2, grid.Vector2{X: 30, Y: 30}, 60, 0.9)
	img := bufferOf(t, testutil.RenderPattern(p, testutil.DefaultRenderOptions()))

	params := defaultParams()
	params.Blob.Weight = 0.5
	params.OpticalFlow.Enabled = true

	clock := timeutil.NewMockClock(time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC))
	clock.SetAutoStep(2 * time.Millisecond)
	d := NewDetector(params, clock)
	dots := d.Detect(img)
	require.Len(t, dots, 2)
	want := 0.5 * (230.0 - 80.0) / (255.0 - 80.0)
	assert.InDelta(t, want, dots[0].Confidence, 1e-6)

	require.Len(t, d.LastResults, 2)
	assert.Equal(t, AlgorithmBlob, d.LastResults[0].Algorithm)
	assert.Equal(t, 2, d.LastResults[0].Candidates)
	assert.Equal(t, 2*time.Millisecond, d.LastResults[0].ProcessingTime)
	assert.True(t, errors.Is(d.LastResults[1].Err, ErrNotImplemented))
}

func TestDetector_BlobAndTemplateMerge(t *testing.T) {
	t.Parallel()
	p := testutil.SquarePattern(2, 2, grid.Vector2{X: 30, Y: 30}, 50, 0.9)
	img := bufferOf(t, testutil.RenderPattern(p, testutil.DefaultRenderOptions()))

	params := defaultParams()
	params.Template.Enabled = true
	dots := NewDetector(params, nil).Detect(img)
	require.Len(t, dots, 4, "blob and template hits on the same dot merge")
	for _, d := range dots {
		want, ok := p.Lookup(nearestID(p, d.Position))
		require.True(t, ok)
		assert.Equal(t, want.ExpectedPosition, d.Position)
	}
}

func TestMergeCandidates(t *testing.T) {
	t.Parallel()

	t.Run("transitive chain", func(t *testing.T) {
		dots := []grid.DetectedDot{
			{Position: grid.Vector2{X: 0}, Intensity: 0.2, Size: 2, Confidence: 0.1},
			{Position: grid.Vector2{X: 15}, Intensity: 0.4, Size: 4, Confidence: 0.9},
			{Position: grid.Vector2{X: 30}, Intensity: 0.6, Size: 6, Confidence: 0.5},
		}
		got := MergeCandidates(dots, 20)
		require.Len(t, got, 1)
		assert.InDelta(t, 15, got[0].Position.X, 1e-9)
		assert.InDelta(t, 0.4, got[0].Intensity, 1e-9)
		assert.InDelta(t, 4, got[0].Size, 1e-9)
		assert.Equal(t, 0.9, got[0].Confidence)
	})

	t.Run("far apart stay separate", func(t *testing.T) {
		dots := []grid.DetectedDot{
			{Position: grid.Vector2{X: 100, Y: 5}},
			{Position: grid.Vector2{X: 0, Y: 5}},
		}
		got := MergeCandidates(dots, 20)
		require.Len(t, got, 2)
		assert.Equal(t, 0.0, got[0].Position.X, "sorted by position")
	})

	t.Run("averaged groups merge again", func(t *testing.T) {
		dots := []grid.DetectedDot{
			{Position: grid.Vector2{X: 0, Y: 10}},
			{Position: grid.Vector2{X: 0, Y: -10}},
			{Position: grid.Vector2{X: 19, Y: 0}},
		}
		got := MergeCandidates(dots, 20)
		require.Len(t, got, 1)
		assert.InDelta(t, 19.0/3.0, got[0].Position.X, 1e-9)
		assert.InDelta(t, 0, got[0].Position.Y, 1e-9)
	})

	t.Run("later passes weight groups by member count", func(t *testing.T) {
		// The first two merge on the first pass; the third only reaches
		// their mean on the second.
		dots := []grid.DetectedDot{
			{Position: grid.Vector2{X: 0, Y: 0}, Intensity: 0.2, Size: 4, Confidence: 0.3},
			{Position: grid.Vector2{X: 20, Y: 0}, Intensity: 0.4, Size: 4, Confidence: 0.5},
			{Position: grid.Vector2{X: 10, Y: 18}, Intensity: 0.9, Size: 7, Confidence: 0.4},
		}
		got := MergeCandidates(dots, 20)
		require.Len(t, got, 1)
		assert.InDelta(t, 10, got[0].Position.X, 1e-9)
		assert.InDelta(t, 6, got[0].Position.Y, 1e-9)
		assert.InDelta(t, 0.5, got[0].Intensity, 1e-9)
		assert.InDelta(t, 5, got[0].Size, 1e-9)
		assert.Equal(t, 0.5, got[0].Confidence)
	})

	t.Run("input is not modified", func(t *testing.T) {
		dots := []grid.DetectedDot{{Position: grid.Vector2{X: 1}}, {Position: grid.Vector2{X: 2}}}
		MergeCandidates(dots, 20)
		assert.Equal(t, 1.0, dots[0].Position.X)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, MergeCandidates(nil, 20))
	})
}

func TestMergeCandidates_Idempotent(t *testing.T) {
	t.Parallel()
	dots := []grid.DetectedDot{
		{Position: grid.Vector2{X: 3, Y: 4}, Intensity: 0.5, Size: 5, Confidence: 0.3},
		{Position: grid.Vector2{X: 10, Y: 4}, Intensity: 0.7, Size: 7, Confidence: 0.8},
		{Position: grid.Vector2{X: 60, Y: 4}, Intensity: 0.9, Size: 6, Confidence: 0.6},
		{Position: grid.Vector2{X: 64, Y: 20}, Intensity: 0.1, Size: 3, Confidence: 0.2},
		{Position: grid.Vector2{X: 120, Y: 90}, Intensity: 0.4, Size: 8, Confidence: 0.9},
	}
	once := MergeCandidates(dots, 20)
	twice := MergeCandidates(once, 20)
	if diff := cmp.Diff(once, twice, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("merge not idempotent (-once +twice):\n%s", diff)
	}
	assert.Len(t, once, 3)
}

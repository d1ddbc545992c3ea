package pipeline

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gridwatch/internal/grid"
	"github.com/banshee-data/gridwatch/internal/testutil"
	"github.com/banshee-data/gridwatch/internal/timeutil"
)

var t0 = time.Date(2026, 10, 16, 8, 30, 0, 0, time.UTC)

// The blurred radius-3 dots the fixtures render read back at ~0.61.
const fixtureIntensity = 0.6

var fixtureOffset = grid.Vector2{X: 6, Y: -4}

func fixturePattern() grid.GridPattern {
	return testutil.SquarePattern(4, 4, grid.Vector2{X: 20, Y: 15}, 30, fixtureIntensity)
}

func renderAt(k int, p grid.GridPattern, mutate func(*testutil.RenderOptions)) grid.CameraFrame {
	opts := testutil.DefaultRenderOptions()
	opts.Offset = fixtureOffset
	if mutate != nil {
		mutate(&opts)
	}
	f := testutil.RenderPattern(p, opts)
	f.Timestamp = t0.Add(time.Duration(k) * 100 * time.Millisecond)
	return f
}

func omit(ids ...string) func(*testutil.RenderOptions) {
	return func(o *testutil.RenderOptions) { o.Omit = ids }
}

func newTestDetector(t *testing.T, mutate func(*grid.DetectionSettings)) (*Detector, *timeutil.MockClock) {
	t.Helper()
	s := grid.DefaultDetectionSettings()
	if mutate != nil {
		mutate(&s)
	}
	clock := timeutil.NewMockClock(t0)
	clock.SetAutoStep(5 * time.Millisecond)
	d, err := NewDetector(s, WithClock(clock), WithRand(rand.New(rand.NewSource(11))))
	require.NoError(t, err)
	return d, clock
}

type recorder struct {
	mu  sync.Mutex
	got []grid.GridDisturbance
}

func (r *recorder) listen(d grid.GridDisturbance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, d)
}

func (r *recorder) events() []grid.GridDisturbance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]grid.GridDisturbance(nil), r.got...)
}

func ptr[T any](v T) *T { return &v }

func TestNewDetector_RejectsInvalidSettings(t *testing.T) {
	s := grid.DefaultDetectionSettings()
	s.BackgroundLearningRate = 0
	_, err := NewDetector(s)
	assert.True(t, errors.Is(err, grid.ErrInvalidSettings))
}

func TestProcessFrame_StaticSceneCalibratesQuietly(t *testing.T) {
	d, _ := newTestDetector(t, nil)
	p := fixturePattern()
	var rec recorder
	d.AddListener(rec.listen)

	for k := 1; k <= 5; k++ {
		out := d.ProcessFrame(renderAt(k, p, nil), p)
		require.NotNil(t, out)
		assert.Equal(t, int64(k), out.FrameNumber)
		assert.Len(t, out.DetectedDots, 16)
		assert.Empty(t, out.Disturbances, "frame %d", k)
		// One auto-step for the frame and one for the blob pass.
		assert.Equal(t, 10*time.Millisecond, out.ProcessingTime)
		require.NotNil(t, out.Alignment)
	}

	assert.True(t, d.IsCalibrated())
	a := d.Alignment()
	require.NotNil(t, a)
	assert.InDelta(t, 6, a.Translation.X, 1e-6)
	assert.InDelta(t, -4, a.Translation.Y, 1e-6)
	assert.InDelta(t, 1, a.Confidence, 1e-6)
	assert.Equal(t, int64(5), d.FrameCount())
	assert.Len(t, d.FrameHistory(), 5)
	assert.Empty(t, rec.events())
}

func TestProcessFrame_MatchesAreWrittenBack(t *testing.T) {
	d, _ := newTestDetector(t, nil)
	p := fixturePattern()
	out := d.ProcessFrame(renderAt(1, p, nil), p)
	for _, dot := range out.DetectedDots {
		assert.True(t, dot.Matched)
		assert.NotEmpty(t, dot.ID)
		require.NotNil(t, dot.Displacement)
		assert.InDelta(t, 0, dot.Displacement.Len(), 1e-6)
	}
}

func TestProcessFrame_Occlusion(t *testing.T) {
	d, _ := newTestDetector(t, nil)
	p := fixturePattern()
	var rec recorder
	d.AddListener(rec.listen)

	missing := testutil.DotID(1, 1)
	d.ProcessFrame(renderAt(1, p, nil), p)
	out := d.ProcessFrame(renderAt(2, p, omit(missing)), p)

	require.Len(t, out.Disturbances, 1)
	dist := out.Disturbances[0]
	assert.Equal(t, grid.DotOcclusion, dist.Type)
	assert.Equal(t, []string{missing}, dist.AffectedDots)
	assert.InDelta(t, 56, dist.Position.X, 1e-6)
	assert.InDelta(t, 41, dist.Position.Y, 1e-6)
	assert.Equal(t, int64(2), dist.FrameNumber)
	assert.Equal(t, time.Duration(0), dist.Duration)

	events := rec.events()
	require.Len(t, events, 1)
	assert.Equal(t, dist.ID, events[0].ID)
	assert.Len(t, d.DisturbanceHistory(), 1)
}

func TestProcessFrame_Displacement(t *testing.T) {
	d, _ := newTestDetector(t, nil)
	p := fixturePattern()
	moved := testutil.DotID(2, 2)

	d.ProcessFrame(renderAt(1, p, nil), p)
	out := d.ProcessFrame(renderAt(2, p, func(o *testutil.RenderOptions) {
		o.Move = map[string]grid.Vector2{moved: {X: 12}}
	}), p)

	require.Len(t, out.Disturbances, 1)
	dist := out.Disturbances[0]
	assert.Equal(t, grid.DotDisplacement, dist.Type)
	assert.Equal(t, []string{moved}, dist.AffectedDots)
	assert.InDelta(t, 12.0/50.0, dist.Intensity, 1e-6)
	require.NotNil(t, dist.Metadata.VelocityVector)
	assert.InDelta(t, 12, dist.Metadata.VelocityVector.X, 1e-6)
}

func TestProcessFrame_DurationTracksPersistence(t *testing.T) {
	d, _ := newTestDetector(t, nil)
	p := fixturePattern()
	missing := testutil.DotID(3, 0)

	d.ProcessFrame(renderAt(1, p, nil), p)
	var last *grid.ProcessedFrame
	for k := 2; k <= 4; k++ {
		last = d.ProcessFrame(renderAt(k, p, omit(missing)), p)
	}
	require.Len(t, last.Disturbances, 1)
	assert.Equal(t, 200*time.Millisecond, last.Disturbances[0].Duration)
}

func TestProcessFrame_TemporalFilter(t *testing.T) {
	d, _ := newTestDetector(t, func(s *grid.DetectionSettings) {
		s.Validation.TemporalEnabled = true
		s.Validation.MinPersistenceFrames = 2
	})
	p := fixturePattern()
	missing := testutil.DotID(0, 3)

	d.ProcessFrame(renderAt(1, p, nil), p)
	second := d.ProcessFrame(renderAt(2, p, omit(missing)), p)
	assert.Len(t, second.Candidates, 1)
	assert.Empty(t, second.Disturbances, "first sighting is not yet persistent")

	third := d.ProcessFrame(renderAt(3, p, omit(missing)), p)
	require.Len(t, third.Disturbances, 1)
	assert.Equal(t, grid.DotOcclusion, third.Disturbances[0].Type)
}

func TestProcessFrame_FailedRecalibrationKeepsAlignment(t *testing.T) {
	d, _ := newTestDetector(t, func(s *grid.DetectionSettings) {
		s.Calibration.Interval = 2
	})
	p := fixturePattern()

	d.ProcessFrame(renderAt(1, p, nil), p)
	before := d.Alignment()
	require.NotNil(t, before)
	d.ProcessFrame(renderAt(2, p, nil), p)

	// Frame 3 is due for recalibration and sees no dots.
	blank := testutil.RenderFrame(160, 120, 10)
	blank.Timestamp = t0.Add(300 * time.Millisecond)
	d.ProcessFrame(blank, p)
	assert.Equal(t, before, d.Alignment())
	assert.True(t, d.IsCalibrated())

	// A successful recalibration replaces the alignment.
	shifted := func(o *testutil.RenderOptions) { o.Offset = grid.Vector2{X: 10, Y: -4} }
	d.ProcessFrame(renderAt(4, p, shifted), p)
	d.ProcessFrame(renderAt(5, p, shifted), p)
	after := d.Alignment()
	require.NotNil(t, after)
	assert.InDelta(t, 10, after.Translation.X, 1e-6)
}

func TestProcessFrame_RecalibrationIntervalCountsFromLastAttempt(t *testing.T) {
	d, _ := newTestDetector(t, func(s *grid.DetectionSettings) {
		s.Calibration.Interval = 3
	})
	p := fixturePattern()
	shifted := func(o *testutil.RenderOptions) { o.Offset = grid.Vector2{X: 10, Y: -4} }

	blank := testutil.RenderFrame(160, 120, 10)
	blank.Timestamp = t0.Add(100 * time.Millisecond)
	d.ProcessFrame(blank, p)
	require.False(t, d.IsCalibrated())

	// First success on frame 2; the next attempt is due on frame 5.
	d.ProcessFrame(renderAt(2, p, nil), p)
	require.True(t, d.IsCalibrated())
	for k := 3; k <= 4; k++ {
		d.ProcessFrame(renderAt(k, p, shifted), p)
		assert.InDelta(t, 6, d.Alignment().Translation.X, 1e-6, "frame %d", k)
	}
	d.ProcessFrame(renderAt(5, p, shifted), p)
	assert.InDelta(t, 10, d.Alignment().Translation.X, 1e-6)
}

func TestProcessFrame_SnapshotOwnsPixels(t *testing.T) {
	d, _ := newTestDetector(t, nil)
	p := fixturePattern()
	frame := renderAt(1, p, nil)
	want := append([]uint8(nil), frame.Pix...)

	out := d.ProcessFrame(frame, p)
	for i := range frame.Pix {
		frame.Pix[i] = 0
	}
	assert.Equal(t, want, out.Original.Pix)
	assert.Equal(t, want, d.FrameHistory()[0].Original.Pix)
}

func TestProcessFrame_EmptyFrameAdvancesCounter(t *testing.T) {
	d, _ := newTestDetector(t, nil)
	out := d.ProcessFrame(grid.CameraFrame{Width: 10, Height: 10}, fixturePattern())
	require.NotNil(t, out)
	assert.Equal(t, int64(1), out.FrameNumber)
	assert.Empty(t, out.DetectedDots)
	assert.Empty(t, out.Disturbances)
	assert.Nil(t, out.Alignment)
	assert.Equal(t, t0, out.Timestamp, "missing timestamp falls back to the clock")
	assert.Equal(t, int64(1), d.FrameCount())
	assert.Len(t, d.FrameHistory(), 1)
}

func TestProcessFrame_BackgroundSubtractionQuiescence(t *testing.T) {
	d, _ := newTestDetector(t, func(s *grid.DetectionSettings) {
		s.Preprocess.BackgroundSubtractionEnabled = true
	})
	p := fixturePattern()
	for k := 1; k <= 3; k++ {
		out := d.ProcessFrame(renderAt(k, p, nil), p)
		assert.Equal(t, 0.0, out.ForegroundRatio, "frame %d", k)
		assert.Empty(t, out.DetectedDots)
	}
}

func TestReset(t *testing.T) {
	d, _ := newTestDetector(t, nil)
	p := fixturePattern()
	var rec recorder
	d.AddListener(rec.listen)
	d.ProcessFrame(renderAt(1, p, nil), p)
	d.ProcessFrame(renderAt(2, p, omit(testutil.DotID(0, 0))), p)
	require.True(t, d.IsCalibrated())
	require.NotEmpty(t, d.DisturbanceHistory())

	d.Reset()
	assert.Equal(t, int64(0), d.FrameCount())
	assert.False(t, d.IsCalibrated())
	assert.Nil(t, d.Alignment())
	assert.Empty(t, d.FrameHistory())
	assert.Empty(t, d.DisturbanceHistory())
	assert.Equal(t, 1, d.ListenerCount(), "reset keeps listeners")

	out := d.ProcessFrame(renderAt(3, p, nil), p)
	assert.Equal(t, int64(1), out.FrameNumber)
}

func TestUpdateSettings_StagedUntilNextFrame(t *testing.T) {
	d, _ := newTestDetector(t, nil)
	p := fixturePattern()
	var rec recorder
	d.AddListener(rec.listen)
	d.ProcessFrame(renderAt(1, p, nil), p)

	require.NoError(t, d.UpdateSettings(grid.SettingsPatch{MinimumDisturbanceSize: ptr(90.0)}))
	assert.Equal(t, 90.0, d.Settings().MinimumDisturbanceSize)
	assert.Equal(t, 0.9, d.Settings().EmissionThreshold())

	out := d.ProcessFrame(renderAt(2, p, omit(testutil.DotID(2, 1))), p)
	require.Len(t, out.Disturbances, 1, "still validated")
	assert.Empty(t, rec.events(), "0.8 does not exceed 0.9")
	assert.Len(t, d.DisturbanceHistory(), 1)
}

func TestUpdateSettings_Invalid(t *testing.T) {
	d, _ := newTestDetector(t, nil)

	err := d.UpdateSettings(grid.SettingsPatch{BlurKernelSize: ptr(4)})
	assert.True(t, errors.Is(err, grid.ErrInvalidSettings))

	err = d.UpdateSettings(grid.SettingsPatch{BlobMinArea: ptr(2000)})
	assert.True(t, errors.Is(err, grid.ErrInvalidSettings))

	assert.Equal(t, grid.DefaultDetectionSettings(), d.Settings())
}

func TestUpdateSettings_Merges(t *testing.T) {
	d, _ := newTestDetector(t, nil)
	require.NoError(t, d.UpdateSettings(grid.SettingsPatch{MotionThreshold: ptr(8.0)}))
	require.NoError(t, d.UpdateSettings(grid.SettingsPatch{MatchRadius: ptr(25.0)}))
	s := d.Settings()
	assert.Equal(t, 8.0, s.Classification.MotionThreshold)
	assert.Equal(t, 25.0, s.Classification.MatchRadius)
	assert.Equal(t, 0.2, s.Classification.IntensityChangeThreshold)
}

func TestListeners(t *testing.T) {
	d, _ := newTestDetector(t, nil)
	p := fixturePattern()
	var a, b recorder
	idA := d.AddListener(a.listen)
	d.AddListener(func(grid.GridDisturbance) { panic("boom") })
	idB := d.AddListener(b.listen)
	assert.Equal(t, 3, d.ListenerCount())

	d.ProcessFrame(renderAt(1, p, nil), p)
	d.ProcessFrame(renderAt(2, p, omit(testutil.DotID(1, 2))), p)
	assert.Len(t, a.events(), 1)
	assert.Len(t, b.events(), 1, "a panicking listener does not stop delivery")

	assert.True(t, d.RemoveListener(idA))
	assert.False(t, d.RemoveListener(idA))
	d.ProcessFrame(renderAt(3, p, omit(testutil.DotID(1, 2))), p)
	assert.Len(t, a.events(), 1)
	assert.Len(t, b.events(), 2)
	assert.NotEqual(t, idA, idB)

	d.Dispose()
	assert.Equal(t, 0, d.ListenerCount())
	assert.Equal(t, int64(0), d.FrameCount())
}

func TestHistoryBounds(t *testing.T) {
	d, _ := newTestDetector(t, func(s *grid.DetectionSettings) {
		s.FrameHistorySize = 3
		s.DisturbanceHistorySize = 4
	})
	p := fixturePattern()
	d.ProcessFrame(renderAt(1, p, nil), p)
	for k := 2; k <= 6; k++ {
		d.ProcessFrame(renderAt(k, p, omit(testutil.DotID(0, 0))), p)
	}
	frames := d.FrameHistory()
	require.Len(t, frames, 3)
	assert.Equal(t, int64(4), frames[0].FrameNumber)
	assert.Equal(t, int64(6), frames[2].FrameNumber)
	assert.Len(t, d.DisturbanceHistory(), 4)
}

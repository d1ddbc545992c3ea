package pipeline

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/gridwatch/internal/grid"
	"github.com/banshee-data/gridwatch/internal/grid/l1image"
	"github.com/banshee-data/gridwatch/internal/grid/l2background"
	"github.com/banshee-data/gridwatch/internal/grid/l3dots"
	"github.com/banshee-data/gridwatch/internal/grid/l4align"
	"github.com/banshee-data/gridwatch/internal/grid/l5match"
	"github.com/banshee-data/gridwatch/internal/grid/l6validate"
	"github.com/banshee-data/gridwatch/internal/monitoring"
	"github.com/banshee-data/gridwatch/internal/timeutil"
)

// Listener receives every emitted disturbance. It runs on the goroutine
// that called ProcessFrame, after the frame has been fully processed.
type Listener func(grid.GridDisturbance)

type listenerEntry struct {
	id string
	fn Listener
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock sets the clock used for processing-time measurement and for
// stamping frames that arrive without a timestamp.
func WithClock(c timeutil.Clock) Option {
	return func(d *Detector) { d.clock = c }
}

// WithRand sets the random source for calibration sampling, overriding
// DetectionSettings.RandomSeed.
func WithRand(r *rand.Rand) Option {
	return func(d *Detector) { d.rng = r }
}

// Detector runs the disturbance pipeline over a stream of frames.
//
// ProcessFrame, Reset and the state accessors serialise on an internal
// lock, but frames are expected to arrive from a single goroutine in
// order. Settings changes are staged and take effect at the start of the
// next frame.
type Detector struct {
	frameMu sync.Mutex // guards everything below up to the listener block

	settings   grid.DetectionSettings
	clock      timeutil.Clock
	rng        *rand.Rand
	background *l2background.Model
	preprocess *l2background.Pipeline
	dots       *l3dots.Detector
	calibrator *l4align.Calibrator
	validator  *l6validate.Pipeline
	history    *grid.DetectionContext

	frameCount       int64
	calibrated       bool
	alignment        *grid.GridAlignment
	lastCalibAttempt int64 // frame number of the last calibration attempt

	mu        sync.Mutex // guards pending and listeners
	pending   *grid.DetectionSettings
	listeners []listenerEntry
}

// NewDetector creates a detector with the given settings.
func NewDetector(settings grid.DetectionSettings, opts ...Option) (*Detector, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	d := &Detector{settings: settings}
	for _, opt := range opts {
		opt(d)
	}
	if d.clock == nil {
		d.clock = timeutil.RealClock{}
	}
	if d.rng == nil {
		seed := settings.RandomSeed
		if seed == 0 {
			seed = d.clock.Now().UnixNano()
		}
		d.rng = rand.New(rand.NewSource(seed))
	}

	d.background = l2background.NewModel(settings.BackgroundLearningRate)
	d.history = grid.NewDetectionContext(settings.FrameHistorySize, settings.DisturbanceHistorySize)
	d.configure()
	return d, nil
}

// configure rebuilds the per-layer stages from d.settings. The learned
// background and histories are kept.
func (d *Detector) configure() {
	s := d.settings
	d.background.SetLearningRate(s.BackgroundLearningRate)
	d.preprocess = l2background.NewPipeline(s.Preprocess)
	d.dots = l3dots.NewDetector(s.Detection, d.clock)
	d.calibrator = l4align.NewCalibrator(s.Calibration, d.rng)
	d.validator = l6validate.NewPipeline(s.Validation, d.history.Frames)
}

// applyPending swaps in staged settings, if any. Called with frameMu held.
func (d *Detector) applyPending() {
	d.mu.Lock()
	next := d.pending
	d.pending = nil
	d.mu.Unlock()
	if next == nil {
		return
	}

	prev := d.settings
	d.settings = *next
	if next.FrameHistorySize != prev.FrameHistorySize || next.DisturbanceHistorySize != prev.DisturbanceHistorySize {
		d.history = grid.NewDetectionContext(next.FrameHistorySize, next.DisturbanceHistorySize)
		monitoring.Opsf("history resized to %d frames / %d disturbances; previous history dropped",
			next.FrameHistorySize, next.DisturbanceHistorySize)
	}
	d.configure()
	monitoring.Opsf("detection settings applied at frame %d", d.frameCount+1)
}

// ProcessFrame runs the pipeline over one frame. pattern is read fresh on
// every call. The returned frame is also kept in the frame history and
// must not be modified.
//
// ProcessFrame never fails: an unusable frame still advances the frame
// counter and yields a ProcessedFrame without detections.
func (d *Detector) ProcessFrame(frame grid.CameraFrame, pattern grid.GridPattern) *grid.ProcessedFrame {
	start := d.clock.Now()
	out, emit := d.process(frame, pattern, start)
	d.notify(emit)
	return out
}

func (d *Detector) process(frame grid.CameraFrame, pattern grid.GridPattern, start time.Time) (*grid.ProcessedFrame, []grid.GridDisturbance) {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()

	d.applyPending()
	d.frameCount++
	n := d.frameCount

	ts := frame.Timestamp
	if ts.IsZero() {
		ts = start
	}
	// The snapshot owns its pixels; capture buffers are often reused.
	original := frame
	original.Pix = append([]uint8(nil), frame.Pix...)
	out := &grid.ProcessedFrame{FrameNumber: n, Original: original, Timestamp: ts}
	defer func() {
		out.Alignment = d.currentAlignment()
		out.ProcessingTime = d.clock.Since(start)
		d.history.Frames.Add(out)
	}()

	img, err := l1image.FromFrame(frame)
	if err != nil {
		monitoring.Diagf("frame %d skipped: %v", n, err)
		return out, nil
	}

	if err := d.background.Update(img); err != nil {
		monitoring.Diagf("frame %d: background update failed: %v", n, err)
	}
	var bgRef *l1image.ImageBuffer
	if bg, ok := d.background.Background(); ok {
		bgRef = &bg
	}
	pre, err := d.preprocess.Run(img, bgRef)
	if err != nil {
		monitoring.Diagf("frame %d: preprocessing degraded: %v", n, err)
	}
	out.ForegroundRatio = pre.NonZeroFraction()

	dots := d.dots.Detect(pre)
	d.maybeCalibrate(n, dots, pattern)

	matches := l5match.MatchDots(dots, pattern, d.alignment, d.settings.Classification.MatchRadius)
	candidates := l5match.Classify(matches, dots, d.settings.Classification, l5match.FrameInfo{Number: n, Timestamp: ts})
	d.stampDurations(candidates, ts)

	validated := d.validator.Run(candidates)
	d.history.Disturbances.Append(validated...)

	out.DetectedDots = dots
	out.Candidates = candidates
	out.Disturbances = validated

	threshold := d.settings.EmissionThreshold()
	var emit []grid.GridDisturbance
	for _, dist := range validated {
		if dist.Intensity > threshold {
			emit = append(emit, dist)
		}
	}

	monitoring.Tracef("frame %d: dots=%d matched=%d candidates=%d validated=%d emitted=%d fg=%.4f",
		n, len(dots), countMatched(matches), len(candidates), len(validated), len(emit), out.ForegroundRatio)
	return out, emit
}

// maybeCalibrate attempts calibration on every frame until the first
// success, then Interval frames after the previous attempt. A rejected
// attempt keeps the current alignment.
func (d *Detector) maybeCalibrate(n int64, dots []grid.DetectedDot, pattern grid.GridPattern) {
	if d.calibrated && n-d.lastCalibAttempt < int64(d.settings.Calibration.Interval) {
		return
	}
	d.lastCalibAttempt = n
	a, ok := d.calibrator.Calibrate(dots, pattern)
	stats := d.calibrator.Last
	if !ok {
		if stats.Insufficient {
			monitoring.Diagf("frame %d: calibration skipped, %d dots detected, %.1f required",
				n, stats.Detected, stats.Required)
		} else {
			monitoring.Diagf("frame %d: calibration rejected, best score %.2f over %d hypotheses (need > %.2f)",
				n, stats.BestScore, stats.Hypotheses, d.settings.Calibration.AcceptanceRatio*stats.Required)
		}
		return
	}
	if !d.calibrated {
		monitoring.Opsf("calibrated at frame %d: translation=(%.2f, %.2f) rotation=%.4f confidence=%.3f",
			n, a.Translation.X, a.Translation.Y, a.Rotation, a.Confidence)
	} else {
		monitoring.Diagf("frame %d: recalibrated, confidence=%.3f", n, a.Confidence)
	}
	d.alignment = &a
	d.calibrated = true
}

// stampDurations sets each candidate's Duration to the time since the
// earliest consecutive earlier frame that held a matching candidate.
func (d *Detector) stampDurations(candidates []grid.GridDisturbance, now time.Time) {
	radius := d.settings.Validation.TemporalRadius
	for i := range candidates {
		if _, earliest := l6validate.Persistence(d.history.Frames, candidates[i], radius, 0); earliest != nil {
			candidates[i].Duration = now.Sub(earliest.Timestamp)
		}
	}
}

func countMatched(matches []l5match.Match) int {
	n := 0
	for _, m := range matches {
		if m.Matched() {
			n++
		}
	}
	return n
}

func (d *Detector) notify(emit []grid.GridDisturbance) {
	if len(emit) == 0 {
		return
	}
	d.mu.Lock()
	ls := make([]listenerEntry, len(d.listeners))
	copy(ls, d.listeners)
	d.mu.Unlock()

	for _, dist := range emit {
		for _, l := range ls {
			callListener(l, dist)
		}
	}
}

func callListener(l listenerEntry, dist grid.GridDisturbance) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Opsf("listener %s panicked on %s: %v", l.id, dist.ID, r)
		}
	}()
	l.fn(dist)
}

// AddListener registers fn for disturbance-detected events and returns an
// ID for RemoveListener.
func (d *Detector) AddListener(fn Listener) string {
	id := uuid.NewString()
	d.mu.Lock()
	d.listeners = append(d.listeners, listenerEntry{id: id, fn: fn})
	d.mu.Unlock()
	return id
}

// RemoveListener unregisters a listener. It reports whether id was found.
func (d *Detector) RemoveListener(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, l := range d.listeners {
		if l.id == id {
			d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// UpdateSettings merges patch into the current (or already staged)
// settings. The result is validated and staged for the next frame.
func (d *Detector) UpdateSettings(patch grid.SettingsPatch) error {
	if err := patch.Validate(); err != nil {
		return fmt.Errorf("%w: %v", grid.ErrInvalidSettings, err)
	}
	base := d.Settings()
	next := base.Apply(&patch)
	if err := next.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	d.pending = &next
	d.mu.Unlock()
	monitoring.Opsf("detection settings staged")
	return nil
}

// Settings returns a copy of the settings the next frame will use.
func (d *Detector) Settings() grid.DetectionSettings {
	d.mu.Lock()
	if d.pending != nil {
		s := *d.pending
		d.mu.Unlock()
		return s
	}
	d.mu.Unlock()

	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	return d.settings
}

// Reset clears the background model, frame counter, calibration and all
// history. Listeners and staged settings are kept.
func (d *Detector) Reset() {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	d.background.Reset()
	d.history.Reset()
	d.frameCount = 0
	d.calibrated = false
	d.alignment = nil
	d.lastCalibAttempt = 0
	monitoring.Opsf("detector reset")
}

// Dispose resets the detector and detaches every listener.
func (d *Detector) Dispose() {
	d.Reset()
	d.mu.Lock()
	d.listeners = nil
	d.mu.Unlock()
	monitoring.Logf("detector disposed")
}

// FrameCount returns the number of frames processed since the last reset.
func (d *Detector) FrameCount() int64 {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	return d.frameCount
}

// IsCalibrated reports whether any calibration has been accepted since the
// last reset.
func (d *Detector) IsCalibrated() bool {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	return d.calibrated
}

// Alignment returns a copy of the current alignment, or nil before the
// first accepted calibration.
func (d *Detector) Alignment() *grid.GridAlignment {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	return d.currentAlignment()
}

// currentAlignment copies the alignment; callers hold frameMu.
func (d *Detector) currentAlignment() *grid.GridAlignment {
	if d.alignment == nil {
		return nil
	}
	a := *d.alignment
	return &a
}

// FrameHistory returns the retained frames, oldest first.
func (d *Detector) FrameHistory() []*grid.ProcessedFrame {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	return d.history.Frames.GetAll()
}

// DisturbanceHistory returns the retained validated disturbances, oldest
// first.
func (d *Detector) DisturbanceHistory() []grid.GridDisturbance {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	return d.history.Disturbances.All()
}

// ListenerCount returns the number of registered listeners.
func (d *Detector) ListenerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners)
}

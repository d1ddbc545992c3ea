package grid

import (
	"errors"
	"fmt"

	"github.com/banshee-data/gridwatch/internal/config"
)

// ErrInvalidSettings wraps every settings validation failure.
var ErrInvalidSettings = errors.New("invalid detection settings")

// SettingsPatch is a partial settings update: nil fields keep their current value.
type SettingsPatch = config.DetectionTuning

// TransformModel selects how the calibrator estimates the alignment.
type TransformModel string

const (
	// TransformTranslation derives translation only; rotation stays 0 and scale (1,1).
	TransformTranslation TransformModel = "translation"
	// TransformSimilarity fits rotation, uniform scale and translation by least squares.
	TransformSimilarity TransformModel = "similarity"
)

// PreprocessParams toggles and tunes the preprocessing steps.
type PreprocessParams struct {
	BlurEnabled                  bool
	BlurKernelSize               int
	BlurSigma                    float64
	BackgroundSubtractionEnabled bool
	BackgroundThreshold          float64 // 0-255 intensity units
	HistogramEqualizationEnabled bool
}

// BlobParams configures flood-fill blob detection.
type BlobParams struct {
	Enabled      bool
	Weight       float64
	MinThreshold float64 // 0-255 intensity units
	MinArea      int
	MaxArea      int
}

// TemplateParams configures normalised cross-correlation template matching.
type TemplateParams struct {
	Enabled        bool
	Weight         float64
	Radius         int
	MatchThreshold float64 // NCC score in [-1,1]
}

// OpticalFlowParams configures the optical-flow contributor.
type OpticalFlowParams struct {
	Enabled bool
	Weight  float64
}

// DetectionParams groups the dot detector configuration.
type DetectionParams struct {
	Blob           BlobParams
	Template       TemplateParams
	OpticalFlow    OpticalFlowParams
	MergeThreshold float64 // px
}

// CalibrationParams configures the RANSAC-style alignment search.
type CalibrationParams struct {
	Interval             int // frames between recalibrations once calibrated
	MaxIterations        int
	CorrespondenceRadius float64 // px, sample-to-expected search radius
	InlierThreshold      float64 // px, scoring radius
	MaxRequiredDots      int     // cap on the detected dots needed to attempt
	PatternFraction      float64 // fraction of the pattern needed to attempt
	AcceptanceRatio      float64 // best score must exceed ratio × required dots
	Model                TransformModel
}

// MinMatchCount returns min(MaxRequiredDots, PatternFraction × patternSize).
func (p CalibrationParams) MinMatchCount(patternSize int) float64 {
	need := p.PatternFraction * float64(patternSize)
	if limit := float64(p.MaxRequiredDots); need > limit {
		need = limit
	}
	return need
}

// ClassificationParams configures matching and disturbance classification.
type ClassificationParams struct {
	MatchRadius              float64 // px
	MotionThreshold          float64 // px
	IntensityChangeThreshold float64 // [0,1]
	NominalDotSize           float64 // px, used for occlusions when no dot size is known
}

// ValidationParams configures the validation stages.
type ValidationParams struct {
	MinSize              float64
	MaxSize              float64
	MinIntensity         float64
	MaxAspectRatio       float64
	TemporalEnabled      bool
	MinPersistenceFrames int
	TemporalRadius       float64
}

// DetectionSettings is the complete detector configuration. Changes made
// through the detector take effect on the next frame.
type DetectionSettings struct {
	BackgroundLearningRate float64
	Preprocess             PreprocessParams
	Detection              DetectionParams
	Calibration            CalibrationParams
	Classification         ClassificationParams
	Validation             ValidationParams

	// MinimumDisturbanceSize gates emission: a validated disturbance is
	// emitted when Intensity > MinimumDisturbanceSize/100.
	MinimumDisturbanceSize float64

	FrameHistorySize       int
	DisturbanceHistorySize int

	// RandomSeed seeds calibration sampling; 0 seeds from the clock.
	RandomSeed int64
}

// DefaultDetectionSettings returns the built-in defaults.
func DefaultDetectionSettings() DetectionSettings {
	return SettingsFromTuning(config.EmptyDetectionTuning())
}

// SettingsFromTuning builds settings from a loaded tuning file. Values that
// are not user-tunable use fixed operational defaults.
func SettingsFromTuning(cfg *config.DetectionTuning) DetectionSettings {
	return DetectionSettings{
		BackgroundLearningRate: cfg.GetBackgroundLearningRate(),
		Preprocess: PreprocessParams{
			BlurEnabled:                  cfg.GetBlurEnabled(),
			BlurKernelSize:               cfg.GetBlurKernelSize(),
			BlurSigma:                    cfg.GetBlurSigma(),
			BackgroundSubtractionEnabled: cfg.GetBackgroundSubtractionEnabled(),
			BackgroundThreshold:          cfg.GetBackgroundThreshold(),
			HistogramEqualizationEnabled: cfg.GetHistogramEqualizationEnabled(),
		},
		Detection: DetectionParams{
			Blob: BlobParams{
				Enabled:      cfg.GetBlobEnabled(),
				Weight:       cfg.GetBlobWeight(),
				MinThreshold: cfg.GetBlobMinThreshold(),
				MinArea:      cfg.GetBlobMinArea(),
				MaxArea:      cfg.GetBlobMaxArea(),
			},
			Template: TemplateParams{
				Enabled:        cfg.GetTemplateEnabled(),
				Weight:         cfg.GetTemplateWeight(),
				Radius:         cfg.GetTemplateRadius(),
				MatchThreshold: cfg.GetTemplateMatchThreshold(),
			},
			OpticalFlow: OpticalFlowParams{
				Enabled: cfg.GetOpticalFlowEnabled(),
				Weight:  cfg.GetOpticalFlowWeight(),
			},
			MergeThreshold: cfg.GetMergeThreshold(),
		},
		Calibration: CalibrationParams{
			Interval:             cfg.GetRecalibrationInterval(),
			MaxIterations:        cfg.GetCalibrationIterations(),
			CorrespondenceRadius: cfg.GetCorrespondenceRadius(),
			InlierThreshold:      cfg.GetInlierThreshold(),
			MaxRequiredDots:      10,
			PatternFraction:      0.3,
			AcceptanceRatio:      0.7,
			Model:                TransformModel(cfg.GetTransformModel()),
		},
		Classification: ClassificationParams{
			MatchRadius:              cfg.GetMatchRadius(),
			MotionThreshold:          cfg.GetMotionThreshold(),
			IntensityChangeThreshold: cfg.GetIntensityChangeThreshold(),
			NominalDotSize:           cfg.GetNominalDotSize(),
		},
		Validation: ValidationParams{
			MinSize:              cfg.GetMinDisturbanceSize(),
			MaxSize:              cfg.GetMaxDisturbanceSize(),
			MinIntensity:         cfg.GetMinIntensity(),
			MaxAspectRatio:       cfg.GetMaxAspectRatio(),
			TemporalEnabled:      cfg.GetTemporalEnabled(),
			MinPersistenceFrames: cfg.GetMinPersistenceFrames(),
			TemporalRadius:       20,
		},
		MinimumDisturbanceSize: cfg.GetMinimumDisturbanceSize(),
		FrameHistorySize:       10,
		DisturbanceHistorySize: 100,
	}
}

// Apply overlays the non-nil fields of patch onto a copy of s.
func (s DetectionSettings) Apply(patch *SettingsPatch) DetectionSettings {
	if patch == nil {
		return s
	}
	setFloat(&s.BackgroundLearningRate, patch.BackgroundLearningRate)

	pp := &s.Preprocess
	setBool(&pp.BlurEnabled, patch.BlurEnabled)
	setInt(&pp.BlurKernelSize, patch.BlurKernelSize)
	setFloat(&pp.BlurSigma, patch.BlurSigma)
	setBool(&pp.BackgroundSubtractionEnabled, patch.BackgroundSubtractionEnabled)
	setFloat(&pp.BackgroundThreshold, patch.BackgroundThreshold)
	setBool(&pp.HistogramEqualizationEnabled, patch.HistogramEqualizationEnabled)

	dp := &s.Detection
	setBool(&dp.Blob.Enabled, patch.BlobEnabled)
	setFloat(&dp.Blob.Weight, patch.BlobWeight)
	setFloat(&dp.Blob.MinThreshold, patch.BlobMinThreshold)
	setInt(&dp.Blob.MinArea, patch.BlobMinArea)
	setInt(&dp.Blob.MaxArea, patch.BlobMaxArea)
	setBool(&dp.Template.Enabled, patch.TemplateEnabled)
	setFloat(&dp.Template.Weight, patch.TemplateWeight)
	setInt(&dp.Template.Radius, patch.TemplateRadius)
	setFloat(&dp.Template.MatchThreshold, patch.TemplateMatchThreshold)
	setBool(&dp.OpticalFlow.Enabled, patch.OpticalFlowEnabled)
	setFloat(&dp.OpticalFlow.Weight, patch.OpticalFlowWeight)
	setFloat(&dp.MergeThreshold, patch.MergeThreshold)

	cp := &s.Calibration
	setInt(&cp.Interval, patch.RecalibrationInterval)
	setInt(&cp.MaxIterations, patch.CalibrationIterations)
	setFloat(&cp.CorrespondenceRadius, patch.CorrespondenceRadius)
	setFloat(&cp.InlierThreshold, patch.InlierThreshold)
	if patch.TransformModel != nil {
		cp.Model = TransformModel(*patch.TransformModel)
	}

	clp := &s.Classification
	setFloat(&clp.MatchRadius, patch.MatchRadius)
	setFloat(&clp.MotionThreshold, patch.MotionThreshold)
	setFloat(&clp.IntensityChangeThreshold, patch.IntensityChangeThreshold)
	setFloat(&clp.NominalDotSize, patch.NominalDotSize)

	vp := &s.Validation
	setFloat(&vp.MinSize, patch.MinDisturbanceSize)
	setFloat(&vp.MaxSize, patch.MaxDisturbanceSize)
	setFloat(&vp.MinIntensity, patch.MinIntensity)
	setFloat(&vp.MaxAspectRatio, patch.MaxAspectRatio)
	setBool(&vp.TemporalEnabled, patch.TemporalEnabled)
	setInt(&vp.MinPersistenceFrames, patch.MinPersistenceFrames)

	setFloat(&s.MinimumDisturbanceSize, patch.MinimumDisturbanceSize)
	return s
}

// Tuning returns the tunable part of s in file form, with every field set.
// Apply(s.Tuning()) on any settings yields s up to the fixed operational
// values SettingsFromTuning does not read.
func (s DetectionSettings) Tuning() *config.DetectionTuning {
	model := string(s.Calibration.Model)
	pp, dp := s.Preprocess, s.Detection
	cp, clp, vp := s.Calibration, s.Classification, s.Validation
	return &config.DetectionTuning{
		BackgroundLearningRate:       &s.BackgroundLearningRate,
		BlurEnabled:                  &pp.BlurEnabled,
		BlurKernelSize:               &pp.BlurKernelSize,
		BlurSigma:                    &pp.BlurSigma,
		BackgroundSubtractionEnabled: &pp.BackgroundSubtractionEnabled,
		BackgroundThreshold:          &pp.BackgroundThreshold,
		HistogramEqualizationEnabled: &pp.HistogramEqualizationEnabled,

		BlobEnabled:            &dp.Blob.Enabled,
		BlobWeight:             &dp.Blob.Weight,
		BlobMinThreshold:       &dp.Blob.MinThreshold,
		BlobMinArea:            &dp.Blob.MinArea,
		BlobMaxArea:            &dp.Blob.MaxArea,
		TemplateEnabled:        &dp.Template.Enabled,
		TemplateWeight:         &dp.Template.Weight,
		TemplateRadius:         &dp.Template.Radius,
		TemplateMatchThreshold: &dp.Template.MatchThreshold,
		OpticalFlowEnabled:     &dp.OpticalFlow.Enabled,
		OpticalFlowWeight:      &dp.OpticalFlow.Weight,
		MergeThreshold:         &dp.MergeThreshold,

		MatchRadius:              &clp.MatchRadius,
		MotionThreshold:          &clp.MotionThreshold,
		IntensityChangeThreshold: &clp.IntensityChangeThreshold,
		NominalDotSize:           &clp.NominalDotSize,

		RecalibrationInterval: &cp.Interval,
		CalibrationIterations: &cp.MaxIterations,
		CorrespondenceRadius:  &cp.CorrespondenceRadius,
		InlierThreshold:       &cp.InlierThreshold,
		TransformModel:        &model,

		MinDisturbanceSize:   &vp.MinSize,
		MaxDisturbanceSize:   &vp.MaxSize,
		MinIntensity:         &vp.MinIntensity,
		MaxAspectRatio:       &vp.MaxAspectRatio,
		TemporalEnabled:      &vp.TemporalEnabled,
		MinPersistenceFrames: &vp.MinPersistenceFrames,

		MinimumDisturbanceSize: &s.MinimumDisturbanceSize,
	}
}

func setFloat(dst *float64, p *float64) {
	if p != nil {
		*dst = *p
	}
}

func setInt(dst *int, p *int) {
	if p != nil {
		*dst = *p
	}
}

func setBool(dst *bool, p *bool) {
	if p != nil {
		*dst = *p
	}
}

// EmissionThreshold is the intensity a validated disturbance must exceed to be emitted.
func (s DetectionSettings) EmissionThreshold() float64 {
	return s.MinimumDisturbanceSize / 100
}

// Validate checks that the settings are usable by every stage.
func (s DetectionSettings) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrInvalidSettings, fmt.Sprintf(format, args...))
	}
	if s.BackgroundLearningRate <= 0 || s.BackgroundLearningRate > 1 {
		return invalid("BackgroundLearningRate must be in (0, 1], got %f", s.BackgroundLearningRate)
	}
	if s.Preprocess.BlurKernelSize < 1 || s.Preprocess.BlurKernelSize%2 == 0 {
		return invalid("BlurKernelSize must be a positive odd number, got %d", s.Preprocess.BlurKernelSize)
	}
	if s.Preprocess.BlurSigma <= 0 {
		return invalid("BlurSigma must be positive, got %f", s.Preprocess.BlurSigma)
	}
	b := s.Detection.Blob
	if b.MinArea < 1 || b.MinArea > b.MaxArea {
		return invalid("blob area range [%d, %d] is invalid", b.MinArea, b.MaxArea)
	}
	for name, w := range map[string]float64{
		"blob":         b.Weight,
		"template":     s.Detection.Template.Weight,
		"optical flow": s.Detection.OpticalFlow.Weight,
	} {
		if w < 0 || w > 1 {
			return invalid("%s weight must be in [0, 1], got %f", name, w)
		}
	}
	if s.Detection.Template.Radius < 1 {
		return invalid("template Radius must be at least 1, got %d", s.Detection.Template.Radius)
	}
	if s.Detection.MergeThreshold < 0 {
		return invalid("MergeThreshold must be non-negative, got %f", s.Detection.MergeThreshold)
	}
	c := s.Calibration
	if c.Interval < 1 || c.MaxIterations < 1 {
		return invalid("calibration Interval and MaxIterations must be at least 1")
	}
	if c.CorrespondenceRadius <= 0 || c.InlierThreshold <= 0 {
		return invalid("calibration radii must be positive")
	}
	if c.Model != TransformTranslation && c.Model != TransformSimilarity {
		return invalid("unknown transform model %q", c.Model)
	}
	if s.Classification.MatchRadius <= 0 {
		return invalid("MatchRadius must be positive, got %f", s.Classification.MatchRadius)
	}
	v := s.Validation
	if v.MinSize > v.MaxSize {
		return invalid("validation size range [%f, %f] is invalid", v.MinSize, v.MaxSize)
	}
	if v.MaxAspectRatio < 1 {
		return invalid("MaxAspectRatio must be at least 1, got %f", v.MaxAspectRatio)
	}
	if v.MinPersistenceFrames < 1 {
		return invalid("MinPersistenceFrames must be at least 1, got %d", v.MinPersistenceFrames)
	}
	if s.FrameHistorySize < 1 || s.DisturbanceHistorySize < 1 {
		return invalid("history sizes must be at least 1")
	}
	return nil
}

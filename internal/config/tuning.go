package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical detection defaults file.
const DefaultConfigPath = "config/detection.defaults.json"

// DetectionTuning is the on-disk form of the detector settings. Every field
// is optional; the Get* accessors supply the built-in default when a field is
// omitted, so partial files are safe.
type DetectionTuning struct {
	// Background model and preprocessing
	BackgroundLearningRate       *float64 `json:"background_learning_rate,omitempty"`
	BlurEnabled                  *bool    `json:"blur_enabled,omitempty"`
	BlurKernelSize               *int     `json:"blur_kernel_size,omitempty"`
	BlurSigma                    *float64 `json:"blur_sigma,omitempty"`
	BackgroundSubtractionEnabled *bool    `json:"background_subtraction_enabled,omitempty"`
	BackgroundThreshold          *float64 `json:"background_threshold,omitempty"`
	HistogramEqualizationEnabled *bool    `json:"histogram_equalization_enabled,omitempty"`

	// Dot detection
	BlobEnabled            *bool    `json:"blob_enabled,omitempty"`
	BlobWeight             *float64 `json:"blob_weight,omitempty"`
	BlobMinThreshold       *float64 `json:"blob_min_threshold,omitempty"`
	BlobMinArea            *int     `json:"blob_min_area,omitempty"`
	BlobMaxArea            *int     `json:"blob_max_area,omitempty"`
	TemplateEnabled        *bool    `json:"template_enabled,omitempty"`
	TemplateWeight         *float64 `json:"template_weight,omitempty"`
	TemplateRadius         *int     `json:"template_radius,omitempty"`
	TemplateMatchThreshold *float64 `json:"template_match_threshold,omitempty"`
	OpticalFlowEnabled     *bool    `json:"optical_flow_enabled,omitempty"`
	OpticalFlowWeight      *float64 `json:"optical_flow_weight,omitempty"`
	MergeThreshold         *float64 `json:"merge_threshold,omitempty"`

	// Matching and classification
	MatchRadius              *float64 `json:"match_radius,omitempty"`
	MotionThreshold          *float64 `json:"motion_threshold,omitempty"`
	IntensityChangeThreshold *float64 `json:"intensity_change_threshold,omitempty"`
	NominalDotSize           *float64 `json:"nominal_dot_size,omitempty"`

	// Calibration
	RecalibrationInterval *int     `json:"recalibration_interval,omitempty"`
	CalibrationIterations *int     `json:"calibration_iterations,omitempty"`
	CorrespondenceRadius  *float64 `json:"correspondence_radius,omitempty"`
	InlierThreshold       *float64 `json:"inlier_threshold,omitempty"`
	TransformModel        *string  `json:"transform_model,omitempty"`

	// Validation
	MinDisturbanceSize   *float64 `json:"min_disturbance_size_px,omitempty"`
	MaxDisturbanceSize   *float64 `json:"max_disturbance_size_px,omitempty"`
	MinIntensity         *float64 `json:"min_intensity,omitempty"`
	MaxAspectRatio       *float64 `json:"max_aspect_ratio,omitempty"`
	TemporalEnabled      *bool    `json:"temporal_enabled,omitempty"`
	MinPersistenceFrames *int     `json:"min_persistence_frames,omitempty"`

	// Emission
	MinimumDisturbanceSize *float64 `json:"minimum_disturbance_size,omitempty"`
}

// EmptyDetectionTuning returns a DetectionTuning with all fields set to nil.
func EmptyDetectionTuning() *DetectionTuning {
	return &DetectionTuning{}
}

// LoadDetectionTuning loads a DetectionTuning from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadDetectionTuning(path string) (*DetectionTuning, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseDetectionTuning(data)
}

// ParseDetectionTuning decodes and validates a JSON document.
func ParseDetectionTuning(data []byte) (*DetectionTuning, error) {
	cfg := EmptyDetectionTuning()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *DetectionTuning {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadDetectionTuning(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configured values are in range.
func (c *DetectionTuning) Validate() error {
	if c.BackgroundLearningRate != nil {
		if *c.BackgroundLearningRate <= 0 || *c.BackgroundLearningRate > 1 {
			return fmt.Errorf("background_learning_rate must be in (0, 1], got %f", *c.BackgroundLearningRate)
		}
	}
	if c.BlurKernelSize != nil && (*c.BlurKernelSize < 1 || *c.BlurKernelSize%2 == 0) {
		return fmt.Errorf("blur_kernel_size must be a positive odd number, got %d", *c.BlurKernelSize)
	}
	if c.BlobMinArea != nil && c.BlobMaxArea != nil && *c.BlobMinArea > *c.BlobMaxArea {
		return fmt.Errorf("blob_min_area (%d) exceeds blob_max_area (%d)", *c.BlobMinArea, *c.BlobMaxArea)
	}
	for name, w := range map[string]*float64{
		"blob_weight":         c.BlobWeight,
		"template_weight":     c.TemplateWeight,
		"optical_flow_weight": c.OpticalFlowWeight,
	} {
		if w != nil && (*w < 0 || *w > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *w)
		}
	}
	if c.TransformModel != nil {
		switch *c.TransformModel {
		case "translation", "similarity":
		default:
			return fmt.Errorf("transform_model must be \"translation\" or \"similarity\", got %q", *c.TransformModel)
		}
	}
	if c.RecalibrationInterval != nil && *c.RecalibrationInterval < 1 {
		return fmt.Errorf("recalibration_interval must be at least 1, got %d", *c.RecalibrationInterval)
	}
	if c.MinPersistenceFrames != nil && *c.MinPersistenceFrames < 1 {
		return fmt.Errorf("min_persistence_frames must be at least 1, got %d", *c.MinPersistenceFrames)
	}
	return nil
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func getBool(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// GetBackgroundLearningRate returns the EMA alpha or the default.
func (c *DetectionTuning) GetBackgroundLearningRate() float64 {
	return getFloat(c.BackgroundLearningRate, 0.01)
}

// GetBlurEnabled returns the blur_enabled value or the default.
func (c *DetectionTuning) GetBlurEnabled() bool { return getBool(c.BlurEnabled, true) }

// GetBlurKernelSize returns the blur_kernel_size value or the default.
func (c *DetectionTuning) GetBlurKernelSize() int { return getInt(c.BlurKernelSize, 5) }

// GetBlurSigma returns the blur_sigma value or the default.
func (c *DetectionTuning) GetBlurSigma() float64 { return getFloat(c.BlurSigma, 1.0) }

// GetBackgroundSubtractionEnabled returns the value or the default (disabled).
func (c *DetectionTuning) GetBackgroundSubtractionEnabled() bool {
	return getBool(c.BackgroundSubtractionEnabled, false)
}

// GetBackgroundThreshold returns the background_threshold value or the default.
func (c *DetectionTuning) GetBackgroundThreshold() float64 {
	return getFloat(c.BackgroundThreshold, 30)
}

// GetHistogramEqualizationEnabled returns the value or the default (disabled).
func (c *DetectionTuning) GetHistogramEqualizationEnabled() bool {
	return getBool(c.HistogramEqualizationEnabled, false)
}

// GetBlobEnabled returns the blob_enabled value or the default.
func (c *DetectionTuning) GetBlobEnabled() bool { return getBool(c.BlobEnabled, true) }

// GetBlobWeight returns the blob_weight value or the default.
func (c *DetectionTuning) GetBlobWeight() float64 { return getFloat(c.BlobWeight, 1.0) }

// GetBlobMinThreshold returns the blob_min_threshold value or the default.
func (c *DetectionTuning) GetBlobMinThreshold() float64 { return getFloat(c.BlobMinThreshold, 80) }

// GetBlobMinArea returns the blob_min_area value or the default.
func (c *DetectionTuning) GetBlobMinArea() int { return getInt(c.BlobMinArea, 4) }

// GetBlobMaxArea returns the blob_max_area value or the default.
func (c *DetectionTuning) GetBlobMaxArea() int { return getInt(c.BlobMaxArea, 1500) }

// GetTemplateEnabled returns the template_enabled value or the default.
func (c *DetectionTuning) GetTemplateEnabled() bool { return getBool(c.TemplateEnabled, false) }

// GetTemplateWeight returns the template_weight value or the default.
func (c *DetectionTuning) GetTemplateWeight() float64 { return getFloat(c.TemplateWeight, 0.5) }

// GetTemplateRadius returns the template_radius value or the default.
func (c *DetectionTuning) GetTemplateRadius() int { return getInt(c.TemplateRadius, 4) }

// GetTemplateMatchThreshold returns the template_match_threshold value or the default.
func (c *DetectionTuning) GetTemplateMatchThreshold() float64 {
	return getFloat(c.TemplateMatchThreshold, 0.7)
}

// GetOpticalFlowEnabled returns the optical_flow_enabled value or the default.
func (c *DetectionTuning) GetOpticalFlowEnabled() bool {
	return getBool(c.OpticalFlowEnabled, false)
}

// GetOpticalFlowWeight returns the optical_flow_weight value or the default.
func (c *DetectionTuning) GetOpticalFlowWeight() float64 {
	return getFloat(c.OpticalFlowWeight, 0.3)
}

// GetMergeThreshold returns the merge_threshold value or the default.
func (c *DetectionTuning) GetMergeThreshold() float64 { return getFloat(c.MergeThreshold, 20) }

// GetMatchRadius returns the match_radius value or the default.
func (c *DetectionTuning) GetMatchRadius() float64 { return getFloat(c.MatchRadius, 30) }

// GetMotionThreshold returns the motion_threshold value or the default.
func (c *DetectionTuning) GetMotionThreshold() float64 { return getFloat(c.MotionThreshold, 5) }

// GetIntensityChangeThreshold returns the intensity_change_threshold value or the default.
func (c *DetectionTuning) GetIntensityChangeThreshold() float64 {
	return getFloat(c.IntensityChangeThreshold, 0.2)
}

// GetNominalDotSize returns the nominal_dot_size value or the default.
func (c *DetectionTuning) GetNominalDotSize() float64 { return getFloat(c.NominalDotSize, 10) }

// GetRecalibrationInterval returns the recalibration_interval value or the default.
func (c *DetectionTuning) GetRecalibrationInterval() int {
	return getInt(c.RecalibrationInterval, 30)
}

// GetCalibrationIterations returns the calibration_iterations value or the default.
func (c *DetectionTuning) GetCalibrationIterations() int {
	return getInt(c.CalibrationIterations, 100)
}

// GetCorrespondenceRadius returns the correspondence_radius value or the default.
func (c *DetectionTuning) GetCorrespondenceRadius() float64 {
	return getFloat(c.CorrespondenceRadius, 100)
}

// GetInlierThreshold returns the inlier_threshold value or the default.
func (c *DetectionTuning) GetInlierThreshold() float64 { return getFloat(c.InlierThreshold, 20) }

// GetTransformModel returns the transform_model value or the default.
func (c *DetectionTuning) GetTransformModel() string {
	if c.TransformModel == nil || *c.TransformModel == "" {
		return "translation"
	}
	return *c.TransformModel
}

// GetMinDisturbanceSize returns the min_disturbance_size_px value or the default.
func (c *DetectionTuning) GetMinDisturbanceSize() float64 {
	return getFloat(c.MinDisturbanceSize, 2)
}

// GetMaxDisturbanceSize returns the max_disturbance_size_px value or the default.
func (c *DetectionTuning) GetMaxDisturbanceSize() float64 {
	return getFloat(c.MaxDisturbanceSize, 50)
}

// GetMinIntensity returns the min_intensity value or the default.
func (c *DetectionTuning) GetMinIntensity() float64 { return getFloat(c.MinIntensity, 0.1) }

// GetMaxAspectRatio returns the max_aspect_ratio value or the default.
func (c *DetectionTuning) GetMaxAspectRatio() float64 { return getFloat(c.MaxAspectRatio, 3.0) }

// GetTemporalEnabled returns the temporal_enabled value or the default.
func (c *DetectionTuning) GetTemporalEnabled() bool { return getBool(c.TemporalEnabled, false) }

// GetMinPersistenceFrames returns the min_persistence_frames value or the default.
func (c *DetectionTuning) GetMinPersistenceFrames() int {
	return getInt(c.MinPersistenceFrames, 2)
}

// GetMinimumDisturbanceSize returns the minimum_disturbance_size value or the default.
// Disturbances are emitted when their intensity exceeds this value / 100.
func (c *DetectionTuning) GetMinimumDisturbanceSize() float64 {
	return getFloat(c.MinimumDisturbanceSize, 10)
}

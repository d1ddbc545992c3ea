package l2background

import (
	"fmt"

	"github.com/banshee-data/gridwatch/internal/grid"
	"github.com/banshee-data/gridwatch/internal/grid/l1image"
)

// StepKind identifies a preprocessing step.
type StepKind int

const (
	StepBlur StepKind = iota
	StepBackgroundSubtraction
	StepHistogramEqualization
)

func (k StepKind) String() string {
	switch k {
	case StepBlur:
		return "gaussian_blur"
	case StepBackgroundSubtraction:
		return "background_subtraction"
	case StepHistogramEqualization:
		return "histogram_equalization"
	default:
		return fmt.Sprintf("step(%d)", int(k))
	}
}

// Step is one entry of the ordered pipeline.
type Step struct {
	Kind    StepKind
	Enabled bool
}

// Pipeline applies its enabled steps in declared order.
type Pipeline struct {
	Steps  []Step
	Params grid.PreprocessParams
}

// NewPipeline builds the standard order (blur, subtraction, equalization)
// with each step toggled by params.
func NewPipeline(params grid.PreprocessParams) *Pipeline {
	return &Pipeline{
		Steps: []Step{
			{Kind: StepBlur, Enabled: params.BlurEnabled},
			{Kind: StepBackgroundSubtraction, Enabled: params.BackgroundSubtractionEnabled},
			{Kind: StepHistogramEqualization, Enabled: params.HistogramEqualizationEnabled},
		},
		Params: params,
	}
}

// Run applies the enabled steps to img. background may be nil before the
// model is seeded; subtraction is then skipped. Steps that precede
// subtraction are also applied to the background so both sides are
// compared under the same smoothing.
//
// A step failure does not abort the pipeline: the failing step is skipped
// and the error is returned alongside the best-effort image.
func (p *Pipeline) Run(img l1image.ImageBuffer, background *l1image.ImageBuffer) (l1image.ImageBuffer, error) {
	out := img
	var ref *l1image.ImageBuffer
	if background != nil {
		b := *background
		ref = &b
	}

	var firstErr error
	changed := false
	for _, step := range p.Steps {
		if !step.Enabled {
			continue
		}
		switch step.Kind {
		case StepBlur:
			out = l1image.GaussianBlur(out, p.Params.BlurKernelSize, p.Params.BlurSigma)
			changed = true
			if ref != nil {
				blurred := l1image.GaussianBlur(*ref, p.Params.BlurKernelSize, p.Params.BlurSigma)
				ref = &blurred
			}
		case StepBackgroundSubtraction:
			if ref == nil {
				continue
			}
			fg, err := l1image.SubtractBackground(out, *ref, float32(p.Params.BackgroundThreshold))
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("%s: %w", step.Kind, err)
				}
				continue
			}
			out = fg
			changed = true
		case StepHistogramEqualization:
			out = l1image.EqualizeHistogram(out)
			changed = true
		}
	}

	if !changed {
		out = img.Clone()
	}
	return out, firstErr
}

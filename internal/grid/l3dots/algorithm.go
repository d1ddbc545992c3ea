package l3dots

import (
	"errors"
	"fmt"

	"github.com/banshee-data/gridwatch/internal/grid"
	"github.com/banshee-data/gridwatch/internal/grid/l1image"
)

// ErrNotImplemented is returned by algorithm variants that are declared
// but have no implementation yet.
var ErrNotImplemented = errors.New("detection algorithm not implemented")

// Algorithm is one of the supported detection variants.
type Algorithm int

const (
	AlgorithmBlob Algorithm = iota
	AlgorithmTemplate
	AlgorithmOpticalFlow
)

// Algorithms lists every variant in evaluation order.
var Algorithms = []Algorithm{AlgorithmBlob, AlgorithmTemplate, AlgorithmOpticalFlow}

func (a Algorithm) String() string {
	switch a {
	case AlgorithmBlob:
		return "blob"
	case AlgorithmTemplate:
		return "template"
	case AlgorithmOpticalFlow:
		return "optical_flow"
	default:
		return fmt.Sprintf("algorithm(%d)", int(a))
	}
}

// Enabled reports whether the variant is switched on in params.
func (a Algorithm) Enabled(params grid.DetectionParams) bool {
	switch a {
	case AlgorithmBlob:
		return params.Blob.Enabled
	case AlgorithmTemplate:
		return params.Template.Enabled
	case AlgorithmOpticalFlow:
		return params.OpticalFlow.Enabled
	}
	return false
}

// Weight returns the confidence multiplier for the variant.
func (a Algorithm) Weight(params grid.DetectionParams) float64 {
	switch a {
	case AlgorithmBlob:
		return params.Blob.Weight
	case AlgorithmTemplate:
		return params.Template.Weight
	case AlgorithmOpticalFlow:
		return params.OpticalFlow.Weight
	}
	return 0
}

// Detect runs the variant on img. Confidences are unweighted.
func (a Algorithm) Detect(img l1image.ImageBuffer, params grid.DetectionParams) ([]grid.DetectedDot, error) {
	switch a {
	case AlgorithmBlob:
		return DetectBlobs(img, params.Blob), nil
	case AlgorithmTemplate:
		return MatchTemplate(img, params.Template)
	case AlgorithmOpticalFlow:
		return nil, fmt.Errorf("%s: %w", a, ErrNotImplemented)
	}
	return nil, fmt.Errorf("unknown %s", a)
}

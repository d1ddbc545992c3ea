package l6validate

import (
	"github.com/banshee-data/gridwatch/internal/grid"
)

// StageCount records how many disturbances a stage let through.
type StageCount struct {
	Stage string `json:"stage"`
	In    int    `json:"in"`
	Out   int    `json:"out"`
}

// Pipeline runs its stages in order.
type Pipeline struct {
	Stages []Stage

	// Per-stage counts from the last Run.
	LastCounts []StageCount
}

// NewPipeline builds the standard stage order: size, intensity, geometry,
// temporal. history may be nil when the temporal stage is disabled.
func NewPipeline(params grid.ValidationParams, history FrameLookup) *Pipeline {
	return &Pipeline{Stages: []Stage{
		SizeFilter{Min: params.MinSize, Max: params.MaxSize},
		IntensityFilter{Min: params.MinIntensity},
		GeometryCheck{MaxAspectRatio: params.MaxAspectRatio},
		TemporalConsistency{
			Enabled:   params.TemporalEnabled,
			MinFrames: params.MinPersistenceFrames,
			Radius:    params.TemporalRadius,
			History:   history,
		},
	}}
}

// Run returns the disturbances that pass every stage, in input order. The
// input slice is left untouched.
func (p *Pipeline) Run(ds []grid.GridDisturbance) []grid.GridDisturbance {
	p.LastCounts = p.LastCounts[:0]
	cur := ds
	for _, s := range p.Stages {
		next := make([]grid.GridDisturbance, 0, len(cur))
		for _, d := range cur {
			if s.Accept(d) {
				next = append(next, d)
			}
		}
		p.LastCounts = append(p.LastCounts, StageCount{Stage: s.Name(), In: len(cur), Out: len(next)})
		cur = next
	}
	if len(p.Stages) == 0 {
		cur = append([]grid.GridDisturbance(nil), ds...)
	}
	return cur
}

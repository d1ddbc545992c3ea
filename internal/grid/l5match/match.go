package l5match

import (
	"github.com/banshee-data/gridwatch/internal/grid"
)

// Match records the outcome for one enabled expected dot.
type Match struct {
	Expected  grid.GridDot
	Projected grid.Vector2 // expected position in camera space
	Detected  int          // index into the detected slice, -1 if unmatched
}

// Matched reports whether a detection was assigned.
func (m Match) Matched() bool { return m.Detected >= 0 }

// MatchDots projects every enabled expected dot through alignment (the
// identity when nil) and pairs it with a detected dot no further than
// radius away, minimising the total distance. Matched detections get
// their ID, ExpectedPosition and Displacement written in place; stale
// fields from earlier calls are cleared first.
func MatchDots(detected []grid.DetectedDot, pattern grid.GridPattern, alignment *grid.GridAlignment, radius float64) []Match {
	a := grid.IdentityAlignment()
	if alignment != nil {
		a = *alignment
	}
	for i := range detected {
		detected[i].ClearMatch()
	}

	expected := pattern.EnabledDots()
	matches := make([]Match, len(expected))
	if len(expected) == 0 {
		return matches
	}

	cost := make([][]float32, len(expected))
	for i, e := range expected {
		proj := a.Apply(e.ExpectedPosition)
		matches[i] = Match{Expected: e, Projected: proj, Detected: -1}
		cost[i] = make([]float32, len(detected))
		for j, d := range detected {
			dist := proj.Dist(d.Position)
			if dist > radius {
				cost[i][j] = hungarianInf
			} else {
				cost[i][j] = float32(dist)
			}
		}
	}

	if len(detected) == 0 {
		return matches
	}
	for i, col := range HungarianAssign(cost) {
		if col < 0 {
			continue
		}
		matches[i].Detected = col
		d := &detected[col]
		proj := matches[i].Projected
		disp := d.Position.Sub(proj)
		d.Matched = true
		d.ID = matches[i].Expected.ID
		d.ExpectedPosition = &proj
		d.Displacement = &disp
	}
	return matches
}

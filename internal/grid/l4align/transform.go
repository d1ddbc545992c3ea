package l4align

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/gridwatch/internal/grid"
)

var errDegenerate = errors.New("degenerate correspondences")

// correspondence pairs a sampled detected position with its nearest
// expected grid position.
type correspondence struct {
	expected grid.Vector2
	detected grid.Vector2
}

// estimate fits the configured transform model to pairs.
func estimate(model grid.TransformModel, pairs []correspondence) (grid.GridAlignment, error) {
	switch model {
	case grid.TransformSimilarity:
		return estimateSimilarity(pairs)
	case grid.TransformTranslation, "":
		return estimateTranslation(pairs), nil
	}
	return grid.GridAlignment{}, fmt.Errorf("unknown transform model %q", model)
}

// estimateTranslation returns the centroid offset between detected and
// expected points. Rotation stays 0 and scale stays (1, 1).
func estimateTranslation(pairs []correspondence) grid.GridAlignment {
	var exp, det grid.Vector2
	for _, p := range pairs {
		exp = exp.Add(p.expected)
		det = det.Add(p.detected)
	}
	n := 1 / float64(len(pairs))
	return grid.NewAlignment(0, grid.Vector2{X: 1, Y: 1}, det.Scale(n).Sub(exp.Scale(n)))
}

// estimateSimilarity solves the least-squares similarity transform
//
//	x' = a·x - b·y + tx
//	y' = b·x + a·y + ty
//
// giving rotation atan2(b, a) and uniform scale hypot(a, b).
func estimateSimilarity(pairs []correspondence) (grid.GridAlignment, error) {
	n := len(pairs)
	if n < 2 {
		return grid.GridAlignment{}, errDegenerate
	}
	A := mat.NewDense(2*n, 4, nil)
	b := mat.NewVecDense(2*n, nil)
	for i, p := range pairs {
		A.SetRow(2*i, []float64{p.expected.X, -p.expected.Y, 1, 0})
		A.SetRow(2*i+1, []float64{p.expected.Y, p.expected.X, 0, 1})
		b.SetVec(2*i, p.detected.X)
		b.SetVec(2*i+1, p.detected.Y)
	}

	var x mat.VecDense
	if err := x.SolveVec(A, b); err != nil {
		return grid.GridAlignment{}, fmt.Errorf("similarity fit: %w", err)
	}
	ca, sb := x.AtVec(0), x.AtVec(1)
	scale := math.Hypot(ca, sb)
	if scale == 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return grid.GridAlignment{}, errDegenerate
	}
	return grid.NewAlignment(
		math.Atan2(sb, ca),
		grid.Vector2{X: scale, Y: scale},
		grid.Vector2{X: x.AtVec(2), Y: x.AtVec(3)},
	), nil
}

package l5match

import "math"

// hungarianInf marks a forbidden expected/detected pairing.
const hungarianInf = 1e18

func forbidden(c float32) bool { return c >= float32(hungarianInf) }

// HungarianAssign pairs expected dots (rows) with detected dots (columns)
// at minimum total cost. It returns assignments[i] = column for row i, or
// -1 when row i stays unmatched. Cells ≥ hungarianInf are never chosen, so
// each expected dot takes at most one detection and vice versa.
func HungarianAssign(cost [][]float32) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	result := make([]int, n)
	for i := range result {
		result[i] = -1
	}
	m := len(cost[0])
	if m == 0 {
		return result
	}

	owner := solveSquare(squareCosts(cost))
	for i := 0; i < n; i++ {
		if col := owner[i]; col >= 0 && col < m && !forbidden(cost[i][col]) {
			result[i] = col
		}
	}
	return result
}

// squareCosts pads cost to a square float64 matrix. Forbidden and padding
// cells cost more than all finite cells together: the solver maximises
// the number of real pairs before it minimises their distance. A literal
// hungarianInf would swallow pixel-scale costs in float64 rounding.
func squareCosts(cost [][]float32) [][]float64 {
	n, m := len(cost), len(cost[0])
	dim := max(n, m)

	big := 1.0
	for _, row := range cost {
		for _, c := range row {
			if !forbidden(c) {
				big += math.Abs(float64(c))
			}
		}
	}

	sq := make([][]float64, dim)
	for i := range sq {
		sq[i] = make([]float64, dim)
		for j := range sq[i] {
			sq[i][j] = big
			if i < n && j < m && !forbidden(cost[i][j]) {
				sq[i][j] = float64(cost[i][j])
			}
		}
	}
	return sq
}

// solveSquare runs Kuhn-Munkres with row/column potentials over a square
// matrix and returns the column chosen for each row.
func solveSquare(c [][]float64) []int {
	dim := len(c)
	const unreachable = math.MaxFloat64 / 2

	// Index 0 is a virtual column; rows and columns are 1-based below.
	rowPot := make([]float64, dim+1)
	colPot := make([]float64, dim+1)
	colRow := make([]int, dim+1) // row currently holding each column
	prevCol := make([]int, dim+1)
	slack := make([]float64, dim+1)
	seen := make([]bool, dim+1)

	for row := 1; row <= dim; row++ {
		colRow[0] = row
		col := 0
		for j := 1; j <= dim; j++ {
			slack[j] = unreachable
			seen[j] = false
		}

		// Grow an alternating tree from row until it reaches a free column.
		for {
			seen[col] = true
			r := colRow[col]
			delta, next := unreachable, -1
			for j := 1; j <= dim; j++ {
				if seen[j] {
					continue
				}
				if reduced := c[r-1][j-1] - rowPot[r] - colPot[j]; reduced < slack[j] {
					slack[j] = reduced
					prevCol[j] = col
				}
				if slack[j] < delta {
					delta, next = slack[j], j
				}
			}
			if next < 0 {
				break
			}
			for j := 0; j <= dim; j++ {
				if seen[j] {
					rowPot[colRow[j]] += delta
					colPot[j] -= delta
				} else {
					slack[j] -= delta
				}
			}
			col = next
			if colRow[col] == 0 {
				break
			}
		}

		// Flip the augmenting path.
		for col != 0 {
			colRow[col] = colRow[prevCol[col]]
			col = prevCol[col]
		}
	}

	assign := make([]int, dim)
	for i := range assign {
		assign[i] = -1
	}
	for j := 1; j <= dim; j++ {
		if colRow[j] > 0 {
			assign[colRow[j]-1] = j - 1
		}
	}
	return assign
}

package l3dots

import (
	"sort"

	"github.com/banshee-data/gridwatch/internal/grid"
)

// MergeCandidates combines candidates lying within threshold of each other.
// Grouping is the transitive closure of the "within threshold" relation,
// so a chain of near neighbours collapses into one dot. Each group keeps
// the mean position, intensity and size and the maximum confidence.
//
// Averaging can pull two groups within range of each other, so merging
// repeats until no pair is closer than threshold. Every pass weights a
// group by the number of original candidates in it, so the means are
// always over the original members. The result is therefore idempotent,
// and it is sorted by position for deterministic output.
func MergeCandidates(dots []grid.DetectedDot, threshold float64) []grid.DetectedDot {
	out := make([]grid.DetectedDot, len(dots))
	copy(out, dots)
	counts := make([]int, len(dots))
	for i := range counts {
		counts[i] = 1
	}
	for {
		merged, mergedCounts, changed := mergePass(out, counts, threshold)
		out, counts = merged, mergedCounts
		if !changed {
			break
		}
	}
	sortDots(out)
	return out
}

// mergePass merges one round of groups. counts[i] is the number of
// original candidates dots[i] already stands for.
func mergePass(dots []grid.DetectedDot, counts []int, threshold float64) ([]grid.DetectedDot, []int, bool) {
	n := len(dots)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	changed := false
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if dots[i].Position.Dist(dots[j].Position) > threshold {
				continue
			}
			ri, rj := find(i), find(j)
			if ri != rj {
				parent[rj] = ri
				changed = true
			}
		}
	}
	if !changed {
		return dots, counts, false
	}

	groups := make(map[int][]int)
	order := make([]int, 0)
	for i := range dots {
		root := find(i)
		if _, ok := groups[root]; !ok {
			order = append(order, root)
		}
		groups[root] = append(groups[root], i)
	}

	out := make([]grid.DetectedDot, 0, len(order))
	outCounts := make([]int, 0, len(order))
	for _, root := range order {
		members := groups[root]
		if len(members) == 1 {
			out = append(out, dots[members[0]])
			outCounts = append(outCounts, counts[members[0]])
			continue
		}
		var m grid.DetectedDot
		total := 0
		for _, idx := range members {
			d, w := dots[idx], float64(counts[idx])
			m.Position = m.Position.Add(d.Position.Scale(w))
			m.Intensity += d.Intensity * w
			m.Size += d.Size * w
			if d.Confidence > m.Confidence {
				m.Confidence = d.Confidence
			}
			total += counts[idx]
		}
		k := float64(total)
		m.Position = m.Position.Scale(1 / k)
		m.Intensity /= k
		m.Size /= k
		out = append(out, m)
		outCounts = append(outCounts, total)
	}
	return out, outCounts, true
}

func sortDots(dots []grid.DetectedDot) {
	sort.SliceStable(dots, func(i, j int) bool {
		a, b := dots[i], dots[j]
		if a.Position.Y != b.Position.Y {
			return a.Position.Y < b.Position.Y
		}
		if a.Position.X != b.Position.X {
			return a.Position.X < b.Position.X
		}
		return a.Confidence > b.Confidence
	})
}

package compare

import (
	"math"

	"github.com/agenthands/annobridge/internal/core/geometry"
	"github.com/agenthands/annobridge/internal/core/model"
)

const (
	costScale       = 10000
	minMatchIoU     = 0.3
	infiniteCostPad = math.MaxInt64 / 4
)

// minCostAssignment solves the square assignment problem with the
// potentials form of the Hungarian algorithm. It returns, for each row, the
// column assigned to it.
func minCostAssignment(cost [][]int64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}

	u := make([]int64, n+1)
	v := make([]int64, n+1)
	p := make([]int, n+1)
	way := make([]int, n+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		minv := make([]int64, n+1)
		for j := range minv {
			minv[j] = infiniteCostPad
		}
		used := make([]bool, n+1)

		for {
			used[j0] = true
			i0, delta, j1 := p[j0], int64(infiniteCostPad), 0
			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				if cur := cost[i0-1][j-1] - u[i0] - v[j]; cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= n; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	rows := make([]int, n)
	for j := 1; j <= n; j++ {
		if p[j] != 0 {
			rows[p[j]-1] = j - 1
		}
	}
	return rows
}

type pair struct {
	orig, rest int
}

// matchAnnotations pairs original and restored annotations of one image by
// maximizing total bbox IoU. Pairs below minMatchIoU are discarded.
func matchAnnotations(orig, rest []model.CocoAnnotation) []pair {
	if len(orig) == 0 || len(rest) == 0 {
		return nil
	}

	// pad to square; dummy cells cost as much as a zero-IoU pairing
	size := max(len(orig), len(rest))
	cost := make([][]int64, size)
	for i := range cost {
		cost[i] = make([]int64, size)
		for j := range cost[i] {
			if i < len(orig) && j < len(rest) {
				cost[i][j] = int64((1 - geometry.IoU(orig[i].BBox, rest[j].BBox)) * costScale)
			} else {
				cost[i][j] = costScale
			}
		}
	}

	var pairs []pair
	for i, j := range minCostAssignment(cost) {
		if i >= len(orig) || j >= len(rest) {
			continue
		}
		if geometry.IoU(orig[i].BBox, rest[j].BBox) >= minMatchIoU {
			pairs = append(pairs, pair{orig: i, rest: j})
		}
	}
	return pairs
}

package reconcile

import (
	"sort"

	"github.com/agenthands/annobridge/internal/core/common"
	"github.com/agenthands/annobridge/internal/core/model"
)

// SortCanonical orders annotations by label, object id, then rounded
// geometry, with group as the final tie-break.
func SortCanonical(anns []model.Annotation, precision int) {
	keys := make([][]float64, len(anns))
	for i := range anns {
		keys[i] = geometryKey(anns[i], precision)
	}
	idx := make([]int, len(anns))
	for i := range idx {
		idx[i] = i
	}

	sort.SliceStable(idx, func(i, j int) bool {
		a, b := anns[idx[i]], anns[idx[j]]
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		if a.ObjectID != b.ObjectID {
			return a.ObjectID < b.ObjectID
		}
		if c := compareFloats(keys[idx[i]], keys[idx[j]]); c != 0 {
			return c < 0
		}
		return a.Group < b.Group
	})

	sorted := make([]model.Annotation, len(anns))
	for i, k := range idx {
		sorted[i] = anns[k]
	}
	copy(anns, sorted)
}

// geometryKey flattens present/absent markers and rounded coordinates of all
// geometry fields into one comparable tuple.
func geometryKey(a model.Annotation, precision int) []float64 {
	var k []float64
	put := func(vs ...float64) {
		for _, v := range vs {
			k = append(k, common.Round(v, precision))
		}
	}

	if b := a.Box2d; b != nil {
		put(1, b.Left, b.Top, b.Width, b.Height)
	} else {
		put(0)
	}
	if b := a.Box3d; b != nil {
		put(1, b.X, b.Y, b.Z, b.W, b.H, b.L)
	} else {
		put(0)
	}
	if m := a.Mask; m != nil {
		put(1, float64(len(m.Polygon)))
		for _, poly := range m.Polygon {
			put(float64(len(poly)))
			for _, p := range poly {
				put(p[0], p[1])
			}
		}
	} else {
		put(0)
	}
	return k
}

func compareFloats(a, b []float64) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

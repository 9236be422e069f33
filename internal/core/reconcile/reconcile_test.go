package reconcile

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/annobridge/internal/core/common"
	"github.com/agenthands/annobridge/internal/core/model"
)

func box(l, t, w, h float64) *model.Box2d {
	return &model.Box2d{Left: l, Top: t, Width: w, Height: h}
}

func mask(pts ...model.Point) *model.Mask {
	return &model.Mask{Polygon: [][]model.Point{pts}}
}

func TestFillNotOverwrite(t *testing.T) {
	b := box(0.1, 0.2, 0.3, 0.4)
	m := mask(model.Point{0.1, 0.1}, model.Point{0.2, 0.1}, model.Point{0.2, 0.2})

	groups, err := NewReconciler().Reconcile([]model.Annotation{
		{Name: "img1.jpg", Label: "x", ObjectID: "1", Group: "g", Box2d: b},
		{Name: "img1.jpg", Label: "x", ObjectID: "1", Group: "g", Mask: m},
	})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Annotations, 1)

	merged := groups[0].Annotations[0]
	assert.Equal(t, b, merged.Box2d)
	assert.Equal(t, m, merged.Mask)
	assert.Nil(t, merged.Box3d)
}

func TestFillKeepsExisting(t *testing.T) {
	dst := model.Annotation{Label: "x", Box2d: box(0.1, 0.1, 0.1, 0.1)}
	Fill(&dst, model.Annotation{Label: "x", Box2d: box(0.9, 0.9, 0.1, 0.1), Box3d: &model.Box3d{X: 1}, LabelIndex: 4})
	assert.Equal(t, 0.1, dst.Box2d.Left)
	require.NotNil(t, dst.Box3d)
	assert.Equal(t, 1.0, dst.Box3d.X)
	assert.Equal(t, 4, dst.LabelIndex)
}

func TestMergeWithoutObjectID(t *testing.T) {
	b := box(0.1, 0.2, 0.3, 0.4)
	m := mask(model.Point{0.1, 0.1}, model.Point{0.2, 0.1}, model.Point{0.2, 0.2})

	groups, err := NewReconciler().Reconcile([]model.Annotation{
		{Name: "img1.jpg", Label: "x", Group: "g", Box2d: b},
		{Name: "img1.jpg", Label: "x", Group: "g", Mask: m},
		{Name: "img1.jpg", Label: "x", Group: "g", Box2d: box(0.5, 0.5, 0.1, 0.1)},
		{Name: "img1.jpg", Label: "x", Group: "g", Box2d: b},
	})
	require.NoError(t, err)
	require.Len(t, groups, 1)

	// complementary fragments merge, a second box is a second object
	anns := groups[0].Annotations
	require.Len(t, anns, 2)
	assert.Equal(t, b, anns[0].Box2d)
	assert.Equal(t, m, anns[0].Mask)
	assert.Equal(t, 0.5, anns[1].Box2d.Left)
	assert.Nil(t, anns[1].Mask)
}

func TestIdempotent(t *testing.T) {
	fragments := []model.Annotation{
		{Name: "b.jpg", Label: "car", ObjectID: "7", Box2d: box(0.5, 0.5, 0.1, 0.1)},
		{Name: "a.jpg", Label: "person", ObjectID: "1", Box3d: &model.Box3d{X: 1, Y: 2, Z: 3, W: 1, H: 1, L: 1}},
		{Name: "a.jpg", Label: "person", ObjectID: "1", Box2d: box(0.1, 0.1, 0.2, 0.2)},
		{Name: "a.jpg", Label: "car", Box2d: box(0.3, 0.3, 0.1, 0.1)},
		{Name: "a.jpg", Label: "car", Box2d: box(0.3, 0.3, 0.1, 0.1)},
		{Name: "a.jpg", Label: "car", Box2d: box(0.2, 0.3, 0.1, 0.1)},
		{Name: "b.jpg", Label: "car", ObjectID: "7", Mask: mask(model.Point{0, 0}, model.Point{1, 0}, model.Point{1, 1})},
	}

	r := NewReconciler()
	first, err := r.Reconcile(fragments)
	require.NoError(t, err)

	var flat []model.Annotation
	for _, g := range first {
		flat = append(flat, g.Annotations...)
	}
	second, err := r.Reconcile(flat)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.Len(t, first, 2)
	assert.Equal(t, "a", first[0].Key)
	// exact duplicate without object id collapsed, distinct geometry kept
	require.Len(t, first[0].Annotations, 3)
	assert.Equal(t, "car", first[0].Annotations[0].Label)
	assert.Equal(t, 0.2, first[0].Annotations[0].Box2d.Left)
	assert.Equal(t, 0.3, first[0].Annotations[1].Box2d.Left)
	assert.Equal(t, "person", first[0].Annotations[2].Label)
	assert.NotNil(t, first[0].Annotations[2].Box2d)
	assert.NotNil(t, first[0].Annotations[2].Box3d)

	require.Len(t, first[1].Annotations, 1)
	assert.NotNil(t, first[1].Annotations[0].Mask)
}

func TestOrderIndependent(t *testing.T) {
	fragments := []model.Annotation{
		{Name: "a.jpg", Label: "car", ObjectID: "2", Box2d: box(0.4, 0.4, 0.1, 0.1)},
		{Name: "a.jpg", Label: "car", ObjectID: "1", Box2d: box(0.1, 0.1, 0.1, 0.1)},
		{Name: "a.jpg", Label: "bus", ObjectID: "9"},
	}
	reversed := []model.Annotation{fragments[2], fragments[1], fragments[0]}

	r := NewReconciler()
	a, err := r.Reconcile(fragments)
	require.NoError(t, err)
	b, err := r.Reconcile(reversed)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "bus", a[0].Annotations[0].Label)
	assert.Equal(t, "1", a[0].Annotations[1].ObjectID)
}

func TestDistinctGroupsNotMerged(t *testing.T) {
	groups, err := NewReconciler().Reconcile([]model.Annotation{
		{Name: "a.jpg", Label: "x", ObjectID: "1", Group: "train", Box2d: box(0, 0, 1, 1)},
		{Name: "a.jpg", Label: "x", ObjectID: "1", Group: "val", Box2d: box(0, 0, 1, 1)},
	})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Annotations, 2)
	assert.Equal(t, "train", groups[0].Annotations[0].Group)
}

func TestMissingImageAssociation(t *testing.T) {
	_, err := NewReconciler().Reconcile([]model.Annotation{
		{Name: "a.jpg", Label: "x"},
		{Label: "y"},
	})
	assert.True(t, errors.Is(err, common.ErrMissingImageAssociation))

	_, err = NewReconciler().ReconcileSamples([]model.Sample{{}})
	assert.True(t, errors.Is(err, common.ErrMissingImageAssociation))
}

func TestReconcileSamples(t *testing.T) {
	frame := 3
	rows := []model.Sample{
		{ImageName: "seq_3.jpg", Annotations: []model.Annotation{{Label: "car", ObjectID: "1", Box2d: box(0.1, 0.1, 0.1, 0.1)}}},
		{ImageName: "seq_3.jpg", Width: 640, Height: 480, SequenceName: "seq", FrameNumber: &frame,
			Annotations: []model.Annotation{{Label: "car", ObjectID: "1", Mask: mask(model.Point{0, 0}, model.Point{1, 0}, model.Point{1, 1})}}},
		{ImageName: "alone.png", Group: "val"},
	}

	out, err := NewReconciler().ReconcileSamples(rows)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "alone.png", out[0].ImageName)
	assert.Empty(t, out[0].Annotations)
	assert.Equal(t, "val", out[0].Group)

	s := out[1]
	assert.Equal(t, 640, s.Width)
	assert.Equal(t, "seq", s.SequenceName)
	require.NotNil(t, s.FrameNumber)
	assert.Equal(t, 3, *s.FrameNumber)
	require.Len(t, s.Annotations, 1)
	assert.NotNil(t, s.Annotations[0].Box2d)
	assert.NotNil(t, s.Annotations[0].Mask)
}

func TestMergeSamplesKeepsOrder(t *testing.T) {
	rows := []model.Sample{
		{ImageName: "b.jpg", Annotations: []model.Annotation{{Label: "y", ObjectID: "2", Box2d: box(0.1, 0.1, 0.1, 0.1)}}},
		{ImageName: "a.jpg", Width: 4, Annotations: []model.Annotation{{Label: "x", ObjectID: "1"}}},
		{ImageName: "b.jpg", Width: 8, Annotations: []model.Annotation{
			{Label: "a", ObjectID: "3"},
			{Label: "y", ObjectID: "2", Mask: mask(model.Point{0, 0}, model.Point{1, 0}, model.Point{1, 1})},
		}},
	}

	out, err := MergeSamples(rows)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "b.jpg", out[0].ImageName)
	assert.Equal(t, 8, out[0].Width)
	require.Len(t, out[0].Annotations, 2)
	assert.Equal(t, "y", out[0].Annotations[0].Label)
	assert.NotNil(t, out[0].Annotations[0].Box2d)
	assert.NotNil(t, out[0].Annotations[0].Mask)
	assert.Equal(t, "a", out[0].Annotations[1].Label)
	assert.Equal(t, "a.jpg", out[1].ImageName)
	assert.Len(t, rows[0].Annotations, 1)
}

func TestSortCanonicalRounding(t *testing.T) {
	anns := []model.Annotation{
		{Label: "a", Box2d: box(0.1000004, 0, 0, 0), Group: "z"},
		{Label: "a", Box2d: box(0.1, 0, 0, 0), Group: "b"},
	}
	SortCanonical(anns, 6)
	// geometry ties after rounding, group decides
	assert.Equal(t, "b", anns[0].Group)
}

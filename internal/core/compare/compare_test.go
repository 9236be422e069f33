package compare

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/annobridge/internal/core/model"
)

func snapshot(images map[string][]Entry, cats ...string) Snapshot {
	s := Snapshot{Images: images, Categories: map[string]struct{}{}}
	for _, c := range cats {
		s.Categories[c] = struct{}{}
	}
	return s
}

func TestCompareTolerance(t *testing.T) {
	before := snapshot(map[string][]Entry{
		"a": {{Label: "car", Box: [4]float64{0.1, 0.1, 0.2, 0.2}}},
	}, "car")
	after := snapshot(map[string][]Entry{
		"a": {{Label: "car", Box: [4]float64{0.12, 0.1, 0.2, 0.2}}},
	}, "car")

	r := NewComparator(0.02).Compare(before, after)
	assert.True(t, r.Match(), r.Differences)
	assert.Empty(t, r.Differences)

	r = NewComparator(0.01).Compare(before, after)
	assert.True(t, r.ImagesMatch)
	assert.True(t, r.CategoriesMatch)
	assert.False(t, r.AnnotationsMatch)
	assert.Len(t, r.Differences, 1)
}

func TestCompareOrderInsensitive(t *testing.T) {
	before := snapshot(map[string][]Entry{
		"a": {
			{Label: "person", Box: [4]float64{0.5, 0.5, 0.1, 0.1}},
			{Label: "car", Box: [4]float64{0.3, 0.1, 0.2, 0.2}},
			{Label: "car", Box: [4]float64{0.1, 0.1, 0.2, 0.2}},
		},
	}, "car", "person")
	after := snapshot(map[string][]Entry{
		"a": {
			{Label: "car", Box: [4]float64{0.1, 0.1, 0.2, 0.2}},
			{Label: "person", Box: [4]float64{0.5, 0.5, 0.1, 0.1}},
			{Label: "car", Box: [4]float64{0.3, 0.1, 0.2, 0.2}},
		},
	}, "person", "car")

	assert.True(t, NewComparator(DefaultTolerance).Compare(before, after).Match())
}

func TestCompareContinuesPastMismatch(t *testing.T) {
	before := snapshot(map[string][]Entry{
		"a": {{Label: "car"}},
		"b": {{Label: "car"}, {Label: "car"}},
		"c": {{Label: "dog"}},
	}, "car", "dog")
	after := snapshot(map[string][]Entry{
		"a": {{Label: "bus"}},
		"b": {{Label: "car"}},
		"d": {},
	}, "car", "bus")

	r := NewComparator(DefaultTolerance).Compare(before, after)
	assert.False(t, r.ImagesMatch)
	assert.False(t, r.CategoriesMatch)
	assert.False(t, r.AnnotationsMatch)
	require.Len(t, r.Differences, 4)
	assert.Equal(t, "image set differs: missing [c], extra [d]", r.Differences[0])
	assert.Equal(t, "category set differs: missing [dog], extra [bus]", r.Differences[1])
	assert.Contains(t, r.Differences[2], `image a: annotation 0: label "car" != "bus"`)
	assert.Equal(t, "image b: annotation count 2 != 1", r.Differences[3])
}

func dataset() model.CocoDataset {
	return model.CocoDataset{
		Images: []model.CocoImage{
			{ID: 1, Width: 640, Height: 480, FileName: "img1.jpg"},
			{ID: 2, Width: 800, Height: 600, FileName: "img2.jpg"},
		},
		Categories: []model.CocoCategory{{ID: 1, Name: "person"}, {ID: 2, Name: "car"}},
		Annotations: []model.CocoAnnotation{
			{ID: 1, ImageID: 1, CategoryID: 1, BBox: [4]float64{100, 50, 200, 150}},
			{ID: 2, ImageID: 2, CategoryID: 2, BBox: [4]float64{80, 60, 160, 120}},
		},
	}
}

func TestCompareDatasetsNormalizesDimensions(t *testing.T) {
	before := dataset()
	after := dataset()
	// same relative geometry at double resolution
	after.Images[0].Width, after.Images[0].Height = 1280, 960
	after.Annotations[0].BBox = [4]float64{200, 100, 400, 300}
	// renumbered ids and categories
	after.Categories = []model.CocoCategory{{ID: 7, Name: "car"}, {ID: 9, Name: "person"}}
	after.Annotations[0].CategoryID = 9
	after.Annotations[1].CategoryID = 7

	r := NewComparator(DefaultTolerance).CompareDatasets(before, after)
	assert.True(t, r.Match(), r.Differences)
}

func TestCompareDatasetsReportsSnapshotErrors(t *testing.T) {
	bad := dataset()
	bad.Images[1].FileName = "sub/img1.png"

	r := NewComparator(DefaultTolerance).CompareDatasets(dataset(), bad)
	assert.False(t, r.Match())
	require.Len(t, r.Differences, 1)
	assert.Contains(t, r.Differences[0], "duplicate image key")

	bad = dataset()
	bad.Annotations[0].CategoryID = 42
	r = NewComparator(DefaultTolerance).CompareDatasets(bad, dataset())
	assert.Contains(t, r.Differences[0], "unknown category")
}

func TestSnapshotFromSamples(t *testing.T) {
	samples := []model.Sample{
		{ImageName: "img1.jpg", Annotations: []model.Annotation{
			{Label: "person", Box2d: &model.Box2d{Left: 100.0 / 640, Top: 50.0 / 480, Width: 200.0 / 640, Height: 150.0 / 480}},
		}},
		{ImageName: "img2.jpg", Annotations: []model.Annotation{
			{Label: "car", Mask: &model.Mask{Polygon: [][]model.Point{{{0.1, 0.1}, {0.3, 0.1}, {0.3, 0.3}}}}},
		}},
	}
	snap, err := SnapshotFromSamples(samples)
	require.NoError(t, err)

	coco, err := SnapshotFromCoco(dataset())
	require.NoError(t, err)

	r := NewComparator(DefaultTolerance).Compare(coco, snap)
	assert.True(t, r.Match(), r.Differences)

	_, err = SnapshotFromSamples(append(samples, model.Sample{ImageName: "other/img1.png"}))
	assert.Error(t, err)
}

func TestMinCostAssignment(t *testing.T) {
	rows := minCostAssignment([][]int64{
		{4, 1, 3},
		{2, 0, 5},
		{3, 2, 2},
	})
	assert.Equal(t, []int{1, 0, 2}, rows)
	assert.Nil(t, minCostAssignment(nil))
}

func TestVerifyIdentical(t *testing.T) {
	ds := dataset()
	ds.Annotations[0].Segmentation = &model.CocoSegmentation{Polygons: [][]float64{{100, 50, 300, 50, 300, 200, 100, 200}}}

	v := Verify(ds, ds)
	assert.True(t, v.IsValid(), v.Summary())
	assert.Equal(t, 2, v.BBox.Matched)
	assert.Equal(t, 8, v.BBox.ErrorsByRange[0])
	assert.InDelta(t, 1.0, v.BBox.AvgIoU(), 1e-12)
	assert.Equal(t, 1, v.Masks.MatchedPairs)
	assert.InDelta(t, 1.0, v.Masks.AvgBoundsIoU(), 1e-12)
	assert.InDelta(t, 1.0, v.Masks.AvgAreaRatio(), 1e-12)
	assert.Empty(t, v.Categories.Missing)
	assert.Contains(t, v.Summary(), "PASSED")
}

func TestVerifyMatchesAcrossOrder(t *testing.T) {
	orig := dataset()
	orig.Annotations = append(orig.Annotations,
		model.CocoAnnotation{ID: 3, ImageID: 1, CategoryID: 2, BBox: [4]float64{400, 300, 100, 100}})

	rest := dataset()
	rest.Annotations = []model.CocoAnnotation{
		{ID: 10, ImageID: 1, CategoryID: 2, BBox: [4]float64{403, 300, 100, 100}},
		{ID: 11, ImageID: 1, CategoryID: 1, BBox: [4]float64{100, 50, 200, 150}},
		{ID: 12, ImageID: 2, CategoryID: 2, BBox: [4]float64{80, 60, 160, 120}},
	}

	v := Verify(orig, rest)
	assert.Equal(t, 3, v.BBox.Matched)
	assert.Equal(t, 0, v.BBox.Unmatched)
	assert.Equal(t, 1, v.BBox.ErrorsByRange[2])
	assert.Equal(t, 3.0, v.BBox.MaxError)
	assert.False(t, v.BBox.Valid(), "one coordinate off by 3px")
}

func TestVerifyMissingImagesAndCategories(t *testing.T) {
	orig := dataset()
	rest := dataset()
	rest.Images = rest.Images[:1]
	rest.Annotations = rest.Annotations[:1]
	rest.Categories = []model.CocoCategory{{ID: 1, Name: "person"}, {ID: 3, Name: "bus"}}

	v := Verify(orig, rest)
	assert.Equal(t, []string{"img2"}, v.MissingImages)
	assert.Equal(t, 1, v.BBox.Unmatched)
	assert.Equal(t, []string{"car"}, v.Categories.Missing)
	assert.Equal(t, []string{"bus"}, v.Categories.Extra)
	assert.False(t, v.IsValid())
}

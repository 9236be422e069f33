package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/annobridge/internal/config"
	"github.com/agenthands/annobridge/internal/core/common"
	"github.com/agenthands/annobridge/internal/core/model"
	"github.com/agenthands/annobridge/internal/core/sequence"
	"github.com/agenthands/annobridge/internal/driver"
)

func testDataset() *model.CocoDataset {
	return &model.CocoDataset{
		Images: []model.CocoImage{
			{ID: 1, Width: 640, Height: 480, FileName: "street_01.jpg"},
			{ID: 2, Width: 800, Height: 600, FileName: "street_02.jpg"},
			{ID: 3, Width: 320, Height: 240, FileName: "empty.jpg"},
		},
		Categories: []model.CocoCategory{{ID: 3, Name: "person"}, {ID: 7, Name: "car"}},
		Annotations: []model.CocoAnnotation{
			{ID: 10, ImageID: 1, CategoryID: 3, BBox: [4]float64{100, 50, 200, 150}, Area: 30000,
				Segmentation: &model.CocoSegmentation{Polygons: [][]float64{{100, 50, 300, 50, 300, 200, 100, 200}}}},
			{ID: 11, ImageID: 1, CategoryID: 7, BBox: [4]float64{12.5, 300.25, 80, 40}, Area: 3200},
			{ID: 12, ImageID: 2, CategoryID: 7, BBox: [4]float64{0, 0, 800, 600}, Area: 480000},
		},
	}
}

func newTestBridge(d driver.GraphDriver, table driver.SampleTable) *Bridge {
	cfg := config.Default()
	cfg.Conversion.Workers = 2
	b := NewBridge(d, table, cfg)
	n := 0
	b.UUIDGenerator = func() string {
		n++
		return fmt.Sprintf("obj-%d", n)
	}
	return b
}

func TestImportExportRoundTrip(t *testing.T) {
	mock := &MockDriver{}
	b := newTestBridge(mock, nil)
	ctx := context.Background()

	n, err := b.ImportCoco(ctx, "ds-1", testDataset(), "train")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// three boxes plus one mask
	shapes := 0
	for _, c := range mock.CallsTo(driver.SaveShapesQuery) {
		shapes += len(c.Params["shapes"].([]map[string]interface{}))
	}
	assert.Equal(t, 4, shapes)
	assert.Len(t, mock.CallsTo(driver.SaveSampleQuery), 3)

	mock.Replay()
	samples, err := b.FetchSamples(ctx, "ds-1", nil)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, "empty.jpg", samples[0].ImageName)
	assert.Empty(t, samples[0].Annotations)
	assert.Equal(t, "train", samples[1].Group)
	require.Len(t, samples[1].Annotations, 2)

	_, rt, err := b.VerifyRoundTrip(ctx, "ds-1", testDataset(), nil)
	require.NoError(t, err)
	assert.True(t, rt.Report.Match(), rt.Report.Differences)
	assert.True(t, rt.Verification.IsValid(), rt.Verification.Summary())

	restored, err := b.ExportCoco(ctx, "ds-1", nil)
	require.NoError(t, err)
	ids := map[string]int{}
	for _, c := range restored.Categories {
		ids[c.Name] = c.ID
	}
	assert.Equal(t, map[string]int{"person": 3, "car": 7}, ids)
}

func TestSaveSamplesAssignsIdentifiers(t *testing.T) {
	mock := &MockDriver{}
	b := newTestBridge(mock, nil)

	samples := []model.Sample{{
		ImageName: "seq_003.jpg", Width: 100, Height: 100, SequenceName: "seq",
		Annotations: []model.Annotation{{Label: "x", Box2d: &model.Box2d{Width: 0.5, Height: 0.5}}},
	}}
	_, err := b.SaveSamples(context.Background(), "ds", samples)
	require.NoError(t, err)

	saved := mock.CallsTo(driver.SaveSampleQuery)
	require.Len(t, saved, 1)
	assert.Equal(t, sequence.Derive("ds", "seq").String(), saved[0].Params["sequence_uuid"])
	assert.Equal(t, 3, saved[0].Params["frame_number"])

	shapes := mock.CallsTo(driver.SaveShapesQuery)[0].Params["shapes"].([]map[string]interface{})
	require.Len(t, shapes, 1)
	assert.Equal(t, "obj-1", shapes[0]["object_id"])
	assert.Equal(t, driver.ShapeBox2d, shapes[0]["kind"])

	// caller's samples stay untouched
	assert.Empty(t, samples[0].Annotations[0].ObjectID)
	assert.Nil(t, samples[0].SequenceUUID)
}

func TestSaveSamplesStableShapeIDs(t *testing.T) {
	mock := &MockDriver{}
	b := newTestBridge(mock, nil)
	s := model.Sample{ImageName: "a.jpg", Width: 10, Height: 10, Annotations: []model.Annotation{
		{ObjectID: "7", Label: "x", Box2d: &model.Box2d{Width: 0.5, Height: 0.5}, Mask: &model.Mask{Polygon: [][]model.Point{{{0, 0}, {1, 0}, {1, 1}}}}},
	}}

	for i := 0; i < 2; i++ {
		_, err := b.SaveSamples(context.Background(), "ds", []model.Sample{s})
		require.NoError(t, err)
	}
	calls := mock.CallsTo(driver.SaveShapesQuery)
	require.Len(t, calls, 2)
	first := calls[0].Params["shapes"].([]map[string]interface{})
	second := calls[1].Params["shapes"].([]map[string]interface{})
	require.Len(t, first, 2)
	assert.Equal(t, first[0]["uuid"], second[0]["uuid"])
	assert.NotEqual(t, first[0]["uuid"], first[1]["uuid"])
}

func TestSaveSamplesClearsStrayFrame(t *testing.T) {
	mock := &MockDriver{}
	b := newTestBridge(mock, nil)
	frame := 2
	_, err := b.SaveSamples(context.Background(), "ds", []model.Sample{{ImageName: "a.jpg", Width: 1, Height: 1, FrameNumber: &frame}})
	require.NoError(t, err)
	saved := mock.CallsTo(driver.SaveSampleQuery)
	require.Len(t, saved, 1)
	assert.Nil(t, saved[0].Params["frame_number"])
	assert.Nil(t, saved[0].Params["sequence_uuid"])
	assert.Empty(t, mock.CallsTo(driver.SaveShapesQuery))
}

func TestFetchSamplesReconcilesFragments(t *testing.T) {
	row := func(kind, geometry string) *neo4j.Record {
		return &neo4j.Record{Keys: shapeKeys, Values: []interface{}{
			"img.jpg", int64(100), int64(50), "val", "", nil, nil,
			"obj", "car", int64(2), "val", kind, geometry,
		}}
	}
	mock := &MockDriver{Results: map[string]neo4j.EagerResult{
		driver.GetShapesQuery: {Records: []*neo4j.Record{
			row(driver.ShapeBox2d, `{"x":0.1,"y":0.2,"w":0.3,"h":0.4}`),
			row(driver.ShapeMask, `{"polygon":[[[0.1,0.2],[0.4,0.2],[0.4,0.6]]]}`),
			row(driver.ShapeBox3d, `{"x":1,"y":2,"z":3,"w":4,"h":5,"l":6}`),
		}},
	}}
	b := newTestBridge(mock, nil)

	samples, err := b.FetchSamples(context.Background(), "ds", []string{"val"})
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 100, samples[0].Width)
	require.Len(t, samples[0].Annotations, 1)
	a := samples[0].Annotations[0]
	assert.Equal(t, &model.Box2d{Left: 0.1, Top: 0.2, Width: 0.3, Height: 0.4}, a.Box2d)
	assert.Equal(t, 6.0, a.Box3d.L)
	require.NotNil(t, a.Mask)
	assert.Len(t, a.Mask.Polygon[0], 3)
	assert.Equal(t, 2, a.LabelIndex)

	params := mock.CallsTo(driver.GetShapesQuery)[0].Params
	assert.Equal(t, []string{"val"}, params["groups"])
}

func TestFetchSamplesInvalidRows(t *testing.T) {
	cases := map[string][]interface{}{
		"unknown kind":  {"a.jpg", int64(1), int64(1), "", "", nil, nil, "1", "x", int64(1), "", "polyline", "{}"},
		"bad geometry":  {"a.jpg", int64(1), int64(1), "", "", nil, nil, "1", "x", int64(1), "", "box2d", "{"},
		"bad sequence":  {"a.jpg", int64(1), int64(1), "", "s", "not-a-uuid", nil, "1", "x", int64(1), "", "box2d", "{}"},
		"no image name": {"", int64(1), int64(1), "", "", nil, nil, "1", "x", int64(1), "", "box2d", "{}"},
	}
	for name, values := range cases {
		t.Run(name, func(t *testing.T) {
			mock := &MockDriver{Results: map[string]neo4j.EagerResult{
				driver.GetShapesQuery: {Records: []*neo4j.Record{{Keys: shapeKeys, Values: values}}},
			}}
			_, err := newTestBridge(mock, nil).FetchSamples(context.Background(), "ds", nil)
			require.Error(t, err)
			assert.True(t, common.IsTaxonomy(err), err)
		})
	}
}

func TestBridgeStoreErrors(t *testing.T) {
	ctx := context.Background()
	b := newTestBridge(nil, nil)
	_, err := b.ImportCoco(ctx, "ds", testDataset(), "")
	assert.ErrorIs(t, err, ErrNoStore)
	_, err = b.ExportCoco(ctx, "ds", nil)
	assert.ErrorIs(t, err, ErrNoStore)
	assert.ErrorIs(t, b.BuildIndices(ctx), ErrNoStore)
	_, err = b.LoadTable(ctx, nil)
	assert.ErrorIs(t, err, ErrNoTable)

	boom := errors.New("connection refused")
	b = newTestBridge(&MockDriver{Err: boom}, nil)
	_, err = b.ImportCoco(ctx, "ds", testDataset(), "")
	assert.ErrorIs(t, err, boom)
	_, err = b.FetchSamples(ctx, "ds", nil)
	assert.ErrorIs(t, err, boom)
}

func TestRoundTripTable(t *testing.T) {
	table := &MockTable{}
	b := newTestBridge(nil, table)

	restored, rt, err := b.RoundTripTable(context.Background(), "ds", testDataset(), "")
	require.NoError(t, err)
	assert.Len(t, restored.Images, 3)
	assert.Len(t, restored.Annotations, 3)
	assert.True(t, rt.Report.Match(), rt.Report.Differences)
	assert.True(t, rt.Verification.IsValid(), rt.Verification.Summary())
	// one row per annotation plus the empty image
	assert.Len(t, table.Rows, 4)
}

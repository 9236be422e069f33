package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentationUnmarshal(t *testing.T) {
	var poly CocoSegmentation
	require.NoError(t, json.Unmarshal([]byte(`[[1,2,3,4,5,6]]`), &poly))
	assert.True(t, poly.IsPolygon())
	assert.Equal(t, [][]float64{{1, 2, 3, 4, 5, 6}}, poly.Polygons)

	var rle CocoSegmentation
	require.NoError(t, json.Unmarshal([]byte(`{"counts":[3,3,3],"size":[3,3]}`), &rle))
	require.NotNil(t, rle.RLE)
	assert.Equal(t, []int{3, 3, 3}, rle.RLE.Counts)
	assert.Equal(t, [2]int{3, 3}, rle.RLE.Size)

	var compressed CocoSegmentation
	require.NoError(t, json.Unmarshal([]byte(`{"size":[480,640],"counts":"PPYo05"}`), &compressed))
	require.NotNil(t, compressed.CompressedRLE)
	assert.Equal(t, "PPYo05", compressed.CompressedRLE.Counts)
	assert.False(t, compressed.IsPolygon())

	var bad CocoSegmentation
	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &bad))
}

func TestSegmentationMarshal(t *testing.T) {
	ann := CocoAnnotation{ID: 1, Segmentation: &CocoSegmentation{RLE: &CocoRLE{Counts: []int{1, 2}, Size: [2]int{1, 3}}}}
	data, err := json.Marshal(ann)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"segmentation":{"counts":[1,2],"size":[1,3]}`)

	data, err = json.Marshal(CocoSegmentation{})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	ann.Segmentation = nil
	data, err = json.Marshal(ann)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "segmentation")
}

package geometry

import (
	"math"

	"github.com/agenthands/annobridge/internal/core/model"
)

// PolygonArea is the shoelace area of a flat [x1,y1,x2,y2,...] polygon.
func PolygonArea(flat []float64) float64 {
	n := len(flat) / 2
	if n < MinPolygonPoints {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += flat[2*i]*flat[2*j+1] - flat[2*j]*flat[2*i+1]
	}
	return math.Abs(sum / 2)
}

// SegmentationArea is the summed polygon area, or the foreground pixel count
// for RLE.
func SegmentationArea(seg model.CocoSegmentation) (float64, error) {
	bm, isRLE, err := SegmentationBitmap(seg)
	if err != nil {
		return 0, err
	}
	if isRLE {
		return float64(bm.Count()), nil
	}
	var total float64
	for _, p := range seg.Polygons {
		total += PolygonArea(p)
	}
	return total, nil
}

// SegmentationBounds returns [minX, minY, maxX, maxY] in pixels.
func SegmentationBounds(seg model.CocoSegmentation) ([4]float64, bool) {
	bm, isRLE, err := SegmentationBitmap(seg)
	if err != nil {
		return [4]float64{}, false
	}
	if isRLE {
		return bm.Bounds()
	}

	b := [4]float64{math.MaxFloat64, math.MaxFloat64, -math.MaxFloat64, -math.MaxFloat64}
	found := false
	for _, flat := range seg.Polygons {
		for i := 0; i+1 < len(flat); i += 2 {
			b[0], b[2] = min(b[0], flat[i]), max(b[2], flat[i])
			b[1], b[3] = min(b[1], flat[i+1]), max(b[3], flat[i+1])
			found = true
		}
	}
	return b, found
}

// IoU is the intersection over union of two [x, y, w, h] boxes.
func IoU(a, b [4]float64) float64 {
	return cornerIoU(
		[4]float64{a[0], a[1], a[0] + a[2], a[1] + a[3]},
		[4]float64{b[0], b[1], b[0] + b[2], b[1] + b[3]},
	)
}

// BoundsIoU is IoU over [minX, minY, maxX, maxY] corner boxes.
func BoundsIoU(a, b [4]float64) float64 {
	return cornerIoU(a, b)
}

func cornerIoU(a, b [4]float64) float64 {
	iw := math.Max(0, math.Min(a[2], b[2])-math.Max(a[0], b[0]))
	ih := math.Max(0, math.Min(a[3], b[3])-math.Max(a[1], b[1]))
	inter := iw * ih
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

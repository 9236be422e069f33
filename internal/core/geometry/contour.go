package geometry

import (
	"github.com/agenthands/annobridge/internal/core/model"
)

// 8-neighbourhood, clockwise from east in image coordinates.
var (
	stepX = [8]int{1, 1, 0, -1, -1, -1, 0, 1}
	stepY = [8]int{0, 1, 1, 1, 0, -1, -1, -1}
)

// Contours traces outer boundaries of the foreground regions in a bitmap.
// Each contour is a list of pixel coordinates; contours shorter than three
// points are discarded.
func Contours(bm Bitmap) [][]model.Point {
	var out [][]model.Point
	visited := make([]bool, len(bm.Pixels))

	for y := 0; y < bm.Height; y++ {
		for x := 0; x < bm.Width; x++ {
			idx := y*bm.Width + x
			if bm.Pixels[idx] == 0 || visited[idx] || !bm.onBoundary(x, y) {
				continue
			}
			if c := bm.trace(x, y, visited); len(c) >= MinPolygonPoints {
				out = append(out, c)
			}
		}
	}
	return out
}

func (b Bitmap) onBoundary(x, y int) bool {
	if x == 0 || y == 0 || x == b.Width-1 || y == b.Height-1 {
		return true
	}
	return b.At(x-1, y) == 0 || b.At(x+1, y) == 0 || b.At(x, y-1) == 0 || b.At(x, y+1) == 0
}

func (b Bitmap) inside(x, y int) bool {
	return x >= 0 && y >= 0 && x < b.Width && y < b.Height && b.At(x, y) == 1
}

func (b Bitmap) trace(startX, startY int, visited []bool) []model.Point {
	var contour []model.Point
	x, y, dir := startX, startY, 0
	limit := b.Width * b.Height

	for steps := 0; steps <= limit; steps++ {
		if idx := y*b.Width + x; !visited[idx] {
			visited[idx] = true
			contour = append(contour, model.Point{float64(x), float64(y)})
		}

		found := false
		for i := 0; i < 8; i++ {
			d := (dir + i) % 8
			nx, ny := x+stepX[d], y+stepY[d]
			if b.inside(nx, ny) {
				x, y = nx, ny
				// back up and resume the sweep just past where we came from
				dir = (d + 5) % 8
				found = true
				break
			}
		}
		if !found || (x == startX && y == startY && len(contour) > 2) {
			break
		}
	}
	return contour
}

// BitmapToMask traces a decoded RLE mask and normalizes the contours against
// the image size.
func BitmapToMask(bm Bitmap, width, height int) (model.Mask, error) {
	if err := checkDims(width, height); err != nil {
		return model.Mask{}, err
	}
	w, h := float64(width), float64(height)

	mask := model.Mask{Polygon: [][]model.Point{}}
	for _, c := range Contours(bm) {
		poly := make([]model.Point, len(c))
		for i, p := range c {
			poly[i] = model.Point{p[0] / w, p[1] / h}
		}
		mask.Polygon = append(mask.Polygon, poly)
	}
	return mask, nil
}

// SegmentationToMask converts any COCO segmentation into a normalized Mask.
func SegmentationToMask(seg model.CocoSegmentation, width, height int) (model.Mask, error) {
	bm, isRLE, err := SegmentationBitmap(seg)
	if err != nil {
		return model.Mask{}, err
	}
	if isRLE {
		return BitmapToMask(bm, width, height)
	}
	return PolygonsToMask(seg.Polygons, width, height)
}

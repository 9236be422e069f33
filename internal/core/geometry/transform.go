// Package geometry converts boxes and polygons between pixel space (origin at
// the top-left corner, absolute units) and normalized space (fractions of the
// image width and height).
//
// All functions are pure. No clamping is performed: out-of-bounds geometry is
// preserved as-is and values are never rounded.
package geometry

import (
	"github.com/agenthands/annobridge/internal/core/common"
	"github.com/agenthands/annobridge/internal/core/model"
)

// MinPolygonPoints is the smallest number of vertices that can enclose a region.
const MinPolygonPoints = 3

func checkDims(width, height int) error {
	if width <= 0 || height <= 0 {
		return common.InvalidGeometry("image dimensions must be positive, got %dx%d", width, height)
	}
	return nil
}

// ToNormalized divides a pixel [x, y, w, h] box by the image size.
func ToNormalized(bbox [4]float64, width, height int) (model.Box2d, error) {
	if err := checkDims(width, height); err != nil {
		return model.Box2d{}, err
	}
	w, h := float64(width), float64(height)
	return model.Box2d{
		Left:   bbox[0] / w,
		Top:    bbox[1] / h,
		Width:  bbox[2] / w,
		Height: bbox[3] / h,
	}, nil
}

// ToPixels is the inverse of ToNormalized.
func ToPixels(box model.Box2d, width, height int) ([4]float64, error) {
	if err := checkDims(width, height); err != nil {
		return [4]float64{}, err
	}
	w, h := float64(width), float64(height)
	return [4]float64{box.Left * w, box.Top * h, box.Width * w, box.Height * h}, nil
}

// PolygonsToMask normalizes flat pixel polygons [x1,y1,x2,y2,...]. Polygons
// with fewer than three points are dropped; a trailing unpaired scalar is
// ignored.
func PolygonsToMask(polygons [][]float64, width, height int) (model.Mask, error) {
	if err := checkDims(width, height); err != nil {
		return model.Mask{}, err
	}
	w, h := float64(width), float64(height)

	mask := model.Mask{Polygon: [][]model.Point{}}
	for _, flat := range polygons {
		n := len(flat) / 2
		if n < MinPolygonPoints {
			continue
		}
		poly := make([]model.Point, n)
		for i := 0; i < n; i++ {
			poly[i] = model.Point{flat[2*i] / w, flat[2*i+1] / h}
		}
		mask.Polygon = append(mask.Polygon, poly)
	}
	return mask, nil
}

// MaskToPolygons converts normalized polygons back to flat pixel polygons,
// dropping any with fewer than three points.
func MaskToPolygons(mask model.Mask, width, height int) ([][]float64, error) {
	if err := checkDims(width, height); err != nil {
		return nil, err
	}
	w, h := float64(width), float64(height)

	out := make([][]float64, 0, len(mask.Polygon))
	for _, poly := range mask.Polygon {
		if len(poly) < MinPolygonPoints {
			continue
		}
		flat := make([]float64, 0, 2*len(poly))
		for _, p := range poly {
			flat = append(flat, p[0]*w, p[1]*h)
		}
		out = append(out, flat)
	}
	return out, nil
}

// ValidateBBox checks that a pixel box has positive size and lies within the
// image, allowing one pixel of slack on every side.
func ValidateBBox(bbox [4]float64, width, height int) error {
	const epsilon = 1.0
	x, y, w, h := bbox[0], bbox[1], bbox[2], bbox[3]

	if w <= 0 || h <= 0 {
		return common.InvalidGeometry("bbox width and height must be positive: w=%g, h=%g", w, h)
	}
	if x < -epsilon || y < -epsilon {
		return common.InvalidGeometry("bbox has negative coordinates: x=%g, y=%g", x, y)
	}
	if x+w > float64(width)+epsilon || y+h > float64(height)+epsilon {
		return common.InvalidGeometry("bbox [%g, %g, %g, %g] exceeds %dx%d image", x, y, w, h, width, height)
	}
	return nil
}

// MaskBounds returns the normalized bounding box of all mask vertices.
func MaskBounds(mask model.Mask) (model.Box2d, bool) {
	var minX, minY, maxX, maxY float64
	found := false
	for _, poly := range mask.Polygon {
		for _, p := range poly {
			if !found {
				minX, maxX, minY, maxY = p[0], p[0], p[1], p[1]
				found = true
				continue
			}
			minX = min(minX, p[0])
			maxX = max(maxX, p[0])
			minY = min(minY, p[1])
			maxY = max(maxY, p[1])
		}
	}
	if !found {
		return model.Box2d{}, false
	}
	return model.Box2d{Left: minX, Top: minY, Width: maxX - minX, Height: maxY - minY}, true
}

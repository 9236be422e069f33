package compare

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/agenthands/annobridge/internal/core/common"
	"github.com/agenthands/annobridge/internal/core/geometry"
	"github.com/agenthands/annobridge/internal/core/model"
)

// BBoxStats aggregates pixel errors of matched annotation pairs.
type BBoxStats struct {
	Matched   int `json:"matched"`
	Unmatched int `json:"unmatched"`
	// per coordinate: <1px, <2px, <5px, <10px, >=10px
	ErrorsByRange [5]int  `json:"errors_by_range"`
	MaxError      float64 `json:"max_error"`
	SumIoU        float64 `json:"sum_iou"`
}

func (s BBoxStats) Within1pxRate() float64 {
	if s.Matched == 0 {
		return 1
	}
	return float64(s.ErrorsByRange[0]) / float64(4*s.Matched)
}

func (s BBoxStats) AvgIoU() float64 {
	if s.Matched == 0 {
		return 1
	}
	return s.SumIoU / float64(s.Matched)
}

func (s BBoxStats) MatchRate() float64 {
	total := s.Matched + s.Unmatched
	if total == 0 {
		return 1
	}
	return float64(s.Matched) / float64(total)
}

func (s BBoxStats) Valid() bool {
	return s.Within1pxRate() > 0.99 && s.MatchRate() > 0.95 && s.AvgIoU() > 0.95
}

// MaskStats aggregates segmentation preservation of matched pairs.
type MaskStats struct {
	OriginalWithSeg int     `json:"original_with_seg"`
	RestoredWithSeg int     `json:"restored_with_seg"`
	MatchedPairs    int     `json:"matched_pairs"`
	PolygonPairs    int     `json:"polygon_pairs"`
	RLEPairs        int     `json:"rle_pairs"`
	PartCountMatch  int     `json:"part_count_match"`
	ZeroArea        int     `json:"zero_area"`
	SumAreaRatio    float64 `json:"sum_area_ratio"`
	SumBoundsIoU    float64 `json:"sum_bounds_iou"`
}

func (s MaskStats) PreservationRate() float64 {
	if s.OriginalWithSeg == 0 {
		return 1
	}
	return float64(s.RestoredWithSeg) / float64(s.OriginalWithSeg)
}

func (s MaskStats) AvgAreaRatio() float64 {
	n := s.MatchedPairs - s.ZeroArea
	if n <= 0 {
		return 1
	}
	return s.SumAreaRatio / float64(n)
}

func (s MaskStats) AvgBoundsIoU() float64 {
	if s.MatchedPairs == 0 {
		return 1
	}
	return s.SumBoundsIoU / float64(s.MatchedPairs)
}

func (s MaskStats) Valid() bool {
	return s.PreservationRate() > 0.95 && s.AvgBoundsIoU() > 0.90
}

type CategoryStats struct {
	Missing []string `json:"missing"`
	Extra   []string `json:"extra"`
}

// Verification is a detailed pixel-space comparison of an original dataset
// and its restored copy.
type Verification struct {
	OriginalImages      int           `json:"original_images"`
	RestoredImages      int           `json:"restored_images"`
	MissingImages       []string      `json:"missing_images"`
	ExtraImages         []string      `json:"extra_images"`
	OriginalAnnotations int           `json:"original_annotations"`
	RestoredAnnotations int           `json:"restored_annotations"`
	BBox                BBoxStats     `json:"bbox"`
	Masks               MaskStats     `json:"masks"`
	Categories          CategoryStats `json:"categories"`
}

func (v Verification) IsValid() bool {
	return len(v.MissingImages) == 0 && len(v.ExtraImages) == 0 && v.BBox.Valid() && v.Masks.Valid()
}

func (v Verification) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "images: %d/%d (missing %d, extra %d)\n",
		v.RestoredImages, v.OriginalImages, len(v.MissingImages), len(v.ExtraImages))
	fmt.Fprintf(&sb, "annotations: %d/%d\n", v.RestoredAnnotations, v.OriginalAnnotations)
	fmt.Fprintf(&sb, "bbox: matched %d (%.1f%%), within 1px %.1f%%, avg IoU %.4f, max error %.2fpx\n",
		v.BBox.Matched, 100*v.BBox.MatchRate(), 100*v.BBox.Within1pxRate(), v.BBox.AvgIoU(), v.BBox.MaxError)
	fmt.Fprintf(&sb, "masks: preserved %.1f%%, avg bounds IoU %.4f, avg area ratio %.4f\n",
		100*v.Masks.PreservationRate(), v.Masks.AvgBoundsIoU(), v.Masks.AvgAreaRatio())
	if len(v.Categories.Missing) > 0 || len(v.Categories.Extra) > 0 {
		fmt.Fprintf(&sb, "categories: missing %v, extra %v\n", v.Categories.Missing, v.Categories.Extra)
	}
	if v.IsValid() {
		sb.WriteString("result: PASSED")
	} else {
		sb.WriteString("result: FAILED")
	}
	return sb.String()
}

// Verify matches annotations image by image with an optimal IoU assignment
// and collects bbox, mask and category statistics.
func Verify(original, restored model.CocoDataset) Verification {
	v := Verification{
		OriginalImages:      len(original.Images),
		RestoredImages:      len(restored.Images),
		OriginalAnnotations: len(original.Annotations),
		RestoredAnnotations: len(restored.Annotations),
	}

	origByKey := annotationsByKey(original)
	restByKey := annotationsByKey(restored)
	v.MissingImages, v.ExtraImages = setDiff(imageKeys(original), imageKeys(restored))

	for _, a := range original.Annotations {
		if a.Segmentation != nil {
			v.Masks.OriginalWithSeg++
		}
	}
	for _, a := range restored.Annotations {
		if a.Segmentation != nil {
			v.Masks.RestoredWithSeg++
		}
	}

	keys := make([]string, 0, len(origByKey))
	for k := range origByKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		orig := origByKey[k]
		rest, ok := restByKey[k]
		if !ok {
			v.BBox.Unmatched += len(orig)
			continue
		}
		pairs := matchAnnotations(orig, rest)
		v.BBox.Unmatched += len(orig) - len(pairs)
		for _, p := range pairs {
			v.BBox.observe(orig[p.orig].BBox, rest[p.rest].BBox)
			v.Masks.observe(orig[p.orig].Segmentation, rest[p.rest].Segmentation)
		}
	}

	v.Categories.Missing, v.Categories.Extra = setDiff(categoryNames(original), categoryNames(restored))
	return v
}

func (s *BBoxStats) observe(a, b [4]float64) {
	s.Matched++
	s.SumIoU += geometry.IoU(a, b)
	for i := range a {
		e := math.Abs(a[i] - b[i])
		s.MaxError = math.Max(s.MaxError, e)
		switch {
		case e < 1:
			s.ErrorsByRange[0]++
		case e < 2:
			s.ErrorsByRange[1]++
		case e < 5:
			s.ErrorsByRange[2]++
		case e < 10:
			s.ErrorsByRange[3]++
		default:
			s.ErrorsByRange[4]++
		}
	}
}

func (s *MaskStats) observe(a, b *model.CocoSegmentation) {
	if a == nil || b == nil {
		return
	}
	s.MatchedPairs++
	if a.IsPolygon() {
		s.PolygonPairs++
		if b.IsPolygon() && len(a.Polygons) == len(b.Polygons) {
			s.PartCountMatch++
		}
	} else {
		s.RLEPairs++
	}

	areaA, errA := geometry.SegmentationArea(*a)
	areaB, errB := geometry.SegmentationArea(*b)
	if errA == nil && errB == nil && areaA > 0 && areaB > 0 {
		s.SumAreaRatio += areaB / areaA
	} else {
		s.ZeroArea++
	}

	ba, okA := geometry.SegmentationBounds(*a)
	bb, okB := geometry.SegmentationBounds(*b)
	if okA && okB {
		s.SumBoundsIoU += geometry.BoundsIoU(ba, bb)
	}
}

func annotationsByKey(ds model.CocoDataset) map[string][]model.CocoAnnotation {
	keys := make(map[int64]string, len(ds.Images))
	for _, img := range ds.Images {
		keys[img.ID] = common.ImageKey(img.FileName)
	}
	out := make(map[string][]model.CocoAnnotation)
	for _, a := range ds.Annotations {
		if k, ok := keys[a.ImageID]; ok {
			out[k] = append(out[k], a)
		}
	}
	return out
}

func imageKeys(ds model.CocoDataset) map[string]struct{} {
	out := make(map[string]struct{}, len(ds.Images))
	for _, img := range ds.Images {
		out[common.ImageKey(img.FileName)] = struct{}{}
	}
	return out
}

func categoryNames(ds model.CocoDataset) map[string]struct{} {
	out := make(map[string]struct{}, len(ds.Categories))
	for _, c := range ds.Categories {
		out[c.Name] = struct{}{}
	}
	return out
}

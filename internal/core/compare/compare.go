// Package compare diffs two annotation collections for round-trip
// verification. Mismatches are data, not errors: Compare always returns a
// Report.
package compare

import (
	"fmt"
	"math"
	"sort"

	"github.com/agenthands/annobridge/internal/core/common"
	"github.com/agenthands/annobridge/internal/core/geometry"
	"github.com/agenthands/annobridge/internal/core/model"
)

const (
	DefaultTolerance = 0.02
	// slack for binary representation of decimal tolerances
	toleranceEpsilon = 1e-9
)

// Entry is one annotation reduced to what survives any format: its label and
// normalized box.
type Entry struct {
	Label string
	Box   [4]float64
}

// Snapshot maps image key to entries, plus the category names in use.
type Snapshot struct {
	Images     map[string][]Entry
	Categories map[string]struct{}
}

func newSnapshot() Snapshot {
	return Snapshot{Images: make(map[string][]Entry), Categories: make(map[string]struct{})}
}

// SnapshotFromCoco normalizes a COCO dataset against each image's size.
func SnapshotFromCoco(ds model.CocoDataset) (Snapshot, error) {
	snap := newSnapshot()

	cats := make(map[int]string, len(ds.Categories))
	for _, c := range ds.Categories {
		cats[c.ID] = c.Name
		snap.Categories[c.Name] = struct{}{}
	}

	type imageRef struct {
		key           string
		width, height int
	}
	images := make(map[int64]imageRef, len(ds.Images))
	for _, img := range ds.Images {
		key := common.ImageKey(img.FileName)
		if key == "" {
			return Snapshot{}, common.MissingImageAssociation("image %d has no file_name", img.ID)
		}
		if _, dup := snap.Images[key]; dup {
			return Snapshot{}, common.DuplicateImageKey("image key %q used by more than one image", key)
		}
		snap.Images[key] = []Entry{}
		images[img.ID] = imageRef{key: key, width: img.Width, height: img.Height}
	}

	for _, ann := range ds.Annotations {
		ref, ok := images[ann.ImageID]
		if !ok {
			return Snapshot{}, common.MissingImageAssociation("annotation %d references unknown image %d", ann.ID, ann.ImageID)
		}
		label, ok := cats[ann.CategoryID]
		if !ok {
			return Snapshot{}, common.UnknownCategory("annotation %d references category %d", ann.ID, ann.CategoryID)
		}
		box, err := geometry.ToNormalized(ann.BBox, ref.width, ref.height)
		if err != nil {
			return Snapshot{}, fmt.Errorf("image %q: %w", ref.key, err)
		}
		snap.Images[ref.key] = append(snap.Images[ref.key], Entry{Label: label, Box: boxTuple(box)})
	}
	return snap, nil
}

// SnapshotFromSamples reads normalized samples. Annotations without a box
// fall back to the bounds of their mask.
func SnapshotFromSamples(samples []model.Sample) (Snapshot, error) {
	snap := newSnapshot()
	for _, s := range samples {
		key := common.ImageKey(s.ImageName)
		if key == "" {
			return Snapshot{}, common.MissingImageAssociation("sample has no image name")
		}
		if _, dup := snap.Images[key]; dup {
			return Snapshot{}, common.DuplicateImageKey("image key %q used by more than one sample", key)
		}
		entries := make([]Entry, 0, len(s.Annotations))
		for _, a := range s.Annotations {
			snap.Categories[a.Label] = struct{}{}
			var box model.Box2d
			if a.Box2d != nil {
				box = *a.Box2d
			} else if a.Mask != nil {
				box, _ = geometry.MaskBounds(*a.Mask)
			}
			entries = append(entries, Entry{Label: a.Label, Box: boxTuple(box)})
		}
		snap.Images[key] = entries
	}
	return snap, nil
}

func boxTuple(b model.Box2d) [4]float64 {
	return [4]float64{b.Left, b.Top, b.Width, b.Height}
}

// Report is the structural diff between two snapshots.
type Report struct {
	ImagesMatch      bool     `json:"images_match"`
	CategoriesMatch  bool     `json:"categories_match"`
	AnnotationsMatch bool     `json:"annotations_match"`
	Differences      []string `json:"differences"`
}

func (r Report) Match() bool {
	return r.ImagesMatch && r.CategoriesMatch && r.AnnotationsMatch
}

type Comparator struct {
	// Tolerance is the absolute per-component bbox tolerance in normalized units.
	Tolerance float64
	// Precision is the rounding applied to boxes when ordering entries.
	Precision int
}

func NewComparator(tolerance float64) *Comparator {
	return &Comparator{Tolerance: tolerance, Precision: 6}
}

// CompareDatasets snapshots both COCO datasets and compares them. A dataset
// that cannot be snapshotted is reported as a difference.
func (c *Comparator) CompareDatasets(before, after model.CocoDataset) Report {
	a, errA := SnapshotFromCoco(before)
	b, errB := SnapshotFromCoco(after)
	if errA != nil || errB != nil {
		r := Report{Differences: []string{}}
		if errA != nil {
			r.Differences = append(r.Differences, fmt.Sprintf("before: %v", errA))
		}
		if errB != nil {
			r.Differences = append(r.Differences, fmt.Sprintf("after: %v", errB))
		}
		return r
	}
	return c.Compare(a, b)
}

// Compare diffs two snapshots, continuing past mismatches so that one pass
// surfaces every difference.
func (c *Comparator) Compare(before, after Snapshot) Report {
	r := Report{ImagesMatch: true, CategoriesMatch: true, AnnotationsMatch: true, Differences: []string{}}

	// 1. Image keys
	missing, extra := setDiff(keysOf(before.Images), keysOf(after.Images))
	if len(missing) > 0 || len(extra) > 0 {
		r.ImagesMatch = false
		r.Differences = append(r.Differences, fmt.Sprintf("image set differs: missing %v, extra %v", missing, extra))
	}

	// 2. Category names
	missing, extra = setDiff(before.Categories, after.Categories)
	if len(missing) > 0 || len(extra) > 0 {
		r.CategoriesMatch = false
		r.Differences = append(r.Differences, fmt.Sprintf("category set differs: missing %v, extra %v", missing, extra))
	}

	// 3. Annotations of common images
	keys := make([]string, 0, len(before.Images))
	for k := range before.Images {
		if _, ok := after.Images[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		a, b := before.Images[k], after.Images[k]
		if len(a) != len(b) {
			r.AnnotationsMatch = false
			r.Differences = append(r.Differences, fmt.Sprintf("image %s: annotation count %d != %d", k, len(a), len(b)))
			continue
		}
		a, b = c.sorted(a), c.sorted(b)
		for i := range a {
			if d := c.diffEntry(a[i], b[i]); d != "" {
				r.AnnotationsMatch = false
				r.Differences = append(r.Differences, fmt.Sprintf("image %s: annotation %d: %s", k, i, d))
			}
		}
	}
	return r
}

func (c *Comparator) diffEntry(a, b Entry) string {
	if a.Label != b.Label {
		return fmt.Sprintf("label %q != %q", a.Label, b.Label)
	}
	for i := range a.Box {
		if math.Abs(a.Box[i]-b.Box[i]) > c.Tolerance+toleranceEpsilon {
			return fmt.Sprintf("%s bbox %v != %v (tolerance %g)", a.Label, a.Box, b.Box, c.Tolerance)
		}
	}
	return ""
}

func (c *Comparator) sorted(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		for k := range out[i].Box {
			x, y := common.Round(out[i].Box[k], c.Precision), common.Round(out[j].Box[k], c.Precision)
			if x != y {
				return x < y
			}
		}
		return false
	})
	return out
}

func keysOf[V any](m map[string]V) map[string]struct{} {
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

func setDiff(a, b map[string]struct{}) (missing, extra []string) {
	for k := range a {
		if _, ok := b[k]; !ok {
			missing = append(missing, k)
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			extra = append(extra, k)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return missing, extra
}

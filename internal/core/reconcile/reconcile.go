// Package reconcile recombines annotation fragments that an upstream store
// fanned out into several partial records.
package reconcile

import (
	"reflect"
	"sort"

	"github.com/agenthands/annobridge/internal/core/common"
	"github.com/agenthands/annobridge/internal/core/model"
)

// DefaultPrecision is the number of decimal places geometry is rounded to
// when ordering merged entries.
const DefaultPrecision = 6

// IdentityKey recognizes fragments of the same logical annotation.
type IdentityKey struct {
	Label    string
	ObjectID string
	Group    string
}

func KeyOf(a model.Annotation) IdentityKey {
	return IdentityKey{Label: a.Label, ObjectID: a.ObjectID, Group: a.Group}
}

// Fill copies each geometry field that dst lacks from src. Fields already set
// on dst are never overwritten.
func Fill(dst *model.Annotation, src model.Annotation) {
	if dst.Box2d == nil && src.Box2d != nil {
		b := *src.Box2d
		dst.Box2d = &b
	}
	if dst.Box3d == nil && src.Box3d != nil {
		b := *src.Box3d
		dst.Box3d = &b
	}
	if dst.Mask == nil && src.Mask != nil {
		m := *src.Mask
		dst.Mask = &m
	}
	if dst.LabelIndex == 0 {
		dst.LabelIndex = src.LabelIndex
	}
}

// Accumulator merges fragments belonging to one image. Entries live in an
// arena slice; index maps identity keys to their arena slot. Keys without an
// object id may own several slots, listed in loose.
type Accumulator struct {
	entries []model.Annotation
	index   map[IdentityKey]int
	loose   map[IdentityKey][]int
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		index: make(map[IdentityKey]int),
		loose: make(map[IdentityKey][]int),
	}
}

// Add merges a fragment into the accumulator. A fragment without an object id
// is dropped when it duplicates an entry of its key, otherwise it fills the
// first entry of its key it does not conflict with. A geometry field set on
// both sides starts a new entry.
func (a *Accumulator) Add(f model.Annotation) {
	key := KeyOf(f)
	if f.ObjectID != "" {
		if i, ok := a.index[key]; ok {
			Fill(&a.entries[i], f)
			return
		}
		a.index[key] = len(a.entries)
		a.entries = append(a.entries, f)
		return
	}

	slots := a.loose[key]
	for _, i := range slots {
		if sameGeometry(a.entries[i], f) {
			return
		}
	}
	for _, i := range slots {
		if complementary(a.entries[i], f) {
			Fill(&a.entries[i], f)
			return
		}
	}
	a.loose[key] = append(slots, len(a.entries))
	a.entries = append(a.entries, f)
}

func (a *Accumulator) Len() int {
	return len(a.entries)
}

// Entries returns the merged annotations in canonical order.
func (a *Accumulator) Entries(precision int) []model.Annotation {
	out := make([]model.Annotation, len(a.entries))
	copy(out, a.entries)
	SortCanonical(out, precision)
	return out
}

// complementary reports whether no geometry field is set on both a and b.
func complementary(a, b model.Annotation) bool {
	return (a.Box2d == nil || b.Box2d == nil) &&
		(a.Box3d == nil || b.Box3d == nil) &&
		(a.Mask == nil || b.Mask == nil)
}

func sameGeometry(a, b model.Annotation) bool {
	return reflect.DeepEqual(a.Box2d, b.Box2d) &&
		reflect.DeepEqual(a.Box3d, b.Box3d) &&
		reflect.DeepEqual(a.Mask, b.Mask)
}

// ImageGroup is the reconciled annotation set of one image.
type ImageGroup struct {
	Key         string             `json:"key"`
	Annotations []model.Annotation `json:"annotations"`
}

type Reconciler struct {
	Precision int
}

func NewReconciler() *Reconciler {
	return &Reconciler{Precision: DefaultPrecision}
}

// Reconcile groups fragments by the stem of their originating image name and
// merges each group. Groups are returned sorted by key. A fragment without an
// image name fails the whole call.
func (r *Reconciler) Reconcile(fragments []model.Annotation) ([]ImageGroup, error) {
	// 1. Group by image key
	accs := make(map[string]*Accumulator)
	for i, f := range fragments {
		key := common.ImageKey(f.Name)
		if key == "" {
			return nil, common.MissingImageAssociation("fragment %d (label %q, object %q) has no image name", i, f.Label, f.ObjectID)
		}
		acc, ok := accs[key]
		if !ok {
			acc = NewAccumulator()
			accs[key] = acc
		}
		// 2. Merge by identity within the image
		acc.Add(f)
	}

	// 3. Canonical order
	keys := make([]string, 0, len(accs))
	for k := range accs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	groups := make([]ImageGroup, len(keys))
	for i, k := range keys {
		groups[i] = ImageGroup{Key: k, Annotations: accs[k].Entries(r.Precision)}
	}
	return groups, nil
}

// ReconcileSamples merges sample rows that share an image key. Image metadata
// is filled the same way geometry is: the first non-empty value wins.
// Samples are returned sorted by image key.
func (r *Reconciler) ReconcileSamples(samples []model.Sample) ([]model.Sample, error) {
	keys, slots, err := mergeSamples(samples)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	out := make([]model.Sample, len(keys))
	for i, k := range keys {
		s := slots[k].sample
		s.Annotations = slots[k].acc.Entries(r.Precision)
		out[i] = s
	}
	return out, nil
}

// MergeSamples merges rows like ReconcileSamples but keeps the order in which
// images and annotations were first seen.
func MergeSamples(samples []model.Sample) ([]model.Sample, error) {
	keys, slots, err := mergeSamples(samples)
	if err != nil {
		return nil, err
	}

	out := make([]model.Sample, len(keys))
	for i, k := range keys {
		s := slots[k].sample
		s.Annotations = make([]model.Annotation, slots[k].acc.Len())
		copy(s.Annotations, slots[k].acc.entries)
		out[i] = s
	}
	return out, nil
}

type sampleSlot struct {
	sample model.Sample
	acc    *Accumulator
}

func mergeSamples(samples []model.Sample) ([]string, map[string]*sampleSlot, error) {
	var keys []string
	slots := make(map[string]*sampleSlot)

	for i, s := range samples {
		key := common.ImageKey(s.ImageName)
		if key == "" {
			return nil, nil, common.MissingImageAssociation("sample %d has no image name", i)
		}
		sl, ok := slots[key]
		if !ok {
			head := s
			head.Annotations = nil
			sl = &sampleSlot{sample: head, acc: NewAccumulator()}
			slots[key] = sl
			keys = append(keys, key)
		} else {
			fillSample(&sl.sample, s)
		}
		for _, a := range s.Annotations {
			sl.acc.Add(a)
		}
	}
	return keys, slots, nil
}

func fillSample(dst *model.Sample, src model.Sample) {
	if dst.Width == 0 {
		dst.Width = src.Width
	}
	if dst.Height == 0 {
		dst.Height = src.Height
	}
	if dst.Group == "" {
		dst.Group = src.Group
	}
	if dst.SequenceName == "" {
		dst.SequenceName = src.SequenceName
	}
	if dst.SequenceUUID == nil {
		dst.SequenceUUID = src.SequenceUUID
	}
	if dst.FrameNumber == nil {
		dst.FrameNumber = src.FrameNumber
	}
}

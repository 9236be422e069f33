// Package coco reads, writes and builds COCO instance datasets.
package coco

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/agenthands/annobridge/internal/core/common"
	"github.com/agenthands/annobridge/internal/core/geometry"
	"github.com/agenthands/annobridge/internal/core/model"
)

type ReadOptions struct {
	// Validate checks referential integrity and bbox bounds after loading.
	Validate bool
	// MaxImages keeps only the first N images (0 = all) and drops their
	// orphaned annotations.
	MaxImages int
	// CategoryFilter keeps only the named categories (empty = all).
	CategoryFilter []string
}

type Reader struct {
	Options ReadOptions
}

func NewReader(opts ReadOptions) *Reader {
	return &Reader{Options: opts}
}

var requiredFields = map[string][]string{
	"images":      {"id", "width", "height", "file_name"},
	"annotations": {"id", "image_id", "category_id", "bbox"},
	"categories":  {"id", "name"},
}

// Decode parses one COCO JSON document, applies filters and, if enabled,
// validation.
func (r *Reader) Decode(data []byte) (*model.CocoDataset, error) {
	ds, err := decode(data)
	if err != nil {
		return nil, err
	}
	return r.finish(ds)
}

func (r *Reader) Read(rd io.Reader) (*model.CocoDataset, error) {
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("failed to read COCO data: %w", err)
	}
	return r.Decode(data)
}

// ReadFile loads a .json annotation file or a .zip archive of them.
func (r *Reader) ReadFile(p string) (*model.CocoDataset, error) {
	if strings.EqualFold(filepath.Ext(p), ".zip") {
		return r.ReadZip(p)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read COCO file '%s': %w", p, err)
	}
	ds, err := r.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return ds, nil
}

// ReadZip merges every *instances*.json entry of an archive. Images,
// categories and licenses are de-duplicated by id.
func (r *Reader) ReadZip(p string) (*model.CocoDataset, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive '%s': %w", p, err)
	}
	defer zr.Close()

	var merged *model.CocoDataset
	for _, f := range zr.File {
		base := path.Base(f.Name)
		if !strings.HasSuffix(base, ".json") || !strings.Contains(base, "instances") {
			continue
		}
		data, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		ds, err := decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s!%s: %w", p, f.Name, err)
		}
		log.WithFields(log.Fields{"archive": p, "entry": f.Name, "images": len(ds.Images)}).Debug("Read COCO entry")
		if merged == nil {
			merged = ds
			continue
		}
		merge(merged, ds)
	}
	if merged == nil {
		return nil, common.SchemaMismatch("archive '%s' contains no instances JSON", p)
	}
	return r.finish(merged)
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open archive entry '%s': %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive entry '%s': %w", f.Name, err)
	}
	return data, nil
}

// decode checks that required top-level and per-record fields are present
// before unmarshalling into typed records.
func decode(data []byte) (*model.CocoDataset, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, common.SchemaMismatch("document is not a JSON object: %v", err)
	}

	for _, section := range []string{"images", "annotations", "categories"} {
		raw, ok := top[section]
		if !ok {
			return nil, common.SchemaMismatch("missing required field %q", section)
		}
		var records []map[string]json.RawMessage
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, common.SchemaMismatch("field %q is not an array of objects", section)
		}
		for i, rec := range records {
			for _, field := range requiredFields[section] {
				if _, ok := rec[field]; !ok {
					return nil, common.SchemaMismatch("%s[%d] is missing %q", section, i, field)
				}
			}
		}
	}

	var ds model.CocoDataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, common.SchemaMismatch("%v", err)
	}
	return &ds, nil
}

func (r *Reader) finish(ds *model.CocoDataset) (*model.CocoDataset, error) {
	r.applyFilters(ds)
	if r.Options.Validate {
		if err := Validate(ds); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func (r *Reader) applyFilters(ds *model.CocoDataset) {
	if n := r.Options.MaxImages; n > 0 && len(ds.Images) > n {
		ds.Images = ds.Images[:n]
		keep := make(map[int64]struct{}, n)
		for _, img := range ds.Images {
			keep[img.ID] = struct{}{}
		}
		ds.Annotations = slices.DeleteFunc(ds.Annotations, func(a model.CocoAnnotation) bool {
			_, ok := keep[a.ImageID]
			return !ok
		})
	}

	if len(r.Options.CategoryFilter) > 0 {
		ds.Categories = slices.DeleteFunc(ds.Categories, func(c model.CocoCategory) bool {
			return !slices.Contains(r.Options.CategoryFilter, c.Name)
		})
		keep := make(map[int]struct{}, len(ds.Categories))
		for _, c := range ds.Categories {
			keep[c.ID] = struct{}{}
		}
		ds.Annotations = slices.DeleteFunc(ds.Annotations, func(a model.CocoAnnotation) bool {
			_, ok := keep[a.CategoryID]
			return !ok
		})
	}
}

// Validate checks that every annotation references a known image and
// category and that its bbox fits the image.
func Validate(ds *model.CocoDataset) error {
	images := make(map[int64]model.CocoImage, len(ds.Images))
	for _, img := range ds.Images {
		if img.Width <= 0 || img.Height <= 0 {
			return common.InvalidGeometry("image %d has size %dx%d", img.ID, img.Width, img.Height)
		}
		images[img.ID] = img
	}
	cats := make(map[int]struct{}, len(ds.Categories))
	for _, c := range ds.Categories {
		cats[c.ID] = struct{}{}
	}

	for _, a := range ds.Annotations {
		img, ok := images[a.ImageID]
		if !ok {
			return common.MissingImageAssociation("annotation %d references non-existent image_id %d", a.ID, a.ImageID)
		}
		if _, ok := cats[a.CategoryID]; !ok {
			return common.UnknownCategory("annotation %d references non-existent category_id %d", a.ID, a.CategoryID)
		}
		if err := geometry.ValidateBBox(a.BBox, img.Width, img.Height); err != nil {
			return fmt.Errorf("annotation %d: %w", a.ID, err)
		}
	}
	return nil
}

func merge(dst, src *model.CocoDataset) {
	if dst.Info.Description == "" {
		dst.Info = src.Info
	}

	images := make(map[int64]struct{}, len(dst.Images))
	for _, img := range dst.Images {
		images[img.ID] = struct{}{}
	}
	for _, img := range src.Images {
		if _, ok := images[img.ID]; !ok {
			dst.Images = append(dst.Images, img)
		}
	}

	cats := make(map[int]struct{}, len(dst.Categories))
	for _, c := range dst.Categories {
		cats[c.ID] = struct{}{}
	}
	for _, c := range src.Categories {
		if _, ok := cats[c.ID]; !ok {
			dst.Categories = append(dst.Categories, c)
		}
	}

	licenses := make(map[int]struct{}, len(dst.Licenses))
	for _, l := range dst.Licenses {
		licenses[l.ID] = struct{}{}
	}
	for _, l := range src.Licenses {
		if _, ok := licenses[l.ID]; !ok {
			dst.Licenses = append(dst.Licenses, l)
		}
	}

	dst.Annotations = append(dst.Annotations, src.Annotations...)
}

// InferGroup derives a split name from an annotation file name, e.g.
// "instances_val2017.json" -> "val".
func InferGroup(fileName string) string {
	stem := strings.ToLower(common.ImageKey(fileName))
	stem = strings.TrimPrefix(stem, "instances_")
	for _, g := range []string{"train", "val", "test"} {
		if strings.HasPrefix(stem, g) {
			return g
		}
	}
	return ""
}

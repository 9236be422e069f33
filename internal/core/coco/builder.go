package coco

import (
	"github.com/agenthands/annobridge/internal/core/common"
	"github.com/agenthands/annobridge/internal/core/geometry"
	"github.com/agenthands/annobridge/internal/core/labels"
	"github.com/agenthands/annobridge/internal/core/model"
)

// Builder assembles a dataset with sequential image and annotation ids
// starting at 1. Category ids come from the resolver.
type Builder struct {
	ds        model.CocoDataset
	resolver  *labels.Resolver
	added     map[int]bool
	nextImage int64
	nextAnn   int64
}

func NewBuilder(resolver *labels.Resolver) *Builder {
	if resolver == nil {
		resolver = labels.NewResolver()
	}
	return &Builder{
		resolver:  resolver,
		added:     make(map[int]bool),
		nextImage: 1,
		nextAnn:   1,
	}
}

func (b *Builder) Info(info model.CocoInfo) *Builder {
	b.ds.Info = info
	return b
}

// AddCategory returns the category id for name, adding it on first use.
func (b *Builder) AddCategory(name, supercategory string) int {
	id := b.resolver.ResolveOrCreate(name)
	if !b.added[id] {
		b.added[id] = true
		b.ds.Categories = append(b.ds.Categories, model.CocoCategory{ID: id, Name: name, Supercategory: supercategory})
	}
	return id
}

func (b *Builder) AddImage(fileName string, width, height int) int64 {
	id := b.nextImage
	b.nextImage++
	b.ds.Images = append(b.ds.Images, model.CocoImage{ID: id, FileName: fileName, Width: width, Height: height})
	return id
}

// AddAnnotation appends an annotation. Area is taken from the segmentation
// when it has one, otherwise from the bbox.
func (b *Builder) AddAnnotation(imageID int64, categoryID int, bbox [4]float64, seg *model.CocoSegmentation) (int64, error) {
	if _, err := b.resolver.NameFor(categoryID); err != nil {
		return 0, err
	}

	area := bbox[2] * bbox[3]
	if seg != nil {
		a, err := geometry.SegmentationArea(*seg)
		if err != nil {
			return 0, err
		}
		if a > 0 {
			area = a
		}
	}

	id := b.nextAnn
	b.nextAnn++
	b.ds.Annotations = append(b.ds.Annotations, model.CocoAnnotation{
		ID:           id,
		ImageID:      imageID,
		CategoryID:   categoryID,
		BBox:         bbox,
		Area:         area,
		Segmentation: seg,
	})
	return id, nil
}

func (b *Builder) Resolver() *labels.Resolver {
	return b.resolver
}

func (b *Builder) Build() model.CocoDataset {
	ds := b.ds
	normalize(&ds)
	return ds
}

// Index is a lookup view over a dataset keyed the ways conversion needs.
type Index struct {
	Images      map[int64]model.CocoImage
	ByKey       map[string]int64
	Annotations map[int64][]model.CocoAnnotation
}

// NewIndex fails with ErrDuplicateImageKey when two images share a file stem
// and with ErrMissingImageAssociation when an image has no file name.
func NewIndex(ds *model.CocoDataset) (*Index, error) {
	idx := &Index{
		Images:      make(map[int64]model.CocoImage, len(ds.Images)),
		ByKey:       make(map[string]int64, len(ds.Images)),
		Annotations: make(map[int64][]model.CocoAnnotation, len(ds.Images)),
	}
	for _, img := range ds.Images {
		key := common.ImageKey(img.FileName)
		if key == "" {
			return nil, common.MissingImageAssociation("image %d has no file_name", img.ID)
		}
		if other, dup := idx.ByKey[key]; dup {
			return nil, common.DuplicateImageKey("images %d and %d both resolve to %q", other, img.ID, key)
		}
		if _, dup := idx.Images[img.ID]; dup {
			return nil, common.SchemaMismatch("image id %d appears twice", img.ID)
		}
		idx.ByKey[key] = img.ID
		idx.Images[img.ID] = img
	}
	for _, a := range ds.Annotations {
		if _, ok := idx.Images[a.ImageID]; !ok {
			return nil, common.MissingImageAssociation("annotation %d references unknown image %d", a.ID, a.ImageID)
		}
		idx.Annotations[a.ImageID] = append(idx.Annotations[a.ImageID], a)
	}
	return idx, nil
}

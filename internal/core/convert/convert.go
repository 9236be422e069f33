// Package convert translates between COCO datasets and normalized samples.
package convert

import (
	"context"
	"fmt"
	"path"
	"runtime"
	"strconv"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/agenthands/annobridge/internal/core/coco"
	"github.com/agenthands/annobridge/internal/core/common"
	"github.com/agenthands/annobridge/internal/core/geometry"
	"github.com/agenthands/annobridge/internal/core/labels"
	"github.com/agenthands/annobridge/internal/core/model"
	"github.com/agenthands/annobridge/internal/core/reconcile"
	"github.com/agenthands/annobridge/internal/core/sequence"
)

// ProgressFunc receives (processed, total). Calls may arrive out of order
// when work runs in parallel; the last call always has processed == total.
type ProgressFunc func(processed, total int)

type Options struct {
	// Groups restricts conversion to samples in these groups; empty means all.
	Groups []string
	// Group is assigned to samples produced from a COCO dataset.
	Group string
	// IncludeMasks converts segmentations to and from masks.
	IncludeMasks bool
	// Workers bounds parallel image conversion; <= 0 uses DefaultWorkers.
	Workers int
	// ImageExtension is appended to sample names without one when writing COCO.
	ImageExtension string
	// Flatten prefixes sequence members' file names with sequence and frame.
	Flatten  bool
	Progress ProgressFunc
}

// DefaultWorkers is half the CPUs, clamped to [2, 8].
func DefaultWorkers() int {
	return min(max(runtime.NumCPU()/2, 2), 8)
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return DefaultWorkers()
}

func (o Options) report(processed, total int) {
	if o.Progress != nil {
		o.Progress(processed, total)
	}
}

// CocoToSamples converts every image of ds into a Sample. Categories are
// registered into resolver first (a nil resolver is created from ds), then
// images are converted in parallel. Output order follows ds.Images.
func CocoToSamples(ctx context.Context, ds *model.CocoDataset, resolver *labels.Resolver, opts Options) ([]model.Sample, error) {
	if resolver == nil {
		resolver = labels.NewResolver()
	}
	for _, c := range ds.Categories {
		if err := resolver.Register(c.ID, c.Name); err != nil {
			return nil, err
		}
	}

	if !common.GroupFilter(opts.Groups)(opts.Group) {
		log.WithFields(log.Fields{"group": opts.Group, "groups": opts.Groups}).Debug("Dataset group filtered out")
		opts.report(0, 0)
		return []model.Sample{}, nil
	}

	idx, err := coco.NewIndex(ds)
	if err != nil {
		return nil, err
	}

	total := len(ds.Images)
	samples := make([]model.Sample, total)
	var processed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())
	for i, img := range ds.Images {
		i, img := i, img
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, err := imageToSample(img, idx.Annotations[img.ID], resolver, opts)
			if err != nil {
				return err
			}
			samples[i] = s
			opts.report(int(processed.Add(1)), total)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	opts.report(total, total)

	log.WithFields(log.Fields{
		"images":      total,
		"annotations": len(ds.Annotations),
		"categories":  resolver.Len(),
	}).Info("Converted COCO dataset to samples")
	return samples, nil
}

func imageToSample(img model.CocoImage, anns []model.CocoAnnotation, resolver *labels.Resolver, opts Options) (model.Sample, error) {
	if img.Width <= 0 || img.Height <= 0 {
		return model.Sample{}, common.InvalidGeometry("image %q has size %dx%d", img.FileName, img.Width, img.Height)
	}

	s := model.Sample{
		ImageName:   path.Base(img.FileName),
		Width:       img.Width,
		Height:      img.Height,
		Group:       opts.Group,
		Annotations: make([]model.Annotation, 0, len(anns)),
	}
	for _, a := range anns {
		label, err := resolver.NameFor(a.CategoryID)
		if err != nil {
			return model.Sample{}, fmt.Errorf("annotation %d: %w", a.ID, err)
		}
		box, err := geometry.ToNormalized(a.BBox, img.Width, img.Height)
		if err != nil {
			return model.Sample{}, err
		}
		ann := model.Annotation{
			ObjectID:   strconv.FormatInt(a.ID, 10),
			Label:      label,
			LabelIndex: a.CategoryID,
			Group:      opts.Group,
			Box2d:      &box,
		}
		if opts.IncludeMasks && a.Segmentation != nil {
			mask, err := geometry.SegmentationToMask(*a.Segmentation, img.Width, img.Height)
			if err != nil {
				return model.Sample{}, fmt.Errorf("annotation %d: %w", a.ID, err)
			}
			if len(mask.Polygon) > 0 {
				ann.Mask = &mask
			}
		}
		s.Annotations = append(s.Annotations, ann)
	}
	return s, nil
}

// SamplesToCoco builds a COCO dataset from samples. Category ids are the
// resolver's indices, so a resolver seeded from an earlier import reproduces
// the original ids. Rows sharing an image key must agree on name and size;
// their annotations are reconciled before conversion.
func SamplesToCoco(samples []model.Sample, resolver *labels.Resolver, opts Options) (*model.CocoDataset, error) {
	accepted, err := acceptSamples(samples, opts.Groups)
	if err != nil {
		return nil, err
	}
	merged, err := reconcile.MergeSamples(accepted)
	if err != nil {
		return nil, err
	}

	builder := coco.NewBuilder(resolver)
	skipped := 0
	total := len(merged)
	for i, s := range merged {
		imageID := builder.AddImage(fileName(s, opts), s.Width, s.Height)
		for _, a := range s.Annotations {
			if a.Label == "" {
				return nil, common.UnknownCategory("annotation on %q has no label", s.ImageName)
			}
			catID := builder.AddCategory(a.Label, "")

			bbox, seg, ok, err := annotationGeometry(a, s.Width, s.Height, opts.IncludeMasks)
			if err != nil {
				return nil, fmt.Errorf("sample %q: %w", s.ImageName, err)
			}
			if !ok {
				skipped++
				continue
			}
			if _, err := builder.AddAnnotation(imageID, catID, bbox, seg); err != nil {
				return nil, fmt.Errorf("sample %q: %w", s.ImageName, err)
			}
		}
		opts.report(i+1, total)
	}
	opts.report(total, total)

	ds := builder.Build()
	fields := log.Fields{"images": len(ds.Images), "annotations": len(ds.Annotations), "categories": len(ds.Categories)}
	if skipped > 0 {
		fields["skipped"] = skipped
	}
	log.WithFields(fields).Info("Converted samples to COCO dataset")
	return &ds, nil
}

// acceptSamples drops samples outside the requested groups and checks the
// rest: every sample needs an image name and a positive size, and rows that
// share an image key must agree on both.
func acceptSamples(samples []model.Sample, groups []string) ([]model.Sample, error) {
	accept := common.GroupFilter(groups)
	seen := make(map[string]model.Sample)
	out := make([]model.Sample, 0, len(samples))

	for i, s := range samples {
		if !accept(s.Group) {
			continue
		}
		key := common.ImageKey(s.ImageName)
		if key == "" {
			return nil, common.MissingImageAssociation("sample %d has no image name", i)
		}
		if s.Width <= 0 || s.Height <= 0 {
			return nil, common.InvalidGeometry("sample %q has size %dx%d", s.ImageName, s.Width, s.Height)
		}
		if prev, ok := seen[key]; ok {
			if prev.ImageName != s.ImageName || prev.Width != s.Width || prev.Height != s.Height {
				return nil, common.DuplicateImageKey("samples %q and %q both resolve to %q", prev.ImageName, s.ImageName, key)
			}
		} else {
			seen[key] = s
		}
		out = append(out, s)
	}
	return out, nil
}

// annotationGeometry derives the pixel bbox (from box2d, or mask bounds when
// only a mask is present) and optional polygon segmentation. ok is false for
// annotations carrying no 2D geometry.
func annotationGeometry(a model.Annotation, width, height int, includeMasks bool) ([4]float64, *model.CocoSegmentation, bool, error) {
	var box *model.Box2d
	switch {
	case a.Box2d != nil:
		box = a.Box2d
	case a.Mask != nil:
		if b, found := geometry.MaskBounds(*a.Mask); found {
			box = &b
		}
	}
	if box == nil {
		return [4]float64{}, nil, false, nil
	}

	bbox, err := geometry.ToPixels(*box, width, height)
	if err != nil {
		return [4]float64{}, nil, false, err
	}

	var seg *model.CocoSegmentation
	if includeMasks && a.Mask != nil {
		polys, err := geometry.MaskToPolygons(*a.Mask, width, height)
		if err != nil {
			return [4]float64{}, nil, false, err
		}
		if len(polys) > 0 {
			seg = &model.CocoSegmentation{Polygons: polys}
		}
	}
	return bbox, seg, true, nil
}

func fileName(s model.Sample, opts Options) string {
	name := s.ImageName
	if path.Ext(name) == "" && opts.ImageExtension != "" {
		name += opts.ImageExtension
	}
	if opts.Flatten {
		name = sequence.FlattenedName(name, s.SequenceName, s.FrameNumber)
	}
	return name
}

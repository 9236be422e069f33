package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/agenthands/annobridge/internal/config"
	"github.com/agenthands/annobridge/internal/core/compare"
	"github.com/agenthands/annobridge/internal/core/convert"
	"github.com/agenthands/annobridge/internal/core/labels"
	"github.com/agenthands/annobridge/internal/core/model"
	"github.com/agenthands/annobridge/internal/core/reconcile"
	"github.com/agenthands/annobridge/internal/core/sequence"
	"github.com/agenthands/annobridge/internal/driver"
)

var (
	ErrNoStore = errors.New("annotation store not configured")
	ErrNoTable = errors.New("table store not configured")
)

// Bridge moves annotations between COCO datasets, the graph annotation store
// and the table intermediate. Everything read back from a store is reconciled
// before it is returned.
type Bridge struct {
	Driver        driver.GraphDriver
	Table         driver.SampleTable
	Config        *config.Config
	Reconciler    *reconcile.Reconciler
	UUIDGenerator func() string
}

func NewBridge(graph driver.GraphDriver, table driver.SampleTable, cfg *config.Config) *Bridge {
	if cfg == nil {
		cfg = config.Default()
	}
	r := reconcile.NewReconciler()
	if cfg.Conversion.Precision > 0 {
		r.Precision = cfg.Conversion.Precision
	}
	return &Bridge{
		Driver:        graph,
		Table:         table,
		Config:        cfg,
		Reconciler:    r,
		UUIDGenerator: func() string { return uuid.New().String() },
	}
}

// RoundTrip holds both views of a restored dataset: the tolerance report and
// the assignment-based verification.
type RoundTrip struct {
	Report       compare.Report       `json:"report"`
	Verification compare.Verification `json:"verification"`
}

// Options returns conversion options built from the bridge configuration.
func (b *Bridge) Options(groups []string, group string) convert.Options {
	c := b.Config.Conversion
	return convert.Options{
		Groups:         groups,
		Group:          group,
		IncludeMasks:   c.IncludeMasks,
		Workers:        c.Workers,
		ImageExtension: c.ImageExtension,
		Flatten:        c.Flatten,
	}
}

func (b *Bridge) comparator() *compare.Comparator {
	c := compare.NewComparator(b.Config.Conversion.Tolerance)
	if b.Config.Conversion.Precision > 0 {
		c.Precision = b.Config.Conversion.Precision
	}
	return c
}

func (b *Bridge) BuildIndices(ctx context.Context) error {
	if b.Driver == nil {
		return ErrNoStore
	}
	return b.Driver.BuildIndices(ctx)
}

// ImportCoco converts ds into samples tagged with group and stores them, with
// its categories, under datasetID. It returns the number of samples stored.
func (b *Bridge) ImportCoco(ctx context.Context, datasetID string, ds *model.CocoDataset, group string) (int, error) {
	if b.Driver == nil {
		return 0, ErrNoStore
	}
	resolver := labels.NewResolver()
	samples, err := convert.CocoToSamples(ctx, ds, resolver, b.Options(nil, group))
	if err != nil {
		return 0, err
	}
	if err := b.saveDataset(ctx, datasetID); err != nil {
		return 0, err
	}
	if err := b.SaveLabels(ctx, datasetID, resolver); err != nil {
		return 0, err
	}
	return b.SaveSamples(ctx, datasetID, samples)
}

func (b *Bridge) saveDataset(ctx context.Context, datasetID string) error {
	params := map[string]interface{}{
		"dataset_id": datasetID,
		"name":       datasetID,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := b.Driver.ExecuteQuery(ctx, driver.SaveDatasetQuery, params); err != nil {
		return fmt.Errorf("failed to save dataset %s: %w", datasetID, err)
	}
	return nil
}

func (b *Bridge) SaveLabels(ctx context.Context, datasetID string, resolver *labels.Resolver) error {
	if b.Driver == nil {
		return ErrNoStore
	}
	rows := make([]map[string]interface{}, 0, resolver.Len())
	for _, c := range resolver.Categories() {
		rows = append(rows, map[string]interface{}{"index": c.ID, "name": c.Name})
	}
	params := map[string]interface{}{
		"dataset_id": datasetID,
		"labels":     rows,
	}
	if _, err := b.Driver.ExecuteQuery(ctx, driver.SaveLabelsQuery, params); err != nil {
		return fmt.Errorf("failed to save labels: %w", err)
	}
	return nil
}

// SaveSamples stores samples under datasetID. Sequence identifiers are
// derived from datasetID, and annotations without an object id get a fresh
// one so their shapes can be merged again on fetch.
func (b *Bridge) SaveSamples(ctx context.Context, datasetID string, samples []model.Sample) (int, error) {
	if b.Driver == nil {
		return 0, ErrNoStore
	}
	if err := b.saveDataset(ctx, datasetID); err != nil {
		return 0, err
	}

	prepared := make([]model.Sample, len(samples))
	for i, s := range samples {
		sequence.Assign(datasetID, &s)
		if err := sequence.Validate(s); err != nil {
			return 0, err
		}
		anns := make([]model.Annotation, len(s.Annotations))
		for j, a := range s.Annotations {
			if a.ObjectID == "" {
				a.ObjectID = b.UUIDGenerator()
			}
			anns[j] = a
		}
		s.Annotations = anns
		prepared[i] = s
	}

	workers := b.Config.Conversion.Workers
	if workers <= 0 {
		workers = convert.DefaultWorkers()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, s := range prepared {
		s := s
		g.Go(func() error {
			return b.saveSample(gctx, datasetID, s)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	log.WithFields(log.Fields{"dataset": datasetID, "samples": len(prepared)}).Info("Saved samples")
	return len(prepared), nil
}

func (b *Bridge) saveSample(ctx context.Context, datasetID string, s model.Sample) error {
	params := map[string]interface{}{
		"dataset_id":    datasetID,
		"name":          s.ImageName,
		"width":         s.Width,
		"height":        s.Height,
		"group":         s.Group,
		"sequence_name": s.SequenceName,
		"sequence_uuid": nil,
		"frame_number":  nil,
	}
	if s.SequenceUUID != nil {
		params["sequence_uuid"] = s.SequenceUUID.String()
	}
	if s.FrameNumber != nil {
		params["frame_number"] = *s.FrameNumber
	}
	if _, err := b.Driver.ExecuteQuery(ctx, driver.SaveSampleQuery, params); err != nil {
		return fmt.Errorf("failed to save sample %s: %w", s.ImageName, err)
	}

	if len(s.Annotations) == 0 {
		return nil
	}
	var shapes []map[string]interface{}
	for _, a := range s.Annotations {
		parts, err := shapesOf(a)
		if err != nil {
			return fmt.Errorf("sample %s: %w", s.ImageName, err)
		}
		for _, p := range parts {
			shapes = append(shapes, map[string]interface{}{
				"uuid":        shapeUUID(datasetID, s.ImageName, a, p.Kind),
				"object_id":   a.ObjectID,
				"label":       a.Label,
				"label_index": a.LabelIndex,
				"group":       a.Group,
				"kind":        p.Kind,
				"geometry":    p.Geometry,
			})
		}
	}
	params = map[string]interface{}{
		"dataset_id": datasetID,
		"name":       s.ImageName,
		"shapes":     shapes,
	}
	if _, err := b.Driver.ExecuteQuery(ctx, driver.SaveShapesQuery, params); err != nil {
		return fmt.Errorf("failed to save shapes of %s: %w", s.ImageName, err)
	}
	return nil
}

// Labels rebuilds the stored category mapping of a dataset.
func (b *Bridge) Labels(ctx context.Context, datasetID string) (*labels.Resolver, error) {
	if b.Driver == nil {
		return nil, ErrNoStore
	}
	res, err := b.Driver.ExecuteQuery(ctx, driver.GetLabelsQuery, map[string]interface{}{"dataset_id": datasetID})
	if err != nil {
		return nil, fmt.Errorf("failed to load labels: %w", err)
	}
	resolver := labels.NewResolver()
	for _, rec := range res.Records {
		index, _ := recordInt(rec, "index")
		if err := resolver.Register(index, recordString(rec, "name")); err != nil {
			return nil, err
		}
	}
	return resolver, nil
}

// FetchSamples reads the stored shapes of a dataset and reconciles them back
// into one sample per image. An empty groups list fetches every group.
func (b *Bridge) FetchSamples(ctx context.Context, datasetID string, groups []string) ([]model.Sample, error) {
	if b.Driver == nil {
		return nil, ErrNoStore
	}
	if groups == nil {
		groups = []string{}
	}
	params := map[string]interface{}{
		"dataset_id": datasetID,
		"groups":     groups,
	}
	res, err := b.Driver.ExecuteQuery(ctx, driver.GetShapesQuery, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch samples: %w", err)
	}

	rows := make([]model.Sample, 0, len(res.Records))
	for _, rec := range res.Records {
		row, err := fragmentFromRecord(rec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	samples, err := b.Reconciler.ReconcileSamples(rows)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"dataset": datasetID, "rows": len(rows), "samples": len(samples)}).Debug("Fetched samples")
	return samples, nil
}

// ExportCoco fetches a dataset and converts it to COCO using the stored
// category ids.
func (b *Bridge) ExportCoco(ctx context.Context, datasetID string, groups []string) (*model.CocoDataset, error) {
	resolver, err := b.Labels(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	samples, err := b.FetchSamples(ctx, datasetID, groups)
	if err != nil {
		return nil, err
	}
	return convert.SamplesToCoco(samples, resolver, b.Options(groups, ""))
}

// VerifyRoundTrip exports datasetID and checks it against the COCO dataset it
// was imported from. The restored dataset is returned alongside the result.
func (b *Bridge) VerifyRoundTrip(ctx context.Context, datasetID string, original *model.CocoDataset, groups []string) (*model.CocoDataset, *RoundTrip, error) {
	restored, err := b.ExportCoco(ctx, datasetID, groups)
	if err != nil {
		return nil, nil, err
	}
	return restored, b.check(original, restored), nil
}

func (b *Bridge) check(original, restored *model.CocoDataset) *RoundTrip {
	rt := &RoundTrip{
		Report:       b.comparator().CompareDatasets(*original, *restored),
		Verification: compare.Verify(*original, *restored),
	}
	entry := log.WithFields(log.Fields{
		"images":      len(restored.Images),
		"annotations": len(restored.Annotations),
		"differences": len(rt.Report.Differences),
	})
	if rt.Report.Match() && rt.Verification.IsValid() {
		entry.Info("Round trip verified")
	} else {
		entry.Warn("Round trip mismatch")
	}
	return rt
}

// ExportTable writes the reconciled samples of a stored dataset to the table.
func (b *Bridge) ExportTable(ctx context.Context, datasetID string, groups []string) (int, error) {
	if b.Table == nil {
		return 0, ErrNoTable
	}
	samples, err := b.FetchSamples(ctx, datasetID, groups)
	if err != nil {
		return 0, err
	}
	return b.Table.WriteSamples(ctx, samples)
}

// LoadTable reads table rows and reconciles them into samples.
func (b *Bridge) LoadTable(ctx context.Context, groups []string) ([]model.Sample, error) {
	if b.Table == nil {
		return nil, ErrNoTable
	}
	rows, err := b.Table.ReadRows(ctx, groups)
	if err != nil {
		return nil, err
	}
	return b.Reconciler.ReconcileSamples(rows)
}

// RoundTripTable converts ds through the table intermediate and back without
// touching the graph store. Sequence identifiers are derived from datasetID.
func (b *Bridge) RoundTripTable(ctx context.Context, datasetID string, ds *model.CocoDataset, group string) (*model.CocoDataset, *RoundTrip, error) {
	if b.Table == nil {
		return nil, nil, ErrNoTable
	}
	resolver := labels.NewResolver()
	samples, err := convert.CocoToSamples(ctx, ds, resolver, b.Options(nil, group))
	if err != nil {
		return nil, nil, err
	}
	for i := range samples {
		sequence.Assign(datasetID, &samples[i])
	}
	if _, err := b.Table.WriteSamples(ctx, samples); err != nil {
		return nil, nil, err
	}

	restoredSamples, err := b.LoadTable(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	restored, err := convert.SamplesToCoco(restoredSamples, resolver, b.Options(nil, ""))
	if err != nil {
		return nil, nil, err
	}
	return restored, b.check(ds, restored), nil
}

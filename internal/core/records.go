package core

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/annobridge/internal/core/common"
	"github.com/agenthands/annobridge/internal/core/model"
	"github.com/agenthands/annobridge/internal/driver"
)

type shapeParams struct {
	Kind     string
	Geometry string
}

// shapesOf splits an annotation into one stored shape per geometry. An
// annotation without geometry is kept as a bare label shape.
func shapesOf(a model.Annotation) ([]shapeParams, error) {
	var shapes []shapeParams
	add := func(kind string, v interface{}) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", kind, err)
		}
		shapes = append(shapes, shapeParams{Kind: kind, Geometry: string(data)})
		return nil
	}

	if a.Box2d != nil {
		if err := add(driver.ShapeBox2d, a.Box2d); err != nil {
			return nil, err
		}
	}
	if a.Box3d != nil {
		if err := add(driver.ShapeBox3d, a.Box3d); err != nil {
			return nil, err
		}
	}
	if a.Mask != nil {
		if err := add(driver.ShapeMask, a.Mask); err != nil {
			return nil, err
		}
	}
	if len(shapes) == 0 {
		shapes = append(shapes, shapeParams{Kind: driver.ShapeLabel})
	}
	return shapes, nil
}

// shapeUUID is stable for a given dataset, image and annotation identity so
// saving the same sample twice updates its shapes instead of duplicating them.
func shapeUUID(datasetID, imageName string, a model.Annotation, kind string) string {
	name := fmt.Sprintf("%s/%s/%s/%s/%s/%s", datasetID, imageName, a.Group, a.Label, a.ObjectID, kind)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

func recordString(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}

func recordInt(rec *neo4j.Record, key string) (int, bool) {
	v, _ := rec.Get(key)
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

// fragmentFromRecord turns one row of GetShapesQuery into a sample carrying
// at most one annotation fragment.
func fragmentFromRecord(rec *neo4j.Record) (model.Sample, error) {
	s := model.Sample{
		ImageName:    recordString(rec, "name"),
		Group:        recordString(rec, "group"),
		SequenceName: recordString(rec, "sequence_name"),
	}
	if s.ImageName == "" {
		return model.Sample{}, common.MissingImageAssociation("stored sample has no name")
	}
	s.Width, _ = recordInt(rec, "width")
	s.Height, _ = recordInt(rec, "height")
	if raw := recordString(rec, "sequence_uuid"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return model.Sample{}, common.SchemaMismatch("sample %q has invalid sequence_uuid %q", s.ImageName, raw)
		}
		s.SequenceUUID = &id
	}
	if frame, ok := recordInt(rec, "frame_number"); ok {
		s.FrameNumber = &frame
	}

	kind := recordString(rec, "kind")
	if kind == "" {
		return s, nil
	}

	a := model.Annotation{
		Name:         s.ImageName,
		SequenceName: s.SequenceName,
		FrameNumber:  s.FrameNumber,
		Group:        recordString(rec, "shape_group"),
		ObjectID:     recordString(rec, "object_id"),
		Label:        recordString(rec, "label"),
	}
	a.LabelIndex, _ = recordInt(rec, "label_index")

	geom := []byte(recordString(rec, "geometry"))
	var err error
	switch kind {
	case driver.ShapeBox2d:
		a.Box2d = &model.Box2d{}
		err = json.Unmarshal(geom, a.Box2d)
	case driver.ShapeBox3d:
		a.Box3d = &model.Box3d{}
		err = json.Unmarshal(geom, a.Box3d)
	case driver.ShapeMask:
		a.Mask = &model.Mask{}
		err = json.Unmarshal(geom, a.Mask)
	case driver.ShapeLabel:
	default:
		return model.Sample{}, common.SchemaMismatch("sample %q has shape of unknown kind %q", s.ImageName, kind)
	}
	if err != nil {
		return model.Sample{}, common.SchemaMismatch("sample %q: invalid %s geometry: %v", s.ImageName, kind, err)
	}

	s.Annotations = []model.Annotation{a}
	return s, nil
}

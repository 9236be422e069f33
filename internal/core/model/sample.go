package model

import (
	"github.com/google/uuid"
)

// Box2d is an axis-aligned box in normalized image coordinates. Left and Top
// locate the top-left corner; all four values are fractions of the image size.
type Box2d struct {
	Left   float64 `json:"x"`
	Top    float64 `json:"y"`
	Width  float64 `json:"w"`
	Height float64 `json:"h"`
}

// Box3d is a 3D box given by its center and extents.
type Box3d struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
	H float64 `json:"h"`
	L float64 `json:"l"`
}

// Point is an (x, y) pair. Inside a Mask it is normalized.
type Point [2]float64

// Mask is a set of normalized polygons belonging to a single object.
type Mask struct {
	Polygon [][]Point `json:"polygon"`
}

// Annotation is the normalized, label-named representation of one object.
// Name, SequenceName and Group identify the originating image; they are
// populated on fragments coming back from a store and may be empty on
// annotations nested in a Sample.
type Annotation struct {
	Name         string `json:"name,omitempty"`
	SequenceName string `json:"sequence_name,omitempty"`
	FrameNumber  *int   `json:"frame_number,omitempty"`
	Group        string `json:"group,omitempty"`
	ObjectID     string `json:"object_id,omitempty"`
	Label        string `json:"label"`
	LabelIndex   int    `json:"label_index,omitempty"`
	Box2d        *Box2d `json:"box2d,omitempty"`
	Box3d        *Box3d `json:"box3d,omitempty"`
	Mask         *Mask  `json:"mask,omitempty"`
}

// HasGeometry reports whether any geometry field is populated.
func (a Annotation) HasGeometry() bool {
	return a.Box2d != nil || a.Box3d != nil || a.Mask != nil
}

// Sample is one image together with its annotations.
type Sample struct {
	ImageName    string       `json:"image_name"`
	Width        int          `json:"width,omitempty"`
	Height       int          `json:"height,omitempty"`
	Group        string       `json:"group,omitempty"`
	SequenceName string       `json:"sequence_name,omitempty"`
	SequenceUUID *uuid.UUID   `json:"sequence_uuid,omitempty"`
	FrameNumber  *int         `json:"frame_number,omitempty"`
	Annotations  []Annotation `json:"annotations"`
}

// InSequence reports whether the sample belongs to a named sequence.
func (s Sample) InSequence() bool {
	return s.SequenceName != ""
}

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CocoRLE is uncompressed run-length encoding. Counts alternate background
// and foreground runs, starting with background, in column-major order.
// Size is [height, width].
type CocoRLE struct {
	Counts []int  `json:"counts"`
	Size   [2]int `json:"size"`
}

// CocoCompressedRLE carries LEB128-style encoded counts as produced by pycocotools.
type CocoCompressedRLE struct {
	Counts string `json:"counts"`
	Size   [2]int `json:"size"`
}

// CocoSegmentation holds exactly one of the three COCO segmentation encodings.
// On the wire it is untagged: an array of polygons or an RLE object.
type CocoSegmentation struct {
	Polygons      [][]float64
	RLE           *CocoRLE
	CompressedRLE *CocoCompressedRLE
}

func (s CocoSegmentation) IsPolygon() bool {
	return s.RLE == nil && s.CompressedRLE == nil
}

func (s CocoSegmentation) MarshalJSON() ([]byte, error) {
	switch {
	case s.RLE != nil:
		return json.Marshal(s.RLE)
	case s.CompressedRLE != nil:
		return json.Marshal(s.CompressedRLE)
	case s.Polygons == nil:
		return []byte("[]"), nil
	default:
		return json.Marshal(s.Polygons)
	}
}

func (s *CocoSegmentation) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*s = CocoSegmentation{}
		return nil
	}

	switch trimmed[0] {
	case '[':
		var polys [][]float64
		if err := json.Unmarshal(trimmed, &polys); err != nil {
			return fmt.Errorf("failed to parse polygon segmentation: %w", err)
		}
		*s = CocoSegmentation{Polygons: polys}
		return nil
	case '{':
		var raw struct {
			Counts json.RawMessage `json:"counts"`
			Size   [2]int          `json:"size"`
		}
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return fmt.Errorf("failed to parse RLE segmentation: %w", err)
		}
		counts := bytes.TrimSpace(raw.Counts)
		if len(counts) > 0 && counts[0] == '"' {
			var encoded string
			if err := json.Unmarshal(counts, &encoded); err != nil {
				return fmt.Errorf("failed to parse compressed RLE counts: %w", err)
			}
			*s = CocoSegmentation{CompressedRLE: &CocoCompressedRLE{Counts: encoded, Size: raw.Size}}
			return nil
		}
		var runs []int
		if err := json.Unmarshal(counts, &runs); err != nil {
			return fmt.Errorf("failed to parse RLE counts: %w", err)
		}
		*s = CocoSegmentation{RLE: &CocoRLE{Counts: runs, Size: raw.Size}}
		return nil
	}

	return fmt.Errorf("unsupported segmentation encoding: %.20s", trimmed)
}

package driver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"github.com/agenthands/annobridge/internal/core/common"
	"github.com/agenthands/annobridge/internal/core/model"
)

const createRowsTable = `
CREATE TABLE IF NOT EXISTS annotation_rows (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT NOT NULL,
	frame         INTEGER,
	sequence_name TEXT NOT NULL DEFAULT '',
	sequence_uuid TEXT,
	group_name    TEXT NOT NULL DEFAULT '',
	object_id     TEXT NOT NULL DEFAULT '',
	label         TEXT NOT NULL DEFAULT '',
	label_index   INTEGER NOT NULL DEFAULT 0,
	box2d         TEXT,
	box3d         TEXT,
	mask          TEXT,
	width         INTEGER NOT NULL,
	height        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS annotation_rows_name ON annotation_rows(name);
`

const insertRow = `
INSERT INTO annotation_rows
	(name, frame, sequence_name, sequence_uuid, group_name, object_id, label, label_index, box2d, box3d, mask, width, height)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const selectRows = `
SELECT name, frame, sequence_name, sequence_uuid, group_name, object_id, label, label_index, box2d, box3d, mask, width, height
FROM annotation_rows
`

// TableStore is a SQLite file holding one row per annotation. Samples without
// annotations are kept as a single row with an empty label and no geometry.
// box2d is stored in center form: [cx, cy, w, h].
type TableStore struct {
	db *sql.DB
}

func NewTableStore(path string) (*TableStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table %s: %w", path, err)
	}
	if _, err := db.Exec(createRowsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log.WithField("path", path).Debug("Opened table store")
	return &TableStore{db: db}, nil
}

func (t *TableStore) Close() error {
	return t.db.Close()
}

// WriteSamples appends rows for samples in one transaction and returns the
// number of rows written.
func (t *TableStore) WriteSamples(ctx context.Context, samples []model.Sample) (int, error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertRow)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	n := 0
	for _, s := range samples {
		anns := s.Annotations
		if len(anns) == 0 {
			anns = []model.Annotation{{}}
		}
		for _, a := range anns {
			args, err := rowArgs(s, a)
			if err != nil {
				return 0, err
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return 0, fmt.Errorf("failed to insert row for %s: %w", s.ImageName, err)
			}
			n++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit rows: %w", err)
	}
	log.WithFields(log.Fields{"samples": len(samples), "rows": n}).Info("Wrote table rows")
	return n, nil
}

func rowArgs(s model.Sample, a model.Annotation) ([]interface{}, error) {
	var frame, seqUUID interface{}
	if s.FrameNumber != nil {
		frame = *s.FrameNumber
	}
	if s.SequenceUUID != nil {
		seqUUID = s.SequenceUUID.String()
	}

	var box2d interface{}
	if a.Box2d != nil {
		b := a.Box2d
		box2d = [4]float64{b.Left + b.Width/2, b.Top + b.Height/2, b.Width, b.Height}
	}
	enc := func(v interface{}) (interface{}, error) {
		switch x := v.(type) {
		case nil:
			return nil, nil
		case *model.Box3d:
			if x == nil {
				return nil, nil
			}
		case *model.Mask:
			if x == nil {
				return nil, nil
			}
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode row geometry: %w", err)
		}
		return string(data), nil
	}

	box2dJSON, err := enc(box2d)
	if err != nil {
		return nil, err
	}
	box3dJSON, err := enc(a.Box3d)
	if err != nil {
		return nil, err
	}
	maskJSON, err := enc(a.Mask)
	if err != nil {
		return nil, err
	}

	return []interface{}{
		s.ImageName, frame, s.SequenceName, seqUUID, s.Group,
		a.ObjectID, a.Label, a.LabelIndex, box2dJSON, box3dJSON, maskJSON,
		s.Width, s.Height,
	}, nil
}

// ReadRows returns every row as a sample carrying at most one annotation,
// restricted to groups when given.
func (t *TableStore) ReadRows(ctx context.Context, groups []string) ([]model.Sample, error) {
	query := selectRows
	var args []interface{}
	if len(groups) > 0 {
		query += " WHERE group_name IN (?" + strings.Repeat(", ?", len(groups)-1) + ")"
		for _, g := range groups {
			args = append(args, g)
		}
	}
	query += " ORDER BY id"

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	var out []model.Sample
	for rows.Next() {
		var (
			s                          model.Sample
			a                          model.Annotation
			frame                      sql.NullInt64
			seqUUID, box2d, box3d, msk sql.NullString
		)
		if err := rows.Scan(&s.ImageName, &frame, &s.SequenceName, &seqUUID, &s.Group,
			&a.ObjectID, &a.Label, &a.LabelIndex, &box2d, &box3d, &msk, &s.Width, &s.Height); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := decodeRow(&s, &a, frame, seqUUID, box2d, box3d, msk); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return out, nil
}

func decodeRow(s *model.Sample, a *model.Annotation, frame sql.NullInt64, seqUUID, box2d, box3d, mask sql.NullString) error {
	if frame.Valid {
		f := int(frame.Int64)
		s.FrameNumber = &f
	}
	if seqUUID.Valid {
		id, err := uuid.Parse(seqUUID.String)
		if err != nil {
			return common.SchemaMismatch("row %q has invalid sequence_uuid %q", s.ImageName, seqUUID.String)
		}
		s.SequenceUUID = &id
	}
	if box2d.Valid {
		var c [4]float64
		if err := json.Unmarshal([]byte(box2d.String), &c); err != nil {
			return common.SchemaMismatch("row %q: invalid box2d: %v", s.ImageName, err)
		}
		a.Box2d = &model.Box2d{Left: c[0] - c[2]/2, Top: c[1] - c[3]/2, Width: c[2], Height: c[3]}
	}
	if box3d.Valid {
		a.Box3d = &model.Box3d{}
		if err := json.Unmarshal([]byte(box3d.String), a.Box3d); err != nil {
			return common.SchemaMismatch("row %q: invalid box3d: %v", s.ImageName, err)
		}
	}
	if mask.Valid {
		a.Mask = &model.Mask{}
		if err := json.Unmarshal([]byte(mask.String), a.Mask); err != nil {
			return common.SchemaMismatch("row %q: invalid mask: %v", s.ImageName, err)
		}
	}

	// sample-only row
	if a.Label == "" && !a.HasGeometry() {
		return nil
	}
	a.Name = s.ImageName
	a.SequenceName = s.SequenceName
	a.FrameNumber = s.FrameNumber
	a.Group = s.Group
	s.Annotations = []model.Annotation{*a}
	return nil
}

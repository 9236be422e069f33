package driver

// Shape kinds stored on :Shape nodes. A sample's annotation is split into one
// shape per geometry, so reading back yields fragments that need reconciling.
const (
	ShapeBox2d = "box2d"
	ShapeBox3d = "box3d"
	ShapeMask  = "mask"
	ShapeLabel = "label"
)

var IndexQueries = []string{
	"CREATE INDEX ON :Dataset(uuid);",
	"CREATE INDEX ON :Sample(dataset_id);",
	"CREATE INDEX ON :Sample(name);",
	"CREATE INDEX ON :Shape(uuid);",
	"CREATE INDEX ON :Label(dataset_id);",
}

const (
	SaveDatasetQuery = `
		MERGE (d:Dataset {uuid: $dataset_id})
		SET d.name = $name,
			d.updated_at = $updated_at
		RETURN d.uuid AS uuid
	`

	SaveLabelsQuery = `
		MATCH (d:Dataset {uuid: $dataset_id})
		UNWIND $labels AS label
		MERGE (l:Label {dataset_id: $dataset_id, index: label.index})
		SET l.name = label.name
		MERGE (d)-[:HAS_LABEL]->(l)
		RETURN count(l) AS count
	`

	SaveSampleQuery = `
		MATCH (d:Dataset {uuid: $dataset_id})
		MERGE (s:Sample {dataset_id: $dataset_id, name: $name})
		SET s.width = $width,
			s.height = $height,
			s.group_name = $group,
			s.sequence_name = $sequence_name,
			s.sequence_uuid = $sequence_uuid,
			s.frame_number = $frame_number
		MERGE (d)-[:HAS_SAMPLE]->(s)
		RETURN s.name AS name
	`

	SaveShapesQuery = `
		MATCH (s:Sample {dataset_id: $dataset_id, name: $name})
		UNWIND $shapes AS shape
		MERGE (sh:Shape {uuid: shape.uuid})
		SET sh.object_id = shape.object_id,
			sh.label = shape.label,
			sh.label_index = shape.label_index,
			sh.group_name = shape.group,
			sh.kind = shape.kind,
			sh.geometry = shape.geometry
		MERGE (s)-[:HAS_SHAPE]->(sh)
		RETURN count(sh) AS count
	`

	GetLabelsQuery = `
		MATCH (l:Label {dataset_id: $dataset_id})
		RETURN l.index AS index, l.name AS name
		ORDER BY index
	`

	GetShapesQuery = `
		MATCH (s:Sample {dataset_id: $dataset_id})
		WHERE size($groups) = 0 OR s.group_name IN $groups
		OPTIONAL MATCH (s)-[:HAS_SHAPE]->(sh:Shape)
		RETURN s.name AS name,
			s.width AS width,
			s.height AS height,
			s.group_name AS group,
			s.sequence_name AS sequence_name,
			s.sequence_uuid AS sequence_uuid,
			s.frame_number AS frame_number,
			sh.object_id AS object_id,
			sh.label AS label,
			sh.label_index AS label_index,
			sh.group_name AS shape_group,
			sh.kind AS kind,
			sh.geometry AS geometry
		ORDER BY name
	`
)

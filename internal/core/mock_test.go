package core

import (
	"context"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/annobridge/internal/core/model"
	"github.com/agenthands/annobridge/internal/driver"
)

type MockCall struct {
	Query  string
	Params map[string]interface{}
}

type MockDriver struct {
	mu           sync.Mutex
	Calls        []MockCall
	Results      map[string]neo4j.EagerResult
	Err          error
	IndicesBuilt bool
}

func (m *MockDriver) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Query: query, Params: params})
	if m.Err != nil {
		return neo4j.EagerResult{}, m.Err
	}
	return m.Results[query], nil
}

func (m *MockDriver) BuildIndices(ctx context.Context) error {
	m.IndicesBuilt = true
	return m.Err
}

func (m *MockDriver) Close(ctx context.Context) error {
	return nil
}

func (m *MockDriver) CallsTo(query string) []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MockCall
	for _, c := range m.Calls {
		if c.Query == query {
			out = append(out, c)
		}
	}
	return out
}

var shapeKeys = []string{
	"name", "width", "height", "group", "sequence_name", "sequence_uuid", "frame_number",
	"object_id", "label", "label_index", "shape_group", "kind", "geometry",
}

// Replay turns everything saved so far into the rows the fetch queries would
// return, so tests can read back what they wrote.
func (m *MockDriver) Replay() {
	samples := map[string]map[string]interface{}{}
	var order []string
	for _, c := range m.CallsTo(driver.SaveSampleQuery) {
		name := c.Params["name"].(string)
		if _, ok := samples[name]; !ok {
			order = append(order, name)
		}
		samples[name] = c.Params
	}

	shapes := map[string][]map[string]interface{}{}
	for _, c := range m.CallsTo(driver.SaveShapesQuery) {
		name := c.Params["name"].(string)
		shapes[name] = append(shapes[name], c.Params["shapes"].([]map[string]interface{})...)
	}

	var rows []*neo4j.Record
	for _, name := range order {
		s := samples[name]
		head := []interface{}{s["name"], s["width"], s["height"], s["group"], s["sequence_name"], s["sequence_uuid"], s["frame_number"]}
		if len(shapes[name]) == 0 {
			rows = append(rows, &neo4j.Record{Keys: shapeKeys, Values: append(head, nil, nil, nil, nil, nil, nil)})
			continue
		}
		for _, sh := range shapes[name] {
			values := append(append([]interface{}{}, head...),
				sh["object_id"], sh["label"], sh["label_index"], sh["group"], sh["kind"], sh["geometry"])
			rows = append(rows, &neo4j.Record{Keys: shapeKeys, Values: values})
		}
	}

	var labelRows []*neo4j.Record
	for _, c := range m.CallsTo(driver.SaveLabelsQuery) {
		for _, l := range c.Params["labels"].([]map[string]interface{}) {
			labelRows = append(labelRows, &neo4j.Record{Keys: []string{"index", "name"}, Values: []interface{}{int64(l["index"].(int)), l["name"]}})
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Results == nil {
		m.Results = map[string]neo4j.EagerResult{}
	}
	m.Results[driver.GetShapesQuery] = neo4j.EagerResult{Keys: shapeKeys, Records: rows}
	m.Results[driver.GetLabelsQuery] = neo4j.EagerResult{Keys: []string{"index", "name"}, Records: labelRows}
}

// MockTable keeps rows in memory, one per annotation.
type MockTable struct {
	Rows []model.Sample
	Err  error
}

func (t *MockTable) WriteSamples(ctx context.Context, samples []model.Sample) (int, error) {
	if t.Err != nil {
		return 0, t.Err
	}
	n := 0
	for _, s := range samples {
		head := s
		head.Annotations = nil
		if len(s.Annotations) == 0 {
			t.Rows = append(t.Rows, head)
			n++
			continue
		}
		for _, a := range s.Annotations {
			row := head
			row.Annotations = []model.Annotation{a}
			t.Rows = append(t.Rows, row)
			n++
		}
	}
	return n, nil
}

func (t *MockTable) ReadRows(ctx context.Context, groups []string) ([]model.Sample, error) {
	return t.Rows, t.Err
}

func (t *MockTable) Close() error {
	return nil
}

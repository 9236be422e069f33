package driver

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/annobridge/internal/core/model"
)

type GraphDriver interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error)
	BuildIndices(ctx context.Context) error
	Close(ctx context.Context) error
}

// SampleTable persists samples as flat annotation rows. Rows read back are
// fragments: one sample per row carrying at most one annotation.
type SampleTable interface {
	WriteSamples(ctx context.Context, samples []model.Sample) (int, error)
	ReadRows(ctx context.Context, groups []string) ([]model.Sample, error)
	Close() error
}

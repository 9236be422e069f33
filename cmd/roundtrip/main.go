package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/agenthands/annobridge/internal/config"
	"github.com/agenthands/annobridge/internal/core"
	"github.com/agenthands/annobridge/internal/core/coco"
	"github.com/agenthands/annobridge/internal/core/common"
	"github.com/agenthands/annobridge/internal/core/model"
	"github.com/agenthands/annobridge/internal/driver"
	"github.com/agenthands/annobridge/internal/logging"
)

// roundtrip converts a COCO file into samples, stores them (table file by
// default, Memgraph with -graph), reads them back and reports how faithfully
// the restored dataset matches the input.
func main() {
	var (
		cfgPath    = flag.String("config", "", "config file (.toml or .yaml)")
		input      = flag.String("input", "", "COCO .json or .zip to round-trip")
		output     = flag.String("output", "", "write the restored dataset here (.json or .zip)")
		datasetID  = flag.String("dataset", "roundtrip", "dataset id used for storage and sequence identifiers")
		group      = flag.String("group", "", "group assigned to imported samples (inferred from the file name when empty)")
		tablePath  = flag.String("table", "", "table file (defaults to [table] path)")
		useGraph   = flag.Bool("graph", false, "round-trip through Memgraph instead of the table file")
		maxImages  = flag.Int("max-images", 0, "only convert the first N images")
		categories = flag.String("categories", "", "comma separated category names to keep")
	)
	flag.Parse()

	if *input == "" {
		flag.Usage()
		os.Exit(2)
	}
	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file found")
	}

	cfg := config.Default()
	if *cfgPath != "" {
		c, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		cfg = c
	}
	cfg.ApplyEnv()
	if *tablePath != "" {
		cfg.Table.Path = *tablePath
	}
	if err := logging.Setup(cfg.Log); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	reader := coco.NewReader(coco.ReadOptions{
		Validate:       true,
		MaxImages:      *maxImages,
		CategoryFilter: common.SplitList(*categories),
	})
	ds, err := reader.ReadFile(*input)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", *input, err)
	}
	if *group == "" {
		*group = coco.InferGroup(filepath.Base(*input))
	}

	ctx := context.Background()
	var (
		restored *model.CocoDataset
		rt       *core.RoundTrip
	)
	if *useGraph {
		restored, rt, err = viaGraph(ctx, cfg, *datasetID, ds, *group)
	} else {
		restored, rt, err = viaTable(ctx, cfg, *datasetID, ds, *group)
	}
	if err != nil {
		log.Fatalf("Round trip failed: %v", err)
	}

	if *output != "" {
		if err := write(restored, *output); err != nil {
			log.Fatalf("Failed to write %s: %v", *output, err)
		}
	}

	fmt.Println(rt.Verification.Summary())
	for _, d := range rt.Report.Differences {
		fmt.Println("  " + d)
	}
	if !rt.Report.Match() || !rt.Verification.IsValid() {
		os.Exit(1)
	}
}

func viaTable(ctx context.Context, cfg *config.Config, datasetID string, ds *model.CocoDataset, group string) (*model.CocoDataset, *core.RoundTrip, error) {
	// start from an empty table so earlier runs do not leak into the result
	if err := os.Remove(cfg.Table.Path); err != nil && !os.IsNotExist(err) {
		return nil, nil, err
	}
	table, err := driver.NewTableStore(cfg.Table.Path)
	if err != nil {
		return nil, nil, err
	}
	defer table.Close()

	return core.NewBridge(nil, table, cfg).RoundTripTable(ctx, datasetID, ds, group)
}

func viaGraph(ctx context.Context, cfg *config.Config, datasetID string, ds *model.CocoDataset, group string) (*model.CocoDataset, *core.RoundTrip, error) {
	d, err := driver.NewMemgraphDriver(cfg.Memgraph.URI, cfg.Memgraph.User, cfg.Memgraph.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Memgraph: %w", err)
	}
	defer d.Close(ctx)

	bridge := core.NewBridge(d, nil, cfg)
	if err := bridge.BuildIndices(ctx); err != nil {
		return nil, nil, err
	}
	if _, err := bridge.ImportCoco(ctx, datasetID, ds, group); err != nil {
		return nil, nil, err
	}
	return bridge.VerifyRoundTrip(ctx, datasetID, ds, nil)
}

func write(ds *model.CocoDataset, path string) error {
	w := coco.NewWriter(coco.WriteOptions{Pretty: true})
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return w.WriteZip(ds, path, nil)
	}
	return w.WriteJSON(ds, path)
}

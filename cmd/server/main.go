package main

import (
	"context"
	"errors"
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/agenthands/annobridge/internal/config"
	"github.com/agenthands/annobridge/internal/core"
	"github.com/agenthands/annobridge/internal/driver"
	"github.com/agenthands/annobridge/internal/logging"
	"github.com/agenthands/annobridge/internal/server"
)

func loadConfig() *config.Config {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.toml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		log.Printf("No config at %s, using defaults", cfgPath)
		cfg = config.Default()
	}
	cfg.ApplyEnv()
	return cfg
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	cfg := loadConfig()
	if err := logging.Setup(cfg.Log); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	var graph driver.GraphDriver
	d, err := driver.NewMemgraphDriver(cfg.Memgraph.URI, cfg.Memgraph.User, cfg.Memgraph.Password)
	if err != nil {
		// stateless endpoints still work without the store
		log.WithError(err).Warn("Memgraph unavailable, dataset endpoints disabled")
	} else {
		graph = d
		defer d.Close(context.Background())
		if err := d.BuildIndices(context.Background()); err != nil {
			log.WithError(err).Warn("Failed to build indices")
		}
	}

	bridge := core.NewBridge(graph, nil, cfg)
	srv := server.NewServer(bridge, cfg)
	r := srv.SetupRouter()

	log.Printf("Starting server on port %s", cfg.Server.Port)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		log.Fatal(err)
	}
}

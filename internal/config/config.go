package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port string `toml:"port" yaml:"port"`
}

type MemgraphConfig struct {
	URI      string `toml:"uri" yaml:"uri"`
	User     string `toml:"user" yaml:"user"`
	Password string `toml:"password" yaml:"password"`
}

type ConversionConfig struct {
	IncludeMasks   bool    `toml:"include_masks" yaml:"include_masks"`
	Workers        int     `toml:"workers" yaml:"workers"`
	Tolerance      float64 `toml:"tolerance" yaml:"tolerance"`
	Precision      int     `toml:"precision" yaml:"precision"`
	ImageExtension string  `toml:"image_extension" yaml:"image_extension"`
	Flatten        bool    `toml:"flatten" yaml:"flatten"`
}

type TableConfig struct {
	Path string `toml:"path" yaml:"path"`
}

type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
	Path   string `toml:"path" yaml:"path"`
}

type Config struct {
	Server     ServerConfig     `toml:"server" yaml:"server"`
	Memgraph   MemgraphConfig   `toml:"memgraph" yaml:"memgraph"`
	Conversion ConversionConfig `toml:"conversion" yaml:"conversion"`
	Table      TableConfig      `toml:"table" yaml:"table"`
	Log        LogConfig        `toml:"log" yaml:"log"`
}

func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080"},
		Memgraph: MemgraphConfig{URI: "bolt://localhost:7687"},
		Conversion: ConversionConfig{
			IncludeMasks:   true,
			Workers:        defaultWorkers(),
			Tolerance:      0.02,
			Precision:      6,
			ImageExtension: ".jpg",
		},
		Table: TableConfig{Path: "samples.db"},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

func defaultWorkers() int {
	return min(max(runtime.NumCPU()/2, 2), 8)
}

// Load reads a TOML or YAML file (chosen by extension) over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	}

	return cfg, nil
}

// ApplyEnv overrides config values with environment variables when set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("MEMGRAPH_URI"); v != "" {
		c.Memgraph.URI = v
	}
	if v := os.Getenv("MEMGRAPH_USER"); v != "" {
		c.Memgraph.User = v
	}
	if v := os.Getenv("MEMGRAPH_PASSWORD"); v != "" {
		c.Memgraph.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		c.Log.Path = v
	}
	if v := os.Getenv("TABLE_PATH"); v != "" {
		c.Table.Path = v
	}
	if v := os.Getenv("MAX_COCO_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Conversion.Workers = n
		}
	}
}

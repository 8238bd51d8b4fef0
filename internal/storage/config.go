package storage

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration for one StorageEngine instance,
// loaded from a YAML file by cmd/relcorectl. Tables are declared here
// rather than recovered from a catalog file, since catalog persistence
// is an external collaborator's concern (see DESIGN.md).
type Config struct {
	DataDir    string        `yaml:"dataDir"`
	BufferPool BufferConfig  `yaml:"bufferPool"`
	Log        LogFileConfig `yaml:"log"`
	Tables     []TableConfig `yaml:"tables"`
}

// BufferConfig sizes the shared buffer pool.
type BufferConfig struct {
	Frames int `yaml:"frames"`
}

// LogFileConfig controls the engine's zerolog output.
type LogFileConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// TableConfig declares one table's schema and primary key column.
type TableConfig struct {
	Name       string         `yaml:"name"`
	Columns    []ColumnConfig `yaml:"columns"`
	PrimaryKey string         `yaml:"primaryKey"`
}

// ColumnConfig declares one column.
type ColumnConfig struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"` // "INT" or "STRING"
	Length int    `yaml:"length,omitempty"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("config: dataDir is required")
	}
	return &cfg, nil
}

// Schema converts a TableConfig's declared columns into a Schema and
// resolves the primary key's column ordinal.
func (tc TableConfig) Schema() (*Schema, int, error) {
	cols := make([]Column, len(tc.Columns))
	pkIndex := -1
	for i, c := range tc.Columns {
		var dt DataType
		switch c.Type {
		case "INT":
			dt = TypeInt
		case "STRING":
			dt = TypeString
		default:
			return nil, 0, fmt.Errorf("config: table %q column %q: unknown type %q", tc.Name, c.Name, c.Type)
		}
		cols[i] = Column{Name: c.Name, Type: dt, Length: c.Length}
		if c.Name == tc.PrimaryKey {
			pkIndex = i
		}
	}
	if pkIndex < 0 {
		return nil, 0, fmt.Errorf("config: table %q: primary key %q not found among columns", tc.Name, tc.PrimaryKey)
	}
	schema, err := NewSchema(cols)
	if err != nil {
		return nil, 0, err
	}
	return schema, pkIndex, nil
}

// Package config loads the YAML configuration file for a load run: worker
// count, chunking/commit tunables, and the SQLite database path. Shape and
// load pattern follow the teacher's own config package: unmarshal into a
// struct, then validate and apply defaults in one pass.
package config

import (
	"fmt"
	"io/ioutil"
	"runtime"

	"gopkg.in/yaml.v2"
)

// Config holds every tunable the orchestrator and store need for a load
// run. Zero values are replaced with the defaults in validate().
type Config struct {
	// DatabasePath is where the SQLite database lives.
	DatabasePath string `yaml:"database_path"`

	// ChunkSize is how many archive entries are read, parsed and
	// inserted as one unit before results are freed. Default 1000.
	ChunkSize int `yaml:"chunk_size"`

	// CommitBatchSize is how many filings are inserted per database
	// transaction. The orchestrator accumulates resolved filings and
	// commits them as one InsertFilingsBatch call once this many are
	// pending (or at the end of a chunk, whichever comes first), rather
	// than committing after every single filing. Default 500.
	CommitBatchSize int `yaml:"commit_batch_size"`

	// Workers is the size of the parse worker pool in parallel mode.
	// Default runtime.NumCPU().
	Workers int `yaml:"workers"`

	// LogLevel is a logrus level name ("debug", "info", "warn", ...).
	// Default "info".
	LogLevel string `yaml:"log_level"`
}

const (
	defaultChunkSize       = 1000
	defaultCommitBatchSize = 500
	defaultLogLevel        = "info"
)

// Unmarshal parses raw YAML bytes into a validated Config.
func Unmarshal(raw []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile reads and parses the YAML config file at path.
func LoadConfigFile(path string) (*Config, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return LoadConfigString(string(raw))
}

// LoadConfigString parses YAML config from an in-memory string, mainly for
// tests.
func LoadConfigString(raw string) (*Config, error) {
	return Unmarshal([]byte(raw))
}

// Default returns a Config with every field at its default value and the
// given database path.
func Default(databasePath string) *Config {
	cfg := &Config{DatabasePath: databasePath}
	_ = cfg.validate()
	return cfg
}

func (c *Config) validate() error {
	if c.DatabasePath == "" {
		c.DatabasePath = "ixbrl.db"
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.CommitBatchSize <= 0 {
		c.CommitBatchSize = defaultCommitBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	return nil
}

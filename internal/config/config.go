// Package config loads the radstore configuration.
//
// Values come from the built-in defaults, then an optional YAML file,
// then RADSTORE_* environment variables. The result is checked against
// an embedded CUE schema before it is returned.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/radstore/internal/fault"
)

//go:embed schema.cue
var schemaSource string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RADSTORE_"

// Config is the configuration of a radstore process.
type Config struct {
	// StorageDir holds the attachment files.
	StorageDir string `yaml:"storage_dir" json:"storage_dir"`

	// IndexPath is the SQLite index. Defaults to index.db inside StorageDir.
	IndexPath string `yaml:"index_path" json:"index_path"`

	// Compression applied to new attachments: none, zlib or lz4.
	Compression string `yaml:"compression" json:"compression"`

	// StoreHash records blake3 digests of new attachments.
	StoreHash bool `yaml:"store_hash" json:"store_hash"`

	// CacheCapacity bounds the parsed-record cache.
	CacheCapacity int `yaml:"cache_capacity" json:"cache_capacity"`

	KeepAlive bool `yaml:"keep_alive" json:"keep_alive"`

	Jobs     JobsConfig     `yaml:"jobs" json:"jobs"`
	Notifier NotifierConfig `yaml:"notifier" json:"notifier"`
	Log      LogConfig      `yaml:"log" json:"log"`

	// Filter is a CEL expression over tags and size. Records for which it
	// is false are not stored.
	Filter string `yaml:"filter" json:"filter"`

	Redis RedisConfig `yaml:"redis" json:"redis"`
}

// JobsConfig configures the job engine.
type JobsConfig struct {
	Workers      int           `yaml:"workers" json:"workers"`
	MaxCompleted int           `yaml:"max_completed" json:"max_completed"`
	SaveInterval time.Duration `yaml:"save_interval" json:"save_interval"`
}

// NotifierConfig configures the change notifier.
type NotifierConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// RedisConfig enables publishing changes to a Redis list when Addr is set.
type RedisConfig struct {
	Addr string `yaml:"addr" json:"addr"`
	Key  string `yaml:"key" json:"key"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		StorageDir:    "radstore-data",
		Compression:   "none",
		StoreHash:     true,
		CacheCapacity: 64,
		KeepAlive:     true,
		Jobs: JobsConfig{
			Workers:      2,
			MaxCompleted: 10,
			SaveInterval: 10 * time.Second,
		},
		Notifier: NotifierConfig{PollInterval: 100 * time.Millisecond},
		Log:      LogConfig{Level: "info", Format: "text"},
		Redis:    RedisConfig{Key: "radstore:changes"},
	}
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := cfg.decode(f); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if cfg.IndexPath == "" {
		cfg.IndexPath = filepath.Join(cfg.StorageDir, "index.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse is Load for an in-memory YAML document, without environment
// overrides.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.IndexPath == "" {
		cfg.IndexPath = filepath.Join(cfg.StorageDir, "index.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks c against the configuration schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fault.Wrap(fault.CodeValidation, err, "invalid configuration")
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	strs := map[string]*string{
		"STORAGE_DIR": &c.StorageDir,
		"INDEX_PATH":  &c.IndexPath,
		"COMPRESSION": &c.Compression,
		"LOG_LEVEL":   &c.Log.Level,
		"LOG_FORMAT":  &c.Log.Format,
		"FILTER":      &c.Filter,
		"REDIS_ADDR":  &c.Redis.Addr,
		"REDIS_KEY":   &c.Redis.Key,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"STORE_HASH": &c.StoreHash,
		"KEEP_ALIVE": &c.KeepAlive,
	}
	for name, dst := range bools {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return envError(name, err)
			}
			*dst = b
		}
	}

	ints := map[string]*int{
		"CACHE_CAPACITY":     &c.CacheCapacity,
		"JOB_WORKERS":        &c.Jobs.Workers,
		"MAX_COMPLETED_JOBS": &c.Jobs.MaxCompleted,
	}
	for name, dst := range ints {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return envError(name, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"JOB_SAVE_INTERVAL": &c.Jobs.SaveInterval,
		"POLL_INTERVAL":     &c.Notifier.PollInterval,
	}
	for name, dst := range durations {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return envError(name, err)
			}
			*dst = d
		}
	}
	return nil
}

func envError(name string, err error) error {
	return fault.Wrap(fault.CodeValidation, err, "environment variable %s%s", EnvPrefix, name)
}

// Package config loads labcore settings from a YAML file overlaid with
// LABCORE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"labcore/internal/blob"
	"labcore/internal/core"
)

// Config is the root configuration document.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Blob    blob.Config   `yaml:"blob"`
	Export  ExportConfig  `yaml:"export"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ExportConfig controls where exports land inside the blob store.
type ExportConfig struct {
	Prefix string `yaml:"prefix"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json|console
}

type MetricsConfig struct {
	Backend string `yaml:"backend"` // prometheus|expvar|none
	// Output receives the collected metrics when a command exits: a file
	// path, "-" for stderr, or empty to discard them.
	Output string `yaml:"output"`
}

type TracingConfig struct {
	Backend string `yaml:"backend"` // otel|json|none
}

// Backend names accepted by MetricsConfig and TracingConfig.
const (
	BackendNone       = "none"
	BackendPrometheus = "prometheus"
	BackendExpvar     = "expvar"
	BackendOTel       = "otel"
	BackendJSON       = "json"
)

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Storage: StorageConfig{Driver: string(core.StorageSQLite), SQLitePath: "./labcore.db"},
		Blob:    blob.Config{Driver: string(blob.DriverFilesystem), FSRoot: "./labcore-blobs"},
		Export:  ExportConfig{Prefix: "exports"},
		Log:     LogConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Backend: BackendNone},
		Tracing: TracingConfig{Backend: BackendNone},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = f.Close() }()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays LABCORE_* variables onto c. A nil lookup reads the
// process environment.
//
//	LABCORE_STORAGE_DRIVER, LABCORE_SQLITE_PATH, LABCORE_POSTGRES_DSN
//	LABCORE_BLOB_DRIVER, LABCORE_BLOB_FS_ROOT
//	LABCORE_BLOB_S3_BUCKET, LABCORE_BLOB_S3_REGION, LABCORE_BLOB_S3_ENDPOINT,
//	LABCORE_BLOB_S3_PREFIX, LABCORE_BLOB_S3_PATH_STYLE
//	LABCORE_EXPORT_PREFIX
//	LABCORE_LOG_LEVEL, LABCORE_LOG_FORMAT
//	LABCORE_METRICS_BACKEND, LABCORE_METRICS_OUTPUT, LABCORE_TRACING_BACKEND
//
// S3 credentials come from the standard AWS_* variables.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	strs := map[string]*string{
		"LABCORE_STORAGE_DRIVER":   &c.Storage.Driver,
		"LABCORE_SQLITE_PATH":      &c.Storage.SQLitePath,
		"LABCORE_POSTGRES_DSN":     &c.Storage.PostgresDSN,
		"LABCORE_BLOB_DRIVER":      &c.Blob.Driver,
		"LABCORE_BLOB_FS_ROOT":     &c.Blob.FSRoot,
		"LABCORE_BLOB_S3_BUCKET":   &c.Blob.S3.Bucket,
		"LABCORE_BLOB_S3_REGION":   &c.Blob.S3.Region,
		"LABCORE_BLOB_S3_ENDPOINT": &c.Blob.S3.Endpoint,
		"LABCORE_BLOB_S3_PREFIX":   &c.Blob.S3.Prefix,
		"LABCORE_EXPORT_PREFIX":    &c.Export.Prefix,
		"LABCORE_LOG_LEVEL":        &c.Log.Level,
		"LABCORE_LOG_FORMAT":       &c.Log.Format,
		"LABCORE_METRICS_BACKEND":  &c.Metrics.Backend,
		"LABCORE_METRICS_OUTPUT":   &c.Metrics.Output,
		"LABCORE_TRACING_BACKEND":  &c.Tracing.Backend,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	if v, ok := lookup("LABCORE_BLOB_S3_PATH_STYLE"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("LABCORE_BLOB_S3_PATH_STYLE: %w", err)
		}
		c.Blob.S3.PathStyle = b
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	switch core.StorageDriver(strings.ToLower(c.Storage.Driver)) {
	case core.StorageMemory:
	case core.StorageSQLite:
		if strings.TrimSpace(c.Storage.SQLitePath) == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite driver"))
		}
	case core.StoragePostgres:
		if strings.TrimSpace(c.Storage.PostgresDSN) == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of memory, sqlite, postgres", c.Storage.Driver))
	}
	driver, err := blob.ParseDriver(c.Blob.Driver)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("blob.driver: %w", err))
	case driver == blob.DriverS3 && strings.TrimSpace(c.Blob.S3.Bucket) == "":
		errs = append(errs, errors.New("blob.s3.bucket is required for the s3 driver"))
	}
	if strings.Trim(c.Export.Prefix, "/ ") == "" {
		errs = append(errs, errors.New("export.prefix must not be empty"))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if f := strings.ToLower(c.Log.Format); f != "json" && f != "console" {
		errs = append(errs, fmt.Errorf("log.format %q is not json or console", c.Log.Format))
	}
	if !oneOf(c.Metrics.Backend, BackendNone, BackendPrometheus, BackendExpvar) {
		errs = append(errs, fmt.Errorf("metrics.backend %q is not one of none, prometheus, expvar", c.Metrics.Backend))
	}
	if strings.TrimSpace(c.Metrics.Output) != "" && oneOf(c.Metrics.Backend, BackendNone) {
		errs = append(errs, errors.New("metrics.output needs a metrics.backend other than none"))
	}
	if !oneOf(c.Tracing.Backend, BackendNone, BackendOTel, BackendJSON) {
		errs = append(errs, fmt.Errorf("tracing.backend %q is not one of none, otel, json", c.Tracing.Backend))
	}
	return errors.Join(errs...)
}

// StorageOptions maps the storage section onto core.StorageOptions.
func (c Config) StorageOptions() core.StorageOptions {
	return core.StorageOptions{
		Driver:      core.StorageDriver(strings.ToLower(c.Storage.Driver)),
		SQLitePath:  c.Storage.SQLitePath,
		PostgresDSN: c.Storage.PostgresDSN,
	}
}

func oneOf(v string, allowed ...string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		v = BackendNone
	}
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Package config loads and validates icetable's runtime configuration:
// which object store backs the table, how the table partitions/sorts/
// compresses, and the knobs the background worker and ingest demos use.
// Adapted from the teacher's internal/config/config.go: same
// LoadConfig/env-override/ConfigValidator shape, rescoped from a
// log-capture pipeline's sources/sinks/dispatcher sections to a table's
// store/codec/operator sections.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"icetable/pkg/codec"
)

// Config is the root configuration object, loadable from YAML and then
// overridden by environment variables.
type Config struct {
	Table       TableConfig       `yaml:"table"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Merge       MergeConfig       `yaml:"merge"`
	Cleanup     CleanupConfig     `yaml:"cleanup"`
	Batching    BatchingConfig    `yaml:"batching"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`

	loaded bool
}

type TableConfig struct {
	Prefix      string   `yaml:"prefix"`
	SortKeys    []string `yaml:"sort_keys"`
	Codec       string   `yaml:"codec"`
	Author      string   `yaml:"author"`
}

// ObjectStoreConfig selects and configures the Store backend. Backend is
// "local" (package objectstore.LocalStore, for tests and demos) or "s3"
// (objectstore.S3Store).
type ObjectStoreConfig struct {
	Backend string `yaml:"backend"`

	LocalDir string `yaml:"local_dir"`

	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

type MergeConfig struct {
	Interval     time.Duration `yaml:"interval"`
	MaxFileCount int64         `yaml:"max_file_count"`
	MaxFileSize  int64         `yaml:"max_file_size"`
}

type CleanupConfig struct {
	Interval time.Duration `yaml:"interval"`
	MinAge   time.Duration `yaml:"min_age"`
}

type BatchingConfig struct {
	MinBatchSize     int           `yaml:"min_batch_size"`
	MaxBatchSize     int           `yaml:"max_batch_size"`
	InitialBatchSize int           `yaml:"initial_batch_size"`
	InitialFlushDelay time.Duration `yaml:"initial_flush_delay"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig reads configFile (if non-empty) and layers environment
// variable overrides on top, applying defaults for anything still unset.
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{}

	if configFile != "" {
		if err := loadConfigFile(configFile, cfg); err != nil {
			return nil, err
		}
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadConfigFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", filename, err)
	}
	cfg.loaded = true
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Table.Prefix == "" {
		cfg.Table.Prefix = "events"
	}
	if cfg.Table.Codec == "" {
		cfg.Table.Codec = string(codec.Default)
	}
	if cfg.Table.Author == "" {
		hostname, _ := os.Hostname()
		cfg.Table.Author = hostname
	}

	if cfg.ObjectStore.Backend == "" {
		cfg.ObjectStore.Backend = "local"
	}
	if cfg.ObjectStore.LocalDir == "" {
		cfg.ObjectStore.LocalDir = "./data"
	}
	if cfg.ObjectStore.Region == "" {
		cfg.ObjectStore.Region = "us-east-1"
	}

	if cfg.Merge.Interval == 0 {
		cfg.Merge.Interval = 30 * time.Second
	}
	if cfg.Merge.MaxFileCount <= 0 {
		cfg.Merge.MaxFileCount = 8
	}
	if cfg.Merge.MaxFileSize <= 0 {
		cfg.Merge.MaxFileSize = 64 << 20
	}

	if cfg.Cleanup.Interval == 0 {
		cfg.Cleanup.Interval = 5 * time.Minute
	}
	if cfg.Cleanup.MinAge == 0 {
		cfg.Cleanup.MinAge = 24 * time.Hour
	}

	if cfg.Batching.MinBatchSize <= 0 {
		cfg.Batching.MinBatchSize = 10
	}
	if cfg.Batching.MaxBatchSize <= 0 {
		cfg.Batching.MaxBatchSize = 1000
	}
	if cfg.Batching.InitialBatchSize <= 0 {
		cfg.Batching.InitialBatchSize = 100
	}
	if cfg.Batching.InitialFlushDelay == 0 {
		cfg.Batching.InitialFlushDelay = time.Second
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "icetable"
	}
	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = "jaeger"
	}
	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = "http://localhost:14268/api/traces"
	}
	if cfg.Tracing.SampleRate == 0 {
		cfg.Tracing.SampleRate = 1.0
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvironmentOverrides(cfg *Config) {
	cfg.Table.Prefix = getEnvString("ICETABLE_PREFIX", cfg.Table.Prefix)
	cfg.Table.Codec = getEnvString("ICETABLE_CODEC", cfg.Table.Codec)
	cfg.Table.SortKeys = getEnvStringSlice("ICETABLE_SORT_KEYS", cfg.Table.SortKeys)

	cfg.ObjectStore.Backend = getEnvString("ICETABLE_STORE_BACKEND", cfg.ObjectStore.Backend)
	cfg.ObjectStore.LocalDir = getEnvString("ICETABLE_STORE_LOCAL_DIR", cfg.ObjectStore.LocalDir)
	cfg.ObjectStore.Region = getEnvString("ICETABLE_S3_REGION", cfg.ObjectStore.Region)
	cfg.ObjectStore.Endpoint = getEnvString("ICETABLE_S3_ENDPOINT", cfg.ObjectStore.Endpoint)
	cfg.ObjectStore.AccessKey = getEnvString("ICETABLE_S3_ACCESS_KEY", cfg.ObjectStore.AccessKey)
	cfg.ObjectStore.SecretKey = getEnvString("ICETABLE_S3_SECRET_KEY", cfg.ObjectStore.SecretKey)
	cfg.ObjectStore.Bucket = getEnvString("ICETABLE_S3_BUCKET", cfg.ObjectStore.Bucket)
	cfg.ObjectStore.Prefix = getEnvString("ICETABLE_S3_PREFIX", cfg.ObjectStore.Prefix)
	cfg.ObjectStore.UsePathStyle = getEnvBool("ICETABLE_S3_PATH_STYLE", cfg.ObjectStore.UsePathStyle)

	cfg.Merge.Interval = getEnvDuration("ICETABLE_MERGE_INTERVAL", cfg.Merge.Interval)
	cfg.Merge.MaxFileCount = int64(getEnvInt("ICETABLE_MERGE_MAX_FILE_COUNT", int(cfg.Merge.MaxFileCount)))
	cfg.Merge.MaxFileSize = int64(getEnvInt("ICETABLE_MERGE_MAX_FILE_SIZE", int(cfg.Merge.MaxFileSize)))

	cfg.Cleanup.Interval = getEnvDuration("ICETABLE_CLEANUP_INTERVAL", cfg.Cleanup.Interval)
	cfg.Cleanup.MinAge = getEnvDuration("ICETABLE_CLEANUP_MIN_AGE", cfg.Cleanup.MinAge)

	cfg.Tracing.Enabled = getEnvBool("ICETABLE_TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Endpoint = getEnvString("ICETABLE_TRACING_ENDPOINT", cfg.Tracing.Endpoint)

	cfg.Metrics.Enabled = getEnvBool("ICETABLE_METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.Addr = getEnvString("ICETABLE_METRICS_ADDR", cfg.Metrics.Addr)

	cfg.Logging.Level = getEnvString("ICETABLE_LOG_LEVEL", cfg.Logging.Level)
}

func getEnvString(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if iv, err := strconv.Atoi(v); err == nil {
			return iv
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if bv, err := strconv.ParseBool(v); err == nil {
			return bv
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		return strings.Split(v, ",")
	}
	return defaultValue
}

// ValidateConfig runs every section's checks, accumulating every error
// found rather than failing on the first.
func ValidateConfig(cfg *Config) error {
	v := &ConfigValidator{config: cfg}
	return v.Validate()
}

type ConfigValidator struct {
	config *Config
	errors []string
}

func (v *ConfigValidator) Validate() error {
	v.validateTable()
	v.validateObjectStore()
	v.validateMerge()
	v.validateCleanup()
	v.validateTracing()

	if len(v.errors) > 0 {
		return fmt.Errorf("config: invalid configuration:\n  - %s", strings.Join(v.errors, "\n  - "))
	}
	return nil
}

func (v *ConfigValidator) addError(component, msg string) {
	v.errors = append(v.errors, fmt.Sprintf("%s: %s", component, msg))
}

func (v *ConfigValidator) validateTable() {
	if v.config.Table.Prefix == "" {
		v.addError("table", "prefix must not be empty")
	}
	switch codec.Algorithm(v.config.Table.Codec) {
	case codec.Snappy, codec.Zstd, codec.Gzip, codec.LZ4:
	default:
		v.addError("table", fmt.Sprintf("unknown codec %q", v.config.Table.Codec))
	}
}

func (v *ConfigValidator) validateObjectStore() {
	switch v.config.ObjectStore.Backend {
	case "local":
		if v.config.ObjectStore.LocalDir == "" {
			v.addError("object_store", "local_dir must not be empty for backend=local")
		}
	case "s3":
		if v.config.ObjectStore.Bucket == "" {
			v.addError("object_store", "bucket must not be empty for backend=s3")
		}
	default:
		v.addError("object_store", fmt.Sprintf("unknown backend %q, want local or s3", v.config.ObjectStore.Backend))
	}
}

func (v *ConfigValidator) validateMerge() {
	if v.config.Merge.MaxFileCount < 2 {
		v.addError("merge", "max_file_count must be at least 2 to ever find a mergeable partition")
	}
	if v.config.Merge.MaxFileSize <= 0 {
		v.addError("merge", "max_file_size must be positive")
	}
}

func (v *ConfigValidator) validateCleanup() {
	if v.config.Cleanup.MinAge < 0 {
		v.addError("cleanup", "min_age must not be negative")
	}
}

func (v *ConfigValidator) validateTracing() {
	if !v.config.Tracing.Enabled {
		return
	}
	switch v.config.Tracing.Exporter {
	case "jaeger":
	default:
		v.addError("tracing", fmt.Sprintf("unknown exporter %q", v.config.Tracing.Exporter))
	}
	if v.config.Tracing.SampleRate < 0 || v.config.Tracing.SampleRate > 1 {
		v.addError("tracing", "sample_rate must be in [0,1]")
	}
}

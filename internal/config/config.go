package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// StorageBackendType names a pluggable object storage backend (spec.md §4.2).
type StorageBackendType string

const (
	BackendFileSystem StorageBackendType = "FileSystem"
	BackendSqlar      StorageBackendType = "Sqlar"
	BackendS3         StorageBackendType = "S3"
	BackendRocksDB    StorageBackendType = "RocksDb"
)

// Configuration is the top-level shadowfs configuration: the Metadata Index
// location, mount behavior, and the primary/replica storage sections wired
// into the Storage Wrappers (E) chain.
type Configuration struct {
	DatabaseFile           string           `yaml:"database_file"`
	MountPoint             string           `yaml:"mount_point"`
	UpdateAccessTime       bool             `yaml:"update_access_time"`
	StoreFileChangeHistory bool             `yaml:"store_file_change_history"`
	Primary                StorageSection   `yaml:"primary"`
	Replicas               []StorageSection `yaml:"replicas"`
	Logging                LoggingConfig    `yaml:"logging"`
	Metrics                MetricsConfig    `yaml:"metrics"`
	Health                 HealthConfig     `yaml:"health"`
}

// StorageSection configures one storage destination (primary or a
// replica). An unset field in a replica takes Primary's value; see
// ResolvedReplicas. Configuration has no top-level storage fields, so no
// other default is consulted.
type StorageSection struct {
	StorageBackend    StorageBackendType `yaml:"storage_backend"`
	BlobStorage       string             `yaml:"blob_storage"`
	EncryptionKey     string             `yaml:"encryption_key"`
	CompressionLevel  int                `yaml:"compression_level"`
	UseHashAsFilename bool               `yaml:"use_hash_as_filename"`
	S3Bucket          string             `yaml:"s3_bucket"`
	S3Region          string             `yaml:"s3_region"`
	S3EndpointURL     string             `yaml:"s3_endpoint_url"`
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig represents the Prometheus exporter settings (component J).
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// HealthConfig represents health-check settings (component J).
type HealthConfig struct {
	Enabled       bool          `yaml:"enabled"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// NewDefault returns a configuration with the defaults from spec.md §6.
func NewDefault() *Configuration {
	return &Configuration{
		DatabaseFile:           "./index.db",
		MountPoint:             "./data",
		UpdateAccessTime:       false,
		StoreFileChangeHistory: true,
		Primary: StorageSection{
			StorageBackend:    BackendFileSystem,
			BlobStorage:       "./blobs",
			EncryptionKey:     "",
			CompressionLevel:  6,
			UseHashAsFilename: false,
		},
		Replicas: nil,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: ":9090",
		},
		Health: HealthConfig{
			Enabled:       true,
			CheckInterval: 30 * time.Second,
		},
	}
}

// ResolvedReplicas returns Replicas with every zero-valued field filled in
// from Primary. Primary is the only fallback: there is no intermediate
// Configuration-level storage default.
func (c *Configuration) ResolvedReplicas() []StorageSection {
	resolved := make([]StorageSection, len(c.Replicas))
	for i, r := range c.Replicas {
		resolved[i] = mergeStorageDefaults(r, c.Primary)
	}
	return resolved
}

func mergeStorageDefaults(s, fallback StorageSection) StorageSection {
	if s.StorageBackend == "" {
		s.StorageBackend = fallback.StorageBackend
	}
	if s.BlobStorage == "" {
		s.BlobStorage = fallback.BlobStorage
	}
	if s.EncryptionKey == "" {
		s.EncryptionKey = fallback.EncryptionKey
	}
	if s.CompressionLevel == 0 {
		s.CompressionLevel = fallback.CompressionLevel
	}
	if !s.UseHashAsFilename {
		s.UseHashAsFilename = fallback.UseHashAsFilename
	}
	if s.S3Bucket == "" {
		s.S3Bucket = fallback.S3Bucket
	}
	if s.S3Region == "" {
		s.S3Region = fallback.S3Region
	}
	if s.S3EndpointURL == "" {
		s.S3EndpointURL = fallback.S3EndpointURL
	}
	return s
}

// LoadFromFile loads configuration from a YAML file, overlaying only the
// keys present in it onto the receiver's current values.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	c.clampCompressionLevels()

	return nil
}

// clampCompressionLevels clamps every storage section's compression_level
// into [0, 9] (spec.md §6: "compression_level (0–9, clamped)").
func (c *Configuration) clampCompressionLevels() {
	c.Primary.CompressionLevel = clamp(c.Primary.CompressionLevel, 0, 9)
	for i := range c.Replicas {
		c.Replicas[i].CompressionLevel = clamp(c.Replicas[i].CompressionLevel, 0, 9)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// LoadFromEnv loads configuration from OBJECTFS_* environment variables,
// preferred over the config file for secrets such as encryption_key.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("OBJECTFS_DATABASE_FILE"); val != "" {
		c.DatabaseFile = val
	}
	if val := os.Getenv("OBJECTFS_MOUNT_POINT"); val != "" {
		c.MountPoint = val
	}
	if val := os.Getenv("OBJECTFS_UPDATE_ACCESS_TIME"); val != "" {
		c.UpdateAccessTime = strings.EqualFold(val, "true")
	}
	if val := os.Getenv("OBJECTFS_STORE_FILE_CHANGE_HISTORY"); val != "" {
		c.StoreFileChangeHistory = strings.EqualFold(val, "true")
	}

	if val := os.Getenv("OBJECTFS_PRIMARY_STORAGE_BACKEND"); val != "" {
		c.Primary.StorageBackend = StorageBackendType(val)
	}
	if val := os.Getenv("OBJECTFS_PRIMARY_BLOB_STORAGE"); val != "" {
		c.Primary.BlobStorage = val
	}
	if val := os.Getenv("OBJECTFS_PRIMARY_ENCRYPTION_KEY"); val != "" {
		c.Primary.EncryptionKey = val
	}
	if val := os.Getenv("OBJECTFS_PRIMARY_COMPRESSION_LEVEL"); val != "" {
		if level, err := strconv.Atoi(val); err == nil {
			c.Primary.CompressionLevel = level
		}
	}
	if val := os.Getenv("OBJECTFS_PRIMARY_USE_HASH_AS_FILENAME"); val != "" {
		c.Primary.UseHashAsFilename = strings.EqualFold(val, "true")
	}
	if val := os.Getenv("OBJECTFS_PRIMARY_S3_BUCKET"); val != "" {
		c.Primary.S3Bucket = val
	}
	if val := os.Getenv("OBJECTFS_PRIMARY_S3_REGION"); val != "" {
		c.Primary.S3Region = val
	}
	if val := os.Getenv("OBJECTFS_PRIMARY_S3_ENDPOINT_URL"); val != "" {
		c.Primary.S3EndpointURL = val
	}

	if val := os.Getenv("OBJECTFS_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv("OBJECTFS_LOG_FORMAT"); val != "" {
		c.Logging.Format = val
	}
	if val := os.Getenv("OBJECTFS_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = strings.EqualFold(val, "true")
	}
	if val := os.Getenv("OBJECTFS_METRICS_LISTEN_ADDR"); val != "" {
		c.Metrics.ListenAddr = val
	}
	if val := os.Getenv("OBJECTFS_HEALTH_ENABLED"); val != "" {
		c.Health.Enabled = strings.EqualFold(val, "true")
	}
	if val := os.Getenv("OBJECTFS_HEALTH_CHECK_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Health.CheckInterval = d
		}
	}

	c.clampCompressionLevels()
	return nil
}

// SaveToFile saves the configuration to a YAML file.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var validStorageBackends = []StorageBackendType{BackendFileSystem, BackendSqlar, BackendS3, BackendRocksDB}

func validateStorageSection(label string, s StorageSection) error {
	valid := false
	for _, b := range validStorageBackends {
		if s.StorageBackend == b {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%s: invalid storage_backend %q", label, s.StorageBackend)
	}
	if s.StorageBackend == BackendS3 && s.S3Bucket == "" {
		return fmt.Errorf("%s: s3_bucket is required for the S3 backend", label)
	}
	return nil
}

// Validate validates the configuration.
func (c *Configuration) Validate() error {
	if c.DatabaseFile == "" {
		return fmt.Errorf("database_file must not be empty")
	}
	if c.MountPoint == "" {
		return fmt.Errorf("mount_point must not be empty")
	}

	c.clampCompressionLevels()

	if err := validateStorageSection("primary", c.Primary); err != nil {
		return err
	}
	for i, r := range c.ResolvedReplicas() {
		if err := validateStorageSection(fmt.Sprintf("replicas[%d]", i), r); err != nil {
			return err
		}
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.EqualFold(c.Logging.Level, level) {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid logging.level: %s (must be one of: %s)",
			c.Logging.Level, strings.Join(validLogLevels, ", "))
	}

	if c.Health.Enabled && c.Health.CheckInterval <= 0 {
		return fmt.Errorf("health.check_interval must be greater than 0 when health checks are enabled")
	}

	return nil
}

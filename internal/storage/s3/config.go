// Package s3 implements the S3 object storage backend (component D),
// wrapped with the circuit breaker and retry policy from spec.md §4.9.
package s3

import "time"

// Config configures the S3 backend. Grounded on the connection/acceleration
// config of the teacher's internal/storage/s3/config.go, trimmed to the
// knobs the expanded spec's YAML schema actually exposes.
type Config struct {
	Bucket         string
	Region         string
	Endpoint       string
	ForcePathStyle bool

	MaxRetries int
	RetryDelay time.Duration

	// DeleteBatchSize bounds each DeleteObjects call, per the 1000-key
	// bulk purge loop in spec.md §4.2.
	DeleteBatchSize int
}

// NewDefaultConfig returns sane defaults for a new S3 backend.
func NewDefaultConfig() *Config {
	return &Config{
		Region:          "us-east-1",
		MaxRetries:      3,
		RetryDelay:      200 * time.Millisecond,
		DeleteBatchSize: 1000,
	}
}

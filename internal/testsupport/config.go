package testsupport

import (
	"path/filepath"
	"testing"

	"loadout/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithQueueCapacity overrides the offline submission queue capacity.
func WithQueueCapacity(capacity int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Queue.SubmissionCapacity = capacity
	}
}

// WithCaptureCapacity overrides the raw capture buffer capacity.
func WithCaptureCapacity(capacity int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Queue.CaptureCapacity = capacity
	}
}

// WithCloudVision points the cloud detector at a test server.
func WithCloudVision(endpoint, apiKey string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.CloudVision.Endpoint = endpoint
		cfg.CloudVision.APIKey = apiKey
	}
}

// Package integration holds end-to-end tests that drive the client stack
// against a graph service.
package integration

import (
	"context"
	"os"
	"testing"
	"time"
)

// Config holds integration test configuration from the environment.
type Config struct {
	Endpoint     string // ws:// or wss:// URL of a live graph service
	SessionToken string
	TestTimeout  time.Duration
	SkipSlow     bool
}

// LoadConfig loads integration test configuration from the environment.
func LoadConfig() *Config {
	return &Config{
		Endpoint:     os.Getenv("GRAPHLINK_IT_ENDPOINT"),
		SessionToken: os.Getenv("GRAPHLINK_IT_TOKEN"),
		TestTimeout:  30 * time.Second,
		SkipSlow:     os.Getenv("SKIP_SLOW_TESTS") == "1",
	}
}

// SkipIfNoEndpoint skips the test unless a live service is configured.
func SkipIfNoEndpoint(t *testing.T, cfg *Config) {
	t.Helper()
	if cfg.Endpoint == "" {
		t.Skip("Skipping live integration test: GRAPHLINK_IT_ENDPOINT not set")
	}
}

// SkipIfShort skips integration tests in short mode.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests.
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

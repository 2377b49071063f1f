// Package testsupport provides shared fixtures for package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"vpo/internal/config"
)

// ConfigOption customizes the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.TempDir = filepath.Join(base, "temp")
	cfg.Logging.Dir = filepath.Join(base, "logs")

	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithTranscription enables the speech backend on the test config.
func WithTranscription(binary, model string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Transcription.Enabled = true
		cfg.Transcription.Binary = binary
		cfg.Transcription.Model = model
	}
}

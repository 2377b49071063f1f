package config

import (
	"os"
	"path/filepath"
)

// Default returns the configuration used when no file is present.
func Default() *Config {
	stateDir := ""
	if home, err := os.UserHomeDir(); err == nil {
		stateDir = filepath.Join(home, ".local", "share", "vpo")
	}
	return &Config{
		Paths: Paths{
			StateDir: stateDir,
		},
		Logging: Logging{
			Format: "auto",
			Level:  "info",
		},
		Workflow: Workflow{
			Workers:          2,
			TranscodeTimeout: 0, // no automatic timeout on transcodes
			OperationTimeout: 600,
		},
		Transcription: Transcription{
			Enabled: false,
			Model:   "large-v3-turbo",
		},
	}
}

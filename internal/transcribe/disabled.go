package transcribe

import (
	"context"

	"vpo/internal/media"
	"vpo/internal/services"
)

// Disabled is the service used when transcription is turned off. The
// classifier falls back to its non-acoustic stages.
type Disabled struct{}

func (Disabled) Available() bool { return false }

func (Disabled) AcousticProfile(context.Context, string, int) (*AcousticProfile, error) {
	return nil, services.Wrap(services.ErrConfiguration, "transcribe", "acoustic", "transcription disabled", nil)
}

func (Disabled) LanguageSegments(context.Context, string, int) (*media.LanguageAnalysis, error) {
	return nil, services.Wrap(services.ErrConfiguration, "transcribe", "language", "transcription disabled", nil)
}

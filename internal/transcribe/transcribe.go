// Package transcribe integrates an external speech analysis tool. The
// engine only consumes its summarized outputs: acoustic profiles for
// commentary detection and per-track language segment statistics.
package transcribe

import (
	"context"

	"vpo/internal/media"
)

// AcousticProfile summarizes the sound character of one audio track.
type AcousticProfile struct {
	TrackIndex         int
	SpeechDensity      float64 // fraction of runtime containing speech, 0..1
	DynamicRangeDB     float64
	VoiceCountEstimate int
	HasBackgroundAudio bool
}

// Service is the speech analysis surface the classifier and the
// transcription operation consume.
type Service interface {
	// Available reports whether the backing tool can run at all. Callers
	// degrade gracefully when it cannot.
	Available() bool
	// AcousticProfile analyzes the sound character of one audio track.
	AcousticProfile(ctx context.Context, path string, trackIndex int) (*AcousticProfile, error)
	// LanguageSegments detects spoken languages and their shares for one
	// audio track.
	LanguageSegments(ctx context.Context, path string, trackIndex int) (*media.LanguageAnalysis, error)
}

// Package classify infers original/dubbed status and commentary character
// for audio tracks, combining metadata, track position, and acoustic
// analysis into confidence-scored verdicts.
package classify

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"vpo/internal/language"
	"vpo/internal/logging"
	"vpo/internal/media"
	"vpo/internal/services"
	"vpo/internal/transcribe"
)

// Stage confidences. Metadata is near-authoritative; position alone is a
// weak signal that later stages refine.
const (
	metadataConfidence       = 0.95
	positionSingleConfidence = 0.50
	positionFirstConfidence  = 0.60
	positionOtherConfidence  = 0.50
)

// Acoustic commentary scoring. Each matching trait adds weight; the sum is
// capped at 1.0 and compared against the commentary threshold.
const (
	acousticSpeechDensityMin  = 0.7
	acousticSpeechWeight      = 0.4
	acousticDynamicRangeMaxDB = 15.0
	acousticDynamicWeight     = 0.3
	acousticVoiceWeight       = 0.3
	commentaryThreshold       = 0.7
)

// Cache is the persistence surface the classifier needs. *store.Store
// satisfies it.
type Cache interface {
	GetClassification(ctx context.Context, fileHash string, trackIndex int) (*media.TrackClassification, error)
	SaveClassification(ctx context.Context, result media.TrackClassification) error
}

// Classifier runs the staged analysis for one file at a time.
type Classifier struct {
	cache      Cache
	transcribe transcribe.Service
	logger     *slog.Logger
	// OriginalLanguage overrides the production language for every file.
	// When empty, the classifier reads the original_language fact
	// contributed by a metadata plugin; without either, the metadata
	// stage is disabled.
	OriginalLanguage string
}

// New builds a classifier. A nil cache disables caching, a nil service
// disables the acoustic stage.
func New(cache Cache, svc transcribe.Service, logger *slog.Logger) *Classifier {
	if svc == nil {
		svc = transcribe.Disabled{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Classifier{cache: cache, transcribe: svc, logger: logger}
}

// ClassifyFile classifies every audio track of the file, consulting the
// cache first. Results are keyed by (track index, content hash): a hash
// change invalidates prior entries by construction.
func (c *Classifier) ClassifyFile(ctx context.Context, info *media.FileInfo) (map[int]media.TrackClassification, error) {
	audio := info.AudioTracks()
	results := make(map[int]media.TrackClassification, len(audio))

	for _, track := range audio {
		if err := ctx.Err(); err != nil {
			return nil, services.Wrap(services.ErrCancelled, "classify", "file", info.Path, err)
		}

		if c.cache != nil {
			cached, err := c.cache.GetClassification(ctx, info.ContentHash, track.Index)
			if err == nil {
				results[track.Index] = *cached
				continue
			}
			if !errors.Is(err, services.ErrNotFound) {
				return nil, err
			}
		}

		result := c.classifyTrack(ctx, info, track, len(audio))
		results[track.Index] = result

		if c.cache != nil {
			if err := c.cache.SaveClassification(ctx, result); err != nil {
				return nil, err
			}
		}
		c.logger.Debug("track classified",
			logging.String(logging.FieldFile, info.Path),
			logging.Int("track", track.Index),
			logging.String("original_dubbed", string(result.OriginalDubbed)),
			logging.String("commentary", string(result.Commentary)),
			logging.Float64("confidence", result.Confidence),
			logging.String("method", string(result.Method)),
		)
	}
	return results, nil
}

// classifyTrack runs the stages in order and keeps the most confident
// verdict. Stages never fail the classification; an unavailable stage
// simply contributes nothing.
func (c *Classifier) classifyTrack(ctx context.Context, info *media.FileInfo, track media.TrackInfo, audioCount int) media.TrackClassification {
	result := media.TrackClassification{
		TrackIndex:     track.Index,
		FileHash:       info.ContentHash,
		OriginalDubbed: media.StatusUnknown,
		Commentary:     media.CommentaryUnknown,
		Language:       language.Normalize(track.Language),
	}

	if verdict, ok := c.metadataStage(info, track); ok {
		result.OriginalDubbed = verdict
		result.Confidence = metadataConfidence
		result.Method = media.MethodMetadata
	} else {
		verdict, confidence := c.positionStage(info, track, audioCount)
		result.OriginalDubbed = verdict
		result.Confidence = confidence
		result.Method = media.MethodPosition
	}

	if commentary, ok := c.acousticStage(ctx, info, track); ok {
		result.Commentary = commentary
		if result.Method != media.MethodMetadata {
			result.Method = media.MethodCombined
		}
	}
	return result
}

// metadataStage compares the track language against the known production
// language of the content.
func (c *Classifier) metadataStage(info *media.FileInfo, track media.TrackInfo) (media.OriginalDubbed, bool) {
	original := language.Normalize(c.originalLanguage(info))
	observed := language.Normalize(track.Language)
	if original == "" || original == "und" || observed == "" || observed == "und" {
		return media.StatusUnknown, false
	}
	if observed == original {
		return media.StatusOriginal, true
	}
	return media.StatusDubbed, true
}

// originalLanguage resolves the production language for a file. An explicit
// override wins; otherwise the first plugin (in name order, so the answer
// is stable) that contributed an original_language fact is consulted.
func (c *Classifier) originalLanguage(info *media.FileInfo) string {
	if c.OriginalLanguage != "" {
		return c.OriginalLanguage
	}
	if info == nil || len(info.PluginMetadata) == 0 {
		return ""
	}
	plugins := make([]string, 0, len(info.PluginMetadata))
	for name := range info.PluginMetadata {
		plugins = append(plugins, name)
	}
	sort.Strings(plugins)
	for _, name := range plugins {
		if raw, ok := info.PluginMetadata[name]["original_language"]; ok {
			if value, ok := raw.(string); ok && value != "" {
				return value
			}
		}
	}
	return ""
}

// positionStage is the weak heuristic used when no production language is
// known: the first audio track of a multi-track file is most often the
// original.
func (c *Classifier) positionStage(info *media.FileInfo, track media.TrackInfo, audioCount int) (media.OriginalDubbed, float64) {
	if audioCount <= 1 {
		return media.StatusOriginal, positionSingleConfidence
	}
	audio := info.AudioTracks()
	if len(audio) > 0 && audio[0].Index == track.Index {
		return media.StatusOriginal, positionFirstConfidence
	}
	return media.StatusDubbed, positionOtherConfidence
}

// acousticStage scores commentary traits from the track's sound character.
func (c *Classifier) acousticStage(ctx context.Context, info *media.FileInfo, track media.TrackInfo) (media.Commentary, bool) {
	if !c.transcribe.Available() {
		return media.CommentaryUnknown, false
	}
	profile, err := c.transcribe.AcousticProfile(ctx, info.Path, track.Index)
	if err != nil {
		c.logger.Warn("acoustic analysis failed",
			logging.String(logging.FieldFile, info.Path),
			logging.Int("track", track.Index),
			logging.Error(err),
		)
		return media.CommentaryUnknown, false
	}

	score := commentaryScore(profile)
	if score >= commentaryThreshold {
		return media.CommentaryTrack, true
	}
	return media.MainTrack, true
}

// commentaryScore sums the commentary traits of an acoustic profile,
// capped at 1.0. Dense continuous speech, narrow dynamic range, and a
// small voice count are the signature of a commentary mix.
func commentaryScore(profile *transcribe.AcousticProfile) float64 {
	score := 0.0
	if profile.SpeechDensity > acousticSpeechDensityMin {
		score += acousticSpeechWeight
	}
	if profile.DynamicRangeDB > 0 && profile.DynamicRangeDB < acousticDynamicRangeMaxDB {
		score += acousticDynamicWeight
	}
	if profile.VoiceCountEstimate >= 1 && profile.VoiceCountEstimate <= 3 {
		score += acousticVoiceWeight
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// TitleSuggestsCommentary is a cheap metadata pre-check used outside the
// full pipeline.
func TitleSuggestsCommentary(title string, patterns []string) bool {
	lowered := strings.ToLower(title)
	for _, pattern := range patterns {
		if pattern != "" && strings.Contains(lowered, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

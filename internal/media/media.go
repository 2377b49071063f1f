package media

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// Track type constants as reported by ffprobe codec_type.
const (
	TrackVideo      = "video"
	TrackAudio      = "audio"
	TrackSubtitle   = "subtitle"
	TrackAttachment = "attachment"
)

// TrackInfo describes a single track within a media container.
type TrackInfo struct {
	Index           int
	Type            string
	Codec           string
	Language        string
	Title           string
	Channels        int
	Width           int
	Height          int
	Default         bool
	Forced          bool
	DurationSeconds float64
}

// IsAudio reports whether the track is an audio track.
func (t TrackInfo) IsAudio() bool { return strings.EqualFold(t.Type, TrackAudio) }

// FileInfo is the fact snapshot the policy engine evaluates against. It is
// replaced wholesale after a mutating phase, never patched in place.
type FileInfo struct {
	Path          string
	Container     string
	SizeBytes     int64
	ContentHash   string
	Tracks        []TrackInfo
	ContainerTags map[string]string
	// PluginMetadata holds provider-supplied facts keyed by plugin name,
	// e.g. PluginMetadata["radarr"]["original_language"].
	PluginMetadata map[string]map[string]any
}

// TracksOfType returns the tracks matching the given type.
func (f *FileInfo) TracksOfType(trackType string) []TrackInfo {
	result := make([]TrackInfo, 0, len(f.Tracks))
	for _, track := range f.Tracks {
		if strings.EqualFold(track.Type, trackType) {
			result = append(result, track)
		}
	}
	return result
}

// AudioTracks returns the audio tracks in container order.
func (f *FileInfo) AudioTracks() []TrackInfo { return f.TracksOfType(TrackAudio) }

// OriginalDubbed is the original/dubbed determination for an audio track.
type OriginalDubbed string

const (
	StatusOriginal OriginalDubbed = "original"
	StatusDubbed   OriginalDubbed = "dubbed"
	StatusUnknown  OriginalDubbed = "unknown"
)

// Commentary is the commentary/main determination for an audio track.
type Commentary string

const (
	CommentaryTrack   Commentary = "commentary"
	MainTrack         Commentary = "main"
	CommentaryUnknown Commentary = "unknown"
)

// DetectionMethod identifies which classifier stage produced a result.
type DetectionMethod string

const (
	MethodMetadata DetectionMethod = "metadata"
	MethodPosition DetectionMethod = "position"
	MethodAcoustic DetectionMethod = "acoustic"
	MethodCombined DetectionMethod = "combined"
)

// TrackClassification is a confidence-scored inference about an audio track.
// Cached results are keyed by (TrackIndex, FileHash); a hash change forces
// re-classification.
type TrackClassification struct {
	TrackIndex     int
	FileHash       string
	OriginalDubbed OriginalDubbed
	Commentary     Commentary
	Confidence     float64
	Method         DetectionMethod
	Language       string
}

// LanguageShare is one language's share of a track's speech content.
type LanguageShare struct {
	Language   string
	Percentage float64
}

// LanguageAnalysis summarizes per-track spoken-language detection.
type LanguageAnalysis struct {
	TrackIndex        int
	PrimaryLanguage   string
	PrimaryPercentage float64
	Secondary         []LanguageShare
	MultiLanguage     bool
}

// hashSampleBytes bounds how much file content feeds the content hash. The
// hash only needs to detect mutation, not identify content globally.
const hashSampleBytes = 1 << 20

// ContentHash derives a hash from file size plus the leading bytes. Any
// remux or transcode rewrites the container header, so header bytes are a
// reliable mutation signal without reading multi-gigabyte files end to end.
func ContentHash(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat for hash: %w", err)
	}
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hash: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	fmt.Fprintf(hasher, "%d:", info.Size())
	if _, err := io.CopyN(hasher, file, hashSampleBytes); err != nil && err != io.EOF {
		return "", fmt.Errorf("read for hash: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

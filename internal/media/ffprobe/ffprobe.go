package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"vpo/internal/media"
)

// Result represents the parsed output from an ffprobe inspection.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the media container.
type Stream struct {
	Index       int               `json:"index"`
	CodecName   string            `json:"codec_name"`
	CodecType   string            `json:"codec_type"`
	Duration    string            `json:"duration"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Channels    int               `json:"channels"`
	Tags        map[string]string `json:"tags"`
	Disposition map[string]int    `json:"disposition"`
}

// Format captures container-level metadata extracted by ffprobe.
type Format struct {
	Filename   string            `json:"filename"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	FormatName string            `json:"format_name"`
	Tags       map[string]string `json:"tags"`
}

// Introspector runs ffprobe and produces FileInfo fact snapshots.
type Introspector struct {
	Binary string
}

// Introspect executes ffprobe against the provided path and builds the fact
// snapshot the engine evaluates against, including the content hash used for
// classification cache invalidation.
func (i Introspector) Introspect(ctx context.Context, path string) (*media.FileInfo, error) {
	result, err := i.probe(ctx, path)
	if err != nil {
		return nil, err
	}

	hash, err := media.ContentHash(path)
	if err != nil {
		return nil, err
	}

	info := &media.FileInfo{
		Path:          path,
		Container:     containerName(result.Format.FormatName),
		SizeBytes:     parseInt64(result.Format.Size),
		ContentHash:   hash,
		ContainerTags: lowercaseTags(result.Format.Tags),
		Tracks:        make([]media.TrackInfo, 0, len(result.Streams)),
	}

	for _, stream := range result.Streams {
		info.Tracks = append(info.Tracks, streamToTrack(stream, result.Format))
	}
	return info, nil
}

func (i Introspector) probe(ctx context.Context, path string) (Result, error) {
	binary := strings.TrimSpace(i.Binary)
	if binary == "" {
		binary = "ffprobe"
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, errors.New("ffprobe inspect: empty path")
	}

	cmd := exec.CommandContext(ctx, binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return Result{}, fmt.Errorf("ffprobe inspect: %w: %s", err, strings.TrimSpace(string(output)))
	}

	var result Result
	if err := json.Unmarshal(output, &result); err != nil {
		return Result{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}

func streamToTrack(stream Stream, format Format) media.TrackInfo {
	track := media.TrackInfo{
		Index:    stream.Index,
		Type:     strings.ToLower(stream.CodecType),
		Codec:    strings.ToLower(stream.CodecName),
		Channels: stream.Channels,
		Width:    stream.Width,
		Height:   stream.Height,
	}
	if stream.Tags != nil {
		track.Language = normalizeTag(stream.Tags, "language", "LANGUAGE", "language_ietf")
		track.Title = firstTag(stream.Tags, "title", "TITLE", "handler_name")
	}
	if stream.Disposition != nil {
		track.Default = stream.Disposition["default"] == 1
		track.Forced = stream.Disposition["forced"] == 1
	}
	track.DurationSeconds = parseFloat(stream.Duration)
	if track.DurationSeconds == 0 {
		track.DurationSeconds = parseFloat(format.Duration)
	}
	return track
}

// containerName maps ffprobe format_name values (often comma-separated
// alternatives) to a single container identifier.
func containerName(formatName string) string {
	name := strings.ToLower(strings.TrimSpace(formatName))
	switch {
	case strings.Contains(name, "matroska"):
		return "mkv"
	case strings.Contains(name, "mp4"):
		return "mp4"
	case strings.Contains(name, "avi"):
		return "avi"
	default:
		if idx := strings.IndexByte(name, ','); idx > 0 {
			return name[:idx]
		}
		return name
	}
}

func normalizeTag(tags map[string]string, keys ...string) string {
	return strings.ToLower(firstTag(tags, keys...))
}

func firstTag(tags map[string]string, keys ...string) string {
	for _, key := range keys {
		if value, ok := tags[key]; ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func lowercaseTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	result := make(map[string]string, len(tags))
	for key, value := range tags {
		result[strings.ToLower(key)] = value
	}
	return result
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	if parsed, err := strconv.ParseFloat(cleaned, 64); err == nil && parsed > 0 {
		return parsed
	}
	return 0
}

func parseInt64(value string) int64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	if parsed, err := strconv.ParseInt(cleaned, 10, 64); err == nil && parsed > 0 {
		return parsed
	}
	return 0
}

package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"vpo/internal/language"
	"vpo/internal/media"
	"vpo/internal/services"
)

// multiLanguageShare is the secondary-language share above which a track
// counts as multi-language.
const multiLanguageShare = 15.0

// Whisper shells out to a whisper-compatible CLI that emits JSON analysis
// for a single audio stream.
type Whisper struct {
	Binary string
	Model  string
}

// NewWhisper builds the adapter. An empty binary yields a service whose
// Available method reports false.
func NewWhisper(binary, model string) *Whisper {
	return &Whisper{Binary: strings.TrimSpace(binary), Model: model}
}

// Available reports whether the configured binary resolves on PATH.
func (w *Whisper) Available() bool {
	if w == nil || w.Binary == "" {
		return false
	}
	_, err := exec.LookPath(w.Binary)
	return err == nil
}

// whisperReport is the JSON document the analysis binary emits.
type whisperReport struct {
	SpeechDensity      float64 `json:"speech_density"`
	DynamicRangeDB     float64 `json:"dynamic_range_db"`
	VoiceCountEstimate int     `json:"voice_count_estimate"`
	HasBackgroundAudio bool    `json:"has_background_audio"`
	Segments           []struct {
		Language string  `json:"language"`
		Seconds  float64 `json:"seconds"`
	} `json:"segments"`
}

func (w *Whisper) run(ctx context.Context, path string, trackIndex int, mode string) (*whisperReport, error) {
	if !w.Available() {
		return nil, services.Wrap(services.ErrConfiguration, "transcribe", "run", "analysis binary not available", nil)
	}
	args := []string{
		"--mode", mode,
		"--track", fmt.Sprintf("%d", trackIndex),
		"--output-format", "json",
	}
	if w.Model != "" {
		args = append(args, "--model", w.Model)
	}
	args = append(args, "--", path)

	cmd := exec.CommandContext(ctx, w.Binary, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, services.Wrap(services.ErrCancelled, "transcribe", "run", path, ctx.Err())
		}
		return nil, services.Wrap(services.ErrExternalTool, "transcribe", "run", path, err)
	}

	var report whisperReport
	if err := json.Unmarshal(output, &report); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "transcribe", "parse", path, err)
	}
	return &report, nil
}

// AcousticProfile analyzes the sound character of one audio track.
func (w *Whisper) AcousticProfile(ctx context.Context, path string, trackIndex int) (*AcousticProfile, error) {
	report, err := w.run(ctx, path, trackIndex, "acoustic")
	if err != nil {
		return nil, err
	}
	return &AcousticProfile{
		TrackIndex:         trackIndex,
		SpeechDensity:      report.SpeechDensity,
		DynamicRangeDB:     report.DynamicRangeDB,
		VoiceCountEstimate: report.VoiceCountEstimate,
		HasBackgroundAudio: report.HasBackgroundAudio,
	}, nil
}

// LanguageSegments detects spoken languages and their shares for one track.
func (w *Whisper) LanguageSegments(ctx context.Context, path string, trackIndex int) (*media.LanguageAnalysis, error) {
	report, err := w.run(ctx, path, trackIndex, "language")
	if err != nil {
		return nil, err
	}
	return summarizeSegments(trackIndex, report), nil
}

func summarizeSegments(trackIndex int, report *whisperReport) *media.LanguageAnalysis {
	totals := make(map[string]float64)
	var total float64
	for _, segment := range report.Segments {
		tag := language.Normalize(segment.Language)
		if tag == "" {
			tag = "und"
		}
		totals[tag] += segment.Seconds
		total += segment.Seconds
	}

	analysis := &media.LanguageAnalysis{TrackIndex: trackIndex, PrimaryLanguage: "und"}
	if total == 0 {
		return analysis
	}

	type share struct {
		lang string
		pct  float64
	}
	shares := make([]share, 0, len(totals))
	for lang, seconds := range totals {
		shares = append(shares, share{lang: lang, pct: seconds / total * 100})
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].pct != shares[j].pct {
			return shares[i].pct > shares[j].pct
		}
		return shares[i].lang < shares[j].lang
	})

	analysis.PrimaryLanguage = shares[0].lang
	analysis.PrimaryPercentage = shares[0].pct
	for _, s := range shares[1:] {
		analysis.Secondary = append(analysis.Secondary, media.LanguageShare{
			Language: s.lang, Percentage: s.pct,
		})
		if s.pct >= multiLanguageShare {
			analysis.MultiLanguage = true
		}
	}
	return analysis
}

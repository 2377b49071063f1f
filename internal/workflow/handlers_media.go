package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"vpo/internal/executor"
	"vpo/internal/language"
	"vpo/internal/logging"
	"vpo/internal/media"
	"vpo/internal/policy"
	"vpo/internal/policy/synthesis"
	"vpo/internal/services"
	"vpo/internal/transcribe"
)

// TranscriptionRunner bundles the speech service with its persistence for
// the transcription operation.
type TranscriptionRunner struct {
	Service transcribe.Service
	Store   AnalysisStore
}

// runContainer converts the file to the target container format. The file
// path changes with the extension; later phases operate on the new path.
func (e *PhaseExecutor) runContainer(ctx context.Context, state *FileState, phase *policy.PhaseDefinition) (bool, error) {
	target := strings.ToLower(strings.TrimSpace(phase.Container.Format))
	if target == "" || state.Facts.File.Container == target {
		return false, nil
	}

	var keep []int
	for _, track := range state.Facts.File.Tracks {
		keep = append(keep, track.Index)
	}
	newPath := replaceExt(state.Path, target)
	if err := e.tools.ConvertContainer(ctx, state.Path, newPath, executor.RemuxPlan{KeepTracks: keep, Container: target}); err != nil {
		return false, err
	}
	if !e.dryRun {
		state.Path = newPath
		state.Facts.File.Path = newPath
	}
	return true, nil
}

func replaceExt(path, container string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + container
}

// runConditional evaluates the phase's rule block and applies any pending
// header edits it produced.
func (e *PhaseExecutor) runConditional(ctx context.Context, state *FileState, phase *policy.PhaseDefinition) (bool, error) {
	before := len(state.Plan.FlagChanges) + len(state.Plan.LanguageChanges)

	if err := e.eval.ApplyRules(phase.Conditional, state.Facts, &state.Plan); err != nil {
		var ruleErr *policy.RuleError
		if errors.As(err, &ruleErr) {
			return false, services.Wrap(services.ErrPolicyFail, "workflow", "conditional", ruleErr.Error(), nil)
		}
		return false, err
	}

	for _, match := range state.Plan.Matched {
		e.logger.Info("rule matched",
			logging.String(logging.FieldFile, state.Path),
			logging.String(logging.FieldPhase, phase.Name),
			logging.String(logging.FieldRule, match.Rule),
			logging.String("reason", match.Reason),
		)
	}
	state.Plan.Matched = nil

	if len(state.Plan.FlagChanges)+len(state.Plan.LanguageChanges) == before {
		return false, nil
	}
	if err := e.tools.ApplyPlanEdits(ctx, state.Path, &state.Plan); err != nil {
		return false, err
	}
	changed := !e.dryRun
	state.Plan.FlagChanges = nil
	state.Plan.LanguageChanges = nil
	return changed, nil
}

// runAudioSynthesis plans and encodes derived audio tracks.
func (e *PhaseExecutor) runAudioSynthesis(ctx context.Context, state *FileState, phase *policy.PhaseDefinition) (bool, error) {
	plan := synthesis.BuildPlan(phase.AudioSynthesis, state.Facts, e.eval)
	for _, skipped := range plan.Skipped {
		e.logger.Info("synthesis skipped",
			logging.String(logging.FieldFile, state.Path),
			logging.String("definition", skipped.Name),
			logging.String("reason", string(skipped.Reason)),
			logging.String("detail", skipped.Detail),
		)
	}
	if len(plan.Tracks) == 0 {
		return false, nil
	}

	changed := false
	for _, planned := range plan.Tracks {
		if planned.Source.IsFallback {
			state.Plan.Warnings = append(state.Plan.Warnings, fmt.Sprintf(
				"synthesis %q: no source preference matched, using track %d",
				planned.Definition.Name, planned.Source.Track.Index))
		}
		job := executor.SynthesizeJob{
			SourceIndex: planned.Source.Track.Index,
			OutputIndex: len(state.Facts.File.AudioTracks()),
			Codec:       planned.Definition.Codec,
			Channels:    planned.Definition.Channels,
			Bitrate:     planned.Definition.Bitrate,
			Title:       planned.Title,
			Language:    language.Normalize(planned.Language),
		}
		if err := e.tools.Synthesize(ctx, state.Path, job); err != nil {
			return changed, err
		}
		if !e.dryRun {
			changed = true
			if err := e.refresh(ctx, state); err != nil {
				return changed, err
			}
		}
	}
	return changed, nil
}

// runTranscode re-encodes video and audio per the phase settings, honoring
// skip flags set by earlier conditional rules.
func (e *PhaseExecutor) runTranscode(ctx context.Context, state *FileState, phase *policy.PhaseDefinition) (bool, error) {
	job := executor.TranscodeJob{}
	cfg := phase.Transcode

	if cfg.Video != nil {
		switch {
		case state.Plan.SkipVideoTranscode:
			e.logger.Info("video transcode skipped by rule",
				logging.String(logging.FieldFile, state.Path))
		default:
			if video := videoTranscodeFor(state.Facts.File, cfg.Video); video != nil {
				job.Video = video
			}
		}
	}

	if cfg.Audio != nil && !state.Plan.SkipAudioTranscode {
		job.Audio = audioTranscodesFor(state.Facts.File, cfg.Audio)
	} else if cfg.Audio != nil {
		e.logger.Info("audio transcode skipped by rule",
			logging.String(logging.FieldFile, state.Path))
	}

	if job.Video == nil && len(job.Audio) == 0 {
		return false, nil
	}
	if err := e.tools.Transcode(ctx, state.Path, job); err != nil {
		return false, err
	}
	return !e.dryRun, nil
}

func videoTranscodeFor(info *media.FileInfo, cfg *policy.VideoTranscodeConfig) *executor.VideoTranscode {
	videos := info.TracksOfType(media.TrackVideo)
	if len(videos) == 0 {
		return nil
	}
	if cfg.SkipIfCodec.Contains(videos[0].Codec) {
		return nil
	}
	return &executor.VideoTranscode{
		Codec:     cfg.TargetCodec,
		CRF:       cfg.CRF,
		MaxHeight: cfg.MaxHeight,
	}
}

func audioTranscodesFor(info *media.FileInfo, cfg *policy.AudioTranscodeConfig) []executor.AudioTranscode {
	var jobs []executor.AudioTranscode
	for position, track := range info.AudioTracks() {
		if cfg.KeepCodecs.Contains(track.Codec) {
			continue
		}
		if strings.EqualFold(track.Codec, cfg.TranscodeTo) {
			continue
		}
		jobs = append(jobs, executor.AudioTranscode{
			OutputIndex: position,
			Codec:       cfg.TranscodeTo,
			Bitrate:     cfg.Bitrate,
		})
	}
	return jobs
}

// defaultLanguageUpdateShare is the primary-language share required before
// transcription may retag a track, when the policy does not set its own
// threshold.
const defaultLanguageUpdateShare = 80.0

// runTranscription analyzes spoken language per audio track. Analysis is
// read-only except for the optional language retag, which reuses the
// header edit path.
func (e *PhaseExecutor) runTranscription(ctx context.Context, state *FileState, phase *policy.PhaseDefinition) (bool, error) {
	if e.transcribe.Service == nil || !e.transcribe.Service.Available() {
		state.Plan.Warnings = append(state.Plan.Warnings, "transcription requested but analysis tool unavailable")
		return false, nil
	}

	info := state.Facts.File
	if state.Facts.Language == nil {
		state.Facts.Language = make(map[int]media.LanguageAnalysis)
	}
	if e.transcribe.Store != nil {
		cached, err := e.transcribe.Store.LanguageAnalysesForFile(ctx, info.ContentHash)
		if err != nil {
			return false, err
		}
		for index, analysis := range cached {
			state.Facts.Language[index] = analysis
		}
	}

	var retags []policy.LanguageChange
	for _, track := range info.AudioTracks() {
		if _, done := state.Facts.Language[track.Index]; done {
			continue
		}
		analysis, err := e.transcribe.Service.LanguageSegments(ctx, state.Path, track.Index)
		if err != nil {
			return false, err
		}
		state.Facts.Language[track.Index] = *analysis
		if e.transcribe.Store != nil && !e.dryRun {
			if err := e.transcribe.Store.SaveLanguageAnalysis(ctx, info.ContentHash, *analysis); err != nil {
				return false, err
			}
		}
		if change, ok := languageRetag(track, *analysis, phase.Transcription); ok {
			retags = append(retags, change)
		}
	}

	if len(retags) == 0 {
		return false, nil
	}
	if err := e.tools.ApplyPlanEdits(ctx, state.Path, &policy.Plan{LanguageChanges: retags}); err != nil {
		return false, err
	}
	return !e.dryRun, nil
}

// languageRetag decides whether a detected language should replace the
// container tag. Only confident, disagreeing detections qualify.
func languageRetag(track media.TrackInfo, analysis media.LanguageAnalysis, cfg *policy.TranscriptionConfig) (policy.LanguageChange, bool) {
	if !cfg.UpdateLanguage {
		return policy.LanguageChange{}, false
	}
	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = defaultLanguageUpdateShare
	}
	detected := language.Normalize(analysis.PrimaryLanguage)
	if detected == "" || detected == "und" {
		return policy.LanguageChange{}, false
	}
	if analysis.PrimaryPercentage < threshold {
		return policy.LanguageChange{}, false
	}
	if language.Match(detected, track.Language) {
		return policy.LanguageChange{}, false
	}
	return policy.LanguageChange{TrackIndex: track.Index, Language: detected}, true
}

package workflow

import (
	"context"
	"fmt"
	"strings"

	"vpo/internal/executor"
	"vpo/internal/language"
	"vpo/internal/media"
	"vpo/internal/policy"
)

// runAudioFilter drops audio tracks the policy does not keep.
func (e *PhaseExecutor) runAudioFilter(ctx context.Context, state *FileState, phase *policy.PhaseDefinition) (bool, error) {
	return e.runTrackTypeFilter(ctx, state, phase.AudioFilter, media.TrackAudio)
}

// runSubtitleFilter drops subtitle tracks the policy does not keep.
func (e *PhaseExecutor) runSubtitleFilter(ctx context.Context, state *FileState, phase *policy.PhaseDefinition) (bool, error) {
	return e.runTrackTypeFilter(ctx, state, phase.SubtitleFilter, media.TrackSubtitle)
}

func (e *PhaseExecutor) runTrackTypeFilter(ctx context.Context, state *FileState, cfg *policy.TrackFilterConfig, trackType string) (bool, error) {
	if state.Plan.SkipTrackFilter {
		state.Plan.Warnings = append(state.Plan.Warnings,
			fmt.Sprintf("%s filter skipped by earlier rule", trackType))
		return false, nil
	}

	keep, removed := e.filterTracks(state, cfg, trackType)
	if removed == 0 {
		return false, nil
	}
	if trackType == media.TrackAudio && countType(keep, state.Facts.File, media.TrackAudio) == 0 {
		// Refuse to strip every audio track; a silent file is never the
		// intent of a language filter.
		state.Plan.Warnings = append(state.Plan.Warnings,
			"audio filter would remove every audio track, not applied")
		return false, nil
	}

	err := e.tools.Remux(ctx, state.Path, executor.RemuxPlan{KeepTracks: keep})
	if err != nil {
		return false, err
	}
	return true, nil
}

// filterTracks returns the surviving stream indexes (all tracks, in
// original order) and how many tracks of the filtered type were dropped.
func (e *PhaseExecutor) filterTracks(state *FileState, cfg *policy.TrackFilterConfig, trackType string) ([]int, int) {
	keepCommentary := cfg.KeepCommentary == nil || *cfg.KeepCommentary
	var keep []int
	removed := 0
	for _, track := range state.Facts.File.Tracks {
		if track.Type != trackType {
			keep = append(keep, track.Index)
			continue
		}
		if e.keepTrack(track, cfg, keepCommentary, state.Facts) {
			keep = append(keep, track.Index)
		} else {
			removed++
		}
	}
	return keep, removed
}

func (e *PhaseExecutor) keepTrack(track media.TrackInfo, cfg *policy.TrackFilterConfig, keepCommentary bool, facts *policy.Facts) bool {
	if cfg.RemoveCodecs.Contains(track.Codec) {
		return false
	}
	isCommentary := e.eval.IsCommentary(track, facts)
	if isCommentary {
		return keepCommentary
	}
	if len(cfg.Languages) == 0 {
		return true
	}
	for _, wanted := range cfg.Languages {
		if language.Match(wanted, track.Language) {
			return true
		}
	}
	// Untagged tracks survive language filtering; dropping them loses
	// content no policy can recover.
	return strings.TrimSpace(track.Language) == "" || language.Normalize(track.Language) == "und"
}

func countType(keep []int, info *media.FileInfo, trackType string) int {
	byIndex := make(map[int]media.TrackInfo, len(info.Tracks))
	for _, track := range info.Tracks {
		byIndex[track.Index] = track
	}
	count := 0
	for _, index := range keep {
		if byIndex[index].Type == trackType {
			count++
		}
	}
	return count
}

// runAttachmentFilter strips attachments when requested.
func (e *PhaseExecutor) runAttachmentFilter(ctx context.Context, state *FileState, phase *policy.PhaseDefinition) (bool, error) {
	if !phase.AttachmentFilter.RemoveAll {
		return false, nil
	}
	hasAttachments := len(state.Facts.File.TracksOfType(media.TrackAttachment)) > 0
	if !hasAttachments && !containerHasAttachmentHint(state.Facts.File) {
		return false, nil
	}
	var keep []int
	for _, track := range state.Facts.File.Tracks {
		if track.Type != media.TrackAttachment {
			keep = append(keep, track.Index)
		}
	}
	err := e.tools.Remux(ctx, state.Path, executor.RemuxPlan{KeepTracks: keep, RemoveAttachments: true})
	if err != nil {
		return false, err
	}
	return true, nil
}

func containerHasAttachmentHint(info *media.FileInfo) bool {
	_, ok := info.ContainerTags["attachment"]
	return ok
}

// runTrackOrder remuxes when the current track order deviates from the
// declared type order.
func (e *PhaseExecutor) runTrackOrder(ctx context.Context, state *FileState, phase *policy.PhaseDefinition) (bool, error) {
	desired := desiredOrder(state.Facts.File.Tracks, phase.TrackOrder)
	if orderMatches(state.Facts.File.Tracks, desired) {
		return false, nil
	}
	err := e.tools.Remux(ctx, state.Path, executor.RemuxPlan{KeepTracks: desired})
	if err != nil {
		return false, err
	}
	return true, nil
}

// desiredOrder groups tracks by the declared type order, preserving the
// original relative order within each type. Types the policy does not
// mention follow at the end in original order.
func desiredOrder(tracks []media.TrackInfo, typeOrder []string) []int {
	listed := make(map[string]bool, len(typeOrder))
	var order []int
	for _, trackType := range typeOrder {
		trackType = strings.ToLower(trackType)
		listed[trackType] = true
		for _, track := range tracks {
			if track.Type == trackType {
				order = append(order, track.Index)
			}
		}
	}
	for _, track := range tracks {
		if !listed[track.Type] {
			order = append(order, track.Index)
		}
	}
	return order
}

func orderMatches(tracks []media.TrackInfo, desired []int) bool {
	if len(tracks) != len(desired) {
		return false
	}
	for i, track := range tracks {
		if track.Index != desired[i] {
			return false
		}
	}
	return true
}

// runDefaultFlags reconciles default flags with the declared language
// preferences.
func (e *PhaseExecutor) runDefaultFlags(ctx context.Context, state *FileState, phase *policy.PhaseDefinition) (bool, error) {
	changes := desiredFlagChanges(state.Facts, phase.DefaultFlags, e.eval)
	if len(changes) == 0 {
		return false, nil
	}
	plan := &policy.Plan{FlagChanges: changes}
	if err := e.tools.ApplyPlanEdits(ctx, state.Path, plan); err != nil {
		return false, err
	}
	return true, nil
}

// desiredFlagChanges computes the minimal set of flag edits: the preferred
// track of each type gains default, and with clear_other_defaults every
// sibling loses it.
func desiredFlagChanges(facts *policy.Facts, cfg *policy.DefaultFlagsConfig, eval *policy.Evaluator) []policy.FlagChange {
	var changes []policy.FlagChange
	apply := func(trackType string, preferences []string) {
		tracks := facts.File.TracksOfType(trackType)
		if len(tracks) == 0 {
			return
		}
		chosen := chooseDefault(tracks, preferences, facts, eval)
		if chosen < 0 {
			return
		}
		for _, track := range tracks {
			switch {
			case track.Index == chosen && !track.Default:
				changes = append(changes, policy.FlagChange{TrackIndex: track.Index, Flag: "default", Value: true})
			case track.Index != chosen && track.Default && cfg.ClearOtherDefaults:
				changes = append(changes, policy.FlagChange{TrackIndex: track.Index, Flag: "default", Value: false})
			}
		}
	}

	if len(cfg.AudioLanguagePreference) > 0 {
		apply(media.TrackAudio, cfg.AudioLanguagePreference)
	}
	if len(cfg.SubtitleLanguagePreference) > 0 {
		apply(media.TrackSubtitle, cfg.SubtitleLanguagePreference)
	}
	if cfg.SetFirstVideoDefault {
		videos := facts.File.TracksOfType(media.TrackVideo)
		for i, track := range videos {
			if i == 0 && !track.Default {
				changes = append(changes, policy.FlagChange{TrackIndex: track.Index, Flag: "default", Value: true})
			}
			if i > 0 && track.Default && cfg.ClearOtherDefaults {
				changes = append(changes, policy.FlagChange{TrackIndex: track.Index, Flag: "default", Value: false})
			}
		}
	}
	return changes
}

// chooseDefault walks the preference list and returns the first matching
// non-commentary track, falling back to any match. Returns -1 when no
// preference matches.
func chooseDefault(tracks []media.TrackInfo, preferences []string, facts *policy.Facts, eval *policy.Evaluator) int {
	for _, preference := range preferences {
		fallback := -1
		for _, track := range tracks {
			if !language.Match(preference, track.Language) {
				continue
			}
			if !eval.IsCommentary(track, facts) {
				return track.Index
			}
			if fallback < 0 {
				fallback = track.Index
			}
		}
		if fallback >= 0 {
			return fallback
		}
	}
	return -1
}

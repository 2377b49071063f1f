package synthesis

import (
	"strings"

	"vpo/internal/policy"
)

// SkipReason explains why a synthesis definition produced no work.
type SkipReason string

const (
	SkipConditionFalse SkipReason = "create_if_false"
	SkipAlreadyExists  SkipReason = "already_exists"
	SkipWouldUpmix     SkipReason = "would_upmix"
	SkipNoAudio        SkipReason = "no_audio_tracks"
)

// PlannedTrack is one synthesis job ready for the encoder.
type PlannedTrack struct {
	Definition policy.SynthesisTrackDef
	Source     Selection
	// Title and Language are resolved from the definition, inheriting from
	// the source track when requested.
	Title    string
	Language string
}

// SkippedTrack records a definition that produced no job, with the reason
// surfaced in logs and dry-run reports.
type SkippedTrack struct {
	Name   string
	Reason SkipReason
	Detail string
}

// Plan is the full synthesis outcome for one file and phase.
type Plan struct {
	Tracks  []PlannedTrack
	Skipped []SkippedTrack
}

// BuildPlan walks the synthesis definitions in document order and resolves
// each into either a planned track or a recorded skip. Skips are normal
// control flow, never errors: a definition whose guard holds simply has
// nothing to do.
func BuildPlan(cfg *policy.SynthesisConfig, facts *policy.Facts, eval *policy.Evaluator) Plan {
	var plan Plan
	if cfg == nil {
		return plan
	}
	for i := range cfg.Tracks {
		def := &cfg.Tracks[i]

		if def.CreateIf != nil {
			verdict, reason := eval.Evaluate(def.CreateIf, facts)
			if !verdict {
				plan.Skipped = append(plan.Skipped, SkippedTrack{
					Name: def.Name, Reason: SkipConditionFalse, Detail: reason,
				})
				continue
			}
		}

		if def.SkipIfExists != nil {
			if matches := eval.MatchTracks(def.SkipIfExists, facts); len(matches) > 0 {
				plan.Skipped = append(plan.Skipped, SkippedTrack{
					Name: def.Name, Reason: SkipAlreadyExists,
					Detail: def.SkipIfExists.String(),
				})
				continue
			}
		}

		selection, err := SelectSource(def, facts, eval)
		if err != nil {
			reason := SkipWouldUpmix
			if len(facts.AudioTracks()) == 0 {
				reason = SkipNoAudio
			}
			plan.Skipped = append(plan.Skipped, SkippedTrack{
				Name: def.Name, Reason: reason, Detail: err.Error(),
			})
			continue
		}

		plan.Tracks = append(plan.Tracks, PlannedTrack{
			Definition: *def,
			Source:     *selection,
			Title:      resolveInherit(def.Title, def.Name, selection.Track.Title),
			Language:   resolveInherit(def.Language, "", selection.Track.Language),
		})
	}
	return plan
}

// resolveInherit resolves a definition field that may be empty, a literal,
// or the keyword "inherit". Empty falls back to the definition default,
// "inherit" copies from the source track.
func resolveInherit(value, fallback, inherited string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		if fallback != "" {
			return fallback
		}
		return inherited
	case "inherit":
		return inherited
	default:
		return value
	}
}

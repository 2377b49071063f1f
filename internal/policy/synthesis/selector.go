// Package synthesis plans derived audio tracks: choosing a source track by
// weighted preference scoring and deciding whether a definition should run
// at all.
package synthesis

import (
	"fmt"
	"strings"

	"vpo/internal/language"
	"vpo/internal/media"
	"vpo/internal/policy"
)

// Preference weights. Exact language beats every other single criterion;
// an undetermined-language track is half credit on the language axis.
const (
	weightLanguageExact = 100
	weightLanguageUnd   = 50
	weightNotCommentary = 80
	weightPerChannel    = 10
	weightCodec         = 20
)

// Selection is the outcome of source track selection for one synthesis
// definition.
type Selection struct {
	Track      media.TrackInfo
	Score      int
	IsFallback bool
	// Rationale is a per-criterion breakdown for logging and dry runs.
	Rationale []string
}

// ErrNoCandidates reports that every audio track was excluded before
// scoring.
type ErrNoCandidates struct {
	Reason string
}

func (e *ErrNoCandidates) Error() string {
	return "no candidate source tracks: " + e.Reason
}

// SelectSource picks the best source track for a synthesis definition.
//
// Tracks that would require upmixing (fewer channels than the target) are
// excluded before scoring; a hard constraint is not a preference and must
// not be outweighed. Ties resolve to the earliest track index. When no
// preference matches anything the first surviving audio track is returned
// with IsFallback set so callers can log the degraded choice.
func SelectSource(def *policy.SynthesisTrackDef, facts *policy.Facts, eval *policy.Evaluator) (*Selection, error) {
	audio := facts.AudioTracks()
	if len(audio) == 0 {
		return nil, &ErrNoCandidates{Reason: "file has no audio tracks"}
	}

	candidates := make([]media.TrackInfo, 0, len(audio))
	for _, track := range audio {
		if def.Channels > 0 && track.Channels > 0 && track.Channels < def.Channels {
			continue // would upmix
		}
		candidates = append(candidates, track)
	}
	if len(candidates) == 0 {
		return nil, &ErrNoCandidates{
			Reason: fmt.Sprintf("every audio track has fewer than %d channels", def.Channels),
		}
	}

	maxChannels := 0
	for _, track := range candidates {
		if track.Channels > maxChannels {
			maxChannels = track.Channels
		}
	}

	best := Selection{Score: -1}
	for _, track := range candidates {
		score, rationale := scoreTrack(track, def.Source.Prefer, facts, eval, maxChannels)
		if score > best.Score {
			best = Selection{Track: track, Score: score, Rationale: rationale}
		}
	}

	if best.Score == 0 {
		best.Track = candidates[0]
		best.IsFallback = true
		best.Rationale = []string{"no preference matched, first audio track"}
	}
	return &best, nil
}

func scoreTrack(track media.TrackInfo, prefer []policy.PreferenceCriterion, facts *policy.Facts, eval *policy.Evaluator, maxChannels int) (int, []string) {
	score := 0
	var rationale []string
	add := func(points int, why string) {
		score += points
		rationale = append(rationale, fmt.Sprintf("+%d %s", points, why))
	}

	for _, criterion := range prefer {
		if len(criterion.Language) > 0 {
			switch {
			case matchesAnyLanguage(criterion.Language, track.Language):
				add(weightLanguageExact, "language "+track.Language)
			case language.Normalize(track.Language) == "und" || track.Language == "":
				add(weightLanguageUnd, "language undetermined")
			}
		}
		if criterion.NotCommentary && !eval.IsCommentary(track, facts) {
			add(weightNotCommentary, "not commentary")
		}
		if criterion.Channels != nil {
			switch {
			case criterion.Channels.Max:
				if track.Channels > 0 && track.Channels == maxChannels {
					add(weightPerChannel*track.Channels, fmt.Sprintf("%d channels (max)", track.Channels))
				}
			case track.Channels == criterion.Channels.Count:
				add(weightPerChannel*track.Channels, fmt.Sprintf("%d channels", track.Channels))
			}
		}
		if len(criterion.Codec) > 0 && criterion.Codec.Contains(track.Codec) {
			add(weightCodec, "codec "+track.Codec)
		}
	}
	return score, rationale
}

func matchesAnyLanguage(wanted policy.StringList, observed string) bool {
	if strings.TrimSpace(observed) == "" {
		return false
	}
	for _, candidate := range wanted {
		if language.Match(candidate, observed) {
			return true
		}
	}
	return false
}

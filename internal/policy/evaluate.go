package policy

import (
	"fmt"
	"strings"

	"vpo/internal/language"
	"vpo/internal/media"
)

// Facts is the immutable snapshot a condition tree evaluates against.
// Missing maps are legal; conditions that need absent data evaluate to
// false with an explanatory reason rather than erroring.
type Facts struct {
	File           *media.FileInfo
	Language       map[int]media.LanguageAnalysis
	Classification map[int]media.TrackClassification
}

// AudioTracks returns the audio tracks of the file, or nil when no file
// snapshot is present.
func (f *Facts) AudioTracks() []media.TrackInfo {
	if f.File == nil {
		return nil
	}
	return f.File.AudioTracks()
}

// Evaluator evaluates condition trees against fact snapshots. Evaluation
// never mutates facts and never returns an error: malformed or missing data
// yields false with a reason.
type Evaluator struct {
	CommentaryPatterns []string
	MinConfidence      float64
}

// NewEvaluator builds an evaluator from policy-level configuration.
func NewEvaluator(cfg GlobalConfig) *Evaluator {
	cfg.applyDefaults()
	return &Evaluator{
		CommentaryPatterns: cfg.CommentaryPatterns,
		MinConfidence:      cfg.MinClassificationConfidence,
	}
}

// Evaluate walks the condition tree and returns the verdict together with a
// human-readable reason trace for logging and dry-run reporting.
func (e *Evaluator) Evaluate(cond *Condition, facts *Facts) (bool, string) {
	switch {
	case cond == nil:
		return false, "empty condition → false"
	case cond.Exists != nil:
		return e.evalExists(cond.Exists, facts)
	case cond.Count != nil:
		return e.evalCount(cond.Count, facts)
	case cond.And != nil:
		return e.evalAnd(cond.And, facts)
	case cond.Or != nil:
		return e.evalOr(cond.Or, facts)
	case cond.Not != nil:
		inner, reason := e.Evaluate(cond.Not, facts)
		return !inner, fmt.Sprintf("not(%s) → %t", reason, !inner)
	case cond.AudioIsMultiLanguage != nil:
		return e.evalMultiLanguage(cond.AudioIsMultiLanguage, facts)
	case cond.PluginMetadata != nil:
		return e.evalPluginMetadata(cond.PluginMetadata, facts)
	case cond.ContainerMetadata != nil:
		return e.evalContainerMetadata(cond.ContainerMetadata, facts)
	case cond.IsOriginal != nil:
		return e.evalClassification(cond.IsOriginal, facts, media.StatusOriginal, "is_original")
	case cond.IsDubbed != nil:
		return e.evalClassification(cond.IsDubbed, facts, media.StatusDubbed, "is_dubbed")
	}
	return false, "unrecognized condition → false"
}

func (e *Evaluator) evalExists(cond *ExistsCondition, facts *Facts) (bool, string) {
	name := fmt.Sprintf("exists(%s)", cond.describe())
	if facts.File == nil {
		return false, name + " → false (no file facts)"
	}
	for _, track := range facts.File.Tracks {
		if e.matchesTrack(track, &cond.TrackFilter, facts) {
			return true, fmt.Sprintf("%s → true (track[%d] %s)", name, track.Index, track.Codec)
		}
	}
	return false, name + " → false (no matching tracks)"
}

func (e *Evaluator) evalCount(cond *CountCondition, facts *Facts) (bool, string) {
	name := fmt.Sprintf("count(%s) %s %d", cond.describe(), cond.Operator, cond.Value)
	if facts.File == nil {
		return false, name + " → false (no file facts)"
	}
	matched := 0
	for _, track := range facts.File.Tracks {
		if e.matchesTrack(track, &cond.TrackFilter, facts) {
			matched++
		}
	}
	cmp := Comparison{Op: cond.Operator, Value: cond.Value}
	verdict := cmp.Matches(matched)
	return verdict, fmt.Sprintf("%s → %t (%d matching)", name, verdict, matched)
}

func (e *Evaluator) evalAnd(children []Condition, facts *Facts) (bool, string) {
	for i := range children {
		verdict, reason := e.Evaluate(&children[i], facts)
		if !verdict {
			return false, fmt.Sprintf("and → false (child %d: %s)", i+1, reason)
		}
	}
	return true, fmt.Sprintf("and → true (%d children)", len(children))
}

func (e *Evaluator) evalOr(children []Condition, facts *Facts) (bool, string) {
	for i := range children {
		verdict, reason := e.Evaluate(&children[i], facts)
		if verdict {
			return true, fmt.Sprintf("or → true (child %d: %s)", i+1, reason)
		}
	}
	return false, fmt.Sprintf("or → false (%d children)", len(children))
}

func (e *Evaluator) evalMultiLanguage(cond *MultiLanguageCondition, facts *Facts) (bool, string) {
	const name = "audio_is_multi_language"
	if len(facts.Language) == 0 {
		return false, name + " → false (no language analysis)"
	}
	candidates := facts.AudioTracks()
	for _, track := range candidates {
		if cond.TrackIndex != nil && track.Index != *cond.TrackIndex {
			continue
		}
		analysis, ok := facts.Language[track.Index]
		if !ok {
			continue
		}
		if cond.PrimaryLanguage != "" && !language.Match(cond.PrimaryLanguage, analysis.PrimaryLanguage) {
			continue
		}
		if isMultiLanguage(analysis, cond.Threshold) {
			return true, fmt.Sprintf("%s → true (track[%d] %s %.0f%%)",
				name, track.Index, analysis.PrimaryLanguage, analysis.PrimaryPercentage)
		}
	}
	if cond.TrackIndex != nil {
		if _, ok := facts.Language[*cond.TrackIndex]; !ok {
			return false, fmt.Sprintf("%s → false (no analysis for track %d)", name, *cond.TrackIndex)
		}
	}
	return false, name + " → false (no multi-language track)"
}

func isMultiLanguage(analysis media.LanguageAnalysis, threshold float64) bool {
	if threshold <= 0 {
		return analysis.MultiLanguage
	}
	for _, share := range analysis.Secondary {
		if share.Percentage >= threshold {
			return true
		}
	}
	return false
}

func (e *Evaluator) evalPluginMetadata(cond *PluginMetadataCondition, facts *Facts) (bool, string) {
	name := fmt.Sprintf("plugin_metadata(%s.%s)", cond.Plugin, cond.Field)
	if facts.File == nil || facts.File.PluginMetadata == nil {
		return false, name + " → false (no plugin metadata)"
	}
	fields, ok := facts.File.PluginMetadata[cond.Plugin]
	if !ok {
		return false, fmt.Sprintf("%s → false (plugin %q not in metadata)", name, cond.Plugin)
	}
	raw, ok := fields[cond.Field]
	if !ok {
		return false, fmt.Sprintf("%s → false (field %q missing)", name, cond.Field)
	}
	observed := fmt.Sprintf("%v", raw)
	verdict, err := compareStrings(observed, cond.Operator, cond.Value)
	if err != nil {
		return false, fmt.Sprintf("%s → false (%v)", name, err)
	}
	return verdict, fmt.Sprintf("%s → %t (%q %s %q)", name, verdict, observed, cond.Operator, cond.Value)
}

func (e *Evaluator) evalContainerMetadata(cond *ContainerMetadataCondition, facts *Facts) (bool, string) {
	name := fmt.Sprintf("container_metadata(%s)", cond.Field)
	if facts.File == nil || len(facts.File.ContainerTags) == 0 {
		return false, name + " → false (no container tags)"
	}
	observed, ok := facts.File.ContainerTags[strings.ToLower(cond.Field)]
	if !ok {
		return false, fmt.Sprintf("%s → false (tag missing)", name)
	}
	verdict, err := compareStrings(observed, cond.Operator, cond.Value)
	if err != nil {
		return false, fmt.Sprintf("%s → false (%v)", name, err)
	}
	return verdict, fmt.Sprintf("%s → %t (%q %s %q)", name, verdict, observed, cond.Operator, cond.Value)
}

func compareStrings(observed, operator, expected string) (bool, error) {
	lhs := strings.ToLower(strings.TrimSpace(observed))
	rhs := strings.ToLower(strings.TrimSpace(expected))
	switch operator {
	case "", "eq":
		return lhs == rhs, nil
	case "ne":
		return lhs != rhs, nil
	case "contains":
		return strings.Contains(lhs, rhs), nil
	default:
		return false, fmt.Errorf("unknown operator %q", operator)
	}
}

func (e *Evaluator) evalClassification(cond *ClassificationCondition, facts *Facts, want media.OriginalDubbed, name string) (bool, string) {
	if len(facts.Classification) == 0 {
		return false, name + " → false (no classification)"
	}
	minConfidence := e.MinConfidence
	if cond.MinConfidence > 0 {
		minConfidence = cond.MinConfidence
	}
	for _, track := range facts.AudioTracks() {
		if cond.TrackIndex != nil && track.Index != *cond.TrackIndex {
			continue
		}
		result, ok := facts.Classification[track.Index]
		if !ok {
			continue
		}
		if result.OriginalDubbed != want {
			continue
		}
		if cond.Language != "" && !language.Match(cond.Language, result.Language) {
			continue
		}
		if result.Confidence < minConfidence {
			return false, fmt.Sprintf("%s → false (track[%d] confidence %.2f below %.2f)",
				name, track.Index, result.Confidence, minConfidence)
		}
		return true, fmt.Sprintf("%s → true (track[%d] confidence %.2f)", name, track.Index, result.Confidence)
	}
	if cond.TrackIndex != nil {
		return false, fmt.Sprintf("%s → false (no verdict for track %d)", name, *cond.TrackIndex)
	}
	return false, name + " → false (no matching verdict)"
}

// matchesTrack applies every set filter field to the track. Fields left
// empty match anything.
func (e *Evaluator) matchesTrack(track media.TrackInfo, filter *TrackFilter, facts *Facts) bool {
	if filter.Type != "" && !strings.EqualFold(filter.Type, track.Type) {
		return false
	}
	if len(filter.Language) > 0 && !matchesLanguage(filter.Language, track.Language) {
		return false
	}
	if len(filter.Codec) > 0 && !filter.Codec.Contains(track.Codec) {
		return false
	}
	if filter.IsDefault != nil && *filter.IsDefault != track.Default {
		return false
	}
	if filter.IsForced != nil && *filter.IsForced != track.Forced {
		return false
	}
	if filter.Channels != nil && !filter.Channels.Matches(track.Channels) {
		return false
	}
	if filter.Width != nil && !filter.Width.Matches(track.Width) {
		return false
	}
	if filter.Height != nil && !filter.Height.Matches(track.Height) {
		return false
	}
	if filter.Title != nil && !filter.Title.Matches(track.Title) {
		return false
	}
	if filter.NotCommentary && e.IsCommentary(track, facts) {
		return false
	}
	return true
}

func matchesLanguage(wanted StringList, observed string) bool {
	for _, candidate := range wanted {
		if language.Match(candidate, observed) {
			return true
		}
	}
	return false
}

// IsCommentary reports whether a track looks like commentary, either by
// title pattern or by a confident classifier verdict.
func (e *Evaluator) IsCommentary(track media.TrackInfo, facts *Facts) bool {
	title := strings.ToLower(track.Title)
	for _, pattern := range e.CommentaryPatterns {
		if pattern != "" && strings.Contains(title, strings.ToLower(pattern)) {
			return true
		}
	}
	if facts != nil && facts.Classification != nil {
		if result, ok := facts.Classification[track.Index]; ok {
			if result.Commentary == media.CommentaryTrack && result.Confidence >= e.MinConfidence {
				return true
			}
		}
	}
	return false
}

// MatchTracks returns the indexes of tracks matching the filter, in file
// order. Used by actions and synthesis guards.
func (e *Evaluator) MatchTracks(filter *TrackFilter, facts *Facts) []int {
	if facts.File == nil {
		return nil
	}
	var indexes []int
	for _, track := range facts.File.Tracks {
		if e.matchesTrack(track, filter, facts) {
			indexes = append(indexes, track.Index)
		}
	}
	return indexes
}

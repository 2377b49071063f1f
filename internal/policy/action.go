package policy

import (
	"fmt"
	"path/filepath"
	"strings"

	"vpo/internal/language"
)

// ConditionalRule pairs a condition with the actions to run on match.
// Rules in a block evaluate in document order; the first rule whose
// condition holds runs its then actions and ends the block for that file.
// A rule that does not match runs its else actions, if any, and evaluation
// moves on to the next rule.
type ConditionalRule struct {
	Name string     `yaml:"name"`
	When *Condition `yaml:"when"`
	Then []Action   `yaml:"then"`
	Else []Action   `yaml:"else"`
}

// Action is one effect of a matched rule. Exactly one field must be set.
type Action struct {
	SkipVideoTranscode *bool `yaml:"skip_video_transcode"`
	SkipAudioTranscode *bool `yaml:"skip_audio_transcode"`
	SkipTrackFilter    *bool `yaml:"skip_track_filter"`

	Warn string `yaml:"warn"`
	Fail string `yaml:"fail"`

	SetDefault  *TrackFilter       `yaml:"set_default"`
	SetForced   *SetForcedAction   `yaml:"set_forced"`
	SetLanguage *SetLanguageAction `yaml:"set_language"`
}

// SetForcedAction sets or clears the forced flag on the single matching
// track.
type SetForcedAction struct {
	Filter TrackFilter `yaml:"filter"`
	Value  bool        `yaml:"value"`
}

// SetLanguageAction retags the language of every matching track. The new
// tag comes from exactly one of the static language field or a plugin
// metadata fact resolved at run time.
type SetLanguageAction struct {
	Filter             TrackFilter        `yaml:"filter"`
	Language           string             `yaml:"language"`
	FromPluginMetadata *PluginMetadataRef `yaml:"from_plugin_metadata"`
}

// PluginMetadataRef names a plugin-contributed field to read a value from.
type PluginMetadataRef struct {
	Plugin string `yaml:"plugin"`
	Field  string `yaml:"field"`
}

func (a *Action) variants() []string {
	var set []string
	if a.SkipVideoTranscode != nil {
		set = append(set, "skip_video_transcode")
	}
	if a.SkipAudioTranscode != nil {
		set = append(set, "skip_audio_transcode")
	}
	if a.SkipTrackFilter != nil {
		set = append(set, "skip_track_filter")
	}
	if a.Warn != "" {
		set = append(set, "warn")
	}
	if a.Fail != "" {
		set = append(set, "fail")
	}
	if a.SetDefault != nil {
		set = append(set, "set_default")
	}
	if a.SetForced != nil {
		set = append(set, "set_forced")
	}
	if a.SetLanguage != nil {
		set = append(set, "set_language")
	}
	return set
}

// FlagChange is a pending default/forced flag mutation produced by actions
// or the default_flags operation. Changes are collected here and applied to
// the file by the executor in one pass.
type FlagChange struct {
	TrackIndex int
	Flag       string // "default" or "forced"
	Value      bool
}

// LanguageChange is a pending language retag.
type LanguageChange struct {
	TrackIndex int
	Language   string
}

// RuleMatch records which rule fired and why, for logging and dry-run
// reports.
type RuleMatch struct {
	Rule   string
	Reason string
}

// Plan accumulates the effects of conditional rules for one file. Skip
// flags persist across phases: a flag set in an early phase suppresses the
// corresponding work in every later phase of the same run.
type Plan struct {
	SkipVideoTranscode bool
	SkipAudioTranscode bool
	SkipTrackFilter    bool

	FlagChanges     []FlagChange
	LanguageChanges []LanguageChange
	Warnings        []string
	Matched         []RuleMatch
}

// HasMutations reports whether the plan carries pending file mutations.
func (p *Plan) HasMutations() bool {
	return len(p.FlagChanges) > 0 || len(p.LanguageChanges) > 0
}

// RuleError is a policy-directed failure raised by a fail action.
type RuleError struct {
	Rule    string
	Message string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %q failed the file: %s", e.Rule, e.Message)
}

// ApplyRules evaluates a conditional block against facts and folds the
// resulting actions into the plan. A fail action returns a *RuleError;
// everything else only mutates the plan.
func (e *Evaluator) ApplyRules(rules []ConditionalRule, facts *Facts, plan *Plan) error {
	for i := range rules {
		rule := &rules[i]
		verdict, reason := e.Evaluate(rule.When, facts)
		if verdict {
			plan.Matched = append(plan.Matched, RuleMatch{Rule: rule.Name, Reason: reason})
			return e.runActions(rule.Name, rule.Then, facts, plan)
		}
		if len(rule.Else) > 0 {
			if err := e.runActions(rule.Name, rule.Else, facts, plan); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Evaluator) runActions(ruleName string, actions []Action, facts *Facts, plan *Plan) error {
	for i := range actions {
		if err := e.runAction(ruleName, &actions[i], facts, plan); err != nil {
			return err
		}
	}
	return nil
}

func (e *Evaluator) runAction(ruleName string, action *Action, facts *Facts, plan *Plan) error {
	switch {
	case action.SkipVideoTranscode != nil:
		plan.SkipVideoTranscode = *action.SkipVideoTranscode
	case action.SkipAudioTranscode != nil:
		plan.SkipAudioTranscode = *action.SkipAudioTranscode
	case action.SkipTrackFilter != nil:
		plan.SkipTrackFilter = *action.SkipTrackFilter
	case action.Warn != "":
		plan.Warnings = append(plan.Warnings, expandTemplate(action.Warn, facts, ruleName))
	case action.Fail != "":
		return &RuleError{Rule: ruleName, Message: expandTemplate(action.Fail, facts, ruleName)}
	case action.SetDefault != nil:
		e.setFlag(ruleName, action.SetDefault, "default", true, facts, plan)
	case action.SetForced != nil:
		e.setFlag(ruleName, &action.SetForced.Filter, "forced", action.SetForced.Value, facts, plan)
	case action.SetLanguage != nil:
		e.setLanguage(ruleName, action.SetLanguage, facts, plan)
	}
	return nil
}

// setFlag resolves the filter to exactly one track. An ambiguous or empty
// match is refused with a warning instead of guessing a target.
func (e *Evaluator) setFlag(ruleName string, filter *TrackFilter, flag string, value bool, facts *Facts, plan *Plan) {
	matches := e.MatchTracks(filter, facts)
	switch len(matches) {
	case 1:
		plan.FlagChanges = append(plan.FlagChanges, FlagChange{
			TrackIndex: matches[0],
			Flag:       flag,
			Value:      value,
		})
	case 0:
		plan.Warnings = append(plan.Warnings, fmt.Sprintf(
			"rule %q: set_%s matched no tracks (%s), not applied", ruleName, flag, filter.describe()))
	default:
		plan.Warnings = append(plan.Warnings, fmt.Sprintf(
			"rule %q: set_%s matched %d tracks (%s), ambiguous, not applied", ruleName, flag, len(matches), filter.describe()))
	}
}

func (e *Evaluator) setLanguage(ruleName string, action *SetLanguageAction, facts *Facts, plan *Plan) {
	raw := action.Language
	if ref := action.FromPluginMetadata; ref != nil {
		value, ok := lookupPluginField(facts, ref)
		if !ok {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf(
				"rule %q: set_language source %s.%s has no value, not applied", ruleName, ref.Plugin, ref.Field))
			return
		}
		raw = value
	}
	tag := language.Normalize(raw)
	if tag == "" {
		plan.Warnings = append(plan.Warnings, fmt.Sprintf(
			"rule %q: set_language has empty language, not applied", ruleName))
		return
	}
	matches := e.MatchTracks(&action.Filter, facts)
	if len(matches) == 0 {
		plan.Warnings = append(plan.Warnings, fmt.Sprintf(
			"rule %q: set_language matched no tracks (%s), not applied", ruleName, action.Filter.describe()))
		return
	}
	for _, index := range matches {
		plan.LanguageChanges = append(plan.LanguageChanges, LanguageChange{
			TrackIndex: index,
			Language:   tag,
		})
	}
}

// lookupPluginField reads a plugin-contributed field as a string. Values of
// other types coerce through fmt; an absent or empty value reports false.
func lookupPluginField(facts *Facts, ref *PluginMetadataRef) (string, bool) {
	if facts == nil || facts.File == nil || facts.File.PluginMetadata == nil {
		return "", false
	}
	raw, ok := facts.File.PluginMetadata[ref.Plugin][ref.Field]
	if !ok {
		return "", false
	}
	value := fmt.Sprintf("%v", raw)
	return value, value != ""
}

// expandTemplate substitutes the supported placeholders in warn/fail
// messages. Unknown placeholders pass through untouched.
func expandTemplate(message string, facts *Facts, ruleName string) string {
	path := ""
	if facts != nil && facts.File != nil {
		path = facts.File.Path
	}
	replacer := strings.NewReplacer(
		"{filename}", filepath.Base(path),
		"{path}", path,
		"{rule_name}", ruleName,
	)
	return replacer.Replace(message)
}

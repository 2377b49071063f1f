package policy

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"vpo/internal/services"
)

// phaseNamePattern constrains user-chosen phase names so they remain safe
// as log fields, CLI arguments, and backup file suffixes.
var phaseNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,63}$`)

// reservedPhaseNames are top-level document keys a phase may not shadow.
var reservedPhaseNames = map[string]bool{
	"config":         true,
	"schema_version": true,
	"phases":         true,
}

// Load reads, migrates, and validates a policy document.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "policy", "load", path, err)
	}
	return Parse(data)
}

// Parse migrates and validates policy YAML from memory.
func Parse(data []byte) (*Schema, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, services.Wrap(services.ErrValidation, "policy", "parse", "invalid YAML", err)
	}
	if raw == nil {
		return nil, services.Wrap(services.ErrValidation, "policy", "parse", "empty document", nil)
	}

	migrated, err := Migrate(raw)
	if err != nil {
		return nil, err
	}

	// Round-trip through YAML so the typed decode sees the migrated tree.
	normalized, err := yaml.Marshal(migrated)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "policy", "parse", "re-encode after migration", err)
	}

	var schema Schema
	decoder := yaml.NewDecoder(strings.NewReader(string(normalized)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&schema); err != nil {
		return nil, services.Wrap(services.ErrValidation, "policy", "parse", "schema decode", err)
	}

	schema.Config.applyDefaults()
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return &schema, nil
}

// Validate checks structural rules the YAML decode cannot express.
func (s *Schema) Validate() error {
	fail := func(message string) error {
		return services.Wrap(services.ErrValidation, "policy", "validate", message, nil)
	}

	if !s.Config.OnError.Valid() {
		return fail(fmt.Sprintf("config.on_error %q is not one of skip, continue, fail", s.Config.OnError))
	}
	if s.Config.MaxConditionDepth < 1 {
		return fail("config.max_condition_depth must be at least 1")
	}
	if s.Config.MinClassificationConfidence < 0 || s.Config.MinClassificationConfidence > 1 {
		return fail("config.min_classification_confidence must be within [0, 1]")
	}
	if len(s.Phases) == 0 {
		return fail("policy declares no phases")
	}

	seen := make(map[string]bool, len(s.Phases))
	for i := range s.Phases {
		phase := &s.Phases[i]
		if err := s.validatePhase(phase); err != nil {
			return err
		}
		lower := strings.ToLower(phase.Name)
		if seen[lower] {
			return fail(fmt.Sprintf("duplicate phase name %q", phase.Name))
		}
		seen[lower] = true
	}
	return nil
}

func (s *Schema) validatePhase(phase *PhaseDefinition) error {
	fail := func(message string) error {
		return services.Wrap(services.ErrValidation, "policy", "validate",
			fmt.Sprintf("phase %q: %s", phase.Name, message), nil)
	}

	if !phaseNamePattern.MatchString(phase.Name) {
		return services.Wrap(services.ErrValidation, "policy", "validate",
			fmt.Sprintf("phase name %q must start with a letter and contain only letters, digits, underscore, hyphen (max 64 chars)", phase.Name), nil)
	}
	if reservedPhaseNames[strings.ToLower(phase.Name)] {
		return services.Wrap(services.ErrValidation, "policy", "validate",
			fmt.Sprintf("phase name %q is reserved", phase.Name), nil)
	}
	if phase.OnError != "" && !phase.OnError.Valid() {
		return fail(fmt.Sprintf("on_error %q is not one of skip, continue, fail", phase.OnError))
	}
	if len(phase.Operations()) == 0 {
		// Legal but pointless; the processor logs a warning and skips it.
		return nil
	}

	for _, trackType := range phase.TrackOrder {
		switch strings.ToLower(trackType) {
		case "video", "audio", "subtitle", "attachment":
		default:
			return fail(fmt.Sprintf("track_order entry %q is not a track type", trackType))
		}
	}

	ruleNames := make(map[string]bool, len(phase.Conditional))
	for i := range phase.Conditional {
		rule := &phase.Conditional[i]
		if rule.Name == "" {
			return fail(fmt.Sprintf("conditional rule %d has no name", i+1))
		}
		if ruleNames[rule.Name] {
			return fail(fmt.Sprintf("duplicate rule name %q", rule.Name))
		}
		ruleNames[rule.Name] = true
		if rule.When == nil {
			return fail(fmt.Sprintf("rule %q has no when condition", rule.Name))
		}
		if err := s.validateCondition(rule.When, fmt.Sprintf("rule %q", rule.Name)); err != nil {
			return fail(err.Error())
		}
		if len(rule.Then) == 0 {
			return fail(fmt.Sprintf("rule %q has no then actions", rule.Name))
		}
		for j := range rule.Then {
			if err := validateAction(&rule.Then[j]); err != nil {
				return fail(fmt.Sprintf("rule %q then[%d]: %v", rule.Name, j+1, err))
			}
		}
		for j := range rule.Else {
			if err := validateAction(&rule.Else[j]); err != nil {
				return fail(fmt.Sprintf("rule %q else[%d]: %v", rule.Name, j+1, err))
			}
		}
	}

	if phase.AudioSynthesis != nil {
		defNames := make(map[string]bool, len(phase.AudioSynthesis.Tracks))
		for i := range phase.AudioSynthesis.Tracks {
			def := &phase.AudioSynthesis.Tracks[i]
			if def.Name == "" {
				return fail(fmt.Sprintf("audio_synthesis track %d has no name", i+1))
			}
			if defNames[def.Name] {
				return fail(fmt.Sprintf("duplicate audio_synthesis track name %q", def.Name))
			}
			defNames[def.Name] = true
			if def.Codec == "" {
				return fail(fmt.Sprintf("audio_synthesis %q has no codec", def.Name))
			}
			if def.Channels < 1 {
				return fail(fmt.Sprintf("audio_synthesis %q needs channels >= 1", def.Name))
			}
			if def.CreateIf != nil {
				if err := s.validateCondition(def.CreateIf, fmt.Sprintf("audio_synthesis %q create_if", def.Name)); err != nil {
					return fail(err.Error())
				}
			}
			if def.SkipIfExists != nil {
				if err := compileFilter(def.SkipIfExists); err != nil {
					return fail(fmt.Sprintf("audio_synthesis %q skip_if_exists: %v", def.Name, err))
				}
			}
		}
	}

	if phase.Transcode != nil && phase.Transcode.Video == nil && phase.Transcode.Audio == nil {
		return fail("transcode declares neither video nor audio settings")
	}
	if phase.Container != nil && phase.Container.Format == "" {
		return fail("container operation has no format")
	}
	return nil
}

func (s *Schema) validateCondition(cond *Condition, where string) error {
	if depth := cond.Depth(); depth > s.Config.MaxConditionDepth {
		return fmt.Errorf("%s: condition nesting depth %d exceeds limit %d", where, depth, s.Config.MaxConditionDepth)
	}
	return walkCondition(cond, where)
}

func walkCondition(cond *Condition, where string) error {
	set := cond.variants()
	if len(set) == 0 {
		return fmt.Errorf("%s: condition node sets no variant", where)
	}
	if len(set) > 1 {
		return fmt.Errorf("%s: condition node sets multiple variants (%s)", where, strings.Join(set, ", "))
	}
	switch {
	case cond.Exists != nil:
		return compileFilter(&cond.Exists.TrackFilter)
	case cond.Count != nil:
		switch cond.Count.Operator {
		case "eq", "lt", "lte", "gt", "gte":
		default:
			return fmt.Errorf("%s: count operator %q is not one of eq, lt, lte, gt, gte", where, cond.Count.Operator)
		}
		return compileFilter(&cond.Count.TrackFilter)
	case cond.And != nil:
		if len(cond.And) == 0 {
			return fmt.Errorf("%s: and has no children", where)
		}
		for i := range cond.And {
			if err := walkCondition(&cond.And[i], where); err != nil {
				return err
			}
		}
	case cond.Or != nil:
		if len(cond.Or) == 0 {
			return fmt.Errorf("%s: or has no children", where)
		}
		for i := range cond.Or {
			if err := walkCondition(&cond.Or[i], where); err != nil {
				return err
			}
		}
	case cond.Not != nil:
		return walkCondition(cond.Not, where)
	case cond.PluginMetadata != nil:
		if cond.PluginMetadata.Plugin == "" || cond.PluginMetadata.Field == "" {
			return fmt.Errorf("%s: plugin_metadata needs plugin and field", where)
		}
	case cond.ContainerMetadata != nil:
		if cond.ContainerMetadata.Field == "" {
			return fmt.Errorf("%s: container_metadata needs a field", where)
		}
	}
	return nil
}

func compileFilter(filter *TrackFilter) error {
	if filter.Title != nil {
		return filter.Title.Compile()
	}
	return nil
}

func validateAction(action *Action) error {
	set := action.variants()
	if len(set) == 0 {
		return fmt.Errorf("action sets no variant")
	}
	if len(set) > 1 {
		return fmt.Errorf("action sets multiple variants (%s)", strings.Join(set, ", "))
	}
	switch {
	case action.SetDefault != nil:
		return compileFilter(action.SetDefault)
	case action.SetForced != nil:
		return compileFilter(&action.SetForced.Filter)
	case action.SetLanguage != nil:
		static := action.SetLanguage.Language != ""
		dynamic := action.SetLanguage.FromPluginMetadata != nil
		if static == dynamic {
			return fmt.Errorf("set_language needs exactly one of language or from_plugin_metadata")
		}
		if dynamic {
			ref := action.SetLanguage.FromPluginMetadata
			if ref.Plugin == "" || ref.Field == "" {
				return fmt.Errorf("set_language from_plugin_metadata needs plugin and field")
			}
		}
		return compileFilter(&action.SetLanguage.Filter)
	}
	return nil
}

package policy

import "fmt"

// MetadataProvider describes an external metadata plugin for validation.
// Name is the key policies reference under plugin_metadata; Fields lists
// the facts the plugin contributes.
type MetadataProvider interface {
	Name() string
	Fields() []string
}

// StaticProvider is a MetadataProvider with a fixed field list.
type StaticProvider struct {
	PluginName   string
	PluginFields []string
}

func (p StaticProvider) Name() string     { return p.PluginName }
func (p StaticProvider) Fields() []string { return p.PluginFields }

// BuiltinProviders returns the plugins the engine ships integrations for.
func BuiltinProviders() []MetadataProvider {
	return []MetadataProvider{
		StaticProvider{
			PluginName: "radarr",
			PluginFields: []string{
				"original_language", "title", "original_title", "year",
				"genres", "collection", "tags", "monitored",
			},
		},
		StaticProvider{
			PluginName: "sonarr",
			PluginFields: []string{
				"original_language", "title", "year", "genres", "tags", "monitored",
			},
		},
	}
}

// MetadataWarnings reports plugin_metadata references no known provider
// can satisfy. These are warnings rather than errors: providers are host
// configuration, and a policy may legitimately target a plugin the
// current install lacks.
func (s *Schema) MetadataWarnings(providers []MetadataProvider) []string {
	known := make(map[string]map[string]bool, len(providers))
	for _, provider := range providers {
		fields := make(map[string]bool, len(provider.Fields()))
		for _, field := range provider.Fields() {
			fields[field] = true
		}
		known[provider.Name()] = fields
	}

	var warnings []string
	check := func(where, plugin, field string) {
		fields, ok := known[plugin]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("%s: no provider named %q", where, plugin))
			return
		}
		if !fields[field] {
			warnings = append(warnings, fmt.Sprintf("%s: provider %q contributes no field %q", where, plugin, field))
		}
	}

	for i := range s.Phases {
		phase := &s.Phases[i]
		for j := range phase.Conditional {
			rule := &phase.Conditional[j]
			where := fmt.Sprintf("phase %q rule %q", phase.Name, rule.Name)
			walkPluginRefs(rule.When, func(plugin, field string) { check(where, plugin, field) })
			for _, actions := range [][]Action{rule.Then, rule.Else} {
				for k := range actions {
					action := &actions[k]
					if action.SetLanguage != nil && action.SetLanguage.FromPluginMetadata != nil {
						ref := action.SetLanguage.FromPluginMetadata
						check(where, ref.Plugin, ref.Field)
					}
				}
			}
		}
		if phase.AudioSynthesis != nil {
			for j := range phase.AudioSynthesis.Tracks {
				def := &phase.AudioSynthesis.Tracks[j]
				where := fmt.Sprintf("phase %q audio_synthesis %q", phase.Name, def.Name)
				walkPluginRefs(def.CreateIf, func(plugin, field string) { check(where, plugin, field) })
			}
		}
	}
	return warnings
}

// walkPluginRefs visits every plugin_metadata leaf of a condition tree.
func walkPluginRefs(cond *Condition, visit func(plugin, field string)) {
	if cond == nil {
		return
	}
	switch {
	case cond.PluginMetadata != nil:
		visit(cond.PluginMetadata.Plugin, cond.PluginMetadata.Field)
	case cond.Not != nil:
		walkPluginRefs(cond.Not, visit)
	case cond.And != nil:
		for i := range cond.And {
			walkPluginRefs(&cond.And[i], visit)
		}
	case cond.Or != nil:
		for i := range cond.Or {
			walkPluginRefs(&cond.Or[i], visit)
		}
	}
}

package policy

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Condition is one node of a condition tree. Exactly one field must be set;
// the loader rejects nodes with zero or multiple variants.
type Condition struct {
	Exists               *ExistsCondition            `yaml:"exists"`
	Count                *CountCondition             `yaml:"count"`
	And                  []Condition                 `yaml:"and"`
	Or                   []Condition                 `yaml:"or"`
	Not                  *Condition                  `yaml:"not"`
	AudioIsMultiLanguage *MultiLanguageCondition     `yaml:"audio_is_multi_language"`
	PluginMetadata       *PluginMetadataCondition    `yaml:"plugin_metadata"`
	ContainerMetadata    *ContainerMetadataCondition `yaml:"container_metadata"`
	IsOriginal           *ClassificationCondition    `yaml:"is_original"`
	IsDubbed             *ClassificationCondition    `yaml:"is_dubbed"`
}

// ExistsCondition is satisfied when at least one track matches the filter.
type ExistsCondition struct {
	TrackFilter `yaml:",inline"`
}

// CountCondition compares the number of matching tracks against a value.
type CountCondition struct {
	TrackFilter `yaml:",inline"`
	Operator    string `yaml:"operator"`
	Value       int    `yaml:"value"`
}

// MultiLanguageCondition checks the language analysis of an audio track.
type MultiLanguageCondition struct {
	// TrackIndex selects a specific track; nil means any audio track.
	TrackIndex *int `yaml:"track_index"`
	// PrimaryLanguage, when set, additionally requires the detected
	// primary language to match.
	PrimaryLanguage string `yaml:"primary_language"`
	// Threshold is the minimum secondary-language share. Zero means the
	// analyzer's own multi-language verdict is used as is.
	Threshold float64 `yaml:"threshold"`
}

// PluginMetadataCondition compares a field contributed by an external
// metadata plugin.
type PluginMetadataCondition struct {
	Plugin   string `yaml:"plugin"`
	Field    string `yaml:"field"`
	Operator string `yaml:"operator"`
	Value    string `yaml:"value"`
}

// ContainerMetadataCondition compares a container-level tag.
type ContainerMetadataCondition struct {
	Field    string `yaml:"field"`
	Operator string `yaml:"operator"`
	Value    string `yaml:"value"`
}

// ClassificationCondition checks an original/dubbed verdict for a track.
type ClassificationCondition struct {
	// TrackIndex selects a specific track; nil means any audio track.
	TrackIndex *int `yaml:"track_index"`
	// Language, when set, additionally requires the classified track's
	// language to match.
	Language string `yaml:"language"`
	// MinConfidence overrides the policy-level gate when positive.
	MinConfidence float64 `yaml:"min_confidence"`
}

// variants returns the names of the set variant fields.
func (c *Condition) variants() []string {
	var set []string
	if c.Exists != nil {
		set = append(set, "exists")
	}
	if c.Count != nil {
		set = append(set, "count")
	}
	if c.And != nil {
		set = append(set, "and")
	}
	if c.Or != nil {
		set = append(set, "or")
	}
	if c.Not != nil {
		set = append(set, "not")
	}
	if c.AudioIsMultiLanguage != nil {
		set = append(set, "audio_is_multi_language")
	}
	if c.PluginMetadata != nil {
		set = append(set, "plugin_metadata")
	}
	if c.ContainerMetadata != nil {
		set = append(set, "container_metadata")
	}
	if c.IsOriginal != nil {
		set = append(set, "is_original")
	}
	if c.IsDubbed != nil {
		set = append(set, "is_dubbed")
	}
	return set
}

// Depth returns the nesting depth of the tree rooted at this node. A leaf
// counts as 1, composite operators add a level.
func (c *Condition) Depth() int {
	switch {
	case c.Not != nil:
		return 1 + c.Not.Depth()
	case c.And != nil:
		return 1 + maxChildDepth(c.And)
	case c.Or != nil:
		return 1 + maxChildDepth(c.Or)
	default:
		return 1
	}
}

func maxChildDepth(children []Condition) int {
	deepest := 0
	for i := range children {
		if d := children[i].Depth(); d > deepest {
			deepest = d
		}
	}
	return deepest
}

// TrackFilter selects tracks by their observed properties. Empty fields
// match everything; set fields must all match (conjunction).
type TrackFilter struct {
	Type          string      `yaml:"type"`
	Language      StringList  `yaml:"language"`
	Codec         StringList  `yaml:"codec"`
	IsDefault     *bool       `yaml:"is_default"`
	IsForced      *bool       `yaml:"is_forced"`
	Channels      *Comparison `yaml:"channels"`
	Width         *Comparison `yaml:"width"`
	Height        *Comparison `yaml:"height"`
	Title         *TitleMatch `yaml:"title"`
	NotCommentary bool        `yaml:"not_commentary"`
}

// String renders the filter for log and report output.
func (f *TrackFilter) String() string { return f.describe() }

// describe renders the filter for evaluation reason strings.
func (f *TrackFilter) describe() string {
	var parts []string
	if f.Type != "" {
		parts = append(parts, f.Type)
	}
	if len(f.Language) > 0 {
		parts = append(parts, "lang="+strings.Join(f.Language, "|"))
	}
	if len(f.Codec) > 0 {
		parts = append(parts, "codec="+strings.Join(f.Codec, "|"))
	}
	if f.Channels != nil {
		parts = append(parts, "channels"+f.Channels.describe())
	}
	if f.Title != nil {
		parts = append(parts, "title~"+f.Title.describe())
	}
	if f.NotCommentary {
		parts = append(parts, "not_commentary")
	}
	if len(parts) == 0 {
		return "any"
	}
	return strings.Join(parts, ",")
}

// StringList accepts either a single scalar or a sequence in YAML, always
// normalized to lowercase.
type StringList []string

func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var single string
		if err := node.Decode(&single); err != nil {
			return err
		}
		*l = StringList{strings.ToLower(strings.TrimSpace(single))}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := node.Decode(&many); err != nil {
			return err
		}
		result := make(StringList, 0, len(many))
		for _, item := range many {
			result = append(result, strings.ToLower(strings.TrimSpace(item)))
		}
		*l = result
		return nil
	default:
		return fmt.Errorf("line %d: expected string or list of strings", node.Line)
	}
}

// Contains reports whether the list contains value (case-insensitive).
// An empty list matches nothing.
func (l StringList) Contains(value string) bool {
	value = strings.ToLower(value)
	for _, item := range l {
		if item == value {
			return true
		}
	}
	return false
}

// Comparison is a numeric predicate. A bare scalar means equality; a map
// form carries exactly one of eq, lt, lte, gt, gte.
type Comparison struct {
	Op    string
	Value int
}

func (c *Comparison) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var value int
		if err := node.Decode(&value); err != nil {
			return fmt.Errorf("line %d: comparison value must be an integer", node.Line)
		}
		*c = Comparison{Op: "eq", Value: value}
		return nil
	}
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return fmt.Errorf("line %d: comparison must be an integer or a single-operator map", node.Line)
	}
	op := node.Content[0].Value
	switch op {
	case "eq", "lt", "lte", "gt", "gte":
	default:
		return fmt.Errorf("line %d: unknown comparison operator %q", node.Line, op)
	}
	var value int
	if err := node.Content[1].Decode(&value); err != nil {
		return fmt.Errorf("line %d: comparison value must be an integer", node.Line)
	}
	*c = Comparison{Op: op, Value: value}
	return nil
}

// Matches applies the predicate to an observed value.
func (c *Comparison) Matches(observed int) bool {
	switch c.Op {
	case "eq":
		return observed == c.Value
	case "lt":
		return observed < c.Value
	case "lte":
		return observed <= c.Value
	case "gt":
		return observed > c.Value
	case "gte":
		return observed >= c.Value
	}
	return false
}

func (c *Comparison) describe() string {
	ops := map[string]string{"eq": "=", "lt": "<", "lte": "<=", "gt": ">", "gte": ">="}
	return fmt.Sprintf("%s%d", ops[c.Op], c.Value)
}

// TitleMatch matches a track title by substring or regular expression. A
// bare scalar is shorthand for a case-insensitive substring match.
type TitleMatch struct {
	Contains string
	Regex    string

	compiled *regexp.Regexp
}

func (t *TitleMatch) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var value string
		if err := node.Decode(&value); err != nil {
			return err
		}
		*t = TitleMatch{Contains: value}
		return nil
	}
	var raw struct {
		Contains string `yaml:"contains"`
		Regex    string `yaml:"regex"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if (raw.Contains == "") == (raw.Regex == "") {
		return fmt.Errorf("line %d: title match needs exactly one of contains or regex", node.Line)
	}
	*t = TitleMatch{Contains: raw.Contains, Regex: raw.Regex}
	return nil
}

// Compile validates and caches the regular expression, if any.
func (t *TitleMatch) Compile() error {
	if t.Regex == "" {
		return nil
	}
	compiled, err := regexp.Compile("(?i)" + t.Regex)
	if err != nil {
		return fmt.Errorf("title regex %q: %w", t.Regex, err)
	}
	t.compiled = compiled
	return nil
}

// Matches reports whether the title satisfies the match.
func (t *TitleMatch) Matches(title string) bool {
	if t.Contains != "" {
		return strings.Contains(strings.ToLower(title), strings.ToLower(t.Contains))
	}
	if t.compiled == nil {
		if err := t.Compile(); err != nil {
			return false
		}
	}
	return t.compiled.MatchString(title)
}

func (t *TitleMatch) describe() string {
	if t.Contains != "" {
		return t.Contains
	}
	return "/" + t.Regex + "/"
}

// ChannelPreference is either a concrete channel count or the string "max",
// which prefers the highest count available.
type ChannelPreference struct {
	Max   bool
	Count int
}

func (p *ChannelPreference) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: channels preference must be an integer or \"max\"", node.Line)
	}
	if strings.EqualFold(node.Value, "max") {
		*p = ChannelPreference{Max: true}
		return nil
	}
	var count int
	if err := node.Decode(&count); err != nil {
		return fmt.Errorf("line %d: channels preference must be an integer or \"max\"", node.Line)
	}
	*p = ChannelPreference{Count: count}
	return nil
}

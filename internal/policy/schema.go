package policy

import "strings"

// CurrentSchemaVersion is the policy document version the engine operates
// on. Older supported versions are migrated forward at load time.
const CurrentSchemaVersion = 12

// OldestSupportedVersion is the earliest schema version the migration chain
// can lift to the current version.
const OldestSupportedVersion = 10

// OperationType identifies one of the closed set of phase operations.
type OperationType string

const (
	OpContainer        OperationType = "container"
	OpAudioFilter      OperationType = "audio_filter"
	OpSubtitleFilter   OperationType = "subtitle_filter"
	OpAttachmentFilter OperationType = "attachment_filter"
	OpTrackOrder       OperationType = "track_order"
	OpDefaultFlags     OperationType = "default_flags"
	OpConditional      OperationType = "conditional"
	OpAudioSynthesis   OperationType = "audio_synthesis"
	OpTranscode        OperationType = "transcode"
	OpTranscription    OperationType = "transcription"
)

// CanonicalOperationOrder is the fixed execution order of operations within
// a phase, independent of declaration order in the document. Filters must
// precede reordering, synthesis must precede transcode so new tracks are
// visible to skip_if_exists guards, and transcription is read-only and runs
// last to observe final track state.
var CanonicalOperationOrder = []OperationType{
	OpContainer,
	OpAudioFilter,
	OpSubtitleFilter,
	OpAttachmentFilter,
	OpTrackOrder,
	OpDefaultFlags,
	OpConditional,
	OpAudioSynthesis,
	OpTranscode,
	OpTranscription,
}

// OnErrorMode controls batch behavior after a phase failure.
type OnErrorMode string

const (
	OnErrorSkip     OnErrorMode = "skip"     // abandon this file, continue the batch
	OnErrorContinue OnErrorMode = "continue" // log, proceed to the next phase of the same file
	OnErrorFail     OnErrorMode = "fail"     // halt the entire batch
)

// Valid reports whether the mode is one of the recognized values.
func (m OnErrorMode) Valid() bool {
	switch m {
	case OnErrorSkip, OnErrorContinue, OnErrorFail:
		return true
	}
	return false
}

// GlobalConfig is policy-level configuration threaded through every phase
// execution context.
type GlobalConfig struct {
	OnError                     OnErrorMode `yaml:"on_error"`
	CommentaryPatterns          []string    `yaml:"commentary_patterns"`
	MaxConditionDepth           int         `yaml:"max_condition_depth"`
	MinClassificationConfidence float64     `yaml:"min_classification_confidence"`
}

// DefaultCommentaryPatterns match track titles that indicate commentary.
var DefaultCommentaryPatterns = []string{"commentary", "director", "cast"}

// DefaultMaxConditionDepth bounds condition tree nesting. The limit is a
// product choice, kept configurable rather than hard-coded.
const DefaultMaxConditionDepth = 3

// DefaultMinClassificationConfidence gates is_original/is_dubbed conditions
// when a rule does not specify its own threshold.
const DefaultMinClassificationConfidence = 0.70

func (c *GlobalConfig) applyDefaults() {
	if c.OnError == "" {
		c.OnError = OnErrorSkip
	}
	if len(c.CommentaryPatterns) == 0 {
		c.CommentaryPatterns = append([]string(nil), DefaultCommentaryPatterns...)
	}
	if c.MaxConditionDepth == 0 {
		c.MaxConditionDepth = DefaultMaxConditionDepth
	}
	if c.MinClassificationConfidence == 0 {
		c.MinClassificationConfidence = DefaultMinClassificationConfidence
	}
}

// ContainerConfig requests conversion to a target container format.
type ContainerConfig struct {
	Format string `yaml:"format"`
}

// TrackFilterConfig describes which audio or subtitle tracks to keep.
type TrackFilterConfig struct {
	// Languages to keep; an empty list keeps every language.
	Languages StringList `yaml:"languages"`
	// KeepCommentary retains commentary tracks even when their language is
	// not listed. Defaults to true.
	KeepCommentary *bool      `yaml:"keep_commentary"`
	RemoveCodecs   StringList `yaml:"remove_codecs"`
}

// AttachmentFilterConfig describes attachment removal.
type AttachmentFilterConfig struct {
	RemoveAll bool `yaml:"remove_all"`
}

// DefaultFlagsConfig describes desired default-flag state.
type DefaultFlagsConfig struct {
	AudioLanguagePreference    []string `yaml:"audio_language_preference"`
	SubtitleLanguagePreference []string `yaml:"subtitle_language_preference"`
	SetFirstVideoDefault       bool     `yaml:"set_first_video_default"`
	ClearOtherDefaults         bool     `yaml:"clear_other_defaults"`
}

// VideoTranscodeConfig describes the video transcode target.
type VideoTranscodeConfig struct {
	TargetCodec string     `yaml:"target_codec"`
	CRF         int        `yaml:"crf"`
	MaxHeight   int        `yaml:"max_height"`
	SkipIfCodec StringList `yaml:"skip_if_codec"`
}

// AudioTranscodeConfig describes the audio transcode target.
type AudioTranscodeConfig struct {
	TranscodeTo string     `yaml:"transcode_to"`
	KeepCodecs  StringList `yaml:"keep_codecs"`
	Bitrate     string     `yaml:"bitrate"`
}

// TranscodeConfig groups the video and audio transcode settings of a phase.
type TranscodeConfig struct {
	Video *VideoTranscodeConfig `yaml:"video"`
	Audio *AudioTranscodeConfig `yaml:"audio"`
}

// TranscriptionConfig enables speech analysis within a phase.
type TranscriptionConfig struct {
	Enabled             bool    `yaml:"enabled"`
	UpdateLanguage      bool    `yaml:"update_language"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// SourcePreferences holds the ordered criteria used to pick a synthesis
// source track.
type SourcePreferences struct {
	Prefer []PreferenceCriterion `yaml:"prefer"`
}

// PreferenceCriterion is one weighted preference applied during source
// track selection.
type PreferenceCriterion struct {
	Language      StringList         `yaml:"language"`
	NotCommentary bool               `yaml:"not_commentary"`
	Channels      *ChannelPreference `yaml:"channels"`
	Codec         StringList         `yaml:"codec"`
}

// SynthesisTrackDef describes one audio track to synthesize.
type SynthesisTrackDef struct {
	Name         string            `yaml:"name"`
	Codec        string            `yaml:"codec"`
	Channels     int               `yaml:"channels"`
	Bitrate      string            `yaml:"bitrate"`
	Source       SourcePreferences `yaml:"source"`
	CreateIf     *Condition        `yaml:"create_if"`
	SkipIfExists *TrackFilter      `yaml:"skip_if_exists"`
	Title        string            `yaml:"title"`
	Language     string            `yaml:"language"`
}

// SynthesisConfig lists the synthesis definitions of a phase.
type SynthesisConfig struct {
	Tracks []SynthesisTrackDef `yaml:"tracks"`
}

// PhaseDefinition is one named, user-defined group of operations executed
// atomically against a file.
type PhaseDefinition struct {
	Name    string      `yaml:"name"`
	OnError OnErrorMode `yaml:"on_error"`

	Container        *ContainerConfig        `yaml:"container"`
	AudioFilter      *TrackFilterConfig      `yaml:"audio_filter"`
	SubtitleFilter   *TrackFilterConfig      `yaml:"subtitle_filter"`
	AttachmentFilter *AttachmentFilterConfig `yaml:"attachment_filter"`
	TrackOrder       []string                `yaml:"track_order"`
	DefaultFlags     *DefaultFlagsConfig     `yaml:"default_flags"`
	Conditional      []ConditionalRule       `yaml:"conditional"`
	AudioSynthesis   *SynthesisConfig        `yaml:"audio_synthesis"`
	Transcode        *TranscodeConfig        `yaml:"transcode"`
	Transcription    *TranscriptionConfig    `yaml:"transcription"`
}

// Operations returns the operations this phase owns, in canonical execution
// order regardless of declaration order in the document.
func (p *PhaseDefinition) Operations() []OperationType {
	present := map[OperationType]bool{
		OpContainer:        p.Container != nil,
		OpAudioFilter:      p.AudioFilter != nil,
		OpSubtitleFilter:   p.SubtitleFilter != nil,
		OpAttachmentFilter: p.AttachmentFilter != nil,
		OpTrackOrder:       len(p.TrackOrder) > 0,
		OpDefaultFlags:     p.DefaultFlags != nil,
		OpConditional:      len(p.Conditional) > 0,
		OpAudioSynthesis:   p.AudioSynthesis != nil && len(p.AudioSynthesis.Tracks) > 0,
		OpTranscode:        p.Transcode != nil,
		OpTranscription:    p.Transcription != nil && p.Transcription.Enabled,
	}
	result := make([]OperationType, 0, len(CanonicalOperationOrder))
	for _, op := range CanonicalOperationOrder {
		if present[op] {
			result = append(result, op)
		}
	}
	return result
}

// EffectiveOnError returns the per-phase override when set, otherwise the
// global mode.
func (p *PhaseDefinition) EffectiveOnError(global OnErrorMode) OnErrorMode {
	if p.OnError != "" {
		return p.OnError
	}
	return global
}

// Schema is a loaded, validated policy document.
type Schema struct {
	SchemaVersion int               `yaml:"schema_version"`
	Config        GlobalConfig      `yaml:"config"`
	Phases        []PhaseDefinition `yaml:"phases"`
}

// PhaseNames returns phase names in declared order.
func (s *Schema) PhaseNames() []string {
	names := make([]string, 0, len(s.Phases))
	for _, phase := range s.Phases {
		names = append(names, phase.Name)
	}
	return names
}

// Phase returns the named phase definition, or nil.
func (s *Schema) Phase(name string) *PhaseDefinition {
	for i := range s.Phases {
		if strings.EqualFold(s.Phases[i].Name, name) {
			return &s.Phases[i]
		}
	}
	return nil
}

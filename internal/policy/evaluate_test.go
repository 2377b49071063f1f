package policy

import (
	"strings"
	"testing"

	"vpo/internal/media"
)

func testFacts() *Facts {
	return &Facts{
		File: &media.FileInfo{
			Path:      "/library/movie.mkv",
			Container: "mkv",
			Tracks: []media.TrackInfo{
				{Index: 0, Type: "video", Codec: "hevc", Width: 1920, Height: 1080, Default: true},
				{Index: 1, Type: "audio", Codec: "truehd", Language: "eng", Channels: 8, Default: true},
				{Index: 2, Type: "audio", Codec: "ac3", Language: "eng", Channels: 2, Title: "Director Commentary"},
				{Index: 3, Type: "audio", Codec: "aac", Language: "jpn", Channels: 6},
				{Index: 4, Type: "subtitle", Codec: "subrip", Language: "eng"},
			},
			ContainerTags: map[string]string{"title": "My Movie"},
			PluginMetadata: map[string]map[string]any{
				"radarr": {"original_language": "jpn", "year": 2019},
			},
		},
	}
}

func testEvaluator() *Evaluator {
	return NewEvaluator(GlobalConfig{})
}

func TestEvaluateExists(t *testing.T) {
	e := testEvaluator()
	facts := testFacts()

	tests := []struct {
		name    string
		cond    Condition
		want    bool
		inTrace string
	}{
		{
			name:    "video by codec",
			cond:    Condition{Exists: &ExistsCondition{TrackFilter: TrackFilter{Type: "video", Codec: StringList{"hevc"}}}},
			want:    true,
			inTrace: "track[0] hevc",
		},
		{
			name:    "no av1 video",
			cond:    Condition{Exists: &ExistsCondition{TrackFilter: TrackFilter{Type: "video", Codec: StringList{"av1"}}}},
			want:    false,
			inTrace: "no matching tracks",
		},
		{
			name: "surround japanese audio",
			cond: Condition{Exists: &ExistsCondition{TrackFilter: TrackFilter{
				Type:     "audio",
				Language: StringList{"jpn"},
				Channels: &Comparison{Op: "gte", Value: 6},
			}}},
			want: true,
		},
		{
			name: "not_commentary excludes titled track",
			cond: Condition{Exists: &ExistsCondition{TrackFilter: TrackFilter{
				Type:          "audio",
				Codec:         StringList{"ac3"},
				NotCommentary: true,
			}}},
			want: false,
		},
		{
			name: "title contains",
			cond: Condition{Exists: &ExistsCondition{TrackFilter: TrackFilter{
				Type:  "audio",
				Title: &TitleMatch{Contains: "commentary"},
			}}},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := e.Evaluate(&tt.cond, facts)
			if got != tt.want {
				t.Errorf("verdict = %t, want %t (%s)", got, tt.want, reason)
			}
			if tt.inTrace != "" && !strings.Contains(reason, tt.inTrace) {
				t.Errorf("reason %q missing %q", reason, tt.inTrace)
			}
		})
	}
}

func TestEvaluateLanguageMatchIsAliasAware(t *testing.T) {
	e := testEvaluator()
	facts := testFacts()

	// "en" and "en-US" must match the track tagged "eng".
	for _, tag := range []string{"en", "eng", "en-US"} {
		cond := Condition{Exists: &ExistsCondition{TrackFilter: TrackFilter{
			Type: "audio", Language: StringList{strings.ToLower(tag)},
		}}}
		if got, reason := e.Evaluate(&cond, facts); !got {
			t.Errorf("language %q did not match eng track: %s", tag, reason)
		}
	}
}

func TestEvaluateCount(t *testing.T) {
	e := testEvaluator()
	facts := testFacts()

	tests := []struct {
		name string
		cond CountCondition
		want bool
	}{
		{"three audio tracks", CountCondition{TrackFilter: TrackFilter{Type: "audio"}, Operator: "eq", Value: 3}, true},
		{"at least two english", CountCondition{TrackFilter: TrackFilter{Type: "audio", Language: StringList{"eng"}}, Operator: "gte", Value: 2}, true},
		{"fewer than one subtitle", CountCondition{TrackFilter: TrackFilter{Type: "subtitle"}, Operator: "lt", Value: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := Condition{Count: &tt.cond}
			if got, reason := e.Evaluate(&cond, facts); got != tt.want {
				t.Errorf("verdict = %t, want %t (%s)", got, tt.want, reason)
			}
		})
	}
}

func TestEvaluateComposite(t *testing.T) {
	e := testEvaluator()
	facts := testFacts()

	hevc := Condition{Exists: &ExistsCondition{TrackFilter: TrackFilter{Type: "video", Codec: StringList{"hevc"}}}}
	av1 := Condition{Exists: &ExistsCondition{TrackFilter: TrackFilter{Type: "video", Codec: StringList{"av1"}}}}

	and := Condition{And: []Condition{hevc, av1}}
	if got, reason := e.Evaluate(&and, facts); got {
		t.Errorf("and should fail: %s", reason)
	} else if !strings.Contains(reason, "child 2") {
		t.Errorf("and trace should name the failing child: %q", reason)
	}

	or := Condition{Or: []Condition{av1, hevc}}
	if got, _ := e.Evaluate(&or, facts); !got {
		t.Error("or should succeed via second child")
	}

	not := Condition{Not: &av1}
	if got, _ := e.Evaluate(&not, facts); !got {
		t.Error("not(false) should be true")
	}
}

func TestEvaluateMissingDataIsFalseNotError(t *testing.T) {
	e := testEvaluator()

	tests := []struct {
		name string
		cond Condition
	}{
		{"exists without file", Condition{Exists: &ExistsCondition{TrackFilter: TrackFilter{Type: "video"}}}},
		{"multi-language without analysis", Condition{AudioIsMultiLanguage: &MultiLanguageCondition{}}},
		{"classification without verdicts", Condition{IsOriginal: &ClassificationCondition{}}},
		{"plugin metadata without plugins", Condition{PluginMetadata: &PluginMetadataCondition{Plugin: "radarr", Field: "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := e.Evaluate(&tt.cond, &Facts{})
			if got {
				t.Errorf("missing data must evaluate false, got true (%s)", reason)
			}
			if reason == "" {
				t.Error("missing data must still carry a reason")
			}
		})
	}
}

func TestEvaluatePluginMetadata(t *testing.T) {
	e := testEvaluator()
	facts := testFacts()

	tests := []struct {
		name string
		cond PluginMetadataCondition
		want bool
	}{
		{"eq match", PluginMetadataCondition{Plugin: "radarr", Field: "original_language", Operator: "eq", Value: "jpn"}, true},
		{"ne", PluginMetadataCondition{Plugin: "radarr", Field: "original_language", Operator: "ne", Value: "eng"}, true},
		{"non-string field coerced", PluginMetadataCondition{Plugin: "radarr", Field: "year", Operator: "eq", Value: "2019"}, true},
		{"unknown plugin", PluginMetadataCondition{Plugin: "sonarr", Field: "original_language", Operator: "eq", Value: "jpn"}, false},
		{"missing field", PluginMetadataCondition{Plugin: "radarr", Field: "nope", Operator: "eq", Value: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := Condition{PluginMetadata: &tt.cond}
			if got, reason := e.Evaluate(&cond, facts); got != tt.want {
				t.Errorf("verdict = %t, want %t (%s)", got, tt.want, reason)
			}
		})
	}
}

func TestEvaluateContainerMetadata(t *testing.T) {
	e := testEvaluator()
	facts := testFacts()

	cond := Condition{ContainerMetadata: &ContainerMetadataCondition{Field: "Title", Operator: "contains", Value: "movie"}}
	if got, reason := e.Evaluate(&cond, facts); !got {
		t.Errorf("case-insensitive tag lookup failed: %s", reason)
	}
}

func TestEvaluateClassificationGate(t *testing.T) {
	e := testEvaluator()
	facts := testFacts()
	facts.Classification = map[int]media.TrackClassification{
		1: {TrackIndex: 1, OriginalDubbed: media.StatusOriginal, Confidence: 0.95},
		3: {TrackIndex: 3, OriginalDubbed: media.StatusDubbed, Confidence: 0.55},
	}

	orig := Condition{IsOriginal: &ClassificationCondition{}}
	if got, _ := e.Evaluate(&orig, facts); !got {
		t.Error("confident original verdict should satisfy is_original")
	}

	// Below the 0.70 default gate the verdict is suppressed.
	idx := 3
	dubbed := Condition{IsDubbed: &ClassificationCondition{TrackIndex: &idx}}
	if got, reason := e.Evaluate(&dubbed, facts); got {
		t.Errorf("low-confidence verdict must not satisfy condition: %s", reason)
	} else if !strings.Contains(reason, "below") {
		t.Errorf("reason should name the gate: %q", reason)
	}

	// A per-condition override can lower the gate.
	relaxed := Condition{IsDubbed: &ClassificationCondition{TrackIndex: &idx, MinConfidence: 0.5}}
	if got, _ := e.Evaluate(&relaxed, facts); !got {
		t.Error("per-condition min_confidence override not honored")
	}
}

func TestEvaluateClassificationLanguage(t *testing.T) {
	e := testEvaluator()
	facts := testFacts()
	facts.Classification = map[int]media.TrackClassification{
		1: {TrackIndex: 1, OriginalDubbed: media.StatusOriginal, Confidence: 0.95, Language: "eng"},
	}

	matching := Condition{IsOriginal: &ClassificationCondition{Language: "en"}}
	if got, _ := e.Evaluate(&matching, facts); !got {
		t.Error("alias-matching language gate should pass")
	}
	other := Condition{IsOriginal: &ClassificationCondition{Language: "jpn"}}
	if got, _ := e.Evaluate(&other, facts); got {
		t.Error("non-matching language gate should fail")
	}
}

func TestEvaluateMultiLanguage(t *testing.T) {
	e := testEvaluator()
	facts := testFacts()
	facts.Language = map[int]media.LanguageAnalysis{
		1: {TrackIndex: 1, PrimaryLanguage: "eng", PrimaryPercentage: 72,
			Secondary:     []media.LanguageShare{{Language: "jpn", Percentage: 28}},
			MultiLanguage: true},
		3: {TrackIndex: 3, PrimaryLanguage: "jpn", PrimaryPercentage: 99, MultiLanguage: false},
	}

	anyTrack := Condition{AudioIsMultiLanguage: &MultiLanguageCondition{}}
	if got, _ := e.Evaluate(&anyTrack, facts); !got {
		t.Error("any-track multi-language should match track 1")
	}

	idx := 3
	single := Condition{AudioIsMultiLanguage: &MultiLanguageCondition{TrackIndex: &idx}}
	if got, _ := e.Evaluate(&single, facts); got {
		t.Error("single-language track 3 should not match")
	}

	strict := Condition{AudioIsMultiLanguage: &MultiLanguageCondition{Threshold: 30}}
	if got, _ := e.Evaluate(&strict, facts); got {
		t.Error("28% secondary share is below a 30% threshold")
	}

	primary := Condition{AudioIsMultiLanguage: &MultiLanguageCondition{PrimaryLanguage: "en"}}
	if got, _ := e.Evaluate(&primary, facts); !got {
		t.Error("primary_language en should match the eng analysis")
	}
	primary.AudioIsMultiLanguage.PrimaryLanguage = "fra"
	if got, _ := e.Evaluate(&primary, facts); got {
		t.Error("primary_language fra should not match")
	}
}

func TestIsCommentaryFromClassifier(t *testing.T) {
	e := testEvaluator()
	facts := testFacts()
	facts.Classification = map[int]media.TrackClassification{
		3: {TrackIndex: 3, Commentary: media.CommentaryTrack, Confidence: 0.9},
	}

	// Track 3 has no commentary title; only the classifier knows.
	track := facts.File.Tracks[3]
	if !e.IsCommentary(track, facts) {
		t.Error("confident classifier commentary verdict ignored")
	}

	// Low confidence must not flip the answer.
	facts.Classification[3] = media.TrackClassification{TrackIndex: 3, Commentary: media.CommentaryTrack, Confidence: 0.4}
	if e.IsCommentary(track, facts) {
		t.Error("low-confidence commentary verdict should be ignored")
	}
}

func TestConditionDepth(t *testing.T) {
	leaf := Condition{Exists: &ExistsCondition{TrackFilter: TrackFilter{Type: "video"}}}
	if got := leaf.Depth(); got != 1 {
		t.Errorf("leaf depth = %d, want 1", got)
	}
	nested := Condition{And: []Condition{{Or: []Condition{{Not: &leaf}}}}}
	if got := nested.Depth(); got != 4 {
		t.Errorf("nested depth = %d, want 4", got)
	}
}

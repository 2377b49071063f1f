package synthesis

import (
	"testing"

	"vpo/internal/policy"
)

func TestBuildPlanSkipIfExists(t *testing.T) {
	facts := synthFacts(
		audioTrack(1, 8, "eng", "truehd", ""),
		audioTrack(2, 6, "eng", "eac3", ""),
	)
	cfg := &policy.SynthesisConfig{Tracks: []policy.SynthesisTrackDef{{
		Name: "compat", Codec: "eac3", Channels: 6,
		SkipIfExists: &policy.TrackFilter{
			Type: "audio", Codec: policy.StringList{"eac3"},
			Channels: &policy.Comparison{Op: "gte", Value: 6},
		},
	}}}

	plan := BuildPlan(cfg, facts, newEval())
	if len(plan.Tracks) != 0 {
		t.Errorf("planned tracks = %+v", plan.Tracks)
	}
	if len(plan.Skipped) != 1 || plan.Skipped[0].Reason != SkipAlreadyExists {
		t.Errorf("skipped = %+v", plan.Skipped)
	}
}

func TestBuildPlanCreateIfGate(t *testing.T) {
	facts := synthFacts(audioTrack(1, 8, "eng", "truehd", ""))
	cfg := &policy.SynthesisConfig{Tracks: []policy.SynthesisTrackDef{{
		Name: "compat", Codec: "eac3", Channels: 6,
		CreateIf: &policy.Condition{Exists: &policy.ExistsCondition{
			TrackFilter: policy.TrackFilter{Type: "audio", Language: policy.StringList{"jpn"}},
		}},
	}}}

	plan := BuildPlan(cfg, facts, newEval())
	if len(plan.Skipped) != 1 || plan.Skipped[0].Reason != SkipConditionFalse {
		t.Errorf("skipped = %+v", plan.Skipped)
	}
	if plan.Skipped[0].Detail == "" {
		t.Error("skip should carry the condition trace")
	}
}

func TestBuildPlanWouldUpmix(t *testing.T) {
	facts := synthFacts(audioTrack(1, 2, "eng", "aac", ""))
	cfg := &policy.SynthesisConfig{Tracks: []policy.SynthesisTrackDef{{
		Name: "surround", Codec: "eac3", Channels: 6,
	}}}

	plan := BuildPlan(cfg, facts, newEval())
	if len(plan.Skipped) != 1 || plan.Skipped[0].Reason != SkipWouldUpmix {
		t.Errorf("skipped = %+v", plan.Skipped)
	}
}

func TestBuildPlanInheritance(t *testing.T) {
	facts := synthFacts(audioTrack(1, 8, "jpn", "truehd", "TrueHD Atmos"))
	cfg := &policy.SynthesisConfig{Tracks: []policy.SynthesisTrackDef{
		{Name: "compat", Codec: "eac3", Channels: 6, Title: "inherit", Language: "inherit"},
		{Name: "stereo", Codec: "aac", Channels: 2, Title: "Stereo Downmix", Language: "eng"},
	}}

	plan := BuildPlan(cfg, facts, newEval())
	if len(plan.Tracks) != 2 {
		t.Fatalf("planned = %+v, skipped = %+v", plan.Tracks, plan.Skipped)
	}
	inherit := plan.Tracks[0]
	if inherit.Title != "TrueHD Atmos" || inherit.Language != "jpn" {
		t.Errorf("inherit resolved to %q/%q", inherit.Title, inherit.Language)
	}
	literal := plan.Tracks[1]
	if literal.Title != "Stereo Downmix" || literal.Language != "eng" {
		t.Errorf("literal resolved to %q/%q", literal.Title, literal.Language)
	}
}

func TestBuildPlanEmptyTitleDefaultsToDefinitionName(t *testing.T) {
	facts := synthFacts(audioTrack(1, 8, "jpn", "truehd", "Source Title"))
	cfg := &policy.SynthesisConfig{Tracks: []policy.SynthesisTrackDef{{
		Name: "compat", Codec: "eac3", Channels: 6,
	}}}

	plan := BuildPlan(cfg, facts, newEval())
	if len(plan.Tracks) != 1 {
		t.Fatal("expected one planned track")
	}
	if plan.Tracks[0].Title != "compat" {
		t.Errorf("title = %q, want definition name", plan.Tracks[0].Title)
	}
	// Language has no definition default, so it inherits.
	if plan.Tracks[0].Language != "jpn" {
		t.Errorf("language = %q", plan.Tracks[0].Language)
	}
}

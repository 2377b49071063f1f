package synthesis

import (
	"testing"

	"vpo/internal/media"
	"vpo/internal/policy"
)

func synthFacts(tracks ...media.TrackInfo) *policy.Facts {
	return &policy.Facts{
		File: &media.FileInfo{
			Path:   "/library/movie.mkv",
			Tracks: tracks,
		},
	}
}

func audioTrack(index, channels int, lang, codec, title string) media.TrackInfo {
	return media.TrackInfo{
		Index: index, Type: "audio",
		Channels: channels, Language: lang, Codec: codec, Title: title,
	}
}

func surroundDef(channels int, prefer ...policy.PreferenceCriterion) *policy.SynthesisTrackDef {
	return &policy.SynthesisTrackDef{
		Name:     "compat",
		Codec:    "eac3",
		Channels: channels,
		Source:   policy.SourcePreferences{Prefer: prefer},
	}
}

func newEval() *policy.Evaluator {
	return policy.NewEvaluator(policy.GlobalConfig{})
}

func TestSelectSourcePrefersLanguage(t *testing.T) {
	facts := synthFacts(
		audioTrack(1, 6, "eng", "dts", ""),
		audioTrack(2, 6, "jpn", "aac", ""),
	)
	def := surroundDef(6, policy.PreferenceCriterion{Language: policy.StringList{"jpn"}})

	selection, err := SelectSource(def, facts, newEval())
	if err != nil {
		t.Fatalf("SelectSource: %v", err)
	}
	if selection.Track.Index != 2 {
		t.Errorf("selected track %d, want 2", selection.Track.Index)
	}
	if selection.IsFallback {
		t.Error("scored selection marked as fallback")
	}
}

func TestSelectSourceUndeterminedIsHalfCredit(t *testing.T) {
	facts := synthFacts(
		audioTrack(1, 6, "und", "ac3", ""),
		audioTrack(2, 6, "fra", "ac3", ""),
	)
	def := surroundDef(6, policy.PreferenceCriterion{Language: policy.StringList{"jpn"}})

	selection, err := SelectSource(def, facts, newEval())
	if err != nil {
		t.Fatal(err)
	}
	// No exact match anywhere; und scores 50, fra scores 0.
	if selection.Track.Index != 1 {
		t.Errorf("selected track %d, want undetermined track 1", selection.Track.Index)
	}
	if selection.Score != 50 {
		t.Errorf("score = %d, want 50", selection.Score)
	}
}

func TestSelectSourceExcludesUpmixBeforeScoring(t *testing.T) {
	// The stereo track matches every preference but cannot feed a 5.1
	// synthesis; the scoring must never see it.
	facts := synthFacts(
		audioTrack(1, 2, "jpn", "aac", ""),
		audioTrack(2, 6, "eng", "dts", ""),
	)
	def := surroundDef(6,
		policy.PreferenceCriterion{Language: policy.StringList{"jpn"}},
		policy.PreferenceCriterion{Codec: policy.StringList{"aac"}},
	)

	selection, err := SelectSource(def, facts, newEval())
	if err != nil {
		t.Fatal(err)
	}
	if selection.Track.Index != 2 {
		t.Errorf("upmix candidate won selection: track %d", selection.Track.Index)
	}
}

func TestSelectSourceAllUpmixFails(t *testing.T) {
	facts := synthFacts(
		audioTrack(1, 2, "eng", "aac", ""),
		audioTrack(2, 2, "jpn", "ac3", ""),
	)
	def := surroundDef(6, policy.PreferenceCriterion{Language: policy.StringList{"eng"}})

	_, err := SelectSource(def, facts, newEval())
	if err == nil {
		t.Fatal("expected no-candidates error")
	}
	if _, ok := err.(*ErrNoCandidates); !ok {
		t.Errorf("error type = %T", err)
	}
}

func TestSelectSourceNotCommentaryWeight(t *testing.T) {
	facts := synthFacts(
		audioTrack(1, 6, "eng", "ac3", "Director Commentary"),
		audioTrack(2, 6, "eng", "ac3", ""),
	)
	def := surroundDef(6,
		policy.PreferenceCriterion{Language: policy.StringList{"eng"}},
		policy.PreferenceCriterion{NotCommentary: true},
	)

	selection, err := SelectSource(def, facts, newEval())
	if err != nil {
		t.Fatal(err)
	}
	if selection.Track.Index != 2 {
		t.Errorf("commentary track won selection: track %d", selection.Track.Index)
	}
	if selection.Score != weightLanguageExact+weightNotCommentary {
		t.Errorf("score = %d", selection.Score)
	}
}

func TestSelectSourceChannelsMax(t *testing.T) {
	facts := synthFacts(
		audioTrack(1, 6, "eng", "ac3", ""),
		audioTrack(2, 8, "eng", "truehd", ""),
	)
	def := surroundDef(6, policy.PreferenceCriterion{Channels: &policy.ChannelPreference{Max: true}})

	selection, err := SelectSource(def, facts, newEval())
	if err != nil {
		t.Fatal(err)
	}
	if selection.Track.Index != 2 {
		t.Errorf("max-channel preference picked track %d", selection.Track.Index)
	}
	if selection.Score != weightPerChannel*8 {
		t.Errorf("score = %d, want %d", selection.Score, weightPerChannel*8)
	}
}

func TestSelectSourceTieBreaksToEarliestIndex(t *testing.T) {
	facts := synthFacts(
		audioTrack(3, 6, "eng", "ac3", ""),
		audioTrack(5, 6, "eng", "ac3", ""),
	)
	def := surroundDef(6, policy.PreferenceCriterion{Language: policy.StringList{"eng"}})

	selection, err := SelectSource(def, facts, newEval())
	if err != nil {
		t.Fatal(err)
	}
	if selection.Track.Index != 3 {
		t.Errorf("tie broke to track %d, want earliest (3)", selection.Track.Index)
	}
}

func TestSelectSourceZeroScoreFallsBack(t *testing.T) {
	facts := synthFacts(
		audioTrack(1, 6, "fra", "ac3", ""),
		audioTrack(2, 6, "deu", "dts", ""),
	)
	def := surroundDef(6, policy.PreferenceCriterion{Language: policy.StringList{"jpn"}, Codec: policy.StringList{"flac"}})

	selection, err := SelectSource(def, facts, newEval())
	if err != nil {
		t.Fatal(err)
	}
	if !selection.IsFallback {
		t.Error("zero-score selection not marked as fallback")
	}
	if selection.Track.Index != 1 {
		t.Errorf("fallback picked track %d, want first audio track", selection.Track.Index)
	}
}

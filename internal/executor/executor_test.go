package executor

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"vpo/internal/policy"
)

func TestBackupCreateRestoreDiscard(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "movie.mkv")
	if err := os.WriteFile(original, []byte("pre-phase content"), 0o644); err != nil {
		t.Fatal(err)
	}

	manager := &BackupManager{TempDir: filepath.Join(dir, "tmp")}
	backup, err := manager.Create(original, "normalize")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Mutate, then roll back.
	if err := os.WriteFile(original, []byte("corrupted by a failed operation"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := backup.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	content, err := os.ReadFile(original)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "pre-phase content" {
		t.Errorf("restored content = %q", content)
	}

	// Restoring again is a no-op on the same fixed state.
	if err := backup.Restore(); err != nil {
		t.Fatalf("second Restore: %v", err)
	}
	content, _ = os.ReadFile(original)
	if string(content) != "pre-phase content" {
		t.Errorf("idempotent restore broke content: %q", content)
	}

	if err := backup.Discard(); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, err := os.Stat(backup.Path); !os.IsNotExist(err) {
		t.Error("backup file survived discard")
	}
	// Discard after discard is harmless.
	if err := backup.Discard(); err != nil {
		t.Errorf("second Discard: %v", err)
	}
}

func TestBackupNamesIsolateSameBasename(t *testing.T) {
	dir := t.TempDir()
	fileA := filepath.Join(dir, "a", "movie.mkv")
	fileB := filepath.Join(dir, "b", "movie.mkv")
	for path, content := range map[string]string{fileA: "content A", fileB: "content B"} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	manager := &BackupManager{TempDir: filepath.Join(dir, "tmp")}
	backupA, err := manager.Create(fileA, "normalize")
	if err != nil {
		t.Fatalf("Create A: %v", err)
	}
	backupB, err := manager.Create(fileB, "normalize")
	if err != nil {
		t.Fatalf("Create B: %v", err)
	}
	if backupA.Path == backupB.Path {
		t.Fatalf("both backups landed at %s", backupA.Path)
	}

	// Both originals get clobbered; each rollback must restore its own
	// pre-phase bytes.
	for _, path := range []string{fileA, fileB} {
		if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := backupA.Restore(); err != nil {
		t.Fatalf("Restore A: %v", err)
	}
	if content, _ := os.ReadFile(fileA); string(content) != "content A" {
		t.Errorf("rollback of A restored %q, want %q", content, "content A")
	}
	if err := backupB.Restore(); err != nil {
		t.Fatalf("Restore B: %v", err)
	}
	if content, _ := os.ReadFile(fileB); string(content) != "content B" {
		t.Errorf("rollback of B restored %q, want %q", content, "content B")
	}
}

func TestReplaceWithTempIsolatesSameBasename(t *testing.T) {
	dir := t.TempDir()
	tools := NewToolSet("ffmpeg", "mkvpropedit", "mkvmerge", filepath.Join(dir, "tmp"), nil)

	fileA := filepath.Join(dir, "a", "movie.mkv")
	fileB := filepath.Join(dir, "b", "movie.mkv")
	var tempA, tempB string
	record := func(dst *string) func(string) error {
		return func(tempOut string) error {
			*dst = tempOut
			return os.WriteFile(tempOut, []byte("output for "+filepath.Dir(tempOut)), 0o644)
		}
	}
	for path := range map[string]struct{}{fileA: {}, fileB: {}} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := tools.replaceWithTemp(context.Background(), fileA, record(&tempA)); err != nil {
		t.Fatalf("replaceWithTemp A: %v", err)
	}
	if err := tools.replaceWithTemp(context.Background(), fileB, record(&tempB)); err != nil {
		t.Fatalf("replaceWithTemp B: %v", err)
	}
	if tempA == tempB {
		t.Errorf("temp outputs collide at %s", tempA)
	}
}

func TestFlagEditArgs(t *testing.T) {
	flags := []policy.FlagChange{
		{TrackIndex: 3, Flag: "default", Value: true},
		{TrackIndex: 1, Flag: "forced", Value: false},
	}
	langs := []policy.LanguageChange{
		{TrackIndex: 2, Language: "jpn"},
	}

	args := flagEditArgs("/library/movie.mkv", flags, langs)
	want := []string{
		"/library/movie.mkv",
		"--edit", "track:4", "--set", "flag-default=1",
		"--edit", "track:2", "--set", "flag-forced=0",
		"--edit", "track:3", "--set", "language=jpn",
	}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("args = %v\nwant   %v", args, want)
	}

	if got := flagEditArgs("/x", nil, nil); got != nil {
		t.Errorf("empty plan should build no command: %v", got)
	}
}

func TestRemuxArgs(t *testing.T) {
	plan := RemuxPlan{
		KeepTracks:        []int{0, 2, 1},
		Container:         "mkv",
		RemoveAttachments: true,
	}
	args := remuxArgs("in.mkv", "out.mkv", plan)
	joined := strings.Join(args, " ")

	// Order of -map flags is the output track order.
	if !strings.Contains(joined, "-map 0:0 -map 0:2 -map 0:1") {
		t.Errorf("map order wrong: %s", joined)
	}
	if strings.Contains(joined, "0:t?") {
		t.Errorf("attachments mapped despite removal: %s", joined)
	}
	if !strings.Contains(joined, "-c copy") {
		t.Errorf("remux must not re-encode: %s", joined)
	}
	if !strings.Contains(joined, "-f matroska") {
		t.Errorf("container not forced: %s", joined)
	}
}

func TestTranscodeArgs(t *testing.T) {
	job := TranscodeJob{
		Video: &VideoTranscode{Codec: "hevc", CRF: 22, MaxHeight: 1080},
		Audio: []AudioTranscode{{OutputIndex: 1, Codec: "opus", Bitrate: "192k"}},
	}
	joined := strings.Join(transcodeArgs("in.mkv", "out.mkv", job), " ")

	if !strings.Contains(joined, "-c:v:0 libx265") {
		t.Errorf("video encoder: %s", joined)
	}
	if !strings.Contains(joined, "-crf 22") {
		t.Errorf("crf: %s", joined)
	}
	if !strings.Contains(joined, "-c:a:1 libopus") || !strings.Contains(joined, "-b:a:1 192k") {
		t.Errorf("audio encode: %s", joined)
	}
	// Untouched streams copy through.
	if !strings.Contains(joined, "-map 0 -c copy") {
		t.Errorf("copy baseline missing: %s", joined)
	}
}

func TestSynthesizeArgs(t *testing.T) {
	job := SynthesizeJob{
		SourceIndex: 1,
		OutputIndex: 3,
		Codec:       "eac3",
		Channels:    6,
		Bitrate:     "640k",
		Title:       "Surround Compat",
		Language:    "jpn",
	}
	joined := strings.Join(synthesizeArgs("in.mkv", "out.mkv", job), " ")

	if !strings.Contains(joined, "-map 0 -map 0:1") {
		t.Errorf("source mapping: %s", joined)
	}
	if !strings.Contains(joined, "-c:a:3 eac3") || !strings.Contains(joined, "-ac:a:3 6") {
		t.Errorf("encode settings: %s", joined)
	}
	if !strings.Contains(joined, "-metadata:s:a:3 language=jpn") {
		t.Errorf("language metadata: %s", joined)
	}
	if !strings.Contains(joined, "-disposition:a:3 0") {
		t.Errorf("new track must not be default: %s", joined)
	}
}

func TestEncoderMapping(t *testing.T) {
	tests := []struct {
		fn    func(string) string
		input string
		want  string
	}{
		{videoEncoder, "hevc", "libx265"},
		{videoEncoder, "AV1", "libsvtav1"},
		{videoEncoder, "custom", "custom"},
		{audioEncoder, "opus", "libopus"},
		{audioEncoder, "EAC3", "eac3"},
	}
	for _, tt := range tests {
		if got := tt.fn(tt.input); got != tt.want {
			t.Errorf("encoder(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

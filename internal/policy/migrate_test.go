package policy

import (
	"errors"
	"testing"

	"vpo/internal/services"
)

const v10Policy = `
schema_version: 10
on_error: continue
phases:
  - name: tidy
    rules:
      - name: keep-hevc
        when:
          exists: {type: video, codec: hevc}
        then:
          - skip_video_transcode: true
`

func TestMigrateV10ToCurrent(t *testing.T) {
	schema, err := Parse([]byte(v10Policy))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if schema.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("schema_version = %d, want %d", schema.SchemaVersion, CurrentSchemaVersion)
	}
	// v10 "rules" becomes "conditional".
	phase := schema.Phase("tidy")
	if len(phase.Conditional) != 1 || phase.Conditional[0].Name != "keep-hevc" {
		t.Errorf("conditional = %+v", phase.Conditional)
	}
	// v11 root-level on_error moves under config.
	if schema.Config.OnError != OnErrorContinue {
		t.Errorf("on_error = %q, want continue", schema.Config.OnError)
	}
}

func TestMigrateV11OnErrorMove(t *testing.T) {
	doc := map[string]any{
		"schema_version": 11,
		"on_error":       "fail",
		"phases":         []any{map[string]any{"name": "p"}},
	}
	migrated, err := Migrate(doc)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if migrated["schema_version"] != 12 {
		t.Errorf("schema_version = %v", migrated["schema_version"])
	}
	config, ok := migrated["config"].(map[string]any)
	if !ok || config["on_error"] != "fail" {
		t.Errorf("config = %v", migrated["config"])
	}
	if _, stale := migrated["on_error"]; stale {
		t.Error("root on_error not removed")
	}
}

func TestMigrateV11DoesNotClobberExplicitConfig(t *testing.T) {
	doc := map[string]any{
		"schema_version": 11,
		"on_error":       "fail",
		"config":         map[string]any{"on_error": "skip"},
		"phases":         []any{map[string]any{"name": "p"}},
	}
	migrated, err := Migrate(doc)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	config := migrated["config"].(map[string]any)
	if config["on_error"] != "skip" {
		t.Errorf("explicit config.on_error overwritten: %v", config["on_error"])
	}
}

func TestMigrateCurrentIsIdentity(t *testing.T) {
	doc := map[string]any{
		"schema_version": CurrentSchemaVersion,
		"phases":         []any{map[string]any{"name": "p"}},
	}
	migrated, err := Migrate(doc)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if migrated["schema_version"] != CurrentSchemaVersion {
		t.Errorf("schema_version changed: %v", migrated["schema_version"])
	}
}

func TestMigrateRejectsOutOfRangeVersions(t *testing.T) {
	for _, version := range []int{9, 13} {
		doc := map[string]any{"schema_version": version}
		if _, err := Migrate(doc); !errors.Is(err, services.ErrValidation) {
			t.Errorf("version %d: expected validation error, got %v", version, err)
		}
	}
}

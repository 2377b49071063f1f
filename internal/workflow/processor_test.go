package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"vpo/internal/executor"
	"vpo/internal/logging"
	"vpo/internal/policy"
	"vpo/internal/services"
	"vpo/internal/testsupport"
)

const gatePolicy = `
schema_version: 12
phases:
  - name: gate
    conditional:
      - name: reject-all
        when:
          exists: {type: video}
        then:
          - fail: "rejected {filename}"
  - name: finish
    conditional:
      - name: note-attachments
        when:
          exists: {type: attachment}
        then:
          - warn: "has attachments"
`

type fakeRuns struct {
	started         int
	status          string
	failed, skipped int
}

func (f *fakeRuns) StartRun(ctx context.Context, policyPath string, filesTotal int) (string, error) {
	f.started++
	return "run-1", nil
}

func (f *fakeRuns) FinishRun(ctx context.Context, runID, status string, failed, skipped int) error {
	f.status = status
	f.failed = failed
	f.skipped = skipped
	return nil
}

func testProcessor(t *testing.T, policyYAML string) (*Processor, *fakeRuns, string) {
	t.Helper()
	schema, err := policy.Parse([]byte(policyYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	tempDir := t.TempDir()
	probe := &fakeProbe{}
	tools := executor.NewToolSet("ffmpeg", "mkvpropedit", "mkvmerge", tempDir, logging.NewNop())
	backups := &executor.BackupManager{TempDir: tempDir}
	eval := policy.NewEvaluator(schema.Config)
	exec := NewPhaseExecutor(tools, backups, probe, eval, TranscriptionRunner{}, logging.NewNop(), false)

	runs := &fakeRuns{}
	return &Processor{
		Schema:     schema,
		PolicyPath: "policy.yaml",
		Executor:   exec,
		Probe:      probe,
		Runs:       runs,
		Logger:     logging.NewNop(),
		Workers:    1,
	}, runs, t.TempDir()
}

func writeBatchFiles(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, name := range names {
		paths = append(paths, testsupport.WriteFile(t, filepath.Join(dir, name), "content of "+name))
	}
	return paths
}

func TestSelectPhases(t *testing.T) {
	p, _, _ := testProcessor(t, gatePolicy)

	all, err := p.SelectPhases(nil)
	if err != nil || len(all) != 2 {
		t.Fatalf("all phases = %v err = %v", all, err)
	}

	// Filter order does not override declaration order.
	subset, err := p.SelectPhases([]string{"finish", "gate"})
	if err != nil {
		t.Fatalf("SelectPhases: %v", err)
	}
	if len(subset) != 2 || subset[0].Name != "gate" || subset[1].Name != "finish" {
		t.Errorf("subset = [%s %s]", subset[0].Name, subset[1].Name)
	}

	_, err = p.SelectPhases([]string{"bogus"})
	if !errors.Is(err, services.ErrValidation) {
		t.Errorf("unknown phase err = %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "gate") {
		t.Errorf("error does not list declared phases: %v", err)
	}
}

func TestProcessBatchSkipAbandonsFile(t *testing.T) {
	p, runs, dir := testProcessor(t, gatePolicy)
	files := writeBatchFiles(t, dir, "a.mkv", "b.mkv")

	result, err := p.ProcessBatch(context.Background(), files, nil)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if result.Aborted {
		t.Error("skip mode aborted the batch")
	}
	for _, fileResult := range result.Files {
		if !fileResult.Failed || !fileResult.Skipped {
			t.Errorf("%s: failed=%t skipped=%t", fileResult.Path, fileResult.Failed, fileResult.Skipped)
		}
		// The finish phase never runs for an abandoned file.
		if len(fileResult.Phases) != 1 {
			t.Errorf("%s: phases run = %d", fileResult.Path, len(fileResult.Phases))
		}
		if !errors.Is(fileResult.Err, services.ErrPolicyFail) {
			t.Errorf("%s: err = %v", fileResult.Path, fileResult.Err)
		}
	}
	if runs.status != runPartial || runs.failed != 2 || runs.skipped != 2 {
		t.Errorf("run record = %+v", runs)
	}
}

func TestProcessBatchContinueRunsRemainingPhases(t *testing.T) {
	continuePolicy := strings.Replace(gatePolicy, "- name: gate\n", "- name: gate\n    on_error: continue\n", 1)
	p, _, dir := testProcessor(t, continuePolicy)
	files := writeBatchFiles(t, dir, "a.mkv")

	result, err := p.ProcessBatch(context.Background(), files, nil)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	fileResult := result.Files[0]
	if !fileResult.Failed || fileResult.Skipped {
		t.Errorf("failed=%t skipped=%t", fileResult.Failed, fileResult.Skipped)
	}
	if len(fileResult.Phases) != 2 {
		t.Fatalf("phases run = %d, want both", len(fileResult.Phases))
	}
	if fileResult.Phases[0].State != PhaseRolledBack || fileResult.Phases[1].State != PhaseCommitted {
		t.Errorf("phase states = %s, %s", fileResult.Phases[0].State, fileResult.Phases[1].State)
	}
}

func TestProcessBatchFailAbortsBatch(t *testing.T) {
	failPolicy := strings.Replace(gatePolicy, "phases:", "config:\n  on_error: fail\nphases:", 1)
	p, runs, dir := testProcessor(t, failPolicy)
	files := writeBatchFiles(t, dir, "a.mkv")

	result, err := p.ProcessBatch(context.Background(), files, nil)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if !result.Aborted {
		t.Error("fail mode did not abort")
	}
	if runs.status != runAborted {
		t.Errorf("run status = %q", runs.status)
	}
}

func TestProcessBatchOnErrorOverride(t *testing.T) {
	p, _, dir := testProcessor(t, gatePolicy)
	p.OnErrorOverride = policy.OnErrorFail
	files := writeBatchFiles(t, dir, "a.mkv")

	result, err := p.ProcessBatch(context.Background(), files, nil)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if !result.Aborted {
		t.Error("override to fail did not abort")
	}
}

func TestProcessBatchCleanPolicy(t *testing.T) {
	p, runs, dir := testProcessor(t, `
schema_version: 12
phases:
  - name: finish
    conditional:
      - name: note-attachments
        when:
          exists: {type: attachment}
        then:
          - warn: "has attachments"
`)
	files := writeBatchFiles(t, dir, "a.mkv", "b.mkv")

	result, err := p.ProcessBatch(context.Background(), files, nil)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if result.FailedCount() != 0 || result.SkippedCount() != 0 || result.Aborted {
		t.Errorf("result = %+v", result)
	}
	if runs.status != runCompleted {
		t.Errorf("run status = %q", runs.status)
	}
	if result.RunID != "run-1" {
		t.Errorf("run id = %q", result.RunID)
	}
}

func TestProcessBatchIntrospectionFailure(t *testing.T) {
	p, _, dir := testProcessor(t, gatePolicy)
	p.Probe.(*fakeProbe).err = errors.New("ffprobe not found")
	files := writeBatchFiles(t, dir, "a.mkv")

	result, err := p.ProcessBatch(context.Background(), files, nil)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	fileResult := result.Files[0]
	if !fileResult.Failed || len(fileResult.Phases) != 0 {
		t.Errorf("result = %+v", fileResult)
	}
	if !errors.Is(fileResult.Err, services.ErrTransient) {
		t.Errorf("err = %v", fileResult.Err)
	}
}

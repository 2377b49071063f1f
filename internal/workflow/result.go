package workflow

import "time"

// PhaseState tracks one phase execution through its lifecycle. Legal
// transitions are Pending → BackedUp → Running → Committed or RolledBack;
// dry runs jump straight from Pending to Committed without touching the
// file.
type PhaseState string

const (
	PhasePending    PhaseState = "pending"
	PhaseBackedUp   PhaseState = "backed_up"
	PhaseRunning    PhaseState = "running"
	PhaseCommitted  PhaseState = "committed"
	PhaseRolledBack PhaseState = "rolled_back"
)

// PhaseResult summarizes one phase execution against one file.
type PhaseResult struct {
	Phase         string
	State         PhaseState
	OperationsRun int
	ChangesMade   bool
	Skipped       bool
	Duration      time.Duration
	Warnings      []string
	Err           error
}

// FileResult aggregates the phase results of one file.
type FileResult struct {
	Path     string
	Phases   []PhaseResult
	Failed   bool
	Skipped  bool
	Err      error
	Duration time.Duration
}

// BatchResult aggregates one processor run.
type BatchResult struct {
	RunID    string
	Files    []FileResult
	Aborted  bool
	Duration time.Duration
}

// FailedCount returns how many files failed.
func (b *BatchResult) FailedCount() int {
	count := 0
	for _, file := range b.Files {
		if file.Failed {
			count++
		}
	}
	return count
}

// SkippedCount returns how many files were abandoned by on_error skip.
func (b *BatchResult) SkippedCount() int {
	count := 0
	for _, file := range b.Files {
		if file.Skipped {
			count++
		}
	}
	return count
}

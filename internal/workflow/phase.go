// Package workflow drives policy execution: per-phase atomic operation
// groups with backup and rollback, and batch processing across files with
// bounded concurrency.
package workflow

import (
	"context"
	"log/slog"
	"os"
	"time"

	"vpo/internal/executor"
	"vpo/internal/logging"
	"vpo/internal/media"
	"vpo/internal/policy"
	"vpo/internal/services"
)

// Introspector produces fact snapshots for files.
type Introspector interface {
	Introspect(ctx context.Context, path string) (*media.FileInfo, error)
}

// Classifier produces per-track verdicts for a file.
type Classifier interface {
	ClassifyFile(ctx context.Context, info *media.FileInfo) (map[int]media.TrackClassification, error)
}

// AnalysisStore persists language analyses between runs.
type AnalysisStore interface {
	SaveLanguageAnalysis(ctx context.Context, fileHash string, analysis media.LanguageAnalysis) error
	LanguageAnalysesForFile(ctx context.Context, fileHash string) (map[int]media.LanguageAnalysis, error)
}

// FileState is the mutable processing context of one file across phases.
// Skip flags collected in the plan persist for the rest of the run.
type FileState struct {
	Path  string
	Facts *policy.Facts
	Plan  policy.Plan
}

// operationHandler executes one operation of a phase. It reports whether
// the file was modified.
type operationHandler func(ctx context.Context, state *FileState, phase *policy.PhaseDefinition) (bool, error)

// PhaseExecutor runs single phases atomically. Any operation failure or
// cancellation inside a phase restores the file to its pre-phase state.
type PhaseExecutor struct {
	tools      *executor.ToolSet
	backups    *executor.BackupManager
	probe      Introspector
	eval       *policy.Evaluator
	transcribe TranscriptionRunner
	logger     *slog.Logger
	dryRun     bool

	handlers map[policy.OperationType]operationHandler
}

// NewPhaseExecutor wires the dispatch table. Handlers for every member of
// the operation set are registered at startup; an unknown operation in a
// validated policy is impossible.
func NewPhaseExecutor(tools *executor.ToolSet, backups *executor.BackupManager, probe Introspector, eval *policy.Evaluator, trans TranscriptionRunner, logger *slog.Logger, dryRun bool) *PhaseExecutor {
	if logger == nil {
		logger = logging.NewNop()
	}
	e := &PhaseExecutor{
		tools:      tools,
		backups:    backups,
		probe:      probe,
		eval:       eval,
		transcribe: trans,
		logger:     logger,
		dryRun:     dryRun,
	}
	e.handlers = map[policy.OperationType]operationHandler{
		policy.OpContainer:        e.runContainer,
		policy.OpAudioFilter:      e.runAudioFilter,
		policy.OpSubtitleFilter:   e.runSubtitleFilter,
		policy.OpAttachmentFilter: e.runAttachmentFilter,
		policy.OpTrackOrder:       e.runTrackOrder,
		policy.OpDefaultFlags:     e.runDefaultFlags,
		policy.OpConditional:      e.runConditional,
		policy.OpAudioSynthesis:   e.runAudioSynthesis,
		policy.OpTranscode:        e.runTranscode,
		policy.OpTranscription:    e.runTranscription,
	}
	return e
}

// ExecutePhase runs one phase against one file. On success the backup is
// discarded and the result is Committed. On any failure the file is
// restored and the result is RolledBack with the original error.
func (e *PhaseExecutor) ExecutePhase(ctx context.Context, state *FileState, phase *policy.PhaseDefinition) PhaseResult {
	start := time.Now()
	result := PhaseResult{Phase: phase.Name, State: PhasePending}
	logger := e.logger.With(
		logging.String(logging.FieldFile, state.Path),
		logging.String(logging.FieldPhase, phase.Name),
	)

	ops := phase.Operations()
	if len(ops) == 0 {
		logger.Warn("phase declares no operations, skipping")
		result.Skipped = true
		result.State = PhaseCommitted
		result.Duration = time.Since(start)
		return result
	}

	var backup *executor.Backup
	if !e.dryRun {
		created, err := e.backups.Create(state.Path, phase.Name)
		if err != nil {
			result.State = PhaseRolledBack
			result.Err = err
			result.Duration = time.Since(start)
			return result
		}
		backup = created
		result.State = PhaseBackedUp
	}

	result.State = PhaseRunning
	warningsBefore := len(state.Plan.Warnings)

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			e.rollback(logger, backup, state, &result)
			result.Err = services.Wrap(services.ErrCancelled, "workflow", string(op), state.Path, err)
			result.Duration = time.Since(start)
			return result
		}

		opLogger := logger.With(logging.String(logging.FieldOperation, string(op)))
		opLogger.Debug("operation start")

		changed, err := e.handlers[op](ctx, state, phase)
		if err != nil {
			opLogger.Error("operation failed", logging.Error(err))
			e.rollback(logger, backup, state, &result)
			result.Err = err
			result.Duration = time.Since(start)
			return result
		}
		result.OperationsRun++
		if changed {
			result.ChangesMade = true
			if !e.dryRun {
				if err := e.refresh(ctx, state); err != nil {
					e.rollback(logger, backup, state, &result)
					result.Err = err
					result.Duration = time.Since(start)
					return result
				}
			}
		}
		opLogger.Debug("operation done", logging.Bool("changed", changed))
	}

	if backup != nil {
		if err := backup.Discard(); err != nil {
			logger.Warn("backup discard failed", logging.Error(err))
		}
	}
	result.State = PhaseCommitted
	result.Warnings = append(result.Warnings, state.Plan.Warnings[warningsBefore:]...)
	result.Duration = time.Since(start)
	return result
}

func (e *PhaseExecutor) rollback(logger *slog.Logger, backup *executor.Backup, state *FileState, result *PhaseResult) {
	result.State = PhaseRolledBack
	if backup == nil {
		return
	}
	// A container conversion may have moved the file; the rolled-back file
	// lives at the pre-phase path.
	if state.Path != backup.Original {
		if err := os.Remove(state.Path); err != nil && !os.IsNotExist(err) {
			logger.Warn("converted file cleanup failed", logging.Error(err))
		}
		state.Path = backup.Original
	}
	if err := backup.Restore(); err != nil {
		logger.Error("rollback failed, backup retained", logging.Error(err), logging.String("backup", backup.Path))
		return
	}
	if err := backup.Discard(); err != nil {
		logger.Warn("backup discard after rollback failed", logging.Error(err))
	}
	logger.Info("phase rolled back")
}

// refresh re-introspects the file after a mutating operation so later
// operations see current track indexes and codecs.
func (e *PhaseExecutor) refresh(ctx context.Context, state *FileState) error {
	info, err := e.probe.Introspect(ctx, state.Path)
	if err != nil {
		return services.Wrap(services.ErrTransient, "workflow", "refresh", state.Path, err)
	}
	// Plugin metadata is keyed by file identity, not content; carry it over.
	info.PluginMetadata = state.Facts.File.PluginMetadata
	state.Facts.File = info
	return nil
}

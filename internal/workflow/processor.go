package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"vpo/internal/logging"
	"vpo/internal/policy"
	"vpo/internal/services"
)

// RunRecorder persists batch run records. *store.Store satisfies it.
type RunRecorder interface {
	StartRun(ctx context.Context, policyPath string, filesTotal int) (string, error)
	FinishRun(ctx context.Context, runID, status string, failed, skipped int) error
}

// Run statuses mirrored from the store to avoid a hard dependency.
const (
	runCompleted = "completed"
	runPartial   = "partial"
	runAborted   = "aborted"
)

// Processor executes a policy's phases across a batch of files.
type Processor struct {
	Schema     *policy.Schema
	PolicyPath string
	Executor   *PhaseExecutor
	Probe      Introspector
	Classifier Classifier
	Analyses   AnalysisStore
	Runs       RunRecorder
	Logger     *slog.Logger
	Workers    int
	// OnErrorOverride, when set, replaces the policy's global on_error for
	// this invocation (the --on-error flag).
	OnErrorOverride policy.OnErrorMode
}

// errBatchAbort signals an on_error=fail decision through the errgroup.
type errBatchAbort struct {
	path string
	err  error
}

func (e *errBatchAbort) Error() string {
	return fmt.Sprintf("batch aborted by %s: %v", e.path, e.err)
}

func (e *errBatchAbort) Unwrap() error { return e.err }

// SelectPhases resolves a --phases filter against the policy. The returned
// phases always run in policy-declared order regardless of filter order.
// An unknown phase name is a validation error reported before any file is
// touched.
func (p *Processor) SelectPhases(filter []string) ([]*policy.PhaseDefinition, error) {
	if len(filter) == 0 {
		phases := make([]*policy.PhaseDefinition, 0, len(p.Schema.Phases))
		for i := range p.Schema.Phases {
			phases = append(phases, &p.Schema.Phases[i])
		}
		return phases, nil
	}

	wanted := make(map[string]bool, len(filter))
	for _, name := range filter {
		phase := p.Schema.Phase(name)
		if phase == nil {
			return nil, services.Wrap(services.ErrValidation, "workflow", "phases",
				fmt.Sprintf("unknown phase %q (policy declares: %s)", name, strings.Join(p.Schema.PhaseNames(), ", ")), nil)
		}
		wanted[strings.ToLower(phase.Name)] = true
	}

	var phases []*policy.PhaseDefinition
	for i := range p.Schema.Phases {
		if wanted[strings.ToLower(p.Schema.Phases[i].Name)] {
			phases = append(phases, &p.Schema.Phases[i])
		}
	}
	return phases, nil
}

// ProcessBatch runs the selected phases over every file with bounded
// concurrency. An on_error=fail outcome cancels the remaining files and
// marks the batch aborted.
func (p *Processor) ProcessBatch(ctx context.Context, files []string, phaseFilter []string) (*BatchResult, error) {
	start := time.Now()
	logger := p.logger()

	phases, err := p.SelectPhases(phaseFilter)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{Files: make([]FileResult, len(files))}
	if p.Runs != nil {
		runID, runErr := p.Runs.StartRun(ctx, p.PolicyPath, len(files))
		if runErr != nil {
			return nil, runErr
		}
		result.RunID = runID
	}

	workers := p.Workers
	if workers < 1 {
		workers = 1
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for i, path := range files {
		i, path := i, path
		group.Go(func() error {
			fileResult := p.processFile(groupCtx, path, phases)
			result.Files[i] = fileResult
			if fileResult.Failed && p.effectiveOnError(fileResult) == policy.OnErrorFail {
				return &errBatchAbort{path: path, err: fileResult.Err}
			}
			return nil
		})
	}

	if waitErr := group.Wait(); waitErr != nil {
		if _, ok := waitErr.(*errBatchAbort); ok {
			result.Aborted = true
			logger.Error("batch aborted", logging.Error(waitErr))
		} else {
			result.Duration = time.Since(start)
			p.finishRun(result)
			return result, waitErr
		}
	}

	result.Duration = time.Since(start)
	p.finishRun(result)
	return result, nil
}

// effectiveOnError returns the mode that applied to the file's failing
// phase, considering CLI override, per-phase override, and the global
// default.
func (p *Processor) effectiveOnError(fileResult FileResult) policy.OnErrorMode {
	if p.OnErrorOverride != "" {
		return p.OnErrorOverride
	}
	for _, phaseResult := range fileResult.Phases {
		if phaseResult.Err != nil {
			if phase := p.Schema.Phase(phaseResult.Phase); phase != nil {
				return phase.EffectiveOnError(p.Schema.Config.OnError)
			}
		}
	}
	return p.Schema.Config.OnError
}

func (p *Processor) finishRun(result *BatchResult) {
	if p.Runs == nil || result.RunID == "" {
		return
	}
	status := runCompleted
	switch {
	case result.Aborted:
		status = runAborted
	case result.FailedCount() > 0:
		status = runPartial
	}
	// Run bookkeeping must not mask the processing outcome.
	if err := p.Runs.FinishRun(context.Background(), result.RunID, status, result.FailedCount(), result.SkippedCount()); err != nil {
		p.logger().Warn("finish run record failed", logging.Error(err))
	}
}

// processFile executes the phase sequence for one file.
func (p *Processor) processFile(ctx context.Context, path string, phases []*policy.PhaseDefinition) FileResult {
	start := time.Now()
	logger := p.logger().With(logging.String(logging.FieldFile, path))
	fileResult := FileResult{Path: path}

	state, err := p.prepare(ctx, path)
	if err != nil {
		fileResult.Failed = true
		fileResult.Err = err
		fileResult.Duration = time.Since(start)
		logger.Error("file preparation failed", logging.Error(err))
		return fileResult
	}

	for _, phase := range phases {
		p.refreshAnalysis(ctx, state, logger)

		phaseResult := p.Executor.ExecutePhase(ctx, state, phase)
		fileResult.Phases = append(fileResult.Phases, phaseResult)

		for _, warning := range phaseResult.Warnings {
			logger.Warn(warning, logging.String(logging.FieldPhase, phase.Name))
		}

		if phaseResult.Err == nil {
			continue
		}
		fileResult.Failed = true
		fileResult.Err = phaseResult.Err

		mode := p.OnErrorOverride
		if mode == "" {
			mode = phase.EffectiveOnError(p.Schema.Config.OnError)
		}
		switch mode {
		case policy.OnErrorContinue:
			logger.Warn("phase failed, continuing with next phase",
				logging.String(logging.FieldPhase, phase.Name), logging.Error(phaseResult.Err))
			continue
		case policy.OnErrorFail:
			fileResult.Duration = time.Since(start)
			return fileResult
		default: // skip
			fileResult.Skipped = true
			logger.Warn("phase failed, abandoning file",
				logging.String(logging.FieldPhase, phase.Name), logging.Error(phaseResult.Err))
			fileResult.Duration = time.Since(start)
			return fileResult
		}
	}

	fileResult.Duration = time.Since(start)
	return fileResult
}

// prepare introspects the file and seeds the processing state with cached
// analyses.
func (p *Processor) prepare(ctx context.Context, path string) (*FileState, error) {
	info, err := p.Probe.Introspect(ctx, path)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "workflow", "introspect", path, err)
	}
	state := &FileState{
		Path:  path,
		Facts: &policy.Facts{File: info},
	}
	if p.Analyses != nil {
		cached, cacheErr := p.Analyses.LanguageAnalysesForFile(ctx, info.ContentHash)
		if cacheErr == nil && len(cached) > 0 {
			state.Facts.Language = cached
		}
	}
	return state, nil
}

// refreshAnalysis re-runs classification before each phase. The content
// hash keys the cache, so an unchanged file costs one lookup per track and
// a mutated file is re-analyzed automatically.
func (p *Processor) refreshAnalysis(ctx context.Context, state *FileState, logger *slog.Logger) {
	if p.Classifier == nil {
		return
	}
	results, err := p.Classifier.ClassifyFile(ctx, state.Facts.File)
	if err != nil {
		// Classification is advisory; conditions that need it evaluate
		// false with a reason.
		logger.Warn("classification unavailable", logging.Error(err))
		return
	}
	state.Facts.Classification = results
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return logging.NewNop()
}

package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vpo/internal/classify"
	"vpo/internal/executor"
	"vpo/internal/media/ffprobe"
	"vpo/internal/policy"
	"vpo/internal/services"
	"vpo/internal/store"
	"vpo/internal/transcribe"
	"vpo/internal/workflow"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var policyPath string
	var phaseFilter []string
	var dryRun bool
	var onError string
	var workers int
	var originalLanguage string

	cmd := &cobra.Command{
		Use:   "process --policy <policy.yaml> <file>...",
		Short: "Apply a policy to media files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			schema, err := policy.Load(policyPath)
			if err != nil {
				return err
			}

			var override policy.OnErrorMode
			if strings.TrimSpace(onError) != "" {
				override = policy.OnErrorMode(strings.ToLower(strings.TrimSpace(onError)))
				if !override.Valid() {
					return services.Wrap(services.ErrValidation, "cli", "on-error",
						fmt.Sprintf("unsupported mode %q (skip, continue, fail)", onError), nil)
				}
			}

			st, err := store.Open(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			var speech transcribe.Service = transcribe.Disabled{}
			if cfg.Transcription.Enabled {
				speech = transcribe.NewWhisper(cfg.Transcription.Binary, cfg.Transcription.Model)
			}

			classifier := classify.New(st, speech, logger)
			classifier.OriginalLanguage = originalLanguage

			probe := ffprobe.Introspector{Binary: cfg.Tools.FFprobe}
			tools := executor.NewToolSet(cfg.Tools.FFmpeg, cfg.Tools.Mkvpropedit, cfg.Tools.Mkvmerge, cfg.Paths.TempDir, logger)
			tools.DryRun = dryRun
			backups := &executor.BackupManager{TempDir: cfg.Paths.TempDir}
			eval := policy.NewEvaluator(schema.Config)

			phaseExec := workflow.NewPhaseExecutor(tools, backups, probe, eval,
				workflow.TranscriptionRunner{Service: speech, Store: st}, logger, dryRun)

			if workers <= 0 {
				workers = cfg.Workflow.Workers
			}
			proc := &workflow.Processor{
				Schema:          schema,
				PolicyPath:      policyPath,
				Executor:        phaseExec,
				Probe:           probe,
				Classifier:      classifier,
				Analyses:        st,
				Runs:            st,
				Logger:          logger,
				Workers:         workers,
				OnErrorOverride: override,
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := proc.ProcessBatch(runCtx, args, phaseFilter)
			if err != nil {
				return err
			}

			printBatchResult(cmd.OutOrStdout(), result, dryRun)
			switch {
			case result.Aborted:
				return &exitCodeError{code: exitAborted,
					err: fmt.Errorf("batch aborted: %d of %d files processed before the failure", len(result.Files)-result.FailedCount(), len(result.Files))}
			case result.FailedCount() > 0:
				return &exitCodeError{code: exitPartialFailure,
					err: fmt.Errorf("%d of %d files failed", result.FailedCount(), len(result.Files))}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&policyPath, "policy", "p", "", "Policy document to apply")
	cmd.Flags().StringSliceVar(&phaseFilter, "phases", nil, "Run only the named phases (policy order)")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Report planned operations without modifying files")
	cmd.Flags().StringVar(&onError, "on-error", "", "Override the policy's on_error mode (skip, continue, fail)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent files (default from config)")
	cmd.Flags().StringVar(&originalLanguage, "original-language", "", "Known production language for classification")
	_ = cmd.MarkFlagRequired("policy")

	return cmd
}

func printBatchResult(out io.Writer, result *workflow.BatchResult, dryRun bool) {
	rows := make([][]string, 0, len(result.Files))
	for _, file := range result.Files {
		status := "ok"
		switch {
		case file.Skipped:
			status = "skipped"
		case file.Failed:
			status = "failed"
		}
		detail := ""
		if file.Err != nil {
			detail = file.Err.Error()
		}
		rows = append(rows, []string{
			file.Path,
			status,
			fmt.Sprintf("%d", len(file.Phases)),
			file.Duration.Round(time.Millisecond).String(),
			detail,
		})
	}

	if dryRun {
		fmt.Fprintln(out, "Dry run: no files were modified.")
	}
	fmt.Fprintln(out, renderTable([]string{"File", "Status", "Phases", "Duration", "Error"}, rows, 2, 3))
	fmt.Fprintf(out, "%d files, %d failed, %d skipped (%s)\n",
		len(result.Files), result.FailedCount(), result.SkippedCount(),
		result.Duration.Round(time.Millisecond))
}

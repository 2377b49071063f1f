package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"vpo/internal/classify"
	"vpo/internal/language"
	"vpo/internal/media/ffprobe"
	"vpo/internal/store"
	"vpo/internal/transcribe"
)

func newClassifyCommand(ctx *commandContext) *cobra.Command {
	var originalLanguage string

	cmd := &cobra.Command{
		Use:   "classify <file>",
		Short: "Classify audio tracks as original, dubbed, or commentary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
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
			info, err := probe.Introspect(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			results, err := classifier.ClassifyFile(cmd.Context(), info)
			if err != nil {
				return err
			}

			indexes := make([]int, 0, len(results))
			for index := range results {
				indexes = append(indexes, index)
			}
			sort.Ints(indexes)

			rows := make([][]string, 0, len(indexes))
			for _, index := range indexes {
				result := results[index]
				rows = append(rows, []string{
					fmt.Sprintf("%d", index),
					language.DisplayName(result.Language),
					string(result.OriginalDubbed),
					string(result.Commentary),
					fmt.Sprintf("%.2f", result.Confidence),
					string(result.Method),
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d audio tracks classified\n", info.Path, len(rows))
			fmt.Fprintln(out, renderTable([]string{"Track", "Language", "Original/Dubbed", "Commentary", "Confidence", "Method"}, rows, 0, 4))
			return nil
		},
	}

	cmd.Flags().StringVar(&originalLanguage, "original-language", "", "Known production language of the content")
	return cmd
}

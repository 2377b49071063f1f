package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	textlanguage "golang.org/x/text/language"

	"vpo/internal/language"
	"vpo/internal/media"
	"vpo/internal/media/ffprobe"
)

var labelCaser = cases.Title(textlanguage.English)

func newInspectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Show the track layout of a media file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			probe := ffprobe.Introspector{Binary: cfg.Tools.FFprobe}
			info, err := probe.Introspect(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(info.Tracks))
			for _, track := range info.Tracks {
				rows = append(rows, []string{
					fmt.Sprintf("%d", track.Index),
					labelCaser.String(track.Type),
					track.Codec,
					language.DisplayName(track.Language),
					trackDetail(track),
					track.Title,
					trackFlags(track),
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s, %d tracks)\n", info.Path, info.Container, len(info.Tracks))
			fmt.Fprintln(out, renderTable([]string{"#", "Type", "Codec", "Language", "Detail", "Title", "Flags"}, rows, 0))
			return nil
		},
	}
}

func trackDetail(track media.TrackInfo) string {
	switch track.Type {
	case media.TrackVideo:
		if track.Width > 0 && track.Height > 0 {
			return fmt.Sprintf("%dx%d", track.Width, track.Height)
		}
	case media.TrackAudio:
		if track.Channels > 0 {
			return fmt.Sprintf("%dch", track.Channels)
		}
	}
	return ""
}

func trackFlags(track media.TrackInfo) string {
	var flags []string
	if track.Default {
		flags = append(flags, "default")
	}
	if track.Forced {
		flags = append(flags, "forced")
	}
	return strings.Join(flags, ", ")
}

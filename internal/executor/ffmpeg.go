package executor

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// RemuxPlan describes a structural rewrite of one file: which source
// tracks survive, in what order, and into which container.
type RemuxPlan struct {
	// KeepTracks lists source stream indexes in desired output order.
	KeepTracks []int
	// Container is the target format ("mkv", "mp4"); empty keeps the
	// current container.
	Container string
	// RemoveAttachments drops attachment streams instead of mapping them.
	RemoveAttachments bool
}

// VideoTranscode is the video half of a transcode job.
type VideoTranscode struct {
	Codec     string
	CRF       int
	MaxHeight int
}

// AudioTranscode re-encodes one audio track in place.
type AudioTranscode struct {
	// OutputIndex is the audio stream position (0-based among audio
	// streams) in the output.
	OutputIndex int
	Codec       string
	Bitrate     string
}

// TranscodeJob combines the re-encodes of one ffmpeg pass.
type TranscodeJob struct {
	Video *VideoTranscode
	Audio []AudioTranscode
}

// SynthesizeJob appends one derived audio track encoded from a source
// track.
type SynthesizeJob struct {
	SourceIndex int
	// OutputIndex is the audio stream position of the new track, usually
	// the current audio track count.
	OutputIndex int
	Codec       string
	Channels    int
	Bitrate     string
	Title       string
	Language    string
}

// ConvertContainer remuxes into a new container at newPath and removes the
// original when the path changed.
func (t *ToolSet) ConvertContainer(ctx context.Context, path, newPath string, plan RemuxPlan) error {
	if t.DryRun {
		return t.run(ctx, t.FFmpeg, remuxArgs(path, newPath, plan))
	}
	err := t.replaceWithTemp(ctx, newPath, func(tempOut string) error {
		return t.run(ctx, t.FFmpeg, remuxArgs(path, tempOut, plan))
	})
	if err != nil {
		return err
	}
	if newPath != path {
		if removeErr := os.Remove(path); removeErr != nil {
			return fmt.Errorf("remove source after conversion: %w", removeErr)
		}
	}
	return nil
}

// Remux rewrites the file structure and atomically replaces the original.
func (t *ToolSet) Remux(ctx context.Context, path string, plan RemuxPlan) error {
	return t.replaceWithTemp(ctx, path, func(tempOut string) error {
		return t.run(ctx, t.FFmpeg, remuxArgs(path, tempOut, plan))
	})
}

// Transcode re-encodes streams and atomically replaces the original.
func (t *ToolSet) Transcode(ctx context.Context, path string, job TranscodeJob) error {
	return t.replaceWithTemp(ctx, path, func(tempOut string) error {
		return t.run(ctx, t.FFmpeg, transcodeArgs(path, tempOut, job))
	})
}

// Synthesize appends a derived audio track and atomically replaces the
// original.
func (t *ToolSet) Synthesize(ctx context.Context, path string, job SynthesizeJob) error {
	return t.replaceWithTemp(ctx, path, func(tempOut string) error {
		return t.run(ctx, t.FFmpeg, synthesizeArgs(path, tempOut, job))
	})
}

func baseArgs(input string) []string {
	return []string{"-y", "-v", "error", "-i", input}
}

func outputArgs(output, container string) []string {
	if container == "" {
		return []string{output}
	}
	format := container
	if format == "mkv" {
		format = "matroska"
	}
	return []string{"-f", format, output}
}

func remuxArgs(input, output string, plan RemuxPlan) []string {
	args := baseArgs(input)
	for _, index := range plan.KeepTracks {
		args = append(args, "-map", fmt.Sprintf("0:%d", index))
	}
	if !plan.RemoveAttachments {
		args = append(args, "-map", "0:t?")
	}
	args = append(args, "-c", "copy", "-map_metadata", "0")
	return append(args, outputArgs(output, plan.Container)...)
}

func transcodeArgs(input, output string, job TranscodeJob) []string {
	args := baseArgs(input)
	args = append(args, "-map", "0", "-c", "copy")
	if job.Video != nil {
		args = append(args, "-c:v:0", videoEncoder(job.Video.Codec))
		if job.Video.CRF > 0 {
			args = append(args, "-crf", fmt.Sprintf("%d", job.Video.CRF))
		}
		if job.Video.MaxHeight > 0 {
			args = append(args, "-vf", fmt.Sprintf("scale=-2:'min(%d,ih)'", job.Video.MaxHeight))
		}
	}
	for _, audio := range job.Audio {
		args = append(args, fmt.Sprintf("-c:a:%d", audio.OutputIndex), audioEncoder(audio.Codec))
		if audio.Bitrate != "" {
			args = append(args, fmt.Sprintf("-b:a:%d", audio.OutputIndex), audio.Bitrate)
		}
	}
	return append(args, outputArgs(output, "")...)
}

func synthesizeArgs(input, output string, job SynthesizeJob) []string {
	args := baseArgs(input)
	args = append(args,
		"-map", "0",
		"-map", fmt.Sprintf("0:%d", job.SourceIndex),
		"-c", "copy",
		fmt.Sprintf("-c:a:%d", job.OutputIndex), audioEncoder(job.Codec),
		fmt.Sprintf("-ac:a:%d", job.OutputIndex), fmt.Sprintf("%d", job.Channels),
	)
	if job.Bitrate != "" {
		args = append(args, fmt.Sprintf("-b:a:%d", job.OutputIndex), job.Bitrate)
	}
	if job.Language != "" {
		args = append(args, fmt.Sprintf("-metadata:s:a:%d", job.OutputIndex), "language="+job.Language)
	}
	if job.Title != "" {
		args = append(args, fmt.Sprintf("-metadata:s:a:%d", job.OutputIndex), "title="+job.Title)
	}
	// The new track must not inherit the source's default flag.
	args = append(args, fmt.Sprintf("-disposition:a:%d", job.OutputIndex), "0")
	return append(args, outputArgs(output, "")...)
}

// videoEncoder maps a target codec name to the ffmpeg encoder.
func videoEncoder(codec string) string {
	switch strings.ToLower(codec) {
	case "hevc", "h265", "x265":
		return "libx265"
	case "av1":
		return "libsvtav1"
	case "h264", "avc", "x264":
		return "libx264"
	default:
		return codec
	}
}

// audioEncoder maps a target codec name to the ffmpeg encoder.
func audioEncoder(codec string) string {
	switch strings.ToLower(codec) {
	case "opus":
		return "libopus"
	case "aac":
		return "aac"
	case "eac3", "ddp":
		return "eac3"
	case "ac3":
		return "ac3"
	case "flac":
		return "flac"
	default:
		return codec
	}
}

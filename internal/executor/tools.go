package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"vpo/internal/logging"
	"vpo/internal/services"
)

// ToolSet runs the external tools that mutate media files. All mutating
// commands write to a temp output and atomically replace the original, so
// a killed tool never leaves a half-written file in the library.
type ToolSet struct {
	FFmpeg      string
	Mkvpropedit string
	Mkvmerge    string
	TempDir     string

	Logger *slog.Logger
	DryRun bool
}

// NewToolSet builds a runner from configured binary paths.
func NewToolSet(ffmpeg, mkvpropedit, mkvmerge, tempDir string, logger *slog.Logger) *ToolSet {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ToolSet{
		FFmpeg:      ffmpeg,
		Mkvpropedit: mkvpropedit,
		Mkvmerge:    mkvmerge,
		TempDir:     tempDir,
		Logger:      logger,
	}
}

// run executes one external command. Dry runs log the command and do
// nothing else.
func (t *ToolSet) run(ctx context.Context, binary string, args []string) error {
	t.Logger.Debug("external tool",
		logging.String("binary", binary),
		logging.String("args", strings.Join(args, " ")),
		logging.Bool("dry_run", t.DryRun),
	)
	if t.DryRun {
		return nil
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return services.Wrap(services.ErrCancelled, "executor", filepath.Base(binary), "", ctx.Err())
		}
		detail := strings.TrimSpace(string(output))
		if len(detail) > 2000 {
			detail = detail[len(detail)-2000:]
		}
		return services.Wrap(services.ErrExternalTool, "executor", filepath.Base(binary), detail, err)
	}
	return nil
}

// replaceWithTemp runs fn against a temp output path and atomically moves
// the result over the original on success.
func (t *ToolSet) replaceWithTemp(ctx context.Context, path string, fn func(tempOut string) error) error {
	if t.DryRun {
		return fn(path + ".dryrun")
	}
	dir := t.TempDir
	if dir == "" {
		dir = filepath.Dir(path)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure temp dir: %w", err)
	}
	tempOut := filepath.Join(dir, fmt.Sprintf(".vpo-%s-%s", pathToken(path), filepath.Base(path)))
	defer func() { _ = os.Remove(tempOut) }()

	if err := fn(tempOut); err != nil {
		return err
	}
	if err := replaceFile(tempOut, path); err != nil {
		return services.Wrap(services.ErrTransient, "executor", "replace", path, err)
	}
	return nil
}

// replaceFile moves src over dst, falling back to a verified copy when the
// temp dir sits on a different filesystem.
func replaceFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyVerified(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// Package executor applies planned mutations to media files through
// external tools, with verified backups so a failed phase can be rolled
// back to the pre-phase state.
package executor

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"vpo/internal/services"
)

// BackupManager creates and restores per-phase safety copies in the temp
// directory.
type BackupManager struct {
	TempDir string
}

// Backup is a verified safety copy of one file taken on phase entry.
type Backup struct {
	Original string
	Path     string
}

// Create copies the file into the temp directory under a name derived from
// the file and phase. The copy is hash-verified; a phase never starts on
// top of a corrupt backup.
func (m *BackupManager) Create(path, phase string) (*Backup, error) {
	if m.TempDir == "" {
		return nil, services.Wrap(services.ErrConfiguration, "executor", "backup", "temp dir not configured", nil)
	}
	if err := os.MkdirAll(m.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure temp dir: %w", err)
	}

	backupPath := filepath.Join(m.TempDir, fmt.Sprintf("%s.%s.%s.bak", filepath.Base(path), pathToken(path), phase))
	if err := copyVerified(path, backupPath); err != nil {
		return nil, services.Wrap(services.ErrTransient, "executor", "backup", path, err)
	}
	return &Backup{Original: path, Path: backupPath}, nil
}

// Restore puts the backup content back at the original path. Restoring
// twice is harmless: the backup is the fixed pre-phase state.
func (b *Backup) Restore() error {
	if b == nil {
		return nil
	}
	if err := copyVerified(b.Path, b.Original); err != nil {
		return services.Wrap(services.ErrTransient, "executor", "restore", b.Original, err)
	}
	return nil
}

// Discard removes the backup file after a successful commit.
func (b *Backup) Discard() error {
	if b == nil {
		return nil
	}
	if err := os.Remove(b.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discard backup: %w", err)
	}
	return nil
}

// pathToken derives a short stable identifier from the full file path.
// Same-named files in different directories processed in one batch must
// never share a backup or temp-output name.
func pathToken(path string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(path)))
	return hex.EncodeToString(sum[:4])
}

// copyVerified streams src to dst with SHA256 + size integrity checks and
// removes dst on mismatch.
func copyVerified(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	srcSize := srcInfo.Size()

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
	}()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	tee := io.TeeReader(in, srcHasher)
	multi := io.MultiWriter(out, dstHasher)

	written, err := io.Copy(multi, tee)
	if err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	if written != srcSize {
		_ = os.Remove(dst)
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcSize, written)
	}
	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		_ = os.Remove(dst)
		return fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}
	return nil
}

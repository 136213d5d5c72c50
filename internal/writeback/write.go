// Package writeback replaces whole files on disk for the flat-file store.
package writeback

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrMismatch is returned by Verify when the file no longer holds what was
// written.
var ErrMismatch = errors.New("content read back does not match")

// Replace swaps the content of path for content.
// The write is atomic: content is written to a temp file first, then renamed.
func Replace(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".simpledb-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("close temp: %w", err)
	}

	// Keep the permissions of the file being replaced.
	if info, err := os.Stat(path); err == nil {
		_ = os.Chmod(tmpName, info.Mode()) // best-effort permission sync
	} else {
		_ = os.Chmod(tmpName, 0o644)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("rename temp to %s: %w", path, err)
	}
	return nil
}

// Verify re-reads path and compares it with want. On a mismatch want is
// saved to a backup-<unix millis><ext> file next to path and the error names
// the backup.
func Verify(path string, want []byte) error {
	got, err := os.ReadFile(path)
	if err == nil && bytes.Equal(got, want) {
		return nil
	}

	backup := BackupPath(path, time.Now())
	if werr := Replace(backup, want); werr != nil {
		return fmt.Errorf("%w in %s; backup to %s failed: %w", ErrMismatch, path, backup, werr)
	}
	return fmt.Errorf("%w in %s; data saved in %s", ErrMismatch, path, backup)
}

// BackupPath names the backup file Verify writes for path at t.
func BackupPath(path string, t time.Time) string {
	ext := filepath.Ext(path)
	if ext == "" || strings.HasPrefix(filepath.Base(path), ext) {
		ext = ".json"
	}
	return filepath.Join(filepath.Dir(path), fmt.Sprintf("backup-%d%s", t.UnixMilli(), ext))
}

package persistence

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// AtomicFile stages writes in "<path>.tmp" and only replaces the target on Commit.
// Readers therefore see either the previous content or the complete new content.
type AtomicFile struct {
	path    string
	tmpPath string
	file    *os.File
	buf     *bufio.Writer
	done    bool
}

// CreateAtomic opens a staging file next to path, creating parent directories as needed.
func CreateAtomic(path string) (*AtomicFile, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	return &AtomicFile{
		path:    path,
		tmpPath: tmpPath,
		file:    f,
		buf:     bufio.NewWriterSize(f, 64*1024),
	}, nil
}

// Write implements io.Writer on the staging file.
func (a *AtomicFile) Write(p []byte) (int, error) {
	return a.buf.Write(p)
}

// Sync flushes buffered data and fsyncs the staging file without publishing it.
func (a *AtomicFile) Sync() error {
	if err := a.buf.Flush(); err != nil {
		return err
	}
	return a.file.Sync()
}

// Commit flushes, fsyncs, closes and renames the staging file over the target.
func (a *AtomicFile) Commit() error {
	if a.done {
		return fmt.Errorf("atomic file %s already finalized", a.path)
	}
	a.done = true

	if err := a.Sync(); err != nil {
		_ = a.file.Close()
		_ = os.Remove(a.tmpPath)
		return fmt.Errorf("failed to flush %s: %w", a.tmpPath, err)
	}
	if err := a.file.Close(); err != nil {
		_ = os.Remove(a.tmpPath)
		return fmt.Errorf("failed to close %s: %w", a.tmpPath, err)
	}
	if err := os.Rename(a.tmpPath, a.path); err != nil {
		_ = os.Remove(a.tmpPath)
		return fmt.Errorf("failed to publish %s: %w", a.path, err)
	}
	return nil
}

// Abort discards the staging file. It is safe to call after Commit.
func (a *AtomicFile) Abort() {
	if a.done {
		return
	}
	a.done = true
	_ = a.file.Close()
	_ = os.Remove(a.tmpPath)
}

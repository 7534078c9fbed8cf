// Package fileutil writes artifacts so that readers only ever see a complete
// file: the old file stays in place until the new one is durable.
package fileutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Staged is a fully written and synced temp file waiting to be renamed
// over its final path.
type Staged struct {
	tmp   string
	final string
	done  bool
}

// Stage streams write into a temp file next to path and syncs it. On any
// error the temp file is removed and path is left untouched.
func Stage(path string, write func(io.Writer) error) (*Staged, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err := write(tmp); err != nil {
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return nil, fmt.Errorf("chmod temp file: %w", err)
	}
	ok = true
	return &Staged{tmp: tmpName, final: path}, nil
}

// Commit renames the temp file into place.
func (s *Staged) Commit() error {
	if s.done {
		return nil
	}
	if err := os.Rename(s.tmp, s.final); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	s.done = true
	return nil
}

// Discard removes the temp file if it was not committed.
func (s *Staged) Discard() {
	if s == nil || s.done {
		return
	}
	os.Remove(s.tmp)
	s.done = true
}

// Path is the final destination.
func (s *Staged) Path() string { return s.final }

// WriteAtomic stages and commits one file.
func WriteAtomic(path string, write func(io.Writer) error) error {
	s, err := Stage(path, write)
	if err != nil {
		return err
	}
	if err := s.Commit(); err != nil {
		s.Discard()
		return err
	}
	return nil
}

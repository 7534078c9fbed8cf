// Package scorejson appends score records to a JSON lines file.
package scorejson

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"auditrisk/internal/logger"
	"auditrisk/pkg/models"
)

// Writer appends one JSON object per record. Output survives restarts;
// existing lines are never truncated.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
}

// NewWriter opens path for appending, creating parent directories.
func NewWriter(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}

	buf := bufio.NewWriter(f)
	logger.Infof("Score JSON writer initialized: %s", path)
	return &Writer{file: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

// WriteScores appends a batch and flushes it to the file.
func (w *Writer) WriteScores(records []models.ScoreRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("score writer is closed")
	}
	for i := range records {
		if err := w.enc.Encode(&records[i]); err != nil {
			return fmt.Errorf("failed to encode score record: %w", err)
		}
	}
	return w.buf.Flush()
}

// Close flushes and closes the output file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	ferr := w.buf.Flush()
	cerr := w.file.Close()
	w.file = nil
	if ferr != nil {
		return ferr
	}
	return cerr
}

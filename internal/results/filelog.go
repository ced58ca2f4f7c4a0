// Package results persists extracted document records as a JSON array file.
package results

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kalambet/sdsx/internal/pipeline"
)

// FileLog appends records to a JSON array file by rewriting the whole file.
// Appends within one process are serialized; separate processes writing
// the same file can lose records.
type FileLog struct {
	path string
	mu   sync.Mutex
}

// NewFileLog returns a FileLog at path. The file is created on first append.
func NewFileLog(path string) *FileLog {
	return &FileLog{path: path}
}

func (l *FileLog) Path() string { return l.path }

// Append adds rec to the end of the array.
func (l *FileLog) Append(rec *pipeline.DocumentRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.read()
	if err != nil {
		return err
	}
	return l.write(append(entries, b))
}

// List returns every stored record in append order.
func (l *FileLog) List() ([]*pipeline.DocumentRecord, error) {
	l.mu.Lock()
	entries, err := l.read()
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]*pipeline.DocumentRecord, 0, len(entries))
	for i, e := range entries {
		var rec pipeline.DocumentRecord
		if err := json.Unmarshal(e, &rec); err != nil {
			return nil, fmt.Errorf("results entry %d: %w", i, err)
		}
		out = append(out, &rec)
	}
	return out, nil
}

func (l *FileLog) read() ([]json.RawMessage, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading results: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("results file %s is not a JSON array: %w", l.path, err)
	}
	return entries, nil
}

// write replaces the file through a temp file in the same directory, so a
// crash leaves either the old or the new array.
func (l *FileLog) write(entries []json.RawMessage) error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating results dir: %w", err)
	}

	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".results-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing results: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing results: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing results: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("replacing results: %w", err)
	}
	return nil
}

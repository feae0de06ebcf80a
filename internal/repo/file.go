package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// FileBackend keeps the document as an indented JSON file, replaced atomically.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend writing to path. The parent directory is created on demand.
func NewFileBackend(path string) (*FileBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("file store path is empty")
	}
	return &FileBackend{path: filepath.Clean(path)}, nil
}

func (b *FileBackend) Name() string { return "file" }

// Load reads the document; a missing file yields an empty document.
func (b *FileBackend) Load(_ context.Context) (*Document, error) {
	raw, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDocument(), nil
		}
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return NewDocument(), nil
	}
	doc := NewDocument()
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", b.path, err)
	}
	doc.normalize()
	return doc, nil
}

// Save replaces the file atomically: readers see the old or the new document, never a torn one.
func (b *FileBackend) Save(_ context.Context, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return writeAtomic(b.path, data)
}

func (b *FileBackend) Close() error { return nil }

func writeAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure dir %s: %w", dir, err)
	}
	if err := renameio.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

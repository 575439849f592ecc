package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/kiranshivaraju/trustgate/internal/apperr"
)

// DocumentLoader returns the text of a stored document.
type DocumentLoader interface {
	Load(ctx context.Context, path string) (string, error)
}

// FileLoader reads documents from a directory. Paths in job payloads are
// relative to Root and may not escape it.
type FileLoader struct {
	Root string
}

// Load reads path under the loader's root. A missing or unreadable file is
// permanent; other I/O failures are retried.
func (l FileLoader) Load(_ context.Context, path string) (string, error) {
	full, err := l.resolve(path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return "", apperr.Permanent(fmt.Errorf("reading document %s: %w", path, err))
		}
		return "", apperr.Transient(err, "reading document %s", path)
	}
	if !utf8.Valid(data) {
		return "", apperr.Permanent(fmt.Errorf("document %s is not UTF-8 text", path))
	}
	return string(data), nil
}

func (l FileLoader) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", apperr.Permanent(errors.New("document path is empty"))
	}
	rel := filepath.Clean(strings.TrimPrefix(filepath.ToSlash(path), "/"))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") || filepath.IsAbs(rel) {
		return "", apperr.Permanent(fmt.Errorf("document path %q escapes the document root", path))
	}
	return filepath.Join(l.Root, rel), nil
}

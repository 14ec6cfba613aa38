// Package document loads full source documents for full-content substitution.
package document

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"knowledge-assistant-be/internal/repository/memory"
	"knowledge-assistant-be/pkg/rag/retrieval"
)

// maxDocumentBytes bounds what a single substitution may pull into a prompt.
const maxDocumentBytes = 512 * 1024

// FileLoader reads documents from the local filesystem, restricted to root.
type FileLoader struct {
	root  string
	cache *memory.DocumentCache
}

var _ retrieval.DocumentLoader = &FileLoader{}

func NewFileLoader(root string, cache *memory.DocumentCache) *FileLoader {
	return &FileLoader{root: root, cache: cache}
}

func (l *FileLoader) LoadFullDocument(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	resolved, err := l.resolve(path)
	if err != nil {
		return "", err
	}

	if l.cache != nil {
		if content, ok := l.cache.Get(resolved); ok {
			return content, nil
		}
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", path, retrieval.ErrDocumentNotFound)
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory: %w", path, retrieval.ErrDocumentNotFound)
	}
	if info.Size() > maxDocumentBytes {
		return "", fmt.Errorf("%s is %d bytes, over the %d byte limit", path, info.Size(), maxDocumentBytes)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	content := string(data)
	if l.cache != nil {
		l.cache.Save(resolved, content)
	}
	return content, nil
}

// resolve maps path into the root. Absolute paths must already live under it.
func (l *FileLoader) resolve(path string) (string, error) {
	if l.root == "" {
		return filepath.Clean(path), nil
	}
	root := filepath.Clean(l.root)

	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(root, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the document root: %w", path, retrieval.ErrDocumentNotFound)
	}
	return candidate, nil
}

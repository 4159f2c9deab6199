package objectstore

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mindease/mindease/errors"
)

// MemBackend keeps objects in memory. Intended for tests and development.
type MemBackend struct {
	mu    sync.RWMutex
	files map[string]memObject
}

type memObject struct {
	data        []byte
	contentType string
}

// NewMemBackend returns an empty MemBackend.
func NewMemBackend() *MemBackend {
	return &MemBackend{files: map[string]memObject{}}
}

func (b *MemBackend) Upload(_ context.Context, p string, data []byte, contentType string) (string, error) {
	p, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files[p] = memObject{data: append([]byte(nil), data...), contentType: contentType}
	return "mem://" + p, nil
}

func (b *MemBackend) Get(_ context.Context, p string) ([]byte, string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.files[p]
	if !ok {
		return nil, "", errors.Mark(ErrNotFound, 0).Append(p)
	}
	return o.data, o.contentType, nil
}

func (b *MemBackend) Delete(_ context.Context, p string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.files[p]; !ok {
		return errors.Mark(ErrNotFound, 0).Append(p)
	}
	delete(b.files, p)
	return nil
}

// Paths returns the paths of all stored objects.
func (b *MemBackend) Paths() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.files))
	for p := range b.files {
		out = append(out, p)
	}
	return out
}

// FSBackend stores objects on the local filesystem.
type FSBackend struct {
	rootDir string
	baseURL string
}

// NewFSBackend returns a backend writing below rootDir. Addresses are built
// from baseURL, or are file:// URLs when it is empty.
func NewFSBackend(rootDir, baseURL string) *FSBackend {
	return &FSBackend{rootDir: rootDir, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (b *FSBackend) Upload(_ context.Context, p string, data []byte, _ string) (string, error) {
	p, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	full := filepath.Join(b.rootDir, filepath.FromSlash(p))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", errors.WrapPrefix(err, "objectstore: failed to create directory", 0)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil { //nolint:gosec // Objects are public.
		return "", errors.WrapPrefix(err, "objectstore: failed to write file", 0)
	}
	if b.baseURL != "" {
		return b.baseURL + "/" + p, nil
	}
	abs, err := filepath.Abs(full)
	if err != nil {
		return "", errors.Wrap(err, 0)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

func (b *FSBackend) Get(_ context.Context, p string) ([]byte, string, error) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(filepath.Join(b.rootDir, filepath.FromSlash(p)))
	if os.IsNotExist(err) {
		return nil, "", errors.Mark(ErrNotFound, 0).Append(p)
	}
	if err != nil {
		return nil, "", errors.WrapPrefix(err, "objectstore: failed to read file", 0)
	}
	return data, http.DetectContentType(data), nil
}

func (b *FSBackend) Delete(_ context.Context, p string) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(b.rootDir, filepath.FromSlash(p)))
	if os.IsNotExist(err) {
		return errors.Mark(ErrNotFound, 0).Append(p)
	}
	return errors.MaybeWrap(err, 0)
}

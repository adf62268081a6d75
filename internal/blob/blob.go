// Package blob stores opaque binary artifacts (documents, QR images,
// certificates, memories) and hands back string handles.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown handles.
var ErrNotFound = errors.New("blob not found")

type Store interface {
	Put(ctx context.Context, kind, name string, data []byte) (string, error)
	Get(ctx context.Context, handle string) ([]byte, error)
	Delete(ctx context.Context, handle string) error
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// NewHandle builds "<kind>/<uuid>-<sanitised name>".
func NewHandle(kind, name string) string {
	name = unsafeName.ReplaceAllString(filepath.Base(name), "_")
	if name == "" || name == "." {
		name = "blob"
	}
	return path.Join(kind, uuid.NewString()+"-"+name)
}

// ---------------- FILESYSTEM ----------------

// FS keeps blobs under a root directory.
type FS struct {
	Root string
}

func NewFS(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FS{Root: root}, nil
}

func (s *FS) resolve(handle string) (string, error) {
	clean := path.Clean("/" + handle)
	if clean == "/" || strings.Contains(handle, "..") {
		return "", fmt.Errorf("invalid blob handle %q", handle)
	}
	return filepath.Join(s.Root, filepath.FromSlash(clean)), nil
}

func (s *FS) Put(ctx context.Context, kind, name string, data []byte) (string, error) {
	handle := NewHandle(kind, name)
	p, err := s.resolve(handle)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("put blob: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("put blob: %w", err)
	}
	return handle, nil
}

func (s *FS) Get(ctx context.Context, handle string) ([]byte, error) {
	p, err := s.resolve(handle)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *FS) Delete(ctx context.Context, handle string) error {
	p, err := s.resolve(handle)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// ---------------- MEMORY ----------------

// Memory is an in-process Store used by tests.
type Memory struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Put(ctx context.Context, kind, name string, data []byte) (string, error) {
	handle := NewHandle(kind, name)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[handle] = append([]byte(nil), data...)
	return handle, nil
}

func (m *Memory) Get(ctx context.Context, handle string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[handle]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Delete(ctx context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, handle)
	return nil
}

// Len reports how many blobs are stored.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}

// Has reports whether handle exists.
func (m *Memory) Has(handle string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[handle]
	return ok
}

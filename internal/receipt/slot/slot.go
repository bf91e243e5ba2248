// Package slot provides the single storage slot local receipts live in.
package slot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"klarogeo/internal/sentinel"
)

// Slot holds one opaque value, overwritten atomically by Store. Load returns
// sentinel.ErrNotFound when nothing has been stored.
type Slot interface {
	Load(ctx context.Context) ([]byte, error)
	Store(ctx context.Context, value []byte) error
}

// Memory is an in-process slot.
type Memory struct {
	mu    sync.RWMutex
	value []byte
	set   bool
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(_ context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.set {
		return nil, sentinel.ErrNotFound
	}
	return append([]byte(nil), m.value...), nil
}

func (m *Memory) Store(_ context.Context, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = append([]byte(nil), value...)
	m.set = true
	return nil
}

// File is a slot backed by one file, replaced by rename on every Store.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Load(_ context.Context) ([]byte, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read receipt slot: %w", err)
	}
	return raw, nil
}

func (f *File) Store(_ context.Context, value []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create receipt slot temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("write receipt slot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close receipt slot: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace receipt slot: %w", err)
	}
	return nil
}

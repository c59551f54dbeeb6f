package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LocalStorage drops artifacts into a scratch directory. It is the
// fallback when no object store is configured.
type LocalStorage struct {
	dir string
}

func NewLocalStorage(dir string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}
	return &LocalStorage{dir: dir}, nil
}

func (s *LocalStorage) Store(_ context.Context, captureID, name, _ string, data []byte) error {
	dir := filepath.Join(s.dir, captureID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}

func (s *LocalStorage) URL(_ context.Context, captureID, name string, _ time.Duration) (string, error) {
	return "file://" + filepath.Join(s.dir, captureID, name), nil
}

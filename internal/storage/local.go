package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dictor/get621/internal/e621"
)

// Local stores saved files under a base directory.
type Local struct {
	basePath string
}

func NewLocal(basePath string) (*Local, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, e621.FileSystemError(fmt.Errorf("creating %s: %w", basePath, err))
	}
	return &Local{basePath: basePath}, nil
}

func (s *Local) Path(name string) string {
	return filepath.Join(s.basePath, name)
}

func (s *Local) Create(name string) (*os.File, error) {
	f, err := os.Create(s.Path(name))
	if err != nil {
		return nil, e621.FileSystemError(err)
	}
	return f, nil
}

// Discard removes a partially written file.
func (s *Local) Discard(name string) {
	_ = os.Remove(s.Path(name))
}

// Package persist implements the local filesystem Persistor.
package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/pattadon/sitemark/internal/pipeline"
)

// Store writes harvested documents into a single output directory. Name
// reservation is serialized with a mutex so concurrent saves can never race
// onto the same path.
type Store struct {
	dir    string
	logger *zap.Logger

	mu sync.Mutex
}

// NewStore creates the output directory if needed and verifies it is
// writable before accepting work.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("%w: empty output directory", pipeline.ErrDirectoryUnavailable)
	}

	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("%w: create %s: %v", pipeline.ErrDirectoryUnavailable, dir, mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("%w: stat %s: %v", pipeline.ErrDirectoryUnavailable, dir, err)
	case !info.IsDir():
		return nil, fmt.Errorf("%w: %s is not a directory", pipeline.ErrDirectoryUnavailable, dir)
	}

	probe := filepath.Join(dir, ".writable_test")
	if err := os.WriteFile(probe, []byte("probe"), 0o600); err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", pipeline.ErrPermissionDenied, dir)
		}
		return nil, fmt.Errorf("%w: %s: %v", pipeline.ErrDirectoryUnavailable, dir, err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("%w: cleanup probe: %v", pipeline.ErrDirectoryUnavailable, err)
	}

	return &Store{dir: dir, logger: logger}, nil
}

// Save writes content under name, resolving collisions by appending _{n}
// before the extension until the path is unused. Returns the final path.
func (s *Store) Save(ctx context.Context, name string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("save canceled: %w", err)
	}
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: empty file name", pipeline.ErrWriteFailed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.reserveName(name)
	if err := os.WriteFile(target, content, 0o600); err != nil {
		if os.IsPermission(err) {
			return "", fmt.Errorf("%w: %s", pipeline.ErrPermissionDenied, target)
		}
		return "", fmt.Errorf("%w: %s: %v", pipeline.ErrWriteFailed, target, err)
	}
	s.logger.Debug("File written", zap.String("path", target), zap.Int("bytes", len(content)))
	return target, nil
}

// reserveName returns the first unused path for name. Callers must hold mu.
func (s *Store) reserveName(name string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := filepath.Join(s.dir, name)
	for n := 1; ; n++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = filepath.Join(s.dir, fmt.Sprintf("%s_%d%s", stem, n, ext))
	}
}

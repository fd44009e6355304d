package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LocalStorage keeps rendered attendance exports on disk so that signed
// download links stay valid after the response that produced them.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage creates the archive directory if needed.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./exports"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

// Save writes an export under the archive. relPath may contain
// subdirectories, which are created on demand.
func (s *LocalStorage) Save(relPath string, data []byte) (string, error) {
	target := s.resolve(relPath)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("prepare archive directory: %w", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("archive export: %w", err)
	}
	return relPath, nil
}

// Open returns a read handle for an archived export.
func (s *LocalStorage) Open(relPath string) (*os.File, error) {
	f, err := os.Open(s.resolve(relPath))
	if err != nil {
		return nil, fmt.Errorf("open archived export: %w", err)
	}
	return f, nil
}

// Delete removes an archived export. Missing files are not an error.
func (s *LocalStorage) Delete(relPath string) error {
	if err := os.Remove(s.resolve(relPath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete archived export: %w", err)
	}
	return nil
}

// CleanupOlderThan removes exports whose download window has passed and
// reports how many files were deleted.
func (s *LocalStorage) CleanupOlderThan(ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl)
	removed := 0
	err := filepath.WalkDir(s.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("cleanup archive: %w", err)
	}
	return removed, nil
}

func (s *LocalStorage) resolve(relPath string) string {
	return filepath.Join(s.baseDir, relPath)
}

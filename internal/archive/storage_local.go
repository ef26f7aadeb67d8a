package archive

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// snapshotKey partitions snapshots by export year and month so bucket
// listings and directory trees stay browsable as the archive grows.
func snapshotKey(id string) string {
	now := time.Now()
	return path.Join(fmt.Sprintf("%d", now.Year()), fmt.Sprintf("%02d", now.Month()), path.Base(id)+".json")
}

// LocalStore keeps audit snapshots on the local filesystem under baseDir.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates a store rooted at baseDir.
func NewLocalStore(baseDir string) *LocalStore {
	return &LocalStore{baseDir: baseDir}
}

// Save writes a snapshot file and returns its path relative to baseDir.
func (s *LocalStore) Save(id string, r io.Reader) (string, error) {
	relPath := filepath.FromSlash(snapshotKey(id))

	absPath, err := s.resolve(relPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", filepath.Dir(absPath), err)
	}

	f, err := os.Create(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file %s: %w", absPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(absPath)
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	return relPath, nil
}

// Get opens the snapshot file at the given relative path.
func (s *LocalStore) Get(storagePath string) (io.ReadCloser, error) {
	absPath, err := s.resolve(storagePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	return f, nil
}

// Delete removes the snapshot file. A missing file is not an error.
func (s *LocalStore) Delete(storagePath string) error {
	absPath, err := s.resolve(storagePath)
	if err != nil {
		return err
	}
	if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// resolve joins a storage path to baseDir and rejects anything that would
// escape it.
func (s *LocalStore) resolve(storagePath string) (string, error) {
	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return "", fmt.Errorf("invalid base dir: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(absBase, filepath.Clean(storagePath)))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	if absPath != absBase && !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %s", storagePath)
	}
	return absPath, nil
}

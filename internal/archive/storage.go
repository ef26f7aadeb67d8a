// Package archive stores exported audit-log snapshots on the local
// filesystem or in an S3-compatible object store.
package archive

import (
	"fmt"
	"io"

	"github.com/truenamepath/truename/internal/config"
)

// Store abstracts audit snapshot file storage.
type Store interface {
	// Save writes a snapshot from the reader and returns the storage path.
	Save(id string, r io.Reader) (storagePath string, err error)

	// Get returns a ReadCloser for the snapshot at the given storage path.
	Get(storagePath string) (io.ReadCloser, error)

	// Delete removes the snapshot at the given storage path.
	Delete(storagePath string) error
}

// NewStore builds the configured archive backend.
func NewStore(cfg *config.Config) (Store, error) {
	switch cfg.ArchiveBackend {
	case "local":
		return NewLocalStore(cfg.ArchivePath), nil
	case "s3":
		return NewS3Store(cfg.ArchiveS3Bucket, cfg.ArchiveS3Region, cfg.ArchiveS3Endpoint,
			cfg.ArchiveS3Prefix, cfg.ArchiveS3AccessKey, cfg.ArchiveS3SecretKey)
	default:
		return nil, fmt.Errorf("unsupported archive backend: %s", cfg.ArchiveBackend)
	}
}

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackmelt/cargohold/internal/config"
)

// RemoteEntry is one object in a remote listing.
type RemoteEntry struct {
	ModTime time.Time `json:"mod_time"`
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
}

// Remote abstracts the configured backup destination. Implementations:
// rclone (subprocess) and S3 (minio client).
type Remote interface {
	// Copy uploads localPath as name under the configured destination.
	Copy(ctx context.Context, localPath, name string) error
	// List enumerates objects under the configured destination.
	List(ctx context.Context) ([]RemoteEntry, error)
	// Delete removes one object by name.
	Delete(ctx context.Context, name string) error
	// Fetch downloads an object by name into localPath.
	Fetch(ctx context.Context, name, localPath string) error
}

// NewRemote builds the Remote selected by storage.backend.
func NewRemote(cfg *config.Config, log zerolog.Logger) (Remote, error) {
	switch cfg.Storage.Backend {
	case "rclone":
		return NewRcloneRemote(cfg, log), nil
	case "s3":
		return NewS3Remote(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

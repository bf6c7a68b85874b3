package services

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/stackmelt/cargohold/internal/config"
	"github.com/stackmelt/cargohold/internal/models"
)

// Uploader transfers a finished archive to the remote.
type Uploader interface {
	Upload(ctx context.Context, a *models.Archive) error
}

// SyncService uploads archives with bounded retries, verifies the remote copy
// and deletes the local file only once the transfer is proven. The local
// spool is a cache; the remote is the durable copy.
type SyncService struct {
	cfg    *config.Config
	remote Remote
	log    zerolog.Logger
}

// NewSyncService creates a SyncService.
func NewSyncService(cfg *config.Config, remote Remote, log zerolog.Logger) *SyncService {
	return &SyncService{cfg: cfg, remote: remote, log: log}
}

// Upload copies the archive to the remote, verifies existence and size, and
// on verified success removes the local file. Any failure preserves the local
// archive and returns an UploadError.
func (s *SyncService) Upload(ctx context.Context, a *models.Archive) error {
	attempts := s.cfg.Sync.GetAttempts()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Sync.GetTimeout())
	defer cancel()

	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(s.cfg.Sync.GetBackoff()))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := s.remote.Copy(ctx, a.Path, a.Name); err != nil {
			s.log.Warn().Err(err).Str("archive", a.Name).Msg("upload attempt failed")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return &UploadError{Archive: a.Name, Attempts: attempts, Err: err}
	}

	if err := s.verify(ctx, a); err != nil {
		return &UploadError{Archive: a.Name, Attempts: attempts, Err: err}
	}

	if err := os.Remove(a.Path); err != nil {
		// The backup is durable; a stale spool file is only a retention
		// problem.
		s.log.Warn().Err(err).Str("archive", a.Name).Msg("verified upload but local delete failed")
		return nil
	}

	s.log.Info().Str("archive", a.Name).Int64("size", a.Size).Msg("archive uploaded and verified, local copy removed")
	return nil
}

// verify proves the remote object exists with the local file's size.
func (s *SyncService) verify(ctx context.Context, a *models.Archive) error {
	entries, err := s.remote.List(ctx)
	if err != nil {
		return fmt.Errorf("verify listing: %w", err)
	}

	for _, e := range entries {
		if e.Name != a.Name {
			continue
		}
		if e.Size != a.Size {
			return fmt.Errorf("size mismatch: local %d bytes, remote %d bytes", a.Size, e.Size)
		}
		return nil
	}
	return fmt.Errorf("object %s not found on remote after upload", a.Name)
}

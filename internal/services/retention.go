package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackmelt/cargohold/internal/config"
)

// PruneResult summarizes one retention sweep.
type PruneResult struct {
	LocalDeleted  int `json:"local_deleted"`
	RemoteDeleted int `json:"remote_deleted"`
	Skipped       int `json:"skipped"`
	Failed        int `json:"failed"`
}

// Deleted is the total number of removed entries.
func (r PruneResult) Deleted() int { return r.LocalDeleted + r.RemoteDeleted }

// Pruner deletes backups older than the configured age.
type Pruner interface {
	Prune(ctx context.Context) (PruneResult, error)
}

// RetentionService sweeps the local spool and the remote, deleting archives
// strictly older than retention.max_age_days. Each deletion is best-effort:
// one failure is logged and the sweep continues.
type RetentionService struct {
	cfg      *config.Config
	remote   Remote
	inFlight *InFlightSet
	log      zerolog.Logger

	// now is swappable for age-cutoff tests.
	now func() time.Time
}

// NewRetentionService creates a RetentionService.
func NewRetentionService(cfg *config.Config, remote Remote, inFlight *InFlightSet, log zerolog.Logger) *RetentionService {
	return &RetentionService{cfg: cfg, remote: remote, inFlight: inFlight, log: log, now: time.Now}
}

// Prune deletes over-age archives locally and remotely. The returned error is
// only non-nil when the remote could not be listed at all; per-entry failures
// are counted in the result.
func (s *RetentionService) Prune(ctx context.Context) (PruneResult, error) {
	cutoff := s.now().Add(-time.Duration(s.cfg.Retention.MaxAgeDays) * 24 * time.Hour)
	var res PruneResult

	s.pruneLocal(cutoff, &res)

	entries, err := s.remote.List(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("retention sweep could not list remote")
		return res, err
	}
	for _, e := range entries {
		if !s.eligible(e.Name, e.ModTime, cutoff, &res) {
			continue
		}
		if err := s.remote.Delete(ctx, e.Name); err != nil {
			res.Failed++
			s.log.Warn().Err(&PruneEntryError{Entry: e.Name, Err: err}).Msg("remote prune entry failed")
			continue
		}
		res.RemoteDeleted++
		s.log.Info().Str("archive", e.Name).Msg("pruned remote archive")
	}

	return res, nil
}

func (s *RetentionService) pruneLocal(cutoff time.Time, res *PruneResult) {
	dirEntries, err := os.ReadDir(s.cfg.Archive.Dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Msg("retention sweep could not list local spool")
		}
		return
	}

	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ArchiveSuffix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			res.Failed++
			continue
		}
		if !s.eligible(de.Name(), info.ModTime(), cutoff, res) {
			continue
		}
		if err := os.Remove(filepath.Join(s.cfg.Archive.Dir, de.Name())); err != nil {
			res.Failed++
			s.log.Warn().Err(&PruneEntryError{Entry: de.Name(), Err: err}).Msg("local prune entry failed")
			continue
		}
		res.LocalDeleted++
		s.log.Info().Str("archive", de.Name()).Msg("pruned local archive")
	}
}

// eligible applies the strict-age cutoff and the in-flight guard.
func (s *RetentionService) eligible(name string, modTime, cutoff time.Time, res *PruneResult) bool {
	if !modTime.Before(cutoff) {
		return false
	}
	if s.inFlight.Contains(name) {
		res.Skipped++
		s.log.Debug().Str("archive", name).Msg("retention skipping in-flight archive")
		return false
	}
	return true
}

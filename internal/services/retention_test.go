package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackmelt/cargohold/internal/config"
)

func newRetentionTestService(t *testing.T, remote Remote, maxAgeDays int) (*RetentionService, *InFlightSet, string) {
	t.Helper()

	cfg := config.Default()
	cfg.Archive.Dir = t.TempDir()
	cfg.Retention.MaxAgeDays = maxAgeDays

	inFlight := NewInFlightSet()
	svc := NewRetentionService(cfg, remote, inFlight, zerolog.Nop())
	return svc, inFlight, cfg.Archive.Dir
}

func writeSpoolArchive(t *testing.T, dir, name string, modTime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("x"), 0640); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
}

func TestRetentionService_StrictAgeCutoff(t *testing.T) {
	remote := newFakeRemote()
	svc, _, spool := newRetentionTestService(t, remote, 7)

	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	cutoff := now.Add(-7 * 24 * time.Hour)

	old := "old" + ArchiveSuffix
	exact := "exact" + ArchiveSuffix
	fresh := "fresh" + ArchiveSuffix
	writeSpoolArchive(t, spool, old, cutoff.Add(-time.Hour))
	writeSpoolArchive(t, spool, exact, cutoff)
	writeSpoolArchive(t, spool, fresh, cutoff.Add(time.Hour))

	remote.put("remote-old"+ArchiveSuffix, 1, cutoff.Add(-time.Minute))
	remote.put("remote-fresh"+ArchiveSuffix, 1, now)

	res, err := svc.Prune(context.Background())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}

	if res.LocalDeleted != 1 {
		t.Errorf("expected 1 local deletion, got %d", res.LocalDeleted)
	}
	if res.RemoteDeleted != 1 {
		t.Errorf("expected 1 remote deletion, got %d", res.RemoteDeleted)
	}

	if _, err := os.Stat(filepath.Join(spool, old)); !os.IsNotExist(err) {
		t.Error("over-age archive should be deleted")
	}
	// An archive exactly at the cutoff is not strictly older and stays.
	if _, err := os.Stat(filepath.Join(spool, exact)); err != nil {
		t.Error("archive exactly at cutoff must be kept")
	}
	if _, err := os.Stat(filepath.Join(spool, fresh)); err != nil {
		t.Error("fresh archive must be kept")
	}
	if remote.has("remote-old" + ArchiveSuffix) {
		t.Error("over-age remote archive should be deleted")
	}
	if !remote.has("remote-fresh" + ArchiveSuffix) {
		t.Error("fresh remote archive must be kept")
	}
}

func TestRetentionService_SkipsInFlightArchives(t *testing.T) {
	remote := newFakeRemote()
	svc, inFlight, spool := newRetentionTestService(t, remote, 7)

	now := time.Now()
	svc.now = func() time.Time { return now }

	name := "running" + ArchiveSuffix
	writeSpoolArchive(t, spool, name, now.Add(-30*24*time.Hour))
	inFlight.Add(name)

	res, err := svc.Prune(context.Background())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}

	if res.Skipped != 1 {
		t.Errorf("expected 1 skipped entry, got %d", res.Skipped)
	}
	if _, err := os.Stat(filepath.Join(spool, name)); err != nil {
		t.Error("in-flight archive must never be pruned")
	}
}

func TestRetentionService_PerEntryFailuresDoNotAbortSweep(t *testing.T) {
	remote := newFakeRemote()
	svc, _, _ := newRetentionTestService(t, remote, 7)

	now := time.Now()
	svc.now = func() time.Time { return now }

	remote.put("a"+ArchiveSuffix, 1, now.Add(-30*24*time.Hour))
	remote.put("b"+ArchiveSuffix, 1, now.Add(-30*24*time.Hour))
	remote.deleteErr = errors.New("permission denied")

	res, err := svc.Prune(context.Background())
	if err != nil {
		t.Fatalf("per-entry failures must not fail the sweep: %v", err)
	}
	if res.Failed != 2 {
		t.Errorf("expected 2 failed entries, got %d", res.Failed)
	}
	if len(remote.deleteCalls) != 2 {
		t.Errorf("expected both deletions attempted, got %d", len(remote.deleteCalls))
	}
}

func TestRetentionService_RemoteListFailureReturnsError(t *testing.T) {
	remote := newFakeRemote()
	remote.listErr = errors.New("remote unreachable")
	svc, _, spool := newRetentionTestService(t, remote, 7)

	now := time.Now()
	svc.now = func() time.Time { return now }
	writeSpoolArchive(t, spool, "old"+ArchiveSuffix, now.Add(-30*24*time.Hour))

	res, err := svc.Prune(context.Background())
	if err == nil {
		t.Fatal("expected error when the remote cannot be listed")
	}
	// The local sweep still ran.
	if res.LocalDeleted != 1 {
		t.Errorf("expected local sweep to proceed, got %d deletions", res.LocalDeleted)
	}
}

func TestRetentionService_IgnoresForeignFiles(t *testing.T) {
	remote := newFakeRemote()
	svc, _, spool := newRetentionTestService(t, remote, 7)

	now := time.Now()
	svc.now = func() time.Time { return now }

	old := now.Add(-30 * 24 * time.Hour)
	writeSpoolArchive(t, spool, "notes.txt", old)

	res, err := svc.Prune(context.Background())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if res.LocalDeleted != 0 {
		t.Errorf("non-archive files must be left alone, deleted %d", res.LocalDeleted)
	}
	if _, err := os.Stat(filepath.Join(spool, "notes.txt")); err != nil {
		t.Error("foreign file was removed")
	}
}

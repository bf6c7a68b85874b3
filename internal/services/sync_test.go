package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/stackmelt/cargohold/internal/config"
	"github.com/stackmelt/cargohold/internal/models"
)

func newSyncTestArchive(t *testing.T) *models.Archive {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "paperless-20260826-030000-abcd1234"+ArchiveSuffix)
	content := []byte("encrypted archive bytes")
	if err := os.WriteFile(path, content, 0640); err != nil {
		t.Fatalf("write archive: %v", err)
	}

	return &models.Archive{
		Path: path,
		Name: filepath.Base(path),
		Size: int64(len(content)),
	}
}

func newSyncTestService(remote Remote) *SyncService {
	cfg := config.Default()
	cfg.Sync.Attempts = 3
	cfg.Sync.Backoff = "1ms"
	cfg.Sync.Timeout = "5s"
	return NewSyncService(cfg, remote, zerolog.Nop())
}

func TestSyncService_VerifiedUploadRemovesLocal(t *testing.T) {
	remote := newFakeRemote()
	svc := newSyncTestService(remote)
	a := newSyncTestArchive(t)

	if err := svc.Upload(context.Background(), a); err != nil {
		t.Fatalf("upload: %v", err)
	}

	if !remote.has(a.Name) {
		t.Error("archive not present on remote after upload")
	}
	if _, err := os.Stat(a.Path); !os.IsNotExist(err) {
		t.Error("local archive should be removed after verified upload")
	}
}

func TestSyncService_SizeMismatchRetainsLocal(t *testing.T) {
	remote := newFakeRemote()
	svc := newSyncTestService(remote)
	a := newSyncTestArchive(t)

	remote.sizeOverride[a.Name] = a.Size + 1

	err := svc.Upload(context.Background(), a)
	if err == nil {
		t.Fatal("expected upload verification to fail on size mismatch")
	}
	var upErr *UploadError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UploadError, got %T", err)
	}

	if _, err := os.Stat(a.Path); err != nil {
		t.Error("local archive must be preserved when verification fails")
	}
}

func TestSyncService_RetriesTransientFailures(t *testing.T) {
	remote := newFakeRemote()
	remote.copyErrs = []error{errors.New("connection reset"), errors.New("timeout")}
	svc := newSyncTestService(remote)
	a := newSyncTestArchive(t)

	if err := svc.Upload(context.Background(), a); err != nil {
		t.Fatalf("expected third attempt to succeed, got %v", err)
	}
	if remote.copyCalls != 3 {
		t.Errorf("expected 3 copy attempts, got %d", remote.copyCalls)
	}
}

func TestSyncService_ExhaustedRetriesFail(t *testing.T) {
	remote := newFakeRemote()
	remote.copyErrs = []error{
		errors.New("down"), errors.New("down"), errors.New("down"), errors.New("down"),
	}
	svc := newSyncTestService(remote)
	a := newSyncTestArchive(t)

	err := svc.Upload(context.Background(), a)
	if err == nil {
		t.Fatal("expected upload to fail after exhausting retries")
	}
	var upErr *UploadError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UploadError, got %T", err)
	}
	if upErr.Attempts != 3 {
		t.Errorf("expected 3 attempts recorded, got %d", upErr.Attempts)
	}
	if remote.copyCalls != 3 {
		t.Errorf("expected 3 copy calls, got %d", remote.copyCalls)
	}
	if _, err := os.Stat(a.Path); err != nil {
		t.Error("local archive must survive a failed upload")
	}
}

func TestSyncService_MissingRemoteObjectFailsVerification(t *testing.T) {
	remote := newFakeRemote()
	svc := newSyncTestService(remote)
	a := newSyncTestArchive(t)

	remote.listErr = errors.New("listing broke")

	if err := svc.Upload(context.Background(), a); err == nil {
		t.Fatal("expected verification failure when remote cannot be listed")
	}
	if _, err := os.Stat(a.Path); err != nil {
		t.Error("local archive must be preserved when verification cannot run")
	}
}

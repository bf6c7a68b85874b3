package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackmelt/cargohold/internal/config"
)

func newArchiveTestService(t *testing.T, passphrase string) (*ArchiveService, string) {
	t.Helper()

	cfg := config.Default()
	cfg.Archive.Dir = t.TempDir()
	cfg.Archive.Passphrase = passphrase
	cfg.Archive.CompressionLevel = 1

	return NewArchiveService(cfg, zerolog.Nop()), cfg.Archive.Dir
}

func writeStagingTree(t *testing.T) string {
	t.Helper()

	staging := t.TempDir()
	if err := os.MkdirAll(filepath.Join(staging, "paperless", "data"), 0750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(staging, "paperless", "data", "index.db"), []byte("database bytes"), 0640); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(staging, "paperless", "settings.conf"), []byte("key=value\n"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Symlink("settings.conf", filepath.Join(staging, "paperless", "settings.link")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	return staging
}

func TestArchiveService_CreateExtractRoundTrip(t *testing.T) {
	svc, _ := newArchiveTestService(t, "correct horse battery")
	staging := writeStagingTree(t)

	a, err := svc.Create(context.Background(), staging, "paperless", "0d9f3c2a-aaaa-bbbb-cccc-000000000000")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if !strings.HasPrefix(a.Name, "paperless-") || !strings.HasSuffix(a.Name, ArchiveSuffix) {
		t.Errorf("unexpected archive name %q", a.Name)
	}
	if !strings.Contains(a.Name, "-0d9f3c2a"+ArchiveSuffix) {
		t.Errorf("archive name should embed the 8-char job id prefix, got %q", a.Name)
	}
	if a.Size <= 0 {
		t.Errorf("expected positive archive size, got %d", a.Size)
	}

	// The checksum covers the final ciphertext on disk.
	raw, err := os.ReadFile(a.Path)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	sum := sha256.Sum256(raw)
	if hex.EncodeToString(sum[:]) != a.Checksum {
		t.Error("checksum does not match the archive file")
	}

	dest := t.TempDir()
	if err := svc.Extract(context.Background(), a.Path, dest); err != nil {
		t.Fatalf("extract: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dest, "paperless", "data", "index.db"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(data) != "database bytes" {
		t.Errorf("extracted content mismatch: %q", data)
	}

	info, err := os.Stat(filepath.Join(dest, "paperless", "settings.conf"))
	if err != nil {
		t.Fatalf("stat extracted file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600 preserved, got %v", info.Mode().Perm())
	}

	link, err := os.Readlink(filepath.Join(dest, "paperless", "settings.link"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if link != "settings.conf" {
		t.Errorf("symlink target mismatch: %q", link)
	}
}

func TestArchiveService_WrongPassphraseRejected(t *testing.T) {
	svc, _ := newArchiveTestService(t, "correct horse battery")
	staging := writeStagingTree(t)

	a, err := svc.Create(context.Background(), staging, "paperless", "job-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	wrong, _ := newArchiveTestService(t, "incorrect horse")
	err = wrong.Extract(context.Background(), a.Path, t.TempDir())
	if err == nil {
		t.Fatal("expected extract with wrong passphrase to fail")
	}
	var encErr *EncryptionError
	if !errors.As(err, &encErr) {
		t.Errorf("expected EncryptionError, got %T: %v", err, err)
	}
}

func TestArchiveService_PassphraseRequired(t *testing.T) {
	svc, _ := newArchiveTestService(t, "")

	_, err := svc.Create(context.Background(), t.TempDir(), "paperless", "job-1")
	if !errors.Is(err, ErrPassphraseRequired) {
		t.Errorf("expected ErrPassphraseRequired from Create, got %v", err)
	}

	if err := svc.Extract(context.Background(), "whatever", t.TempDir()); !errors.Is(err, ErrPassphraseRequired) {
		t.Errorf("expected ErrPassphraseRequired from Extract, got %v", err)
	}
}

func TestArchiveService_FailedCreateLeavesNoSpoolFile(t *testing.T) {
	svc, spool := newArchiveTestService(t, "pw")

	// Nonexistent staging dir makes the tar walk fail.
	_, err := svc.Create(context.Background(), filepath.Join(t.TempDir(), "missing"), "paperless", "job-1")
	if err == nil {
		t.Fatal("expected create to fail")
	}

	entries, rerr := os.ReadDir(spool)
	if rerr != nil {
		t.Fatalf("read spool: %v", rerr)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty spool after failed create, found %d entries", len(entries))
	}
}

func TestArchiveName(t *testing.T) {
	ts := time.Date(2026, 8, 26, 3, 0, 0, 0, time.UTC)

	name := ArchiveName("paperless", "0d9f3c2a-rest-is-cut", ts)
	want := "paperless-20260826-030000-0d9f3c2a" + ArchiveSuffix
	if name != want {
		t.Errorf("expected %q, got %q", want, name)
	}

	short := ArchiveName("db", "abc", ts)
	if short != "db-20260826-030000-abc"+ArchiveSuffix {
		t.Errorf("short job id should be used whole, got %q", short)
	}
}

func TestSecureJoin_RejectsEscape(t *testing.T) {
	dest := t.TempDir()

	if _, err := secureJoin(dest, "../outside"); err == nil {
		t.Error("expected traversal member to be rejected")
	}
	if _, err := secureJoin(dest, "inner/ok.txt"); err != nil {
		t.Errorf("expected nested member to be accepted, got %v", err)
	}
}

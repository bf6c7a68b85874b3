package services

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/rs/zerolog"

	"github.com/stackmelt/cargohold/internal/config"
	"github.com/stackmelt/cargohold/internal/models"
)

// ArchiveSuffix is the extension of every archive this engine produces.
const ArchiveSuffix = ".tar.gz.age"

// Archiver turns a staging tree into one encrypted archive and back.
type Archiver interface {
	Create(ctx context.Context, stagingDir, target, jobID string) (*models.Archive, error)
	Extract(ctx context.Context, archivePath, destDir string) error
}

// ArchiveService streams tar → gzip → age into the spool file, so plaintext
// never touches disk and the member names ride inside the ciphertext. The
// checksum is computed over the final ciphertext.
type ArchiveService struct {
	cfg *config.Config
	log zerolog.Logger
}

// NewArchiveService creates an ArchiveService.
func NewArchiveService(cfg *config.Config, log zerolog.Logger) *ArchiveService {
	return &ArchiveService{cfg: cfg, log: log}
}

// hashingWriter mirrors writes into a hash so the checksum falls out of the
// upload stream for free.
type hashingWriter struct {
	w io.Writer
	h hash.Hash
}

func (hw *hashingWriter) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	if n > 0 {
		hw.h.Write(p[:n])
	}
	return n, err
}

// ArchiveName builds the spool file name for a job's output.
func ArchiveName(target, jobID string, ts time.Time) string {
	id := jobID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s-%s-%s%s", target, ts.UTC().Format("20060102-150405"), id, ArchiveSuffix)
}

// Create consolidates the staging tree into one encrypted archive in the
// spool directory.
func (s *ArchiveService) Create(ctx context.Context, stagingDir, target, jobID string) (*models.Archive, error) {
	if s.cfg.Archive.Passphrase == "" {
		return nil, ErrPassphraseRequired
	}

	if err := os.MkdirAll(s.cfg.Archive.Dir, 0750); err != nil {
		return nil, &CompressionError{Err: err}
	}

	createdAt := time.Now()
	name := ArchiveName(target, jobID, createdAt)
	path := filepath.Join(s.cfg.Archive.Dir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, &CompressionError{Err: err}
	}

	checksum, err := s.writeArchive(ctx, f, stagingDir)
	cerr := f.Close()
	if err == nil && cerr != nil {
		err = &CompressionError{Err: cerr}
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		_ = os.Remove(path)
		return nil, &CompressionError{Err: err}
	}

	s.log.Info().Str("archive", name).Int64("size", info.Size()).Msg("archive created")
	return &models.Archive{
		CreatedAt: createdAt,
		Path:      path,
		Name:      name,
		Size:      info.Size(),
		Checksum:  checksum,
		JobID:     jobID,
	}, nil
}

func (s *ArchiveService) writeArchive(ctx context.Context, f io.Writer, stagingDir string) (string, error) {
	recipient, err := age.NewScryptRecipient(s.cfg.Archive.Passphrase)
	if err != nil {
		return "", &EncryptionError{Err: err}
	}

	hw := &hashingWriter{w: f, h: sha256.New()}
	encw, err := age.Encrypt(hw, recipient)
	if err != nil {
		return "", &EncryptionError{Err: err}
	}

	gz, err := gzip.NewWriterLevel(encw, s.cfg.Archive.CompressionLevel)
	if err != nil {
		return "", &CompressionError{Err: err}
	}
	tw := tar.NewWriter(gz)

	if err := s.addTree(ctx, tw, stagingDir); err != nil {
		_ = tw.Close()
		_ = gz.Close()
		_ = encw.Close()
		return "", err
	}

	// Close order matters: the checksum is only complete once the age writer
	// has flushed its trailer into the file.
	if err := tw.Close(); err != nil {
		return "", &CompressionError{Err: err}
	}
	if err := gz.Close(); err != nil {
		return "", &CompressionError{Err: err}
	}
	if err := encw.Close(); err != nil {
		return "", &EncryptionError{Err: err}
	}

	return hex.EncodeToString(hw.h.Sum(nil)), nil
}

func (s *ArchiveService) addTree(ctx context.Context, tw *tar.Writer, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return &CompressionError{Err: err}
		}
		if ctx.Err() != nil {
			return &CompressionError{Err: ctx.Err()}
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return &CompressionError{Err: err}
		}
		if rel == "." {
			return nil
		}

		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return &CompressionError{Err: err}
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return &CompressionError{Err: err}
		}
		hdr.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(hdr); err != nil {
			return &CompressionError{Err: err}
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		in, err := os.Open(path)
		if err != nil {
			return &CompressionError{Err: err}
		}
		defer func() { _ = in.Close() }()

		if _, err := io.Copy(tw, in); err != nil {
			return &CompressionError{Err: err}
		}
		return nil
	})
}

// Extract reverses the writer stack into destDir.
func (s *ArchiveService) Extract(ctx context.Context, archivePath, destDir string) error {
	if s.cfg.Archive.Passphrase == "" {
		return ErrPassphraseRequired
	}

	identity, err := age.NewScryptIdentity(s.cfg.Archive.Passphrase)
	if err != nil {
		return &EncryptionError{Err: err}
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return &CompressionError{Err: err}
	}
	defer func() { _ = f.Close() }()

	dec, err := age.Decrypt(f, identity)
	if err != nil {
		return &EncryptionError{Err: err}
	}

	gz, err := gzip.NewReader(dec)
	if err != nil {
		return &CompressionError{Err: err}
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		if ctx.Err() != nil {
			return &CompressionError{Err: ctx.Err()}
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &CompressionError{Err: err}
		}

		target, err := secureJoin(destDir, hdr.Name)
		if err != nil {
			return &CompressionError{Err: err}
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode).Perm()); err != nil {
				return &CompressionError{Err: err}
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
				return &CompressionError{Err: err}
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return &CompressionError{Err: err}
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
				return &CompressionError{Err: err}
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
			if err != nil {
				return &CompressionError{Err: err}
			}
			if _, err := io.Copy(out, tr); err != nil { //nolint:gosec // sizes are bounded by our own archives
				_ = out.Close()
				return &CompressionError{Err: err}
			}
			if err := out.Close(); err != nil {
				return &CompressionError{Err: err}
			}
		}
	}
}

// secureJoin rejects archive member names that would escape destDir.
func secureJoin(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(name))
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive member %q escapes destination", name)
	}
	return target, nil
}

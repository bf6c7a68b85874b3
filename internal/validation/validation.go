// Package validation provides input validation for API payloads.
package validation

import (
	"errors"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/stackmelt/cargohold/internal/models"
)

var (
	// ErrTargetEmpty indicates a missing target name.
	ErrTargetEmpty = errors.New("target must not be empty")
	// ErrTargetInvalid indicates a target name with characters outside the
	// compose project alphabet.
	ErrTargetInvalid = errors.New("target may only contain lowercase letters, digits, '-' and '_'")
	// ErrTargetTooLong indicates a target name over the length cap.
	ErrTargetTooLong = errors.New("target exceeds maximum length")
	// ErrArchiveNameInvalid indicates an archive name with path separators or
	// traversal sequences.
	ErrArchiveNameInvalid = errors.New("archive name must be a bare file name")
	// ErrDestDirInvalid indicates a restore destination that is not a clean
	// absolute path.
	ErrDestDirInvalid = errors.New("destination must be an absolute path")
)

const maxTargetLength = 128

// Compose project names are lowercase alphanumerics plus '-' and '_'.
var targetPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidateTarget checks a workload/target name. The full-system and
// config-only sentinels are always valid.
func ValidateTarget(target string) error {
	if target == models.TargetFullSystem || target == models.TargetConfigOnly {
		return nil
	}
	if target == "" {
		return ErrTargetEmpty
	}
	if len(target) > maxTargetLength {
		return ErrTargetTooLong
	}
	if !targetPattern.MatchString(target) {
		return ErrTargetInvalid
	}
	return nil
}

// ValidateArchiveName rejects names that could escape the spool directory.
func ValidateArchiveName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return ErrArchiveNameInvalid
	}
	return nil
}

// ValidateDestDir requires a clean absolute path for restore extraction.
func ValidateDestDir(dir string) error {
	if dir == "" {
		return nil
	}
	if !filepath.IsAbs(dir) || filepath.Clean(dir) != dir {
		return ErrDestDirInvalid
	}
	return nil
}

package services

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across services.
var (
	// ErrJobNotFound is returned when a job id is unknown.
	ErrJobNotFound = errors.New("job not found")
	// ErrScheduleNotFound is returned when a schedule id is unknown.
	ErrScheduleNotFound = errors.New("schedule not found")
	// ErrArchiveNotFound is returned when a named archive exists neither
	// locally nor on the remote.
	ErrArchiveNotFound = errors.New("archive not found")
	// ErrJobCanceled marks a job canceled before any container was stopped.
	ErrJobCanceled = errors.New("job canceled before snapshot")
	// ErrCancelTooLate rejects cancellation once a container stop has been
	// issued; the job must run through restart.
	ErrCancelTooLate = errors.New("job already stopped containers, cancellation disallowed")
	// ErrNoWorkloads is returned when discovery finds nothing eligible.
	ErrNoWorkloads = errors.New("no eligible workloads found")
	// ErrNoMounts marks a workload with no backup-eligible mount paths.
	ErrNoMounts = errors.New("workload has no eligible mount paths")
	// ErrPassphraseRequired is returned when a job needs the archive
	// passphrase and none is configured.
	ErrPassphraseRequired = errors.New("archive passphrase not configured")
	// ErrInsufficientSpace aborts a job before any container is touched when
	// the spool disk is below the configured floor.
	ErrInsufficientSpace = errors.New("insufficient free space in staging area")
)

// DiscoveryError indicates the container runtime was unreachable or listing
// failed. Fatal for the invoking job: no partial discovery is acted upon.
type DiscoveryError struct {
	Err error
}

func (e *DiscoveryError) Error() string { return fmt.Sprintf("discovery: %v", e.Err) }
func (e *DiscoveryError) Unwrap() error { return e.Err }

// StopTimeoutError records that a graceful stop ran out of time and a
// force-stop was issued. Non-fatal.
type StopTimeoutError struct {
	Container string
	Err       error
}

func (e *StopTimeoutError) Error() string {
	return fmt.Sprintf("container %s did not stop in time: %v", e.Container, e.Err)
}
func (e *StopTimeoutError) Unwrap() error { return e.Err }

// ForceStopError indicates even the force-stop failed; the workload's
// snapshot is aborted.
type ForceStopError struct {
	Container string
	Err       error
}

func (e *ForceStopError) Error() string {
	return fmt.Sprintf("force-stop of container %s failed: %v", e.Container, e.Err)
}
func (e *ForceStopError) Unwrap() error { return e.Err }

// CopyError indicates the staging copy failed. Fatal for that workload's
// snapshot; restart is still attempted.
type CopyError struct {
	Workload string
	Path     string
	Err      error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("copy %s for workload %s: %v", e.Path, e.Workload, e.Err)
}
func (e *CopyError) Unwrap() error { return e.Err }

// RestartFailedError is the highest severity failure: a workload this engine
// stopped could not be restarted and is left down.
type RestartFailedError struct {
	Workload  string
	Container string
	Err       error
}

func (e *RestartFailedError) Error() string {
	return fmt.Sprintf("workload %s left down, restart of container %s failed: %v", e.Workload, e.Container, e.Err)
}
func (e *RestartFailedError) Unwrap() error { return e.Err }

// CompressionError indicates the tar/gzip stage of the archive pipeline
// failed. Nothing is uploaded.
type CompressionError struct {
	Err error
}

func (e *CompressionError) Error() string { return fmt.Sprintf("compression: %v", e.Err) }
func (e *CompressionError) Unwrap() error { return e.Err }

// EncryptionError indicates the encryption stage of the archive pipeline
// failed. Nothing is uploaded.
type EncryptionError struct {
	Err error
}

func (e *EncryptionError) Error() string { return fmt.Sprintf("encryption: %v", e.Err) }
func (e *EncryptionError) Unwrap() error { return e.Err }

// UploadError indicates the transfer or its verification failed after all
// retries. The local archive is preserved.
type UploadError struct {
	Archive  string
	Attempts int
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %s failed after %d attempts: %v", e.Archive, e.Attempts, e.Err)
}
func (e *UploadError) Unwrap() error { return e.Err }

// PruneEntryError records one failed deletion during a retention sweep.
// Logged, never fatal.
type PruneEntryError struct {
	Entry string
	Err   error
}

func (e *PruneEntryError) Error() string {
	return fmt.Sprintf("prune %s: %v", e.Entry, e.Err)
}
func (e *PruneEntryError) Unwrap() error { return e.Err }

// JobAlreadyRunningError rejects a trigger whose target is locked by a
// non-terminal job.
type JobAlreadyRunningError struct {
	Target string
}

func (e *JobAlreadyRunningError) Error() string {
	return fmt.Sprintf("a job for target %s is already running", e.Target)
}

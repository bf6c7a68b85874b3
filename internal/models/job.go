package models

import "time"

// JobStatus represents the status of a backup job.
type JobStatus string

const (
	// StatusPending indicates the job has been accepted but not started.
	StatusPending JobStatus = "pending"
	// StatusRunning indicates the job is currently executing.
	StatusRunning JobStatus = "running"
	// StatusSuccess indicates every workload in the job was backed up.
	StatusSuccess JobStatus = "success"
	// StatusPartial indicates some workloads succeeded and some failed.
	StatusPartial JobStatus = "partial"
	// StatusFailed indicates the job produced no usable backup.
	StatusFailed JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusPartial || s == StatusFailed
}

// JobKind distinguishes what a job operates on.
type JobKind string

const (
	// KindProject backs up a single workload.
	KindProject JobKind = "project"
	// KindFullSystem backs up every eligible workload plus the optional
	// configuration export.
	KindFullSystem JobKind = "full-system"
	// KindConfigOnly backs up only the configuration export, touching no
	// container.
	KindConfigOnly JobKind = "config-only"
	// KindRestore extracts a previous archive and optionally restores a
	// workload in place.
	KindRestore JobKind = "restore"
)

// JobPhase tracks where in the pipeline a running job currently is.
type JobPhase string

const (
	PhaseQueued      JobPhase = "queued"
	PhaseDiscovering JobPhase = "discovering"
	PhaseExporting   JobPhase = "exporting-config"
	PhaseSnapshot    JobPhase = "snapshotting"
	PhaseArchiving   JobPhase = "archiving"
	PhaseUploading   JobPhase = "uploading"
	PhasePruning     JobPhase = "pruning"
	PhaseFetching    JobPhase = "fetching"
	PhaseRestoring   JobPhase = "restoring"
	PhaseDone        JobPhase = "done"
)

// TargetFullSystem is the sentinel target covering every workload.
const TargetFullSystem = "full-system"

// TargetConfigOnly is the sentinel target for configuration-only jobs.
const TargetConfigOnly = "config-only"

// BackupJob is one execution instance of the pipeline.
type BackupJob struct {
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	ID         string     `json:"id"`
	Target     string     `json:"target"`
	Kind       JobKind    `json:"kind"`
	Status     JobStatus  `json:"status"`
	Phase      JobPhase   `json:"phase"`
	Error      string     `json:"error,omitempty"`
	// ArchiveName is set once the archive pipeline has produced output.
	ArchiveName string `json:"archive_name,omitempty"`
	ArchiveSize int64  `json:"archive_size,omitempty"`
}

// Archive describes one job's consolidated output file.
type Archive struct {
	CreatedAt time.Time `json:"created_at"`
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	JobID     string    `json:"job_id"`
}

// RestoreRequest describes a restore job.
type RestoreRequest struct {
	// ArchiveName names the archive to restore, as listed locally or
	// remotely.
	ArchiveName string `json:"archive_name"`
	// Workload optionally names a workload to restore in place; empty means
	// extract only.
	Workload string `json:"workload,omitempty"`
	// DestDir receives the extracted tree when no workload is named.
	DestDir string `json:"dest_dir,omitempty"`
}

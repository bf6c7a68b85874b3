package models

import "time"

// HistoryEntry is the immutable record of one finished job. Rows are appended
// when a job reaches a terminal status and never updated afterwards.
type HistoryEntry struct {
	CreatedAt       time.Time `json:"created_at"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	ID              int64     `json:"id"`
	JobID           string    `json:"job_id"`
	Target          string    `json:"target"`
	Kind            JobKind   `json:"kind"`
	Status          JobStatus `json:"status"`
	Error           string    `json:"error,omitempty"`
	ArchiveName     string    `json:"archive_name,omitempty"`
	ArchiveSize     int64     `json:"archive_size,omitempty"`
	ArchiveChecksum string    `json:"archive_checksum,omitempty"`
	DurationMS      int64     `json:"duration_ms"`
}

// HistoryQuery filters history listings.
type HistoryQuery struct {
	Target string
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}

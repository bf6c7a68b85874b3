package models

import "time"

// Schedule is a persisted recurring trigger for one target.
type Schedule struct {
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	ID         string    `json:"id"`
	Target     string    `json:"target"`
	Kind       JobKind   `json:"kind"`
	Expression string    `json:"expression"`
	Enabled    bool      `json:"enabled"`
}

// CreateScheduleRequest is the payload for registering a schedule.
type CreateScheduleRequest struct {
	Target     string  `json:"target" binding:"required"`
	Kind       JobKind `json:"kind"`
	Expression string  `json:"expression" binding:"required"`
	Enabled    *bool   `json:"enabled"`
}

// UpdateScheduleRequest is the payload for changing a schedule.
type UpdateScheduleRequest struct {
	Expression string `json:"expression"`
	Enabled    *bool  `json:"enabled"`
}

// ScheduleBackup represents a schedule in the export/import format (without
// ids or timestamps).
type ScheduleBackup struct {
	Target     string  `json:"target"`
	Kind       JobKind `json:"kind"`
	Expression string  `json:"expression"`
	Enabled    bool    `json:"enabled"`
}

// ScheduleExport is the full export structure.
type ScheduleExport struct {
	Version    string           `json:"version"`
	ExportedAt string           `json:"exported_at"`
	Schedules  []ScheduleBackup `json:"schedules"`
}

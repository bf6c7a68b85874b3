package services

import (
	"database/sql"
	"strings"

	"github.com/stackmelt/cargohold/internal/database"
	"github.com/stackmelt/cargohold/internal/models"
)

// HistoryService is the append-only log of finished jobs. Rows are written
// exactly once, when a job reaches a terminal status, and never updated.
type HistoryService struct {
	db *database.DB
}

// NewHistoryService creates a HistoryService.
func NewHistoryService(db *database.DB) *HistoryService {
	return &HistoryService{db: db}
}

// Append records one finished job.
func (s *HistoryService) Append(e *models.HistoryEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO history (job_id, target, kind, status, error, archive_name, archive_size, archive_checksum, started_at, finished_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.JobID, e.Target, e.Kind, e.Status, e.Error, e.ArchiveName, e.ArchiveSize, e.ArchiveChecksum,
		e.StartedAt, e.FinishedAt, e.DurationMS)
	return err
}

// Query lists history entries, newest first, filtered by target and date
// range.
func (s *HistoryService) Query(q models.HistoryQuery) ([]models.HistoryEntry, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}

	var where []string
	var args []interface{}
	if q.Target != "" {
		where = append(where, "target = ?")
		args = append(args, q.Target)
	}
	if q.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *q.Since)
	}
	if q.Until != nil {
		where = append(where, "started_at <= ?")
		args = append(args, *q.Until)
	}

	query := `SELECT id, job_id, target, kind, status, error, archive_name, archive_size, archive_checksum,
		started_at, finished_at, duration_ms, created_at FROM history`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC LIMIT ? OFFSET ?"
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	// Empty slice so the API returns [] instead of null.
	entries := make([]models.HistoryEntry, 0)
	for rows.Next() {
		e, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ByJobID returns the entry for one job, or ErrJobNotFound.
func (s *HistoryService) ByJobID(jobID string) (*models.HistoryEntry, error) {
	row := s.db.QueryRow(`SELECT id, job_id, target, kind, status, error, archive_name, archive_size, archive_checksum,
		started_at, finished_at, duration_ms, created_at FROM history WHERE job_id = ?`, jobID)

	e, err := scanHistoryEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanHistoryEntry(row rowScanner) (models.HistoryEntry, error) {
	var e models.HistoryEntry
	var errMsg, archiveName, archiveChecksum sql.NullString
	var archiveSize sql.NullInt64

	err := row.Scan(&e.ID, &e.JobID, &e.Target, &e.Kind, &e.Status, &errMsg, &archiveName, &archiveSize,
		&archiveChecksum, &e.StartedAt, &e.FinishedAt, &e.DurationMS, &e.CreatedAt)
	if err != nil {
		return e, err
	}

	if errMsg.Valid {
		e.Error = errMsg.String
	}
	if archiveName.Valid {
		e.ArchiveName = archiveName.String
	}
	if archiveSize.Valid {
		e.ArchiveSize = archiveSize.Int64
	}
	if archiveChecksum.Valid {
		e.ArchiveChecksum = archiveChecksum.String
	}
	return e, nil
}

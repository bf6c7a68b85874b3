package database

import (
	"database/sql"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT UNIQUE NOT NULL,
		target TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		archive_name TEXT,
		archive_size INTEGER,
		archive_checksum TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		kind TEXT NOT NULL,
		expression TEXT NOT NULL,
		enabled BOOLEAN DEFAULT TRUE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(target, kind)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_history_target ON history(target)`,
	`CREATE INDEX IF NOT EXISTS idx_history_started_at ON history(started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_history_status ON history(status)`,
	`CREATE INDEX IF NOT EXISTS idx_schedules_target ON schedules(target)`,
	`CREATE INDEX IF NOT EXISTS idx_schedules_enabled ON schedules(enabled)`,
}

func runMigrations(db *sql.DB) error {
	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return err
		}
	}
	return nil
}

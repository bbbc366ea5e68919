package repository

import "database/sql"

// Repositories holds all repository implementations.
// This struct provides a single point of access to all data access layers.
type Repositories struct {
	Files    FileRecordRepository
	Sessions UploadSessionRepository
	Syncs    SyncRecordRepository
	Health   HealthRepository

	// DB is a database/sql handle on the same database. Used by the metrics collector.
	DB *sql.DB

	// DatabaseType is DatabaseTypeSQLite or DatabaseTypePostgreSQL.
	DatabaseType string

	// Cleanup releases the underlying connections. May be nil.
	Cleanup func()
}

// Close runs Cleanup if set.
func (r *Repositories) Close() {
	if r != nil && r.Cleanup != nil {
		r.Cleanup()
	}
}

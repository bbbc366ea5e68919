package sqlite

import (
	"database/sql"

	"github.com/fjmerc/mediavault/internal/repository"
)

// NewRepositories creates all SQLite repository implementations.
// The db parameter must be a valid, open database connection with the schema applied.
//
// Returns the repositories struct with DatabaseType set to "sqlite" and
// a Cleanup function that closes the database connection.
func NewRepositories(db *sql.DB) (*repository.Repositories, error) {
	if db == nil {
		return nil, repository.ErrNilDatabase
	}

	return &repository.Repositories{
		Files:        NewFileRecordRepository(db),
		Sessions:     NewUploadSessionRepository(db),
		Syncs:        NewSyncRecordRepository(db),
		Health:       NewHealthRepository(db),
		DB:           db,
		DatabaseType: repository.DatabaseTypeSQLite,
		Cleanup: func() {
			db.Close()
		},
	}, nil
}

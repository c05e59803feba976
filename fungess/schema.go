package fungess

import (
	"context"

	"github.com/jmoiron/sqlx"

	"noisefunge.org/funged/fungess/internal/dbutil"
)

func OpenDB(p string) (*sqlx.DB, error) {
	return dbutil.Open(p)
}

func SetupDB(ctx context.Context, db *sqlx.DB) error {
	return dbutil.Migrate(ctx, db, currentSchema)
}

var currentSchema = []string{
	`CREATE TABLE IF NOT EXISTS programs (
		hash BLOB PRIMARY KEY,
		source BLOB NOT NULL,
		created_s INTEGER NOT NULL,
		created_ns INTEGER NOT NULL
	) WITHOUT ROWID`,
	`CREATE TABLE IF NOT EXISTS procs (
		pid INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		program_hash BLOB NOT NULL,
		parent INTEGER,
		start_beat INTEGER NOT NULL,
		exit_beat INTEGER,
		status TEXT NOT NULL,
		started_s INTEGER NOT NULL,
		started_ns INTEGER NOT NULL,
		exited_s INTEGER,
		exited_ns INTEGER,

		FOREIGN KEY(program_hash) REFERENCES programs(hash)
	)`,
}

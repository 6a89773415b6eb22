package store

import "database/sql"

// A Migration is one step of the schema history. The list is ordered and
// append-only; the database's user_version records how long a prefix has been
// applied.
type Migration struct {
	Name  string
	Apply func(tx *sql.Tx) error
}

var migrations = []Migration{
	{
		Name: "torrents_init",
		Apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE torrents (
					info_hash      TEXT    NOT NULL PRIMARY KEY,
					name           TEXT    NOT NULL DEFAULT '',
					save_path      TEXT    NOT NULL DEFAULT '',
					queue_position INTEGER NOT NULL DEFAULT 0,
					resume_data    BLOB    NOT NULL,
					created_at     TIMESTAMP DEFAULT CURRENT_TIMESTAMP
				);`)
			return err
		},
	},
	{
		Name: "users_init",
		Apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE users (
					username        TEXT NOT NULL PRIMARY KEY,
					password_digest TEXT NOT NULL,
					created_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP
				);`)
			return err
		},
	},
	{
		Name: "session_settings_init",
		Apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE session_settings (
					key   TEXT NOT NULL PRIMARY KEY,
					value TEXT NOT NULL
				);`)
			return err
		},
	},
	{
		Name: "torrents_metadata_init",
		Apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE torrents_metadata (
					info_hash TEXT NOT NULL,
					key       TEXT NOT NULL,
					value     TEXT NOT NULL,
					PRIMARY KEY (info_hash, key)
				);`)
			return err
		},
	},
	{
		Name: "torrents_client_data",
		Apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`ALTER TABLE torrents ADD COLUMN client_data BLOB;`)
			return err
		},
	},
}

// Migrations exposes the schema history length for introspection and tests.
func Migrations() int {
	return len(migrations)
}

// Package store is the daemon's embedded relational database: torrent resume
// records, users, and the engine settings overlay, all behind a single
// serialized SQLite connection.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"torrentd/internal/domain"
	"torrentd/internal/engine"
)

type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path. The connection pool
// is capped at one connection: every statement is issued from the session
// event loop and SQLite misbehaves under concurrent writers.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SchemaVersion reads the applied migration prefix length.
func (s *Store) SchemaVersion() (int, error) {
	var v int
	if err := s.db.Get(&v, `PRAGMA user_version;`); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return v, nil
}

// Migrate applies every migration past the current user_version, one
// transaction per migration, bumping user_version inside the same
// transaction. Any failure aborts with the prefix so far intact.
func (s *Store) Migrate() error {
	version, err := s.SchemaVersion()
	if err != nil {
		return err
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is ahead of this binary (%d migrations)", version, len(migrations))
	}
	for i := version; i < len(migrations); i++ {
		m := migrations[i]
		if err := s.applyOne(i, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", i, m.Name, err)
		}
		s.logger.Debug("migration applied", slog.Int("index", i), slog.String("name", m.Name))
	}
	return nil
}

func (s *Store) applyOne(index int, m Migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := m.Apply(tx); err != nil {
		tx.Rollback()
		return err
	}
	// PRAGMA does not take bind parameters.
	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d;`, index+1)); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// TorrentRow is the persisted resume record.
type TorrentRow struct {
	InfoHash      string `db:"info_hash"`
	Name          string `db:"name"`
	SavePath      string `db:"save_path"`
	QueuePosition int    `db:"queue_position"`
	ResumeData    []byte `db:"resume_data"`
	ClientData    []byte `db:"client_data"`
}

func (s *Store) CountTorrents() (int, error) {
	var n int
	if err := s.db.Get(&n, `SELECT COUNT(*) FROM torrents;`); err != nil {
		return 0, fmt.Errorf("count torrents: %w", err)
	}
	return n, nil
}

// ForEachTorrent yields every persisted record deserialized into engine-ready
// add-params, in unspecified order.
func (s *Store) ForEachTorrent(visit func(hash domain.InfoHash, params *engine.AddTorrentParams) error) error {
	rows, err := s.db.Queryx(`SELECT info_hash, name, save_path, queue_position, resume_data, client_data FROM torrents;`)
	if err != nil {
		return fmt.Errorf("iterate torrents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row TorrentRow
		if err := rows.StructScan(&row); err != nil {
			return fmt.Errorf("scan torrent row: %w", err)
		}
		params, err := engine.DecodeResume(row.ResumeData)
		if err != nil {
			return fmt.Errorf("torrent %s: %w", row.InfoHash, err)
		}
		params.Name = row.Name
		params.SavePath = row.SavePath
		params.QueuePosition = row.QueuePosition
		if len(row.ClientData) > 0 {
			var cd domain.ClientData
			if err := json.Unmarshal(row.ClientData, &cd); err != nil {
				return fmt.Errorf("torrent %s client data: %w", row.InfoHash, err)
			}
			params.ClientData = &cd
		}
		if err := visit(hashFromKey(row.InfoHash), params); err != nil {
			return err
		}
	}
	return rows.Err()
}

// InsertTorrent stores a fresh record; a second insert for the same hash
// fails with domain.ErrDuplicate.
func (s *Store) InsertTorrent(hash domain.InfoHash, params *engine.AddTorrentParams) error {
	resume, clientData, err := encodeRecord(params)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO torrents (info_hash, name, save_path, queue_position, resume_data, client_data)
		 VALUES (?, ?, ?, ?, ?, ?);`,
		hash.Key(), params.Name, params.SavePath, params.QueuePosition, resume, clientData,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("torrent %s: %w", hash, domain.ErrDuplicate)
		}
		return fmt.Errorf("insert torrent: %w", err)
	}
	return nil
}

// UpdateTorrent upserts the resume fields. Updates are issued unconditionally
// on every save-resume completion, including for torrents added before the
// store row existed, hence the upsert.
func (s *Store) UpdateTorrent(hash domain.InfoHash, params *engine.AddTorrentParams) error {
	resume, clientData, err := encodeRecord(params)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO torrents (info_hash, name, save_path, queue_position, resume_data, client_data)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (info_hash) DO UPDATE SET
			name = excluded.name,
			save_path = excluded.save_path,
			queue_position = excluded.queue_position,
			resume_data = excluded.resume_data,
			client_data = excluded.client_data;`,
		hash.Key(), params.Name, params.SavePath, params.QueuePosition, resume, clientData,
	)
	if err != nil {
		return fmt.Errorf("update torrent: %w", err)
	}
	return nil
}

// RemoveTorrent deletes the record; removing an absent hash is a no-op.
func (s *Store) RemoveTorrent(hash domain.InfoHash) error {
	if _, err := s.db.Exec(`DELETE FROM torrents WHERE info_hash = ?;`, hash.Key()); err != nil {
		return fmt.Errorf("remove torrent: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM torrents_metadata WHERE info_hash = ?;`, hash.Key()); err != nil {
		return fmt.Errorf("remove torrent metadata: %w", err)
	}
	return nil
}

// SetTorrentMetadata stores one auxiliary key for a torrent.
func (s *Store) SetTorrentMetadata(hash domain.InfoHash, key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO torrents_metadata (info_hash, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (info_hash, key) DO UPDATE SET value = excluded.value;`,
		hash.Key(), key, value,
	)
	if err != nil {
		return fmt.Errorf("set torrent metadata: %w", err)
	}
	return nil
}

func (s *Store) TorrentMetadata(hash domain.InfoHash) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM torrents_metadata WHERE info_hash = ?;`, hash.Key())
	if err != nil {
		return nil, fmt.Errorf("torrent metadata: %w", err)
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// User is a credential record; the digest is opaque to the store.
type User struct {
	Username       string `db:"username"`
	PasswordDigest string `db:"password_digest"`
}

func (s *Store) UpsertUser(u User) error {
	_, err := s.db.Exec(
		`INSERT INTO users (username, password_digest) VALUES (?, ?)
		 ON CONFLICT (username) DO UPDATE SET password_digest = excluded.password_digest;`,
		u.Username, u.PasswordDigest,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(username string) (User, error) {
	var u User
	err := s.db.Get(&u, `SELECT username, password_digest FROM users WHERE username = ?;`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %s: %w", username, domain.ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// SetSetting writes one key of the engine settings overlay.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO session_settings (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value;`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// Settings reads the whole overlay.
func (s *Store) Settings() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM session_settings;`)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func encodeRecord(params *engine.AddTorrentParams) (resume, clientData []byte, err error) {
	resume, err = engine.EncodeResume(params)
	if err != nil {
		return nil, nil, err
	}
	if params.ClientData != nil {
		clientData, err = json.Marshal(params.ClientData)
		if err != nil {
			return nil, nil, fmt.Errorf("encode client data: %w", err)
		}
	}
	return resume, clientData, nil
}

func hashFromKey(key string) domain.InfoHash {
	// 64 hex chars is a v2 SHA-256; 40 is a v1 SHA-1.
	if len(key) == 64 {
		return domain.InfoHash{V2: key}
	}
	return domain.InfoHash{V1: key}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

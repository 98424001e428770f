package metadata

import (
	"database/sql"
	"fmt"
	"time"
)

// migration is one idempotent, additive step applied in order. A missing
// base migration (version 1) is fatal; every later migration is
// best-effort except where noted, matching spec.md §4.1/§9.
type migration struct {
	version  int
	name     string
	stmt     string
	fatal    bool
	postFunc func(*sql.Tx) error
}

var migrations = []migration{
	{
		version: 1,
		name:    "base schema",
		fatal:   true,
		stmt: `
CREATE TABLE IF NOT EXISTS files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	version INTEGER NOT NULL DEFAULT 1,
	kind INTEGER NOT NULL,
	name TEXT NOT NULL,
	uid INTEGER NOT NULL DEFAULT 0,
	gid INTEGER NOT NULL DEFAULT 0,
	perms INTEGER NOT NULL DEFAULT 0,
	size INTEGER NOT NULL DEFAULT 0,
	sha512 TEXT NOT NULL DEFAULT '',
	encryption_key TEXT NOT NULL DEFAULT '',
	compression TEXT NOT NULL DEFAULT '',
	accessed_at INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS directory_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	directory_file_id INTEGER NOT NULL,
	entry_file_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	kind INTEGER NOT NULL,
	UNIQUE(directory_file_id, name)
);
CREATE INDEX IF NOT EXISTS idx_entries_parent ON directory_entries(directory_file_id);
CREATE INDEX IF NOT EXISTS idx_entries_child ON directory_entries(entry_file_id);

CREATE TABLE IF NOT EXISTS file_changes (
	file_id INTEGER NOT NULL,
	file_version INTEGER NOT NULL,
	kind INTEGER NOT NULL,
	file_hash TEXT NOT NULL DEFAULT '',
	changed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_changes_file ON file_changes(file_id);

CREATE TABLE IF NOT EXISTS settings (
	name TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sqlar (
	name TEXT PRIMARY KEY,
	mode INTEGER NOT NULL,
	mtime INTEGER NOT NULL,
	sz INTEGER NOT NULL,
	data BLOB
);
`,
		postFunc: seedRoot,
	},
	{
		// The original implementation this schema was distilled from
		// renames a legacy column using a syntax the embedded engine may
		// silently reject; treated as best-effort per spec.md §9.
		version: 2,
		name:    "rename legacy mode column (best-effort)",
		fatal:   false,
		stmt:    `ALTER TABLE files RENAME COLUMN mode TO perms;`,
	},
}

func seedRoot(tx *sql.Tx) error {
	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM files WHERE id = ?`, RootID).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	now := time.Now().Unix()
	if _, err := tx.Exec(
		`INSERT INTO files (id, version, kind, name, uid, gid, perms, size, sha512, encryption_key, compression, accessed_at, created_at, updated_at)
		 VALUES (?, 1, ?, '/', 0, 0, 0755, 0, '', '', '', ?, ?, ?)`,
		RootID, int(KindDirectory), now, now, now,
	); err != nil {
		return fmt.Errorf("seed root file: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO directory_entries (directory_file_id, entry_file_id, name, kind) VALUES (?, ?, '.', ?)`,
		RootID, RootID, int(KindDirectory),
	); err != nil {
		return fmt.Errorf("seed root '.' entry: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO directory_entries (directory_file_id, entry_file_id, name, kind) VALUES (?, ?, '..', ?)`,
		RootID, RootID, int(KindDirectory),
	); err != nil {
		return fmt.Errorf("seed root '..' entry: %w", err)
	}
	return nil
}

func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var applied int
		err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, m.version).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if applied > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}

		if _, execErr := tx.Exec(m.stmt); execErr != nil {
			if m.fatal {
				_ = tx.Rollback()
				return fmt.Errorf("fatal migration %d (%s): %w", m.version, m.name, execErr)
			}
			// Best-effort migration: swallow the error, still record it
			// as applied so it isn't retried forever.
		}

		if m.postFunc != nil {
			if err := m.postFunc(tx); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d post-step: %w", m.version, err)
			}
		}

		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, m.version, time.Now().Unix()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

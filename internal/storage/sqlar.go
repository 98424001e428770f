package storage

import (
	"context"
	"database/sql"

	"github.com/objectfs/shadowfs/internal/objinfo"
	"github.com/objectfs/shadowfs/pkg/errors"
)

// SqlarBackend stores objects as rows of an archive table, shaped after
// SQLite's sqlar(5) convention: name, mode, mtime, sz, data. It shares the
// *sql.DB handle opened by the Metadata Index rather than a handle of its
// own, so a single embedded database file holds both metadata and content.
type SqlarBackend struct {
	db                *sql.DB
	useHashAsFilename bool
}

// NewSqlarBackend wraps an already-open *sql.DB (expected to already carry
// the sqlar table from the Metadata Index's base migration).
func NewSqlarBackend(db *sql.DB, useHashAsFilename bool) *SqlarBackend {
	return &SqlarBackend{db: db, useHashAsFilename: useHashAsFilename}
}

func (b *SqlarBackend) key(info *objinfo.Info) string {
	return objinfo.DerivedKey(info, b.useHashAsFilename)
}

func (b *SqlarBackend) Get(ctx context.Context, info *objinfo.Info) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, `SELECT data FROM sqlar WHERE name = ?`, b.key(info)).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrCodeNotFound, "object not found").
			WithComponent("storage.sqlar").WithOperation("get").WithContext("name", b.key(info))
	}
	if err != nil {
		return nil, errors.New(errors.ErrCodeIO, "sqlar read failed").
			WithComponent("storage.sqlar").WithOperation("get").WithCause(err)
	}
	return data, nil
}

func (b *SqlarBackend) Put(ctx context.Context, info *objinfo.Info, data []byte) error {
	name := b.key(info)
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO sqlar (name, mode, mtime, sz, data) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET mode = excluded.mode, mtime = excluded.mtime, sz = excluded.sz, data = excluded.data`,
		name, info.Mode, info.UpdatedAt.Unix(), info.Size, data)
	if err != nil {
		return errors.New(errors.ErrCodeIO, "sqlar write failed").
			WithComponent("storage.sqlar").WithOperation("put").WithCause(err)
	}
	info.FullPath = name
	return nil
}

func (b *SqlarBackend) Remove(ctx context.Context, info *objinfo.Info) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM sqlar WHERE name = ?`, b.key(info)); err != nil {
		return errors.New(errors.ErrCodeIO, "sqlar remove failed").
			WithComponent("storage.sqlar").WithOperation("remove").WithCause(err)
	}
	return nil
}

func (b *SqlarBackend) Rename(ctx context.Context, oldInfo, newInfo *objinfo.Info) error {
	res, err := b.db.ExecContext(ctx, `UPDATE sqlar SET name = ? WHERE name = ?`, b.key(newInfo), b.key(oldInfo))
	if err != nil {
		return errors.New(errors.ErrCodeIO, "sqlar rename failed").
			WithComponent("storage.sqlar").WithOperation("rename").WithCause(err)
	}
	// A missing source is not an error: it lets a zero-byte, never-written
	// File be renamed at the filesystem level with no backing object.
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	return nil
}

func (b *SqlarBackend) Nuke(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM sqlar`); err != nil {
		return errors.New(errors.ErrCodeIO, "sqlar nuke failed").
			WithComponent("storage.sqlar").WithOperation("nuke").WithCause(err)
	}
	return nil
}

func (b *SqlarBackend) HealthCheck(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close is a no-op: the *sql.DB is owned by the Metadata Index.
func (b *SqlarBackend) Close() error { return nil }

package metadata

import (
	"context"
	"database/sql"
	"time"

	shadowerrors "github.com/objectfs/shadowfs/pkg/errors"
)

const fileColumns = `id, version, kind, name, uid, gid, perms, size, sha512, encryption_key, compression, accessed_at, created_at, updated_at`

func scanFile(row interface{ Scan(...any) error }) (*File, error) {
	var f File
	var kind int
	var accessed, created, updated int64
	if err := row.Scan(&f.ID, &f.Version, &kind, &f.Name, &f.UID, &f.GID, &f.Perms, &f.Size,
		&f.SHA512, &f.Encryption, &f.Compress, &accessed, &created, &updated); err != nil {
		return nil, err
	}
	f.Kind = FileKind(kind)
	f.AccessedAt = time.Unix(accessed, 0).UTC()
	f.CreatedAt = time.Unix(created, 0).UTC()
	f.UpdatedAt = time.Unix(updated, 0).UTC()
	return &f, nil
}

// AddFile inserts a new file row with version=1 and returns its assigned id.
func (idx *Index) AddFile(ctx context.Context, f File) (int64, error) {
	now := time.Now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = now
	}
	if f.AccessedAt.IsZero() {
		f.AccessedAt = now
	}

	res, err := idx.conn.ExecContext(ctx,
		`INSERT INTO files (version, kind, name, uid, gid, perms, size, sha512, encryption_key, compression, accessed_at, created_at, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int(f.Kind), f.Name, f.UID, f.GID, f.Perms, f.Size, f.SHA512, f.Encryption, f.Compress,
		f.AccessedAt.Unix(), f.CreatedAt.Unix(), f.UpdatedAt.Unix(),
	)
	if err != nil {
		return 0, wrapIOErr("add_file", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapIOErr("add_file:last_insert_id", err)
	}
	return id, nil
}

// GetFile fetches a file by id, returning (nil, nil) when absent.
func (idx *Index) GetFile(ctx context.Context, id int64) (*File, error) {
	row := idx.conn.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapIOErr("get_file", err)
	}
	return f, nil
}

// GetFileBySHA512 returns the first file whose content hash matches hex,
// or (nil, nil) when none match.
func (idx *Index) GetFileBySHA512(ctx context.Context, hex string) (*File, error) {
	row := idx.conn.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE sha512 = ? LIMIT 1`, hex)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapIOErr("get_file_by_sha512", err)
	}
	return f, nil
}

// GetFileByPath resolves an absolute, "/"-separated path to a File by
// walking the directory entry graph from ROOT, failing soft (nil, nil) on
// the first missing component.
func (idx *Index) GetFileByPath(ctx context.Context, path string) (*File, error) {
	id, err := idx.resolvePath(ctx, path)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, nil
	}
	return idx.GetFile(ctx, id)
}

// UpdateFile replaces the row's mutable columns and increments version.
// It persists f's timestamps exactly as given rather than defaulting
// any of them; a caller that wants updated_at bumped to now (a content
// release) or created_at left alone (anything but setattr) must say so
// explicitly before calling this.
func (idx *Index) UpdateFile(ctx context.Context, f File) error {
	res, err := idx.conn.ExecContext(ctx,
		`UPDATE files SET version = version + 1, kind = ?, name = ?, uid = ?, gid = ?, perms = ?, size = ?,
		 sha512 = ?, encryption_key = ?, compression = ?, accessed_at = ?, created_at = ?, updated_at = ?
		 WHERE id = ?`,
		int(f.Kind), f.Name, f.UID, f.GID, f.Perms, f.Size, f.SHA512, f.Encryption, f.Compress,
		f.AccessedAt.Unix(), f.CreatedAt.Unix(), f.UpdatedAt.Unix(), f.ID,
	)
	if err != nil {
		return wrapIOErr("update_file", err)
	}
	return requireOneRow(res, "update_file", f.ID)
}

// TouchAccessTime bumps accessed_at without incrementing version (the
// spec only requires version to increase on mutation; access-time bumps
// alone are not mutations).
func (idx *Index) TouchAccessTime(ctx context.Context, id int64, when time.Time) error {
	_, err := idx.conn.ExecContext(ctx, `UPDATE files SET accessed_at = ? WHERE id = ?`, when.Unix(), id)
	if err != nil {
		return wrapIOErr("touch_access_time", err)
	}
	return nil
}

// RemoveFile deletes the file row and every directory entry referencing
// it as parent or child.
func (idx *Index) RemoveFile(ctx context.Context, id int64) error {
	if _, err := idx.conn.ExecContext(ctx, `DELETE FROM directory_entries WHERE directory_file_id = ? OR entry_file_id = ?`, id, id); err != nil {
		return wrapIOErr("remove_file:entries", err)
	}
	if _, err := idx.conn.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id); err != nil {
		return wrapIOErr("remove_file", err)
	}
	return nil
}

func requireOneRow(res sql.Result, op string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrapIOErr(op, err)
	}
	if n == 0 {
		return shadowerrors.New(shadowerrors.ErrCodeNotFound, "no such file").
			WithComponent("metadata").WithOperation(op).WithContext("id", itoa(id))
	}
	return nil
}

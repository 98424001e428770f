package metadata

import (
	"context"
	"database/sql"
	"time"
)

// GetSetting returns the persisted value for name, or ("", false) when
// unset.
func (idx *Index) GetSetting(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := idx.conn.QueryRowContext(ctx, `SELECT value FROM settings WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapIOErr("get_setting", err)
	}
	return value, true, nil
}

// SetSetting upserts a persisted setting.
func (idx *Index) SetSetting(ctx context.Context, name, value string) error {
	_, err := idx.conn.ExecContext(ctx,
		`INSERT INTO settings (name, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, value, time.Now().Unix())
	if err != nil {
		return wrapIOErr("set_setting", err)
	}
	return nil
}

package metadata

import (
	"context"
)

// Nuke truncates every table and re-seeds ROOT. It is only ever invoked
// by the nuke CLI subcommand, which skips the persisted-setting checks
// that normally gate startup (spec.md §6).
func (idx *Index) Nuke(ctx context.Context) error {
	return idx.Transaction(ctx, func(tx *Index) error {
		for _, table := range []string{"directory_entries", "files", "file_changes", "settings", "sqlar"} {
			if _, err := tx.conn.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return wrapIOErr("nuke:"+table, err)
			}
		}
		return seedRootViaIndex(ctx, tx)
	})
}

// seedRootViaIndex re-inserts the ROOT file and its "."/".." entries
// after a nuke, using the same shape as the base migration's seed step.
func seedRootViaIndex(ctx context.Context, tx *Index) error {
	now := nowUnix()
	if _, err := tx.conn.ExecContext(ctx,
		`INSERT INTO files (id, version, kind, name, uid, gid, perms, size, sha512, encryption_key, compression, accessed_at, created_at, updated_at)
		 VALUES (?, 1, ?, '/', 0, 0, 0755, 0, '', '', '', ?, ?, ?)`,
		RootID, int(KindDirectory), now, now, now); err != nil {
		return wrapIOErr("nuke:seed_root", err)
	}
	if _, err := tx.conn.ExecContext(ctx,
		`INSERT INTO directory_entries (directory_file_id, entry_file_id, name, kind) VALUES (?, ?, '.', ?)`,
		RootID, RootID, int(KindDirectory)); err != nil {
		return wrapIOErr("nuke:seed_dot", err)
	}
	if _, err := tx.conn.ExecContext(ctx,
		`INSERT INTO directory_entries (directory_file_id, entry_file_id, name, kind) VALUES (?, ?, '..', ?)`,
		RootID, RootID, int(KindDirectory)); err != nil {
		return wrapIOErr("nuke:seed_dotdot", err)
	}
	return nil
}

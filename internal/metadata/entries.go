package metadata

import (
	"context"
	"database/sql"
	"strings"

	shadowerrors "github.com/objectfs/shadowfs/pkg/errors"
)

func scanEntry(row interface{ Scan(...any) error }) (*DirectoryEntry, error) {
	var e DirectoryEntry
	var kind int
	if err := row.Scan(&e.ID, &e.DirectoryFileID, &e.EntryFileID, &e.Name, &kind); err != nil {
		return nil, err
	}
	e.Kind = FileKind(kind)
	return &e, nil
}

// FindDirectoryEntry looks up the entry named name inside parentID,
// returning (nil, nil) on miss.
func (idx *Index) FindDirectoryEntry(ctx context.Context, parentID int64, name string) (*DirectoryEntry, error) {
	row := idx.conn.QueryRowContext(ctx,
		`SELECT id, directory_file_id, entry_file_id, name, kind FROM directory_entries WHERE directory_file_id = ? AND name = ?`,
		parentID, name)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapIOErr("find_directory_entry", err)
	}
	return e, nil
}

// FindParentDirectory returns the id of childID's parent directory,
// excluding the synthetic "."/".." entries, or (0, nil) if none exists
// (only possible for ROOT).
func (idx *Index) FindParentDirectory(ctx context.Context, childID int64) (int64, error) {
	row := idx.conn.QueryRowContext(ctx,
		`SELECT directory_file_id FROM directory_entries WHERE entry_file_id = ? AND name NOT IN ('.', '..') LIMIT 1`,
		childID)
	var parent int64
	err := row.Scan(&parent)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, wrapIOErr("find_parent_directory", err)
	}
	return parent, nil
}

// AddDirectoryEntry inserts a new entry and bumps the parent File's
// version.
func (idx *Index) AddDirectoryEntry(ctx context.Context, e DirectoryEntry) (int64, error) {
	res, err := idx.conn.ExecContext(ctx,
		`INSERT INTO directory_entries (directory_file_id, entry_file_id, name, kind) VALUES (?, ?, ?, ?)`,
		e.DirectoryFileID, e.EntryFileID, e.Name, int(e.Kind))
	if err != nil {
		return 0, wrapIOErr("add_directory_entry", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapIOErr("add_directory_entry:last_insert_id", err)
	}
	if err := idx.bumpVersion(ctx, e.DirectoryFileID); err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateDirectoryEntry replaces an entry's target and bumps the parent
// File's version.
func (idx *Index) UpdateDirectoryEntry(ctx context.Context, e DirectoryEntry) error {
	res, err := idx.conn.ExecContext(ctx,
		`UPDATE directory_entries SET entry_file_id = ?, name = ?, kind = ? WHERE id = ?`,
		e.EntryFileID, e.Name, int(e.Kind), e.ID)
	if err != nil {
		return wrapIOErr("update_directory_entry", err)
	}
	if err := requireOneRow(res, "update_directory_entry", e.ID); err != nil {
		return err
	}
	return idx.bumpVersion(ctx, e.DirectoryFileID)
}

// RemoveDirectoryEntry deletes a single entry row; it does not touch the
// File row it pointed at.
func (idx *Index) RemoveDirectoryEntry(ctx context.Context, entryID int64) error {
	if _, err := idx.conn.ExecContext(ctx, `DELETE FROM directory_entries WHERE id = ?`, entryID); err != nil {
		return wrapIOErr("remove_directory_entry", err)
	}
	return nil
}

// GetDirectoryEntries lists up to limit entries of parentID starting at
// offset, in insertion order.
func (idx *Index) GetDirectoryEntries(ctx context.Context, parentID int64, limit, offset int) ([]DirectoryEntry, error) {
	rows, err := idx.conn.QueryContext(ctx,
		`SELECT id, directory_file_id, entry_file_id, name, kind FROM directory_entries WHERE directory_file_id = ? ORDER BY id LIMIT ? OFFSET ?`,
		parentID, limit, offset)
	if err != nil {
		return nil, wrapIOErr("get_directory_entries", err)
	}
	defer rows.Close()

	var out []DirectoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, wrapIOErr("get_directory_entries:scan", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapIOErr("get_directory_entries:iterate", err)
	}
	return out, nil
}

func (idx *Index) bumpVersion(ctx context.Context, fileID int64) error {
	if _, err := idx.conn.ExecContext(ctx, `UPDATE files SET version = version + 1 WHERE id = ?`, fileID); err != nil {
		return wrapIOErr("bump_version", err)
	}
	return nil
}

// resolvePath splits path into components and walks the directory entry
// graph from ROOT, returning 0 when any component is missing.
func (idx *Index) resolvePath(ctx context.Context, path string) (int64, error) {
	path = strings.Trim(path, "/")
	current := RootID
	if path == "" {
		return current, nil
	}
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		entry, err := idx.FindDirectoryEntry(ctx, current, part)
		if err != nil {
			return 0, err
		}
		if entry == nil {
			return 0, nil
		}
		current = entry.EntryFileID
	}
	return current, nil
}

// GetFilePath walks parent links from id up to ROOT and returns the
// "/"-joined absolute path, failing if any link is missing.
func (idx *Index) GetFilePath(ctx context.Context, id int64) (string, error) {
	if id == RootID {
		return "/", nil
	}

	var parts []string
	cur := id
	for cur != RootID {
		entry, err := idx.entryFor(ctx, cur)
		if err != nil {
			return "", err
		}
		if entry == nil {
			return "", shadowerrors.New(shadowerrors.ErrCodeIO, "broken parent link").
				WithComponent("metadata").WithOperation("get_file_path").WithContext("id", itoa(id))
		}
		parts = append([]string{entry.Name}, parts...)
		cur = entry.DirectoryFileID
	}
	return "/" + strings.Join(parts, "/"), nil
}

// entryFor returns the non-"."/".." entry naming childID, i.e. its
// parent link.
func (idx *Index) entryFor(ctx context.Context, childID int64) (*DirectoryEntry, error) {
	row := idx.conn.QueryRowContext(ctx,
		`SELECT id, directory_file_id, entry_file_id, name, kind FROM directory_entries WHERE entry_file_id = ? AND name NOT IN ('.', '..') LIMIT 1`,
		childID)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapIOErr("entry_for", err)
	}
	return e, nil
}

// GetTree builds the full in-memory tree rooted at ROOT in a single scan
// of all directory entries, excluding the synthetic "."/".." self-links.
func (idx *Index) GetTree(ctx context.Context) (*Tree, error) {
	rows, err := idx.conn.QueryContext(ctx,
		`SELECT directory_file_id, entry_file_id, name FROM directory_entries WHERE name NOT IN ('.', '..')`)
	if err != nil {
		return nil, wrapIOErr("get_tree", err)
	}
	children := make(map[int64][]int64)
	for rows.Next() {
		var parent, child int64
		var name string
		if err := rows.Scan(&parent, &child, &name); err != nil {
			rows.Close()
			return nil, wrapIOErr("get_tree:scan", err)
		}
		children[parent] = append(children[parent], child)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, wrapIOErr("get_tree:iterate", err)
	}
	rows.Close()

	tree := &Tree{Nodes: make(map[int64]*TreeNode), Root: RootID}
	var walk func(id int64) error
	walk = func(id int64) error {
		if _, ok := tree.Nodes[id]; ok {
			return nil
		}
		f, err := idx.GetFile(ctx, id)
		if err != nil {
			return err
		}
		if f == nil {
			return nil
		}
		kids := children[id]
		tree.Nodes[id] = &TreeNode{File: *f, Children: kids}
		for _, k := range kids {
			if err := walk(k); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(RootID); err != nil {
		return nil, err
	}
	return tree, nil
}

package metadata

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"time"
)

// ShortHash derives the content-hash digest a FileChange records: the
// first 16 hex characters of the file's SHA-512, or empty when the file
// has no content yet.
func ShortHash(f File) string {
	if f.SHA512 == "" {
		return ""
	}
	if len(f.SHA512) > 16 {
		return f.SHA512[:16]
	}
	return f.SHA512
}

// RegisterFileChange appends a change-log entry for f. The caller is
// expected to have checked store_file_change_history before calling this.
func (idx *Index) RegisterFileChange(ctx context.Context, f File, kind ChangeKind) error {
	_, err := idx.conn.ExecContext(ctx,
		`INSERT INTO file_changes (file_id, file_version, kind, file_hash, changed_at) VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.Version, int(kind), ShortHash(f), time.Now().Unix())
	if err != nil {
		return wrapIOErr("register_file_change", err)
	}
	return nil
}

// sha512Hex is a small helper shared by the session/fsservice packages to
// compute the content hash spec.md requires File.sha512 to hold.
func sha512Hex(data []byte) string {
	sum := sha512.Sum512(data)
	return hex.EncodeToString(sum[:])
}

// SHA512Hex exposes sha512Hex for callers outside this package.
func SHA512Hex(data []byte) string {
	return sha512Hex(data)
}

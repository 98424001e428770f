// Package storage defines the object storage backend contract (component D)
// and its concrete implementations: local filesystem, Sqlar (archive-in-SQL),
// S3, and an embedded key/value store.
package storage

import (
	"context"
	"io"

	"github.com/objectfs/shadowfs/internal/objinfo"
)

// Backend stores and retrieves whole-object content addressed by an
// objinfo.Info. Every method is safe for concurrent use.
type Backend interface {
	// Get returns the full content of the object described by info.
	Get(ctx context.Context, info *objinfo.Info) ([]byte, error)
	// Put stores data under the key derived from info, mutating info's
	// FullPath to record where it actually landed.
	Put(ctx context.Context, info *objinfo.Info, data []byte) error
	// Remove deletes the object named by info. Implementations must treat
	// a missing object as success.
	Remove(ctx context.Context, info *objinfo.Info) error
	// Rename moves content from oldInfo's key to newInfo's key, used when
	// a path-addressed object's logical path changes.
	Rename(ctx context.Context, oldInfo, newInfo *objinfo.Info) error
	// Nuke deletes every object the backend holds and re-initializes any
	// on-disk structure it owns (bucket, archive table, root directory).
	Nuke(ctx context.Context) error
	// HealthCheck reports whether the backend can currently serve requests.
	HealthCheck(ctx context.Context) error
	// Close releases any resources (file handles, network clients) held
	// by the backend.
	Close() error
}

// Writer is implemented by backends that can stream a Put instead of
// buffering the whole object in memory first; optional, checked with a
// type assertion by callers that already hold an io.Reader.
type Writer interface {
	PutStream(ctx context.Context, info *objinfo.Info, r io.Reader, size int64) error
}

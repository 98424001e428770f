package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // pure-Go sqlite driver registration

	shadowerrors "github.com/objectfs/shadowfs/pkg/errors"
)

// queryer is satisfied by both *sql.DB and *sql.Tx, letting every CRUD
// method in this package run identically whether or not it is inside a
// caller-supplied transaction.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Index is the Metadata Index: the transactional store of files,
// directory entries, file-change history, and settings.
type Index struct {
	db   *sql.DB
	conn queryer

	// mu is held for the whole of a Transaction call, so transactions on
	// this Index run one at a time. Statements issued outside a
	// transaction do not take it.
	mu sync.Mutex
}

// Open opens (creating if absent) the sqlite-backed metadata index at
// dbPath and applies any pending migrations.
func Open(dbPath string) (*Index, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, shadowerrors.New(shadowerrors.ErrCodeIO, "open metadata database").WithCause(err).WithComponent("metadata")
	}
	db.SetMaxOpenConns(1) // sqlite + WAL: one writer connection keeps semantics simple and matches the single dispatcher model

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, shadowerrors.New(shadowerrors.ErrCodeIO, "apply migrations").WithCause(err).WithComponent("metadata")
	}

	return &Index{db: db, conn: db}, nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Ping verifies the underlying database connection is alive, for wiring
// into a health.Checker check.
func (idx *Index) Ping(ctx context.Context) error {
	return idx.db.PingContext(ctx)
}

// DB exposes the underlying *sql.DB so the Sqlar storage backend can share
// a single embedded database file with the Metadata Index instead of
// opening a handle of its own.
func (idx *Index) DB() *sql.DB {
	return idx.db
}

// Transaction runs fn against a new *Index bound to a single sql.Tx,
// committing on success and rolling back on the first error — the
// transaction(fn) operation from spec.md §4.1.
func (idx *Index) Transaction(ctx context.Context, fn func(tx *Index) error) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return shadowerrors.New(shadowerrors.ErrCodeIO, "begin transaction").WithCause(err).WithComponent("metadata")
	}

	txIndex := &Index{db: idx.db, conn: tx}
	if err := fn(txIndex); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return shadowerrors.New(shadowerrors.ErrCodeIO, "commit transaction").WithCause(err).WithComponent("metadata")
	}
	return nil
}

func wrapIOErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return shadowerrors.New(shadowerrors.ErrCodeIO, fmt.Sprintf("metadata: %s", op)).WithCause(err).WithComponent("metadata").WithOperation(op)
}

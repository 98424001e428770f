package fsservice

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/objectfs/shadowfs/internal/metadata"
	"github.com/objectfs/shadowfs/internal/objinfo"
	"github.com/objectfs/shadowfs/internal/session"
	"github.com/objectfs/shadowfs/internal/storage"
)

func newTestService(t *testing.T) (*Service, *metadata.Index) {
	t.Helper()
	dir := t.TempDir()
	idx, err := metadata.Open(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("metadata.Open error = %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })

	backend, err := storage.NewFileSystemBackend(filepath.Join(dir, "blobs"), false)
	if err != nil {
		t.Fatalf("NewFileSystemBackend error = %v", err)
	}

	sessions := session.New(idx, backend, false, objinfo.DedupPath)
	return New(idx, sessions, false, true, objinfo.DedupPath), idx
}

func TestMkdirThenLookupAndReaddir(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	dir, err := s.Mkdir(ctx, metadata.RootID, "a", 1000, 1000, 0o755)
	if err != nil {
		t.Fatalf("Mkdir error = %v", err)
	}

	found, err := s.Lookup(ctx, metadata.RootID, "a")
	if err != nil {
		t.Fatalf("Lookup error = %v", err)
	}
	if found == nil || found.ID != dir.ID {
		t.Fatalf("Lookup() = %+v, want id %d", found, dir.ID)
	}

	entries, err := s.Readdir(ctx, dir.ID, 0)
	if err != nil {
		t.Fatalf("Readdir error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("new directory has %d entries, want 2 (., ..)", len(entries))
	}

	rootEntries, err := s.Readdir(ctx, metadata.RootID, 0)
	if err != nil {
		t.Fatalf("Readdir(root) error = %v", err)
	}
	var sawA bool
	for _, e := range rootEntries {
		if e.Name == "a" {
			sawA = true
		}
	}
	if !sawA {
		t.Error("root directory listing missing entry 'a'")
	}
}

func TestMknodDuplicateFailsExists(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	if _, err := s.Mknod(ctx, metadata.RootID, "hello.txt", 1000, 1000, 0o644); err != nil {
		t.Fatalf("first Mknod error = %v", err)
	}
	if _, err := s.Mknod(ctx, metadata.RootID, "hello.txt", 1000, 1000, 0o644); err == nil {
		t.Fatal("expected ALREADY_EXISTS on duplicate mknod")
	}
}

func TestInvalidNameRejected(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	for _, name := range []string{"", ".", "..", "a/b"} {
		if _, err := s.Mknod(ctx, metadata.RootID, name, 0, 0, 0o644); err == nil {
			t.Errorf("Mknod(%q) should have failed name validation", name)
		}
	}
}

func TestWriteReadReleaseRoundTrip(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	f, err := s.Mknod(ctx, metadata.RootID, "hello.txt", 1000, 1000, 0o644)
	if err != nil {
		t.Fatalf("Mknod error = %v", err)
	}

	if err := s.Open(ctx, f.ID, session.OpenFlags{}); err != nil {
		t.Fatalf("Open error = %v", err)
	}
	if _, err := s.Write(ctx, f.ID, 0, []byte("Hello")); err != nil {
		t.Fatalf("Write error = %v", err)
	}
	if err := s.Release(ctx, f.ID); err != nil {
		t.Fatalf("Release error = %v", err)
	}

	got, err := s.GetAttr(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetAttr error = %v", err)
	}
	if got.Size != 5 {
		t.Errorf("Size = %d, want 5", got.Size)
	}
	if got.SHA512 == "" {
		t.Error("expected sha512 to be set after release")
	}

	if err := s.Open(ctx, f.ID, session.OpenFlags{ReadOnly: true}); err != nil {
		t.Fatalf("Open(read) error = %v", err)
	}
	data, err := s.Read(ctx, f.ID, 0, 16)
	if err != nil {
		t.Fatalf("Read error = %v", err)
	}
	if string(data) != "Hello" {
		t.Errorf("Read() = %q, want %q", data, "Hello")
	}
}

func TestRmdirFailsNotEmptyThenSucceeds(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	dir, err := s.Mkdir(ctx, metadata.RootID, "full", 0, 0, 0o755)
	if err != nil {
		t.Fatalf("Mkdir error = %v", err)
	}
	if _, err := s.Mknod(ctx, dir.ID, "child.txt", 0, 0, 0o644); err != nil {
		t.Fatalf("Mknod error = %v", err)
	}

	if err := s.Rmdir(ctx, metadata.RootID, "full"); err == nil {
		t.Fatal("expected NOT_EMPTY rmdir to fail")
	}

	if err := s.Unlink(ctx, dir.ID, "child.txt"); err != nil {
		t.Fatalf("Unlink error = %v", err)
	}
	if err := s.Rmdir(ctx, metadata.RootID, "full"); err != nil {
		t.Fatalf("Rmdir error = %v after child removed", err)
	}
}

func TestRenameVisibleUnderNewName(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	f, err := s.Mknod(ctx, metadata.RootID, "a", 0, 0, 0o644)
	if err != nil {
		t.Fatalf("Mknod error = %v", err)
	}

	if err := s.Rename(ctx, metadata.RootID, "a", "b"); err != nil {
		t.Fatalf("Rename error = %v", err)
	}

	if found, err := s.Lookup(ctx, metadata.RootID, "a"); err != nil || found != nil {
		t.Errorf("Lookup('a') = %+v, %v; want nil, nil", found, err)
	}
	found, err := s.Lookup(ctx, metadata.RootID, "b")
	if err != nil {
		t.Fatalf("Lookup('b') error = %v", err)
	}
	if found == nil || found.ID != f.ID {
		t.Fatalf("Lookup('b') = %+v, want id %d", found, f.ID)
	}
}

func TestCopyFileDuplicatesContent(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	src, err := s.Mknod(ctx, metadata.RootID, "src.txt", 0, 0, 0o644)
	if err != nil {
		t.Fatalf("Mknod error = %v", err)
	}
	if err := s.Open(ctx, src.ID, session.OpenFlags{}); err != nil {
		t.Fatalf("Open error = %v", err)
	}
	if _, err := s.Write(ctx, src.ID, 0, []byte("copy me")); err != nil {
		t.Fatalf("Write error = %v", err)
	}
	if err := s.Release(ctx, src.ID); err != nil {
		t.Fatalf("Release error = %v", err)
	}

	dst, err := s.CopyFile(ctx, metadata.RootID, "src.txt", metadata.RootID, "dst.txt")
	if err != nil {
		t.Fatalf("CopyFile error = %v", err)
	}

	if err := s.Open(ctx, dst.ID, session.OpenFlags{ReadOnly: true}); err != nil {
		t.Fatalf("Open(dst) error = %v", err)
	}
	data, err := s.Read(ctx, dst.ID, 0, 32)
	if err != nil {
		t.Fatalf("Read(dst) error = %v", err)
	}
	if string(data) != "copy me" {
		t.Errorf("copied content = %q, want %q", data, "copy me")
	}
}

func TestCopyFileFailsWhenTargetExists(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	if _, err := s.Mknod(ctx, metadata.RootID, "src.txt", 0, 0, 0o644); err != nil {
		t.Fatalf("Mknod error = %v", err)
	}
	if _, err := s.Mknod(ctx, metadata.RootID, "dst.txt", 0, 0, 0o644); err != nil {
		t.Fatalf("Mknod error = %v", err)
	}

	if _, err := s.CopyFile(ctx, metadata.RootID, "src.txt", metadata.RootID, "dst.txt"); err == nil {
		t.Fatal("expected ALREADY_EXISTS when target exists")
	}
}

func TestMoveFileCrossDirectory(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	dirA, err := s.Mkdir(ctx, metadata.RootID, "a", 0, 0, 0o755)
	if err != nil {
		t.Fatalf("Mkdir error = %v", err)
	}
	dirB, err := s.Mkdir(ctx, metadata.RootID, "b", 0, 0, 0o755)
	if err != nil {
		t.Fatalf("Mkdir error = %v", err)
	}
	f, err := s.Mknod(ctx, dirA.ID, "x.txt", 0, 0, 0o644)
	if err != nil {
		t.Fatalf("Mknod error = %v", err)
	}

	if err := s.MoveFile(ctx, dirA.ID, "x.txt", dirB.ID, "y.txt"); err != nil {
		t.Fatalf("MoveFile error = %v", err)
	}

	if found, _ := s.Lookup(ctx, dirA.ID, "x.txt"); found != nil {
		t.Error("source entry should no longer exist")
	}
	found, err := s.Lookup(ctx, dirB.ID, "y.txt")
	if err != nil {
		t.Fatalf("Lookup error = %v", err)
	}
	if found == nil || found.ID != f.ID {
		t.Fatalf("Lookup('y.txt') = %+v, want id %d", found, f.ID)
	}
}

func TestSetAttrPersistsCallerSuppliedMtimeAndCrtime(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	f, err := s.Mknod(ctx, metadata.RootID, "a.txt", 1000, 1000, 0o644)
	if err != nil {
		t.Fatalf("Mknod error = %v", err)
	}

	mtime := time.Unix(1_000_000, 0).UTC()
	crtime := time.Unix(2_000_000, 0).UTC()
	updated, err := s.SetAttr(ctx, f.ID, SetAttrOptions{Mtime: &mtime, Crtime: &crtime})
	if err != nil {
		t.Fatalf("SetAttr error = %v", err)
	}
	if !updated.UpdatedAt.Equal(mtime) {
		t.Errorf("UpdatedAt = %v, want %v", updated.UpdatedAt, mtime)
	}
	if !updated.CreatedAt.Equal(crtime) {
		t.Errorf("CreatedAt = %v, want %v", updated.CreatedAt, crtime)
	}

	reread, err := s.index.GetFile(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetFile error = %v", err)
	}
	if !reread.UpdatedAt.Equal(mtime) {
		t.Errorf("persisted UpdatedAt = %v, want %v", reread.UpdatedAt, mtime)
	}
	if !reread.CreatedAt.Equal(crtime) {
		t.Errorf("persisted CreatedAt = %v, want %v", reread.CreatedAt, crtime)
	}
}

func TestSetAttrLeavesTimestampsUntouchedWhenNotRequested(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	f, err := s.Mknod(ctx, metadata.RootID, "a.txt", 1000, 1000, 0o644)
	if err != nil {
		t.Fatalf("Mknod error = %v", err)
	}
	before, err := s.index.GetFile(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetFile error = %v", err)
	}

	mode := uint32(0o600)
	updated, err := s.SetAttr(ctx, f.ID, SetAttrOptions{Mode: &mode})
	if err != nil {
		t.Fatalf("SetAttr error = %v", err)
	}
	if !updated.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("UpdatedAt changed on a mode-only SetAttr: %v -> %v", before.UpdatedAt, updated.UpdatedAt)
	}
	if !updated.CreatedAt.Equal(before.CreatedAt) {
		t.Errorf("CreatedAt changed on a mode-only SetAttr: %v -> %v", before.CreatedAt, updated.CreatedAt)
	}
	if updated.Perms != mode {
		t.Errorf("Perms = %o, want %o", updated.Perms, mode)
	}
}

package fuse

import (
	"context"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/objectfs/shadowfs/internal/fsservice"
	"github.com/objectfs/shadowfs/internal/metadata"
	"github.com/objectfs/shadowfs/internal/objinfo"
	"github.com/objectfs/shadowfs/internal/session"
	"github.com/objectfs/shadowfs/internal/storage"
)

func newTestFileSystem(t *testing.T) *FileSystem {
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
	service := fsservice.New(idx, sessions, false, true, objinfo.DedupPath)

	return NewFileSystem(service, &Config{
		MountPoint:  dir,
		DefaultUID:  1000,
		DefaultGID:  1000,
		DefaultMode: 0o644,
	})
}

func rootNode(fsys *FileSystem) *Node {
	return fsys.Root().(*Node)
}

func TestNodeCreateWriteReadRelease(t *testing.T) {
	fsys := newTestFileSystem(t)
	root := rootNode(fsys)
	ctx := context.Background()

	var out fuse.EntryOut
	_, fh, _, errno := root.Create(ctx, "hello.txt", 0, 0o644, &out)
	if errno != 0 {
		t.Fatalf("Create errno = %v", errno)
	}
	handle := fh.(*FileHandle)

	n, errno := handle.Write(ctx, []byte("hello world"), 0)
	if errno != 0 {
		t.Fatalf("Write errno = %v", errno)
	}
	if n != uint32(len("hello world")) {
		t.Fatalf("Write() = %d, want %d", n, len("hello world"))
	}

	res, errno := handle.Read(ctx, make([]byte, 32), 0)
	if errno != 0 {
		t.Fatalf("Read errno = %v", errno)
	}
	buf := make([]byte, 32)
	data, status := res.Bytes(buf)
	if status != fuse.OK {
		t.Fatalf("ReadResult.Bytes status = %v", status)
	}
	if string(data) != "hello world" {
		t.Fatalf("Read() = %q, want %q", data, "hello world")
	}

	if errno := handle.Release(ctx); errno != 0 {
		t.Fatalf("Release errno = %v", errno)
	}
}

func TestNodeLookupMissingReturnsENOENT(t *testing.T) {
	fsys := newTestFileSystem(t)
	root := rootNode(fsys)
	ctx := context.Background()

	var out fuse.EntryOut
	_, errno := root.Lookup(ctx, "nope", &out)
	if errno != syscall.ENOENT {
		t.Fatalf("Lookup errno = %v, want ENOENT", errno)
	}
}

func TestNodeMkdirLookupReaddir(t *testing.T) {
	fsys := newTestFileSystem(t)
	root := rootNode(fsys)
	ctx := context.Background()

	var mkOut fuse.EntryOut
	dirInode, errno := root.Mkdir(ctx, "sub", 0o755, &mkOut)
	if errno != 0 {
		t.Fatalf("Mkdir errno = %v", errno)
	}
	dirNode := dirInode.Operations().(*Node)

	var lookupOut fuse.EntryOut
	found, errno := root.Lookup(ctx, "sub", &lookupOut)
	if errno != 0 {
		t.Fatalf("Lookup errno = %v", errno)
	}
	if found.Operations().(*Node).id != dirNode.id {
		t.Fatalf("Lookup resolved different id than Mkdir returned")
	}

	stream, errno := dirNode.Readdir(ctx)
	if errno != 0 {
		t.Fatalf("Readdir errno = %v", errno)
	}
	count := 0
	for stream.HasNext() {
		if _, errno := stream.Next(); errno == 0 {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("new directory Readdir() yielded %d entries, want 2 (., ..)", count)
	}
}

func TestNodeSetattrSize(t *testing.T) {
	fsys := newTestFileSystem(t)
	root := rootNode(fsys)
	ctx := context.Background()

	var out fuse.EntryOut
	fileInode, _, _, errno := root.Create(ctx, "trunc.txt", 0, 0o644, &out)
	if errno != 0 {
		t.Fatalf("Create errno = %v", errno)
	}
	fileNode := fileInode.Operations().(*Node)

	in := &fuse.SetAttrIn{}
	in.Valid = fuse.FATTR_SIZE
	in.Size = 42

	var attrOut fuse.AttrOut
	if errno := fileNode.Setattr(ctx, nil, in, &attrOut); errno != 0 {
		t.Fatalf("Setattr errno = %v", errno)
	}
	if attrOut.Size != 42 {
		t.Fatalf("Setattr() resulting size = %d, want 42", attrOut.Size)
	}
}

func TestNodeUnlink(t *testing.T) {
	fsys := newTestFileSystem(t)
	root := rootNode(fsys)
	ctx := context.Background()

	var out fuse.EntryOut
	if _, _, _, errno := root.Create(ctx, "gone.txt", 0, 0o644, &out); errno != 0 {
		t.Fatalf("Create errno = %v", errno)
	}
	if errno := root.Unlink(ctx, "gone.txt"); errno != 0 {
		t.Fatalf("Unlink errno = %v", errno)
	}

	var lookupOut fuse.EntryOut
	if _, errno := root.Lookup(ctx, "gone.txt", &lookupOut); errno != syscall.ENOENT {
		t.Fatalf("Lookup after Unlink errno = %v, want ENOENT", errno)
	}
}

package fuse

import (
	"context"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/objectfs/shadowfs/internal/fsservice"
	"github.com/objectfs/shadowfs/internal/metadata"
	"github.com/objectfs/shadowfs/internal/session"
	shadowerrors "github.com/objectfs/shadowfs/pkg/errors"
)

// FilesystemStats tracks per-operation counters for the mounted tree,
// returned by GetStats. The "stats" CLI subcommand and the health/metrics
// wiring do not read them.
type FilesystemStats struct {
	mu sync.Mutex

	Lookups int64
	Opens   int64
	Reads   int64
	Writes  int64
	Creates int64
	Deletes int64
	Errors  int64

	BytesRead    int64
	BytesWritten int64
}

func (s *FilesystemStats) inc(counter *int64) {
	atomic.AddInt64(counter, 1)
}

// Snapshot returns a copy of the current counters.
func (s *FilesystemStats) Snapshot() FilesystemStats {
	return FilesystemStats{
		Lookups:      atomic.LoadInt64(&s.Lookups),
		Opens:        atomic.LoadInt64(&s.Opens),
		Reads:        atomic.LoadInt64(&s.Reads),
		Writes:       atomic.LoadInt64(&s.Writes),
		Creates:      atomic.LoadInt64(&s.Creates),
		Deletes:      atomic.LoadInt64(&s.Deletes),
		Errors:       atomic.LoadInt64(&s.Errors),
		BytesRead:    atomic.LoadInt64(&s.BytesRead),
		BytesWritten: atomic.LoadInt64(&s.BytesWritten),
	}
}

// Config configures the node-based go-fuse filesystem.
type Config struct {
	MountPoint string

	ReadOnly bool

	DefaultUID  uint32
	DefaultGID  uint32
	DefaultMode uint32
	CacheTTL    time.Duration
}

// FileSystem implements the shadowfs FUSE tree on top of a Filesystem
// Service: every node interface method below translates directly into one
// fsservice.Service call and maps its error through pkg/errors.Errno.
type FileSystem struct {
	service *fsservice.Service
	config  *Config
	stats   *FilesystemStats
}

// NewFileSystem builds a FileSystem fronting service.
func NewFileSystem(service *fsservice.Service, config *Config) *FileSystem {
	if config == nil {
		config = &Config{DefaultUID: 1000, DefaultGID: 1000, DefaultMode: 0644, CacheTTL: 5 * time.Second}
	}
	return &FileSystem{service: service, config: config, stats: &FilesystemStats{}}
}

// Root returns the root node, backed by metadata.RootID.
func (f *FileSystem) Root() fs.InodeEmbedder {
	return &Node{fsys: f, id: metadata.RootID}
}

// GetStats returns a snapshot of operation counters.
func (f *FileSystem) GetStats() *FilesystemStats {
	snap := f.stats.Snapshot()
	return &snap
}

// Node is one shadowfs file or directory, identified by its Metadata
// Index file id. The same Node type serves both kinds; Kind distinguishes
// them inside each handler.
type Node struct {
	fs.Inode
	fsys *FileSystem
	id   int64
}

func errnoOf(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	return shadowerrors.Errno(err)
}

func modeOf(f *metadata.File) uint32 {
	if f.Kind == metadata.KindDirectory {
		return fuse.S_IFDIR | f.Perms
	}
	return fuse.S_IFREG | f.Perms
}

func fillAttr(out *fuse.Attr, f *metadata.File) {
	out.Ino = uint64(f.ID)
	out.Mode = modeOf(f)
	out.Size = uint64(f.Size)
	out.Uid = f.UID
	out.Gid = f.GID
	out.Atime = uint64(f.AccessedAt.Unix())
	out.Mtime = uint64(f.UpdatedAt.Unix())
	out.Ctime = uint64(f.UpdatedAt.Unix())
	if f.Kind == metadata.KindDirectory {
		out.Nlink = 2
	} else {
		out.Nlink = 1
	}
}

func (n *Node) childInode(ctx context.Context, child *metadata.File) *fs.Inode {
	mode := fuse.S_IFREG
	if child.Kind == metadata.KindDirectory {
		mode = fuse.S_IFDIR
	}
	return n.NewInode(ctx, &Node{fsys: n.fsys, id: child.ID}, fs.StableAttr{
		Mode: mode,
		Ino:  uint64(child.ID),
	})
}

var _ fs.NodeLookuper = (*Node)(nil)
var _ fs.NodeGetattrer = (*Node)(nil)
var _ fs.NodeSetattrer = (*Node)(nil)
var _ fs.NodeReaddirer = (*Node)(nil)
var _ fs.NodeMkdirer = (*Node)(nil)
var _ fs.NodeCreater = (*Node)(nil)
var _ fs.NodeUnlinker = (*Node)(nil)
var _ fs.NodeRmdirer = (*Node)(nil)
var _ fs.NodeRenamer = (*Node)(nil)
var _ fs.NodeOpener = (*Node)(nil)

// Lookup resolves name inside the directory node n.
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.fsys.stats.inc(&n.fsys.stats.Lookups)

	child, err := n.fsys.service.Lookup(ctx, n.id, name)
	if err != nil {
		n.fsys.stats.inc(&n.fsys.stats.Errors)
		return nil, errnoOf(err)
	}
	if child == nil {
		return nil, syscall.ENOENT
	}

	fillAttr(&out.Attr, child)
	out.SetAttrTimeout(n.fsys.config.CacheTTL)
	out.SetEntryTimeout(n.fsys.config.CacheTTL)

	return n.childInode(ctx, child), 0
}

// Getattr fills out with n's current attributes.
func (n *Node) Getattr(ctx context.Context, fhandle fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	f, err := n.fsys.service.GetAttr(ctx, n.id)
	if err != nil {
		return errnoOf(err)
	}
	fillAttr(&out.Attr, f)
	out.SetTimeout(n.fsys.config.CacheTTL)
	return 0
}

// Setattr applies the requested subset of in to n.
func (n *Node) Setattr(ctx context.Context, fhandle fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	var opts fsservice.SetAttrOptions
	if in.Valid&fuse.FATTR_MODE != 0 {
		m := in.Mode &^ uint32(syscall.S_IFMT)
		opts.Mode = &m
	}
	if in.Valid&fuse.FATTR_UID != 0 {
		uid := in.Uid
		opts.UID = &uid
	}
	if in.Valid&fuse.FATTR_GID != 0 {
		gid := in.Gid
		opts.GID = &gid
	}
	if in.Valid&fuse.FATTR_SIZE != 0 {
		s := int64(in.Size)
		opts.Size = &s
	}
	if in.Valid&fuse.FATTR_ATIME != 0 {
		t := time.Unix(int64(in.Atime), int64(in.Atimensec))
		opts.Atime = &t
	}
	if in.Valid&fuse.FATTR_MTIME != 0 {
		t := time.Unix(int64(in.Mtime), int64(in.Mtimensec))
		opts.Mtime = &t
	}

	f, err := n.fsys.service.SetAttr(ctx, n.id, opts)
	if err != nil {
		return errnoOf(err)
	}
	fillAttr(&out.Attr, f)
	return 0
}

// Readdir lists n's directory entries as a DirStream.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := n.fsys.service.Readdir(ctx, n.id, 0)
	if err != nil {
		n.fsys.stats.inc(&n.fsys.stats.Errors)
		return nil, errnoOf(err)
	}

	fuseEntries := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(fuse.S_IFREG)
		if e.Kind == metadata.KindDirectory {
			mode = fuse.S_IFDIR
		}
		fuseEntries = append(fuseEntries, fuse.DirEntry{
			Name: e.Name,
			Ino:  uint64(e.EntryFileID),
			Mode: mode,
		})
	}
	return fs.NewListDirStream(fuseEntries), 0
}

// Mkdir creates a directory named name inside n.
func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.fsys.config.ReadOnly {
		return nil, syscall.EROFS
	}
	uid, gid := n.fsys.config.DefaultUID, n.fsys.config.DefaultGID

	child, err := n.fsys.service.Mkdir(ctx, n.id, name, uid, gid, mode)
	if err != nil {
		n.fsys.stats.inc(&n.fsys.stats.Errors)
		return nil, errnoOf(err)
	}
	fillAttr(&out.Attr, child)
	return n.childInode(ctx, child), 0
}

// Create creates a regular file named name inside n and opens it.
func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	if n.fsys.config.ReadOnly {
		return nil, nil, 0, syscall.EROFS
	}
	uid, gid := n.fsys.config.DefaultUID, n.fsys.config.DefaultGID

	child, err := n.fsys.service.Mknod(ctx, n.id, name, uid, gid, mode)
	if err != nil {
		n.fsys.stats.inc(&n.fsys.stats.Errors)
		return nil, nil, 0, errnoOf(err)
	}
	n.fsys.stats.inc(&n.fsys.stats.Creates)

	if err := n.fsys.service.Open(ctx, child.ID, openFlagsOf(flags)); err != nil {
		return nil, nil, 0, errnoOf(err)
	}
	n.fsys.stats.inc(&n.fsys.stats.Opens)

	fillAttr(&out.Attr, child)
	return n.childInode(ctx, child), &FileHandle{fsys: n.fsys, id: child.ID}, 0, 0
}

// Unlink removes a regular-file entry named name from n.
func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	if n.fsys.config.ReadOnly {
		return syscall.EROFS
	}
	if err := n.fsys.service.Unlink(ctx, n.id, name); err != nil {
		n.fsys.stats.inc(&n.fsys.stats.Errors)
		return errnoOf(err)
	}
	n.fsys.stats.inc(&n.fsys.stats.Deletes)
	return 0
}

// Rmdir removes an empty directory entry named name from n.
func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	if n.fsys.config.ReadOnly {
		return syscall.EROFS
	}
	if err := n.fsys.service.Rmdir(ctx, n.id, name); err != nil {
		n.fsys.stats.inc(&n.fsys.stats.Errors)
		return errnoOf(err)
	}
	n.fsys.stats.inc(&n.fsys.stats.Deletes)
	return 0
}

// Rename moves oldName (inside n) to newName inside newParent.
func (n *Node) Rename(ctx context.Context, oldName string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if n.fsys.config.ReadOnly {
		return syscall.EROFS
	}
	target, ok := newParent.(*Node)
	if !ok {
		return syscall.EINVAL
	}

	var err error
	if target.id == n.id {
		err = n.fsys.service.Rename(ctx, n.id, oldName, newName)
	} else {
		err = n.fsys.service.MoveFile(ctx, n.id, oldName, target.id, newName)
	}
	if err != nil {
		n.fsys.stats.inc(&n.fsys.stats.Errors)
		return errnoOf(err)
	}
	return 0
}

// Open establishes a Session Cache entry for n and returns a FileHandle.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if n.fsys.config.ReadOnly && flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	if err := n.fsys.service.Open(ctx, n.id, openFlagsOf(flags)); err != nil {
		n.fsys.stats.inc(&n.fsys.stats.Errors)
		return nil, 0, errnoOf(err)
	}
	n.fsys.stats.inc(&n.fsys.stats.Opens)
	return &FileHandle{fsys: n.fsys, id: n.id}, 0, 0
}

func openFlagsOf(flags uint32) session.OpenFlags {
	return session.OpenFlags{
		ReadOnly:  flags&(syscall.O_WRONLY|syscall.O_RDWR) == 0,
		Exclusive: flags&syscall.O_EXCL != 0,
		Append:    flags&syscall.O_APPEND != 0,
	}
}

// FileHandle is the open-file state returned by Create/Open; every method
// proxies straight to the Filesystem Service using the id captured at
// open time.
type FileHandle struct {
	fsys *FileSystem
	id   int64
}

var _ fs.FileReader = (*FileHandle)(nil)
var _ fs.FileWriter = (*FileHandle)(nil)
var _ fs.FileReleaser = (*FileHandle)(nil)

// Read returns up to len(dest) bytes of the open session starting at off.
func (h *FileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.fsys.stats.inc(&h.fsys.stats.Reads)

	data, err := h.fsys.service.Read(ctx, h.id, off, len(dest))
	if err != nil {
		h.fsys.stats.inc(&h.fsys.stats.Errors)
		return nil, errnoOf(err)
	}
	atomic.AddInt64(&h.fsys.stats.BytesRead, int64(len(data)))
	return fuse.ReadResultData(data), 0
}

// Write splices data into the open session at off.
func (h *FileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	if h.fsys.config.ReadOnly {
		return 0, syscall.EROFS
	}
	h.fsys.stats.inc(&h.fsys.stats.Writes)

	n, err := h.fsys.service.Write(ctx, h.id, off, data)
	if err != nil {
		h.fsys.stats.inc(&h.fsys.stats.Errors)
		return 0, errnoOf(err)
	}
	atomic.AddInt64(&h.fsys.stats.BytesWritten, int64(n))
	return uint32(n), 0
}

// Release closes the session, flushing modified content through the
// configured storage wrapper chain.
func (h *FileHandle) Release(ctx context.Context) syscall.Errno {
	if err := h.fsys.service.Release(ctx, h.id); err != nil {
		h.fsys.stats.inc(&h.fsys.stats.Errors)
		return errnoOf(err)
	}
	return 0
}

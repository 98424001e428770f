//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/objectfs/shadowfs/internal/fsservice"
	"github.com/objectfs/shadowfs/internal/metadata"
	"github.com/objectfs/shadowfs/internal/metrics"
	"github.com/objectfs/shadowfs/internal/session"
	shadowerrors "github.com/objectfs/shadowfs/pkg/errors"
)

// CgoFuseFS implements shadowfs on top of cgofuse's path-based
// FileSystemInterface, for platforms (macOS, Windows) without a native
// go-fuse driver. Every handler resolves its path to a Metadata Index file
// id via resolvePath, then calls straight into the same
// fsservice.Service the default go-fuse build uses.
type CgoFuseFS struct {
	fuse.FileSystemBase

	service *fsservice.Service
	metrics *metrics.Collector
	config  *Config

	mu         sync.RWMutex
	openHandle map[uint64]int64 // fh -> file id
	nextHandle uint64

	host    *fuse.FileSystemHost
	mounted bool
}

// NewCgoFuseFS builds a CgoFuseFS fronting service.
func NewCgoFuseFS(service *fsservice.Service, collector *metrics.Collector, config *Config) *CgoFuseFS {
	return &CgoFuseFS{
		service:    service,
		metrics:    collector,
		config:     config,
		openHandle: make(map[uint64]int64),
		nextHandle: 1,
	}
}

// Mount mounts the filesystem at config.MountPoint.
func (f *CgoFuseFS) Mount(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mounted {
		return fmt.Errorf("filesystem already mounted")
	}

	f.host = fuse.NewFileSystemHost(f)
	options := []string{"-o", fmt.Sprintf("fsname=shadowfs")}

	go func() {
		if ret := f.host.Mount(f.config.MountPoint, options); !ret {
			log.Printf("cgofuse mount returned failure")
		}
	}()

	time.Sleep(100 * time.Millisecond)
	f.mounted = true
	log.Printf("shadowfs mounted at %s", f.config.MountPoint)
	return nil
}

// Unmount unmounts the filesystem.
func (f *CgoFuseFS) Unmount() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.mounted {
		return fmt.Errorf("filesystem not mounted")
	}
	if f.host != nil && !f.host.Unmount() {
		return fmt.Errorf("unmount failed")
	}
	f.mounted = false
	return nil
}

// IsMounted reports whether the filesystem is currently mounted.
func (f *CgoFuseFS) IsMounted() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mounted
}

// GetStats returns filesystem statistics. cgofuse is a secondary binding;
// detailed per-operation counters live on the go-fuse FileSystem only.
func (f *CgoFuseFS) GetStats() *FilesystemStats {
	return &FilesystemStats{}
}

// resolvePath walks path component by component from the root, using
// Service.Lookup at each step, returning the resolved file id.
func (f *CgoFuseFS) resolvePath(ctx context.Context, path string) (int64, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return metadata.RootID, nil
	}

	id := metadata.RootID
	for _, part := range strings.Split(path, "/") {
		child, err := f.service.Lookup(ctx, id, part)
		if err != nil {
			return 0, err
		}
		if child == nil {
			return 0, shadowerrors.New(shadowerrors.ErrCodeNotFound, "no such file").WithComponent("fuse").WithOperation("resolve_path")
		}
		id = child.ID
	}
	return id, nil
}

func (f *CgoFuseFS) splitParent(path string) (string, string) {
	path = strings.Trim(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

func errcOf(err error) int {
	if err == nil {
		return 0
	}
	return -int(shadowerrors.Errno(err))
}

func (f *CgoFuseFS) recordOperation(op string, start time.Time, success bool) {
	if f.metrics != nil {
		f.metrics.RecordOperation(op, time.Since(start), 0, success)
	}
}

func cgoModeOf(f *metadata.File) uint32 {
	if f.Kind == metadata.KindDirectory {
		return fuse.S_IFDIR | f.Perms
	}
	return fuse.S_IFREG | f.Perms
}

func fillStat(stat *fuse.Stat_t, file *metadata.File) {
	stat.Mode = cgoModeOf(file)
	stat.Size = file.Size
	stat.Uid = file.UID
	stat.Gid = file.GID
	if file.Kind == metadata.KindDirectory {
		stat.Nlink = 2
	} else {
		stat.Nlink = 1
	}
	stat.Mtim.Sec = file.UpdatedAt.Unix()
	stat.Atim.Sec = file.AccessedAt.Unix()
	stat.Ctim.Sec = file.UpdatedAt.Unix()
}

// Getattr fills stat with the attributes of path.
func (f *CgoFuseFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	start := time.Now()
	ctx := context.Background()

	id, err := f.resolvePath(ctx, path)
	if err != nil {
		f.recordOperation("getattr", start, false)
		return errcOf(err)
	}
	file, err := f.service.GetAttr(ctx, id)
	if err != nil {
		f.recordOperation("getattr", start, false)
		return errcOf(err)
	}
	fillStat(stat, file)
	f.recordOperation("getattr", start, true)
	return 0
}

// Mkdir creates a directory at path.
func (f *CgoFuseFS) Mkdir(path string, mode uint32) int {
	ctx := context.Background()
	parentPath, name := f.splitParent(path)
	parentID, err := f.resolvePath(ctx, parentPath)
	if err != nil {
		return errcOf(err)
	}
	_, err = f.service.Mkdir(ctx, parentID, name, f.config.DefaultUID, f.config.DefaultGID, mode)
	return errcOf(err)
}

// Unlink removes the regular file at path.
func (f *CgoFuseFS) Unlink(path string) int {
	ctx := context.Background()
	parentPath, name := f.splitParent(path)
	parentID, err := f.resolvePath(ctx, parentPath)
	if err != nil {
		return errcOf(err)
	}
	return errcOf(f.service.Unlink(ctx, parentID, name))
}

// Rmdir removes the empty directory at path.
func (f *CgoFuseFS) Rmdir(path string) int {
	ctx := context.Background()
	parentPath, name := f.splitParent(path)
	parentID, err := f.resolvePath(ctx, parentPath)
	if err != nil {
		return errcOf(err)
	}
	return errcOf(f.service.Rmdir(ctx, parentID, name))
}

// Rename moves oldpath to newpath.
func (f *CgoFuseFS) Rename(oldpath string, newpath string) int {
	ctx := context.Background()
	oldParentPath, oldName := f.splitParent(oldpath)
	newParentPath, newName := f.splitParent(newpath)

	oldParentID, err := f.resolvePath(ctx, oldParentPath)
	if err != nil {
		return errcOf(err)
	}
	newParentID, err := f.resolvePath(ctx, newParentPath)
	if err != nil {
		return errcOf(err)
	}

	if oldParentID == newParentID {
		return errcOf(f.service.Rename(ctx, oldParentID, oldName, newName))
	}
	return errcOf(f.service.MoveFile(ctx, oldParentID, oldName, newParentID, newName))
}

// Create creates a regular file at path and opens it.
func (f *CgoFuseFS) Create(path string, flags int, mode uint32) (int, uint64) {
	ctx := context.Background()
	parentPath, name := f.splitParent(path)
	parentID, err := f.resolvePath(ctx, parentPath)
	if err != nil {
		return errcOf(err), 0
	}

	file, err := f.service.Mknod(ctx, parentID, name, f.config.DefaultUID, f.config.DefaultGID, mode)
	if err != nil {
		return errcOf(err), 0
	}
	return f.openID(ctx, file.ID, flags)
}

// Open opens the file at path.
func (f *CgoFuseFS) Open(path string, flags int) (int, uint64) {
	ctx := context.Background()
	id, err := f.resolvePath(ctx, path)
	if err != nil {
		return errcOf(err), 0
	}
	return f.openID(ctx, id, flags)
}

func (f *CgoFuseFS) openID(ctx context.Context, id int64, flags int) (int, uint64) {
	openFlags := session.OpenFlags{ReadOnly: flags&(fuseOWronly|fuseORdwr) == 0}
	if err := f.service.Open(ctx, id, openFlags); err != nil {
		return errcOf(err), 0
	}

	f.mu.Lock()
	handle := f.nextHandle
	f.nextHandle++
	f.openHandle[handle] = id
	f.mu.Unlock()

	return 0, handle
}

// Read reads from the open file handle fh.
func (f *CgoFuseFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	start := time.Now()
	ctx := context.Background()

	f.mu.RLock()
	id, ok := f.openHandle[fh]
	f.mu.RUnlock()
	if !ok {
		return -int(shadowerrors.Errno(shadowerrors.New(shadowerrors.ErrCodeInvalidArg, "bad file handle")))
	}

	data, err := f.service.Read(ctx, id, ofst, len(buff))
	if err != nil {
		f.recordOperation("read", start, false)
		return errcOf(err)
	}
	copy(buff, data)
	f.recordOperation("read", start, true)
	return len(data)
}

// Write writes to the open file handle fh.
func (f *CgoFuseFS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	start := time.Now()
	ctx := context.Background()

	f.mu.RLock()
	id, ok := f.openHandle[fh]
	f.mu.RUnlock()
	if !ok {
		return -int(shadowerrors.Errno(shadowerrors.New(shadowerrors.ErrCodeInvalidArg, "bad file handle")))
	}

	n, err := f.service.Write(ctx, id, ofst, buff)
	if err != nil {
		f.recordOperation("write", start, false)
		return errcOf(err)
	}
	f.recordOperation("write", start, true)
	return n
}

// Release closes the open file handle fh.
func (f *CgoFuseFS) Release(path string, fh uint64) int {
	ctx := context.Background()

	f.mu.Lock()
	id, ok := f.openHandle[fh]
	delete(f.openHandle, fh)
	f.mu.Unlock()
	if !ok {
		return 0
	}

	return errcOf(f.service.Release(ctx, id))
}

// Readdir lists the directory at path.
func (f *CgoFuseFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	ctx := context.Background()

	id, err := f.resolvePath(ctx, path)
	if err != nil {
		return errcOf(err)
	}
	entries, err := f.service.Readdir(ctx, id, 0)
	if err != nil {
		return errcOf(err)
	}

	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		child, err := f.service.GetAttr(ctx, e.EntryFileID)
		if err != nil {
			continue
		}
		stat := &fuse.Stat_t{}
		fillStat(stat, child)
		if !fill(e.Name, stat, 0) {
			break
		}
	}
	return 0
}

const (
	fuseOWronly = 1
	fuseORdwr   = 2
)

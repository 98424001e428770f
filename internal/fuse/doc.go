/*
Package fuse mounts the shadowfs Metadata Index and its storage backends
as a POSIX filesystem (component H). Two FUSE bindings are built behind a
build tag:

  - default (no tag): github.com/hanwen/go-fuse/v2, a node-based API keyed
    by inode. Node wraps a Metadata Index file id; FileHandle wraps an
    open session on that id.
  - cgofuse (-tags cgofuse): github.com/winfsp/cgofuse, a path-based API
    for platforms without a native go-fuse driver (macOS, Windows).
    CgoFuseFS resolves each path to a file id by walking directory
    entries from the root, then calls the same fsservice.Service.

Both bindings are thin translators: every filesystem operation is
forwarded to an *fsservice.Service, and every returned error is mapped to
a syscall.Errno via pkg/errors.Errno. Neither binding does its own
caching, read-ahead, or write coalescing — the Session Cache and
Metadata Index already own staleness and durability.

	fsys := fuse.NewFileSystem(service, &fuse.Config{MountPoint: "/mnt/shadow"})
	mgr := fuse.NewMountManager(fsys, &fuse.MountConfig{
		MountPoint: "/mnt/shadow",
		Options:    &fuse.MountOptions{FSName: "shadowfs"},
	})
	if err := mgr.Mount(ctx); err != nil {
		log.Fatal(err)
	}
	mgr.Wait()

CreatePlatformMountManager picks the build-tag-appropriate binding behind
the PlatformFileSystem interface, so callers (internal/adapter) never
branch on build tag themselves.

Unmount tries the FUSE server's own unmount first, falling back to a
lazy (MNT_DETACH) then forced (MNT_FORCE) syscall unmount if a client
still has the mount busy.
*/
package fuse

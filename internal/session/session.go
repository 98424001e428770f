// Package session implements the Session Cache (component F): a
// per-open-file whole-object buffer sitting between the Filesystem Service
// and the configured storage wrapper chain. It owns open-mode
// compatibility, read-through/write-through buffering, and the
// pending-delete set reconciled by Cleanup.
package session

import (
	"context"
	"strconv"
	"sync"

	"github.com/objectfs/shadowfs/internal/buffer"
	"github.com/objectfs/shadowfs/internal/metadata"
	"github.com/objectfs/shadowfs/internal/objinfo"
	"github.com/objectfs/shadowfs/internal/storage"
	"github.com/objectfs/shadowfs/pkg/errors"
)

// OpenFlags mirrors the POSIX open(2) flags the Filesystem Service passes
// down; only the bits the Session Cache's compatibility rule inspects.
type OpenFlags struct {
	ReadOnly  bool
	Exclusive bool // O_EXCL
	Append    bool // O_APPEND, rejected outright
}

// Session is one open file's live state.
type Session struct {
	FileID     int64
	LogicalPath string
	Flags      OpenFlags
	Buffer     []byte
	Retrieved  bool
	Modified   bool
	RefCount   int
}

// Cache is the Session Cache: open sessions keyed by file id, plus the set
// of ObjInfos awaiting deletion once no other File references them.
type Cache struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	pending  []*objinfo.Info

	index   *metadata.Index
	backend storage.Backend
	pool    *buffer.BytePool

	useHashAsFilename bool
	dedupPolicy       objinfo.DedupPolicy
}

// New builds a Session Cache fronting backend (the outermost wrapper of
// the configured chain), backed by index for in-use tests during cleanup.
func New(index *metadata.Index, backend storage.Backend, useHashAsFilename bool, dedupPolicy objinfo.DedupPolicy) *Cache {
	return &Cache{
		sessions:          make(map[int64]*Session),
		index:             index,
		backend:           backend,
		pool:              buffer.NewBytePool(),
		useHashAsFilename: useHashAsFilename,
		dedupPolicy:       dedupPolicy,
	}
}

// Open establishes or joins a session for fileID. A second open is allowed
// only when both the existing and new open are strictly read-only and
// neither is exclusive; O_APPEND is rejected outright.
func (c *Cache) Open(fileID int64, logicalPath string, flags OpenFlags) (*Session, error) {
	if flags.Append {
		return nil, errors.New(errors.ErrCodeUnsupported, "O_APPEND is not supported").
			WithComponent("session").WithOperation("open").WithContext("file_id", itoa(fileID))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.sessions[fileID]; ok {
		if !existing.Flags.ReadOnly || !flags.ReadOnly || existing.Flags.Exclusive || flags.Exclusive {
			return nil, errors.New(errors.ErrCodeBusy, "file already open incompatibly").
				WithComponent("session").WithOperation("open").WithContext("file_id", itoa(fileID))
		}
		existing.RefCount++
		return existing, nil
	}

	s := &Session{FileID: fileID, LogicalPath: logicalPath, Flags: flags, RefCount: 1}
	c.sessions[fileID] = s
	return s, nil
}

// get returns the session for fileID, or nil if not open.
func (c *Cache) get(fileID int64) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[fileID]
}

// IsOpen reports whether fileID currently has an open session.
func (c *Cache) IsOpen(fileID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[fileID]
	return ok
}

func (c *Cache) objInfoFor(f *metadata.File) (*objinfo.Info, error) {
	path, err := c.index.GetFilePath(context.Background(), f.ID)
	if err != nil {
		return nil, err
	}
	return &objinfo.Info{
		Name:        f.Name,
		Path:        path,
		SHA512:      f.SHA512,
		Size:        f.Size,
		Mode:        f.Perms,
		AccessedAt:  f.AccessedAt,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
		Encryption:  f.Encryption,
		Compression: f.Compress,
	}, nil
}

// Read fetches the whole object read-through on first access, then returns
// up to len bytes starting at offset.
func (c *Cache) Read(ctx context.Context, f *metadata.File, offset int64, length int) ([]byte, error) {
	c.mu.Lock()
	s, ok := c.sessions[f.ID]
	c.mu.Unlock()
	if !ok {
		return nil, errors.New(errors.ErrCodeInvalidArg, "file is not open").
			WithComponent("session").WithOperation("read").WithContext("file_id", itoa(f.ID))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !s.Retrieved {
		if f.SHA512 != "" {
			info, err := c.objInfoFor(f)
			if err != nil {
				return nil, err
			}
			data, err := c.backend.Get(ctx, info)
			if err != nil {
				return nil, err
			}
			s.Buffer = data
		} else {
			s.Buffer = nil
		}
		s.Retrieved = true
	}

	if offset >= int64(len(s.Buffer)) {
		return nil, nil
	}
	end := offset + int64(length)
	if end > int64(len(s.Buffer)) {
		end = int64(len(s.Buffer))
	}
	out := make([]byte, end-offset)
	copy(out, s.Buffer[offset:end])
	return out, nil
}

// Write splices data into the session buffer at offset, zero-filling any
// gap, and invalidates any prior read-through cache.
func (c *Cache) Write(ctx context.Context, f *metadata.File, offset int64, data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[f.ID]
	if !ok {
		return 0, errors.New(errors.ErrCodeInvalidArg, "file is not open").
			WithComponent("session").WithOperation("write").WithContext("file_id", itoa(f.ID))
	}
	if s.Flags.ReadOnly {
		return 0, errors.New(errors.ErrCodeInvalidArg, "file opened read-only").
			WithComponent("session").WithOperation("write").WithContext("file_id", itoa(f.ID))
	}

	if s.Retrieved {
		s.Retrieved = false
		s.Buffer = nil
	}

	needed := offset + int64(len(data))
	if needed > int64(len(s.Buffer)) {
		grown := c.pool.Get(int(needed))
		copy(grown, s.Buffer)
		for i := len(s.Buffer); i < len(grown); i++ {
			grown[i] = 0
		}
		if s.Buffer != nil {
			c.pool.Put(s.Buffer)
		}
		s.Buffer = grown
	}
	copy(s.Buffer[offset:], data)
	s.Modified = true
	return len(data), nil
}

// FlushResult reports what a close-time flush actually did, so the
// orchestrator can update the Metadata Index File row.
type FlushResult struct {
	Modified    bool
	NewSHA512   string
	Size        int64
	Encryption  string
	Compression string
}

// flushLocked computes the new content hash, calls the wrapper chain's
// Put, and enqueues the prior object for deletion if its identity changed.
// Caller must hold c.mu.
func (c *Cache) flushLocked(ctx context.Context, f *metadata.File, s *Session) (*FlushResult, error) {
	if !s.Modified {
		return &FlushResult{Modified: false}, nil
	}

	newSHA := metadata.SHA512Hex(s.Buffer)
	if f.SHA512 != "" && f.SHA512 != newSHA {
		prior, err := c.objInfoFor(f)
		if err != nil {
			return nil, err
		}
		c.pending = append(c.pending, prior)
	}

	info := &objinfo.Info{
		Name:   f.Name,
		Path:   mustPath(c.index, f.ID),
		SHA512: newSHA,
		Size:   int64(len(s.Buffer)),
		Mode:   f.Perms,
	}
	if err := c.backend.Put(ctx, info, s.Buffer); err != nil {
		return nil, err
	}

	s.Modified = false
	return &FlushResult{
		Modified:    true,
		NewSHA512:   newSHA,
		Size:        int64(len(s.Buffer)),
		Encryption:  info.Encryption,
		Compression: info.Compression,
	}, nil
}

func mustPath(index *metadata.Index, fileID int64) string {
	p, err := index.GetFilePath(context.Background(), fileID)
	if err != nil {
		return ""
	}
	return p
}

// Flush flushes pending writes for fileID without closing the session
// (a non-final close per spec.md §4.4).
func (c *Cache) Flush(ctx context.Context, f *metadata.File) (*FlushResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[f.ID]
	if !ok {
		return &FlushResult{Modified: false}, nil
	}
	return c.flushLocked(ctx, f, s)
}

// Release decrements refcount; the final close flushes if modified and
// removes the session.
func (c *Cache) Release(ctx context.Context, f *metadata.File) (*FlushResult, error) {
	c.mu.Lock()
	s, ok := c.sessions[f.ID]
	if !ok {
		c.mu.Unlock()
		return &FlushResult{Modified: false}, nil
	}
	s.RefCount--
	final := s.RefCount <= 0
	c.mu.Unlock()

	c.mu.Lock()
	result, err := c.flushLocked(ctx, f, s)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if final {
		c.mu.Lock()
		if s.Buffer != nil {
			c.pool.Put(s.Buffer)
		}
		delete(c.sessions, f.ID)
		c.mu.Unlock()
	}
	return result, nil
}

// Remove refuses while the File is open; otherwise enqueues its ObjInfo
// into the pending-delete set.
func (c *Cache) Remove(ctx context.Context, f *metadata.File) error {
	if c.IsOpen(f.ID) {
		return errors.New(errors.ErrCodeBusy, "file is open").
			WithComponent("session").WithOperation("remove").WithContext("file_id", itoa(f.ID))
	}
	if f.Kind == metadata.KindDirectory || f.SHA512 == "" {
		return nil
	}
	info, err := c.objInfoFor(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.pending = append(c.pending, info)
	c.mu.Unlock()
	return nil
}

// Rename forwards old/new ObjInfos to the wrapper chain; refuses while the
// File is open. Directory-kind files are skipped since directories are not
// stored as objects.
func (c *Cache) Rename(ctx context.Context, f *metadata.File, oldPath, newPath string) error {
	if c.IsOpen(f.ID) {
		return errors.New(errors.ErrCodeBusy, "file is open").
			WithComponent("session").WithOperation("rename").WithContext("file_id", itoa(f.ID))
	}
	if f.Kind == metadata.KindDirectory || f.SHA512 == "" {
		return nil
	}
	oldInfo, err := c.objInfoFor(f)
	if err != nil {
		return err
	}
	oldInfo.Path = oldPath
	newInfo := oldInfo.Clone()
	newInfo.Path = newPath
	return c.backend.Rename(ctx, oldInfo, newInfo)
}

// InUseTest decides, for a given ObjInfo and the backend's dedup policy,
// whether some other File still references the same identity.
type InUseTest func(ctx context.Context, info *objinfo.Info, policy objinfo.DedupPolicy) (bool, error)

// Cleanup iterates the pending-delete set and invokes the wrapper chain's
// Remove for every entry that inUse reports as no longer referenced.
// Entries that still fail are kept for the next cleanup pass.
func (c *Cache) Cleanup(ctx context.Context, inUse InUseTest) error {
	c.mu.Lock()
	items := c.pending
	c.pending = nil
	c.mu.Unlock()

	var retry []*objinfo.Info
	var firstErr error
	for _, info := range items {
		used, err := inUse(ctx, info, c.dedupPolicy)
		if err != nil {
			retry = append(retry, info)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if used {
			continue
		}
		if err := c.backend.Remove(ctx, info); err != nil {
			retry = append(retry, info)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	c.mu.Lock()
	c.pending = append(c.pending, retry...)
	c.mu.Unlock()

	return firstErr
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

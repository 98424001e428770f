package fsservice

import (
	"context"
	"time"

	"github.com/objectfs/shadowfs/internal/metadata"
	"github.com/objectfs/shadowfs/internal/objinfo"
	"github.com/objectfs/shadowfs/internal/session"
	"github.com/objectfs/shadowfs/pkg/errors"
)

// Service is the Filesystem Service (component G): the orchestrator that
// translates logical filesystem operations into Metadata Index and
// Session Cache actions inside transactions, enforces the invariants of
// spec.md §3, and emits change-history entries.
type Service struct {
	index    *metadata.Index
	sessions *session.Cache

	updateAccessTime   bool
	storeChangeHistory bool
	dedupPolicy        objinfo.DedupPolicy
}

// New builds a Filesystem Service fronting index and sessions.
func New(index *metadata.Index, sessions *session.Cache, updateAccessTime, storeChangeHistory bool, dedupPolicy objinfo.DedupPolicy) *Service {
	return &Service{
		index:              index,
		sessions:           sessions,
		updateAccessTime:   updateAccessTime,
		storeChangeHistory: storeChangeHistory,
		dedupPolicy:        dedupPolicy,
	}
}

func notFound(op string) error {
	return errors.New(errors.ErrCodeNotFound, "no such file").WithComponent("fsservice").WithOperation(op)
}

func notDir(op string) error {
	return errors.New(errors.ErrCodeNotDir, "not a directory").WithComponent("fsservice").WithOperation(op)
}

func isDir(op string) error {
	return errors.New(errors.ErrCodeIsDir, "is a directory").WithComponent("fsservice").WithOperation(op)
}

func alreadyExists(op string) error {
	return errors.New(errors.ErrCodeAlreadyExists, "name already exists").WithComponent("fsservice").WithOperation(op)
}

func notEmpty(op string) error {
	return errors.New(errors.ErrCodeNotEmpty, "directory not empty").WithComponent("fsservice").WithOperation(op)
}

// Lookup resolves name inside parentID. Returns (nil, nil) on miss.
func (s *Service) Lookup(ctx context.Context, parentID int64, name string) (*metadata.File, error) {
	parent, err := s.index.GetFile(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, notFound("lookup")
	}
	if parent.Kind != metadata.KindDirectory {
		return nil, notDir("lookup")
	}

	entry, err := s.index.FindDirectoryEntry(ctx, parentID, name)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	if s.updateAccessTime {
		if err := s.index.TouchAccessTime(ctx, parentID, time.Now()); err != nil {
			return nil, err
		}
	}

	return s.index.GetFile(ctx, entry.EntryFileID)
}

// GetAttr fetches a File by id.
func (s *Service) GetAttr(ctx context.Context, id int64) (*metadata.File, error) {
	f, err := s.index.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, notFound("getattr")
	}
	return f, nil
}

// SetAttrOptions carries only the fields the caller wants to change;
// nil fields are left untouched.
type SetAttrOptions struct {
	Mode  *uint32
	UID   *uint32
	GID   *uint32
	Size  *int64
	Atime *time.Time
	Mtime *time.Time
	Crtime *time.Time
}

// SetAttr applies the supplied fields of opts to id, writes the row back,
// and appends an UpdatedMetadata change record.
func (s *Service) SetAttr(ctx context.Context, id int64, opts SetAttrOptions) (*metadata.File, error) {
	var result *metadata.File
	err := s.index.Transaction(ctx, func(tx *metadata.Index) error {
		f, err := tx.GetFile(ctx, id)
		if err != nil {
			return err
		}
		if f == nil {
			return notFound("setattr")
		}

		if opts.Mode != nil {
			f.Perms = *opts.Mode
		}
		if opts.UID != nil {
			f.UID = *opts.UID
		}
		if opts.GID != nil {
			f.GID = *opts.GID
		}
		if opts.Size != nil {
			f.Size = *opts.Size
		}
		if opts.Atime != nil {
			f.AccessedAt = *opts.Atime
		}
		if opts.Mtime != nil {
			f.UpdatedAt = *opts.Mtime
		}
		if opts.Crtime != nil {
			f.CreatedAt = *opts.Crtime
		}

		if err := tx.UpdateFile(ctx, *f); err != nil {
			return err
		}
		updated, err := tx.GetFile(ctx, id)
		if err != nil {
			return err
		}
		if s.storeChangeHistory {
			if err := tx.RegisterFileChange(ctx, *updated, metadata.ChangeUpdatedMetadata); err != nil {
				return err
			}
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// cleanup runs the Session Cache's pending-delete reconciliation pass,
// consulting the Metadata Index for the configured dedup policy.
func (s *Service) cleanup(ctx context.Context) error {
	return s.sessions.Cleanup(ctx, s.inUseTest)
}

func (s *Service) inUseTest(ctx context.Context, info *objinfo.Info, policy objinfo.DedupPolicy) (bool, error) {
	switch policy {
	case objinfo.DedupSHA512:
		if info.SHA512 == "" {
			return false, nil
		}
		f, err := s.index.GetFileBySHA512(ctx, info.SHA512)
		if err != nil {
			return false, err
		}
		return f != nil, nil
	default:
		f, err := s.index.GetFileByPath(ctx, info.Path)
		if err != nil {
			return false, err
		}
		return f != nil, nil
	}
}

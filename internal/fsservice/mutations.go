package fsservice

import (
	"context"
	"time"

	"github.com/objectfs/shadowfs/internal/metadata"
	"github.com/objectfs/shadowfs/internal/session"
)

// Mkdir creates a directory named name inside parent, with synthetic "."
// and ".." entries, and records Created plus the parent's
// UpdatedContents change.
func (s *Service) Mkdir(ctx context.Context, parent int64, name string, uid, gid, mode uint32) (*metadata.File, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	var created *metadata.File
	err := s.index.Transaction(ctx, func(tx *metadata.Index) error {
		parentFile, err := tx.GetFile(ctx, parent)
		if err != nil {
			return err
		}
		if parentFile == nil {
			return notFound("mkdir")
		}
		if parentFile.Kind != metadata.KindDirectory {
			return notDir("mkdir")
		}

		existing, err := tx.FindDirectoryEntry(ctx, parent, name)
		if err != nil {
			return err
		}
		if existing != nil {
			return alreadyExists("mkdir")
		}

		id, err := tx.AddFile(ctx, metadata.File{Kind: metadata.KindDirectory, Name: name, UID: uid, GID: gid, Perms: mode})
		if err != nil {
			return err
		}
		if _, err := tx.AddDirectoryEntry(ctx, metadata.DirectoryEntry{
			DirectoryFileID: id, EntryFileID: id, Name: ".", Kind: metadata.KindDirectory,
		}); err != nil {
			return err
		}
		if _, err := tx.AddDirectoryEntry(ctx, metadata.DirectoryEntry{
			DirectoryFileID: id, EntryFileID: parent, Name: "..", Kind: metadata.KindDirectory,
		}); err != nil {
			return err
		}
		if _, err := tx.AddDirectoryEntry(ctx, metadata.DirectoryEntry{
			DirectoryFileID: parent, EntryFileID: id, Name: name, Kind: metadata.KindDirectory,
		}); err != nil {
			return err
		}

		f, err := tx.GetFile(ctx, id)
		if err != nil {
			return err
		}
		if s.storeChangeHistory {
			if err := tx.RegisterFileChange(ctx, *f, metadata.ChangeCreated); err != nil {
				return err
			}
			updatedParent, err := tx.GetFile(ctx, parent)
			if err != nil {
				return err
			}
			if err := tx.RegisterFileChange(ctx, *updatedParent, metadata.ChangeUpdatedContents); err != nil {
				return err
			}
		}
		created = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Mknod creates a regular file named name inside parent. Fails with
// ALREADY_EXISTS on a duplicate name.
func (s *Service) Mknod(ctx context.Context, parent int64, name string, uid, gid, mode uint32) (*metadata.File, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	var created *metadata.File
	err := s.index.Transaction(ctx, func(tx *metadata.Index) error {
		parentFile, err := tx.GetFile(ctx, parent)
		if err != nil {
			return err
		}
		if parentFile == nil {
			return notFound("mknod")
		}
		if parentFile.Kind != metadata.KindDirectory {
			return notDir("mknod")
		}

		existing, err := tx.FindDirectoryEntry(ctx, parent, name)
		if err != nil {
			return err
		}
		if existing != nil {
			return alreadyExists("mknod")
		}

		id, err := tx.AddFile(ctx, metadata.File{Kind: metadata.KindRegular, Name: name, UID: uid, GID: gid, Perms: mode})
		if err != nil {
			return err
		}
		if _, err := tx.AddDirectoryEntry(ctx, metadata.DirectoryEntry{
			DirectoryFileID: parent, EntryFileID: id, Name: name, Kind: metadata.KindRegular,
		}); err != nil {
			return err
		}

		f, err := tx.GetFile(ctx, id)
		if err != nil {
			return err
		}
		if s.storeChangeHistory {
			if err := tx.RegisterFileChange(ctx, *f, metadata.ChangeCreated); err != nil {
				return err
			}
		}
		created = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// resolveChild looks up name inside parent and returns its entry and File,
// failing NOT_FOUND when absent.
func (s *Service) resolveChild(ctx context.Context, parent int64, name string) (*metadata.DirectoryEntry, *metadata.File, error) {
	entry, err := s.index.FindDirectoryEntry(ctx, parent, name)
	if err != nil {
		return nil, nil, err
	}
	if entry == nil {
		return nil, nil, notFound("resolve_child")
	}
	f, err := s.index.GetFile(ctx, entry.EntryFileID)
	if err != nil {
		return nil, nil, err
	}
	if f == nil {
		return nil, nil, notFound("resolve_child")
	}
	return entry, f, nil
}

// Unlink removes a regular file named name from parent: enqueues the
// content blob for deletion, removes the File row (which cascades its
// directory entries), then runs cleanup.
func (s *Service) Unlink(ctx context.Context, parent int64, name string) error {
	_, f, err := s.resolveChild(ctx, parent, name)
	if err != nil {
		return err
	}
	if f.Kind != metadata.KindRegular {
		return isDir("unlink")
	}

	if err := s.sessions.Remove(ctx, f); err != nil {
		return err
	}

	err = s.index.Transaction(ctx, func(tx *metadata.Index) error {
		if err := tx.RemoveFile(ctx, f.ID); err != nil {
			return err
		}
		if s.storeChangeHistory {
			if err := tx.RegisterFileChange(ctx, *f, metadata.ChangeDeleted); err != nil {
				return err
			}
			parentFile, err := tx.GetFile(ctx, parent)
			if err != nil {
				return err
			}
			if parentFile != nil {
				if err := tx.RegisterFileChange(ctx, *parentFile, metadata.ChangeUpdatedContents); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.cleanup(ctx)
}

// Rmdir removes a directory named name from parent. Refuses with
// NOT_EMPTY when it holds more than the two synthetic entries.
func (s *Service) Rmdir(ctx context.Context, parent int64, name string) error {
	_, f, err := s.resolveChild(ctx, parent, name)
	if err != nil {
		return err
	}
	if f.Kind != metadata.KindDirectory {
		return notDir("rmdir")
	}

	entries, err := s.index.GetDirectoryEntries(ctx, f.ID, 1<<30, 0)
	if err != nil {
		return err
	}
	if len(entries) > 2 {
		return notEmpty("rmdir")
	}

	return s.index.Transaction(ctx, func(tx *metadata.Index) error {
		if err := tx.RemoveFile(ctx, f.ID); err != nil {
			return err
		}
		if s.storeChangeHistory {
			if err := tx.RegisterFileChange(ctx, *f, metadata.ChangeDeleted); err != nil {
				return err
			}
			parentFile, err := tx.GetFile(ctx, parent)
			if err != nil {
				return err
			}
			if parentFile != nil {
				if err := tx.RegisterFileChange(ctx, *parentFile, metadata.ChangeUpdatedContents); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// removeTarget fails IS_DIR if the target is a directory; for a regular
// file it only enqueues the target's content for deletion in the Session
// Cache. It does not remove the target's File row or directory entry.
func (s *Service) removeTarget(ctx context.Context, target *metadata.File, op string) error {
	if target.Kind == metadata.KindDirectory {
		return isDir(op)
	}
	if err := s.sessions.Remove(ctx, target); err != nil {
		return err
	}
	return nil
}

// Rename renames old to new within the same parent. If new already names
// a directory, fails IS_DIR; if it names a regular file, that file is
// unlinked first.
func (s *Service) Rename(ctx context.Context, parent int64, oldName, newName string) error {
	if err := ValidateName(newName); err != nil {
		return err
	}
	oldEntry, f, err := s.resolveChild(ctx, parent, oldName)
	if err != nil {
		return err
	}

	newEntry, err := s.index.FindDirectoryEntry(ctx, parent, newName)
	if err != nil {
		return err
	}
	var target *metadata.File
	if newEntry != nil {
		target, err = s.index.GetFile(ctx, newEntry.EntryFileID)
		if err != nil {
			return err
		}
		if err := s.removeTarget(ctx, target, "rename"); err != nil {
			return err
		}
	}

	oldPath, err := s.index.GetFilePath(ctx, f.ID)
	if err != nil {
		return err
	}

	err = s.index.Transaction(ctx, func(tx *metadata.Index) error {
		if target != nil {
			if err := tx.RemoveFile(ctx, target.ID); err != nil {
				return err
			}
		}

		oldEntry.Name = newName
		if err := tx.UpdateDirectoryEntry(ctx, *oldEntry); err != nil {
			return err
		}

		f.Name = newName
		f.UpdatedAt = time.Now()
		if err := tx.UpdateFile(ctx, *f); err != nil {
			return err
		}

		if s.storeChangeHistory {
			updated, err := tx.GetFile(ctx, f.ID)
			if err != nil {
				return err
			}
			if err := tx.RegisterFileChange(ctx, *updated, metadata.ChangeUpdatedContents); err != nil {
				return err
			}
			parentFile, err := tx.GetFile(ctx, parent)
			if err != nil {
				return err
			}
			if parentFile != nil {
				if err := tx.RegisterFileChange(ctx, *parentFile, metadata.ChangeUpdatedContents); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	newPath, err := s.index.GetFilePath(ctx, f.ID)
	if err != nil {
		return err
	}
	if err := s.sessions.Rename(ctx, f, oldPath, newPath); err != nil {
		return err
	}
	return s.cleanup(ctx)
}

// MoveFile moves old (inside parent) to new (inside newParent), replacing
// an existing target first when present.
func (s *Service) MoveFile(ctx context.Context, parent int64, oldName string, newParent int64, newName string) error {
	if err := ValidateName(newName); err != nil {
		return err
	}
	oldEntry, f, err := s.resolveChild(ctx, parent, oldName)
	if err != nil {
		return err
	}

	newParentFile, err := s.index.GetFile(ctx, newParent)
	if err != nil {
		return err
	}
	if newParentFile == nil {
		return notFound("move_file")
	}
	if newParentFile.Kind != metadata.KindDirectory {
		return notDir("move_file")
	}

	newEntry, err := s.index.FindDirectoryEntry(ctx, newParent, newName)
	if err != nil {
		return err
	}
	var target *metadata.File
	if newEntry != nil {
		target, err = s.index.GetFile(ctx, newEntry.EntryFileID)
		if err != nil {
			return err
		}
		if err := s.removeTarget(ctx, target, "move_file"); err != nil {
			return err
		}
	}

	oldPath, err := s.index.GetFilePath(ctx, f.ID)
	if err != nil {
		return err
	}

	err = s.index.Transaction(ctx, func(tx *metadata.Index) error {
		if target != nil {
			if err := tx.RemoveFile(ctx, target.ID); err != nil {
				return err
			}
		}
		if err := tx.RemoveDirectoryEntry(ctx, oldEntry.ID); err != nil {
			return err
		}
		if _, err := tx.AddDirectoryEntry(ctx, metadata.DirectoryEntry{
			DirectoryFileID: newParent, EntryFileID: f.ID, Name: newName, Kind: f.Kind,
		}); err != nil {
			return err
		}

		f.Name = newName
		f.UpdatedAt = time.Now()
		if err := tx.UpdateFile(ctx, *f); err != nil {
			return err
		}

		if s.storeChangeHistory {
			updated, err := tx.GetFile(ctx, f.ID)
			if err != nil {
				return err
			}
			if err := tx.RegisterFileChange(ctx, *updated, metadata.ChangeUpdatedContents); err != nil {
				return err
			}
			oldParentFile, err := tx.GetFile(ctx, parent)
			if err != nil {
				return err
			}
			if oldParentFile != nil {
				if err := tx.RegisterFileChange(ctx, *oldParentFile, metadata.ChangeUpdatedContents); err != nil {
					return err
				}
			}
			newParentAfter, err := tx.GetFile(ctx, newParent)
			if err != nil {
				return err
			}
			if newParentAfter != nil {
				if err := tx.RegisterFileChange(ctx, *newParentAfter, metadata.ChangeUpdatedContents); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	newPath, err := s.index.GetFilePath(ctx, f.ID)
	if err != nil {
		return err
	}
	if err := s.sessions.Rename(ctx, f, oldPath, newPath); err != nil {
		return err
	}
	return s.cleanup(ctx)
}

// CopyFile allocates a new File under newParent and copies old's content
// into it whole. Fails ALREADY_EXISTS if new is already taken.
func (s *Service) CopyFile(ctx context.Context, parent int64, oldName string, newParent int64, newName string) (*metadata.File, error) {
	if err := ValidateName(newName); err != nil {
		return nil, err
	}
	_, src, err := s.resolveChild(ctx, parent, oldName)
	if err != nil {
		return nil, err
	}
	if src.Kind != metadata.KindRegular {
		return nil, isDir("copy_file")
	}

	existing, err := s.index.FindDirectoryEntry(ctx, newParent, newName)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, alreadyExists("copy_file")
	}

	var dst *metadata.File
	err = s.index.Transaction(ctx, func(tx *metadata.Index) error {
		id, err := tx.AddFile(ctx, metadata.File{Kind: metadata.KindRegular, Name: newName, UID: src.UID, GID: src.GID, Perms: src.Perms})
		if err != nil {
			return err
		}
		if _, err := tx.AddDirectoryEntry(ctx, metadata.DirectoryEntry{
			DirectoryFileID: newParent, EntryFileID: id, Name: newName, Kind: metadata.KindRegular,
		}); err != nil {
			return err
		}
		f, err := tx.GetFile(ctx, id)
		if err != nil {
			return err
		}
		if s.storeChangeHistory {
			if err := tx.RegisterFileChange(ctx, *f, metadata.ChangeCreated); err != nil {
				return err
			}
		}
		dst = f
		return nil
	})
	if err != nil {
		return nil, err
	}

	if src.SHA512 == "" {
		return dst, nil
	}

	srcPath, err := s.index.GetFilePath(ctx, src.ID)
	if err != nil {
		return nil, err
	}
	if _, err := s.sessions.Open(src.ID, srcPath, session.OpenFlags{ReadOnly: true}); err != nil {
		return nil, err
	}
	data, err := s.sessions.Read(ctx, src, 0, int(src.Size))
	if err != nil {
		_, _ = s.sessions.Release(ctx, src)
		return nil, err
	}
	if _, err := s.sessions.Release(ctx, src); err != nil {
		return nil, err
	}

	dstPath, err := s.index.GetFilePath(ctx, dst.ID)
	if err != nil {
		return nil, err
	}
	if _, err := s.sessions.Open(dst.ID, dstPath, session.OpenFlags{}); err != nil {
		return nil, err
	}
	if _, err := s.sessions.Write(ctx, dst, 0, data); err != nil {
		_, _ = s.sessions.Release(ctx, dst)
		return nil, err
	}
	result, err := s.sessions.Release(ctx, dst)
	if err != nil {
		return nil, err
	}

	if result.Modified {
		err = s.index.Transaction(ctx, func(tx *metadata.Index) error {
			dst.SHA512 = result.NewSHA512
			dst.Size = result.Size
			dst.Encryption = result.Encryption
			dst.Compress = result.Compression
			dst.UpdatedAt = time.Now()
			if err := tx.UpdateFile(ctx, *dst); err != nil {
				return err
			}
			if s.storeChangeHistory {
				updated, err := tx.GetFile(ctx, dst.ID)
				if err != nil {
					return err
				}
				if err := tx.RegisterFileChange(ctx, *updated, metadata.ChangeUpdatedContents); err != nil {
					return err
				}
			}
			dst, err = tx.GetFile(ctx, dst.ID)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	return dst, nil
}

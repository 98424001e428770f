package fsservice

import (
	"context"
	"time"

	"github.com/objectfs/shadowfs/internal/metadata"
	"github.com/objectfs/shadowfs/internal/session"
)

// Open resolves id's logical path and establishes a Session Cache entry
// for it under flags.
func (s *Service) Open(ctx context.Context, id int64, flags session.OpenFlags) error {
	f, err := s.index.GetFile(ctx, id)
	if err != nil {
		return err
	}
	if f == nil {
		return notFound("open")
	}
	path, err := s.index.GetFilePath(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.sessions.Open(id, path, flags)
	return err
}

// Read returns up to length bytes of id's open session buffer starting at
// offset. accessed_at is not touched here, so reads of a file buffered in
// the Session Cache record no access time; the only accessed_at update in
// this package is Lookup touching the parent directory.
func (s *Service) Read(ctx context.Context, id int64, offset int64, length int) ([]byte, error) {
	f, err := s.index.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, notFound("read")
	}
	return s.sessions.Read(ctx, f, offset, length)
}

// Write splices data into id's open session buffer at offset.
func (s *Service) Write(ctx context.Context, id int64, offset int64, data []byte) (int, error) {
	f, err := s.index.GetFile(ctx, id)
	if err != nil {
		return 0, err
	}
	if f == nil {
		return 0, notFound("write")
	}
	return s.sessions.Write(ctx, f, offset, data)
}

// Release closes id's session, flushing modified content back through the
// wrapper chain and writing the resulting sha512/size/encryption/
// compression fields back to the Metadata Index.
func (s *Service) Release(ctx context.Context, id int64) error {
	f, err := s.index.GetFile(ctx, id)
	if err != nil {
		return err
	}
	if f == nil {
		return notFound("release")
	}

	result, err := s.sessions.Release(ctx, f)
	if err != nil {
		return err
	}
	if !result.Modified {
		return nil
	}

	err = s.index.Transaction(ctx, func(tx *metadata.Index) error {
		f.SHA512 = result.NewSHA512
		f.Size = result.Size
		f.Encryption = result.Encryption
		f.Compress = result.Compression
		f.UpdatedAt = time.Now()
		if err := tx.UpdateFile(ctx, *f); err != nil {
			return err
		}
		if s.storeChangeHistory {
			updated, err := tx.GetFile(ctx, id)
			if err != nil {
				return err
			}
			if err := tx.RegisterFileChange(ctx, *updated, metadata.ChangeUpdatedContents); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.cleanup(ctx)
}

const maxReaddirEntries = 1024

// Readdir lists up to 1024 of id's directory entries starting at offset,
// including the synthetic "." and ".." rows.
func (s *Service) Readdir(ctx context.Context, id int64, offset int) ([]metadata.DirectoryEntry, error) {
	f, err := s.index.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, notFound("readdir")
	}
	if f.Kind != metadata.KindDirectory {
		return nil, notDir("readdir")
	}
	return s.index.GetDirectoryEntries(ctx, id, maxReaddirEntries, offset)
}

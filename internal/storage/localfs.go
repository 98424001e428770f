package storage

import (
	"context"
	"os"
	"path/filepath"

	"github.com/objectfs/shadowfs/internal/objinfo"
	"github.com/objectfs/shadowfs/pkg/errors"
	"github.com/objectfs/shadowfs/pkg/utils"
)

// FileSystemBackend stores each object as a plain file under root, keyed by
// objinfo.DerivedKey. Rename with a missing source returns success so that
// renaming a zero-byte, never-written File works (spec.md §4.2).
type FileSystemBackend struct {
	root              string
	useHashAsFilename bool
}

// NewFileSystemBackend opens (creating if absent) a local directory backend
// rooted at root.
func NewFileSystemBackend(root string, useHashAsFilename bool) (*FileSystemBackend, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.New(errors.ErrCodeIO, "failed to create backend root").
			WithComponent("storage.localfs").WithOperation("open").WithCause(err)
	}
	return &FileSystemBackend{root: root, useHashAsFilename: useHashAsFilename}, nil
}

func (b *FileSystemBackend) resolve(info *objinfo.Info) (string, error) {
	key := objinfo.DerivedKey(info, b.useHashAsFilename)
	full, err := utils.SecureJoin(b.root, key)
	if err != nil {
		return "", errors.New(errors.ErrCodeInvalidArg, "object key escapes backend root").
			WithComponent("storage.localfs").WithOperation("resolve").WithCause(err)
	}
	return full, nil
}

func (b *FileSystemBackend) Get(ctx context.Context, info *objinfo.Info) ([]byte, error) {
	full, err := b.resolve(info)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, errors.New(errors.ErrCodeNotFound, "object not found").
			WithComponent("storage.localfs").WithOperation("get").WithContext("path", full)
	}
	if err != nil {
		return nil, errors.New(errors.ErrCodeIO, "read failed").
			WithComponent("storage.localfs").WithOperation("get").WithCause(err)
	}
	return data, nil
}

func (b *FileSystemBackend) Put(ctx context.Context, info *objinfo.Info, data []byte) error {
	full, err := b.resolve(info)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return errors.New(errors.ErrCodeIO, "mkdir failed").
			WithComponent("storage.localfs").WithOperation("put").WithCause(err)
	}
	if err := os.WriteFile(full, data, 0644); err != nil {
		return errors.New(errors.ErrCodeIO, "write failed").
			WithComponent("storage.localfs").WithOperation("put").WithCause(err)
	}
	info.FullPath = full
	return nil
}

func (b *FileSystemBackend) Remove(ctx context.Context, info *objinfo.Info) error {
	full, err := b.resolve(info)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return errors.New(errors.ErrCodeIO, "remove failed").
			WithComponent("storage.localfs").WithOperation("remove").WithCause(err)
	}
	return nil
}

func (b *FileSystemBackend) Rename(ctx context.Context, oldInfo, newInfo *objinfo.Info) error {
	oldFull, err := b.resolve(oldInfo)
	if err != nil {
		return err
	}
	newFull, err := b.resolve(newInfo)
	if err != nil {
		return err
	}
	if _, err := os.Stat(oldFull); os.IsNotExist(err) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(newFull), 0755); err != nil {
		return errors.New(errors.ErrCodeIO, "mkdir failed").
			WithComponent("storage.localfs").WithOperation("rename").WithCause(err)
	}
	if err := os.Rename(oldFull, newFull); err != nil {
		return errors.New(errors.ErrCodeIO, "rename failed").
			WithComponent("storage.localfs").WithOperation("rename").WithCause(err)
	}
	newInfo.FullPath = newFull
	return nil
}

func (b *FileSystemBackend) Nuke(ctx context.Context) error {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return errors.New(errors.ErrCodeIO, "nuke readdir failed").
			WithComponent("storage.localfs").WithOperation("nuke").WithCause(err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(b.root, e.Name())); err != nil {
			return errors.New(errors.ErrCodeIO, "nuke remove failed").
				WithComponent("storage.localfs").WithOperation("nuke").WithCause(err)
		}
	}
	return nil
}

func (b *FileSystemBackend) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(b.root)
	if err != nil {
		return errors.New(errors.ErrCodeIO, "backend root unreachable").
			WithComponent("storage.localfs").WithOperation("health_check").WithCause(err)
	}
	if !info.IsDir() {
		return errors.New(errors.ErrCodeIO, "backend root is not a directory").
			WithComponent("storage.localfs").WithOperation("health_check")
	}
	return nil
}

func (b *FileSystemBackend) Close() error { return nil }

//go:build !cgofuse
// +build !cgofuse

package fuse

import (
	"context"
	"time"

	"github.com/objectfs/shadowfs/internal/fsservice"
)

// PlatformFileSystem is the mount lifecycle surface the adapter drives,
// implemented by whichever FUSE binding this build tag selects.
type PlatformFileSystem interface {
	Mount(ctx context.Context) error
	Unmount() error
	IsMounted() bool
	GetStats() *FilesystemStats
}

// CreatePlatformMountManager builds the go-fuse-backed mount manager, the
// default binding on Linux.
func CreatePlatformMountManager(service *fsservice.Service, readOnly bool, config *MountConfig) PlatformFileSystem {
	fsConfig := &Config{
		MountPoint:  config.MountPoint,
		ReadOnly:    readOnly,
		DefaultUID:  1000,
		DefaultGID:  1000,
		DefaultMode: 0644,
		CacheTTL:    time.Second,
	}

	filesystem := NewFileSystem(service, fsConfig)
	return NewMountManager(filesystem, config)
}

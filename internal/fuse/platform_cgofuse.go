//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"

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

// CreatePlatformMountManager builds the cgofuse-backed mount manager, used
// on platforms without a native go-fuse kernel driver.
func CreatePlatformMountManager(service *fsservice.Service, readOnly bool, config *MountConfig) PlatformFileSystem {
	return NewCgoFuseMountManager(service, readOnly, config)
}

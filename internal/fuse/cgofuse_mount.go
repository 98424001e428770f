//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"

	"github.com/objectfs/shadowfs/internal/fsservice"
)

// CgoFuseMountManager drives the cgofuse binding's mount lifecycle,
// mirroring MountManager's surface for the default go-fuse build.
type CgoFuseMountManager struct {
	filesystem *CgoFuseFS
	config     *MountConfig
}

// NewCgoFuseMountManager builds a mount manager fronting service via cgofuse.
// Matches CreatePlatformMountManager's (service, readOnly, config) signature
// so the adapter wires either build tag identically.
func NewCgoFuseMountManager(service *fsservice.Service, readOnly bool, config *MountConfig) *CgoFuseMountManager {
	fsConfig := &Config{
		MountPoint:  config.MountPoint,
		ReadOnly:    readOnly,
		DefaultUID:  1000,
		DefaultGID:  1000,
		DefaultMode: 0644,
	}

	return &CgoFuseMountManager{
		filesystem: NewCgoFuseFS(service, nil, fsConfig),
		config:     config,
	}
}

// Mount mounts the filesystem at the configured mount point.
func (m *CgoFuseMountManager) Mount(ctx context.Context) error {
	return m.filesystem.Mount(ctx)
}

// Unmount unmounts the filesystem.
func (m *CgoFuseMountManager) Unmount() error {
	return m.filesystem.Unmount()
}

// IsMounted reports whether the filesystem is currently mounted.
func (m *CgoFuseMountManager) IsMounted() bool {
	return m.filesystem.IsMounted()
}

// GetStats returns current filesystem operation counters.
func (m *CgoFuseMountManager) GetStats() *FilesystemStats {
	return m.filesystem.GetStats()
}

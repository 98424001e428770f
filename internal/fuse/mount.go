package fuse

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// MountManager manages a go-fuse mount's lifecycle: validating the mount
// point, starting the kernel-facing server, and unmounting cleanly (with a
// lazy/force fallback) on shutdown.
type MountManager struct {
	filesystem *FileSystem
	server     *fuse.Server
	config     *MountConfig
	mounted    bool
}

// MountConfig contains mount-specific configuration.
type MountConfig struct {
	MountPoint string
	Options    *MountOptions
}

// MountOptions contains the FUSE mount options this filesystem honors.
type MountOptions struct {
	ReadOnly     bool
	AllowOther   bool
	AllowRoot    bool
	DefaultPerms bool

	MaxRead      uint32
	MaxWrite     uint32
	AttrTimeout  time.Duration
	EntryTimeout time.Duration

	Debug   bool
	FSName  string
	Subtype string
}

// NewMountManager creates a new mount manager.
func NewMountManager(filesystem *FileSystem, config *MountConfig) *MountManager {
	if config == nil {
		config = &MountConfig{
			Options: &MountOptions{
				MaxRead:      128 * 1024,
				MaxWrite:     128 * 1024,
				AttrTimeout:  time.Second,
				EntryTimeout: time.Second,
				FSName:       "shadowfs",
				Subtype:      "shadowfs",
			},
		}
	}

	return &MountManager{
		filesystem: filesystem,
		config:     config,
	}
}

// Mount mounts the filesystem at the configured mount point.
func (m *MountManager) Mount(ctx context.Context) error {
	if m.mounted {
		return fmt.Errorf("filesystem is already mounted")
	}

	if err := m.validateMountPoint(); err != nil {
		return fmt.Errorf("invalid mount point: %w", err)
	}

	opts := m.buildFUSEOptions()

	server, err := fs.Mount(m.config.MountPoint, m.filesystem.Root(), opts)
	if err != nil {
		return fmt.Errorf("failed to mount filesystem: %w", err)
	}

	m.server = server
	m.mounted = true

	log.Printf("shadowfs mounted at %s", m.config.MountPoint)

	go func() {
		m.server.Wait()
		log.Printf("FUSE server stopped")
		m.mounted = false
	}()

	return nil
}

// Unmount unmounts the filesystem, falling back to a lazy then forced
// syscall unmount if the server's own Unmount fails.
func (m *MountManager) Unmount() error {
	if !m.mounted {
		return fmt.Errorf("filesystem is not mounted")
	}
	if m.server == nil {
		return fmt.Errorf("no active server to unmount")
	}

	log.Printf("unmounting filesystem at %s", m.config.MountPoint)

	if err := m.server.Unmount(); err != nil {
		log.Printf("normal unmount failed, trying force unmount: %v", err)
		if forceErr := m.forceUnmount(); forceErr != nil {
			return fmt.Errorf("unmount failed: %w (force unmount also failed: %v)", err, forceErr)
		}
	}

	m.mounted = false
	m.server = nil
	return nil
}

// IsMounted reports whether the filesystem is currently mounted.
func (m *MountManager) IsMounted() bool {
	return m.mounted
}

// GetMountPoint returns the configured mount point.
func (m *MountManager) GetMountPoint() string {
	return m.config.MountPoint
}

// Wait blocks until the mount's server loop exits.
func (m *MountManager) Wait() {
	if m.server != nil {
		m.server.Wait()
	}
}

// GetStats returns current filesystem operation counters.
func (m *MountManager) GetStats() *FilesystemStats {
	if m.filesystem != nil {
		return m.filesystem.GetStats()
	}
	return &FilesystemStats{}
}

func (m *MountManager) validateMountPoint() error {
	if m.config.MountPoint == "" {
		return fmt.Errorf("mount point cannot be empty")
	}

	info, err := os.Stat(m.config.MountPoint)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("mount point does not exist: %s", m.config.MountPoint)
		}
		return fmt.Errorf("cannot access mount point: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mount point is not a directory: %s", m.config.MountPoint)
	}

	if m.isAlreadyMounted() {
		return fmt.Errorf("mount point %s is already mounted", m.config.MountPoint)
	}
	return nil
}

func (m *MountManager) buildFUSEOptions() *fs.Options {
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:        m.config.Options.FSName,
			FsName:      m.config.Options.FSName,
			DirectMount: true,
			Debug:       m.config.Options.Debug,
			AllowOther:  m.config.Options.AllowOther,
			MaxWrite:    int(m.config.Options.MaxWrite),
		},
		AttrTimeout:     &m.config.Options.AttrTimeout,
		EntryTimeout:    &m.config.Options.EntryTimeout,
		NullPermissions: !m.config.Options.DefaultPerms,
	}

	if m.config.Options.ReadOnly {
		opts.Options = append(opts.Options, "ro")
	}
	if m.config.Options.AllowRoot {
		opts.Options = append(opts.Options, "allow_root")
	}
	if m.config.Options.Subtype != "" {
		opts.Options = append(opts.Options, fmt.Sprintf("subtype=%s", m.config.Options.Subtype))
	}

	return opts
}

func (m *MountManager) isAlreadyMounted() bool {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return false
	}
	return strings.Contains(string(data), filepath.Clean(m.config.MountPoint))
}

func (m *MountManager) forceUnmount() error {
	if err := syscall.Unmount(m.config.MountPoint, 2); err == nil { // MNT_DETACH
		return nil
	}
	return syscall.Unmount(m.config.MountPoint, 1) // MNT_FORCE
}

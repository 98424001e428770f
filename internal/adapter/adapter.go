package adapter

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/objectfs/shadowfs/internal/config"
	"github.com/objectfs/shadowfs/internal/fsservice"
	"github.com/objectfs/shadowfs/internal/fuse"
	"github.com/objectfs/shadowfs/internal/health"
	"github.com/objectfs/shadowfs/internal/metadata"
	"github.com/objectfs/shadowfs/internal/metrics"
	"github.com/objectfs/shadowfs/internal/objinfo"
	"github.com/objectfs/shadowfs/internal/session"
	"github.com/objectfs/shadowfs/internal/storage"
	"github.com/objectfs/shadowfs/internal/storage/s3"
	"github.com/objectfs/shadowfs/internal/storagewrap"
	"github.com/objectfs/shadowfs/pkg/utils"
)

// ConfirmFunc asks the operator to approve a prompt, returning their
// answer. Injected so `shadowfs mount` can be driven non-interactively in
// tests (spec.md §9's "interactive prompts" design note).
type ConfirmFunc func(prompt string) bool

// Adapter wires the Metadata Index, storage backend chain, Session Cache,
// and Filesystem Service into a mounted Kernel Bridge Adapter, plus the
// Metrics and Health components that observe the running mount.
type Adapter struct {
	config     *config.Configuration
	mountPoint string
	confirm    ConfirmFunc

	index    *metadata.Index
	primary  storage.Backend
	replicas []storage.Backend

	sessions *session.Cache
	service  *fsservice.Service
	mountMgr fuse.PlatformFileSystem
	metrics  *metrics.Collector
	health   *health.Checker

	started bool
}

// New builds an Adapter from cfg. It does not open the Metadata Index,
// build the storage chain, or mount anything; call Start for that.
func New(cfg *config.Configuration, confirm ConfirmFunc) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if confirm == nil {
		confirm = func(string) bool { return false }
	}

	return &Adapter{
		config:     cfg,
		mountPoint: cfg.MountPoint,
		confirm:    confirm,
	}, nil
}

// Start opens the Metadata Index, builds the primary and replica storage
// chains, checks persisted settings, and mounts the filesystem.
func (a *Adapter) Start(ctx context.Context) error {
	if a.started {
		return fmt.Errorf("adapter already started")
	}

	if err := utils.SetupLogging(a.config.Logging.Level, ""); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}

	log.Printf("starting shadowfs: database=%s mount=%s", a.config.DatabaseFile, a.mountPoint)

	var err error
	a.index, err = metadata.Open(a.config.DatabaseFile)
	if err != nil {
		return fmt.Errorf("failed to open metadata index: %w", err)
	}

	if err := a.checkPersistedSettings(ctx, "primary", a.config.Primary); err != nil {
		return err
	}
	a.primary, err = buildBackend(ctx, a.index, a.config.Primary)
	if err != nil {
		return fmt.Errorf("failed to build primary backend: %w", err)
	}

	resolvedReplicas := a.config.ResolvedReplicas()
	a.replicas = make([]storage.Backend, 0, len(resolvedReplicas))
	for i, r := range resolvedReplicas {
		if err := a.checkPersistedSettings(ctx, fmt.Sprintf("replica_%d", i), r); err != nil {
			return err
		}
		replica, err := buildBackend(ctx, a.index, r)
		if err != nil {
			return fmt.Errorf("failed to build replica %d backend: %w", i, err)
		}
		a.replicas = append(a.replicas, replica)
	}

	var backend storage.Backend = a.primary
	if len(a.replicas) > 0 {
		backend = storagewrap.NewReplicationWrapper(a.primary, a.replicas...)
	}

	dedupPolicy := objinfo.DedupPath
	if a.config.Primary.UseHashAsFilename {
		dedupPolicy = objinfo.DedupSHA512
	}

	a.sessions = session.New(a.index, backend, a.config.Primary.UseHashAsFilename, dedupPolicy)
	a.service = fsservice.New(a.index, a.sessions, a.config.UpdateAccessTime, a.config.StoreFileChangeHistory, dedupPolicy)

	a.metrics, err = metrics.NewCollector(&metrics.Config{
		Enabled:    a.config.Metrics.Enabled,
		ListenAddr: a.config.Metrics.ListenAddr,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize metrics collector: %w", err)
	}

	a.health, err = health.NewChecker(&health.Config{
		Enabled:       a.config.Health.Enabled,
		CheckInterval: a.config.Health.CheckInterval,
		Timeout:       5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize health checker: %w", err)
	}
	if err := a.registerHealthChecks(); err != nil {
		return fmt.Errorf("failed to register health checks: %w", err)
	}
	if err := a.health.Start(ctx); err != nil {
		return fmt.Errorf("failed to start health checker: %w", err)
	}

	mountConfig := &fuse.MountConfig{
		MountPoint: a.mountPoint,
		Options: &fuse.MountOptions{
			FSName:  "shadowfs",
			Subtype: "shadowfs",
		},
	}
	a.mountMgr = fuse.CreatePlatformMountManager(a.service, false, mountConfig)
	if err := a.mountMgr.Mount(ctx); err != nil {
		return fmt.Errorf("failed to mount filesystem: %w", err)
	}

	a.started = true
	log.Printf("shadowfs started")
	return nil
}

// Stop unmounts the filesystem and releases the backends and Metadata
// Index it opened.
func (a *Adapter) Stop(ctx context.Context) error {
	if !a.started {
		return fmt.Errorf("adapter not started")
	}

	log.Printf("stopping shadowfs")
	var lastErr error

	if a.mountMgr != nil && a.mountMgr.IsMounted() {
		if err := a.mountMgr.Unmount(); err != nil {
			log.Printf("error unmounting filesystem: %v", err)
			lastErr = err
		}
	}

	for _, replica := range a.replicas {
		if err := replica.Close(); err != nil {
			log.Printf("error closing replica backend: %v", err)
			lastErr = err
		}
	}
	if a.primary != nil {
		if err := a.primary.Close(); err != nil {
			log.Printf("error closing primary backend: %v", err)
			lastErr = err
		}
	}
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			log.Printf("error closing metadata index: %v", err)
			lastErr = err
		}
	}

	a.started = false
	log.Printf("shadowfs stopped")
	return lastErr
}

// Service returns the running Filesystem Service. The "stats" CLI
// subcommand does not use it; it reads the Metadata Index directly.
func (a *Adapter) Service() *fsservice.Service {
	return a.service
}

// Nuke empties the Metadata Index and every configured storage backend,
// skipping the persisted-setting checks Start performs (spec.md §6). The
// caller is responsible for obtaining interactive confirmation first.
func Nuke(ctx context.Context, cfg *config.Configuration) error {
	idx, err := metadata.Open(cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("failed to open metadata index: %w", err)
	}
	defer idx.Close()

	primary, err := buildBackend(ctx, idx, cfg.Primary)
	if err != nil {
		return fmt.Errorf("failed to build primary backend: %w", err)
	}
	defer primary.Close()

	if err := primary.Nuke(ctx); err != nil {
		return fmt.Errorf("failed to nuke primary backend: %w", err)
	}

	for i, r := range cfg.ResolvedReplicas() {
		replica, err := buildBackend(ctx, idx, r)
		if err != nil {
			return fmt.Errorf("failed to build replica %d backend: %w", i, err)
		}
		if err := replica.Nuke(ctx); err != nil {
			replica.Close()
			return fmt.Errorf("failed to nuke replica %d: %w", i, err)
		}
		replica.Close()
	}

	if err := idx.Nuke(ctx); err != nil {
		return fmt.Errorf("failed to nuke metadata index: %w", err)
	}
	return nil
}

// buildBackend constructs the concrete storage.Backend named by section,
// then layers the compression/encryption wrappers spec.md §4.3 describes
// (mutually exclusive: encryption's authenticated ciphertext is what
// protects integrity once enabled).
func buildBackend(ctx context.Context, idx *metadata.Index, section config.StorageSection) (storage.Backend, error) {
	var backend storage.Backend
	var err error

	switch section.StorageBackend {
	case config.BackendFileSystem:
		backend, err = storage.NewFileSystemBackend(section.BlobStorage, section.UseHashAsFilename)
	case config.BackendSqlar:
		backend = storage.NewSqlarBackend(idx.DB(), section.UseHashAsFilename)
	case config.BackendS3:
		s3Config := s3.NewDefaultConfig()
		s3Config.Bucket = section.S3Bucket
		s3Config.Region = section.S3Region
		s3Config.Endpoint = section.S3EndpointURL
		backend, err = s3.NewBackend(ctx, s3Config, section.UseHashAsFilename)
	case config.BackendRocksDB:
		backend, err = storage.NewKVBackend(section.BlobStorage, section.UseHashAsFilename)
	default:
		return nil, fmt.Errorf("unknown storage_backend %q", section.StorageBackend)
	}
	if err != nil {
		return nil, err
	}

	if section.EncryptionKey != "" {
		backend = storagewrap.NewEncryptionWrapper(backend, section.EncryptionKey, section.UseHashAsFilename)
	} else if section.CompressionLevel > 0 {
		backend = storagewrap.NewCompressionWrapper(backend, section.CompressionLevel)
	}

	return backend, nil
}

// checkPersistedSettings compares section's configured values against what
// was persisted the last time this prefix started, per spec.md §6. A
// mismatch prompts the injected ConfirmFunc; rejection is a fatal cancel.
// First-run (no persisted value yet) just records the configured value.
func (a *Adapter) checkPersistedSettings(ctx context.Context, prefix string, section config.StorageSection) error {
	checks := []struct {
		name  string
		value string
	}{
		{"storage_option", string(section.StorageBackend)},
		{"encryption_key_hash", hashEncryptionKey(section.EncryptionKey)},
		{"use_hash_as_filename", fmt.Sprintf("%t", section.UseHashAsFilename)},
		{"s3_bucket", section.S3Bucket},
		{"s3_region", section.S3Region},
		{"s3_endpoint_url", section.S3EndpointURL},
		{"blob_storage", section.BlobStorage},
	}

	for _, c := range checks {
		key := fmt.Sprintf("%s:%s", prefix, c.name)
		stored, ok, err := a.index.GetSetting(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to read persisted setting %s: %w", key, err)
		}
		if !ok {
			if err := a.index.SetSetting(ctx, key, c.value); err != nil {
				return fmt.Errorf("failed to record persisted setting %s: %w", key, err)
			}
			continue
		}
		if stored != c.value {
			prompt := fmt.Sprintf("%s changed from %q to %q, continue?", key, stored, c.value)
			if !a.confirm(prompt) {
				return fmt.Errorf("configuration change to %s rejected", key)
			}
			if err := a.index.SetSetting(ctx, key, c.value); err != nil {
				return fmt.Errorf("failed to update persisted setting %s: %w", key, err)
			}
		}
	}
	return nil
}

// hashEncryptionKey returns the first 32 bytes of the HMAC-SHA512 of key,
// hex-encoded (spec.md §6), so the master password itself is never
// persisted in the Metadata Index.
func hashEncryptionKey(key string) string {
	if key == "" {
		return ""
	}
	mac := hmac.New(sha512.New, []byte("shadowfs-encryption-key-hash"))
	mac.Write([]byte(key))
	sum := mac.Sum(nil)
	return hex.EncodeToString(sum[:32])
}

func (a *Adapter) registerHealthChecks() error {
	if err := a.health.RegisterCheck("metadata_index", "metadata DB ping",
		health.CategoryCore, health.PriorityCritical, health.StorageCheck(a.index.Ping)); err != nil {
		return err
	}
	if err := a.health.RegisterCheck("primary_backend", "primary storage HealthCheck",
		health.CategoryStorage, health.PriorityCritical, health.StorageCheck(a.primary.HealthCheck)); err != nil {
		return err
	}
	for i, replica := range a.replicas {
		if err := a.health.RegisterCheck(fmt.Sprintf("replica_%d", i), "replica storage HealthCheck",
			health.CategoryStorage, health.PriorityHigh, health.StorageCheck(replica.HealthCheck)); err != nil {
			return err
		}
	}
	return nil
}

package storagewrap

import (
	"context"

	"github.com/objectfs/shadowfs/internal/objinfo"
	"github.com/objectfs/shadowfs/internal/storage"
)

// ReplicationWrapper fans a put/remove/rename/nuke out to a primary backend
// and an ordered list of replicas, stopping at the first error. get reads
// only from primary, per spec.md §4.3.
type ReplicationWrapper struct {
	primary  storage.Backend
	replicas []storage.Backend
}

// NewReplicationWrapper builds a wrapper over primary plus replicas, applied
// in the given order.
func NewReplicationWrapper(primary storage.Backend, replicas ...storage.Backend) *ReplicationWrapper {
	return &ReplicationWrapper{primary: primary, replicas: replicas}
}

func (w *ReplicationWrapper) Get(ctx context.Context, info *objinfo.Info) ([]byte, error) {
	return w.primary.Get(ctx, info)
}

func (w *ReplicationWrapper) Put(ctx context.Context, info *objinfo.Info, data []byte) error {
	if err := w.primary.Put(ctx, info, data); err != nil {
		return err
	}
	for _, r := range w.replicas {
		replicaInfo := info.Clone()
		if err := r.Put(ctx, replicaInfo, data); err != nil {
			return err
		}
	}
	return nil
}

func (w *ReplicationWrapper) Remove(ctx context.Context, info *objinfo.Info) error {
	if err := w.primary.Remove(ctx, info); err != nil {
		return err
	}
	for _, r := range w.replicas {
		if err := r.Remove(ctx, info); err != nil {
			return err
		}
	}
	return nil
}

func (w *ReplicationWrapper) Rename(ctx context.Context, oldInfo, newInfo *objinfo.Info) error {
	if err := w.primary.Rename(ctx, oldInfo, newInfo); err != nil {
		return err
	}
	for _, r := range w.replicas {
		if err := r.Rename(ctx, oldInfo, newInfo); err != nil {
			return err
		}
	}
	return nil
}

func (w *ReplicationWrapper) Nuke(ctx context.Context) error {
	if err := w.primary.Nuke(ctx); err != nil {
		return err
	}
	for _, r := range w.replicas {
		if err := r.Nuke(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (w *ReplicationWrapper) HealthCheck(ctx context.Context) error {
	if err := w.primary.HealthCheck(ctx); err != nil {
		return err
	}
	for _, r := range w.replicas {
		if err := r.HealthCheck(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (w *ReplicationWrapper) Close() error {
	var firstErr error
	if err := w.primary.Close(); err != nil {
		firstErr = err
	}
	for _, r := range w.replicas {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

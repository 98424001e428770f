package storagewrap

import (
	"context"
	"sync"

	"github.com/objectfs/shadowfs/internal/objinfo"
	"github.com/objectfs/shadowfs/pkg/errors"
)

// memBackend is a trivial in-memory storage.Backend used only by this
// package's tests. It is keyed the same way every real backend is, via
// objinfo.DerivedKey, so a wrapper that rewrites info.StorageKey is
// exercised the same way it would be against FileSystemBackend/KVBackend.
type memBackend struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newMemBackend() *memBackend {
	return &memBackend{objects: make(map[string][]byte)}
}

func (b *memBackend) key(info *objinfo.Info) string {
	return objinfo.DerivedKey(info, false)
}

func (b *memBackend) Get(ctx context.Context, info *objinfo.Info) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[b.key(info)]
	if !ok {
		return nil, errors.New(errors.ErrCodeNotFound, "no such object").
			WithComponent("memBackend").WithOperation("get")
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (b *memBackend) Put(ctx context.Context, info *objinfo.Info, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	key := b.key(info)
	b.objects[key] = stored
	info.FullPath = key
	b.puts++
	return nil
}

func (b *memBackend) Remove(ctx context.Context, info *objinfo.Info) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, b.key(info))
	return nil
}

func (b *memBackend) Rename(ctx context.Context, oldInfo, newInfo *objinfo.Info) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	oldKey := b.key(oldInfo)
	data, ok := b.objects[oldKey]
	if !ok {
		return nil
	}
	delete(b.objects, oldKey)
	b.objects[b.key(newInfo)] = data
	return nil
}

func (b *memBackend) Nuke(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects = make(map[string][]byte)
	return nil
}

func (b *memBackend) HealthCheck(ctx context.Context) error { return nil }

func (b *memBackend) Close() error { return nil }

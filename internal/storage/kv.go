package storage

import (
	"context"

	"go.etcd.io/bbolt"

	"github.com/objectfs/shadowfs/internal/objinfo"
	"github.com/objectfs/shadowfs/pkg/errors"
)

var objectsBucket = []byte("objects")

// KVBackend stores objects in a single embedded key/value store, one
// bucket standing in for the "single column family" the spec names for its
// RocksDb backend. No pure-Go RocksDB binding exists, so this is
// implemented over go.etcd.io/bbolt — a deliberate, documented substitution.
type KVBackend struct {
	db                *bbolt.DB
	useHashAsFilename bool
}

// NewKVBackend opens (creating if absent) a bbolt database at path and
// ensures the objects bucket exists.
func NewKVBackend(path string, useHashAsFilename bool) (*KVBackend, error) {
	db, err := bbolt.Open(path, 0644, nil)
	if err != nil {
		return nil, errors.New(errors.ErrCodeIO, "failed to open kv backend").
			WithComponent("storage.kv").WithOperation("open").WithCause(err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(objectsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.New(errors.ErrCodeIO, "failed to create objects bucket").
			WithComponent("storage.kv").WithOperation("open").WithCause(err)
	}
	return &KVBackend{db: db, useHashAsFilename: useHashAsFilename}, nil
}

func (b *KVBackend) key(info *objinfo.Info) []byte {
	return []byte(objinfo.DerivedKey(info, b.useHashAsFilename))
}

func (b *KVBackend) Get(ctx context.Context, info *objinfo.Info) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(objectsBucket).Get(b.key(info))
		if v == nil {
			return errors.New(errors.ErrCodeNotFound, "object not found").
				WithComponent("storage.kv").WithOperation("get")
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *KVBackend) Put(ctx context.Context, info *objinfo.Info, data []byte) error {
	key := b.key(info)
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(objectsBucket).Put(key, data)
	})
	if err != nil {
		return errors.New(errors.ErrCodeIO, "kv put failed").
			WithComponent("storage.kv").WithOperation("put").WithCause(err)
	}
	info.FullPath = string(key)
	return nil
}

func (b *KVBackend) Remove(ctx context.Context, info *objinfo.Info) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(objectsBucket).Delete(b.key(info))
	})
	if err != nil {
		return errors.New(errors.ErrCodeIO, "kv remove failed").
			WithComponent("storage.kv").WithOperation("remove").WithCause(err)
	}
	return nil
}

func (b *KVBackend) Rename(ctx context.Context, oldInfo, newInfo *objinfo.Info) error {
	oldKey, newKey := b.key(oldInfo), b.key(newInfo)
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(objectsBucket)
		v := bucket.Get(oldKey)
		if v == nil {
			return nil // missing source: zero-byte rename, not an error
		}
		data := make([]byte, len(v))
		copy(data, v)
		if err := bucket.Put(newKey, data); err != nil {
			return err
		}
		return bucket.Delete(oldKey)
	})
	if err != nil {
		return errors.New(errors.ErrCodeIO, "kv rename failed").
			WithComponent("storage.kv").WithOperation("rename").WithCause(err)
	}
	return nil
}

func (b *KVBackend) Nuke(ctx context.Context) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(objectsBucket); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(objectsBucket)
		return err
	})
	if err != nil {
		return errors.New(errors.ErrCodeIO, "kv nuke failed").
			WithComponent("storage.kv").WithOperation("nuke").WithCause(err)
	}
	return nil
}

func (b *KVBackend) HealthCheck(ctx context.Context) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(objectsBucket) == nil {
			return errors.New(errors.ErrCodeIO, "objects bucket missing").
				WithComponent("storage.kv").WithOperation("health_check")
		}
		return nil
	})
}

func (b *KVBackend) Close() error {
	return b.db.Close()
}

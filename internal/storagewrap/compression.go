package storagewrap

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"

	"github.com/objectfs/shadowfs/internal/objinfo"
	"github.com/objectfs/shadowfs/internal/storage"
	"github.com/objectfs/shadowfs/pkg/errors"
)

// CompressionWrapper gzips payloads at a configured level on put, and
// transparently gunzips on get when info.Compression was set by a prior put.
type CompressionWrapper struct {
	next  storage.Backend
	level int
}

// NewCompressionWrapper wraps next with gzip compression at level (clamped
// to [0, 9]).
func NewCompressionWrapper(next storage.Backend, level int) *CompressionWrapper {
	if level < gzip.NoCompression {
		level = gzip.NoCompression
	}
	if level > gzip.BestCompression {
		level = gzip.BestCompression
	}
	return &CompressionWrapper{next: next, level: level}
}

func (w *CompressionWrapper) Put(ctx context.Context, info *objinfo.Info, data []byte) error {
	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, w.level)
	if err != nil {
		return errors.New(errors.ErrCodeInternal, "gzip writer init failed").
			WithComponent("storagewrap").WithOperation("compress_put").WithCause(err)
	}
	if _, err := gz.Write(data); err != nil {
		return errors.New(errors.ErrCodeIO, "gzip compress failed").
			WithComponent("storagewrap").WithOperation("compress_put").WithCause(err)
	}
	if err := gz.Close(); err != nil {
		return errors.New(errors.ErrCodeIO, "gzip finalize failed").
			WithComponent("storagewrap").WithOperation("compress_put").WithCause(err)
	}

	info.Compression = fmt.Sprintf("gzip:%d", w.level)
	return w.next.Put(ctx, info, buf.Bytes())
}

func (w *CompressionWrapper) Get(ctx context.Context, info *objinfo.Info) ([]byte, error) {
	raw, err := w.next.Get(ctx, info)
	if err != nil {
		return nil, err
	}
	if info.Compression == "" {
		return raw, nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.New(errors.ErrCodeIntegrity, "gzip stream corrupt").
			WithComponent("storagewrap").WithOperation("compress_get").WithCause(err)
	}
	defer gz.Close()
	out, err := io.ReadAll(gz)
	if err != nil {
		return nil, errors.New(errors.ErrCodeIntegrity, "gzip decompress failed").
			WithComponent("storagewrap").WithOperation("compress_get").WithCause(err)
	}
	return out, nil
}

func (w *CompressionWrapper) Remove(ctx context.Context, info *objinfo.Info) error {
	return w.next.Remove(ctx, info)
}

func (w *CompressionWrapper) Rename(ctx context.Context, oldInfo, newInfo *objinfo.Info) error {
	return w.next.Rename(ctx, oldInfo, newInfo)
}

func (w *CompressionWrapper) Nuke(ctx context.Context) error {
	return w.next.Nuke(ctx)
}

func (w *CompressionWrapper) HealthCheck(ctx context.Context) error {
	return w.next.HealthCheck(ctx)
}

func (w *CompressionWrapper) Close() error {
	return w.next.Close()
}

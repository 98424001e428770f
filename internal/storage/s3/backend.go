package s3

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/objectfs/shadowfs/internal/circuit"
	"github.com/objectfs/shadowfs/internal/objinfo"
	"github.com/objectfs/shadowfs/pkg/errors"
	"github.com/objectfs/shadowfs/pkg/retry"
)

// Backend stores objects as S3 keys, grounded on the teacher's
// internal/storage/s3 client (aws-sdk-go-v2), simplified to a single
// *s3.Client since spec.md §5 makes the filesystem core single-threaded —
// the teacher's accelerated-client/connection-pool machinery optimizes
// throughput under concurrent access this system never has. Every object
// call and each Nuke delete batch is wrapped in a circuit breaker and an
// exponential-backoff retryer (spec.md §4.9); Nuke's ListObjectsV2 calls
// are not.
type Backend struct {
	client            *s3.Client
	cfg               *Config
	breaker           *circuit.CircuitBreaker
	retryer           *retry.Retryer
	useHashAsFilename bool
}

// NewBackend builds an S3 backend for cfg, loading AWS credentials from the
// default provider chain.
func NewBackend(ctx context.Context, cfg *Config, useHashAsFilename bool) (*Backend, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "s3 bucket not configured").
			WithComponent("storage.s3").WithOperation("open")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, errors.New(errors.ErrCodeIO, "failed to load aws config").
			WithComponent("storage.s3").WithOperation("open").WithCause(err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = awssdk.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	breaker := circuit.NewCircuitBreaker("s3-"+cfg.Bucket, circuit.Config{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
	})

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.MaxRetries
	retryCfg.InitialDelay = cfg.RetryDelay

	return &Backend{
		client:            client,
		cfg:               cfg,
		breaker:           breaker,
		retryer:           retry.New(retryCfg),
		useHashAsFilename: useHashAsFilename,
	}, nil
}

func (b *Backend) key(info *objinfo.Info) string {
	return objinfo.DerivedKey(info, b.useHashAsFilename)
}

func (b *Backend) withResilience(ctx context.Context, fn func(context.Context) error) error {
	return b.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return b.retryer.DoWithContext(ctx, fn)
	})
}

func (b *Backend) Get(ctx context.Context, info *objinfo.Info) ([]byte, error) {
	var out []byte
	err := b.withResilience(ctx, func(ctx context.Context) error {
		resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: awssdk.String(b.cfg.Bucket),
			Key:    awssdk.String(b.key(info)),
		})
		if err != nil {
			return classify(err, "get")
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return errors.New(errors.ErrCodeIO, "s3 body read failed").
				WithComponent("storage.s3").WithOperation("get").WithCause(err)
		}
		out = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Backend) Put(ctx context.Context, info *objinfo.Info, data []byte) error {
	key := b.key(info)
	err := b.withResilience(ctx, func(ctx context.Context) error {
		_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: awssdk.String(b.cfg.Bucket),
			Key:    awssdk.String(key),
			Body:   bytes.NewReader(data),
		})
		if err != nil {
			return classify(err, "put")
		}
		return nil
	})
	if err != nil {
		return err
	}
	info.FullPath = "s3://" + b.cfg.Bucket + "/" + key
	return nil
}

func (b *Backend) Remove(ctx context.Context, info *objinfo.Info) error {
	return b.withResilience(ctx, func(ctx context.Context) error {
		_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: awssdk.String(b.cfg.Bucket),
			Key:    awssdk.String(b.key(info)),
		})
		if err != nil {
			return classify(err, "remove")
		}
		return nil
	})
}

func (b *Backend) Rename(ctx context.Context, oldInfo, newInfo *objinfo.Info) error {
	oldKey, newKey := b.key(oldInfo), b.key(newInfo)
	return b.withResilience(ctx, func(ctx context.Context) error {
		_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     awssdk.String(b.cfg.Bucket),
			CopySource: awssdk.String(b.cfg.Bucket + "/" + oldKey),
			Key:        awssdk.String(newKey),
		})
		if err != nil {
			if isNotFound(err) {
				return nil // missing source: zero-byte rename, not an error
			}
			return classify(err, "rename")
		}
		_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: awssdk.String(b.cfg.Bucket),
			Key:    awssdk.String(oldKey),
		})
		if err != nil {
			return classify(err, "rename:delete_source")
		}
		return nil
	})
}

// Nuke lists every object in the bucket and deletes it in batches of
// cfg.DeleteBatchSize (1000 by default, the DeleteObjects API maximum),
// the bulk purge loop from spec.md §4.2.
func (b *Backend) Nuke(ctx context.Context) error {
	var continuationToken *string
	for {
		listResp, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            awssdk.String(b.cfg.Bucket),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return classify(err, "nuke:list")
		}
		if len(listResp.Contents) > 0 {
			if err := b.deleteBatch(ctx, listResp.Contents); err != nil {
				return err
			}
		}
		if listResp.IsTruncated == nil || !*listResp.IsTruncated {
			break
		}
		continuationToken = listResp.NextContinuationToken
	}
	return nil
}

func (b *Backend) deleteBatch(ctx context.Context, objects []s3types.Object) error {
	batchSize := b.cfg.DeleteBatchSize
	if batchSize <= 0 || batchSize > 1000 {
		batchSize = 1000
	}
	for start := 0; start < len(objects); start += batchSize {
		end := start + batchSize
		if end > len(objects) {
			end = len(objects)
		}
		ids := make([]s3types.ObjectIdentifier, 0, end-start)
		for _, obj := range objects[start:end] {
			ids = append(ids, s3types.ObjectIdentifier{Key: obj.Key})
		}
		err := b.withResilience(ctx, func(ctx context.Context) error {
			_, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: awssdk.String(b.cfg.Bucket),
				Delete: &s3types.Delete{Objects: ids},
			})
			if err != nil {
				return classify(err, "nuke:delete_batch")
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) HealthCheck(ctx context.Context) error {
	return b.withResilience(ctx, func(ctx context.Context) error {
		_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: awssdk.String(b.cfg.Bucket)})
		if err != nil {
			return classify(err, "health_check")
		}
		return nil
	})
}

func (b *Backend) Close() error { return nil }

func isNotFound(err error) bool {
	var nf *s3types.NoSuchKey
	if stderrors.As(err, &nf) {
		return true
	}
	var nb *s3types.NotFound
	return stderrors.As(err, &nb)
}

func classify(err error, op string) error {
	if isNotFound(err) {
		return errors.New(errors.ErrCodeNotFound, "s3 object not found").
			WithComponent("storage.s3").WithOperation(op).WithCause(err)
	}
	return errors.New(errors.ErrCodeIO, "s3 request failed").
		WithComponent("storage.s3").WithOperation(op).WithCause(err)
}

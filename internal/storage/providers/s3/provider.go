// Package s3 implements storage.Backend on any S3-compatible object store
// (MinIO, Supabase storage, AWS) via the MinIO client.
package s3

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/chatvault/chatvault/internal/config"
	"github.com/chatvault/chatvault/internal/storage"
)

// Provider stores media objects in a single bucket.
type Provider struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
}

// New creates an S3 storage backend and ensures the bucket exists.
func New(ctx context.Context, cfg config.S3Config) (*Provider, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	publicBase := strings.TrimRight(cfg.PublicBaseURL, "/")
	if publicBase == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicBase = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}
	return &Provider{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: publicBase,
	}, nil
}

// Upload streams data into the bucket with content type, disposition and
// cache policy applied as object metadata.
func (p *Provider) Upload(ctx context.Context, key string, reader io.Reader, opts storage.PutOptions) error {
	putOpts := minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
	}
	if opts.Disposition != "" {
		putOpts.ContentDisposition = string(opts.Disposition)
	}
	// Size -1 streams with multipart chunking.
	if _, err := p.client.PutObject(ctx, p.bucket, key, reader, -1, putOpts); err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// Exists probes the object with a stat call.
func (p *Provider) Exists(ctx context.Context, key string) (bool, error) {
	_, err := p.client.StatObject(ctx, p.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			return false, nil
		}
		return false, fmt.Errorf("stat object: %w", err)
	}
	return true, nil
}

// Open returns a reader over the object bytes.
func (p *Provider) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := p.client.GetObject(ctx, p.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	return obj, nil
}

// Delete removes the object.
func (p *Provider) Delete(ctx context.Context, key string) error {
	if err := p.client.RemoveObject(ctx, p.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

// PublicURL joins the public base URL with the storage key.
func (p *Provider) PublicURL(key string) string {
	return p.publicBaseURL + "/" + strings.TrimLeft(key, "/")
}

package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"photorestore/internal/config"
)

// Bucket names a logical bucket so callers never pass raw bucket strings around.
type Bucket string

const (
	BucketOriginals Bucket = "originals"
	BucketRestored  Bucket = "restored"
)

type ObjectStore struct {
	client *minio.Client
	cfg    config.StorageConfig
}

func NewObjectStore(cfg config.StorageConfig) (*ObjectStore, error) {
	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL

	if strings.HasPrefix(endpoint, "http") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint: %w", err)
		}
		endpoint = u.Host
		useSSL = u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}

	return &ObjectStore{
		client: client,
		cfg:    cfg,
	}, nil
}

func (s *ObjectStore) bucketName(b Bucket) string {
	if b == BucketRestored {
		return s.cfg.BucketRestored
	}
	return s.cfg.BucketOriginals
}

func (s *ObjectStore) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.cfg.BucketOriginals, s.cfg.BucketRestored} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("bucket exists %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// Put stores an object keyed "<user_id>/<name>". The owner is recorded as
// object metadata. Restored results never change once written and are
// marked immutable for caches in front of the signed URLs.
func (s *ObjectStore) Put(ctx context.Context, bucket Bucket, key string, r io.Reader, size int64, contentType string) (int64, error) {
	opts := minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"owner": Owner(key)},
	}
	if bucket == BucketRestored {
		opts.CacheControl = "private, max-age=31536000, immutable"
	}

	info, err := s.client.PutObject(ctx, s.bucketName(bucket), key, r, size, opts)
	if err != nil {
		return 0, fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return info.Size, nil
}

// Owner returns the user folder of key, or "" for keys outside one.
func Owner(key string) string {
	owner, _, ok := strings.Cut(strings.TrimPrefix(key, "/"), "/")
	if !ok {
		return ""
	}
	return owner
}

// Remove deletes an object. A key that is already gone is not an error.
func (s *ObjectStore) Remove(ctx context.Context, bucket Bucket, key string) error {
	err := s.client.RemoveObject(ctx, s.bucketName(bucket), key, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("remove %s/%s: %w", bucket, key, err)
	}
	return nil
}

// SignedURL returns a time-limited GET URL for a private object.
func (s *ObjectStore) SignedURL(ctx context.Context, bucket Bucket, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = s.cfg.SignedURLTTL
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucketName(bucket), key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

func (s *ObjectStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.cfg.BucketOriginals)
	return err
}

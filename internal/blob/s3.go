package blob

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options configure the S3 storage backend. Endpoint may carry an
// http:// or https:// scheme, which overrides UseSSL; an empty endpoint
// means AWS S3.
type S3Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	KeyPrefix string
	URLExpiry time.Duration
}

// S3Store stores objects in an S3-compatible bucket. It works against AWS
// as well as MinIO and other S3-compatible services.
type S3Store struct {
	client    *minio.Client
	bucket    string
	keyPrefix string
	urlExpiry time.Duration
	logger    *slog.Logger
}

// NewS3Store creates an S3 storage backend and verifies that the
// configured bucket exists. If logger is nil, a default logger will be
// used.
func NewS3Store(ctx context.Context, opts S3Options, logger *slog.Logger) (*S3Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket name is required")
	}

	endpoint, useSSL := normalizeEndpoint(opts.Endpoint, opts.UseSSL)

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: useSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %q: %w", opts.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("s3 bucket %q does not exist", opts.Bucket)
	}

	expiry := opts.URLExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}

	return &S3Store{
		client:    client,
		bucket:    opts.Bucket,
		keyPrefix: strings.Trim(opts.KeyPrefix, "/"),
		urlExpiry: expiry,
		logger:    logger.With(slog.String("component", "s3_storage")),
	}, nil
}

// Ensure S3Store implements the Store interface
var _ Store = (*S3Store)(nil)

// Put implements Store.Put
func (s *S3Store) Put(ctx context.Context, localPath, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	_, err := s.client.FPutObject(ctx, s.bucket, s.objectName(key), localPath, minio.PutObjectOptions{
		ContentType: contentTypeFor(key),
	})
	if err != nil {
		return fmt.Errorf("failed to store object %q: %w", key, err)
	}

	s.logger.Debug("object stored",
		slog.String("key", key),
		slog.String("bucket", s.bucket))
	return nil
}

// Get implements Store.Get
func (s *S3Store) Get(ctx context.Context, key, localPath string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	err := s.client.FGetObject(ctx, s.bucket, s.objectName(key), localPath, minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("failed to fetch object %q: %w", key, err)
	}

	return nil
}

// URL implements Store.URL by returning a presigned GET URL.
func (s *S3Store) URL(ctx context.Context, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	exists, err := s.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucket, s.objectName(key), s.urlExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign object %q: %w", key, err)
	}

	return u.String(), nil
}

// Delete implements Store.Delete
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	err := s.client.RemoveObject(ctx, s.bucket, s.objectName(key), minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("failed to delete object %q: %w", key, err)
	}

	return nil
}

// List implements Store.List
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}

	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.objectName(prefix),
		Recursive: true,
	})
	for object := range objects {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list objects under %q: %w", prefix, object.Err)
		}
		keys = append(keys, s.trimPrefix(object.Key))
	}

	return keys, nil
}

// Exists implements Store.Exists
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	_, err := s.client.StatObject(ctx, s.bucket, s.objectName(key), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// objectName prepends the configured key prefix.
func (s *S3Store) objectName(key string) string {
	if s.keyPrefix == "" {
		return key
	}
	return path.Join(s.keyPrefix, key)
}

// trimPrefix converts a bucket object name back to a storage key.
func (s *S3Store) trimPrefix(objectName string) string {
	if s.keyPrefix == "" {
		return objectName
	}
	return strings.TrimPrefix(objectName, s.keyPrefix+"/")
}

// isNoSuchKey reports whether an S3 error means the object is missing.
func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}

// normalizeEndpoint strips an optional scheme from the endpoint and
// derives the SSL setting from it.
func normalizeEndpoint(endpoint string, useSSL bool) (string, bool) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimPrefix(endpoint, "https://"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimPrefix(endpoint, "http://"), false
	case endpoint == "":
		return "s3.amazonaws.com", true
	default:
		return endpoint, useSSL
	}
}

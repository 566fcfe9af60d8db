// Package minio stores serialized coefficient set documents in an S3
// compatible bucket.
package minio

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/turtacn/mbnrg-pip/internal/config"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

// API is the subset of *minio.Client the store uses. GetObject returns a
// plain ReadCloser so tests can serve bodies from memory.
type API interface {
	ListBuckets(ctx context.Context) ([]minio.BucketInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

type clientAdapter struct {
	*minio.Client
}

func (a clientAdapter) GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	return a.Client.GetObject(ctx, bucket, key, opts)
}

var (
	ErrObjectNotFound = errors.New(errors.ErrCodeCoeffSetNotFound, "object not found")
	ErrStoreClosed    = errors.New(errors.ErrCodeServiceUnavailable, "object store is closed")
)

// ObjectStore implements coefficient.BlobStore on one bucket.
type ObjectStore struct {
	api    API
	bucket string
	region string
	logger logging.Logger
	mu     sync.RWMutex
	closed bool
}

// NewObjectStore connects to cfg.Endpoint, verifies the credentials and
// creates the bucket when it is missing.
func NewObjectStore(ctx context.Context, cfg config.MinIOConfig, log logging.Logger) (*ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create minio client")
	}

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := client.ListBuckets(cctx); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to connect to minio")
	}

	s := NewObjectStoreFromAPI(clientAdapter{client}, cfg.Bucket, cfg.Region, log)
	if err := s.EnsureBucket(cctx); err != nil {
		return nil, err
	}
	s.logger.Info("MinIO object store connected",
		logging.String("endpoint", cfg.Endpoint),
		logging.String("bucket", cfg.Bucket),
		logging.Bool("ssl", cfg.UseSSL))
	return s, nil
}

// NewObjectStoreFromAPI wraps an existing client.
func NewObjectStoreFromAPI(api API, bucket, region string, log logging.Logger) *ObjectStore {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &ObjectStore{api: api, bucket: bucket, region: region, logger: log.Named("minio")}
}

// EnsureBucket creates the bucket if it does not exist.
func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.api.BucketExists(ctx, s.bucket)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeExternalService, "failed to check bucket").WithDetail(s.bucket)
	}
	if exists {
		return nil
	}
	if err := s.api.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		// Another replica may have won the race.
		if code := minio.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeExternalService, "failed to create bucket").WithDetail(s.bucket)
	}
	s.logger.Info("bucket created", logging.String("bucket", s.bucket))
	return nil
}

func (s *ObjectStore) Bucket() string { return s.bucket }

func (s *ObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if s.isClosed() {
		return ErrStoreClosed
	}
	_, err := s.api.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCoeffStorageFailed, "failed to upload object").WithDetail(key)
	}
	s.logger.Debug("object stored", logging.String("key", key), logging.Int("size", len(data)))
	return nil
}

// Get returns ErrObjectNotFound (COEFF_001) for a missing key.
func (s *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}
	obj, err := s.api.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.readError(err, key)
	}
	defer obj.Close()

	// The request is sent lazily, so a missing key surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.readError(err, key)
	}
	return data, nil
}

func (s *ObjectStore) readError(err error, key string) error {
	if isNotFound(err) {
		return ErrObjectNotFound.WithDetail(key)
	}
	return errors.Wrap(err, errors.ErrCodeExternalService, "failed to download object").WithDetail(key)
}

// Delete is idempotent: S3 reports success for missing keys.
func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	if s.isClosed() {
		return ErrStoreClosed
	}
	if err := s.api.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if isNotFound(err) {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeExternalService, "failed to delete object").WithDetail(key)
	}
	return nil
}

// HealthCheck lists buckets and reports whether the configured one exists.
func (s *ObjectStore) HealthCheck(ctx context.Context) common.ComponentHealth {
	start := time.Now()
	h := common.ComponentHealth{Name: "minio", Status: common.HealthUp}
	if _, err := s.api.ListBuckets(ctx); err != nil {
		h.Status, h.Message = common.HealthDown, err.Error()
	} else if ok, err := s.api.BucketExists(ctx, s.bucket); err != nil || !ok {
		h.Status, h.Message = common.HealthDown, "bucket "+s.bucket+" missing"
	}
	h.Latency = time.Since(start)
	return h
}

// Close marks the store closed. minio-go holds no connections that need
// releasing.
func (s *ObjectStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *ObjectStore) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchObject"
}

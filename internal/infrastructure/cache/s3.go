package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/davidleathers/division-billing/internal/infrastructure/config"
)

// sidecarKey is the user metadata entry holding the sidecar. S3 stores body and
// user metadata in one PutObject, so an entry is replaced atomically.
const sidecarKey = "sidecar"

// s3API is the slice of the S3 client the store uses
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3BlobStore keeps each entry as one object <prefix><key>.pdf
type S3BlobStore struct {
	client s3API
	bucket string
	prefix string
	logger *zap.Logger
}

// NewS3Client loads the default AWS credential chain; an endpoint switches to
// path-style addressing for MinIO or LocalStack
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.Endpoint == "" {
		return s3.NewFromConfig(awsCfg), nil
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	}), nil
}

func NewS3BlobStore(client s3API, bucket, prefix string, logger *zap.Logger) *S3BlobStore {
	return &S3BlobStore{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

func (s *S3BlobStore) objectKey(key string) string {
	return s.prefix + key + ".pdf"
}

func (s *S3BlobStore) ReadMeta(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return nil, s.mapError(key, "head", err)
	}
	meta, ok := out.Metadata[sidecarKey]
	if !ok {
		return nil, ErrBlobNotFound{Key: key}
	}
	return []byte(meta), nil
}

func (s *S3BlobStore) Read(ctx context.Context, key string) (Entry, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return Entry{}, s.mapError(key, "get", err)
	}
	defer out.Body.Close()

	meta, ok := out.Metadata[sidecarKey]
	if !ok {
		return Entry{}, ErrBlobNotFound{Key: key}
	}
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return Entry{}, fmt.Errorf("s3 read body failed: %w", err)
	}
	return Entry{Data: data, Meta: []byte(meta)}, nil
}

// Write ignores expiry; bucket lifecycle rules bound storage instead
func (s *S3BlobStore) Write(ctx context.Context, key string, e Entry, expiry time.Duration) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(e.Data),
		ContentType: aws.String("application/pdf"),
		Metadata:    map[string]string{sidecarKey: string(e.Meta)},
	})
	if err != nil {
		s.logger.Error("s3 put failed",
			zap.String("key", key),
			zap.Int("bytes", len(e.Data)),
			zap.Error(err))
		return fmt.Errorf("s3 put failed: %w", err)
	}
	return nil
}

func (s *S3BlobStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete failed: %w", err)
	}
	return nil
}

func (s *S3BlobStore) Close() error {
	return nil
}

func (s *S3BlobStore) mapError(key, op string, err error) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return ErrBlobNotFound{Key: key}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
		return ErrBlobNotFound{Key: key}
	}
	s.logger.Error("s3 request failed", zap.String("op", op), zap.String("key", key), zap.Error(err))
	return fmt.Errorf("s3 %s failed: %w", op, err)
}

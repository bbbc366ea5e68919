// Package s3 implements the archive Mirror on AWS S3 and S3-compatible storage.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/fjmerc/mediavault/internal/storage"
)

// multipartUploadPartSize is the size for S3 multipart upload parts (5MB minimum)
const multipartUploadPartSize = 5 * 1024 * 1024

// Config holds configuration for the S3 mirror.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Custom endpoint for MinIO or other S3-compatible services
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool   // Use path-style addressing (required for MinIO)
	Prefix          string // Prepended to every object key
}

// objectAPI is the subset of the S3 client used outside of multipart uploads.
type objectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Mirror copies archived files into a bucket, keyed by their archive-relative path.
type Mirror struct {
	client   objectAPI
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

var _ storage.Mirror = (*Mirror)(nil)

// NewMirror creates a Mirror and verifies bucket access.
func NewMirror(ctx context.Context, cfg Config) (*Mirror, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}

	var optFuncs []func(*config.LoadOptions) error
	if cfg.Region != "" {
		optFuncs = append(optFuncs, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFuncs = append(optFuncs, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFuncs...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.PathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = multipartUploadPartSize
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	}); err != nil {
		return nil, fmt.Errorf("failed to access S3 bucket %q: %w", cfg.Bucket, err)
	}

	slog.Info("S3 mirror initialized",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"endpoint", cfg.Endpoint,
		"path_style", cfg.PathStyle,
		"prefix", cfg.Prefix,
	)

	return &Mirror{
		client:   client,
		uploader: uploader,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// validateKey ensures the key doesn't contain path traversal or dangerous characters.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key not allowed")
	}
	if strings.ContainsRune(key, '\x00') {
		return fmt.Errorf("null bytes not allowed in key")
	}
	if strings.Contains(key, "%") {
		return fmt.Errorf("encoded characters not allowed in key")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("path traversal not allowed: %s", key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == "/" {
		return fmt.Errorf("invalid key: %s", key)
	}
	return nil
}

// objectKey maps an archive-relative path to the bucket key.
func (m *Mirror) objectKey(key string) string {
	key = strings.TrimPrefix(path.Clean(strings.ReplaceAll(key, `\`, "/")), "/")
	if m.prefix == "" {
		return key
	}
	return m.prefix + "/" + key
}

// Upload streams localPath to the bucket using multipart upload.
func (m *Mirror) Upload(ctx context.Context, key string, localPath string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", storage.NewStorageErrorWithMessage("Upload", key, err, "key validation failed")
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", storage.NewStorageError("Upload", localPath, err)
	}
	defer f.Close()

	objectKey := m.objectKey(key)
	if _, err := m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(objectKey),
		Body:   f,
	}); err != nil {
		return "", storage.NewStorageError("Upload", objectKey, err)
	}

	location := fmt.Sprintf("s3://%s/%s", m.bucket, objectKey)
	slog.Debug("file mirrored to S3", "local_path", localPath, "location", location)
	return location, nil
}

// Exists checks if key is present in the bucket.
func (m *Mirror) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, storage.NewStorageErrorWithMessage("Exists", key, err, "key validation failed")
	}

	objectKey := m.objectKey(key)
	_, err := m.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, storage.NewStorageError("Exists", objectKey, err)
	}

	return true, nil
}

// Download streams the object for key into w.
func (m *Mirror) Download(ctx context.Context, key string, w io.Writer) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, storage.NewStorageErrorWithMessage("Download", key, err, "key validation failed")
	}

	objectKey := m.objectKey(key)
	result, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, storage.NewStorageErrorWithMessage("Download", objectKey, err, "object not found")
		}
		return 0, storage.NewStorageError("Download", objectKey, err)
	}
	defer result.Body.Close()

	written, err := io.Copy(w, result.Body)
	if err != nil {
		return written, storage.NewStorageError("Download", objectKey, err)
	}
	return written, nil
}

// Delete removes the object for key. Missing objects are not an error.
func (m *Mirror) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return storage.NewStorageErrorWithMessage("Delete", key, err, "key validation failed")
	}

	objectKey := m.objectKey(key)
	if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(objectKey),
	}); err != nil {
		return storage.NewStorageError("Delete", objectKey, err)
	}

	slog.Debug("file deleted from S3 mirror", "key", objectKey)
	return nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}

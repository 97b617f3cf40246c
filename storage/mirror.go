package storage

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// AssetMirror copies uploaded game files into a MinIO/S3 bucket so the local
// asset store can be rebuilt after disk loss. The local tree stays canonical;
// mirror failures are reported to callers who log and continue.
type AssetMirror struct {
	client *minio.Client
	bucket string
}

// NewAssetMirrorFromEnv initialises the mirror from MINIO_* environment
// variables. It returns (nil, nil) when the mirror is not configured.
func NewAssetMirrorFromEnv() (*AssetMirror, error) {
	endpoint := strings.TrimSpace(os.Getenv("MINIO_ENDPOINT"))
	accessKey := strings.TrimSpace(os.Getenv("MINIO_ACCESS_KEY"))
	secretKey := strings.TrimSpace(os.Getenv("MINIO_SECRET_KEY"))
	bucket := strings.TrimSpace(os.Getenv("MINIO_BUCKET"))
	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		return nil, nil
	}

	useSSL := strings.EqualFold(strings.TrimSpace(os.Getenv("MINIO_USE_SSL")), "true")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: create bucket: %w", err)
		}
	}

	return &AssetMirror{client: client, bucket: bucket}, nil
}

// Upload copies the file at localPath into the bucket under the object key
// derived from the site-relative URL.
func (m *AssetMirror) Upload(ctx context.Context, relURL, localPath string) error {
	if m == nil || m.client == nil {
		return nil
	}
	key := objectKey(relURL)
	if key == "" {
		return nil
	}

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(localPath)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	uploadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := m.client.FPutObject(uploadCtx, m.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("storage: mirror %s: %w", key, err)
	}
	return nil
}

// Remove deletes the mirrored object for the given site-relative URL.
func (m *AssetMirror) Remove(ctx context.Context, relURL string) error {
	if m == nil || m.client == nil {
		return nil
	}
	key := objectKey(relURL)
	if key == "" {
		return nil
	}

	removeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return m.client.RemoveObject(removeCtx, m.bucket, key, minio.RemoveObjectOptions{})
}

// RemovePrefix deletes every mirrored object beneath the given site-relative
// directory, used when a whole game directory is removed.
func (m *AssetMirror) RemovePrefix(ctx context.Context, relDir string) error {
	if m == nil || m.client == nil {
		return nil
	}
	prefix := objectKey(relDir)
	if prefix == "" {
		return nil
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	listCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	var firstErr error
	for object := range m.client.ListObjects(listCtx, m.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("storage: list %s: %w", prefix, object.Err)
			}
			continue
		}
		if err := m.client.RemoveObject(listCtx, m.bucket, object.Key, minio.RemoveObjectOptions{}); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("storage: remove %s: %w", object.Key, err)
		}
	}
	return firstErr
}

// objectKey maps a site-relative /uploads/... URL onto a bucket key. Paths
// outside the uploads tree are not mirrored.
func objectKey(relURL string) string {
	trimmed := strings.TrimSpace(relURL)
	trimmed = strings.TrimPrefix(trimmed, "/")
	if trimmed == "" || strings.Contains(trimmed, "://") {
		return ""
	}
	if !strings.HasPrefix(trimmed, "uploads/") {
		return ""
	}
	return trimmed
}

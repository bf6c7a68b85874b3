package services

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/stackmelt/cargohold/internal/config"
)

// S3Remote stores archives in an S3-compatible bucket via the minio client.
type S3Remote struct {
	client *minio.Client
	bucket string
	prefix string
	log    zerolog.Logger
}

// NewS3Remote creates an S3-backed Remote from the storage.s3 section.
func NewS3Remote(cfg *config.Config, log zerolog.Logger) (*S3Remote, error) {
	s3 := cfg.Storage.S3
	client, err := minio.New(s3.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(s3.AccessKey, s3.SecretKey, ""),
		Secure: s3.UseSSL,
		Region: s3.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	return &S3Remote{
		client: client,
		bucket: s3.Bucket,
		prefix: strings.Trim(cfg.Storage.Destination, "/"),
		log:    log,
	}, nil
}

func (r *S3Remote) objectName(name string) string {
	if r.prefix == "" {
		return name
	}
	return path.Join(r.prefix, name)
}

// Copy uploads the archive as one object.
func (r *S3Remote) Copy(ctx context.Context, localPath, name string) error {
	_, err := r.client.FPutObject(ctx, r.bucket, r.objectName(name), localPath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", name, err)
	}
	return nil
}

// List enumerates objects under the destination prefix.
func (r *S3Remote) List(ctx context.Context) ([]RemoteEntry, error) {
	opts := minio.ListObjectsOptions{Recursive: true}
	if r.prefix != "" {
		opts.Prefix = r.prefix + "/"
	}

	var entries []RemoteEntry
	for obj := range r.client.ListObjects(ctx, r.bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("s3 list: %w", obj.Err)
		}
		name := strings.TrimPrefix(obj.Key, opts.Prefix)
		if name == "" || strings.HasSuffix(name, "/") {
			continue
		}
		entries = append(entries, RemoteEntry{Name: name, Size: obj.Size, ModTime: obj.LastModified})
	}
	return entries, nil
}

// Delete removes one object.
func (r *S3Remote) Delete(ctx context.Context, name string) error {
	err := r.client.RemoveObject(ctx, r.bucket, r.objectName(name), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("s3 delete %s: %w", name, err)
	}
	return nil
}

// Fetch downloads one object into localPath.
func (r *S3Remote) Fetch(ctx context.Context, name, localPath string) error {
	if err := r.client.FGetObject(ctx, r.bucket, r.objectName(name), localPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("s3 fetch %s: %w", name, err)
	}
	return nil
}

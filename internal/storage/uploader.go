// Package storage uploads downloaded documents to an S3-compatible bucket.
package storage

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/johndauphine/tg-migrate/internal/config"
)

// Uploader puts local files into a bucket under a key prefix.
type Uploader struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewUploader creates an uploader from cfg. It returns nil, nil when
// storage is disabled.
func NewUploader(cfg config.StorageConfig) (*Uploader, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	endpoint, err := cleanEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}

	return &Uploader{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

// Enabled reports whether u can upload. A nil uploader is disabled.
func (u *Uploader) Enabled() bool {
	return u != nil && u.client != nil
}

// Key returns the object key for a path relative to the output root.
func (u *Uploader) Key(rel string) string {
	rel = strings.TrimLeft(filepath.ToSlash(rel), "/")
	if u.prefix == "" {
		return rel
	}
	return path.Join(u.prefix, rel)
}

// Upload puts the file at localPath under Key(rel) and returns the key.
// The sha256 digest, when known, is stored as object metadata.
func (u *Uploader) Upload(ctx context.Context, localPath, rel, sha256 string) (string, error) {
	key := u.Key(rel)
	opts := minio.PutObjectOptions{ContentType: contentType(localPath)}
	if sha256 != "" {
		opts.UserMetadata = map[string]string{"sha256": sha256}
	}
	if _, err := u.client.FPutObject(ctx, u.bucket, key, localPath, opts); err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	return key, nil
}

func contentType(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	return "application/octet-stream"
}

// cleanEndpoint reduces an endpoint URL to host:port.
func cleanEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("endpoint cannot be empty")
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if strings.Contains(endpoint, "/") {
			return "", fmt.Errorf("endpoint contains path but no protocol")
		}
		return endpoint, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint URL: %w", err)
	}
	if u.Path != "" && u.Path != "/" {
		return "", fmt.Errorf("endpoint URL cannot have paths (got path: %s)", u.Path)
	}
	return u.Host, nil
}

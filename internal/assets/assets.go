// Package assets signs read URLs for company logos kept in S3-compatible
// object storage.
package assets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultURLTTL = time.Hour

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

// Store signs logo URLs. A nil *Store is valid and signs nothing.
type Store struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
}

// New returns nil, nil when no endpoint is configured.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, nil
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("assets: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("assets: create client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket, ttl: defaultURLTTL}, nil
}

// LogoURL returns a time-limited GET URL for key. Absolute URLs are passed
// through; an empty key or an unconfigured store yields "".
func (s *Store) LogoURL(ctx context.Context, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", nil
	}
	if strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://") {
		return key, nil
	}
	if s == nil {
		return "", nil
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, strings.TrimPrefix(key, "/"), s.ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

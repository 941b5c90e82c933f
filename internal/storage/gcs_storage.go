package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"promoshot/internal/config"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const (
	gcsWriteTimeout  = 2 * time.Minute
	gcsDeleteTimeout = 30 * time.Second
)

type gcsStorage struct {
	client     *gcs.Client
	bucket     string
	prefix     string
	publicBase string
}

// NewGCSStorage 没有配置凭证文件时使用应用默认凭证
func NewGCSStorage(ctx context.Context, cfg config.Config) (Storage, error) {
	bucket := strings.TrimSpace(cfg.StorageGCSBucket)
	if bucket == "" {
		return nil, errors.New("storage: STORAGE_GCS_BUCKET is required")
	}

	clientOpts := []option.ClientOption{option.WithScopes(gcs.ScopeReadWrite)}
	if file := strings.TrimSpace(cfg.StorageGCSCredentialsFile); file != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(file))
	}
	client, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: gcs client: %w", err)
	}

	publicBase := strings.TrimSpace(cfg.StorageGCSPublicBaseURL)
	if !isAbsoluteURL(publicBase) {
		publicBase = "https://storage.googleapis.com/" + bucket
	}
	return &gcsStorage{client: client, bucket: bucket, prefix: trimPrefix(cfg.StorageGCSPrefix), publicBase: publicBase}, nil
}

func (s *gcsStorage) Save(ctx context.Context, data []byte, opts SaveOptions) (string, error) {
	obj, err := prepareObject(ctx, data, s.prefix, opts)
	if err != nil {
		return "", err
	}

	writeCtx, cancel := context.WithTimeout(ctx, gcsWriteTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(obj.Key).NewWriter(writeCtx)
	w.ContentType = obj.ContentType
	w.CacheControl = obj.CacheControl
	w.Metadata = obj.Metadata
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("storage: gcs write %s: %w", obj.Key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage: gcs finalize %s: %w", obj.Key, err)
	}
	return obj.Key, nil
}

func (s *gcsStorage) Delete(ctx context.Context, key string) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	deleteCtx, cancel := context.WithTimeout(ctx, gcsDeleteTimeout)
	defer cancel()

	err = s.client.Bucket(s.bucket).Object(cleaned).Delete(deleteCtx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("storage: gcs delete %s: %w", cleaned, err)
	}
	return nil
}

func (s *gcsStorage) PublicURL(key string) string {
	return joinURL(s.publicBase, key)
}

var _ Storage = (*gcsStorage)(nil)

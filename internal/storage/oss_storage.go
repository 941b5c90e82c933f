package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"promoshot/internal/config"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

type ossStorage struct {
	bucket     *oss.Bucket
	prefix     string
	publicBase string
}

// NewOSSStorage 连接阿里云 OSS，未配置公开地址时使用 <bucket>.<endpoint>
func NewOSSStorage(cfg config.Config) (Storage, error) {
	endpoint := strings.TrimSpace(cfg.StorageOSSEndpoint)
	bucketName := strings.TrimSpace(cfg.StorageOSSBucket)
	accessKey := strings.TrimSpace(cfg.StorageOSSAccessKeyID)
	secretKey := strings.TrimSpace(cfg.StorageOSSAccessKeySecret)
	switch {
	case endpoint == "":
		return nil, errors.New("storage: STORAGE_OSS_ENDPOINT is required")
	case bucketName == "":
		return nil, errors.New("storage: STORAGE_OSS_BUCKET is required")
	case accessKey == "" || secretKey == "":
		return nil, errors.New("storage: oss credentials are required")
	}

	client, err := oss.New(endpoint, accessKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("storage: oss client: %w", err)
	}
	bucket, err := client.Bucket(bucketName)
	if err != nil {
		return nil, fmt.Errorf("storage: oss bucket %s: %w", bucketName, err)
	}

	publicBase := strings.TrimSpace(cfg.StoragePublicBaseURL)
	if !isAbsoluteURL(publicBase) {
		host := strings.TrimRight(strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://"), "/")
		publicBase = "https://" + bucketName + "." + host
	}
	return &ossStorage{bucket: bucket, prefix: trimPrefix(cfg.StorageOSSPrefix), publicBase: publicBase}, nil
}

func (s *ossStorage) Save(ctx context.Context, data []byte, opts SaveOptions) (string, error) {
	obj, err := prepareObject(ctx, data, s.prefix, opts)
	if err != nil {
		return "", err
	}
	options := []oss.Option{
		oss.WithContext(ctx),
		oss.ContentType(obj.ContentType),
		oss.CacheControl(obj.CacheControl),
	}
	for k, v := range obj.Metadata {
		options = append(options, oss.Meta(k, v))
	}
	if err := s.bucket.PutObject(obj.Key, bytes.NewReader(data), options...); err != nil {
		return "", fmt.Errorf("storage: oss put %s: %w", obj.Key, err)
	}
	return obj.Key, nil
}

func (s *ossStorage) Delete(ctx context.Context, key string) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := s.bucket.DeleteObject(cleaned, oss.WithContext(ctx)); err != nil {
		return fmt.Errorf("storage: oss delete %s: %w", cleaned, err)
	}
	return nil
}

func (s *ossStorage) PublicURL(key string) string {
	return joinURL(s.publicBase, key)
}

var _ Storage = (*ossStorage)(nil)

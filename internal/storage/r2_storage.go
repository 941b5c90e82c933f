package storage

import (
	"errors"
	"fmt"
	"strings"

	"promoshot/internal/config"
)

// NewR2Storage 通过 S3 兼容接口访问 Cloudflare R2。R2 桶默认不公开，必须配置自定义域名作为公开地址
func NewR2Storage(cfg config.Config) (Storage, error) {
	bucket := strings.TrimSpace(cfg.StorageR2Bucket)
	if bucket == "" {
		return nil, errors.New("storage: STORAGE_R2_BUCKET is required")
	}
	publicBase := strings.TrimSpace(cfg.StoragePublicBaseURL)
	if !isAbsoluteURL(publicBase) {
		return nil, errors.New("storage: r2 needs an absolute STORAGE_PUBLIC_BASE_URL")
	}

	endpoint := strings.TrimSpace(cfg.StorageR2Endpoint)
	if endpoint == "" {
		account := strings.TrimSpace(cfg.StorageR2AccountID)
		if account == "" {
			return nil, errors.New("storage: STORAGE_R2_ENDPOINT or STORAGE_R2_ACCOUNT_ID is required")
		}
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", account)
	}
	region := strings.TrimSpace(cfg.StorageR2Region)
	if region == "" {
		region = "auto"
	}

	client, err := newS3Client(s3Credentials{
		region:    region,
		endpoint:  endpoint,
		accessKey: cfg.StorageR2AccessKeyID,
		secretKey: cfg.StorageR2SecretAccessKey,
		pathStyle: true,
	})
	if err != nil {
		return nil, err
	}
	return &bucketStorage{
		client:     client,
		bucket:     bucket,
		prefix:     trimPrefix(cfg.StorageR2Prefix),
		publicBase: publicBase,
	}, nil
}

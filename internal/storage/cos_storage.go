package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"promoshot/internal/config"

	"github.com/tencentyun/cos-go-sdk-v5"
)

type cosStorage struct {
	client     *cos.Client
	prefix     string
	publicBase string
}

// NewCOSStorage 连接腾讯云 COS，公开地址默认为桶地址
func NewCOSStorage(cfg config.Config) (Storage, error) {
	bucketURL := strings.TrimSpace(cfg.StorageCOSBucketURL)
	if bucketURL == "" {
		return nil, errors.New("storage: STORAGE_COS_BUCKET_URL is required")
	}
	parsed, err := url.Parse(bucketURL)
	if err != nil {
		return nil, fmt.Errorf("storage: cos bucket url: %w", err)
	}
	secretID := strings.TrimSpace(cfg.StorageCOSSecretID)
	secretKey := strings.TrimSpace(cfg.StorageCOSSecretKey)
	if secretID == "" || secretKey == "" {
		return nil, errors.New("storage: cos credentials are required")
	}

	client := cos.NewClient(&cos.BaseURL{BucketURL: parsed}, &http.Client{
		Transport: &cos.AuthorizationTransport{SecretID: secretID, SecretKey: secretKey},
	})

	publicBase := strings.TrimSpace(cfg.StoragePublicBaseURL)
	if !isAbsoluteURL(publicBase) {
		publicBase = bucketURL
	}
	return &cosStorage{client: client, prefix: trimPrefix(cfg.StorageCOSPrefix), publicBase: publicBase}, nil
}

func (s *cosStorage) Save(ctx context.Context, data []byte, opts SaveOptions) (string, error) {
	obj, err := prepareObject(ctx, data, s.prefix, opts)
	if err != nil {
		return "", err
	}

	meta := make(http.Header, len(obj.Metadata))
	for k, v := range obj.Metadata {
		meta.Set("x-cos-meta-"+k, v)
	}
	resp, err := s.client.Object.Put(ctx, obj.Key, bytes.NewReader(data), &cos.ObjectPutOptions{
		ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{
			ContentType:   obj.ContentType,
			ContentLength: int64(len(data)),
			CacheControl:  obj.CacheControl,
			XCosMetaXXX:   &meta,
		},
	})
	closeCOSResponse(resp)
	if err != nil {
		return "", fmt.Errorf("storage: cos put %s: %w", obj.Key, err)
	}
	return obj.Key, nil
}

func (s *cosStorage) Delete(ctx context.Context, key string) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	resp, err := s.client.Object.Delete(ctx, cleaned)
	closeCOSResponse(resp)
	if err != nil && !cos.IsNotFoundError(err) {
		return fmt.Errorf("storage: cos delete %s: %w", cleaned, err)
	}
	return nil
}

func (s *cosStorage) PublicURL(key string) string {
	return joinURL(s.publicBase, key)
}

func closeCOSResponse(resp *cos.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}

var _ Storage = (*cosStorage)(nil)

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"promoshot/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// bucketStorage 适用于 S3 以及 R2、MinIO 等 S3 兼容服务
type bucketStorage struct {
	client     *s3.Client
	bucket     string
	prefix     string
	publicBase string
}

type s3Credentials struct {
	region       string
	endpoint     string
	accessKey    string
	secretKey    string
	sessionToken string
	pathStyle    bool
}

func NewS3Storage(cfg config.Config) (Storage, error) {
	bucket := strings.TrimSpace(cfg.StorageS3Bucket)
	region := strings.TrimSpace(cfg.StorageS3Region)
	switch {
	case bucket == "":
		return nil, errors.New("storage: STORAGE_S3_BUCKET is required")
	case region == "":
		return nil, errors.New("storage: STORAGE_S3_REGION is required")
	}

	client, err := newS3Client(s3Credentials{
		region:       region,
		endpoint:     cfg.StorageS3Endpoint,
		accessKey:    cfg.StorageS3AccessKeyID,
		secretKey:    cfg.StorageS3SecretAccessKey,
		sessionToken: cfg.StorageS3SessionToken,
		pathStyle:    cfg.StorageS3ForcePathStyle,
	})
	if err != nil {
		return nil, err
	}

	publicBase := strings.TrimSpace(cfg.StoragePublicBaseURL)
	if !isAbsoluteURL(publicBase) {
		publicBase = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	}
	return &bucketStorage{
		client:     client,
		bucket:     bucket,
		prefix:     trimPrefix(cfg.StorageS3Prefix),
		publicBase: publicBase,
	}, nil
}

// newS3Client 使用静态凭证；配置了 endpoint 时改写 BaseEndpoint 指向兼容服务
func newS3Client(c s3Credentials) (*s3.Client, error) {
	accessKey, secretKey := strings.TrimSpace(c.accessKey), strings.TrimSpace(c.secretKey)
	if accessKey == "" || secretKey == "" {
		return nil, errors.New("storage: bucket credentials are required")
	}

	awsCfg := aws.Config{
		Region: strings.TrimSpace(c.region),
		Credentials: aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, strings.TrimSpace(c.sessionToken)),
		),
	}

	endpoint := strings.TrimSpace(c.endpoint)
	if endpoint != "" && !isAbsoluteURL(endpoint) {
		endpoint = "https://" + endpoint
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = c.pathStyle
	}), nil
}

func (s *bucketStorage) Save(ctx context.Context, data []byte, opts SaveOptions) (string, error) {
	obj, err := prepareObject(ctx, data, s.prefix, opts)
	if err != nil {
		return "", err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(obj.Key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(obj.ContentType),
		CacheControl:  aws.String(obj.CacheControl),
		Metadata:      obj.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("storage: put %s to bucket %s: %w", obj.Key, s.bucket, err)
	}
	return obj.Key, nil
}

// Delete 对不存在的键同样返回成功
func (s *bucketStorage) Delete(ctx context.Context, key string) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(cleaned),
	})
	if err != nil && !isMissingObject(err) {
		return fmt.Errorf("storage: delete %s from bucket %s: %w", cleaned, s.bucket, err)
	}
	return nil
}

func (s *bucketStorage) PublicURL(key string) string {
	return joinURL(s.publicBase, key)
}

func isMissingObject(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

var _ Storage = (*bucketStorage)(nil)

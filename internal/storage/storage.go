package storage

import (
	"context"
	"fmt"
	"strings"

	"promoshot/internal/config"
)

// 支持的存储驱动
const (
	TypeLocal = "local"
	TypeS3    = "s3"
	TypeOSS   = "oss"
	TypeCOS   = "cos"
	TypeR2    = "r2"
	TypeGCS   = "gcs"
)

// 对象分类，决定键的第二段以及缓存策略
const (
	CategoryProducts  = "products"
	CategoryArtifacts = "artifacts"
)

// SaveOptions 描述一次写入。Owner 非零时键以所有者 id 开头，删除权限据此判断；
// Extension 为空时由 ContentType 推断。Metadata 原样写入对象的自定义元数据，本地存储忽略。
type SaveOptions struct {
	Owner       uint
	Category    string
	Extension   string
	ContentType string
	BaseName    string
	Metadata    map[string]string
}

// Storage 保存商品原图与镜像后的生成结果，返回的键用于删除和拼接公开地址
type Storage interface {
	Save(ctx context.Context, data []byte, opts SaveOptions) (string, error)
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}

// LocalBaseDirProvider 由可以直接挂载为静态目录的驱动实现
type LocalBaseDirProvider interface {
	LocalBaseDir() string
}

// NewStorage 按 STORAGE_TYPE 选择驱动，未配置时落到本地磁盘
func NewStorage(ctx context.Context, cfg config.Config) (Storage, error) {
	switch driver := strings.ToLower(strings.TrimSpace(cfg.StorageType)); driver {
	case "", TypeLocal:
		return NewLocalStorage(cfg.StorageLocalDir, cfg.StoragePublicBaseURL)
	case TypeS3:
		return NewS3Storage(cfg)
	case TypeR2:
		return NewR2Storage(cfg)
	case TypeOSS:
		return NewOSSStorage(cfg)
	case TypeCOS:
		return NewCOSStorage(cfg)
	case TypeGCS:
		return NewGCSStorage(ctx, cfg)
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", driver)
	}
}

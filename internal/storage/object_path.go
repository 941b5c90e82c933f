package storage

import (
	"context"
	"errors"
	"mime"
	"path"
	"strconv"
	"strings"
	"time"

	"promoshot/internal/utils"

	"github.com/google/uuid"
)

var (
	// ErrInvalidKey 键为空或试图跳出存储根目录
	ErrInvalidKey   = errors.New("storage: invalid object key")
	errEmptyPayload = errors.New("storage: empty payload")
)

const (
	cacheControlArtifacts = "public, max-age=31536000, immutable"
	cacheControlProducts  = "private, max-age=3600"
)

// object 是一次写入在各驱动间共享的描述
type object struct {
	Key          string
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

// prepareObject 校验载荷并生成带前缀的键、内容类型、缓存头与元数据
func prepareObject(ctx context.Context, data []byte, prefix string, opts SaveOptions) (object, error) {
	if len(data) == 0 {
		return object{}, errEmptyPayload
	}
	if err := ctx.Err(); err != nil {
		return object{}, err
	}
	return object{
		Key:          joinPrefix(prefix, buildObjectPath(opts, time.Now().UTC())),
		ContentType:  contentTypeFor(opts),
		CacheControl: cacheControlFor(opts.Category),
		Metadata:     objectMetadata(opts),
	}, nil
}

// buildObjectPath 生成 <owner>/<category>/yyyy/mm/dd/<name>.<ext>，owner 为零时省略第一段
func buildObjectPath(opts SaveOptions, now time.Time) string {
	category := cleanSegment(opts.Category)
	if category == "" {
		category = "misc"
	}
	name := strings.Trim(cleanSegment(strings.ReplaceAll(opts.BaseName, " ", "-")), "-_")
	if name == "" {
		name = uuid.NewString()
	}
	ext := strings.TrimPrefix(strings.TrimSpace(opts.Extension), ".")
	if ext == "" {
		ext = utils.ExtensionFromMime(opts.ContentType)
	}
	if ext = cleanSegment(ext); ext == "" {
		ext = "bin"
	}

	segments := make([]string, 0, 6)
	if opts.Owner > 0 {
		segments = append(segments, strconv.FormatUint(uint64(opts.Owner), 10))
	}
	segments = append(segments, category, now.Format("2006/01/02"), name+"."+ext)
	return path.Join(segments...)
}

// cleanSegment 转为小写，只保留字母数字、连字符和下划线
func cleanSegment(value string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return -1
	}, strings.TrimSpace(value))
}

func contentTypeFor(opts SaveOptions) string {
	if ct := strings.TrimSpace(opts.ContentType); ct != "" {
		return ct
	}
	if byExt := mime.TypeByExtension("." + cleanSegment(opts.Extension)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}

// cacheControlFor 生成结果写入后不再变化；商品原图可能被用户删除，只做短期私有缓存
func cacheControlFor(category string) string {
	if cleanSegment(category) == CategoryArtifacts {
		return cacheControlArtifacts
	}
	return cacheControlProducts
}

// objectMetadata 合并调用方元数据与 owner/category，键统一为小写
func objectMetadata(opts SaveOptions) map[string]string {
	meta := make(map[string]string, len(opts.Metadata)+2)
	for k, v := range opts.Metadata {
		if key := cleanSegment(k); key != "" && strings.TrimSpace(v) != "" {
			meta[key] = strings.TrimSpace(v)
		}
	}
	if opts.Owner > 0 {
		meta["owner"] = strconv.FormatUint(uint64(opts.Owner), 10)
	}
	if category := cleanSegment(opts.Category); category != "" {
		meta["category"] = category
	}
	return meta
}

func joinPrefix(prefix, key string) string {
	key = strings.TrimLeft(key, "/")
	if p := trimPrefix(prefix); p != "" {
		return path.Join(p, key)
	}
	return key
}

func trimPrefix(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), "/")
}

// cleanKey 规范化键并拒绝 ".." 段
func cleanKey(key string) (string, error) {
	trimmed := strings.TrimLeft(strings.TrimSpace(key), "/")
	if trimmed == "" {
		return "", ErrInvalidKey
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == ".." {
			return "", ErrInvalidKey
		}
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

func joinURL(base, key string) string {
	key = strings.TrimLeft(key, "/")
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	return base + "/" + key
}

func isAbsoluteURL(value string) bool {
	return strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://")
}

// OwnsKey 判断 key 是否属于 ownerID。允许驱动前缀出现在所有者段之前，
// 但所有者段后面必须紧跟已知分类。
func OwnsKey(key string, ownerID uint) bool {
	if ownerID == 0 {
		return false
	}
	cleaned, err := cleanKey(key)
	if err != nil {
		return false
	}
	owner := strconv.FormatUint(uint64(ownerID), 10)
	segments := strings.Split(cleaned, "/")
	for i := 0; i+1 < len(segments); i++ {
		if segments[i] != owner {
			continue
		}
		switch segments[i+1] {
		case CategoryProducts, CategoryArtifacts:
			return true
		}
	}
	return false
}

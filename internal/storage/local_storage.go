package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultLocalDir    = "datas/files"
	defaultLocalPrefix = "/files"
)

// LocalStorage 把对象写入本地目录，由路由挂载为静态文件
type LocalStorage struct {
	root       string
	publicBase string
}

func NewLocalStorage(root, publicBase string) (*LocalStorage, error) {
	if root = strings.TrimSpace(root); root == "" {
		root = defaultLocalDir
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create local dir %q: %w", root, err)
	}
	if publicBase = strings.TrimSpace(publicBase); publicBase == "" {
		publicBase = defaultLocalPrefix
	}
	return &LocalStorage{root: root, publicBase: publicBase}, nil
}

func (s *LocalStorage) LocalBaseDir() string {
	return s.root
}

func (s *LocalStorage) abs(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Save 先写临时文件再改名，避免静态路由读到半截文件
func (s *LocalStorage) Save(ctx context.Context, data []byte, opts SaveOptions) (string, error) {
	obj, err := prepareObject(ctx, data, "", opts)
	if err != nil {
		return "", err
	}
	target := s.abs(obj.Key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("storage: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("storage: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("storage: write %s: %w", obj.Key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("storage: close %s: %w", obj.Key, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("storage: chmod %s: %w", obj.Key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("storage: move %s: %w", obj.Key, err)
	}
	return obj.Key, nil
}

// Delete 删除文件，文件不存在视为成功
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := os.Remove(s.abs(cleaned)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: remove %s: %w", cleaned, err)
	}
	return nil
}

func (s *LocalStorage) PublicURL(key string) string {
	return joinURL(s.publicBase, key)
}

var (
	_ Storage              = (*LocalStorage)(nil)
	_ LocalBaseDirProvider = (*LocalStorage)(nil)
)

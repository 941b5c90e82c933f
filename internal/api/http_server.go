package api

import (
	"strings"
	"time"

	"promoshot/internal/auth"
	"promoshot/internal/config"
	"promoshot/internal/lifecycle"
	"promoshot/internal/model"
	"promoshot/internal/notify"
	"promoshot/internal/service"
	"promoshot/internal/storage"
)

// Services 是 HTTP 层依赖的服务集合
type Services struct {
	Accounts   *service.AccountService
	Dispatcher *service.Dispatcher
	Resolver   *service.Resolver
	States     *lifecycle.Store
	// Publisher 接收执行器回调转换出的终态事件
	Publisher notify.Publisher
}

// HTTPHandler HTTP 请求处理器
type HTTPHandler struct {
	cfg               config.Config
	repo              model.Repository
	storage           storage.Storage
	storagePublicBase string
	authManager       *auth.Manager

	// 服务层
	accounts   *service.AccountService
	dispatcher *service.Dispatcher
	resolver   *service.Resolver
	states     *lifecycle.Store
	publisher  notify.Publisher
}

// NewHTTPHandler 创建 HTTP 处理器实例
func NewHTTPHandler(cfg config.Config, repo model.Repository, store storage.Storage, services Services) (*HTTPHandler, error) {
	expiry := time.Duration(cfg.JWTExpirationMinutes) * time.Minute
	authManager, err := auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer, expiry)
	if err != nil {
		return nil, err
	}

	states := services.States
	if states == nil {
		states = lifecycle.NewStore(lifecycle.Options{})
	}

	return &HTTPHandler{
		cfg:               cfg,
		repo:              repo,
		storage:           store,
		storagePublicBase: normalisePublicBase(cfg.StoragePublicBaseURL),
		authManager:       authManager,
		accounts:          services.Accounts,
		dispatcher:        services.Dispatcher,
		resolver:          services.Resolver,
		states:            states,
		publisher:         services.Publisher,
	}, nil
}

// normalisePublicBase 规范化公共 URL 基础路径
func normalisePublicBase(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		trimmed = "/files"
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return strings.TrimRight(trimmed, "/")
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	return strings.TrimRight(trimmed, "/")
}

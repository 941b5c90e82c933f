package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"promoshot/internal/config"
	"promoshot/internal/executor"
	"promoshot/internal/lifecycle"
	"promoshot/internal/model"
	"promoshot/internal/notify"
	"promoshot/internal/service"
	"promoshot/internal/storage"

	"github.com/sirupsen/logrus"
)

// App 持有进程内共享的依赖，由 HTTP 服务与命令行共用
type App struct {
	Config     config.Config
	Repo       model.Repository
	Storage    storage.Storage
	Executor   *executor.Client
	States     *lifecycle.Store
	Bus        notify.Bus
	Resolver   *service.Resolver
	Dispatcher *service.Dispatcher
	Accounts   *service.AccountService
}

// New 按配置组装依赖。执行器未配置时仍可启动，提交会以 DispatchError 失败
func New(ctx context.Context, cfg config.Config) (*App, error) {
	repo, err := model.InitRepository(&cfg)
	if err != nil {
		return nil, fmt.Errorf("initialise repository: %w", err)
	}
	if repo == nil {
		return nil, errors.New("repository not configured")
	}

	store, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialise storage: %w", err)
	}

	bus, err := notify.NewBus(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialise notify bus: %w", err)
	}

	status := cfg.ExecutorStatus()
	if status.Reason != "" {
		logrus.WithField("reason", status.Reason).Warn("executor partially configured")
	}

	client := executor.NewClientFromConfig(cfg)
	states := lifecycle.NewStore(lifecycle.Options{})
	poll := service.PollOptions{Interval: cfg.PollInterval, MaxAttempts: cfg.PollMaxAttempts}

	var mirrorStore storage.Storage
	if cfg.MirrorArtifacts {
		mirrorStore = store
	}
	resolver := service.NewResolver(repo, client, states, mirrorStore, service.ResolverOptions{
		Poll:            poll,
		MirrorArtifacts: cfg.MirrorArtifacts,
	})

	dispatcher := service.NewDispatcher(repo, client, resolver, states, service.DispatcherOptions{
		PushEnabled: PushEnabled(cfg),
		Poll:        poll,
	})

	accounts := service.NewAccountService(repo, service.AccountOptions{
		SignupBonusCredits: cfg.SignupBonusCredits,
		DefaultWebhookPath: cfg.DefaultWebhookPath,
	})

	return &App{
		Config:     cfg,
		Repo:       repo,
		Storage:    store,
		Executor:   client,
		States:     states,
		Bus:        bus,
		Resolver:   resolver,
		Dispatcher: dispatcher,
		Accounts:   accounts,
	}, nil
}

// PushEnabled 报告结果是否由回调推送送达；此时提交后不轮询，只按轮询上限设置超时截止
func PushEnabled(cfg config.Config) bool {
	if strings.TrimSpace(cfg.ExecutorWebhookSecret) != "" {
		return true
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.NotifyDriver))
	return driver != "" && driver != notify.DriverMemory
}

// SeedTemplates 从 YAML 文件同步工作流模板，path 为空时跳过
func (a *App) SeedTemplates(ctx context.Context, path string) (model.SeedResult, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return model.SeedResult{}, nil
	}
	templates, err := model.LoadTemplateSeedFile(path)
	if err != nil {
		return model.SeedResult{}, err
	}
	return model.SeedWorkflowTemplates(ctx, a.Repo, templates)
}

// Close 释放通知总线
func (a *App) Close() error {
	if a == nil || a.Bus == nil {
		return nil
	}
	return a.Bus.Close()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"promoshot/internal/api"
	"promoshot/internal/app"
	"promoshot/internal/config"
	"promoshot/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout  = 15 * time.Second
	evictionInterval = time.Minute
)

func main() {
	// 初始化配置
	cfg, err := config.ParseConfig()
	if err != nil {
		logrus.WithError(err).Error("Failed to parse config")
		os.Exit(1)
	}

	// 初始化logger
	logrus.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logrus.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	deps, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logrus.WithError(err).Warn("failed to close notify bus")
		}
	}()

	if result, err := deps.SeedTemplates(ctx, cfg.TemplateSeedFile); err != nil {
		logrus.WithError(err).Warn("failed to seed workflow templates")
	} else if result.Created+result.Updated > 0 {
		logrus.WithFields(logrus.Fields{
			"created": result.Created,
			"updated": result.Updated,
		}).Info("workflow templates seeded")
	}

	// 接管上次运行遗留的处理中请求
	if _, err := deps.Dispatcher.Resume(ctx); err != nil {
		logrus.WithError(err).Warn("failed to resume processing requests")
	}

	httpHandler, err := api.NewHTTPHandler(cfg, deps.Repo, deps.Storage, api.Services{
		Accounts:   deps.Accounts,
		Dispatcher: deps.Dispatcher,
		Resolver:   deps.Resolver,
		States:     deps.States,
		Publisher:  deps.Bus,
	})
	if err != nil {
		return fmt.Errorf("initialise http handler: %w", err)
	}

	// 设置Gin模式
	gin.SetMode(gin.ReleaseMode)
	r := api.NewRouter(httpHandler)

	serverHost := fmt.Sprintf("0.0.0.0:%s", cfg.HTTPPort)
	httpServer := &http.Server{
		Addr:         serverHost,
		Handler:      r,
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 0, // SSE 连接长期保持
		IdleTimeout:  300 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logrus.WithField("host", serverHost).Info("服务器启动")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		return deps.Resolver.Listen(groupCtx, deps.Bus, service.ListenFilter{})
	})

	group.Go(func() error {
		deps.States.Run(groupCtx, evictionInterval)
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logrus.Info("服务器关闭中")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("http server shutdown incomplete")
		}
		if err := deps.Dispatcher.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("background polls did not finish before shutdown")
		}
		return nil
	})

	return group.Wait()
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"coderun/internal/common/cache"
	"coderun/internal/common/db"
	"coderun/internal/common/ratelimit"
	"coderun/internal/runner/controller"
	"coderun/internal/runner/queue"
	"coderun/internal/runner/repository"
	"coderun/internal/runner/service"
	"coderun/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/api.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	var history repository.HistoryRecorder
	if appCfg.Database.DSN != "" {
		mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
		if err != nil {
			logger.Error(context.Background(), "init database failed", zap.Error(err))
			return
		}
		defer func() {
			_ = mysqlDB.Close()
		}()
		historyRepo := repository.NewMySQLHistoryRepository(mysqlDB)
		if err := historyRepo.EnsureSchema(context.Background()); err != nil {
			logger.Error(context.Background(), "ensure history schema failed", zap.Error(err))
			return
		}
		history = historyRepo
	}

	taskService, err := service.NewTaskService(service.Config{
		Queue:         queue.New(redisCache, appCfg.Queue),
		Results:       repository.NewResultStore(redisCache, 0),
		History:       history,
		Languages:     appCfg.Task.languages(),
		MaxCodeBytes:  appCfg.Task.MaxCodeBytes,
		MaxInputBytes: appCfg.Task.MaxInputBytes,
		WatchInterval: appCfg.Task.WatchInterval,
		WatchTimeout:  appCfg.Task.WatchTimeout,
		Timeouts:      appCfg.Task.Timeouts,
	})
	if err != nil {
		logger.Error(context.Background(), "init task service failed", zap.Error(err))
		return
	}

	routerCfg := controller.RouterConfig{
		CORS:        appCfg.Edge.CORS,
		SubmitLimit: appCfg.Edge.SubmitLimit,
	}
	if appCfg.Edge.SubmitLimit.IPMax > 0 || appCfg.Edge.SubmitLimit.RouteMax > 0 {
		routerCfg.Limiter = ratelimit.NewLimiter(redisCache, appCfg.Edge.SubmitLimit.Window, appCfg.Task.Timeouts.Cache)
	}

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      controller.NewRouter(taskService, routerCfg),
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "api http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.Bool("history", history != nil),
		)
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

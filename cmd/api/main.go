package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gianconstruction/internal/api"
	"gianconstruction/internal/config"
	"gianconstruction/internal/pkg/logger"
)

// main 是 API 服务的入口函数。
//
// 它负责：
// 1. 加载并校验配置 (缺少 JWT 密钥或数据库连接串时直接退出)
// 2. 初始化日志
// 3. 初始化 API 服务器，创建初始管理员，运行直到收到退出信号
func main() {
	cfg, err := config.Load(os.Getenv("GC_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := api.NewServer(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error("init server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			appLogger.Error("close resources failed", slog.String("error", err.Error()))
		}
	}()

	if err := srv.SeedAdmin(ctx); err != nil {
		appLogger.Error("seed admin failed", slog.String("error", err.Error()))
		return
	}

	if err := srv.Run(ctx); err != nil {
		appLogger.Error("server run failed", slog.String("error", err.Error()))
	}
}

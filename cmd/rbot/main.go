package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kami1983/sl-runes-agent/internal/app"
	"github.com/kami1983/sl-runes-agent/internal/config"
	"github.com/kami1983/sl-runes-agent/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	envFile := flag.String("env-file", ".env", "本地环境变量文件, 生产环境不加载")
	flag.Parse()

	// 本地开发从 .env 读取代币表与密钥
	envLoaded := false
	if os.Getenv("APP_ENV") != "production" {
		envLoaded = godotenv.Load(*envFile) == nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: cfg.Service.Name,
		Environment: cfg.Service.Env,
	}); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("starting service",
		zap.String("service", cfg.Service.Name),
		zap.String("config", *configPath),
		zap.Bool("env_file_loaded", envLoaded),
		zap.String("ledger_mode", cfg.Ledger.Mode),
		zap.Int("http_port", cfg.Service.HTTPPort))

	application := app.New(cfg)
	if err := application.Run(); err != nil {
		logger.Fatal("failed to start application", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	logger.Info("service stopped")
}

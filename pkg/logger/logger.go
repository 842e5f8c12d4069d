// Package logger 全局结构化日志 (zap)
package logger

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global *zap.Logger

// Config 日志配置
type Config struct {
	Level       string // debug, info, warn, error; 为空时 info
	Format      string // json 或 console
	ServiceName string
	Environment string

	// Output 为空时写 stdout
	Output io.Writer
}

// Init 初始化全局日志, 级别无法识别时返回错误
func Init(cfg *Config) error {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	core := zapcore.NewCore(newEncoder(cfg.Format), zapcore.AddSync(out), level)

	fields := []zap.Field{zap.String("service", cfg.ServiceName)}
	if cfg.Environment != "" {
		fields = append(fields, zap.String("env", cfg.Environment))
	}
	opts := []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1), zap.Fields(fields...)}
	if cfg.Environment == "dev" {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	global = zap.New(core, opts...)
	return nil
}

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.MillisDurationEncoder
	if format == "console" {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

// 未初始化时退回 zap 默认生产配置
func current() *zap.Logger {
	if global == nil {
		global, _ = zap.NewProduction(zap.AddCallerSkip(1))
	}
	return global
}

// Debug 调试日志
func Debug(msg string, fields ...zap.Field) { current().Debug(msg, fields...) }

// Info 信息日志
func Info(msg string, fields ...zap.Field) { current().Info(msg, fields...) }

// Warn 警告日志
func Warn(msg string, fields ...zap.Field) { current().Warn(msg, fields...) }

// Error 错误日志
func Error(msg string, fields ...zap.Field) { current().Error(msg, fields...) }

// Fatal 记录后退出进程
func Fatal(msg string, fields ...zap.Field) { current().Fatal(msg, fields...) }

// Sync 刷新缓冲
func Sync() error {
	if global == nil {
		return nil
	}
	return global.Sync()
}

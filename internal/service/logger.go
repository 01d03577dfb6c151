package service

import (
	"log"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 是全局日志接口
// 在其他模块中使用：service.Logger.Info("order placed", zap.String("order_id", id))
var Logger = zap.NewNop()

// logLevel 允许加载配置后再调整级别
var logLevel = zap.NewAtomicLevelAt(zap.InfoLevel)

// InitLogger 初始化高性能的 Zap 日志
func InitLogger() {
	// 配置 Zap 日志
	config := zap.NewProductionConfig()
	config.Level = logLevel

	// 格式化时间
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.TimeKey = "time"

	// 如果需要写入文件，可以修改 OutputPaths:
	// config.OutputPaths = []string{"stdout", "log/trader.log"}

	var err error
	Logger, err = config.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
}

// SetLogLevel 根据配置调整日志级别 ("debug", "info", "warn", "error")
func SetLogLevel(level string) error {
	if level == "" {
		return nil
	}
	return logLevel.UnmarshalText([]byte(level))
}

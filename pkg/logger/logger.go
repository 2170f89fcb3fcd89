package logger

import (
	"lingo_assess_backend/internal/config"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const defaultService = "lingo-assess"

// Log 在 InitLogger 之前为 no-op，便于测试和脚本直接使用
var Log = zap.NewNop()

func InitLogger(cfg *config.Config) {
	maxSize := cfg.Log.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	file := cfg.Log.File
	if file == "" {
		file = "logs/app.log"
	}

	fileWriter := zapcore.AddSync(&lumberjack.Logger{
		Filename:   file,
		MaxSize:    maxSize,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	})

	Log = New(cfg, fileWriter, zapcore.AddSync(os.Stdout))
}

// New 构建写入 JSON 与控制台两路输出的 logger，每条日志携带 service 字段
func New(cfg *config.Config, jsonOut, consoleOut zapcore.WriteSyncer) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	level := levelFor(cfg)
	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), jsonOut, level),
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), consoleOut, level),
	)

	service := cfg.Log.Service
	if service == "" {
		service = defaultService
	}
	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
		zap.Fields(zap.String("service", service)),
	)
}

// levelFor 显式配置的 log.level 优先，其次 debug 模式输出 debug 日志
func levelFor(cfg *config.Config) zapcore.Level {
	if cfg.Log.Level != "" {
		if lvl, err := zapcore.ParseLevel(cfg.Log.Level); err == nil {
			return lvl
		}
	}
	if cfg.Server.Mode == "debug" {
		return zap.DebugLevel
	}
	return zap.InfoLevel
}

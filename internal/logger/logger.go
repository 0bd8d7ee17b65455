package logger

import (
	"context"

	"github.com/a3ak/suffix"
	"github.com/nir0k/logger"
)

type Logging struct {
	FilePath     string `yaml:"file_path"`
	Format       string `yaml:"format"`
	MaxSize      string `yaml:"max_size"`
	MaxBackups   int    `yaml:"max_backups"`
	ConsoleLevel string `yaml:"console_level"`
	FileLevel    string `yaml:"file_level"`
}

var Global *logger.Logger

func init() {
	Global = &logger.Logger{}
}

func InitLogger(conf Logging) {
	consoleLevel := conf.ConsoleLevel
	if consoleLevel == "" {
		consoleLevel = "error"
	}

	format := conf.Format
	if format == "" {
		format = "standard"
	}

	loggerConf := logger.LogConfig{
		FilePath:       conf.FilePath,
		Format:         format,
		FileLevel:      conf.FileLevel,
		ConsoleLevel:   consoleLevel,
		ConsoleOutput:  conf.ConsoleLevel != "",
		EnableRotation: true,
		RotationConfig: logger.RotationConfig{
			MaxSize:    int(suffix.UnsafeToMB(conf.MaxSize)),
			MaxBackups: conf.MaxBackups,
			MaxAge:     7,
			Compress:   true,
		},
	}

	if global, err := logger.NewLogger(loggerConf); err != nil {
		panic(err)
	} else {
		Global = global
		global.Infoln("Init LOGGER ", loggerConf)
	}
}

// Ключ контекста, что бы избежать коллизий с другими пакетами
type ctxKey string

const requestIDKey ctxKey = "request_id"

// WithRequestID сохраняет идентификатор запроса в контексте
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID возвращает идентификатор запроса или "-" если его нет
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return "-"
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		return id
	}
	return "-"
}

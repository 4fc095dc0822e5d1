package log

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultLogFilePath  = "./logs/halo_server.log"
	defaultMaxSizeBytes = 100 * 1024 * 1024
	envLogFilePath      = "LOG_FILE_PATH"
	envLogFileEnabled   = "LOG_FILE_ENABLED"
	envLogMaxSizeMB     = "LOG_MAX_SIZE_MB"
	envLogFormat        = "LOG_FORMAT"
	envLogLevel         = "LOG_LEVEL"
	logFormatText       = "text"
	logFormatJSON       = "json"
)

var (
	mu     sync.RWMutex
	global = newLoggerFromEnv()
)

func newLoggerFromEnv() *zap.SugaredLogger {
	format := strings.ToLower(strings.TrimSpace(os.Getenv(envLogFormat)))
	if format != logFormatJSON {
		format = logFormatText
	}
	level := zapcore.InfoLevel
	if raw := strings.TrimSpace(os.Getenv(envLogLevel)); raw != "" {
		if parsed, err := zapcore.ParseLevel(raw); err == nil {
			level = parsed
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder

	stdoutCfg := encCfg
	var fileEncoder, stdoutEncoder zapcore.Encoder
	if format == logFormatJSON {
		fileEncoder = zapcore.NewJSONEncoder(encCfg)
		stdoutEncoder = zapcore.NewJSONEncoder(stdoutCfg)
	} else {
		stdoutCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		fileEncoder = zapcore.NewConsoleEncoder(encCfg)
		stdoutEncoder = zapcore.NewConsoleEncoder(stdoutCfg)
	}

	cores := []zapcore.Core{zapcore.NewCore(stdoutEncoder, zapcore.Lock(os.Stdout), level)}
	if fileEnabled() {
		cores = append(cores, zapcore.NewCore(fileEncoder, newRotatingFileFromEnv(), level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
}

func fileEnabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(envLogFileEnabled)))
	return raw != "false" && raw != "0"
}

// Replace swaps the process logger. Tests use it to silence output.
func Replace(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	global = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

func Debugf(format string, args ...any) {
	current().Debugf(format, args...)
}

func Infof(format string, args ...any) {
	current().Infof(format, args...)
}

func Warnf(format string, args ...any) {
	current().Warnf(format, args...)
}

func Errorf(format string, args ...any) {
	current().Errorf(format, args...)
}

// Exceptionf logs at error level with the caller's stack attached.
func Exceptionf(format string, args ...any) {
	current().Desugar().WithOptions(zap.AddStacktrace(zapcore.ErrorLevel)).Sugar().Errorf(format, args...)
}

func Sync() {
	_ = current().Sync()
}

package logger

import (
	"context"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ILogger interface {
	Debugf(ctx context.Context, msg string, args ...interface{})
	Infof(ctx context.Context, msg string, args ...interface{})
	Warnf(ctx context.Context, msg string, args ...interface{})
	Errorf(ctx context.Context, msg string, args ...interface{})
}

type Logger struct {
	level         string
	output        io.Writer
	replaceGlobal bool
	DefaultLogger *zap.Logger
}

func (log *Logger) Debugf(ctx context.Context, msg string, args ...interface{}) {
	log.DefaultLogger.Sugar().Debugf(msg, args...)
}

func (log *Logger) Infof(ctx context.Context, msg string, args ...interface{}) {
	log.DefaultLogger.Sugar().Infof(msg, args...)
}

func (log *Logger) Warnf(ctx context.Context, msg string, args ...interface{}) {
	log.DefaultLogger.Sugar().Warnf(msg, args...)
}

func (log *Logger) Errorf(ctx context.Context, msg string, args ...interface{}) {
	log.DefaultLogger.Sugar().Errorf(msg, args...)
}

func (log *Logger) Sync() error {
	return log.DefaultLogger.Sync()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	case "dev":
		return zap.DPanicLevel
	default:
		return zap.InfoLevel
	}
}

func newDefaultLogger(level string, output io.Writer) *zap.Logger {
	pe := zap.NewProductionEncoderConfig()
	pe.EncodeTime = zapcore.ISO8601TimeEncoder

	encoder := zapcore.NewJSONEncoder(pe)
	syncer := zapcore.AddSync(output)
	core := zapcore.NewCore(encoder, syncer, zap.NewAtomicLevelAt(parseLevel(level)))

	return zap.New(core, zap.WithCaller(false))
}

type Option func(*Logger)

func WithLevel(level string) Option {
	return func(logger *Logger) {
		logger.level = level
	}
}

// WithOutput redirects log lines, stdout by default.
func WithOutput(w io.Writer) Option {
	return func(logger *Logger) {
		if w != nil {
			logger.output = w
		}
	}
}

// WithGlobal also installs the logger as zap's global logger.
func WithGlobal() Option {
	return func(logger *Logger) {
		logger.replaceGlobal = true
	}
}

func NewLogger(opts ...Option) (*Logger, error) {
	logger := &Logger{output: os.Stdout}

	for _, opt := range opts {
		opt(logger)
	}

	logger.DefaultLogger = newDefaultLogger(logger.level, logger.output)
	if logger.replaceGlobal {
		zap.ReplaceGlobals(logger.DefaultLogger)
	}

	return logger, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{DefaultLogger: zap.NewNop()}
}

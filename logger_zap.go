package realtime

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLogger adapts a zap sugared logger to Logger.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger wraps an existing zap logger.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		return NewNoopLogger()
	}
	return &zapLogger{s: l.Sugar()}
}

// NewProductionZapLogger builds a JSON zap logger writing to stderr at the given level.
func NewProductionZapLogger(level string) (*zap.Logger, error) {
	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(ParseLogLevel(level)),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stack",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	return cfg.Build(zap.AddCaller(), zap.AddCallerSkip(1))
}

// ParseLogLevel maps a textual level to zap's, defaulting to info.
func ParseLogLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *zapLogger) WithField(key string, value any) Logger {
	return &zapLogger{s: l.s.With(key, value)}
}

func (l *zapLogger) Debug(args ...any)                 { l.s.Debug(args...) }
func (l *zapLogger) Debugf(format string, args ...any) { l.s.Debugf(format, args...) }
func (l *zapLogger) Debugln(args ...any)               { l.s.Debugln(args...) }
func (l *zapLogger) Info(args ...any)                  { l.s.Info(args...) }
func (l *zapLogger) Infof(format string, args ...any)  { l.s.Infof(format, args...) }
func (l *zapLogger) Infoln(args ...any)                { l.s.Infoln(args...) }
func (l *zapLogger) Warn(args ...any)                  { l.s.Warn(args...) }
func (l *zapLogger) Warnf(format string, args ...any)  { l.s.Warnf(format, args...) }
func (l *zapLogger) Warnln(args ...any)                { l.s.Warnln(args...) }
func (l *zapLogger) Error(args ...any)                 { l.s.Error(args...) }
func (l *zapLogger) Errorf(format string, args ...any) { l.s.Errorf(format, args...) }
func (l *zapLogger) Errorln(args ...any)               { l.s.Errorln(args...) }

package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"terracotta/application/logging"
)

// ZapLogger adapts a zap sugared logger to the application Logger contract.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger builds the production logger. Debug mode switches to the
// human-readable console encoder and lowers the level.
func NewZapLogger(debug bool) (logging.Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &ZapLogger{sugar: base.Sugar()}, nil
}

// NewNopLogger returns a logger that discards everything. Used by tests.
func NewNopLogger() logging.Logger {
	return &ZapLogger{sugar: zap.NewNop().Sugar()}
}

func (l *ZapLogger) Printf(format string, v ...any) {
	l.sugar.Infof(format, v...)
}

package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a production ready structured logger.
func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build(zap.Fields(zap.String("service", "tumor-detect")))
}

// WithOperation scopes the logger to one controller operation of a browser session.
func WithOperation(logger *zap.Logger, operation, sessionID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if sessionID != "" {
		fields = append(fields, zap.String("session_id", sessionID))
	}
	return logger.With(fields...)
}

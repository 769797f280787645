// Package logger builds the structured logger shared by every binary.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a JSON zap.Logger at the provided level (debug, info, warn, error).
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if level == "" {
		level = "info"
	}
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	zap.ReplaceGlobals(logger)
	return logger, nil
}

// MaskDevice hides all but the first four characters of a device identifier.
func MaskDevice(deviceID string) string {
	const visible = 4
	if deviceID == "" {
		return ""
	}
	if len(deviceID) <= visible {
		return strings.Repeat("*", len(deviceID))
	}
	return deviceID[:visible] + strings.Repeat("*", len(deviceID)-visible)
}

// Device is a zap field carrying a masked device identifier.
func Device(deviceID string) zap.Field {
	return zap.String("device", MaskDevice(deviceID))
}

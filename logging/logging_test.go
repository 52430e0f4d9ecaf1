package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"disputeflow/config"
)

func TestNew_Level(t *testing.T) {
	logger, err := New(config.Config{Env: "production", LogLevel: "warn"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("info must be disabled at warn")
	}
	if !logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatalf("error must be enabled at warn")
	}
}

func TestNew_DefaultsToInfo(t *testing.T) {
	logger, err := New(config.Config{Env: "development"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) || logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected info level")
	}
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	if _, err := New(config.Config{LogLevel: "chatty"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

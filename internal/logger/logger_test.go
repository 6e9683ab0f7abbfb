package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithAddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := wrap(zap.New(core)).With(String("component", "directory"))

	l.Info("mapping up", String("name", "svc-a"), Uint64("version", 3))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["component"] != "directory" || ctx["name"] != "svc-a" || ctx["version"] != uint64(3) {
		t.Errorf("context = %v", ctx)
	}
}

func TestNewLevels(t *testing.T) {
	if New("error", false).(*loggerImpl).base.Core().Enabled(zapcore.InfoLevel) {
		t.Error("error logger has info enabled")
	}
	if !New("debug", false).(*loggerImpl).base.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug logger has debug disabled")
	}
	if !New("bogus", false).(*loggerImpl).base.Core().Enabled(zapcore.InfoLevel) {
		t.Error("unknown level should fall back to info")
	}
}

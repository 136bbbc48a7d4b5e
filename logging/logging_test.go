package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		name    string
		want    zapcore.Level
		enabled bool
	}{
		{"trace", zapcore.DebugLevel, true},
		{"debug", zapcore.DebugLevel, true},
		{"", zapcore.InfoLevel, true},
		{"INFO", zapcore.InfoLevel, true},
		{"warn", zapcore.WarnLevel, true},
		{"error", zapcore.ErrorLevel, true},
		{"critical", zapcore.ErrorLevel, true},
		{"off", zapcore.InfoLevel, false},
	}
	for _, tc := range cases {
		lvl, enabled, err := ParseLevel(tc.name)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", tc.name, err)
		}
		if lvl != tc.want || enabled != tc.enabled {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v, %v", tc.name, lvl, enabled, tc.want, tc.enabled)
		}
	}
	if _, _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rpc.log")
	logger, err := New("warn", path)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	logger.Warn("visible")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "hidden") {
		t.Error("info message written at warn level")
	}
	if !strings.Contains(string(data), "visible") {
		t.Error("warn message missing")
	}
}

func TestNewOff(t *testing.T) {
	logger, err := New("off")
	if err != nil {
		t.Fatal(err)
	}
	if logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatal("off logger must be disabled")
	}
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) must not be nil")
	}
}

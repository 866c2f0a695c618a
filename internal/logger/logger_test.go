package logger

import (
	"sync"
	"testing"

	"go.uber.org/zap/zapcore"
)

func resetLogger() {
	global = nil
	once = sync.Once{}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		wantLevel zapcore.Level
		wantErr   bool
	}{
		{"json info", "info", "json", zapcore.InfoLevel, false},
		{"console debug", "debug", "console", zapcore.DebugLevel, false},
		{"default format", "warn", "", zapcore.WarnLevel, false},
		{"invalid level", "loud", "json", 0, true},
		{"invalid format", "info", "xml", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, lvl, err := New(tt.level, tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%q, %q) error = %v, wantErr %v", tt.level, tt.format, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if l == nil {
				t.Fatal("New() returned nil logger")
			}
			if lvl.Level() != tt.wantLevel {
				t.Errorf("level = %v, want %v", lvl.Level(), tt.wantLevel)
			}
		})
	}
}

func TestInitAndSetLevel(t *testing.T) {
	resetLogger()
	if err := Init("info", "json"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if GetLevel() != zapcore.InfoLevel {
		t.Errorf("GetLevel() = %v, want info", GetLevel())
	}
	if err := SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}
	if !L().Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug not enabled after SetLevel")
	}
	if err := SetLevel("bogus"); err == nil {
		t.Error("SetLevel(bogus) expected error")
	}
}

func TestLWithoutInitIsNop(t *testing.T) {
	resetLogger()
	l := L()
	if l == nil {
		t.Fatal("L() returned nil")
	}
	l.Info("discarded")
	if err := Sync(); err != nil {
		t.Errorf("Sync() without Init error = %v", err)
	}
}

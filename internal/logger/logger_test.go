package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_RejectsInvalidLevel(t *testing.T) {
	_, err := New(Config{Level: "loud", Format: "json"})
	if err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNew_JSONAndConsoleFormats(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		t.Run(format, func(t *testing.T) {
			log, err := New(Config{Level: "error", Format: format})
			if err != nil {
				t.Fatalf("New(%s) error: %v", format, err)
			}
			if log == nil {
				t.Fatal("New returned nil logger")
			}
			log.Debug("should be gated below error level")
		})
	}
}

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.log")
	log, err := New(Config{
		Level:  "info",
		Format: "json",
		File:   &FileConfig{Enabled: true, Path: path},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	log.WithComponent("loader").Info("rule file applied")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "rule file applied") {
		t.Errorf("log file missing message, got %q", out)
	}
	if !strings.Contains(out, `"component":"loader"`) {
		t.Errorf("log file missing component field, got %q", out)
	}
}

func TestSetLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.log")
	log, err := New(Config{
		Level:  "info",
		Format: "json",
		File:   &FileConfig{Enabled: true, Path: path},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := log.SetLevel("chatty"); err == nil {
		t.Error("expected error for unknown level")
	}

	if err := log.SetLevel("error"); err != nil {
		t.Fatalf("SetLevel(error) returned %v", err)
	}
	log.Info("suppressed after raise")
	log.Error("kept after raise")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "suppressed after raise") {
		t.Error("info entry written despite error level")
	}
	if !strings.Contains(out, "kept after raise") {
		t.Error("error entry missing from log file")
	}
}

func TestDerivedLoggersShareLevel(t *testing.T) {
	log, err := New(Config{Level: "info", Format: "json"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	derived := log.WithRequestID("req-1").WithJurisdiction("EU")
	if derived == nil {
		t.Fatal("derived logger is nil")
	}

	if err := derived.SetLevel("error"); err != nil {
		t.Fatalf("SetLevel on derived logger: %v", err)
	}
	if log.Core().Enabled(zapcore.InfoLevel) {
		t.Error("parent still accepts info after derived raised the level")
	}
	if !log.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("parent should still accept error")
	}
}

func TestNewNop(t *testing.T) {
	log := NewNop()
	log.Info("discarded")
	log.WithComponent("engine").WithRequestID("req-2").Error("also discarded")
	if err := log.SetLevel("debug"); err != nil {
		t.Errorf("SetLevel on nop logger: %v", err)
	}
}

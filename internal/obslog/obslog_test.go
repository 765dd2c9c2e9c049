package obslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestReplaceRestores(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	restore := Replace(zap.New(core))
	Named("room").Info("room_join", zap.String("side", "light"))
	restore()
	L().Info("dropped")

	if logs.Len() != 1 {
		t.Fatalf("expected one entry, got %d", logs.Len())
	}
	e := logs.All()[0]
	if e.LoggerName != "room" || e.Message != "room_join" {
		t.Fatalf("unexpected entry %+v", e)
	}
}

func TestInitWritesFile(t *testing.T) {
	defer Replace(L())()
	path := filepath.Join(t.TempDir(), "nested", "app.log")
	if err := Init(Options{Level: "debug", Format: "json", File: true, FilePath: path}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	L().Debug("hello_file")
	_ = L().Sync()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), "hello_file") {
		t.Fatalf("log file missing entry: %s", b)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel, "WARN": zapcore.WarnLevel, "warning": zapcore.WarnLevel,
		"error": zapcore.ErrorLevel, "": zapcore.InfoLevel, "nonsense": zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

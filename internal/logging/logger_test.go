package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewTextFormatWritesToStdoutByDefault(t *testing.T) {
	l := New(Config{Level: "info", Format: "text"})
	if l.Logger == nil {
		t.Fatal("expected a non-nil underlying slog.Logger")
	}
}

func TestNewJSONFormatIncludesServiceAttrs(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil).WithAttrs([]slog.Attr{
		slog.String("service", "sentinela-broker"),
		slog.String("version", "1.0"),
	})
	l := &Logger{Logger: slog.New(handler)}
	l.Info("starting up")

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("expected valid json output, got error %v: %s", err, buf.String())
	}
	if decoded["service"] != "sentinela-broker" {
		t.Fatalf("expected service attr, got %+v", decoded)
	}
}

func TestNewWithFilePathRotatesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.log")
	l := New(Config{Level: "info", Format: "json", FilePath: path, MaxSizeMB: 1})
	l.Info("hello from the broker")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected log file to be created: %v", err)
	}
	if !strings.Contains(string(data), "hello from the broker") {
		t.Fatalf("expected log line in file, got %q", string(data))
	}
}

func TestLogAuthUsesWarnLevelOnFailure(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	l := &Logger{Logger: slog.New(handler)}

	l.LogAuth("client-1", "baduser", false)

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("expected valid json output: %v", err)
	}
	if decoded["level"] != "WARN" {
		t.Fatalf("expected WARN level on failed auth, got %+v", decoded["level"])
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	if parseLevel("bogus") != slog.LevelInfo {
		t.Fatal("expected unknown level strings to default to info")
	}
	if parseLevel("debug") != slog.LevelDebug {
		t.Fatal("expected debug to map to slog.LevelDebug")
	}
}

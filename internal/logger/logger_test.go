package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestFileWriter_Disabled(t *testing.T) {
	if w := (FileConfig{}).Writer(); w != nil {
		t.Fatalf("expected nil writer when no path set")
	}
}

func TestFileWriter_Defaults(t *testing.T) {
	w := FileConfig{Path: filepath.Join(t.TempDir(), "x.log")}.Writer()
	l, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("writer is not lumberjack.Logger")
	}
	if l.MaxSize != 10 || l.MaxBackups != 3 || l.MaxAge != 7 {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", l.MaxSize, l.MaxBackups, l.MaxAge)
	}
	_ = w.Close()
}

func TestFileWriter_Overrides(t *testing.T) {
	w := FileConfig{Path: "y", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}.Writer()
	l := w.(*lj.Logger)
	if l.MaxSize != 1 || l.MaxBackups != 9 || l.MaxAge != 11 || !l.Compress {
		t.Fatalf("unexpected overrides: size=%d backups=%d age=%d compress=%t", l.MaxSize, l.MaxBackups, l.MaxAge, l.Compress)
	}
	_ = w.Close()
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNew_JSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l, closer, err := New(Config{Level: "warn", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = closer.Close() }()

	l.Info("hidden")
	l.Warn("shown", "run_id", "abc")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if rec["msg"] != "shown" || rec["run_id"] != "abc" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestNew_ColorText(t *testing.T) {
	var buf bytes.Buffer
	l, _, err := New(Config{Color: true, Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Error("boom")
	if !strings.Contains(buf.String(), "[31mERROR") {
		t.Fatalf("expected red ERROR marker, got %q", buf.String())
	}
}

func TestColorTextHandler_ChildKeepsColor(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewColorTextHandler(&buf, nil, false)).With("component", "audit").WithGroup("run")
	l.Warn("slow", "id", "r1")
	out := buf.String()
	if !strings.Contains(out, "[33mWARN") {
		t.Fatalf("child logger lost color: %q", out)
	}
	if !strings.Contains(out, "component=audit") || !strings.Contains(out, "run.id=r1") {
		t.Fatalf("attrs missing: %q", out)
	}
	if strings.Contains(out, "time=") {
		t.Fatalf("time should be omitted: %q", out)
	}
}

func TestNew_FileOutput(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "auditweb.log")
	l, closer, err := New(Config{Output: &buf, File: FileConfig{Path: path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info("to both")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(b), "to both") || !strings.Contains(buf.String(), "to both") {
		t.Fatalf("message missing: file=%q console=%q", b, buf.String())
	}
}

func TestNew_BadFormat(t *testing.T) {
	if _, _, err := New(Config{Format: "xml"}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

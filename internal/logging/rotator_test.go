package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatorRotatesOnSize(t *testing.T) {
	dir := t.TempDir()

	rotator, err := NewRotator(dir, "dirsync.log", 64, 3)
	if err != nil {
		t.Fatalf("new rotator: %v", err)
	}
	defer rotator.Close()

	line := bytes.Repeat([]byte("x"), 40)
	for i := 0; i < 4; i++ {
		if _, err := rotator.Write(line); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}

	archived := 0
	active := false
	for _, entry := range entries {
		switch {
		case entry.Name() == "dirsync.log":
			active = true
		case strings.HasPrefix(entry.Name(), "dirsync.log."):
			archived++
		}
	}
	if !active {
		t.Fatalf("expected an active log file, got %v", entries)
	}
	if archived == 0 {
		t.Fatalf("expected at least one archived log file")
	}
}

func TestLoggerLevels(t *testing.T) {
	dir := t.TempDir()

	rotator, err := NewRotator(dir, "", 0, 0)
	if err != nil {
		t.Fatalf("new rotator: %v", err)
	}
	logger := New(rotator)
	logger.Info("starting")
	logger.Warnf("clearing with %d open cursors", 2)
	logger.Errorf("purge failed: %s", "disk full")
	if err := rotator.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "dirsync.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	content := string(data)
	for _, want := range []string{"INFO starting", "WARN clearing with 2 open cursors", "ERROR purge failed: disk full"} {
		if !strings.Contains(content, want) {
			t.Fatalf("expected %q in log output:\n%s", want, content)
		}
	}
}

func TestNewRotatorRequiresDirectory(t *testing.T) {
	if _, err := NewRotator("", "x.log", 1024, 1); err == nil {
		t.Fatalf("expected error for empty directory")
	}
}

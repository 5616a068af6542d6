package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesTaggedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "featherd.log")

	logger, err := New(path, "work")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("daemon started")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, `"session":"work"`) {
		t.Errorf("log line missing session field: %s", line)
	}
	if !strings.Contains(line, `"msg":"daemon started"`) {
		t.Errorf("log line missing message: %s", line)
	}
}

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCommandRejectsMalformedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvest.toml")
	if err := os.WriteFile(path, []byte("[paths\nstore_dir ="), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cmd := newCommand()
	cmd.SetArgs([]string{"--config", path})
	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected error for malformed config file")
	}
	if !strings.Contains(err.Error(), "load config") {
		t.Fatalf("expected load config error, got %v", err)
	}
}

func TestCommandRejectsPositionalArgs(t *testing.T) {
	cmd := newCommand()
	cmd.SetArgs([]string{"extra"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for unexpected argument")
	}
}

package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/juicebox/pkg/config"
)

func TestRunInitWritesConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfgFile = path
	initForce = false
	t.Cleanup(func() { cfgFile = ""; initForce = false })

	if err := runInit(initCmd, nil); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to exist: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.HashSecret) < 32 {
		t.Fatalf("expected generated hash secret of at least 32 chars, got %d", len(cfg.HashSecret))
	}
	if cfg.Admin.Key == "" {
		t.Fatal("expected generated admin key")
	}
}

func TestRunInitRefusesToOverwriteWithoutForce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfgFile = path
	initForce = false
	t.Cleanup(func() { cfgFile = ""; initForce = false })

	if err := runInit(initCmd, nil); err != nil {
		t.Fatalf("first runInit: %v", err)
	}
	if err := runInit(initCmd, nil); err == nil {
		t.Fatal("expected second runInit without --force to fail")
	}

	initForce = true
	if err := runInit(initCmd, nil); err != nil {
		t.Fatalf("runInit with --force: %v", err)
	}
}

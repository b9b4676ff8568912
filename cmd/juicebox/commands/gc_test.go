package commands

import (
	"path/filepath"
	"testing"

	"github.com/marmos91/juicebox/pkg/config"
)

func TestRunGCRunAgainstFreshDataDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfgFile = path
	t.Cleanup(func() { cfgFile = "" })

	cfg := config.GetDefaultConfig()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.HashSecret = "0123456789abcdef0123456789abcdef"
	config.ApplyDefaults(cfg)
	if err := config.SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	if err := runGCRun(gcRunCmd, nil); err != nil {
		t.Fatalf("runGCRun: %v", err)
	}
}

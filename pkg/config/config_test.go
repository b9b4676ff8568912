package config

import (
	"testing"

	"github.com/marmos91/juicebox/internal/bytesize"
)

func TestGetDefaultConfigIsValid(t *testing.T) {
	cfg := GetDefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{Limits: LimitsConfig{MaxActiveFilesPerIP: 42, MaxFileBytes: 10 * bytesize.MiB}}
	ApplyDefaults(cfg)
	if cfg.Limits.MaxActiveFilesPerIP != 42 {
		t.Fatalf("expected explicit MaxActiveFilesPerIP preserved, got %d", cfg.Limits.MaxActiveFilesPerIP)
	}
	if cfg.Limits.MaxFileBytes != 10*bytesize.MiB {
		t.Fatalf("expected explicit MaxFileBytes preserved, got %d", cfg.Limits.MaxFileBytes)
	}
}

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Limits.MaxActiveFilesPerIP != 5 {
		t.Fatalf("expected default MaxActiveFilesPerIP of 5, got %d", cfg.Limits.MaxActiveFilesPerIP)
	}
	if cfg.BlobStore.Backend != "fs" {
		t.Fatalf("expected default blobstore backend fs, got %s", cfg.BlobStore.Backend)
	}
	if cfg.KV.Backend != "fs" {
		t.Fatalf("expected default kv backend fs, got %s", cfg.KV.Backend)
	}
	if cfg.HTTP.ListenAddr == "" {
		t.Fatal("expected default listen addr to be set")
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "VERBOSE"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation failure for bad log level")
	}
}

func TestValidateRejectsUnknownBlobBackend(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.BlobStore.Backend = "memory"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation failure for unknown blobstore backend")
	}
}

func TestValidateRequiresBucketForS3Backend(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.BlobStore.Backend = "s3"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation failure for s3 backend without a bucket")
	}
}

package config

import (
	"time"

	"github.com/marmos91/juicebox/internal/bytesize"
	"github.com/marmos91/juicebox/pkg/adminsession"
	"github.com/marmos91/juicebox/pkg/admission"
	"github.com/marmos91/juicebox/pkg/gc"
)

// GetDefaultConfig returns a Config populated entirely with defaults, used
// when no config file is present.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills any zero-valued field with its default, the same
// "zero values are replaced, explicit values are preserved" strategy used
// throughout.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyDataDirDefaults(cfg)
	applyBlobStoreDefaults(&cfg.BlobStore, cfg.DataDir)
	applyKVDefaults(&cfg.KV, cfg.DataDir)
	applyLimitsDefaults(&cfg.Limits)
	applyGCDefaults(&cfg.GC)
	applyAdminDefaults(&cfg.Admin)
	applyHTTPDefaults(&cfg.HTTP)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyDataDirDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = "/var/lib/juicebox"
	}
}

func applyBlobStoreDefaults(cfg *BlobStoreConfig, dataDir string) {
	if cfg.Backend == "" {
		cfg.Backend = "fs"
	}
	if cfg.FS.UploadDir == "" {
		cfg.FS.UploadDir = dataDir + "/blobs"
	}
	if cfg.FS.ChunkDir == "" {
		cfg.FS.ChunkDir = dataDir + "/chunks"
	}
	if cfg.S3.ChunkDir == "" {
		cfg.S3.ChunkDir = dataDir + "/chunks"
	}
}

func applyKVDefaults(cfg *KVConfig, dataDir string) {
	if cfg.Backend == "" {
		cfg.Backend = "fs"
	}
	if cfg.FS.BasePath == "" {
		cfg.FS.BasePath = dataDir + "/kv"
	}
	if cfg.Badger.Dir == "" {
		cfg.Badger.Dir = dataDir + "/badger"
	}
}

func applyLimitsDefaults(cfg *LimitsConfig) {
	if cfg.MaxActiveFilesPerIP == 0 {
		cfg.MaxActiveFilesPerIP = 5
	}
	if cfg.MaxFileBytes == 0 {
		cfg.MaxFileBytes = 500 * bytesize.MiB
	}
	if cfg.UploadConcurrency == 0 {
		cfg.UploadConcurrency = admission.DefaultCapacity
	}
	// MaxStorageQuota and QuotaBlockThreshold default to zero (unlimited).
}

func applyGCDefaults(cfg *GCConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = gc.DefaultInterval
	}
	if cfg.StaleWindow == 0 {
		cfg.StaleWindow = gc.DefaultStaleWindow
	}
}

func applyAdminDefaults(cfg *AdminConfig) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = adminsession.TTL * time.Second
	}
}

func applyHTTPDefaults(cfg *HTTPConfig) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
}

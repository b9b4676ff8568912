// Package config loads juicebox's static configuration: logging, storage
// backend selection, upload limits, GC cadence, admin auth, and the HTTP
// listener, in that order of precedence CLI flags > environment
// (JUICEBOX_*) > config file > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/juicebox/internal/bytesize"
)

// Config is juicebox's top-level static configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	DataDir string        `mapstructure:"data_dir" validate:"required" yaml:"data_dir"`
	// HashSecret keys every fingerprint this process computes (spec §6's
	// "process hashing secret"). Left empty, a random one is generated on
	// first start, persisted under the data directory for later starts,
	// and a warning is logged: fine for a single-process deployment, fatal
	// for horizontal scaling since fingerprints and bans would differ per
	// instance.
	HashSecret string          `mapstructure:"hash_secret" validate:"omitempty,min=32" yaml:"hash_secret"`
	BlobStore  BlobStoreConfig `mapstructure:"blobstore" yaml:"blobstore"`
	KV         KVConfig        `mapstructure:"kv" yaml:"kv"`
	Limits     LimitsConfig    `mapstructure:"limits" yaml:"limits"`
	GC         GCConfig        `mapstructure:"gc" yaml:"gc"`
	Admin      AdminConfig     `mapstructure:"admin" yaml:"admin"`
	HTTP       HTTPConfig      `mapstructure:"http" yaml:"http"`
	Telemetry  TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// BlobStoreConfig selects and configures the blob backend.
type BlobStoreConfig struct {
	// Backend is "fs" (default) or "s3".
	Backend  string    `mapstructure:"backend" validate:"required,oneof=fs s3" yaml:"backend"`
	FS       FSConfig  `mapstructure:"fs" yaml:"fs"`
	S3       S3Config  `mapstructure:"s3" yaml:"s3"`
}

// FSConfig configures the local filesystem blob backend.
type FSConfig struct {
	UploadDir string `mapstructure:"upload_dir" yaml:"upload_dir"`
	ChunkDir  string `mapstructure:"chunk_dir" yaml:"chunk_dir"`
}

// S3Config configures the S3 blob backend.
type S3Config struct {
	Bucket   string `mapstructure:"bucket" yaml:"bucket"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
	Region   string `mapstructure:"region" yaml:"region"`
	ChunkDir string `mapstructure:"chunk_dir" yaml:"chunk_dir"`
}

// KVConfig selects and configures the durable KV backend.
type KVConfig struct {
	// Backend is "fs" (default) or "badger".
	Backend string       `mapstructure:"backend" validate:"required,oneof=fs badger" yaml:"backend"`
	FS      KVFSConfig   `mapstructure:"fs" yaml:"fs"`
	Badger  BadgerConfig `mapstructure:"badger" yaml:"badger"`
}

// KVFSConfig configures the filesystem-backed KV store.
type KVFSConfig struct {
	BasePath string `mapstructure:"base_path" yaml:"base_path"`
}

// BadgerConfig configures the badger-backed KV store.
type BadgerConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// LimitsConfig controls per-owner and global upload limits.
type LimitsConfig struct {
	MaxActiveFilesPerIP int               `mapstructure:"max_active_files_per_ip" validate:"required,gt=0" yaml:"max_active_files_per_ip"`
	MaxFileBytes        bytesize.ByteSize `mapstructure:"max_file_bytes" validate:"required" yaml:"max_file_bytes"`
	MaxStorageQuota     bytesize.ByteSize `mapstructure:"max_storage_quota" yaml:"max_storage_quota"`
	QuotaBlockThreshold bytesize.ByteSize `mapstructure:"quota_block_threshold" yaml:"quota_block_threshold"`
	UploadConcurrency   int               `mapstructure:"upload_concurrency" validate:"required,gt=0" yaml:"upload_concurrency"`
}

// GCConfig controls the integrity/GC loop's cadence.
type GCConfig struct {
	Interval    time.Duration `mapstructure:"interval" validate:"required,gt=0" yaml:"interval"`
	StaleWindow time.Duration `mapstructure:"stale_window" validate:"required,gt=0" yaml:"stale_window"`
}

// AdminConfig controls admin authentication.
type AdminConfig struct {
	Key        string        `mapstructure:"key" yaml:"key"`
	SessionTTL time.Duration `mapstructure:"session_ttl" validate:"required,gt=0" yaml:"session_ttl"`
}

// HTTPConfig controls the listener and trusted-proxy policy.
type HTTPConfig struct {
	ListenAddr         string   `mapstructure:"listen_addr" validate:"required" yaml:"listen_addr"`
	TrustedProxyCIDRs  []string `mapstructure:"trusted_proxy_cidrs" yaml:"trusted_proxy_cidrs"`
}

// TelemetryConfig is off by default; in-process metrics only.
type TelemetryConfig struct {
	MetricsEnabled bool `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
}

// Load starts from the defaults and, when a config file is found, overlays
// the file's values and JUICEBOX_* environment values, then applies
// defaults and validates. With no config file the defaults are returned
// as they are and the environment is not consulted.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := GetDefaultConfig()
	if !found {
		return cfg, nil
	}

	if err := v.Unmarshal(cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// MustLoad loads configuration, failing with operator-facing instructions
// when the requested file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Initialize one first:\n  juicebox init\n\n"+
				"Or specify a custom config file:\n  juicebox <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\nCreate it with:\n  juicebox init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks struct-tag constraints via go-playground/validator, the
// library the field tags below are written for, plus the one cross-field
// rule (S3 backend requires a bucket) the tag language can't express
// without a field of that exact name existing on the nested struct.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}
	if cfg.BlobStore.Backend == "s3" && cfg.BlobStore.S3.Bucket == "" {
		return fmt.Errorf("blobstore.s3.bucket is required when blobstore.backend is s3")
	}
	return nil
}

// SaveConfig writes cfg as YAML to path, creating parent directories.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("JUICEBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	dir := getConfigDir()
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "juicebox")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "juicebox")
}

// GetDefaultConfigPath returns where juicebox looks for a config file when
// none is specified.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir exposes the config directory for the init command.
func GetConfigDir() string {
	return getConfigDir()
}

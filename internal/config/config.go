// Package config loads runtime configuration from defaults, an optional
// config file and GROWPOD_* environment variables, in increasing priority.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides: storage.driver is read from
// GROWPOD_STORAGE_DRIVER.
const EnvPrefix = "GROWPOD"

// Config is the full runtime configuration.
type Config struct {
	Storage Storage `mapstructure:"storage"`
	Ledger  Ledger  `mapstructure:"ledger"`
	Blob    Blob    `mapstructure:"blob"`
	Log     Log     `mapstructure:"log"`
}

// Storage selects the pod/plant registry backend.
type Storage struct {
	Driver      string `mapstructure:"driver" validate:"oneof=memory sqlite postgres"`
	SQLitePath  string `mapstructure:"sqlite_path" validate:"required_if=Driver sqlite"`
	PostgresDSN string `mapstructure:"postgres_dsn" validate:"required_if=Driver postgres"`
}

// Ledger selects where appended blocks are mirrored. "sqlite" and
// "postgres" share the registry database configured under Storage.
type Ledger struct {
	Driver      string `mapstructure:"driver" validate:"oneof=memory leveldb sqlite postgres"`
	LevelDBPath string `mapstructure:"leveldb_path" validate:"required_if=Driver leveldb"`
}

// Blob selects the archive target for ledger exports.
type Blob struct {
	Driver string `mapstructure:"driver" validate:"oneof=fs s3 memory"`
	FSRoot string `mapstructure:"fs_root"`
	S3     S3     `mapstructure:"s3"`
}

// S3 configures the S3 archive driver.
type S3 struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// Log configures the process logger.
type Log struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

var defaults = map[string]any{
	"storage.driver":            "memory",
	"storage.sqlite_path":       "growpod.db",
	"storage.postgres_dsn":      "",
	"ledger.driver":             "memory",
	"ledger.leveldb_path":       "growpod-ledger",
	"blob.driver":               "fs",
	"blob.fs_root":              "./blobdata",
	"blob.s3.bucket":            "",
	"blob.s3.region":            "us-east-1",
	"blob.s3.endpoint":          "",
	"blob.s3.path_style":        false,
	"blob.s3.access_key_id":     "",
	"blob.s3.secret_access_key": "",
	"log.level":                 "info",
	"log.format":                "console",
}

var validate = validator.New()

// NewViper returns a viper instance with defaults and environment binding
// applied. Callers may bind command-line flags onto it before Load.
func NewViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file (when non-empty) into v and decodes the result.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Blob.Driver == "s3" && cfg.Blob.S3.Bucket == "" {
		return Config{}, fmt.Errorf("invalid config: blob.s3.bucket required for s3 driver")
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration produced by defaults and the process environment.
func Default() (Config, error) {
	return Load(NewViper(), "")
}

// Package config loads kapimage settings from file, environment and flags through viper.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kapnodes/kapimage/internal/digest"
	"github.com/kapnodes/kapimage/internal/folders"
	"github.com/kapnodes/kapimage/internal/workers"
	kaperrors "github.com/kapnodes/kapimage/pkg/errors"
	"github.com/kapnodes/kapimage/pkg/logger"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. KAPIMAGE_SERVER_LISTEN
	EnvPrefix = "KAPIMAGE"
	// DirName is the per-user directory holding config, logs and default roots
	DirName = ".kapimage"
)

// Config is the complete service configuration
type Config struct {
	Server  ServerConfig       `mapstructure:"server" yaml:"server"`
	Folders FoldersConfig      `mapstructure:"folders" yaml:"folders"`
	Logging logger.LogConfig   `mapstructure:"logging" yaml:"logging"`
	Preview PreviewConfig      `mapstructure:"preview" yaml:"preview"`
	Workers workers.PoolConfig `mapstructure:"workers" yaml:"workers"`
	Watch   WatchConfig        `mapstructure:"watch" yaml:"watch"`
	Digest  DigestConfig       `mapstructure:"digest" yaml:"digest"`
}

type ServerConfig struct {
	Listen         string   `mapstructure:"listen" yaml:"listen"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// FoldersConfig names the three storage roots
type FoldersConfig struct {
	Input  string `mapstructure:"input" yaml:"input"`
	Output string `mapstructure:"output" yaml:"output"`
	Temp   string `mapstructure:"temp" yaml:"temp"`
}

type PreviewConfig struct {
	Converter string        `mapstructure:"converter" yaml:"converter"` // empty selects magick/convert by OS
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type WatchConfig struct {
	Debounce      time.Duration `mapstructure:"debounce" yaml:"debounce"`
	HashAlgorithm string        `mapstructure:"hash_algorithm" yaml:"hash_algorithm"`
}

// DigestConfig locates the process-lifetime digest cache. Empty places it in the temp root.
type DigestConfig struct {
	CachePath string `mapstructure:"cache_path" yaml:"cache_path"`
}

// BaseDir returns ~/.kapimage
func BaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DirName
	}
	return filepath.Join(home, DirName)
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	base := BaseDir()
	logDefaults := logger.DefaultConfig()

	v.SetDefault("server.listen", "127.0.0.1:8189")
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("folders.input", filepath.Join(base, "input"))
	v.SetDefault("folders.output", filepath.Join(base, "output"))
	v.SetDefault("folders.temp", filepath.Join(base, "temp"))

	v.SetDefault("logging.level", logDefaults.Level)
	v.SetDefault("logging.output_path", logDefaults.OutputPath)
	v.SetDefault("logging.max_size", logDefaults.MaxSize)
	v.SetDefault("logging.max_backups", logDefaults.MaxBackups)
	v.SetDefault("logging.max_age", logDefaults.MaxAge)
	v.SetDefault("logging.compress", logDefaults.Compress)
	v.SetDefault("logging.development", logDefaults.Development)
	v.SetDefault("logging.json", logDefaults.EnableJSON)

	v.SetDefault("preview.converter", "")
	v.SetDefault("preview.timeout", "2m")

	v.SetDefault("workers.max", 4)
	v.SetDefault("workers.timeout", "60s")

	v.SetDefault("watch.debounce", "100ms")
	v.SetDefault("watch.hash_algorithm", string(digest.XXHash))

	v.SetDefault("digest.cache_path", "")
}

// Bind prepares v to read environment overrides
func Bind(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes v into a validated Config with defaults applied
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, kaperrors.NewConfigError("failed to decode configuration", err)
	}

	cfg.Folders.Input = folders.ExpandUser(cfg.Folders.Input)
	cfg.Folders.Output = folders.ExpandUser(cfg.Folders.Output)
	cfg.Folders.Temp = folders.ExpandUser(cfg.Folders.Temp)
	cfg.Logging.OutputPath = folders.ExpandUser(cfg.Logging.OutputPath)
	if cfg.Digest.CachePath == "" {
		cfg.Digest.CachePath = filepath.Join(cfg.Folders.Temp, ".kap-digests.db")
	}
	cfg.Digest.CachePath = folders.ExpandUser(cfg.Digest.CachePath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that defaults cannot repair
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return kaperrors.NewConfigError("server.listen must not be empty", nil)
	}
	if c.Folders.Input == "" || c.Folders.Output == "" || c.Folders.Temp == "" {
		return kaperrors.NewConfigError("folders.input, folders.output and folders.temp are required", nil)
	}
	if c.Preview.Timeout <= 0 {
		return kaperrors.NewConfigError("preview.timeout must be positive", nil)
	}
	if c.Workers.MaxWorkers < 0 {
		return kaperrors.NewConfigError("workers.max must not be negative", nil)
	}
	if _, err := digest.NewHash(digest.Algorithm(c.Watch.HashAlgorithm)); err != nil {
		return kaperrors.NewConfigError("unsupported watch.hash_algorithm", err)
	}
	return nil
}

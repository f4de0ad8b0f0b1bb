package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/mrz1836/statekit/internal/constants"
	"github.com/mrz1836/statekit/internal/errors"
)

// Load reads configuration from all available sources with proper
// precedence: environment variables (STATEKIT_*), project config
// (.statekit.yaml), global config (~/.statekit/config.yaml), then
// built-in defaults.
//
// Missing config files are expected and not an error.
//
// The context parameter is accepted for API consistency; config reads
// are fast local I/O.
func Load(_ context.Context) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := loadGlobalConfig(v); err != nil {
		return nil, err
	}
	if err := loadProjectConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viperDecoderOption()); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	// Honor the plain env toggle used by test harnesses.
	if os.Getenv(constants.TestModeEnv) != "" {
		cfg.TestMode = true
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults seeds viper with the built-in defaults.
func setDefaults(v *viper.Viper) {
	def := DefaultConfig()
	v.SetDefault("base_dir", def.BaseDir)
	v.SetDefault("lock.timeout", def.Lock.Timeout)
	v.SetDefault("lock.load_timeout", def.Lock.LoadTimeout)
	v.SetDefault("lock.retry_interval", def.Lock.RetryInterval)
	v.SetDefault("lock.expiry", def.Lock.Expiry)
	v.SetDefault("wal.rate_limit", def.WAL.RateLimit)
	v.SetDefault("wal.rate_window", def.WAL.RateWindow)
	v.SetDefault("wal.max_size", def.WAL.MaxSize)
	v.SetDefault("backup.max_count", def.Backup.MaxCount)
	v.SetDefault("backup.max_age", def.Backup.MaxAge)
	v.SetDefault("audit.flush_interval", def.Audit.FlushInterval)
	v.SetDefault("audit.max_size_mb", def.Audit.MaxSizeMB)
	v.SetDefault("audit.max_backups", def.Audit.MaxBackups)
	v.SetDefault("recovery.auto_reset", def.Recovery.AutoReset)
	v.SetDefault("test_mode", def.TestMode)
}

// loadGlobalConfig merges ~/.statekit/config.yaml when present.
func loadGlobalConfig(v *viper.Viper) error {
	home, err := os.UserHomeDir()
	if err != nil {
		// No home directory (containerized environments); skip silently.
		return nil
	}
	path := filepath.Join(home, ".statekit", constants.GlobalConfigName)
	return mergeConfigFile(v, path)
}

// loadProjectConfig merges .statekit.yaml from the working directory.
func loadProjectConfig(v *viper.Viper) error {
	return mergeConfigFile(v, constants.ProjectConfigName)
}

func mergeConfigFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return errors.Wrapf(err, "failed to read config %s", path)
	}
	return nil
}

// viperDecoderOption configures mapstructure decoding with duration
// string support.
func viperDecoderOption() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

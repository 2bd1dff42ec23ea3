// Package config loads pgrman's configuration (spec §1 non-goal:
// "configuration-file ingestion ... is an external collaborator" — this
// package is that collaborator, not part of the spec's core).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every knob the backup/restore orchestrators consume.
type Config struct {
	// Cluster
	DataDir      string `mapstructure:"data_dir"`
	ConnDSN      string `mapstructure:"conn_dsn"`
	ArchiveDir   string `mapstructure:"archive_dir"`
	ServerlogDir string `mapstructure:"serverlog_dir"`
	ConfigDir    string `mapstructure:"config_dir"` // holds postgresql.conf, for recovery-signal emission
	PgWalDir     string `mapstructure:"pg_wal_dir"`
	StagingDir   string `mapstructure:"staging_dir"` // recovery work directory (online-WAL staging, history fallback)

	// Catalog
	BackupCatalogDir string `mapstructure:"backup_catalog_dir"`
	BlacklistFile    string `mapstructure:"blacklist_file"`

	// Backup behavior
	Mode              string `mapstructure:"mode"` // full | incremental | archive
	Compress          bool   `mapstructure:"compress"`
	SmoothCheckpoint  bool   `mapstructure:"smooth_checkpoint"`
	WithServerlog     bool   `mapstructure:"with_serverlog"`
	FullBackupOnError bool   `mapstructure:"full_backup_on_error"`
	OmitSymlinks      bool   `mapstructure:"omit_symlinks"`

	// Retention
	RetentionRedundancy int `mapstructure:"retention_redundancy"`
	RetentionWindowDays int `mapstructure:"retention_window_days"`

	// Recovery target, for restore invocations
	RecoveryTargetTime      string `mapstructure:"recovery_target_time"`
	RecoveryTargetXid       string `mapstructure:"recovery_target_xid"`
	RecoveryTargetInclusive bool   `mapstructure:"recovery_target_inclusive"`
	RecoveryTargetTimeline  string `mapstructure:"recovery_target_timeline"` // "latest" or a number
	RecoveryTargetAction    string `mapstructure:"recovery_target_action"`  // pause | promote | shutdown

	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from cfgFile (if non-empty), the
// conventional search paths, and PGRMAN_-prefixed environment
// variables, with envVars taking precedence over the file.
func Load(cfgFile string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pgrman")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/pgrman")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, isNotFound := err.(viper.ConfigFileNotFoundError); !isNotFound && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: read %s: %w", cfgFile, err)
		}
	}

	v.SetEnvPrefix("PGRMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "full")
	v.SetDefault("compress", true)
	v.SetDefault("smooth_checkpoint", true)
	v.SetDefault("retention_redundancy", 0)
	v.SetDefault("retention_window_days", 0)
	v.SetDefault("recovery_target_timeline", "latest")
	v.SetDefault("log_level", "info")
}

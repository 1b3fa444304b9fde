package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	logger "sbatchjob/pkg/batch/util/logger"
)

// ConfigLoader は Config をロードするためのインターフェースです。
type ConfigLoader interface {
	Load() (*Config, error)
}

// BytesConfigLoader はバイトスライスから設定をロードする ConfigLoader の実装です。
type BytesConfigLoader struct {
	data []byte
}

// NewBytesConfigLoader は新しい BytesConfigLoader を作成します。
func NewBytesConfigLoader(data []byte) *BytesConfigLoader {
	return &BytesConfigLoader{data: data}
}

// Load は YAML をデフォルト値の上に読み込み、環境変数で個別の値を上書きします。
func (l *BytesConfigLoader) Load() (*Config, error) {
	cfg := NewConfig()
	if len(l.data) > 0 {
		if err := yaml.Unmarshal(l.data, cfg); err != nil {
			return nil, fmt.Errorf("YAML設定のパースに失敗しました: %w", err)
		}
	}
	loadEnvVars(cfg)
	if err := cfg.Archive.Validate(); err != nil {
		return nil, fmt.Errorf("archive 設定が不正です: %w", err)
	}
	cfg.EmbeddedConfig = l.data
	return cfg, nil
}

func setString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		logger.Warnf("%s の値 '%s' が無効です。設定ファイルの値を使用します。", key, v)
		return
	}
	*dst = n
}

func setBool(key string, dst *bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		logger.Warnf("%s の値 '%s' が無効です。設定ファイルの値を使用します。", key, v)
		return
	}
	*dst = b
}

// loadEnvVars は環境変数で個別の設定値を上書きします。
func loadEnvVars(cfg *Config) {
	// Database 設定
	setString("DATABASE_TYPE", &cfg.Database.Type)
	setString("DATABASE_URL", &cfg.Database.URL)
	setString("DATABASE_HOST", &cfg.Database.Host)
	setInt("DATABASE_PORT", &cfg.Database.Port)
	setString("DATABASE_DATABASE", &cfg.Database.Database)
	setString("DATABASE_USER", &cfg.Database.User)
	setString("DATABASE_PASSWORD", &cfg.Database.Password)
	setString("DATABASE_SSLMODE", &cfg.Database.Sslmode)
	setString("DATABASE_SCHEMA", &cfg.Database.Schema)
	setString("DATABASE_ACCOUNT", &cfg.Database.Account)
	setString("DATABASE_WAREHOUSE", &cfg.Database.Warehouse)
	setString("DATABASE_ROLE", &cfg.Database.Role)
	setString("DATABASE_APP_MIGRATION_PATH", &cfg.Database.AppMigrationPath)
	setInt("DATABASE_MAX_OPEN_CONNS", &cfg.Database.ConnectionPool.MaxOpenConns)
	setInt("DATABASE_MAX_IDLE_CONNS", &cfg.Database.ConnectionPool.MaxIdleConns)
	setInt("DATABASE_CONN_MAX_LIFETIME_SECONDS", &cfg.Database.ConnectionPool.ConnMaxLifetimeSeconds)
	setInt("DATABASE_CONNECT_MAX_ATTEMPTS", &cfg.Database.ConnectRetry.MaxAttempts)
	setInt("DATABASE_CONNECT_INTERVAL_SECONDS", &cfg.Database.ConnectRetry.IntervalSeconds)

	// Batch 設定
	setString("BATCH_JOB_NAME", &cfg.Batch.JobName)
	setString("BATCH_SBATCH_PATH", &cfg.Batch.SbatchPath)
	setString("BATCH_LAUNCHER_PATH", &cfg.Batch.LauncherPath)
	setString("BATCH_SHELL", &cfg.Batch.Shell)

	// Archive 設定
	setBool("ARCHIVE_ENABLED", &cfg.Archive.Enabled)
	setString("ARCHIVE_ENDPOINT", &cfg.Archive.Endpoint)
	setString("ARCHIVE_ACCESS_KEY", &cfg.Archive.AccessKey)
	setString("ARCHIVE_SECRET_KEY", &cfg.Archive.SecretKey)
	setString("ARCHIVE_REGION", &cfg.Archive.Region)
	setString("ARCHIVE_BUCKET", &cfg.Archive.Bucket)
	setBool("ARCHIVE_USE_SSL", &cfg.Archive.UseSSL)
	setString("ARCHIVE_PREFIX", &cfg.Archive.Prefix)

	// System 設定
	setString("SYSTEM_TIMEZONE", &cfg.System.Timezone)
	setString("SYSTEM_LOGGING_LEVEL", &cfg.System.Logging.Level)
}

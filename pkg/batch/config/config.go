package config

import (
	"errors"
	"fmt"
	"strings"
)

// EmbeddedConfig は main.go から渡される埋め込み設定 (application.yaml) の内容です。
type EmbeddedConfig []byte

// ConnectionPoolConfig はデータベースコネクションプールの設定を保持します。
type ConnectionPoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `yaml:"conn_max_lifetime_seconds"`
}

// ConnectRetryConfig はデータベース接続のリトライ設定です。
type ConnectRetryConfig struct {
	MaxAttempts     int `yaml:"max_attempts"`
	IntervalSeconds int `yaml:"interval_seconds"`
}

// DatabaseConfig は JobRepository が使うデータベースの設定です。
// Type が "memory" の場合はデータベースを使わずにプロセス内で実行履歴を保持します。
type DatabaseConfig struct {
	Type      string `yaml:"type"` // memory | postgres | pgx | redshift | mysql | snowflake
	URL       string `yaml:"url"`  // 指定された場合は個別項目より優先
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Database  string `yaml:"database"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Sslmode   string `yaml:"sslmode"`
	Schema    string `yaml:"schema"`
	Account   string `yaml:"account"`   // snowflake
	Warehouse string `yaml:"warehouse"` // snowflake
	Role      string `yaml:"role"`      // snowflake
	// アプリケーション固有のマイグレーションファイルのパス
	AppMigrationPath string               `yaml:"app_migration_path"`
	ConnectionPool   ConnectionPoolConfig `yaml:"connection_pool"`
	ConnectRetry     ConnectRetryConfig   `yaml:"connect_retry"`
}

// IsInMemory はデータベースを使わない構成かどうかを返します。
func (c DatabaseConfig) IsInMemory() bool {
	t := strings.ToLower(strings.TrimSpace(c.Type))
	return t == "" || t == "memory" || t == "none"
}

// BatchConfig はジョブ起動に関する設定です。
type BatchConfig struct {
	JobName string `yaml:"job_name"`
	// sbatch コマンドのパス
	SbatchPath string `yaml:"sbatch_path"`
	// 生成するジョブスクリプトから呼び出すランチャー実行ファイルのパス。空なら自分自身。
	LauncherPath string `yaml:"launcher_path"`
	// ジョブスクリプトのシェル
	Shell string `yaml:"shell"`
}

// ArchiveConfig は実行結果を S3 互換ストレージへ保存するための設定です。
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

// Validate はアーカイブが有効な場合に必須項目を検証します。
func (c ArchiveConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("archive endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("archive endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("archive access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("archive secret key is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("archive bucket is required")
	}
	return nil
}

// LoggingConfig はログ出力の設定です。
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SystemConfig はシステム全体の設定です。
type SystemConfig struct {
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// Config はアプリケーション全体の設定です。
type Config struct {
	Database       DatabaseConfig `yaml:"database"`
	Batch          BatchConfig    `yaml:"batch"`
	Archive        ArchiveConfig  `yaml:"archive"`
	System         SystemConfig   `yaml:"system"`
	EmbeddedConfig EmbeddedConfig `yaml:"-"` // YAML からは読み込まない
}

// NewConfig はデフォルト値を設定した Config を返します。
func NewConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Type: "memory",
			ConnectRetry: ConnectRetryConfig{
				MaxAttempts:     3,
				IntervalSeconds: 2,
			},
		},
		Batch: BatchConfig{
			SbatchPath: "sbatch",
			Shell:      "/bin/bash",
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
		},
		System: SystemConfig{
			Timezone: "UTC",
			Logging:  LoggingConfig{Level: "INFO"},
		},
	}
}

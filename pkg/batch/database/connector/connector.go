package connector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	config "sbatchjob/pkg/batch/config"
	database "sbatchjob/pkg/batch/database"
	exception "sbatchjob/pkg/batch/util/exception"
	logger "sbatchjob/pkg/batch/util/logger"
)

// DBConnector は特定のデータベースタイプへの接続情報を組み立てるインターフェースです。
type DBConnector interface {
	// DriverName は database/sql に登録されたドライバ名です。
	DriverName() string
	// DSN は sql.Open に渡す接続文字列を返します。
	DSN(cfg config.DatabaseConfig) (string, error)
	// MigrationURL は golang-migrate のデータベースドライバ用 URL を返します。
	MigrationURL(cfg config.DatabaseConfig) (string, error)
	// Dialect はクエリのプレースホルダ形式です。
	Dialect() database.Dialect
	// MigrationDir は埋め込みマイグレーションのディレクトリ名です。
	MigrationDir() string
}

var (
	mu         sync.RWMutex
	connectors = make(map[string]DBConnector)
)

// RegisterConnector は指定されたタイプ名で DBConnector を登録します。
func RegisterConnector(dbType string, c DBConnector) {
	mu.Lock()
	defer mu.Unlock()
	key := strings.ToLower(dbType)
	if _, exists := connectors[key]; exists {
		logger.Warnf("DBConnector '%s' は既に登録されているので上書きします。", key)
	}
	connectors[key] = c
}

// GetConnector は登録済みの DBConnector を返します。
func GetConnector(dbType string) (DBConnector, error) {
	mu.RLock()
	defer mu.RUnlock()
	c, ok := connectors[strings.ToLower(strings.TrimSpace(dbType))]
	if !ok {
		return nil, exception.NewBatchErrorf("database", "未対応のデータベースタイプ: %s", dbType)
	}
	return c, nil
}

// Connect は設定に基づいてデータベースへ接続し、Ping が通るまで ConnectRetry に従ってリトライします。
func Connect(ctx context.Context, cfg config.DatabaseConfig) (database.DBConnection, error) {
	c, err := GetConnector(cfg.Type)
	if err != nil {
		return nil, err
	}
	dsn, err := c.DSN(cfg)
	if err != nil {
		return nil, exception.NewBatchError("database", fmt.Sprintf("%s の接続文字列を組み立てられません", cfg.Type), err, false, false)
	}

	db, err := sql.Open(c.DriverName(), dsn)
	if err != nil {
		return nil, exception.NewBatchError("database", fmt.Sprintf("%s への接続に失敗しました", cfg.Type), err, false, false)
	}
	applyPool(db, cfg.ConnectionPool)

	if err := pingWithRetry(ctx, db, cfg); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debugf("%s に接続しました。MaxOpenConns: %d, MaxIdleConns: %d", cfg.Type, cfg.ConnectionPool.MaxOpenConns, cfg.ConnectionPool.MaxIdleConns)
	return database.NewSQLDBAdapter(db, c.Dialect()), nil
}

// Migrate はフレームワークのスキーマとアプリケーションのマイグレーションを適用します。
func Migrate(cfg config.DatabaseConfig) error {
	c, err := GetConnector(cfg.Type)
	if err != nil {
		return err
	}
	u, err := c.MigrationURL(cfg)
	if err != nil {
		return exception.NewBatchError("database", fmt.Sprintf("%s のマイグレーション URL を組み立てられません", cfg.Type), err, false, false)
	}
	return database.RunMigrations(c.MigrationDir(), u, cfg.AppMigrationPath)
}

func applyPool(db *sql.DB, pool config.ConnectionPoolConfig) {
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetimeSeconds > 0 {
		db.SetConnMaxLifetime(time.Duration(pool.ConnMaxLifetimeSeconds) * time.Second)
	}
}

func pingWithRetry(ctx context.Context, db *sql.DB, cfg config.DatabaseConfig) error {
	attempts := cfg.ConnectRetry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	interval := time.Duration(cfg.ConnectRetry.IntervalSeconds) * time.Second

	var lastErr error
	for i := 1; i <= attempts; i++ {
		if lastErr = db.PingContext(ctx); lastErr == nil {
			return nil
		}
		logger.Warnf("%s への Ping に失敗しました (%d/%d): %v", cfg.Type, i, attempts, lastErr)
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return exception.NewBatchError("database", "接続待機中にキャンセルされました", ctx.Err(), false, false)
		case <-time.After(interval):
		}
	}
	return exception.NewBatchError("database", fmt.Sprintf("%s への Ping に失敗しました", cfg.Type), lastErr, true, false)
}

// replaceScheme は URL のスキームを差し替えます。スキームが無い場合は付与します。
func replaceScheme(u, scheme string) string {
	if i := strings.Index(u, "://"); i >= 0 {
		return scheme + u[i:]
	}
	return scheme + "://" + u
}

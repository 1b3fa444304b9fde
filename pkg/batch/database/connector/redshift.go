package connector

import (
	_ "github.com/golang-migrate/migrate/v4/database/redshift"
	_ "github.com/lib/pq" // Redshift は PostgreSQL 互換なので pq ドライバを使う

	config "sbatchjob/pkg/batch/config"
	database "sbatchjob/pkg/batch/database"
)

// redshiftConnector は Redshift に接続する DBConnector の実装です。
// インデックスと外部キーを持たない専用のマイグレーションを使います。
type redshiftConnector struct{}

func (c *redshiftConnector) DriverName() string { return "postgres" }

func (c *redshiftConnector) DSN(cfg config.DatabaseConfig) (string, error) {
	return postgresURL("postgres", 5439, cfg)
}

func (c *redshiftConnector) MigrationURL(cfg config.DatabaseConfig) (string, error) {
	return postgresURL("redshift", 5439, cfg)
}

func (c *redshiftConnector) Dialect() database.Dialect { return database.DialectPostgres }

func (c *redshiftConnector) MigrationDir() string { return "redshift" }

func init() {
	RegisterConnector("redshift", &redshiftConnector{})
}

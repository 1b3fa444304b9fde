package connector

import (
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // "pgx" ドライバを登録

	config "sbatchjob/pkg/batch/config"
	database "sbatchjob/pkg/batch/database"
)

// pgxConnector は pgx/v5 の database/sql ドライバで PostgreSQL に接続します。
type pgxConnector struct{}

func (c *pgxConnector) DriverName() string { return "pgx" }

func (c *pgxConnector) DSN(cfg config.DatabaseConfig) (string, error) {
	return postgresURL("postgres", 5432, cfg)
}

func (c *pgxConnector) MigrationURL(cfg config.DatabaseConfig) (string, error) {
	return postgresURL("pgx5", 5432, cfg)
}

func (c *pgxConnector) Dialect() database.Dialect { return database.DialectPostgres }

func (c *pgxConnector) MigrationDir() string { return "postgres" }

func init() {
	RegisterConnector("pgx", &pgxConnector{})
}

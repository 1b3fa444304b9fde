package connector

import (
	"errors"
	"net"
	"net/url"
	"strconv"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/lib/pq" // PostgreSQL ドライバ

	config "sbatchjob/pkg/batch/config"
	database "sbatchjob/pkg/batch/database"
)

// postgresConnector は lib/pq で PostgreSQL に接続する DBConnector の実装です。
type postgresConnector struct{}

func (c *postgresConnector) DriverName() string { return "postgres" }

func (c *postgresConnector) DSN(cfg config.DatabaseConfig) (string, error) {
	return postgresURL("postgres", 5432, cfg)
}

func (c *postgresConnector) MigrationURL(cfg config.DatabaseConfig) (string, error) {
	return postgresURL("postgres", 5432, cfg)
}

func (c *postgresConnector) Dialect() database.Dialect { return database.DialectPostgres }

func (c *postgresConnector) MigrationDir() string { return "postgres" }

// postgresURL は PostgreSQL 系の接続 URL を組み立てます。cfg.URL があればスキームだけ差し替えます。
func postgresURL(scheme string, defaultPort int, cfg config.DatabaseConfig) (string, error) {
	if cfg.URL != "" {
		return replaceScheme(cfg.URL, scheme), nil
	}
	if cfg.Host == "" || cfg.Database == "" {
		return "", errors.New("host and database are required")
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:   "/" + cfg.Database,
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	q := url.Values{}
	if cfg.Sslmode != "" {
		q.Set("sslmode", cfg.Sslmode)
	}
	if cfg.Schema != "" {
		q.Set("search_path", cfg.Schema)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func init() {
	RegisterConnector("postgres", &postgresConnector{})
}

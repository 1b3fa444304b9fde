package connector

import (
	"errors"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"

	config "sbatchjob/pkg/batch/config"
	database "sbatchjob/pkg/batch/database"
)

// mysqlConnector は MySQL に接続する DBConnector の実装です。
// cfg.URL を使う場合は go-sql-driver 形式の DSN (user:pass@tcp(host:3306)/db) を指定します。
type mysqlConnector struct{}

func (c *mysqlConnector) DriverName() string { return "mysql" }

func (c *mysqlConnector) DSN(cfg config.DatabaseConfig) (string, error) {
	mc, err := mysqlConfig(cfg)
	if err != nil {
		return "", err
	}
	return mc.FormatDSN(), nil
}

// MigrationURL はマイグレーションファイルが複数ステートメントを含むため multiStatements を有効にします。
func (c *mysqlConnector) MigrationURL(cfg config.DatabaseConfig) (string, error) {
	mc, err := mysqlConfig(cfg)
	if err != nil {
		return "", err
	}
	mc.MultiStatements = true
	return "mysql://" + mc.FormatDSN(), nil
}

func (c *mysqlConnector) Dialect() database.Dialect { return database.DialectMySQL }

func (c *mysqlConnector) MigrationDir() string { return "mysql" }

func mysqlConfig(cfg config.DatabaseConfig) (*mysql.Config, error) {
	if cfg.URL != "" {
		mc, err := mysql.ParseDSN(cfg.URL)
		if err != nil {
			return nil, err
		}
		mc.ParseTime = true
		return mc, nil
	}
	if cfg.Host == "" || cfg.Database == "" {
		return nil, errors.New("host and database are required")
	}
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	mc.DBName = cfg.Database
	mc.ParseTime = true
	return mc, nil
}

func init() {
	RegisterConnector("mysql", &mysqlConnector{})
}

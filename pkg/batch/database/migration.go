package database

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/source/file" // アプリケーション側のマイグレーション用
	"github.com/golang-migrate/migrate/v4/source/iofs"

	exception "sbatchjob/pkg/batch/util/exception"
	logger "sbatchjob/pkg/batch/util/logger"
)

// FrameworkMigrationsTable はフレームワークのマイグレーション履歴テーブル名です。
// アプリケーション側のマイグレーション (デフォルトの schema_migrations) と履歴を分けます。
const FrameworkMigrationsTable = "batch_schema_migrations"

//go:embed migrations
var frameworkMigrations embed.FS

// WithMigrationsTable は migrate 用 URL に x-migrations-table パラメータを付与します。
func WithMigrationsTable(databaseURL, table string) string {
	if table == "" {
		return databaseURL
	}
	sep := "?"
	if strings.Contains(databaseURL, "?") {
		sep = "&"
	}
	return databaseURL + sep + "x-migrations-table=" + table
}

// RunMigrations はフレームワークのスキーマを適用し、appMigrationPath が指定されていれば
// アプリケーションのマイグレーションも続けて適用します。
// migrationDir は埋め込みの migrations 配下のディレクトリ名 (postgres, redshift, mysql, snowflake)、
// databaseURL は golang-migrate のデータベースドライバが解釈できる URL です。
func RunMigrations(migrationDir, databaseURL, appMigrationPath string) error {
	logger.Infof("フレームワークのマイグレーションを開始します。ディレクトリ: %s", migrationDir)

	src, err := iofs.New(frameworkMigrations, "migrations/"+migrationDir)
	if err != nil {
		return exception.NewBatchError("migration", fmt.Sprintf("%s のマイグレーションファイルが見つかりません", migrationDir), err, false, false)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, WithMigrationsTable(databaseURL, FrameworkMigrationsTable))
	if err != nil {
		return exception.NewBatchError("migration", "マイグレーションインスタンスの作成に失敗しました", err, false, false)
	}
	if err := up(m); err != nil {
		return err
	}

	if appMigrationPath == "" {
		return nil
	}

	logger.Infof("アプリケーションのマイグレーションを開始します。パス: %s", appMigrationPath)
	appM, err := migrate.New("file://"+appMigrationPath, databaseURL)
	if err != nil {
		return exception.NewBatchError("migration", fmt.Sprintf("マイグレーションインスタンスの作成に失敗しました: %s", appMigrationPath), err, false, false)
	}
	return up(appM)
}

func up(m *migrate.Migrate) error {
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warnf("マイグレーションのクローズでエラーが発生しました: source=%v, database=%v", srcErr, dbErr)
		}
	}()

	err := m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Infof("マイグレーションは不要です。データベースは最新の状態です。")
		return nil
	}
	if err != nil {
		return exception.NewBatchError("migration", "マイグレーションの実行に失敗しました", err, false, false)
	}
	logger.Infof("マイグレーションが正常に完了しました。")
	return nil
}

package repository

import (
	"context"
	"fmt"

	config "sbatchjob/pkg/batch/config"
	connector "sbatchjob/pkg/batch/database/connector"
	job "sbatchjob/pkg/batch/repository/job"
	memory "sbatchjob/pkg/batch/repository/memory"
	sqlrepo "sbatchjob/pkg/batch/repository/sql"
	exception "sbatchjob/pkg/batch/util/exception"
	logger "sbatchjob/pkg/batch/util/logger"
)

// NewJobRepository は設定に応じた JobRepository を作成します。
// データベースを使う場合は接続してからスキーマのマイグレーションを適用します。
func NewJobRepository(ctx context.Context, cfg config.Config) (job.JobRepository, error) {
	module := "repository_factory"
	if cfg.Database.IsInMemory() {
		logger.Debugf("インメモリの JobRepository を使用します。")
		return memory.NewInMemoryJobRepository(), nil
	}

	logger.Debugf("JobRepository の生成を開始します (Type: %s).", cfg.Database.Type)
	conn, err := connector.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Errorf("JobRepository 用のデータベース接続確立に失敗しました (Type: %s): %v", cfg.Database.Type, err)
		return nil, exception.NewBatchError(module, fmt.Sprintf("JobRepository 用のデータベース接続確立に失敗しました (Type: %s)", cfg.Database.Type), err, false, false)
	}

	if err := connector.Migrate(cfg.Database); err != nil {
		conn.Close()
		return nil, exception.NewBatchError(module, "JobRepository のスキーマ適用に失敗しました", err, false, false)
	}

	logger.Debugf("SQLJobRepository を生成しました (Type: %s)。", cfg.Database.Type)
	return sqlrepo.NewSQLJobRepository(conn), nil
}

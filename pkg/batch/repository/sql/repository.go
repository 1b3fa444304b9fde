package sql

import (
	database "sbatchjob/pkg/batch/database"
	job "sbatchjob/pkg/batch/repository/job"
	exception "sbatchjob/pkg/batch/util/exception"
	logger "sbatchjob/pkg/batch/util/logger"
)

// SQLJobRepository は JobRepository インターフェースの SQL データベース実装です。
// 各リポジトリの具体的な実装を埋め込み、委譲します。
type SQLJobRepository struct {
	dbConnection database.DBConnection

	*SQLJobInstanceRepository
	*SQLJobExecutionRepository
	*SQLStepExecutionRepository
}

// NewSQLJobRepository は確立済みの接続から SQLJobRepository を作成します。
func NewSQLJobRepository(dbConn database.DBConnection) *SQLJobRepository {
	stepRepo := NewSQLStepExecutionRepository(dbConn)
	executionRepo := NewSQLJobExecutionRepository(dbConn)
	executionRepo.SetStepExecutionRepository(stepRepo)

	return &SQLJobRepository{
		dbConnection:               dbConn,
		SQLJobInstanceRepository:   NewSQLJobInstanceRepository(dbConn),
		SQLJobExecutionRepository:  executionRepo,
		SQLStepExecutionRepository: stepRepo,
	}
}

// Close はデータベース接続を閉じます。
func (r *SQLJobRepository) Close() error {
	if r.dbConnection == nil {
		return nil
	}
	if err := r.dbConnection.Close(); err != nil {
		return exception.NewBatchError("job_repository", "データベース接続を閉じるのに失敗しました", err, false, false)
	}
	logger.Debugf("JobRepository のデータベース接続を閉じました。")
	return nil
}

var _ job.JobRepository = (*SQLJobRepository)(nil)

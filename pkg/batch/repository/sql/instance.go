package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	database "sbatchjob/pkg/batch/database"
	core "sbatchjob/pkg/batch/job/core"
	job "sbatchjob/pkg/batch/repository/job"
	exception "sbatchjob/pkg/batch/util/exception"
	logger "sbatchjob/pkg/batch/util/logger"
	serialization "sbatchjob/pkg/batch/util/serialization"
)

const jobInstanceColumns = "id, job_name, job_parameters, parameters_hash, create_time, version"

// SQLJobInstanceRepository は JobInstance インターフェースの SQL データベース実装です。
type SQLJobInstanceRepository struct {
	dbConnection database.DBConnection
}

// NewSQLJobInstanceRepository は新しい SQLJobInstanceRepository のインスタンスを作成します。
func NewSQLJobInstanceRepository(dbConn database.DBConnection) *SQLJobInstanceRepository {
	return &SQLJobInstanceRepository{dbConnection: dbConn}
}

// SaveJobInstance は新しい JobInstance をデータベースに保存します。
func (r *SQLJobInstanceRepository) SaveJobInstance(ctx context.Context, jobInstance *core.JobInstance) error {
	paramsJSON, err := serialization.MarshalJobParameters(jobInstance.Parameters)
	if err != nil {
		return err
	}
	if jobInstance.ParametersHash == "" {
		if jobInstance.ParametersHash, err = serialization.HashJobParameters(jobInstance.Parameters); err != nil {
			return err
		}
	}

	query := r.dbConnection.Rebind(`
    INSERT INTO job_instances (` + jobInstanceColumns + `)
    VALUES (?, ?, ?, ?, ?, ?)`)
	_, err = r.dbConnection.ExecContext(ctx, query,
		jobInstance.ID,
		jobInstance.JobName,
		string(paramsJSON),
		jobInstance.ParametersHash,
		jobInstance.CreateTime,
		jobInstance.Version,
	)
	if err != nil {
		return exception.NewBatchError("job_repository", fmt.Sprintf("JobInstance (ID: %s) の保存に失敗しました", jobInstance.ID), err, true, false)
	}

	logger.Debugf("JobInstance (ID: %s, JobName: %s) を保存しました。", jobInstance.ID, jobInstance.JobName)
	return nil
}

// FindJobInstanceByJobNameAndParameters はジョブ名とパラメータのハッシュで JobInstance を検索します。
func (r *SQLJobInstanceRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params core.JobParameters) (*core.JobInstance, error) {
	hash, err := serialization.HashJobParameters(params)
	if err != nil {
		return nil, err
	}

	query := r.dbConnection.Rebind(`
    SELECT ` + jobInstanceColumns + `
    FROM job_instances
    WHERE job_name = ? AND parameters_hash = ?
    ORDER BY create_time DESC`)
	jobInstance, err := scanJobInstance(r.dbConnection.QueryRowContext(ctx, query, jobName, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, exception.NewBatchError("job_repository", fmt.Sprintf("JobInstance (JobName: %s) の検索に失敗しました", jobName), err, false, false)
	}
	return jobInstance, nil
}

// FindJobInstanceByID は指定された ID の JobInstance をデータベースから取得します。
func (r *SQLJobInstanceRepository) FindJobInstanceByID(ctx context.Context, instanceID string) (*core.JobInstance, error) {
	query := r.dbConnection.Rebind(`SELECT ` + jobInstanceColumns + ` FROM job_instances WHERE id = ?`)
	jobInstance, err := scanJobInstance(r.dbConnection.QueryRowContext(ctx, query, instanceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, exception.NewBatchErrorf("job_repository", "JobInstance (ID: %s) が見つかりませんでした", instanceID)
	}
	if err != nil {
		return nil, exception.NewBatchError("job_repository", fmt.Sprintf("JobInstance (ID: %s) の取得に失敗しました", instanceID), err, false, false)
	}
	return jobInstance, nil
}

// GetJobInstanceCount は指定されたジョブ名の JobInstance の数を返します。
func (r *SQLJobInstanceRepository) GetJobInstanceCount(ctx context.Context, jobName string) (int, error) {
	query := r.dbConnection.Rebind(`SELECT COUNT(*) FROM job_instances WHERE job_name = ?`)
	var count int
	if err := r.dbConnection.QueryRowContext(ctx, query, jobName).Scan(&count); err != nil {
		return 0, exception.NewBatchError("job_repository", fmt.Sprintf("ジョブ '%s' の JobInstance 数取得に失敗しました", jobName), err, false, false)
	}
	return count, nil
}

// GetJobNames はリポジトリに存在する全てのジョブ名を返します。
func (r *SQLJobInstanceRepository) GetJobNames(ctx context.Context) ([]string, error) {
	rows, err := r.dbConnection.QueryContext(ctx, `SELECT DISTINCT job_name FROM job_instances ORDER BY job_name`)
	if err != nil {
		return nil, exception.NewBatchError("job_repository", "ジョブ名の取得に失敗しました", err, false, false)
	}
	defer rows.Close()

	var jobNames []string
	for rows.Next() {
		var jobName string
		if err := rows.Scan(&jobName); err != nil {
			return nil, exception.NewBatchError("job_repository", "ジョブ名のスキャンに失敗しました", err, false, false)
		}
		jobNames = append(jobNames, jobName)
	}
	if err := rows.Err(); err != nil {
		return nil, exception.NewBatchError("job_repository", "ジョブ名取得後の行処理中にエラーが発生しました", err, false, false)
	}
	return jobNames, nil
}

func scanJobInstance(row rowScanner) (*core.JobInstance, error) {
	jobInstance := &core.JobInstance{}
	var paramsJSON sql.NullString
	if err := row.Scan(
		&jobInstance.ID,
		&jobInstance.JobName,
		&paramsJSON,
		&jobInstance.ParametersHash,
		&jobInstance.CreateTime,
		&jobInstance.Version,
	); err != nil {
		return nil, err
	}
	if err := serialization.UnmarshalJobParameters([]byte(paramsJSON.String), &jobInstance.Parameters); err != nil {
		logger.Errorf("JobInstance (ID: %s) の JobParameters のデコードに失敗しました: %v", jobInstance.ID, err)
	}
	return jobInstance, nil
}

var _ job.JobInstance = (*SQLJobInstanceRepository)(nil)

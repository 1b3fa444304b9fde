package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	database "sbatchjob/pkg/batch/database"
	core "sbatchjob/pkg/batch/job/core"
	job "sbatchjob/pkg/batch/repository/job"
	exception "sbatchjob/pkg/batch/util/exception"
	logger "sbatchjob/pkg/batch/util/logger"
	serialization "sbatchjob/pkg/batch/util/serialization"
)

const jobExecutionColumns = "id, job_instance_id, job_name, start_time, end_time, status, exit_status, exit_code, " +
	"create_time, last_updated, version, job_parameters, failure_exceptions, execution_context, current_step_name"

// rowScanner は *sql.Row と *sql.Rows の共通部分です。
type rowScanner interface {
	Scan(dest ...any) error
}

// SQLJobExecutionRepository は JobExecution インターフェースの SQL データベース実装です。
type SQLJobExecutionRepository struct {
	dbConnection database.DBConnection
	// StepExecution をまとめて読み込むために参照する
	stepExecutionRepo job.StepExecution
}

// NewSQLJobExecutionRepository は新しい SQLJobExecutionRepository のインスタンスを作成します。
func NewSQLJobExecutionRepository(dbConn database.DBConnection) *SQLJobExecutionRepository {
	return &SQLJobExecutionRepository{dbConnection: dbConn}
}

// SetStepExecutionRepository は StepExecution リポジトリの参照を設定します。
func (r *SQLJobExecutionRepository) SetStepExecutionRepository(repo job.StepExecution) {
	r.stepExecutionRepo = repo
}

// SaveJobExecution は新しい JobExecution をデータベースに保存します。
func (r *SQLJobExecutionRepository) SaveJobExecution(ctx context.Context, jobExecution *core.JobExecution) error {
	params, failures, ec, err := marshalJobExecution(jobExecution)
	if err != nil {
		return err
	}

	query := r.dbConnection.Rebind(`
    INSERT INTO job_executions (` + jobExecutionColumns + `)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = r.dbConnection.ExecContext(ctx, query,
		jobExecution.ID,
		jobExecution.JobInstanceID,
		jobExecution.JobName,
		nullTime(jobExecution.StartTime),
		nullTime(jobExecution.EndTime),
		string(jobExecution.Status),
		string(jobExecution.ExitStatus),
		jobExecution.ExitCode,
		jobExecution.CreateTime,
		jobExecution.LastUpdated,
		jobExecution.Version,
		params,
		failures,
		ec,
		jobExecution.CurrentStepName,
	)
	if err != nil {
		return exception.NewBatchError("job_repository", fmt.Sprintf("JobExecution (ID: %s) の保存に失敗しました", jobExecution.ID), err, true, false)
	}

	logger.Debugf("JobExecution (ID: %s, Status: %s) を保存しました。", jobExecution.ID, jobExecution.Status)
	return nil
}

// UpdateJobExecution は JobExecution を楽観ロック付きで更新し、成功したら Version を進めます。
func (r *SQLJobExecutionRepository) UpdateJobExecution(ctx context.Context, jobExecution *core.JobExecution) error {
	_, failures, ec, err := marshalJobExecution(jobExecution)
	if err != nil {
		return err
	}

	now := time.Now()
	query := r.dbConnection.Rebind(`
    UPDATE job_executions
    SET start_time = ?, end_time = ?, status = ?, exit_status = ?, exit_code = ?, last_updated = ?,
        version = ?, failure_exceptions = ?, execution_context = ?, current_step_name = ?
    WHERE id = ? AND version = ?`)
	res, err := r.dbConnection.ExecContext(ctx, query,
		nullTime(jobExecution.StartTime),
		nullTime(jobExecution.EndTime),
		string(jobExecution.Status),
		string(jobExecution.ExitStatus),
		jobExecution.ExitCode,
		now,
		jobExecution.Version+1,
		failures,
		ec,
		jobExecution.CurrentStepName,
		jobExecution.ID,
		jobExecution.Version,
	)
	if err != nil {
		return exception.NewBatchError("job_repository", fmt.Sprintf("JobExecution (ID: %s) の更新に失敗しました", jobExecution.ID), err, true, false)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return exception.NewBatchError("job_repository", fmt.Sprintf("JobExecution (ID: %s) の更新結果取得に失敗しました", jobExecution.ID), err, false, false)
	}
	if n == 0 {
		return exception.NewBatchErrorf("job_repository", "JobExecution (ID: %s, Version: %d) の更新対象が見つかりませんでした (またはバージョン不一致)", jobExecution.ID, jobExecution.Version)
	}

	jobExecution.Version++
	jobExecution.LastUpdated = now
	logger.Debugf("JobExecution (ID: %s, Status: %s, ExitCode: %d) を更新しました。", jobExecution.ID, jobExecution.Status, jobExecution.ExitCode)
	return nil
}

// FindJobExecutionByID は指定された ID の JobExecution を StepExecution ごと取得します。
func (r *SQLJobExecutionRepository) FindJobExecutionByID(ctx context.Context, executionID string) (*core.JobExecution, error) {
	query := r.dbConnection.Rebind(`SELECT ` + jobExecutionColumns + ` FROM job_executions WHERE id = ?`)
	jobExecution, err := scanJobExecution(r.dbConnection.QueryRowContext(ctx, query, executionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, exception.NewBatchErrorf("job_repository", "JobExecution (ID: %s) が見つかりませんでした", executionID)
	}
	if err != nil {
		return nil, exception.NewBatchError("job_repository", fmt.Sprintf("JobExecution (ID: %s) の取得に失敗しました", executionID), err, false, false)
	}
	if err := r.loadStepExecutions(ctx, jobExecution); err != nil {
		return nil, err
	}
	return jobExecution, nil
}

// FindLatestJobExecution は JobInstance の最新の JobExecution を取得します。
func (r *SQLJobExecutionRepository) FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*core.JobExecution, error) {
	query := r.dbConnection.Rebind(`
    SELECT ` + jobExecutionColumns + `
    FROM job_executions
    WHERE job_instance_id = ?
    ORDER BY create_time DESC
    LIMIT 1`)
	jobExecution, err := scanJobExecution(r.dbConnection.QueryRowContext(ctx, query, jobInstanceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, exception.NewBatchError("job_repository", fmt.Sprintf("JobInstance (ID: %s) の最新 JobExecution の取得に失敗しました", jobInstanceID), err, false, false)
	}
	if err := r.loadStepExecutions(ctx, jobExecution); err != nil {
		return nil, err
	}
	return jobExecution, nil
}

// FindJobExecutionsByJobInstance は JobInstance に関連する JobExecution を新しい順に取得します。
func (r *SQLJobExecutionRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstance *core.JobInstance) ([]*core.JobExecution, error) {
	query := r.dbConnection.Rebind(`
    SELECT ` + jobExecutionColumns + `
    FROM job_executions
    WHERE job_instance_id = ?
    ORDER BY create_time DESC`)
	return r.queryJobExecutions(ctx, query, jobInstance.ID)
}

// FindJobExecutionsByJobName はジョブ名の JobExecution を新しい順に最大 limit 件取得します。
func (r *SQLJobExecutionRepository) FindJobExecutionsByJobName(ctx context.Context, jobName string, limit int) ([]*core.JobExecution, error) {
	if limit <= 0 {
		limit = 20
	}
	query := r.dbConnection.Rebind(`
    SELECT ` + jobExecutionColumns + `
    FROM job_executions
    WHERE job_name = ?
    ORDER BY create_time DESC
    LIMIT ?`)
	return r.queryJobExecutions(ctx, query, jobName, limit)
}

func (r *SQLJobExecutionRepository) queryJobExecutions(ctx context.Context, query string, args ...any) ([]*core.JobExecution, error) {
	rows, err := r.dbConnection.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, exception.NewBatchError("job_repository", "JobExecution の一覧取得に失敗しました", err, false, false)
	}
	defer rows.Close()

	var executions []*core.JobExecution
	for rows.Next() {
		jobExecution, err := scanJobExecution(rows)
		if err != nil {
			return nil, exception.NewBatchError("job_repository", "JobExecution のスキャンに失敗しました", err, false, false)
		}
		executions = append(executions, jobExecution)
	}
	if err := rows.Err(); err != nil {
		return nil, exception.NewBatchError("job_repository", "JobExecution 取得後の行処理中にエラーが発生しました", err, false, false)
	}
	return executions, nil
}

func (r *SQLJobExecutionRepository) loadStepExecutions(ctx context.Context, jobExecution *core.JobExecution) error {
	if r.stepExecutionRepo == nil {
		return nil
	}
	steps, err := r.stepExecutionRepo.FindStepExecutionsByJobExecutionID(ctx, jobExecution.ID)
	if err != nil {
		return err
	}
	for _, se := range steps {
		jobExecution.AddStepExecution(se)
	}
	return nil
}

func marshalJobExecution(jobExecution *core.JobExecution) (params, failures, ec string, err error) {
	p, err := serialization.MarshalJobParameters(jobExecution.Parameters)
	if err != nil {
		return "", "", "", err
	}
	f, err := serialization.MarshalFailures(jobExecution.Failures)
	if err != nil {
		return "", "", "", err
	}
	c, err := serialization.MarshalExecutionContext(jobExecution.ExecutionContext)
	if err != nil {
		return "", "", "", err
	}
	return string(p), string(f), string(c), nil
}

func scanJobExecution(row rowScanner) (*core.JobExecution, error) {
	je := &core.JobExecution{StepExecutions: make([]*core.StepExecution, 0)}
	var (
		startTime, endTime         sql.NullTime
		status, exitStatus         string
		params, failures, ec, step sql.NullString
	)
	if err := row.Scan(
		&je.ID,
		&je.JobInstanceID,
		&je.JobName,
		&startTime,
		&endTime,
		&status,
		&exitStatus,
		&je.ExitCode,
		&je.CreateTime,
		&je.LastUpdated,
		&je.Version,
		&params,
		&failures,
		&ec,
		&step,
	); err != nil {
		return nil, err
	}
	je.StartTime = startTime.Time
	je.EndTime = endTime.Time
	je.Status = core.JobStatus(status)
	je.ExitStatus = core.ExitStatus(exitStatus)
	je.CurrentStepName = step.String

	var err error
	if err = serialization.UnmarshalJobParameters([]byte(params.String), &je.Parameters); err != nil {
		logger.Errorf("JobExecution (ID: %s) の JobParameters のデコードに失敗しました: %v", je.ID, err)
	}
	if je.Failures, err = serialization.UnmarshalFailures([]byte(failures.String)); err != nil {
		logger.Errorf("JobExecution (ID: %s) の Failures のデコードに失敗しました: %v", je.ID, err)
		je.Failures = make([]error, 0)
	}
	if err = serialization.UnmarshalExecutionContext([]byte(ec.String), &je.ExecutionContext); err != nil {
		logger.Errorf("JobExecution (ID: %s) の ExecutionContext のデコードに失敗しました: %v", je.ID, err)
	}
	return je, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

var _ job.JobExecution = (*SQLJobExecutionRepository)(nil)

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

const stepExecutionColumns = "id, job_execution_id, step_name, start_time, end_time, status, exit_status, exit_code, " +
	"failure_exceptions, execution_context, last_updated, version"

// SQLStepExecutionRepository は StepExecution インターフェースの SQL データベース実装です。
type SQLStepExecutionRepository struct {
	dbConnection database.DBConnection
}

// NewSQLStepExecutionRepository は新しい SQLStepExecutionRepository のインスタンスを作成します。
func NewSQLStepExecutionRepository(dbConn database.DBConnection) *SQLStepExecutionRepository {
	return &SQLStepExecutionRepository{dbConnection: dbConn}
}

// SaveStepExecution は新しい StepExecution をデータベースに保存します。
func (r *SQLStepExecutionRepository) SaveStepExecution(ctx context.Context, stepExecution *core.StepExecution) error {
	if stepExecution.JobExecution == nil {
		return exception.NewBatchErrorf("job_repository", "StepExecution (ID: %s) が JobExecution に紐づいていません", stepExecution.ID)
	}
	failures, ec, err := marshalStepExecution(stepExecution)
	if err != nil {
		return err
	}

	query := r.dbConnection.Rebind(`
    INSERT INTO step_executions (` + stepExecutionColumns + `)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = r.dbConnection.ExecContext(ctx, query,
		stepExecution.ID,
		stepExecution.JobExecution.ID,
		stepExecution.StepName,
		nullTime(stepExecution.StartTime),
		nullTime(stepExecution.EndTime),
		string(stepExecution.Status),
		string(stepExecution.ExitStatus),
		stepExecution.ExitCode,
		failures,
		ec,
		stepExecution.LastUpdated,
		stepExecution.Version,
	)
	if err != nil {
		return exception.NewBatchError("job_repository", fmt.Sprintf("StepExecution (ID: %s) の保存に失敗しました", stepExecution.ID), err, true, false)
	}

	logger.Debugf("StepExecution (ID: %s, StepName: %s) を保存しました。", stepExecution.ID, stepExecution.StepName)
	return nil
}

// UpdateStepExecution は既存の StepExecution の状態をデータベースで更新します。
func (r *SQLStepExecutionRepository) UpdateStepExecution(ctx context.Context, stepExecution *core.StepExecution) error {
	failures, ec, err := marshalStepExecution(stepExecution)
	if err != nil {
		return err
	}

	now := time.Now()
	query := r.dbConnection.Rebind(`
    UPDATE step_executions
    SET start_time = ?, end_time = ?, status = ?, exit_status = ?, exit_code = ?,
        failure_exceptions = ?, execution_context = ?, last_updated = ?, version = ?
    WHERE id = ?`)
	res, err := r.dbConnection.ExecContext(ctx, query,
		nullTime(stepExecution.StartTime),
		nullTime(stepExecution.EndTime),
		string(stepExecution.Status),
		string(stepExecution.ExitStatus),
		stepExecution.ExitCode,
		failures,
		ec,
		now,
		stepExecution.Version+1,
		stepExecution.ID,
	)
	if err != nil {
		return exception.NewBatchError("job_repository", fmt.Sprintf("StepExecution (ID: %s) の更新に失敗しました", stepExecution.ID), err, true, false)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return exception.NewBatchError("job_repository", fmt.Sprintf("StepExecution (ID: %s) の更新結果取得に失敗しました", stepExecution.ID), err, false, false)
	}
	if n == 0 {
		return exception.NewBatchErrorf("job_repository", "StepExecution (ID: %s) の更新対象が見つかりませんでした", stepExecution.ID)
	}

	stepExecution.Version++
	stepExecution.LastUpdated = now
	logger.Debugf("StepExecution (ID: %s, Status: %s) を更新しました。", stepExecution.ID, stepExecution.Status)
	return nil
}

// FindStepExecutionByID は指定された ID の StepExecution を取得します。
// 親の JobExecution は ID だけを持つ状態で設定されます。
func (r *SQLStepExecutionRepository) FindStepExecutionByID(ctx context.Context, executionID string) (*core.StepExecution, error) {
	query := r.dbConnection.Rebind(`SELECT ` + stepExecutionColumns + ` FROM step_executions WHERE id = ?`)
	se, jobExecutionID, err := scanStepExecution(r.dbConnection.QueryRowContext(ctx, query, executionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, exception.NewBatchErrorf("job_repository", "StepExecution (ID: %s) が見つかりませんでした", executionID)
	}
	if err != nil {
		return nil, exception.NewBatchError("job_repository", fmt.Sprintf("StepExecution (ID: %s) の取得に失敗しました", executionID), err, false, false)
	}
	se.JobExecution = &core.JobExecution{ID: jobExecutionID}
	return se, nil
}

// FindStepExecutionsByJobExecutionID は JobExecution に関連する StepExecution を開始順に取得します。
// JobExecution への参照は呼び出し側で設定します。
func (r *SQLStepExecutionRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*core.StepExecution, error) {
	query := r.dbConnection.Rebind(`
    SELECT ` + stepExecutionColumns + `
    FROM step_executions
    WHERE job_execution_id = ?
    ORDER BY start_time ASC`)
	rows, err := r.dbConnection.QueryContext(ctx, query, jobExecutionID)
	if err != nil {
		return nil, exception.NewBatchError("job_repository", fmt.Sprintf("JobExecution (ID: %s) の StepExecution 取得に失敗しました", jobExecutionID), err, false, false)
	}
	defer rows.Close()

	var stepExecutions []*core.StepExecution
	for rows.Next() {
		se, _, err := scanStepExecution(rows)
		if err != nil {
			return nil, exception.NewBatchError("job_repository", "StepExecution のスキャンに失敗しました", err, false, false)
		}
		stepExecutions = append(stepExecutions, se)
	}
	if err := rows.Err(); err != nil {
		return nil, exception.NewBatchError("job_repository", "StepExecution 取得後の行処理中にエラーが発生しました", err, false, false)
	}

	logger.Debugf("JobExecution (ID: %s) の StepExecution を %d 件取得しました。", jobExecutionID, len(stepExecutions))
	return stepExecutions, nil
}

func marshalStepExecution(se *core.StepExecution) (failures, ec string, err error) {
	f, err := serialization.MarshalFailures(se.Failures)
	if err != nil {
		return "", "", err
	}
	c, err := serialization.MarshalExecutionContext(se.ExecutionContext)
	if err != nil {
		return "", "", err
	}
	return string(f), string(c), nil
}

func scanStepExecution(row rowScanner) (*core.StepExecution, string, error) {
	se := &core.StepExecution{}
	var (
		jobExecutionID     string
		startTime, endTime sql.NullTime
		status, exitStatus string
		failures, ec       sql.NullString
	)
	if err := row.Scan(
		&se.ID,
		&jobExecutionID,
		&se.StepName,
		&startTime,
		&endTime,
		&status,
		&exitStatus,
		&se.ExitCode,
		&failures,
		&ec,
		&se.LastUpdated,
		&se.Version,
	); err != nil {
		return nil, "", err
	}
	se.StartTime = startTime.Time
	se.EndTime = endTime.Time
	se.Status = core.JobStatus(status)
	se.ExitStatus = core.ExitStatus(exitStatus)

	var err error
	if se.Failures, err = serialization.UnmarshalFailures([]byte(failures.String)); err != nil {
		logger.Errorf("StepExecution (ID: %s) の Failures のデコードに失敗しました: %v", se.ID, err)
		se.Failures = make([]error, 0)
	}
	if err = serialization.UnmarshalExecutionContext([]byte(ec.String), &se.ExecutionContext); err != nil {
		logger.Errorf("StepExecution (ID: %s) の ExecutionContext のデコードに失敗しました: %v", se.ID, err)
	}
	return se, jobExecutionID, nil
}

var _ job.StepExecution = (*SQLStepExecutionRepository)(nil)

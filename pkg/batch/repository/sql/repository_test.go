package sql_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	database "sbatchjob/pkg/batch/database"
	core "sbatchjob/pkg/batch/job/core"
	sqlrepo "sbatchjob/pkg/batch/repository/sql"
	serialization "sbatchjob/pkg/batch/util/serialization"
)

func newRepo(t *testing.T, dialect database.Dialect) (*sqlrepo.SQLJobRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlrepo.NewSQLJobRepository(database.NewSQLDBAdapter(db, dialect)), mock
}

func TestSaveJobInstance_ComputesHash(t *testing.T) {
	repo, mock := newRepo(t, database.DialectPostgres)

	params := core.NewJobParameters()
	params.Put("working.dir", "/home/alice/mialab")
	ji := core.NewJobInstance("mialab", params)
	wantHash, err := serialization.HashJobParameters(params)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO job_instances")).
		WithArgs(ji.ID, "mialab", `{"working.dir":"/home/alice/mialab"}`, wantHash, sqlmock.AnyArg(), 0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SaveJobInstance(context.Background(), ji))
	assert.Equal(t, wantHash, ji.ParametersHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindJobInstanceByJobNameAndParameters_NotFound(t *testing.T) {
	repo, mock := newRepo(t, database.DialectMySQL)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE job_name = ? AND parameters_hash = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	ji, err := repo.FindJobInstanceByJobNameAndParameters(context.Background(), "mialab", core.NewJobParameters())
	require.NoError(t, err)
	assert.Nil(t, ji)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobExecution_OptimisticLock(t *testing.T) {
	repo, mock := newRepo(t, database.DialectPostgres)

	je := core.NewJobExecution("instance-1", "mialab", core.NewJobParameters())
	je.MarkAsStarted()
	je.MarkAsCompleted()
	je.ExitCode = 3
	je.Version = 2

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $11 AND version = $12")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "COMPLETED", "COMPLETED", 3, sqlmock.AnyArg(),
			3, "[]", "{}", "", je.ID, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateJobExecution(context.Background(), je))
	assert.Equal(t, 3, je.Version)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE job_executions")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateJobExecution(context.Background(), je)
	assert.ErrorContains(t, err, "バージョン不一致")
	assert.Equal(t, 3, je.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindJobExecutionByID_LoadsSteps(t *testing.T) {
	repo, mock := newRepo(t, database.DialectMySQL)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM job_executions WHERE id = ?")).
		WithArgs("exec-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "job_instance_id", "job_name", "start_time", "end_time", "status", "exit_status", "exit_code",
			"create_time", "last_updated", "version", "job_parameters", "failure_exceptions", "execution_context", "current_step_name",
		}).AddRow("exec-1", "instance-1", "mialab", now, now, "FAILED", "FAILED", 2,
			now, now, 4, `{"working.dir":"/w"}`, `["boom"]`, `{}`, "invokeProgram"))

	mock.ExpectQuery(regexp.QuoteMeta("FROM step_executions")).
		WithArgs("exec-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "job_execution_id", "step_name", "start_time", "end_time", "status", "exit_status", "exit_code",
			"failure_exceptions", "execution_context", "last_updated", "version",
		}).
			AddRow("step-1", "exec-1", "activateEnvironment", now, now, "COMPLETED", "COMPLETED", 0, `[]`, `{}`, now, 1).
			AddRow("step-2", "exec-1", "invokeProgram", now, now, "FAILED", "FAILED", 2, `["exit 2"]`, `{"exit.code":2}`, now, 1))

	je, err := repo.FindJobExecutionByID(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, core.BatchStatusFailed, je.Status)
	assert.Equal(t, 2, je.ExitCode)
	assert.Equal(t, "invokeProgram", je.CurrentStepName)
	require.Len(t, je.Failures, 1)

	require.Len(t, je.StepExecutions, 2)
	last := je.StepExecutions[1]
	assert.Same(t, je, last.JobExecution)
	code, ok := last.RecordedExitCode()
	require.True(t, ok)
	assert.Equal(t, 2, code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveStepExecution_RequiresJobExecution(t *testing.T) {
	repo, _ := newRepo(t, database.DialectPostgres)
	se := core.NewStepExecution("step-1", nil, "invokeProgram")
	assert.Error(t, repo.SaveStepExecution(context.Background(), se))
}

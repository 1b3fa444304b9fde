package joboperator

import (
	"context"

	core "sbatchjob/pkg/batch/job/core"
)

// JobOperator はバッチ実行の管理操作を行うためのインターフェースです。
type JobOperator interface {
	// Start はジョブを起動し、終了まで待ちます。
	Start(ctx context.Context, jobName string, params core.JobParameters) (*core.JobExecution, error)

	// Restart は FAILED または STOPPED の JobExecution を新しい JobExecution として再開します。
	Restart(ctx context.Context, executionID string) (*core.JobExecution, error)

	// Stop は JobExecution を停止します。
	Stop(ctx context.Context, executionID string) error

	// Abandon は終了していない JobExecution を放棄します。放棄した実行はリスタートできません。
	Abandon(ctx context.Context, executionID string) error

	GetJobExecution(ctx context.Context, executionID string) (*core.JobExecution, error)
	GetJobExecutions(ctx context.Context, instanceID string) ([]*core.JobExecution, error)
	GetLastJobExecution(ctx context.Context, instanceID string) (*core.JobExecution, error)
	GetJobInstance(ctx context.Context, instanceID string) (*core.JobInstance, error)
	GetJobInstances(ctx context.Context, jobName string, params core.JobParameters) ([]*core.JobInstance, error)
	GetJobNames(ctx context.Context) ([]string, error)
	GetParameters(ctx context.Context, executionID string) (core.JobParameters, error)

	// GetRecentJobExecutions はジョブ名の JobExecution を新しい順に最大 limit 件返します。
	GetRecentJobExecutions(ctx context.Context, jobName string, limit int) ([]*core.JobExecution, error)
}

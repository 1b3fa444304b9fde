package job

import (
	"context"

	core "sbatchjob/pkg/batch/job/core"
)

// JobExecution は JobExecution の永続化と取得に関する操作を定義します。
type JobExecution interface {
	// SaveJobExecution は新しい JobExecution を永続化します。
	SaveJobExecution(ctx context.Context, jobExecution *core.JobExecution) error

	// UpdateJobExecution は既存の JobExecution の状態を更新します。
	// 保存済みの Version と一致しない場合はエラーになります。
	UpdateJobExecution(ctx context.Context, jobExecution *core.JobExecution) error

	// FindJobExecutionByID は指定された ID の JobExecution を StepExecution ごと返します。
	FindJobExecutionByID(ctx context.Context, executionID string) (*core.JobExecution, error)

	// FindLatestJobExecution は JobInstance の最新の JobExecution を返します。無ければ (nil, nil)。
	FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*core.JobExecution, error)

	// FindJobExecutionsByJobInstance は JobInstance に関連する全ての JobExecution を新しい順に返します。
	FindJobExecutionsByJobInstance(ctx context.Context, jobInstance *core.JobInstance) ([]*core.JobExecution, error)

	// FindJobExecutionsByJobName はジョブ名の JobExecution を新しい順に最大 limit 件返します。
	FindJobExecutionsByJobName(ctx context.Context, jobName string, limit int) ([]*core.JobExecution, error)
}

package job

import (
	"context"

	core "sbatchjob/pkg/batch/job/core"
)

// StepExecution は StepExecution の永続化と取得に関する操作を定義します。
type StepExecution interface {
	// SaveStepExecution は新しい StepExecution を永続化します。JobExecution への紐づけが必須です。
	SaveStepExecution(ctx context.Context, stepExecution *core.StepExecution) error

	// UpdateStepExecution は既存の StepExecution の状態を更新します。
	UpdateStepExecution(ctx context.Context, stepExecution *core.StepExecution) error

	// FindStepExecutionByID は指定された ID の StepExecution を返します。
	FindStepExecutionByID(ctx context.Context, executionID string) (*core.StepExecution, error)

	// FindStepExecutionsByJobExecutionID は JobExecution に関連する StepExecution を開始順に返します。
	FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*core.StepExecution, error)
}

package job

import (
	"context"

	core "sbatchjob/pkg/batch/job/core"
)

// JobInstance は JobInstance の永続化と取得に関する操作を定義します。
type JobInstance interface {
	// SaveJobInstance は新しい JobInstance を永続化します。ParametersHash が空なら計算して設定します。
	SaveJobInstance(ctx context.Context, jobInstance *core.JobInstance) error

	// FindJobInstanceByJobNameAndParameters はジョブ名とパラメータに一致する JobInstance を返します。
	// 見つからない場合は (nil, nil) を返します。
	FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params core.JobParameters) (*core.JobInstance, error)

	// FindJobInstanceByID は指定された ID の JobInstance を返します。
	FindJobInstanceByID(ctx context.Context, instanceID string) (*core.JobInstance, error)

	// GetJobInstanceCount は指定されたジョブ名の JobInstance の数を返します。
	GetJobInstanceCount(ctx context.Context, jobName string) (int, error)

	// GetJobNames はリポジトリに存在する全てのジョブ名を返します。
	GetJobNames(ctx context.Context) ([]string, error)
}

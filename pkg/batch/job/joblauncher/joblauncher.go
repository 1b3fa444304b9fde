package joblauncher

import (
	"context"

	core "sbatchjob/pkg/batch/job/core"
)

// JobLauncher は Job を JobParameters とともに起動するためのインターフェースです。
// 返すエラーは起動処理自体のエラーで、ジョブの結果は JobExecution に入ります。
type JobLauncher interface {
	// Launch は指定された Job を JobParameters とともに同期実行します。
	Launch(ctx context.Context, jobName string, params core.JobParameters) (*core.JobExecution, error)
	// Relaunch は失敗または停止した JobExecution を、記録されたステップから新しい JobExecution として再実行します。
	Relaunch(ctx context.Context, previous *core.JobExecution) (*core.JobExecution, error)
}

// JobProvider は起動する Job とそのパラメータインクリメンタを提供します。factory.JobFactory が実装します。
type JobProvider interface {
	CreateJob(jobName string) (core.Job, error)
	GetJobParametersIncrementer(jobName string) core.JobParametersIncrementer
}

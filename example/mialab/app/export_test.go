package app

import (
	"context"
	"errors"

	core "sbatchjob/pkg/batch/job/core"
)

// RunJobAndFetch は run コマンドと同じ処理を行い、終了コードとリポジトリから読み直した JobExecution を返します。
// インメモリのリポジトリでもステップの結果を確認できるよう、同じアプリケーションで読み直します。
func RunJobAndFetch(ctx context.Context, jobPath string, embeddedConfig, embeddedJSL []byte, deps Deps) (int, *core.JobExecution, error) {
	a, closeApp, err := newApplication(ctx, options{jobPath: jobPath}, embeddedConfig, embeddedJSL, deps)
	if err != nil {
		return exitError, nil, err
	}
	defer closeApp()

	code := runJob(ctx, a, nil)
	jobName, err := a.jobName()
	if err != nil {
		return code, nil, err
	}
	recent, err := a.jobOperator.GetRecentJobExecutions(ctx, jobName, 1)
	if err != nil {
		return code, nil, err
	}
	if len(recent) == 0 {
		return code, nil, errors.New("no job execution was recorded")
	}
	jobExecution, err := a.jobOperator.GetJobExecution(ctx, recent[0].ID)
	return code, jobExecution, err
}

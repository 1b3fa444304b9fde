package listener

import (
	"context"
	"time"

	core "sbatchjob/pkg/batch/job/core"
	logger "sbatchjob/pkg/batch/util/logger"
)

// LoggingJobListener はジョブの開始と終了をログに出力する JobExecutionListener の実装です。
type LoggingJobListener struct{}

// NewLoggingJobListener は新しい LoggingJobListener のインスタンスを作成します。
func NewLoggingJobListener() *LoggingJobListener {
	return &LoggingJobListener{}
}

func (l *LoggingJobListener) BeforeJob(ctx context.Context, jobExecution *core.JobExecution) {
	logger.Infof("JobListener: ジョブ '%s' (Execution ID: %s) を開始します。パラメータ: %v",
		jobExecution.JobName, jobExecution.ID, jobExecution.Parameters.Params)
}

func (l *LoggingJobListener) AfterJob(ctx context.Context, jobExecution *core.JobExecution) {
	elapsed := time.Since(jobExecution.StartTime).Round(time.Millisecond)
	if jobExecution.Status == core.BatchStatusCompleted {
		logger.Infof("JobListener: ジョブ '%s' (Execution ID: %s) が完了しました。ExitCode: %d, 経過: %s",
			jobExecution.JobName, jobExecution.ID, jobExecution.ExitCode, elapsed)
		return
	}
	logger.Warnf("JobListener: ジョブ '%s' (Execution ID: %s) は %s で終了しました。ExitCode: %d, 経過: %s, エラー: %v",
		jobExecution.JobName, jobExecution.ID, jobExecution.Status, jobExecution.ExitCode, elapsed, jobExecution.Failures)
}

var _ core.JobExecutionListener = (*LoggingJobListener)(nil)

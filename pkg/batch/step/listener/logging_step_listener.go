package listener

import (
	"context"
	"time"

	core "sbatchjob/pkg/batch/job/core"
	logger "sbatchjob/pkg/batch/util/logger"
)

// LoggingStepListener はステップの開始と終了をログに出力する StepExecutionListener の実装です。
type LoggingStepListener struct{}

// NewLoggingStepListener は新しい LoggingStepListener のインスタンスを作成します。
func NewLoggingStepListener() *LoggingStepListener {
	return &LoggingStepListener{}
}

// BeforeStep はステップが開始される直前に呼び出されます。
func (l *LoggingStepListener) BeforeStep(ctx context.Context, stepExecution *core.StepExecution) {
	logger.Infof("StepListener: ステップ '%s' を開始します。", stepExecution.StepName)
}

// AfterStep はステップが終了した後に呼び出されます。成功・失敗に関わらず呼び出されます。
func (l *LoggingStepListener) AfterStep(ctx context.Context, stepExecution *core.StepExecution) {
	elapsed := time.Since(stepExecution.StartTime).Round(time.Millisecond)
	if len(stepExecution.Failures) > 0 {
		logger.Warnf("StepListener: ステップ '%s' が終了しました。Status: %s, ExitStatus: %s, ExitCode: %d, 経過: %s, エラー: %v",
			stepExecution.StepName, stepExecution.Status, stepExecution.ExitStatus, stepExecution.ExitCode, elapsed, stepExecution.Failures)
		return
	}
	logger.Infof("StepListener: ステップ '%s' が終了しました。Status: %s, ExitStatus: %s, ExitCode: %d, 経過: %s",
		stepExecution.StepName, stepExecution.Status, stepExecution.ExitStatus, stepExecution.ExitCode, elapsed)
}

var _ core.StepExecutionListener = (*LoggingStepListener)(nil)

// Package tasklet は mialab ジョブの 3 つのステップを実装します。
package tasklet

import (
	"context"
	"errors"
	"io"
	"os"

	core "sbatchjob/pkg/batch/job/core"
	runtimeenv "sbatchjob/pkg/batch/runtimeenv"
	exception "sbatchjob/pkg/batch/util/exception"
	logger "sbatchjob/pkg/batch/util/logger"
)

// WorkingDirKey は起動時のカレントディレクトリを保持するジョブパラメータのキーです。
const WorkingDirKey = "working.dir"

// Streams は起動するプロセスの標準出力と標準エラー出力です。
// nil の場合はランチャー自身の os.Stdout / os.Stderr をそのまま渡します。
type Streams struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (s Streams) stdout() io.Writer {
	if s.Stdout == nil {
		return os.Stdout
	}
	return s.Stdout
}

func (s Streams) stderr() io.Writer {
	if s.Stderr == nil {
		return os.Stderr
	}
	return s.Stderr
}

// stateless は状態を持たない Tasklet の ExecutionContext 関連の実装です。
type stateless struct{}

func (stateless) Close(context.Context) error {
	return nil
}

func (stateless) SetExecutionContext(context.Context, core.ExecutionContext) error {
	return nil
}

func (stateless) GetExecutionContext(context.Context) (core.ExecutionContext, error) {
	return core.NewExecutionContext(), nil
}

// environmentOf はアクティベート済みの Environment をジョブの ExecutionContext から取り出します。
// 無ければランチャーのプロセス環境をそのまま使います。
func environmentOf(stepExecution *core.StepExecution, fallback runtimeenv.Environment) runtimeenv.Environment {
	if stepExecution.JobExecution != nil {
		if v, ok := stepExecution.JobExecution.ExecutionContext.GetNested(runtimeenv.ContextKey); ok {
			if env, ok := runtimeenv.FromContextValue(v); ok {
				return env
			}
			logger.Warnf("ステップ '%s': '%s' を Environment として読めませんでした: %T", stepExecution.StepName, runtimeenv.ContextKey, v)
		}
	}
	logger.Warnf("ステップ '%s': アクティベート済みの環境が無いので、ランチャーの環境のまま実行します。", stepExecution.StepName)
	return fallback
}

// finish はコマンドの結果を StepExecution に記録して、ステップの ExitStatus を決めます。
// プロセスが起動して 0 以外で終了しただけならエラーは返しません。
func finish(ctx context.Context, stepExecution *core.StepExecution, code int, err error) (core.ExitStatus, error) {
	stepExecution.ExecutionContext.Put(core.ExitCodeKey, code)
	if err == nil && code == 0 {
		return core.ExitStatusCompleted, nil
	}
	if ctx.Err() != nil || errors.Is(err, runtimeenv.ErrCommandNotFound) || errors.Is(err, runtimeenv.ErrPermissionDenied) {
		return core.ExitStatusFailed, err
	}
	var ce *runtimeenv.CommandError
	if errors.As(err, &ce) && ce.Err == nil {
		return core.ExitStatusFailed, nil
	}
	return core.ExitStatusFailed, err
}

// exitCodeOf はエラーの終了コードを返します。持っていなければ 1 です。
func exitCodeOf(err error) int {
	if code, ok := exception.ExitCodeOf(err); ok {
		return code
	}
	return 1
}

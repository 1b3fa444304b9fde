package tasklet

import (
	"context"
	"strings"

	core "sbatchjob/pkg/batch/job/core"
	runtimeenv "sbatchjob/pkg/batch/runtimeenv"
	logger "sbatchjob/pkg/batch/util/logger"
)

// DefaultInterpreter はステップが起動するインタプリタの既定値です。
const DefaultInterpreter = "python"

// RuntimeVersionTasklet はアクティベート済みの環境でインタプリタのバージョンを標準出力に表示します。
// 出力は診断用で、内容は解釈しません。
type RuntimeVersionTasklet struct {
	stateless
	interpreter string
	flag        string
	runner      runtimeenv.CommandRunner
	fallback    runtimeenv.Environment
	streams     Streams
}

// NewRuntimeVersionTasklet は新しい RuntimeVersionTasklet を作成します。
// プロパティ interpreter (既定 python) と flag (既定 --version) を使います。
func NewRuntimeVersionTasklet(properties map[string]string, runner runtimeenv.CommandRunner, fallback runtimeenv.Environment, streams Streams) *RuntimeVersionTasklet {
	t := &RuntimeVersionTasklet{
		interpreter: strings.TrimSpace(properties["interpreter"]),
		flag:        strings.TrimSpace(properties["flag"]),
		runner:      runner,
		fallback:    fallback,
		streams:     streams,
	}
	if t.interpreter == "" {
		t.interpreter = DefaultInterpreter
	}
	if t.flag == "" {
		t.flag = "--version"
	}
	return t
}

func (t *RuntimeVersionTasklet) Execute(ctx context.Context, stepExecution *core.StepExecution) (core.ExitStatus, error) {
	env := environmentOf(stepExecution, t.fallback)
	logger.Debugf("ステップ '%s': %s %s を実行します。", stepExecution.StepName, t.interpreter, t.flag)

	code, err := runtimeenv.Exec(ctx, t.runner, env, t.interpreter, []string{t.flag}, t.streams.stdout(), t.streams.stderr())
	if err != nil {
		logger.Warnf("ステップ '%s': %s %s が失敗しました (終了コード %d): %v", stepExecution.StepName, t.interpreter, t.flag, code, err)
	}
	return finish(ctx, stepExecution, code, err)
}

var _ core.Tasklet = (*RuntimeVersionTasklet)(nil)

package tasklet

import (
	"context"
	"fmt"
	"strings"

	core "sbatchjob/pkg/batch/job/core"
	runtimeenv "sbatchjob/pkg/batch/runtimeenv"
	logger "sbatchjob/pkg/batch/util/logger"
)

// DefaultScript は作業ディレクトリの後ろに連結するスクリプトのパスです。
const DefaultScript = "/bin/main.py"

// InvokeProgramTasklet は <working.dir><script> を唯一の引数としてインタプリタを起動し、終了を待ちます。
// 引数は文字列の連結だけで作り、正規化もエスケープも存在確認もしません。
// プログラムの出力はそのまま流し、終了コードをステップの終了コードとして記録します。
type InvokeProgramTasklet struct {
	stateless
	interpreter string
	script      string
	runner      runtimeenv.CommandRunner
	fallback    runtimeenv.Environment
	streams     Streams
}

// NewInvokeProgramTasklet は新しい InvokeProgramTasklet を作成します。
// プロパティ interpreter (既定 python) と script (既定 /bin/main.py) を使います。script は空白を含めてそのまま使います。
func NewInvokeProgramTasklet(properties map[string]string, runner runtimeenv.CommandRunner, fallback runtimeenv.Environment, streams Streams) *InvokeProgramTasklet {
	t := &InvokeProgramTasklet{
		interpreter: strings.TrimSpace(properties["interpreter"]),
		script:      properties["script"],
		runner:      runner,
		fallback:    fallback,
		streams:     streams,
	}
	if t.interpreter == "" {
		t.interpreter = DefaultInterpreter
	}
	if t.script == "" {
		t.script = DefaultScript
	}
	return t
}

// ProgramArgument は作業ディレクトリから起動引数を作ります。
func (t *InvokeProgramTasklet) ProgramArgument(workingDir string) string {
	return workingDir + t.script
}

func (t *InvokeProgramTasklet) Execute(ctx context.Context, stepExecution *core.StepExecution) (core.ExitStatus, error) {
	if stepExecution.JobExecution == nil {
		return core.ExitStatusFailed, fmt.Errorf("step '%s' has no job execution", stepExecution.StepName)
	}
	workingDir, ok := stepExecution.JobExecution.Parameters.GetString(WorkingDirKey)
	if !ok {
		return core.ExitStatusFailed, fmt.Errorf("job parameter '%s' is required", WorkingDirKey)
	}

	env := environmentOf(stepExecution, t.fallback)
	arg := t.ProgramArgument(workingDir)
	logger.Infof("ステップ '%s': %s %s を起動します。", stepExecution.StepName, t.interpreter, arg)

	code, err := runtimeenv.Exec(ctx, t.runner, env, t.interpreter, []string{arg}, t.streams.stdout(), t.streams.stderr())
	if err != nil && code != 0 {
		logger.Errorf("ステップ '%s': プログラムが終了コード %d で終了しました: %v", stepExecution.StepName, code, err)
	} else {
		logger.Infof("ステップ '%s': プログラムが終了コード %d で終了しました。", stepExecution.StepName, code)
	}
	return finish(ctx, stepExecution, code, err)
}

var _ core.Tasklet = (*InvokeProgramTasklet)(nil)

package step

import (
	"context"
	"errors"
	"fmt"

	core "sbatchjob/pkg/batch/job/core"
	job "sbatchjob/pkg/batch/repository/job"
	exception "sbatchjob/pkg/batch/util/exception"
	logger "sbatchjob/pkg/batch/util/logger"
)

// taskletContextKey は Tasklet 自身の状態を StepExecution に保存するキーです。
const taskletContextKey = "tasklet_context"

// TaskletStep は Tasklet インターフェースをラップし、core.Step インターフェースを実装します。
type TaskletStep struct {
	name                      string
	tasklet                   core.Tasklet
	stepListeners             []core.StepExecutionListener
	jobRepository             job.JobRepository
	executionContextPromotion *core.ExecutionContextPromotion
}

var _ core.Step = (*TaskletStep)(nil)

// NewTaskletStep は新しい TaskletStep のインスタンスを作成します。
func NewTaskletStep(
	name string,
	tasklet core.Tasklet,
	jobRepository job.JobRepository,
	stepListeners []core.StepExecutionListener,
	executionContextPromotion *core.ExecutionContextPromotion,
) *TaskletStep {
	return &TaskletStep{
		name:                      name,
		tasklet:                   tasklet,
		jobRepository:             jobRepository,
		stepListeners:             stepListeners,
		executionContextPromotion: executionContextPromotion,
	}
}

// StepName はステップ名を返します。
func (s *TaskletStep) StepName() string {
	return s.name
}

// ID はステップのIDを返します。
func (s *TaskletStep) ID() string {
	return s.name
}

func (s *TaskletStep) notifyBeforeStep(ctx context.Context, stepExecution *core.StepExecution) {
	for _, l := range s.stepListeners {
		l.BeforeStep(ctx, stepExecution)
	}
}

func (s *TaskletStep) notifyAfterStep(ctx context.Context, stepExecution *core.StepExecution) {
	for _, l := range s.stepListeners {
		l.AfterStep(ctx, stepExecution)
	}
}

// promoteExecutionContext は StepExecutionContext の指定されたキーを JobExecutionContext にプロモートします。
func (s *TaskletStep) promoteExecutionContext(jobExecution *core.JobExecution, stepExecution *core.StepExecution) {
	if s.executionContextPromotion == nil || len(s.executionContextPromotion.Keys) == 0 {
		return
	}
	for _, key := range s.executionContextPromotion.Keys {
		val, ok := stepExecution.ExecutionContext.GetNested(key)
		if !ok {
			logger.Warnf("Taskletステップ '%s': プロモート対象のキー '%s' が StepExecutionContext にありません。", s.name, key)
			continue
		}
		jobLevelKey := key
		if mapped, found := s.executionContextPromotion.JobLevelKeys[key]; found {
			jobLevelKey = mapped
		}
		jobExecution.ExecutionContext.PutNested(jobLevelKey, val)
		logger.Debugf("Taskletステップ '%s': '%s' を JobExecutionContext の '%s' にプロモートしました。", s.name, key, jobLevelKey)
	}
}

// restoreTaskletContext はリスタート時に前回保存した Tasklet の状態を戻します。
func (s *TaskletStep) restoreTaskletContext(ctx context.Context, stepExecution *core.StepExecution) error {
	raw, ok := stepExecution.ExecutionContext.Get(taskletContextKey)
	if !ok {
		return nil
	}
	var taskletEC core.ExecutionContext
	switch v := raw.(type) {
	case core.ExecutionContext:
		taskletEC = v
	case map[string]interface{}:
		// JSON から復元した場合
		taskletEC = core.ExecutionContext(v)
	default:
		logger.Warnf("Taskletステップ '%s': Tasklet の ExecutionContext が予期しない型です: %T", s.name, raw)
		return nil
	}
	logger.Debugf("Taskletステップ '%s': ExecutionContext から Tasklet の状態を復元します。", s.name)
	return s.tasklet.SetExecutionContext(ctx, taskletEC)
}

// recordExitCode は Tasklet が記録した終了コード、またはエラーが持つ終了コードを StepExecution に反映します。
func recordExitCode(stepExecution *core.StepExecution, err error) {
	if code, ok := stepExecution.RecordedExitCode(); ok {
		stepExecution.ExitCode = code
		return
	}
	if code, ok := exception.ExitCodeOf(err); ok {
		stepExecution.ExecutionContext.Put(core.ExitCodeKey, code)
		stepExecution.ExitCode = code
	}
}

// Execute は TaskletStep の処理を実行します。
// Tasklet がエラーを返した場合でも StepExecution は FAILED (キャンセル時は STOPPED) として永続化され、
// 遷移の判定は呼び出し側が StepExecution.ExitStatus を使って行います。
func (s *TaskletStep) Execute(ctx context.Context, jobExecution *core.JobExecution, stepExecution *core.StepExecution) error {
	logger.Infof("Taskletステップ '%s' (Execution ID: %s) を開始します。", s.name, stepExecution.ID)

	stepExecution.MarkAsStarted()
	if uerr := s.jobRepository.UpdateStepExecution(ctx, stepExecution); uerr != nil {
		return exception.NewBatchError(s.name, "StepExecution の開始状態の保存に失敗しました", uerr, true, false)
	}

	if rerr := s.restoreTaskletContext(ctx, stepExecution); rerr != nil {
		stepExecution.MarkAsFailed(rerr)
		s.persist(ctx, stepExecution)
		return exception.NewBatchError(s.name, "Tasklet の ExecutionContext 復元エラー", rerr, false, false)
	}

	s.notifyBeforeStep(ctx, stepExecution)

	defer func() {
		if cerr := s.tasklet.Close(ctx); cerr != nil {
			logger.Errorf("Taskletステップ '%s': Tasklet のクローズに失敗しました: %v", s.name, cerr)
			stepExecution.AddFailureException(cerr)
		}
		s.notifyAfterStep(ctx, stepExecution)
		s.promoteExecutionContext(jobExecution, stepExecution)
		s.persist(ctx, stepExecution)
	}()

	exitStatus, execErr := s.tasklet.Execute(ctx, stepExecution)
	recordExitCode(stepExecution, execErr)

	if taskletEC, gerr := s.tasklet.GetExecutionContext(ctx); gerr != nil {
		logger.Warnf("Taskletステップ '%s': Tasklet の ExecutionContext 取得に失敗しました: %v", s.name, gerr)
	} else if len(taskletEC) > 0 {
		stepExecution.ExecutionContext.Put(taskletContextKey, taskletEC)
	}

	if execErr != nil {
		if errors.Is(execErr, context.Canceled) || ctx.Err() != nil {
			logger.Warnf("Taskletステップ '%s' はキャンセルされました: %v", s.name, execErr)
			stepExecution.AddFailureException(execErr)
			stepExecution.MarkAsStopped()
		} else {
			logger.Errorf("Taskletステップ '%s' の実行中にエラーが発生しました: %v", s.name, execErr)
			stepExecution.MarkAsFailed(execErr)
		}
		return exception.NewBatchError(s.name, "Tasklet 実行エラー", execErr, false, false)
	}

	switch exitStatus {
	case core.ExitStatusFailed:
		stepExecution.MarkAsFailed(fmt.Errorf("tasklet returned exit status %s (exit code %d)", exitStatus, stepExecution.ExitCode))
	case "":
		stepExecution.MarkAsCompleted()
	default:
		stepExecution.MarkAsCompleted()
		stepExecution.ExitStatus = exitStatus
	}

	logger.Infof("Taskletステップ '%s' が終了しました。ExitStatus: %s, ExitCode: %d", s.name, stepExecution.ExitStatus, stepExecution.ExitCode)
	return nil
}

func (s *TaskletStep) persist(ctx context.Context, stepExecution *core.StepExecution) {
	// キャンセル済みでも最終状態は書き込む
	if err := s.jobRepository.UpdateStepExecution(context.WithoutCancel(ctx), stepExecution); err != nil {
		logger.Errorf("Taskletステップ '%s': StepExecution の更新に失敗しました: %v", s.name, err)
		stepExecution.AddFailureException(err)
	}
}

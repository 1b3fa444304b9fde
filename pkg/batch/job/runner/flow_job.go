package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	core "sbatchjob/pkg/batch/job/core"
	job "sbatchjob/pkg/batch/repository/job"
	exception "sbatchjob/pkg/batch/util/exception"
	logger "sbatchjob/pkg/batch/util/logger"
)

// FlowJob はフロー定義に基づいてステップを順に実行する core.Job の実装です。
//
// 各ステップの ExitStatus を遷移ルールと照合して次の要素を決めます。ステップが失敗しても、
// その ExitStatus に対応する "to" 遷移があればフローは続行されます。
// 終了時の JobExecution.ExitCode は、このフローで最後に実行されたステップが記録した終了コードです。
type FlowJob struct {
	id            string
	name          string
	flow          *core.FlowDefinition
	jobRepository job.JobRepository
	jobListeners  []core.JobExecutionListener
	validator     func(core.JobParameters) error
}

var _ core.Job = (*FlowJob)(nil)

// NewFlowJob は新しい FlowJob のインスタンスを作成します。
func NewFlowJob(
	id string,
	name string,
	flow *core.FlowDefinition,
	jobRepository job.JobRepository,
	jobListeners []core.JobExecutionListener,
) *FlowJob {
	return &FlowJob{
		id:            id,
		name:          name,
		flow:          flow,
		jobRepository: jobRepository,
		jobListeners:  jobListeners,
	}
}

// WithParametersValidator はジョブパラメータの検証関数を設定します。
func (j *FlowJob) WithParametersValidator(v func(core.JobParameters) error) *FlowJob {
	j.validator = v
	return j
}

// JobID はジョブのIDを返します。
func (j *FlowJob) JobID() string {
	return j.id
}

// JobName はジョブ名を返します。
func (j *FlowJob) JobName() string {
	return j.name
}

// GetFlow はジョブのフロー定義を返します。
func (j *FlowJob) GetFlow() *core.FlowDefinition {
	return j.flow
}

// ValidateParameters はジョブパラメータのバリデーションを行います。
func (j *FlowJob) ValidateParameters(params core.JobParameters) error {
	if j.validator == nil {
		return nil
	}
	return j.validator(params)
}

func (j *FlowJob) notifyBeforeJob(ctx context.Context, jobExecution *core.JobExecution) {
	for _, l := range j.jobListeners {
		l.BeforeJob(ctx, jobExecution)
	}
}

func (j *FlowJob) notifyAfterJob(ctx context.Context, jobExecution *core.JobExecution) {
	for _, l := range j.jobListeners {
		l.AfterJob(ctx, jobExecution)
	}
}

// Run はフロー定義に従ってステップを実行します。
// 戻り値のエラーはフローを続行できなかった場合のもので、JobExecution には常に最終状態が設定されます。
func (j *FlowJob) Run(ctx context.Context, jobExecution *core.JobExecution, jobParameters core.JobParameters) error {
	logger.Infof("ジョブ '%s' (Execution ID: %s) を開始します。", j.name, jobExecution.ID)

	j.notifyBeforeJob(ctx, jobExecution)

	var lastStep *core.StepExecution
	defer func() {
		j.resolveExitCode(jobExecution, lastStep)
		j.notifyAfterJob(ctx, jobExecution)
		logger.Infof("ジョブ '%s' (Execution ID: %s) が終了しました。Status: %s, ExitStatus: %s, ExitCode: %d",
			j.name, jobExecution.ID, jobExecution.Status, jobExecution.ExitStatus, jobExecution.ExitCode)
	}()

	currentElementID := j.flow.StartElement
	if jobExecution.CurrentStepName != "" {
		logger.Infof("ジョブ '%s' はステップ '%s' から再開します。", j.name, jobExecution.CurrentStepName)
		currentElementID = jobExecution.CurrentStepName
	}

	for {
		if err := ctx.Err(); err != nil {
			logger.Warnf("Context がキャンセルされたため、ジョブ '%s' の実行を中断します: %v", j.name, err)
			jobExecution.AddFailureException(err)
			jobExecution.MarkAsStopped()
			return err
		}

		element, ok := j.flow.Elements[currentElementID]
		if !ok {
			err := exception.NewBatchErrorf(j.name, "フロー要素 '%s' が見つかりません", currentElementID)
			jobExecution.MarkAsFailed(err)
			return err
		}

		step, ok := element.(core.Step)
		if !ok {
			err := exception.NewBatchErrorf(j.name, "不明なフロー要素の型です: %T (ID: %s)", element, currentElementID)
			jobExecution.MarkAsFailed(err)
			return err
		}

		jobExecution.CurrentStepName = step.StepName()
		stepExecution := core.NewStepExecution(uuid.New().String(), jobExecution, step.StepName())
		jobExecution.AddStepExecution(stepExecution)
		if err := j.jobRepository.SaveStepExecution(ctx, stepExecution); err != nil {
			jobExecution.MarkAsFailed(err)
			return exception.NewBatchError(j.name, "StepExecution の保存エラー", err, false, false)
		}
		lastStep = stepExecution

		stepErr := step.Execute(ctx, jobExecution, stepExecution)
		if stepErr != nil {
			jobExecution.AddFailureException(stepErr)
		}
		j.saveProgress(ctx, jobExecution)

		if stepExecution.Status == core.BatchStatusStopped || (stepErr != nil && errors.Is(stepErr, context.Canceled)) {
			logger.Warnf("ジョブ '%s': ステップ '%s' が停止したので、ジョブを停止します。", j.name, step.StepName())
			jobExecution.MarkAsStopped()
			return nil
		}

		exitStatus := stepExecution.ExitStatus
		transition, found := j.flow.GetTransitionRule(step.ID(), exitStatus)
		if !found {
			if stepExecution.Status == core.BatchStatusFailed {
				logger.Errorf("ジョブ '%s': ステップ '%s' の ExitStatus '%s' に対する遷移が無いので、ジョブを失敗として終了します。", j.name, step.StepName(), exitStatus)
				jobExecution.MarkAsFailed(nil)
			} else {
				logger.Infof("ジョブ '%s': ステップ '%s' からの遷移が無いので、ジョブを完了します。", j.name, step.StepName())
				jobExecution.MarkAsCompleted()
			}
			return nil
		}

		switch {
		case transition.End:
			logger.Infof("ジョブ '%s': ステップ '%s' (%s) から 'end' 遷移です。ジョブを完了します。", j.name, step.StepName(), exitStatus)
			jobExecution.MarkAsCompleted()
			return nil
		case transition.Fail:
			logger.Errorf("ジョブ '%s': ステップ '%s' (%s) から 'fail' 遷移です。ジョブを失敗として終了します。", j.name, step.StepName(), exitStatus)
			jobExecution.MarkAsFailed(nil)
			return nil
		case transition.Stop:
			logger.Infof("ジョブ '%s': ステップ '%s' (%s) から 'stop' 遷移です。ジョブを停止します。", j.name, step.StepName(), exitStatus)
			jobExecution.MarkAsStopped()
			return nil
		}

		if stepExecution.Status == core.BatchStatusFailed {
			logger.Warnf("ジョブ '%s': ステップ '%s' は失敗しましたが、遷移に従って '%s' へ続行します。", j.name, step.StepName(), transition.To)
		}
		currentElementID = transition.To
	}
}

// resolveExitCode はジョブ全体の終了コードを決めます。
// 最後に実行したステップが終了コードを記録していればその値、無ければ状態から 0 か 1 を使います。
func (j *FlowJob) resolveExitCode(jobExecution *core.JobExecution, lastStep *core.StepExecution) {
	if lastStep != nil {
		if code, ok := lastStep.RecordedExitCode(); ok {
			jobExecution.ExitCode = code
			return
		}
	}
	if jobExecution.Status == core.BatchStatusCompleted {
		jobExecution.ExitCode = 0
	} else {
		jobExecution.ExitCode = 1
	}
}

// saveProgress は実行中の JobExecution を保存します。失敗してもフローは止めません。
func (j *FlowJob) saveProgress(ctx context.Context, jobExecution *core.JobExecution) {
	if err := j.jobRepository.UpdateJobExecution(context.WithoutCancel(ctx), jobExecution); err != nil {
		logger.Warnf("ジョブ '%s': JobExecution (ID: %s) の途中経過の保存に失敗しました: %v", j.name, jobExecution.ID, err)
	}
}

// String はログ用の表現を返します。
func (j *FlowJob) String() string {
	return fmt.Sprintf("FlowJob{id=%s, name=%s, start=%s}", j.id, j.name, j.flow.StartElement)
}

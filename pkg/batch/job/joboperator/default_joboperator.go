package joboperator

import (
	"context"
	"fmt"
	"time"

	core "sbatchjob/pkg/batch/job/core"
	joblauncher "sbatchjob/pkg/batch/job/joblauncher"
	job "sbatchjob/pkg/batch/repository/job"
	exception "sbatchjob/pkg/batch/util/exception"
	logger "sbatchjob/pkg/batch/util/logger"
)

const module = "job_operator"

// Launcher は JobOperator が使うランチャーです。joblauncher.SimpleJobLauncher が実装します。
type Launcher interface {
	joblauncher.JobLauncher
	GetCancelFunc(executionID string) (context.CancelFunc, bool)
}

// DefaultJobOperator は JobOperator インターフェースのデフォルト実装です。
type DefaultJobOperator struct {
	jobRepository job.JobRepository
	launcher      Launcher
}

var _ JobOperator = (*DefaultJobOperator)(nil)

// NewDefaultJobOperator は新しい DefaultJobOperator のインスタンスを作成します。
func NewDefaultJobOperator(jobRepository job.JobRepository, launcher Launcher) *DefaultJobOperator {
	return &DefaultJobOperator{jobRepository: jobRepository, launcher: launcher}
}

func (o *DefaultJobOperator) Start(ctx context.Context, jobName string, params core.JobParameters) (*core.JobExecution, error) {
	logger.Debugf("JobOperator: ジョブ '%s' を起動します。", jobName)
	return o.launcher.Launch(ctx, jobName, params)
}

func (o *DefaultJobOperator) Restart(ctx context.Context, executionID string) (*core.JobExecution, error) {
	logger.Infof("JobOperator: JobExecution (ID: %s) をリスタートします。", executionID)
	previous, err := o.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("再起動処理エラー: JobExecution (ID: %s) のロードに失敗しました", executionID), err, false, false)
	}

	// 同じ JobInstance により新しい実行があれば、古い実行からはリスタートしない
	latest, err := o.jobRepository.FindLatestJobExecution(ctx, previous.JobInstanceID)
	if err != nil {
		return nil, exception.NewBatchError(module, "再起動処理エラー: 最新の JobExecution の取得に失敗しました", err, false, false)
	}
	if latest != nil && latest.ID != previous.ID {
		return nil, exception.NewBatchErrorf(module, "JobExecution (ID: %s) より新しい実行 (ID: %s, %s) があります", previous.ID, latest.ID, latest.Status)
	}
	return o.launcher.Relaunch(ctx, previous)
}

// Stop は同じプロセスで実行中のジョブなら Context をキャンセルします。
// 別プロセスの実行 (終了していない記録) は STOPPED として記録し、リスタートできるようにします。
func (o *DefaultJobOperator) Stop(ctx context.Context, executionID string) error {
	jobExecution, err := o.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return exception.NewBatchError(module, fmt.Sprintf("停止処理エラー: JobExecution (ID: %s) のロードに失敗しました", executionID), err, false, false)
	}
	if jobExecution.Status.IsFinished() {
		return exception.NewBatchErrorf(module, "停止処理エラー: JobExecution (ID: %s) は既に終了状態です (%s)", executionID, jobExecution.Status)
	}

	if cancel, ok := o.launcher.GetCancelFunc(executionID); ok {
		logger.Infof("JobOperator: 実行中の JobExecution (ID: %s) をキャンセルします。", executionID)
		jobExecution.Status = core.BatchStatusStopping
		jobExecution.LastUpdated = time.Now()
		if err := o.jobRepository.UpdateJobExecution(ctx, jobExecution); err != nil {
			logger.Warnf("JobExecution (ID: %s) の STOPPING への更新に失敗しました: %v", executionID, err)
		}
		cancel()
		return nil
	}

	logger.Warnf("JobOperator: JobExecution (ID: %s) はこのプロセスで実行されていません。STOPPED として記録します。", executionID)
	jobExecution.MarkAsStopped()
	if err := o.jobRepository.UpdateJobExecution(ctx, jobExecution); err != nil {
		return exception.NewBatchError(module, fmt.Sprintf("停止処理エラー: JobExecution (ID: %s) の状態更新に失敗しました", executionID), err, false, false)
	}
	return nil
}

func (o *DefaultJobOperator) Abandon(ctx context.Context, executionID string) error {
	jobExecution, err := o.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return exception.NewBatchError(module, fmt.Sprintf("放棄処理エラー: JobExecution (ID: %s) のロードに失敗しました", executionID), err, false, false)
	}
	if jobExecution.Status == core.BatchStatusCompleted || jobExecution.Status == core.BatchStatusAbandoned {
		return exception.NewBatchErrorf(module, "放棄処理エラー: JobExecution (ID: %s) は %s なので放棄できません", executionID, jobExecution.Status)
	}
	if _, running := o.launcher.GetCancelFunc(executionID); running {
		return exception.NewBatchErrorf(module, "放棄処理エラー: JobExecution (ID: %s) は実行中です。先に停止してください", executionID)
	}

	now := time.Now()
	jobExecution.Status = core.BatchStatusAbandoned
	jobExecution.ExitStatus = core.ExitStatusAbandoned
	if jobExecution.EndTime.IsZero() {
		jobExecution.EndTime = now
	}
	jobExecution.LastUpdated = now
	if err := o.jobRepository.UpdateJobExecution(ctx, jobExecution); err != nil {
		return exception.NewBatchError(module, fmt.Sprintf("放棄処理エラー: JobExecution (ID: %s) の状態更新に失敗しました", executionID), err, false, false)
	}
	logger.Infof("JobExecution (ID: %s) を放棄しました。", executionID)
	return nil
}

func (o *DefaultJobOperator) GetJobExecution(ctx context.Context, executionID string) (*core.JobExecution, error) {
	jobExecution, err := o.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("JobExecution (ID: %s) の取得に失敗しました", executionID), err, false, false)
	}
	return jobExecution, nil
}

func (o *DefaultJobOperator) GetJobExecutions(ctx context.Context, instanceID string) ([]*core.JobExecution, error) {
	jobInstance, err := o.jobRepository.FindJobInstanceByID(ctx, instanceID)
	if err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("JobInstance (ID: %s) の取得に失敗しました", instanceID), err, false, false)
	}
	jobExecutions, err := o.jobRepository.FindJobExecutionsByJobInstance(ctx, jobInstance)
	if err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("JobInstance (ID: %s) に関連する JobExecution の取得に失敗しました", instanceID), err, false, false)
	}
	return jobExecutions, nil
}

// GetLastJobExecution は JobInstance の最新の JobExecution を返します。実行が無ければ nil です。
func (o *DefaultJobOperator) GetLastJobExecution(ctx context.Context, instanceID string) (*core.JobExecution, error) {
	jobExecution, err := o.jobRepository.FindLatestJobExecution(ctx, instanceID)
	if err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("JobInstance (ID: %s) の最新 JobExecution の取得に失敗しました", instanceID), err, false, false)
	}
	return jobExecution, nil
}

func (o *DefaultJobOperator) GetJobInstance(ctx context.Context, instanceID string) (*core.JobInstance, error) {
	jobInstance, err := o.jobRepository.FindJobInstanceByID(ctx, instanceID)
	if err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("JobInstance (ID: %s) の取得に失敗しました", instanceID), err, false, false)
	}
	return jobInstance, nil
}

// GetJobInstances はジョブ名とパラメータに一致する JobInstance を返します。
// パラメータのハッシュで一意に決まるため、結果は高々 1 件です。
func (o *DefaultJobOperator) GetJobInstances(ctx context.Context, jobName string, params core.JobParameters) ([]*core.JobInstance, error) {
	jobInstance, err := o.jobRepository.FindJobInstanceByJobNameAndParameters(ctx, jobName, params)
	if err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("JobInstance (JobName: %s) の検索に失敗しました", jobName), err, false, false)
	}
	if jobInstance == nil {
		return []*core.JobInstance{}, nil
	}
	return []*core.JobInstance{jobInstance}, nil
}

func (o *DefaultJobOperator) GetJobNames(ctx context.Context) ([]string, error) {
	jobNames, err := o.jobRepository.GetJobNames(ctx)
	if err != nil {
		return nil, exception.NewBatchError(module, "登録されているジョブ名の取得に失敗しました", err, false, false)
	}
	return jobNames, nil
}

func (o *DefaultJobOperator) GetParameters(ctx context.Context, executionID string) (core.JobParameters, error) {
	jobExecution, err := o.GetJobExecution(ctx, executionID)
	if err != nil {
		return core.NewJobParameters(), err
	}
	return jobExecution.Parameters, nil
}

func (o *DefaultJobOperator) GetRecentJobExecutions(ctx context.Context, jobName string, limit int) ([]*core.JobExecution, error) {
	jobExecutions, err := o.jobRepository.FindJobExecutionsByJobName(ctx, jobName, limit)
	if err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("ジョブ '%s' の実行履歴の取得に失敗しました", jobName), err, false, false)
	}
	return jobExecutions, nil
}

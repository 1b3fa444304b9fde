package joblauncher

import (
	"context"
	"fmt"
	"sync"

	core "sbatchjob/pkg/batch/job/core"
	job "sbatchjob/pkg/batch/repository/job"
	exception "sbatchjob/pkg/batch/util/exception"
	logger "sbatchjob/pkg/batch/util/logger"
)

const module = "job_launcher"

// SimpleJobLauncher は JobLauncher のシンプルな実装です。
// JobInstance と JobExecution のライフサイクルを JobRepository に記録しながら、ジョブを呼び出し元の goroutine で実行します。
type SimpleJobLauncher struct {
	jobRepository job.JobRepository
	jobProvider   JobProvider

	// 実行中のジョブのキャンセル関数
	activeJobCancellations map[string]context.CancelFunc
	mu                     sync.Mutex
}

var _ JobLauncher = (*SimpleJobLauncher)(nil)

// NewSimpleJobLauncher は新しい SimpleJobLauncher のインスタンスを作成します。
func NewSimpleJobLauncher(jobRepository job.JobRepository, jobProvider JobProvider) *SimpleJobLauncher {
	return &SimpleJobLauncher{
		jobRepository:          jobRepository,
		jobProvider:            jobProvider,
		activeJobCancellations: make(map[string]context.CancelFunc),
	}
}

// RegisterCancelFunc は実行中のジョブのキャンセル関数を登録します。
func (l *SimpleJobLauncher) RegisterCancelFunc(executionID string, cancelFunc context.CancelFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.activeJobCancellations[executionID] = cancelFunc
	logger.Debugf("JobExecution (ID: %s) の CancelFunc を登録しました。", executionID)
}

// UnregisterCancelFunc はキャンセル関数を呼び出してから登録解除します。
func (l *SimpleJobLauncher) UnregisterCancelFunc(executionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cancelFunc, ok := l.activeJobCancellations[executionID]; ok {
		cancelFunc()
		delete(l.activeJobCancellations, executionID)
		logger.Debugf("JobExecution (ID: %s) の CancelFunc を登録解除しました。", executionID)
	}
}

// GetCancelFunc は指定された JobExecution ID のキャンセル関数を取得します。
func (l *SimpleJobLauncher) GetCancelFunc(executionID string) (context.CancelFunc, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cancelFunc, ok := l.activeJobCancellations[executionID]
	return cancelFunc, ok
}

// Launch は指定された Job を起動します。
//
// インクリメンタがあれば先にパラメータへ適用し、ジョブ名とパラメータで JobInstance を探します。
// 既存の JobInstance の最新実行が FAILED か STOPPED ならリスタートし、
// COMPLETED や ABANDONED、実行中ならエラーを返します。
func (l *SimpleJobLauncher) Launch(ctx context.Context, jobName string, params core.JobParameters) (*core.JobExecution, error) {
	logger.Infof("JobLauncher を使用して Job '%s' を起動します。", jobName)

	batchJob, err := l.jobProvider.CreateJob(jobName)
	if err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("Job '%s' の作成に失敗しました", jobName), err, false, false)
	}

	if incrementer := l.jobProvider.GetJobParametersIncrementer(jobName); incrementer != nil {
		params = incrementer.GetNext(params)
		logger.Debugf("JobParametersIncrementer を適用しました: %+v", params.Params)
	}

	if err := batchJob.ValidateParameters(params); err != nil {
		return nil, exception.NewBatchError(module, "JobParameters のバリデーションエラー", err, false, false)
	}

	jobInstance, err := l.jobRepository.FindJobInstanceByJobNameAndParameters(ctx, jobName, params)
	if err != nil {
		return nil, exception.NewBatchError(module, "起動処理エラー: JobInstance の検索に失敗しました", err, false, false)
	}

	if jobInstance != nil {
		latest, err := l.jobRepository.FindLatestJobExecution(ctx, jobInstance.ID)
		if err != nil {
			return nil, exception.NewBatchError(module, "起動処理エラー: 最新の JobExecution の検索に失敗しました", err, false, false)
		}
		if latest != nil {
			logger.Infof("既存の JobInstance (ID: %s) の最新の実行 (ID: %s) は %s です。", jobInstance.ID, latest.ID, latest.Status)
			return l.Relaunch(ctx, latest)
		}
		logger.Infof("既存の JobInstance (ID: %s, JobName: %s) を使用します。", jobInstance.ID, jobInstance.JobName)
	} else {
		jobInstance = core.NewJobInstance(jobName, params)
		if err := l.jobRepository.SaveJobInstance(ctx, jobInstance); err != nil {
			return nil, exception.NewBatchError(module, "起動処理エラー: 新しい JobInstance の保存に失敗しました", err, false, false)
		}
		logger.Infof("新しい JobInstance (ID: %s, JobName: %s) を作成し保存しました。", jobInstance.ID, jobInstance.JobName)
	}

	jobExecution := core.NewJobExecution(jobInstance.ID, jobName, params)
	return l.run(ctx, batchJob, jobExecution)
}

// Relaunch は previous と同じ JobInstance に新しい JobExecution を作り、previous が最後に実行していたステップから再実行します。
// previous の ExecutionContext (解決済みの実行環境など) は引き継がれます。
func (l *SimpleJobLauncher) Relaunch(ctx context.Context, previous *core.JobExecution) (*core.JobExecution, error) {
	switch {
	case previous.Status == core.BatchStatusCompleted:
		return nil, exception.NewBatchErrorf(module, "JobInstance (ID: %s) は既に完了しています。新しいパラメータで起動してください", previous.JobInstanceID)
	case previous.Status == core.BatchStatusAbandoned:
		return nil, exception.NewBatchErrorf(module, "JobExecution (ID: %s) は放棄されているのでリスタートできません", previous.ID)
	case !previous.Status.IsFinished():
		return nil, exception.NewBatchErrorf(module, "JobExecution (ID: %s) はまだ実行中 (%s) です", previous.ID, previous.Status)
	case !previous.Status.IsRestartable():
		return nil, exception.NewBatchErrorf(module, "JobExecution (ID: %s) は %s なのでリスタートできません", previous.ID, previous.Status)
	}

	batchJob, err := l.jobProvider.CreateJob(previous.JobName)
	if err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("Job '%s' の作成に失敗しました", previous.JobName), err, false, false)
	}

	jobExecution := core.NewJobExecution(previous.JobInstanceID, previous.JobName, previous.Parameters.Copy())
	jobExecution.CurrentStepName = previous.CurrentStepName
	if previous.ExecutionContext != nil {
		jobExecution.ExecutionContext = previous.ExecutionContext.Copy()
	}
	logger.Infof("JobExecution (ID: %s) をステップ '%s' から新しい JobExecution (ID: %s) としてリスタートします。",
		previous.ID, previous.CurrentStepName, jobExecution.ID)
	return l.run(ctx, batchJob, jobExecution)
}

// run は JobExecution を保存してからジョブを同期実行し、最終状態を保存します。
func (l *SimpleJobLauncher) run(ctx context.Context, batchJob core.Job, jobExecution *core.JobExecution) (*core.JobExecution, error) {
	jobCtx, cancel := context.WithCancel(ctx)
	jobExecution.CancelFunc = cancel
	l.RegisterCancelFunc(jobExecution.ID, cancel)
	defer l.UnregisterCancelFunc(jobExecution.ID)

	if err := l.jobRepository.SaveJobExecution(jobCtx, jobExecution); err != nil {
		return jobExecution, exception.NewBatchError(module, "起動処理エラー: JobExecution の初期保存に失敗しました", err, false, false)
	}

	jobExecution.MarkAsStarted()
	if err := l.jobRepository.UpdateJobExecution(jobCtx, jobExecution); err != nil {
		logger.Errorf("JobExecution (ID: %s) の Started 状態への更新に失敗しました: %v", jobExecution.ID, err)
		jobExecution.AddFailureException(exception.NewBatchError(module, "JobExecution 状態更新エラー (Started)", err, false, false))
	}

	logger.Infof("Job '%s' (Execution ID: %s, Job Instance ID: %s) を実行します。", jobExecution.JobName, jobExecution.ID, jobExecution.JobInstanceID)
	runErr := batchJob.Run(jobCtx, jobExecution, jobExecution.Parameters)

	// キャンセルされていても最終状態は書き込む
	if updateErr := l.jobRepository.UpdateJobExecution(context.WithoutCancel(jobCtx), jobExecution); updateErr != nil {
		logger.Errorf("JobExecution (ID: %s) の最終状態の更新に失敗しました: %v", jobExecution.ID, updateErr)
		jobExecution.AddFailureException(exception.NewBatchError(module, "JobExecution 最終状態更新エラー", updateErr, false, false))
		if runErr == nil {
			runErr = exception.NewBatchError(module, "JobExecution 最終状態の永続化に失敗しました", updateErr, false, false)
		}
	} else {
		logger.Debugf("JobExecution (ID: %s) を JobRepository で最終状態 (%s) に更新しました。", jobExecution.ID, jobExecution.Status)
	}

	return jobExecution, runErr
}

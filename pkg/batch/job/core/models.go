package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobStatus はジョブ/ステップ実行の状態を表します。
type JobStatus string

const (
	BatchStatusStarting  JobStatus = "STARTING"
	BatchStatusStarted   JobStatus = "STARTED"
	BatchStatusStopping  JobStatus = "STOPPING"
	BatchStatusStopped   JobStatus = "STOPPED"
	BatchStatusCompleted JobStatus = "COMPLETED"
	BatchStatusFailed    JobStatus = "FAILED"
	BatchStatusAbandoned JobStatus = "ABANDONED"
	BatchStatusUnknown   JobStatus = "UNKNOWN"
)

// IsFinished は JobStatus が終了状態かどうかを判定します。
func (s JobStatus) IsFinished() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned:
		return true
	default:
		return false
	}
}

// IsRestartable は再実行できる状態かどうかを判定します。
func (s JobStatus) IsRestartable() bool {
	return s == BatchStatusFailed || s == BatchStatusStopped
}

// ToExitStatus は JobStatus を対応する ExitStatus に変換します。
func (s JobStatus) ToExitStatus() ExitStatus {
	switch s {
	case BatchStatusCompleted:
		return ExitStatusCompleted
	case BatchStatusFailed:
		return ExitStatusFailed
	case BatchStatusStopped:
		return ExitStatusStopped
	case BatchStatusAbandoned:
		return ExitStatusAbandoned
	default:
		return ExitStatusUnknown
	}
}

// ExitStatus はジョブ/ステップの終了時の詳細なステータスを表します。
// フローの遷移ルール (on) はこの値と照合されます。
type ExitStatus string

const (
	ExitStatusUnknown   ExitStatus = "UNKNOWN"
	ExitStatusExecuting ExitStatus = "EXECUTING"
	ExitStatusCompleted ExitStatus = "COMPLETED"
	ExitStatusFailed    ExitStatus = "FAILED"
	ExitStatusStopped   ExitStatus = "STOPPED"
	ExitStatusAbandoned ExitStatus = "ABANDONED"
	ExitStatusNoOp      ExitStatus = "NOOP"
)

// ExitCodeKey はステップが生成したプロセス終了コードを記録する StepExecution の ExecutionContext キーです。
const ExitCodeKey = "exit.code"

// JobInstance はジョブの論理的な実行単位を表す構造体です。
type JobInstance struct {
	ID             string
	JobName        string
	Parameters     JobParameters
	CreateTime     time.Time
	Version        int
	ParametersHash string
}

// NewJobInstance は新しい JobInstance を作成します。
// ParametersHash は永続化時に JobRepository が設定します。
func NewJobInstance(jobName string, params JobParameters) *JobInstance {
	return &JobInstance{
		ID:         uuid.New().String(),
		JobName:    jobName,
		Parameters: params,
		CreateTime: time.Now(),
		Version:    0,
	}
}

// JobExecution はジョブの単一の実行インスタンスを表す構造体です。
// ExitCode はジョブ全体のプロセス終了コードで、フローの最後に実行されたステップが記録した値になります。
type JobExecution struct {
	ID               string
	JobInstanceID    string
	JobName          string
	Parameters       JobParameters
	StartTime        time.Time
	EndTime          time.Time
	Status           JobStatus
	ExitStatus       ExitStatus
	ExitCode         int
	Failures         []error
	Version          int
	CreateTime       time.Time
	LastUpdated      time.Time
	StepExecutions   []*StepExecution
	ExecutionContext ExecutionContext
	CurrentStepName  string
	CancelFunc       context.CancelFunc
}

// NewJobExecution は新しい JobExecution を STARTING 状態で作成します。
func NewJobExecution(jobInstanceID, jobName string, params JobParameters) *JobExecution {
	now := time.Now()
	return &JobExecution{
		ID:               uuid.New().String(),
		JobInstanceID:    jobInstanceID,
		JobName:          jobName,
		Parameters:       params,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		CreateTime:       now,
		LastUpdated:      now,
		Failures:         make([]error, 0),
		StepExecutions:   make([]*StepExecution, 0),
		ExecutionContext: NewExecutionContext(),
	}
}

// MarkAsStarted は JobExecution の状態を実行中に更新します。
func (je *JobExecution) MarkAsStarted() {
	now := time.Now()
	je.StartTime = now
	je.Status = BatchStatusStarted
	je.ExitStatus = ExitStatusExecuting
	je.LastUpdated = now
}

// MarkAsCompleted は JobExecution の状態を完了に更新します。
func (je *JobExecution) MarkAsCompleted() {
	now := time.Now()
	je.Status = BatchStatusCompleted
	je.ExitStatus = ExitStatusCompleted
	je.EndTime = now
	je.LastUpdated = now
}

// MarkAsFailed は JobExecution の状態を失敗に更新し、エラー情報を追加します。
func (je *JobExecution) MarkAsFailed(err error) {
	now := time.Now()
	je.Status = BatchStatusFailed
	je.ExitStatus = ExitStatusFailed
	je.EndTime = now
	je.LastUpdated = now
	if err != nil {
		je.Failures = append(je.Failures, err)
	}
}

// MarkAsStopped は JobExecution の状態を停止に更新します。
func (je *JobExecution) MarkAsStopped() {
	now := time.Now()
	je.Status = BatchStatusStopped
	je.ExitStatus = ExitStatusStopped
	je.EndTime = now
	je.LastUpdated = now
}

// AddFailureException は JobExecution にエラー情報を追加します。
func (je *JobExecution) AddFailureException(err error) {
	if err != nil {
		je.Failures = append(je.Failures, err)
		je.LastUpdated = time.Now()
	}
}

// AddStepExecution は StepExecution を JobExecution に紐づけます。
func (je *JobExecution) AddStepExecution(se *StepExecution) {
	se.JobExecution = je
	je.StepExecutions = append(je.StepExecutions, se)
}

// StepExecution はステップの単一の実行インスタンスを表す構造体です。
type StepExecution struct {
	ID               string
	StepName         string
	JobExecution     *JobExecution // 所属するジョブ実行への参照
	StartTime        time.Time
	EndTime          time.Time
	Status           JobStatus
	ExitStatus       ExitStatus
	ExitCode         int
	Failures         []error
	ExecutionContext ExecutionContext
	LastUpdated      time.Time
	Version          int
}

// NewStepExecution は新しい StepExecution を STARTING 状態で作成します。
// JobExecution への追加は呼び出し側で AddStepExecution を使って行います。
func NewStepExecution(id string, jobExecution *JobExecution, stepName string) *StepExecution {
	now := time.Now()
	return &StepExecution{
		ID:               id,
		StepName:         stepName,
		JobExecution:     jobExecution,
		StartTime:        now,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		Failures:         make([]error, 0),
		ExecutionContext: NewExecutionContext(),
		LastUpdated:      now,
	}
}

// MarkAsStarted は StepExecution の状態を実行中に更新します。
func (se *StepExecution) MarkAsStarted() {
	now := time.Now()
	se.StartTime = now
	se.Status = BatchStatusStarted
	se.ExitStatus = ExitStatusExecuting
	se.LastUpdated = now
}

// MarkAsCompleted は StepExecution の状態を完了に更新します。
func (se *StepExecution) MarkAsCompleted() {
	now := time.Now()
	se.Status = BatchStatusCompleted
	se.ExitStatus = ExitStatusCompleted
	se.EndTime = now
	se.LastUpdated = now
}

// MarkAsFailed は StepExecution の状態を失敗に更新し、エラー情報を追加します。
func (se *StepExecution) MarkAsFailed(err error) {
	now := time.Now()
	se.Status = BatchStatusFailed
	se.ExitStatus = ExitStatusFailed
	se.EndTime = now
	se.LastUpdated = now
	if err != nil {
		se.Failures = append(se.Failures, err)
	}
}

// MarkAsStopped は StepExecution の状態を停止に更新します。
func (se *StepExecution) MarkAsStopped() {
	now := time.Now()
	se.Status = BatchStatusStopped
	se.ExitStatus = ExitStatusStopped
	se.EndTime = now
	se.LastUpdated = now
}

// AddFailureException は StepExecution にエラー情報を追加します。
func (se *StepExecution) AddFailureException(err error) {
	if err != nil {
		se.Failures = append(se.Failures, err)
		se.LastUpdated = time.Now()
	}
}

// RecordedExitCode はステップが ExecutionContext に記録したプロセス終了コードを返します。
func (se *StepExecution) RecordedExitCode() (int, bool) {
	return se.ExecutionContext.GetInt(ExitCodeKey)
}

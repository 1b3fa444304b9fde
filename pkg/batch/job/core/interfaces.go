package core

import (
	"context"
)

// FlowElement はフロー内の要素の共通インターフェースです。
type FlowElement interface {
	ID() string
}

// Job は実行可能なバッチジョブのインターフェースです。
type Job interface {
	Run(ctx context.Context, jobExecution *JobExecution, jobParameters JobParameters) error
	JobName() string
	GetFlow() *FlowDefinition
	ValidateParameters(params JobParameters) error
}

// Step はジョブ内で実行される単一のステップのインターフェースです。
type Step interface {
	Execute(ctx context.Context, jobExecution *JobExecution, stepExecution *StepExecution) error
	StepName() string
	ID() string
}

// Tasklet は単一の操作を実行するステップのインターフェースです。
type Tasklet interface {
	// Execute は Tasklet のビジネスロジックを実行します。
	// 返した ExitStatus はフローの遷移ルールと照合されます。
	Execute(ctx context.Context, stepExecution *StepExecution) (ExitStatus, error)
	// Close はリソースを解放します。
	Close(ctx context.Context) error
	// SetExecutionContext はリスタート時に前回の状態を復元します。
	SetExecutionContext(ctx context.Context, ec ExecutionContext) error
	// GetExecutionContext は Tasklet の状態を返します。
	GetExecutionContext(ctx context.Context) (ExecutionContext, error)
}

// StepExecutionListener はステップ実行イベントを処理するためのインターフェースです。
type StepExecutionListener interface {
	BeforeStep(ctx context.Context, stepExecution *StepExecution)
	AfterStep(ctx context.Context, stepExecution *StepExecution)
}

// JobExecutionListener はジョブ実行イベントを処理するためのインターフェースです。
type JobExecutionListener interface {
	BeforeJob(ctx context.Context, jobExecution *JobExecution)
	AfterJob(ctx context.Context, jobExecution *JobExecution)
}

// JobParametersIncrementer は JobParameters を自動的にインクリメントするためのインターフェースです。
type JobParametersIncrementer interface {
	GetNext(params JobParameters) JobParameters
}

package runner_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "sbatchjob/pkg/batch/job/core"
	runner "sbatchjob/pkg/batch/job/runner"
	memory "sbatchjob/pkg/batch/repository/memory"
)

// fakeStep は run で StepExecution の最終状態を決めるテスト用の core.Step です。
type fakeStep struct {
	id    string
	calls *[]string
	run   func(se *core.StepExecution)
}

func (s fakeStep) Execute(_ context.Context, _ *core.JobExecution, se *core.StepExecution) error {
	*s.calls = append(*s.calls, s.id)
	s.run(se)
	return nil
}

func (s fakeStep) StepName() string { return s.id }
func (s fakeStep) ID() string       { return s.id }

func completed(se *core.StepExecution) { se.MarkAsCompleted() }
func failed(se *core.StepExecution)    { se.MarkAsFailed(nil) }

func exitWith(code int) func(se *core.StepExecution) {
	return func(se *core.StepExecution) {
		se.ExecutionContext.Put(core.ExitCodeKey, code)
		if code == 0 {
			se.MarkAsCompleted()
			return
		}
		se.MarkAsFailed(nil)
	}
}

type recordingListener struct {
	before, after int
	lastCode      int
}

func (l *recordingListener) BeforeJob(context.Context, *core.JobExecution) { l.before++ }
func (l *recordingListener) AfterJob(_ context.Context, je *core.JobExecution) {
	l.after++
	l.lastCode = je.ExitCode
}

// mialabFlow は activate -> version -> invoke の 3 ステップのフローを作ります。
// continueOnActivationFailure が false なら activate の失敗でジョブを終了します。
func mialabFlow(calls *[]string, activate, version, invoke func(*core.StepExecution), continueOnActivationFailure bool) *core.FlowDefinition {
	flow := core.NewFlowDefinition("activate")
	_ = flow.AddElement("activate", fakeStep{id: "activate", calls: calls, run: activate})
	_ = flow.AddElement("version", fakeStep{id: "version", calls: calls, run: version})
	_ = flow.AddElement("invoke", fakeStep{id: "invoke", calls: calls, run: invoke})
	if !continueOnActivationFailure {
		flow.AddTransitionRule("activate", string(core.ExitStatusFailed), "", false, true, false)
	}
	flow.AddTransitionRule("activate", "*", "version", false, false, false)
	flow.AddTransitionRule("version", "*", "invoke", false, false, false)
	flow.AddTransitionRule("invoke", string(core.ExitStatusCompleted), "", true, false, false)
	flow.AddTransitionRule("invoke", string(core.ExitStatusFailed), "", false, true, false)
	return flow
}

func newJobExecution(t *testing.T, repo *memory.InMemoryJobRepository) *core.JobExecution {
	t.Helper()
	je := core.NewJobExecution("instance-1", "mialab", core.NewJobParameters())
	require.NoError(t, repo.SaveJobExecution(context.Background(), je))
	je.MarkAsStarted()
	return je
}

func TestFlowJob_ExitCodeFollowsProgram(t *testing.T) {
	tests := []struct {
		name       string
		activate   func(*core.StepExecution)
		invoke     func(*core.StepExecution)
		continueOn bool
		wantStatus core.JobStatus
		wantCode   int
		wantCalls  []string
	}{
		{
			name: "program succeeds", activate: completed, invoke: exitWith(0),
			wantStatus: core.BatchStatusCompleted, wantCode: 0, wantCalls: []string{"activate", "version", "invoke"},
		},
		{
			name: "program exits 3", activate: completed, invoke: exitWith(3),
			wantStatus: core.BatchStatusFailed, wantCode: 3, wantCalls: []string{"activate", "version", "invoke"},
		},
		{
			name: "activation failure aborts", activate: failed, invoke: exitWith(0),
			wantStatus: core.BatchStatusFailed, wantCode: 1, wantCalls: []string{"activate"},
		},
		{
			name: "activation failure continues", activate: failed, invoke: exitWith(0), continueOn: true,
			wantStatus: core.BatchStatusCompleted, wantCode: 0, wantCalls: []string{"activate", "version", "invoke"},
		},
		{
			name: "activation failure continues and program fails", activate: failed, invoke: exitWith(127), continueOn: true,
			wantStatus: core.BatchStatusFailed, wantCode: 127, wantCalls: []string{"activate", "version", "invoke"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := memory.NewInMemoryJobRepository()
			je := newJobExecution(t, repo)
			var calls []string
			listener := &recordingListener{}
			job := runner.NewFlowJob("mialabJob", "mialab", mialabFlow(&calls, tt.activate, completed, tt.invoke, tt.continueOn), repo,
				[]core.JobExecutionListener{listener})

			require.NoError(t, job.Run(context.Background(), je, je.Parameters))
			assert.Equal(t, tt.wantStatus, je.Status)
			assert.Equal(t, tt.wantCode, je.ExitCode)
			assert.Equal(t, tt.wantCalls, calls)
			assert.Len(t, je.StepExecutions, len(tt.wantCalls))
			assert.Equal(t, 1, listener.before)
			assert.Equal(t, 1, listener.after)
			assert.Equal(t, tt.wantCode, listener.lastCode)

			steps, err := repo.FindStepExecutionsByJobExecutionID(context.Background(), je.ID)
			require.NoError(t, err)
			assert.Len(t, steps, len(tt.wantCalls))
		})
	}
}

func TestFlowJob_RestartsFromCurrentStep(t *testing.T) {
	repo := memory.NewInMemoryJobRepository()
	je := newJobExecution(t, repo)
	je.CurrentStepName = "invoke"
	var calls []string

	job := runner.NewFlowJob("mialabJob", "mialab", mialabFlow(&calls, completed, completed, exitWith(0), false), repo, nil)
	require.NoError(t, job.Run(context.Background(), je, je.Parameters))

	assert.Equal(t, []string{"invoke"}, calls)
	assert.Equal(t, core.BatchStatusCompleted, je.Status)
}

func TestFlowJob_CancelledBeforeStart(t *testing.T) {
	repo := memory.NewInMemoryJobRepository()
	je := newJobExecution(t, repo)
	var calls []string
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := runner.NewFlowJob("mialabJob", "mialab", mialabFlow(&calls, completed, completed, exitWith(0), false), repo, nil)
	err := job.Run(ctx, je, je.Parameters)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, core.BatchStatusStopped, je.Status)
	assert.Equal(t, 1, je.ExitCode)
	assert.Empty(t, calls)
}

func TestFlowJob_UnknownElement(t *testing.T) {
	repo := memory.NewInMemoryJobRepository()
	je := newJobExecution(t, repo)
	var calls []string
	flow := core.NewFlowDefinition("activate")
	_ = flow.AddElement("activate", fakeStep{id: "activate", calls: &calls, run: completed})
	flow.AddTransitionRule("activate", "*", "missing", false, false, false)

	err := runner.NewFlowJob("mialabJob", "mialab", flow, repo, nil).Run(context.Background(), je, je.Parameters)
	assert.ErrorContains(t, err, "missing")
	assert.Equal(t, core.BatchStatusFailed, je.Status)
}

func TestFlowJob_ValidateParameters(t *testing.T) {
	job := runner.NewFlowJob("mialabJob", "mialab", core.NewFlowDefinition("a"), memory.NewInMemoryJobRepository(), nil)
	assert.NoError(t, job.ValidateParameters(core.NewJobParameters()))

	job.WithParametersValidator(func(p core.JobParameters) error {
		if _, ok := p.GetString("working.dir"); !ok {
			return assert.AnError
		}
		return nil
	})
	assert.ErrorIs(t, job.ValidateParameters(core.NewJobParameters()), assert.AnError)
}

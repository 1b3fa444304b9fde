package joboperator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	core "sbatchjob/pkg/batch/job/core"
	joboperator "sbatchjob/pkg/batch/job/joboperator"
	memory "sbatchjob/pkg/batch/repository/memory"
)

type mockLauncher struct {
	mock.Mock
}

func (m *mockLauncher) Launch(ctx context.Context, jobName string, params core.JobParameters) (*core.JobExecution, error) {
	args := m.Called(ctx, jobName, params)
	je, _ := args.Get(0).(*core.JobExecution)
	return je, args.Error(1)
}

func (m *mockLauncher) Relaunch(ctx context.Context, previous *core.JobExecution) (*core.JobExecution, error) {
	args := m.Called(ctx, previous)
	je, _ := args.Get(0).(*core.JobExecution)
	return je, args.Error(1)
}

func (m *mockLauncher) GetCancelFunc(executionID string) (context.CancelFunc, bool) {
	args := m.Called(executionID)
	cancel, _ := args.Get(0).(context.CancelFunc)
	return cancel, args.Bool(1)
}

// seed は JobInstance と指定した状態の JobExecution を保存します。
func seed(t *testing.T, repo *memory.InMemoryJobRepository, status core.JobStatus) *core.JobExecution {
	t.Helper()
	ctx := context.Background()
	params := core.NewJobParameters()
	params.Put("working.dir", "/w")
	instance := core.NewJobInstance("mialab", params)
	require.NoError(t, repo.SaveJobInstance(ctx, instance))
	je := core.NewJobExecution(instance.ID, "mialab", params)
	je.Status = status
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	return je
}

func TestStart_DelegatesToLauncher(t *testing.T) {
	repo := memory.NewInMemoryJobRepository()
	launcher := new(mockLauncher)
	params := core.NewJobParameters()
	want := core.NewJobExecution("i", "mialab", params)
	launcher.On("Launch", mock.Anything, "mialab", params).Return(want, nil)

	got, err := joboperator.NewDefaultJobOperator(repo, launcher).Start(context.Background(), "mialab", params)
	require.NoError(t, err)
	assert.Same(t, want, got)
	launcher.AssertExpectations(t)
}

func TestRestart(t *testing.T) {
	ctx := context.Background()

	t.Run("latest failed execution", func(t *testing.T) {
		repo := memory.NewInMemoryJobRepository()
		failed := seed(t, repo, core.BatchStatusFailed)
		launcher := new(mockLauncher)
		launcher.On("Relaunch", mock.Anything, mock.MatchedBy(func(je *core.JobExecution) bool {
			return je.ID == failed.ID
		})).Return(core.NewJobExecution(failed.JobInstanceID, "mialab", failed.Parameters), nil)

		_, err := joboperator.NewDefaultJobOperator(repo, launcher).Restart(ctx, failed.ID)
		require.NoError(t, err)
		launcher.AssertExpectations(t)
	})

	t.Run("older execution is rejected", func(t *testing.T) {
		repo := memory.NewInMemoryJobRepository()
		old := seed(t, repo, core.BatchStatusFailed)
		newer := core.NewJobExecution(old.JobInstanceID, "mialab", old.Parameters)
		newer.Status = core.BatchStatusFailed
		require.NoError(t, repo.SaveJobExecution(ctx, newer))

		launcher := new(mockLauncher)
		_, err := joboperator.NewDefaultJobOperator(repo, launcher).Restart(ctx, old.ID)
		assert.ErrorContains(t, err, newer.ID)
		launcher.AssertNotCalled(t, "Relaunch", mock.Anything, mock.Anything)
	})

	t.Run("unknown execution", func(t *testing.T) {
		_, err := joboperator.NewDefaultJobOperator(memory.NewInMemoryJobRepository(), new(mockLauncher)).Restart(ctx, "missing")
		assert.ErrorContains(t, err, "missing")
	})
}

func TestStop(t *testing.T) {
	ctx := context.Background()

	t.Run("running in this process", func(t *testing.T) {
		repo := memory.NewInMemoryJobRepository()
		je := seed(t, repo, core.BatchStatusStarted)
		cancelled := false
		launcher := new(mockLauncher)
		launcher.On("GetCancelFunc", je.ID).Return(context.CancelFunc(func() { cancelled = true }), true)

		require.NoError(t, joboperator.NewDefaultJobOperator(repo, launcher).Stop(ctx, je.ID))
		assert.True(t, cancelled)
		stored, err := repo.FindJobExecutionByID(ctx, je.ID)
		require.NoError(t, err)
		assert.Equal(t, core.BatchStatusStopping, stored.Status)
	})

	t.Run("stale record becomes restartable", func(t *testing.T) {
		repo := memory.NewInMemoryJobRepository()
		je := seed(t, repo, core.BatchStatusStarted)
		launcher := new(mockLauncher)
		launcher.On("GetCancelFunc", je.ID).Return(nil, false)

		require.NoError(t, joboperator.NewDefaultJobOperator(repo, launcher).Stop(ctx, je.ID))
		stored, err := repo.FindJobExecutionByID(ctx, je.ID)
		require.NoError(t, err)
		assert.Equal(t, core.BatchStatusStopped, stored.Status)
		assert.True(t, stored.Status.IsRestartable())
	})

	t.Run("finished execution", func(t *testing.T) {
		repo := memory.NewInMemoryJobRepository()
		je := seed(t, repo, core.BatchStatusCompleted)
		err := joboperator.NewDefaultJobOperator(repo, new(mockLauncher)).Stop(ctx, je.ID)
		assert.ErrorContains(t, err, "既に終了")
	})
}

func TestAbandon(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		status  core.JobStatus
		running bool
		wantErr string
	}{
		{name: "failed", status: core.BatchStatusFailed},
		{name: "stopped", status: core.BatchStatusStopped},
		{name: "stale started", status: core.BatchStatusStarted},
		{name: "completed", status: core.BatchStatusCompleted, wantErr: "放棄できません"},
		{name: "running", status: core.BatchStatusStarted, running: true, wantErr: "実行中"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := memory.NewInMemoryJobRepository()
			je := seed(t, repo, tt.status)
			launcher := new(mockLauncher)
			launcher.On("GetCancelFunc", je.ID).Return(nil, tt.running)

			err := joboperator.NewDefaultJobOperator(repo, launcher).Abandon(ctx, je.ID)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			stored, err := repo.FindJobExecutionByID(ctx, je.ID)
			require.NoError(t, err)
			assert.Equal(t, core.BatchStatusAbandoned, stored.Status)
			assert.Equal(t, core.ExitStatusAbandoned, stored.ExitStatus)
			assert.False(t, stored.EndTime.IsZero())
		})
	}
}

func TestGetters(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewInMemoryJobRepository()
	je := seed(t, repo, core.BatchStatusFailed)
	operator := joboperator.NewDefaultJobOperator(repo, new(mockLauncher))

	names, err := operator.GetJobNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"mialab"}, names)

	instances, err := operator.GetJobInstances(ctx, "mialab", je.Parameters)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, je.JobInstanceID, instances[0].ID)

	last, err := operator.GetLastJobExecution(ctx, je.JobInstanceID)
	require.NoError(t, err)
	assert.Equal(t, je.ID, last.ID)

	executions, err := operator.GetJobExecutions(ctx, je.JobInstanceID)
	require.NoError(t, err)
	assert.Len(t, executions, 1)

	recent, err := operator.GetRecentJobExecutions(ctx, "mialab", 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	params, err := operator.GetParameters(ctx, je.ID)
	require.NoError(t, err)
	dir, _ := params.GetString("working.dir")
	assert.Equal(t, "/w", dir)

	none, err := operator.GetJobInstances(ctx, "other", core.NewJobParameters())
	require.NoError(t, err)
	assert.Empty(t, none)
}

package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "sbatchjob/pkg/batch/job/core"
	memory "sbatchjob/pkg/batch/repository/memory"
)

func TestInMemoryJobRepository_InstanceLookup(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewInMemoryJobRepository()

	params := core.NewJobParameters()
	params.Put("working.dir", "/scratch/mialab")
	ji := core.NewJobInstance("mialab", params)
	require.NoError(t, repo.SaveJobInstance(ctx, ji))
	assert.NotEmpty(t, ji.ParametersHash)

	same := core.NewJobParameters()
	same.Put("working.dir", "/scratch/mialab")
	found, err := repo.FindJobInstanceByJobNameAndParameters(ctx, "mialab", same)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, ji.ID, found.ID)

	other := core.NewJobParameters()
	other.Put("working.dir", "/scratch/other")
	found, err = repo.FindJobInstanceByJobNameAndParameters(ctx, "mialab", other)
	require.NoError(t, err)
	assert.Nil(t, found)

	count, err := repo.GetJobInstanceCount(ctx, "mialab")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	names, err := repo.GetJobNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"mialab"}, names)
}

func TestInMemoryJobRepository_ExecutionsAndSteps(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewInMemoryJobRepository()

	je := core.NewJobExecution("instance-1", "mialab", core.NewJobParameters())
	require.NoError(t, repo.SaveJobExecution(ctx, je))

	se := core.NewStepExecution("step-1", je, "invokeProgram")
	je.AddStepExecution(se)
	require.NoError(t, repo.SaveStepExecution(ctx, se))

	se.ExecutionContext.Put(core.ExitCodeKey, 3)
	se.MarkAsFailed(nil)
	require.NoError(t, repo.UpdateStepExecution(ctx, se))

	je.ExitCode = 3
	je.MarkAsFailed(nil)
	require.NoError(t, repo.UpdateJobExecution(ctx, je))
	assert.Equal(t, 1, je.Version)

	loaded, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, core.BatchStatusFailed, loaded.Status)
	assert.Equal(t, 3, loaded.ExitCode)
	require.Len(t, loaded.StepExecutions, 1)
	code, ok := loaded.StepExecutions[0].RecordedExitCode()
	require.True(t, ok)
	assert.Equal(t, 3, code)

	// 取得結果を書き換えても保存済みの値は変わらない
	loaded.StepExecutions[0].ExecutionContext.Put(core.ExitCodeKey, 0)
	again, err := repo.FindStepExecutionByID(ctx, "step-1")
	require.NoError(t, err)
	code, _ = again.RecordedExitCode()
	assert.Equal(t, 3, code)
	assert.Equal(t, je.ID, again.JobExecution.ID)
}

func TestInMemoryJobRepository_StaleVersion(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewInMemoryJobRepository()

	je := core.NewJobExecution("instance-1", "mialab", core.NewJobParameters())
	require.NoError(t, repo.SaveJobExecution(ctx, je))

	stale, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)

	require.NoError(t, repo.UpdateJobExecution(ctx, je))
	assert.Error(t, repo.UpdateJobExecution(ctx, stale))
}

func TestInMemoryJobRepository_LatestAndByName(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewInMemoryJobRepository()

	first := core.NewJobExecution("instance-1", "mialab", core.NewJobParameters())
	second := core.NewJobExecution("instance-1", "mialab", core.NewJobParameters())
	second.CreateTime = first.CreateTime.Add(time.Second)
	require.NoError(t, repo.SaveJobExecution(ctx, first))
	require.NoError(t, repo.SaveJobExecution(ctx, second))

	latest, err := repo.FindLatestJobExecution(ctx, "instance-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	none, err := repo.FindLatestJobExecution(ctx, "instance-x")
	require.NoError(t, err)
	assert.Nil(t, none)

	list, err := repo.FindJobExecutionsByJobName(ctx, "mialab", 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, second.ID, list[0].ID)

	all, err := repo.FindJobExecutionsByJobInstance(ctx, &core.JobInstance{ID: "instance-1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

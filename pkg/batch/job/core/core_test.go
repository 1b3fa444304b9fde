package core_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "sbatchjob/pkg/batch/job/core"
)

func TestExecutionContext_GetInt(t *testing.T) {
	ec := core.NewExecutionContext()
	ec.Put("int", 3)
	ec.Put("json", float64(127))
	ec.Put("fraction", 1.5)
	ec.Put("text", "12")
	ec.Put("word", "abc")

	tests := []struct {
		key    string
		want   int
		wantOK bool
	}{
		{key: "int", want: 3, wantOK: true},
		{key: "json", want: 127, wantOK: true},
		{key: "fraction", wantOK: false},
		{key: "text", want: 12, wantOK: true},
		{key: "word", wantOK: false},
		{key: "missing", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := ec.GetInt(tt.key)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestExecutionContext_Nested(t *testing.T) {
	ec := core.NewExecutionContext()
	ec.PutNested("runtime.environment.prefix", "/opt/conda/envs/mialab")

	v, ok := ec.GetNested("runtime.environment.prefix")
	require.True(t, ok)
	assert.Equal(t, "/opt/conda/envs/mialab", v)

	_, ok = ec.GetNested("runtime.missing")
	assert.False(t, ok)

	ec.Put("flat.key", "value")
	v, ok = ec.GetNested("flat.key")
	require.True(t, ok)
	assert.Equal(t, "value", v)
}

func TestExecutionContext_CopyIsIndependent(t *testing.T) {
	ec := core.NewExecutionContext()
	ec.Put("a", 1)
	cp := ec.Copy()
	cp.Put("a", 2)

	got, _ := ec.GetInt("a")
	assert.Equal(t, 1, got)
}

func TestJobParameters(t *testing.T) {
	p := core.NewJobParameters()
	p.Put("working.dir", "/home/user/project")
	p.Put("run.id", 2)

	dir, ok := p.GetString("working.dir")
	require.True(t, ok)
	assert.Equal(t, "/home/user/project", dir)

	cp := p.Copy()
	assert.True(t, p.Equal(cp))
	cp.Put("run.id", 3)
	assert.False(t, p.Equal(cp))
}

func TestJobExecutionLifecycle(t *testing.T) {
	je := core.NewJobExecution("instance-1", "mialab", core.NewJobParameters())
	assert.Equal(t, core.BatchStatusStarting, je.Status)

	je.MarkAsStarted()
	assert.Equal(t, core.BatchStatusStarted, je.Status)
	assert.False(t, je.StartTime.IsZero())

	je.MarkAsFailed(errors.New("activation failed"))
	assert.Equal(t, core.BatchStatusFailed, je.Status)
	assert.Equal(t, core.ExitStatusFailed, je.ExitStatus)
	assert.Len(t, je.Failures, 1)
	assert.True(t, je.Status.IsFinished())
	assert.True(t, je.Status.IsRestartable())
}

func TestStepExecution_RecordedExitCode(t *testing.T) {
	je := core.NewJobExecution("instance-1", "mialab", core.NewJobParameters())
	se := core.NewStepExecution("step-1", je, "invokeProgram")
	je.AddStepExecution(se)

	_, ok := se.RecordedExitCode()
	assert.False(t, ok)

	se.ExecutionContext.Put(core.ExitCodeKey, 42)
	code, ok := se.RecordedExitCode()
	require.True(t, ok)
	assert.Equal(t, 42, code)
	assert.Same(t, je, se.JobExecution)
}

func TestFlowDefinition_GetTransitionRule(t *testing.T) {
	flow := core.NewFlowDefinition("activateEnvironment")
	flow.AddTransitionRule("activateEnvironment", "*", "printRuntimeVersion", false, false, false)
	flow.AddTransitionRule("activateEnvironment", "FAILED", "", false, true, false)

	tr, ok := flow.GetTransitionRule("activateEnvironment", core.ExitStatusFailed)
	require.True(t, ok)
	assert.True(t, tr.Fail, "exact match wins over wildcard")

	tr, ok = flow.GetTransitionRule("activateEnvironment", core.ExitStatusCompleted)
	require.True(t, ok)
	assert.Equal(t, "printRuntimeVersion", tr.To)

	_, ok = flow.GetTransitionRule("invokeProgram", core.ExitStatusCompleted)
	assert.False(t, ok)
}

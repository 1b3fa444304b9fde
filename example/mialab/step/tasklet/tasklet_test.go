package tasklet_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tasklet "sbatchjob/example/mialab/step/tasklet"
	core "sbatchjob/pkg/batch/job/core"
	runtimeenv "sbatchjob/pkg/batch/runtimeenv"
)

// fakeRunner は起動したコマンドを記録し、決められた終了コードを返します。
type fakeRunner struct {
	commands []runtimeenv.Command
	code     int
	output   string
}

func (r *fakeRunner) Run(_ context.Context, cmd runtimeenv.Command) (int, error) {
	r.commands = append(r.commands, cmd)
	if cmd.Stdout != nil {
		_, _ = io.WriteString(cmd.Stdout, r.output)
	}
	return r.code, nil
}

// envWithPython は bin/python を持つ環境を作ります。
func envWithPython(t *testing.T) (runtimeenv.Environment, string) {
	t.Helper()
	prefix := t.TempDir()
	bin := filepath.Join(prefix, "bin")
	require.NoError(t, os.Mkdir(bin, 0o755))
	python := filepath.Join(bin, "python")
	require.NoError(t, os.WriteFile(python, []byte("#!/bin/sh\n"), 0o755))
	env := runtimeenv.Environment{Name: "mialab", Kind: runtimeenv.KindPrefix, Prefix: prefix, Vars: map[string]string{"PATH": bin}}
	return env, python
}

// stepFor は working.dir と (あれば) アクティベート済みの環境を持つ StepExecution を作ります。
func stepFor(workingDir string, env *runtimeenv.Environment) *core.StepExecution {
	params := core.NewJobParameters()
	params.Put(tasklet.WorkingDirKey, workingDir)
	je := core.NewJobExecution("instance-1", "mialab", params)
	if env != nil {
		je.ExecutionContext.PutNested(runtimeenv.ContextKey, *env)
	}
	se := core.NewStepExecution("step-1", je, "invokeProgram")
	je.AddStepExecution(se)
	return se
}

func TestInvokeProgram_ArgumentIsWorkingDirPlusScript(t *testing.T) {
	env, python := envWithPython(t)
	tests := []struct {
		workingDir string
		want       string
	}{
		{workingDir: "/home/user/project", want: "/home/user/project/bin/main.py"},
		{workingDir: "/home/user/my project", want: "/home/user/my project/bin/main.py"},
		{workingDir: "/scratch/run/", want: "/scratch/run//bin/main.py"},
		{workingDir: "/data/../x", want: "/data/../x/bin/main.py"},
	}
	for _, tt := range tests {
		t.Run(tt.workingDir, func(t *testing.T) {
			runner := &fakeRunner{}
			tk := tasklet.NewInvokeProgramTasklet(nil, runner, runtimeenv.Environment{}, tasklet.Streams{Stdout: io.Discard, Stderr: io.Discard})
			se := stepFor(tt.workingDir, &env)

			status, err := tk.Execute(context.Background(), se)
			require.NoError(t, err)
			assert.Equal(t, core.ExitStatusCompleted, status)
			require.Len(t, runner.commands, 1)
			assert.Equal(t, python, runner.commands[0].Path)
			assert.Equal(t, []string{tt.want}, runner.commands[0].Args)
			assert.Contains(t, runner.commands[0].Env, "PATH="+filepath.Join(env.Prefix, "bin"))
		})
	}
}

func TestInvokeProgram_RecordsExitCode(t *testing.T) {
	env, _ := envWithPython(t)
	runner := &fakeRunner{code: 3}
	tk := tasklet.NewInvokeProgramTasklet(map[string]string{"script": "/bin/main.py"}, runner, runtimeenv.Environment{}, tasklet.Streams{})
	se := stepFor("/w", &env)

	status, err := tk.Execute(context.Background(), se)
	require.NoError(t, err)
	assert.Equal(t, core.ExitStatusFailed, status)
	code, ok := se.RecordedExitCode()
	require.True(t, ok)
	assert.Equal(t, 3, code)
}

func TestInvokeProgram_CommandNotFound(t *testing.T) {
	runner := &fakeRunner{}
	stale := runtimeenv.Environment{Vars: map[string]string{"PATH": t.TempDir()}}
	tk := tasklet.NewInvokeProgramTasklet(nil, runner, stale, tasklet.Streams{})
	se := stepFor("/w", nil)

	status, err := tk.Execute(context.Background(), se)
	assert.Equal(t, core.ExitStatusFailed, status)
	assert.ErrorIs(t, err, runtimeenv.ErrCommandNotFound)
	code, _ := se.RecordedExitCode()
	assert.Equal(t, runtimeenv.ExitCodeNotFound, code)
	assert.Empty(t, runner.commands)
}

func TestInvokeProgram_RequiresWorkingDir(t *testing.T) {
	tk := tasklet.NewInvokeProgramTasklet(nil, &fakeRunner{}, runtimeenv.Environment{}, tasklet.Streams{})
	je := core.NewJobExecution("instance-1", "mialab", core.NewJobParameters())
	se := core.NewStepExecution("step-1", je, "invokeProgram")

	_, err := tk.Execute(context.Background(), se)
	assert.ErrorContains(t, err, tasklet.WorkingDirKey)
}

func TestRuntimeVersion_PrintsToStdout(t *testing.T) {
	env, python := envWithPython(t)
	runner := &fakeRunner{output: "Python 3.11.4\n"}
	var stdout bytes.Buffer
	tk := tasklet.NewRuntimeVersionTasklet(nil, runner, runtimeenv.Environment{}, tasklet.Streams{Stdout: &stdout, Stderr: io.Discard})

	status, err := tk.Execute(context.Background(), stepFor("/w", &env))
	require.NoError(t, err)
	assert.Equal(t, core.ExitStatusCompleted, status)
	assert.Equal(t, "Python 3.11.4\n", stdout.String())
	require.Len(t, runner.commands, 1)
	assert.Equal(t, python, runner.commands[0].Path)
	assert.Equal(t, []string{"--version"}, runner.commands[0].Args)
}

func TestActivateEnvironment(t *testing.T) {
	t.Run("venv is stored in the step context", func(t *testing.T) {
		prefix := t.TempDir()
		tk, err := tasklet.NewActivateEnvironmentTasklet(map[string]string{"kind": "venv", "prefix": prefix}, &fakeRunner{}, runtimeenv.Environment{Vars: map[string]string{"PATH": "/usr/bin"}})
		require.NoError(t, err)
		se := stepFor("/w", nil)

		status, err := tk.Execute(context.Background(), se)
		require.NoError(t, err)
		assert.Equal(t, core.ExitStatusCompleted, status)
		v, ok := se.ExecutionContext.Get(runtimeenv.ContextKey)
		require.True(t, ok)
		env, ok := runtimeenv.FromContextValue(v)
		require.True(t, ok)
		assert.Equal(t, prefix, env.Vars["VIRTUAL_ENV"])
	})

	t.Run("missing environment fails the step", func(t *testing.T) {
		tk, err := tasklet.NewActivateEnvironmentTasklet(map[string]string{"kind": "prefix", "prefix": filepath.Join(t.TempDir(), "missing")}, &fakeRunner{}, runtimeenv.Environment{})
		require.NoError(t, err)
		se := stepFor("/w", nil)

		status, err := tk.Execute(context.Background(), se)
		assert.Equal(t, core.ExitStatusFailed, status)
		assert.ErrorIs(t, err, runtimeenv.ErrEnvironmentNotFound)
		code, ok := se.RecordedExitCode()
		require.True(t, ok)
		assert.NotZero(t, code)
		_, stored := se.ExecutionContext.Get(runtimeenv.ContextKey)
		assert.False(t, stored)
	})

	t.Run("defaults to conda mialab", func(t *testing.T) {
		tk, err := tasklet.NewActivateEnvironmentTasklet(nil, &fakeRunner{}, runtimeenv.Environment{})
		require.NoError(t, err)
		assert.Equal(t, runtimeenv.Spec{Kind: runtimeenv.KindConda, Name: "mialab"}, tk.Spec())
	})

	t.Run("invalid properties", func(t *testing.T) {
		_, err := tasklet.NewActivateEnvironmentTasklet(map[string]string{"kind": "venv"}, &fakeRunner{}, runtimeenv.Environment{})
		assert.ErrorContains(t, err, "prefix")
		_, err = tasklet.NewActivateEnvironmentTasklet(map[string]string{"kind": "docker"}, &fakeRunner{}, runtimeenv.Environment{})
		assert.ErrorContains(t, err, "unknown kind")
	})
}
